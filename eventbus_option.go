package dragonscale

import "github.com/ZanzyTHEbar/dragonscale-intents/internal/eventbus"

// WithEventBus sets the event bus component. A bus supplied this way is not
// closed by Engine.Close.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) {
		e.eventBus = bus
	}
}
