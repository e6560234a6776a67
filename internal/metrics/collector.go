// Package metrics turns event-bus events into Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/eventbus"
)

const namespace = "dragonscale"

// Collector subscribes to an event bus and records what it sees.
type Collector struct {
	events         *prometheus.CounterVec
	intents        *prometheus.CounterVec
	intentDuration *prometheus.HistogramVec
	inferenceCalls *prometheus.CounterVec
	inferenceTime  *prometheus.HistogramVec
	slotFailures   *prometheus.CounterVec
	interactions   prometheus.Counter
	sessions       *prometheus.CounterVec
	iterations     prometheus.Counter

	subscriptionID string
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published on the event bus.",
		}, []string{"type"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Intent executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		intentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "intent_duration_seconds",
			Help:      "Duration of successful tool executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		inferenceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_calls_total",
			Help:      "Inference adapter calls by kind and status.",
		}, []string{"kind", "status"}),
		inferenceTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Inference adapter latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"kind"}),
		slotFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_failures_total",
			Help:      "Slot-local resolution failures by error code.",
		}, []string{"code"}),
		interactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Questions asked on the interactive channel.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by outcome.",
		}, []string{"status"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_iterations_total",
			Help:      "Resolve/evaluate iterations across sessions.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.events, c.intents, c.intentDuration, c.inferenceCalls, c.inferenceTime,
		c.slotFailures, c.interactions, c.sessions, c.iterations,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

// Attach subscribes the collector to every event on bus.
func (c *Collector) Attach(bus eventbus.EventBus) error {
	id, err := bus.SubscribeAll(c.Handle)
	if err != nil {
		return err
	}
	c.subscriptionID = id
	return nil
}

// Detach removes the subscription made by Attach.
func (c *Collector) Detach(bus eventbus.EventBus) error {
	if c.subscriptionID == "" {
		return nil
	}
	err := bus.Unsubscribe(c.subscriptionID)
	c.subscriptionID = ""
	return err
}

// Handle records one event. It never fails.
func (c *Collector) Handle(_ context.Context, e eventbus.Event) error {
	meta := e.Metadata()
	c.events.WithLabelValues(string(e.Type())).Inc()

	switch e.Type() {
	case eventbus.EventIntentExecutionSuccess:
		tool := label(meta, eventbus.MetaIntent)
		c.intents.WithLabelValues(tool, "success").Inc()
		if d, ok := duration(meta); ok {
			c.intentDuration.WithLabelValues(tool).Observe(d.Seconds())
		}
	case eventbus.EventIntentExecutionFailure:
		c.intents.WithLabelValues(label(meta, eventbus.MetaIntent), "failure").Inc()
	case eventbus.EventIntentExecutionRecoverable:
		c.intents.WithLabelValues(label(meta, eventbus.MetaIntent), "recoverable").Inc()
	case eventbus.EventIntentExecutionRetry:
		c.intents.WithLabelValues(label(meta, eventbus.MetaIntent), "retry").Inc()

	case eventbus.EventInferenceCall:
		kind := label(meta, eventbus.MetaKind)
		c.inferenceCalls.WithLabelValues(kind, label(meta, eventbus.MetaStatus)).Inc()
		if d, ok := duration(meta); ok {
			c.inferenceTime.WithLabelValues(kind).Observe(d.Seconds())
		}

	case eventbus.EventSlotFailed:
		c.slotFailures.WithLabelValues(label(meta, eventbus.MetaErrorCode)).Inc()
	case eventbus.EventInteractionRequested:
		c.interactions.Inc()

	case eventbus.EventSessionCompleted, eventbus.EventSessionFailed, eventbus.EventSessionCancelled:
		c.sessions.WithLabelValues(label(meta, eventbus.MetaStatus)).Inc()
	case eventbus.EventSessionIteration:
		c.iterations.Inc()
	}
	return nil
}

func label(meta map[string]interface{}, key string) string {
	if v, ok := meta[key]; ok && v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return "unknown"
}

func duration(meta map[string]interface{}) (time.Duration, bool) {
	switch v := meta[eventbus.MetaDuration].(type) {
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case float64:
		return time.Duration(v * float64(time.Millisecond)), true
	}
	return 0, false
}
