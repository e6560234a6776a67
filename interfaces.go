package dragonscale

import ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"

// The engine's collaborators. They are defined in pkg/dragonscale so that
// internal packages can depend on them without importing the engine.
type (
	InferenceAdapter   = ds.InferenceAdapter
	InferenceFunc      = ds.InferenceFunc
	InferenceRequest   = ds.InferenceRequest
	Channel            = ds.Channel
	InteractionRequest = ds.InteractionRequest
	Normalizer         = ds.Normalizer
	Cache              = ds.Cache
	CallRecorder       = ds.CallRecorder
	CallLog            = ds.CallLog
)
