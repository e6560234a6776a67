// Package dragonscale turns natural-language requests into trees of typed
// tool invocations, fills the gaps by asking the user or a language model,
// executes the tree and loops back into resolution when a tool reports a
// recoverable condition.
package dragonscale

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/evaluator"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/fuzzy"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/history"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/prompt"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/resolver"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/registry"
)

const tracerName = "github.com/ZanzyTHEbar/dragonscale-intents"

// Engine is the main entry point. It owns the shared, read-only parts of
// the runtime (registry, adapter stack, evaluator) and creates sessions.
type Engine struct {
	registry   *registry.Registry
	adapter    ds.InferenceAdapter
	channel    ds.Channel
	normalizer ds.Normalizer
	cache      ds.Cache
	eventBus   eventbus.EventBus
	ownsBus    bool
	recorder   ds.CallRecorder
	tracer     trace.Tracer

	// Configuration
	config Config

	prompts   prompt.Set
	inference ds.InferenceAdapter
	evaluator *evaluator.Evaluator
	resolver  *resolver.Resolver

	// Async sessions
	asyncSessions      map[string]*asyncSession
	asyncSessionsMutex sync.RWMutex
}

// Option is a function that configures an Engine.
type Option func(*Engine)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithRegistry sets the tool and query-source registry. It is frozen by New.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithAdapter sets the inference adapter.
func WithAdapter(adapter ds.InferenceAdapter) Option {
	return func(e *Engine) {
		e.adapter = adapter
	}
}

// WithChannel sets the interactive channel used for ASK and QUERY_USER.
func WithChannel(channel ds.Channel) Option {
	return func(e *Engine) {
		e.channel = channel
	}
}

// WithNormalizer replaces the FuzzyValue normalizer.
func WithNormalizer(normalizer ds.Normalizer) Option {
	return func(e *Engine) {
		e.normalizer = normalizer
	}
}

// WithCache caches model answers and model normalizations.
func WithCache(cache ds.Cache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithCallRecorder records every inference call.
func WithCallRecorder(recorder ds.CallRecorder) Option {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

// WithTracer sets the OpenTelemetry tracer. The global provider is used
// otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// New creates an Engine with the provided options.
func New(options ...Option) (*Engine, error) {
	e := &Engine{
		config:        DefaultConfig(),
		asyncSessions: make(map[string]*asyncSession),
	}
	for _, option := range options {
		option(e)
	}

	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	if e.registry == nil {
		return nil, ds.NewConfigurationError("registry is required", nil)
	}
	if len(e.registry.Tools()) == 0 {
		return nil, ds.NewConfigurationError("at least one tool is required", nil)
	}
	e.registry.Freeze()
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}

	if e.config.EnableEventBus && e.eventBus == nil {
		e.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(e.config.EventBusBufferSize),
			eventbus.WithWorkerCount(e.config.EventBusWorkerCount),
		)
		e.ownsBus = true
		log.Printf("Initialized default channel-based event bus")
	}

	prompts, err := prompt.Build(e.registry)
	if err != nil {
		return nil, ds.NewConfigurationError("failed to build system prompts", err)
	}
	e.prompts = prompts

	e.inference = e.wrap(e.adapter)
	if e.normalizer == nil {
		chain := fuzzy.Default()
		if e.inference != nil {
			chain = append(chain, fuzzy.NewModel(e.inference, e.cache, prompts))
		}
		e.normalizer = chain
	}

	e.evaluator = evaluator.New(e.registry,
		evaluator.WithEventBus(e.bus()),
		evaluator.WithTracer(e.tracer),
		evaluator.WithExecTimeout(e.config.ExecutionTimeout),
		evaluator.WithRecoverableBindingErrors(e.config.RecoverableBindingErrors),
	)
	e.resolver, err = e.newResolver(e.channel, e.inference)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// wrap layers the configured middleware around adapter, innermost first:
// rate limit, call recording, cache, tracing.
func (e *Engine) wrap(adapter ds.InferenceAdapter) ds.InferenceAdapter {
	if adapter == nil {
		return nil
	}
	if e.config.InferenceRate > 0 {
		adapter = adapters.NewRateLimitedAdapter(adapter, e.config.InferenceRate, e.config.InferenceBurst)
	}
	if e.recorder != nil {
		adapter = adapters.NewRecordingAdapter(adapter, e.recorder)
	}
	if e.cache != nil {
		adapter = adapters.NewCachedAdapter(adapter, e.cache)
	}
	return adapters.NewTracedAdapter(adapter, e.tracer)
}

func (e *Engine) newResolver(channel ds.Channel, adapter ds.InferenceAdapter) (*resolver.Resolver, error) {
	behavior, err := resolver.ParseAbortBehavior(e.config.AbortBehavior)
	if err != nil {
		return nil, ds.NewConfigurationError("invalid abort behavior", err)
	}
	return resolver.New(e.registry,
		resolver.WithAdapter(adapter),
		resolver.WithChannel(channel),
		resolver.WithNormalizer(e.normalizer),
		resolver.WithPrompts(e.prompts),
		resolver.WithEventBus(e.bus()),
		resolver.WithTracer(e.tracer),
		resolver.WithAdapterTimeout(e.config.AdapterTimeout),
		resolver.WithInteractionTimeout(e.config.InteractionTimeout),
		resolver.WithInterpretAnswers(e.config.InterpretAnswers),
		resolver.WithAbortBehavior(behavior),
		resolver.WithMaxFollowUps(e.config.MaxFollowUps),
		resolver.WithSourceConcurrency(e.config.SourceConcurrency),
	)
}

// bus returns the event bus, or nil when events are disabled.
func (e *Engine) bus() eventbus.EventBus {
	if !e.config.EnableEventBus {
		return nil
	}
	return e.eventBus
}

// EventBus returns the engine's event bus, or nil when events are disabled.
func (e *Engine) EventBus() eventbus.EventBus {
	return e.bus()
}

// Registry returns the frozen registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Config returns the configuration in use.
func (e *Engine) Config() Config {
	return e.config
}

// EvaluationMetrics returns a snapshot of the evaluator counters.
func (e *Engine) EvaluationMetrics() evaluator.Metrics {
	return e.evaluator.Metrics()
}

// Close cancels running async sessions and closes the event bus the engine
// created.
func (e *Engine) Close() error {
	e.asyncSessionsMutex.RLock()
	for _, as := range e.asyncSessions {
		as.cancel()
	}
	e.asyncSessionsMutex.RUnlock()
	if e.ownsBus && e.eventBus != nil {
		return e.eventBus.Close()
	}
	return nil
}

// Session is one interaction. Its history lets later requests refer to
// intents evaluated by earlier ones. Runs on a session are serialized.
type Session struct {
	id       string
	engine   *Engine
	resolver *resolver.Resolver
	history  *history.History
	mu       sync.Mutex
}

type sessionConfig struct {
	id      string
	channel ds.Channel
	adapter ds.InferenceAdapter
}

// SessionOption configures a session.
type SessionOption func(*sessionConfig)

// WithSessionID sets the session id instead of a random one.
func WithSessionID(id string) SessionOption {
	return func(c *sessionConfig) {
		c.id = id
	}
}

// WithSessionChannel gives the session its own interactive channel.
func WithSessionChannel(channel ds.Channel) SessionOption {
	return func(c *sessionConfig) {
		c.channel = channel
	}
}

// WithSessionAdapter gives the session its own inference adapter. The
// engine's middleware is applied to it.
func WithSessionAdapter(adapter ds.InferenceAdapter) SessionOption {
	return func(c *sessionConfig) {
		c.adapter = adapter
	}
}

// NewSession starts a session with an empty history.
func (e *Engine) NewSession(opts ...SessionOption) (*Session, error) {
	var cfg sessionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.New().String()
	}
	s := &Session{id: cfg.id, engine: e, resolver: e.resolver, history: history.New()}
	if cfg.channel != nil || cfg.adapter != nil {
		channel, adapter := e.channel, e.inference
		if cfg.channel != nil {
			channel = cfg.channel
		}
		if cfg.adapter != nil {
			adapter = e.wrap(cfg.adapter)
		}
		r, err := e.newResolver(channel, adapter)
		if err != nil {
			return nil, err
		}
		s.resolver = r
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// History returns the intents evaluated successfully so far, oldest first.
func (s *Session) History() []history.Record {
	return s.history.Records()
}

// Run translates prompt into a tree and runs it.
func (s *Session) Run(ctx context.Context, prompt string) (*Report, error) {
	return s.Do(ctx, Request{Prompt: prompt})
}

// RunDSL parses text and runs the tree. A parse error is returned without
// a report.
func (s *Session) RunDSL(ctx context.Context, text string) (*Report, error) {
	return s.Do(ctx, Request{DSL: text})
}

// RunTree runs an existing tree.
func (s *Session) RunTree(ctx context.Context, tree *dsl.ListElement) (*Report, error) {
	return s.Do(ctx, Request{Tree: tree})
}

// Do runs req until SUCCESS or an unrecoverable outcome. The report is
// always returned once the run started; the error is the one that ended a
// failed run.
func (s *Session) Do(ctx context.Context, req Request) (*Report, error) {
	pCtx, err := newRequestContext(req)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, pCtx)
}

func newRequestContext(req Request) (*ProcessContext, error) {
	set := 0
	for _, ok := range []bool{req.Prompt != "", req.DSL != "", req.Tree != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, ds.NewContractError(ds.StageSession, "exactly one of prompt, dsl and tree must be set")
	}
	switch {
	case req.Tree != nil:
		return NewTreeProcessContext(req.Tree), nil
	case req.DSL != "":
		tree, err := dsl.Parse(req.DSL)
		if err != nil {
			return nil, ds.NewParseError(ds.StageSession, err)
		}
		return NewTreeProcessContext(tree), nil
	}
	return NewProcessContext(req.Prompt), nil
}

func (s *Session) run(ctx context.Context, pCtx *ProcessContext) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = ds.WithSessionID(ctx, s.id)
	bus := s.engine.bus()
	sm := createSessionStateMachine(sessionComponents{
		Resolver:  s.resolver,
		Evaluator: s.engine.evaluator,
		History:   s.history,
		Config:    s.engine.config,
	}, bus)

	err := sm.Execute(ctx, pCtx)
	report := s.report(pCtx)

	meta := withSession(ctx, map[string]interface{}{
		eventbus.MetaStatus:    string(report.Status),
		eventbus.MetaState:     string(report.State),
		eventbus.MetaIteration: report.Iterations,
		eventbus.MetaDuration:  report.Duration.Milliseconds(),
	})
	eventType := eventbus.EventSessionCompleted
	switch report.State {
	case StateCancelled:
		eventType = eventbus.EventSessionCancelled
	case StateError:
		eventType = eventbus.EventSessionFailed
	}
	if err != nil {
		meta[eventbus.MetaError] = err.Error()
		meta[eventbus.MetaErrorCode] = report.ErrorCode
	}
	eventbus.Emit(ctx, bus, eventType, "Session.Run", report.TreeDSL, meta)
	log.Printf("Session run finished (session: %s, status: %s, state: %s, iterations: %d, duration: %v)",
		s.id, report.Status, report.State, report.Iterations, report.Duration)
	return report, err
}

func (s *Session) report(pCtx *ProcessContext) *Report {
	snap := pCtx.Snapshot()
	r := &Report{
		SessionID:  s.id,
		Request:    pCtx.Request,
		State:      snap.State,
		Tree:       pCtx.Tree,
		Answers:    pCtx.Answers,
		Iterations: snap.Iteration,
		Trail:      pCtx.Trail(),
		Duration:   pCtx.GetTotalDuration(),
		Status:     StatusAbortedUnrecoverable,
	}
	if pCtx.Tree != nil {
		r.TreeDSL = pCtx.Tree.String()
	}
	r.Results = append(r.Results, pCtx.carried...)
	if pCtx.Outcome != nil {
		r.Results = append(r.Results, pCtx.Outcome.Results...)
	}
	if snap.State == StateComplete {
		r.Status = StatusSuccess
	}
	if snap.Err != nil {
		r.Err = snap.Err
		r.Error = snap.Err.Error()
		r.ErrorCode = ds.CodeOf(snap.Err)
		r.ErrorStage = snap.ErrorStage
	}
	return r
}

// String renders a one-line summary.
func (r *Report) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s (%s after %d iteration(s), %v): %s", r.Status, r.State, r.Iterations,
			r.Duration.Round(time.Millisecond), r.Error)
	}
	return fmt.Sprintf("%s (%d result(s) after %d iteration(s), %v)", r.Status, len(r.Results), r.Iterations,
		r.Duration.Round(time.Millisecond))
}
