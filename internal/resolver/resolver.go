// Package resolver turns a partially specified intent tree into a fully
// specified one. Placeholders are filled by asking the user through the
// interactive channel, by querying the inference adapter, by normalizing
// fuzzy values and by looking values up in the session history.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/fuzzy"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/history"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/prompt"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/registry"
)

const tracerName = "github.com/ZanzyTHEbar/dragonscale-intents/internal/resolver"

// AbortBehavior selects what an abort does to the tree during resolution.
type AbortBehavior string

const (
	// AbortDefer keeps Abort and AbortWithNewDsl in the tree, discards the
	// siblings after them and leaves the outcome to the evaluator.
	AbortDefer AbortBehavior = "defer"
	// AbortDrop removes the aborted item from its list, or splices the
	// replacement of an AbortWithNewDsl in its place and resolves it.
	AbortDrop AbortBehavior = "drop"
)

// ParseAbortBehavior maps a configuration string to an AbortBehavior.
func ParseAbortBehavior(s string) (AbortBehavior, error) {
	switch AbortBehavior(strings.ToLower(strings.TrimSpace(s))) {
	case "", AbortDefer:
		return AbortDefer, nil
	case AbortDrop:
		return AbortDrop, nil
	}
	return "", fmt.Errorf("unknown abort behavior %q", s)
}

// Resolver resolves intent trees. It holds no per-session state and can be
// shared by concurrent sessions.
type Resolver struct {
	registry   *registry.Registry
	adapter    ds.InferenceAdapter
	channel    ds.Channel
	normalizer ds.Normalizer
	prompts    prompt.Set
	bus        eventbus.EventBus
	tracer     trace.Tracer

	adapterTimeout     time.Duration
	interactionTimeout time.Duration
	interpretAnswers   bool
	abortBehavior      AbortBehavior
	maxFollowUps       int
	sourceConcurrency  int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAdapter sets the inference adapter used for seeding and queries.
func WithAdapter(adapter ds.InferenceAdapter) Option {
	return func(r *Resolver) {
		r.adapter = adapter
	}
}

// WithChannel sets the interactive channel used for ASK and QUERY_USER.
func WithChannel(channel ds.Channel) Option {
	return func(r *Resolver) {
		r.channel = channel
	}
}

// WithNormalizer sets the FuzzyValue normalizer.
func WithNormalizer(normalizer ds.Normalizer) Option {
	return func(r *Resolver) {
		r.normalizer = normalizer
	}
}

// WithPrompts overrides the system prompts built from the registry.
func WithPrompts(set prompt.Set) Option {
	return func(r *Resolver) {
		r.prompts = set
	}
}

// WithEventBus publishes resolution events on bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(r *Resolver) {
		r.bus = bus
	}
}

// WithTracer sets the tracer for resolution spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Resolver) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithAdapterTimeout bounds every adapter call. Zero means no bound.
func WithAdapterTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.adapterTimeout = d
	}
}

// WithInteractionTimeout bounds every wait for a user reply. Zero means no bound.
func WithInteractionTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.interactionTimeout = d
	}
}

// WithInterpretAnswers sends user replies through the adapter instead of
// parsing them as literals.
func WithInterpretAnswers(enabled bool) Option {
	return func(r *Resolver) {
		r.interpretAnswers = enabled
	}
}

// WithAbortBehavior selects how aborts rewrite the tree.
func WithAbortBehavior(b AbortBehavior) Option {
	return func(r *Resolver) {
		r.abortBehavior = b
	}
}

// WithMaxFollowUps bounds how many rewrites a single slot may go through
// in one pass, and how deep spliced intents may nest.
func WithMaxFollowUps(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxFollowUps = n
		}
	}
}

// WithSourceConcurrency bounds how many query sources run at once.
func WithSourceConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.sourceConcurrency = n
		}
	}
}

// New creates a resolver over a (preferably frozen) registry.
func New(reg *registry.Registry, opts ...Option) (*Resolver, error) {
	if reg == nil {
		reg = registry.New().Freeze()
	}
	r := &Resolver{
		registry:          reg,
		normalizer:        fuzzy.Default(),
		tracer:            otel.Tracer(tracerName),
		abortBehavior:     AbortDefer,
		maxFollowUps:      5,
		sourceConcurrency: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.abortBehavior != AbortDefer && r.abortBehavior != AbortDrop {
		return nil, ds.NewConfigurationError(fmt.Sprintf("unknown abort behavior %q", r.abortBehavior), nil)
	}
	if r.prompts == nil {
		set, err := prompt.Build(reg)
		if err != nil {
			return nil, ds.NewConfigurationError("failed to build system prompts", err)
		}
		r.prompts = set
	}
	return r, nil
}

// Registry returns the registry the resolver was built with.
func (r *Resolver) Registry() *registry.Registry {
	return r.registry
}

// SlotError is a slot-local resolution failure. The placeholder stays in
// the tree.
type SlotError struct {
	Intent string
	Slot   string
	Node   dsl.Node
	Err    error
}

func (e *SlotError) Error() string {
	where := e.Intent
	if e.Slot != "" {
		where += "." + e.Slot
	}
	if where == "" {
		where = "top level"
	}
	return fmt.Sprintf("%s: %s: %v", where, e.Node, e.Err)
}

func (e *SlotError) Unwrap() error { return e.Err }

// Result is the outcome of one resolution pass.
type Result struct {
	// Tree is the rewritten tree. It is the input pointer when nothing changed.
	Tree *dsl.ListElement
	// Errors lists the slot-local failures of the pass.
	Errors []*SlotError
	// Answers holds the QUERY_USER answers surfaced during the pass.
	Answers []string
	// Changed reports whether the pass rewrote anything.
	Changed bool
}

// Resolved reports whether the pass left no placeholder and no failure.
func (r *Result) Resolved() bool {
	return len(r.Errors) == 0 && dsl.IsResolved(r.Tree)
}

// Err summarizes the slot errors as one resolution error, or nil.
func (r *Result) Err() error {
	if len(r.Errors) > 0 {
		errs := make([]error, len(r.Errors))
		for i, e := range r.Errors {
			errs[i] = e
		}
		return ds.NewResolutionError(fmt.Sprintf("%d slot(s) could not be resolved", len(r.Errors)), errors.Join(errs...))
	}
	if !dsl.IsResolved(r.Tree) {
		return ds.NewResolutionError("unresolved placeholders remain", nil)
	}
	return nil
}

// Seed asks the inference adapter to translate a natural-language request
// into an intent tree. Any failure is unrecoverable.
func (r *Resolver) Seed(ctx context.Context, request string) (*dsl.ListElement, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.seed")
	defer span.End()

	r.emit(ctx, eventbus.EventSeedingStarted, request, nil)
	start := time.Now()

	tree, err := r.seed(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.emit(ctx, eventbus.EventSeedingFailure, request, map[string]interface{}{
			eventbus.MetaError:     err.Error(),
			eventbus.MetaErrorCode: ds.CodeOf(err),
		})
		return nil, err
	}
	span.SetAttributes(attribute.Int("dragonscale.intents", len(tree.Items)))
	r.emit(ctx, eventbus.EventSeedingSuccess, tree.String(), map[string]interface{}{
		eventbus.MetaDuration: time.Since(start).Milliseconds(),
	})
	return tree, nil
}

func (r *Resolver) seed(ctx context.Context, request string) (*dsl.ListElement, error) {
	if r.adapter == nil {
		return nil, ds.NewConfigurationError("no inference adapter configured", nil)
	}
	p := &pass{r: r}
	answer, err := p.infer(ctx, ds.StageSeeding, ds.KindSequence, request, "main")
	if err != nil {
		return nil, err
	}
	tree, err := dsl.Parse(answer)
	if err != nil {
		return nil, ds.NewParseError(ds.StageSeeding, err)
	}
	return tree, nil
}

// Resolve runs one resolution pass over tree. Slot-local failures are
// reported in the result; the returned error is reserved for cancellation
// and contract violations.
func (r *Resolver) Resolve(ctx context.Context, hist *history.History, tree *dsl.ListElement) (*Result, error) {
	if tree == nil {
		return nil, ds.NewContractError(ds.StageResolution, "nil tree")
	}
	if hist == nil {
		hist = history.New()
	}

	ctx, span := r.tracer.Start(ctx, "resolver.resolve",
		trace.WithAttributes(attribute.Int("dragonscale.placeholders", len(dsl.Placeholders(tree)))))
	defer span.End()

	r.emit(ctx, eventbus.EventResolutionStarted, tree.String(), nil)
	start := time.Now()

	p := &pass{r: r, hist: hist, failedGathers: make(map[*dsl.Slot]bool)}
	out, _, err := p.list(ctx, tree, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res := &Result{Tree: out, Errors: p.errors, Answers: p.answers, Changed: out != tree}
	meta := map[string]interface{}{eventbus.MetaDuration: time.Since(start).Milliseconds()}
	if res.Resolved() {
		r.emit(ctx, eventbus.EventResolutionSuccess, out.String(), meta)
	} else {
		span.SetStatus(codes.Error, "incomplete")
		meta[eventbus.MetaError] = res.Err().Error()
		r.emit(ctx, eventbus.EventResolutionIncomplete, out.String(), meta)
		log.Printf("Resolution incomplete (session: %s, errors: %d)", ds.SessionIDFrom(ctx), len(res.Errors))
	}
	return res, nil
}

func (r *Resolver) emit(ctx context.Context, typ eventbus.EventType, payload interface{}, meta map[string]interface{}) {
	if r.bus == nil {
		return
	}
	if meta == nil {
		meta = make(map[string]interface{})
	}
	if id := ds.SessionIDFrom(ctx); id != "" {
		meta[eventbus.MetaSessionID] = id
	}
	eventbus.Emit(ctx, r.bus, typ, "resolver", payload, meta)
}
