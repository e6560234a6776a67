package dragonscale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/evaluator"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/eventbus"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// The session loop is a pushdown automaton: every state entered is pushed
// on the stack, so a finished session carries its full trail
// (resolving -> evaluating -> recovering -> resolving -> ...).

// ProcessState represents the current state of a session run.
type ProcessState string

const (
	// StateInit is the initial state of the run
	StateInit ProcessState = "init"
	// StateSeeding translates the natural-language request into a tree
	StateSeeding ProcessState = "seeding"
	// StateResolving removes placeholders from the tree
	StateResolving ProcessState = "resolving"
	// StateEvaluating executes the resolved tree
	StateEvaluating ProcessState = "evaluating"
	// StateRecovering feeds a recoverable or redirected outcome back
	StateRecovering ProcessState = "recovering"
	// StateError represents an error state
	StateError ProcessState = "error"
	// StateComplete represents the completed state
	StateComplete ProcessState = "complete"
	// StateCancelled represents the cancelled state
	StateCancelled ProcessState = "cancelled"
	// StateUnknown is used when the status of an async session cannot be determined.
	StateUnknown ProcessState = "unknown"
)

// ProcessContext is the "tape" of the automaton for one run. Fields read by
// Snapshot are guarded by mu; the rest belong to the goroutine running the
// machine.
type ProcessContext struct {
	// Input: Request is set for natural-language runs, Tree otherwise.
	Request string
	Tree    *dsl.ListElement

	Outcome *evaluator.Outcome
	// Results of intents whose tree was discarded by a redirect.
	carried []any
	Answers []string

	// Extra resolution passes used in the current iteration.
	ResolutionAttempts int

	mu              sync.RWMutex
	iteration       int
	lastError       error
	errorStage      string
	currentState    ProcessState
	stateStack      []ProcessState
	startTime       time.Time
	endTime         time.Time
	stateStartTimes map[ProcessState]time.Time
}

// NewProcessContext creates a context for a natural-language request.
func NewProcessContext(request string) *ProcessContext {
	return &ProcessContext{
		Request:         request,
		currentState:    StateInit,
		startTime:       time.Now(),
		stateStartTimes: map[ProcessState]time.Time{StateInit: time.Now()},
	}
}

// NewTreeProcessContext creates a context that starts from a tree.
func NewTreeProcessContext(tree *dsl.ListElement) *ProcessContext {
	pc := NewProcessContext("")
	pc.Tree = tree
	return pc
}

// State returns the current state.
func (pc *ProcessContext) State() ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.currentState
}

// PushState pushes the current state onto the stack and sets a new current state.
func (pc *ProcessContext) PushState(state ProcessState) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.push(state)
}

func (pc *ProcessContext) push(state ProcessState) {
	pc.stateStack = append(pc.stateStack, pc.currentState)
	pc.currentState = state
	pc.stateStartTimes[state] = time.Now()
}

// PopState pops the top state from the stack and sets it as the current state.
// Returns false if the stack is empty.
func (pc *ProcessContext) PopState() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.stateStack) == 0 {
		return false
	}
	lastIdx := len(pc.stateStack) - 1
	pc.currentState = pc.stateStack[lastIdx]
	pc.stateStack = pc.stateStack[:lastIdx]
	pc.stateStartTimes[pc.currentState] = time.Now()
	return true
}

// Trail returns every state entered, oldest first, ending with the current one.
func (pc *ProcessContext) Trail() []ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	out := make([]ProcessState, 0, len(pc.stateStack)+1)
	out = append(out, pc.stateStack...)
	return append(out, pc.currentState)
}

// IsTerminal checks if the current state is a terminal state (Complete, Error, Cancelled).
func (pc *ProcessContext) IsTerminal() bool {
	return isTerminal(pc.State())
}

func isTerminal(s ProcessState) bool {
	return s == StateComplete || s == StateError || s == StateCancelled
}

// SetError records err and moves to StateError.
func (pc *ProcessContext) SetError(err error, stage string) {
	pc.finish(StateError, err, stage)
}

// SetCancelled records the cancellation and moves to StateCancelled.
func (pc *ProcessContext) SetCancelled(err error, stage string) {
	pc.finish(StateCancelled, err, stage)
}

// Complete marks the run as complete and sets the end time.
func (pc *ProcessContext) Complete() {
	pc.finish(StateComplete, nil, "")
}

func (pc *ProcessContext) finish(state ProcessState, err error, stage string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.lastError = err
	pc.errorStage = stage
	if pc.currentState != state {
		pc.push(state)
	}
	pc.endTime = time.Now()
}

// Err returns the error that ended the run, if any.
func (pc *ProcessContext) Err() error {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.lastError
}

// Iteration is the number of resolve/evaluate rounds started so far.
func (pc *ProcessContext) Iteration() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.iteration
}

func (pc *ProcessContext) nextIteration() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.iteration++
	return pc.iteration
}

// GetStateDuration returns the time spent in state since it was last entered.
func (pc *ProcessContext) GetStateDuration(state ProcessState) time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	startTime, ok := pc.stateStartTimes[state]
	if !ok {
		return 0
	}
	if state == pc.currentState && !isTerminal(state) {
		return time.Since(startTime)
	}
	return 0
}

// GetTotalDuration returns the total duration of the run so far.
func (pc *ProcessContext) GetTotalDuration() time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if !pc.endTime.IsZero() {
		return pc.endTime.Sub(pc.startTime)
	}
	return time.Since(pc.startTime)
}

// ProcessSnapshot is a consistent view of a running context.
type ProcessSnapshot struct {
	State      ProcessState
	Iteration  int
	StartTime  time.Time
	EndTime    time.Time
	Err        error
	ErrorStage string
}

// Snapshot copies the fields other goroutines may read.
func (pc *ProcessContext) Snapshot() ProcessSnapshot {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return ProcessSnapshot{
		State:      pc.currentState,
		Iteration:  pc.iteration,
		StartTime:  pc.startTime,
		EndTime:    pc.endTime,
		Err:        pc.lastError,
		ErrorStage: pc.errorStage,
	}
}

// StateTransition defines a transition function for the state machine.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error)

// StateMachine represents a finite state machine for session runs.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a new state machine with the provided transitions.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ProcessState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until a terminal state and returns the
// error that ended the run, if any.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) error {
	for !pCtx.IsTerminal() {
		current := pCtx.State()
		if err := ctx.Err(); err != nil {
			pCtx.SetCancelled(ds.NewCancelledError(ds.StageSession, err), string(current))
			break
		}

		transition, exists := sm.transitions[current]
		if !exists {
			pCtx.SetError(ds.NewInternalError(ds.StageSession,
				fmt.Sprintf("no transition defined for state: %s", current), nil), string(current))
			break
		}

		nextState, err := transition(ctx, sm.eventBus, pCtx)
		if err != nil {
			if isCancellation(err) {
				pCtx.SetCancelled(err, string(current))
			} else {
				pCtx.SetError(err, string(current))
			}
			continue
		}

		switch nextState {
		case StateComplete:
			pCtx.Complete()
		case current:
		default:
			pCtx.PushState(nextState)
		}
		eventbus.Emit(ctx, sm.eventBus, eventbus.EventSessionStateChanged, "StateMachine.Execute", nil, withSession(ctx, map[string]interface{}{
			eventbus.MetaState: string(pCtx.State()),
		}))
	}
	return pCtx.Err()
}

// isCancellation trusts the code of a typed error: a tool timeout wraps
// context.DeadlineExceeded but is an execution failure.
func isCancellation(err error) bool {
	var dse *ds.DragonScaleError
	if errors.As(err, &dse) {
		return dse.Code == ds.ErrCodeCancelled
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func withSession(ctx context.Context, meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		meta = make(map[string]interface{})
	}
	if id := ds.SessionIDFrom(ctx); id != "" {
		meta[eventbus.MetaSessionID] = id
	}
	return meta
}
