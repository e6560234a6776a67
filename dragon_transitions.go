package dragonscale

import (
	"context"
	"log"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/evaluator"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/history"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/resolver"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// sessionComponents holds what the transitions of one session need.
type sessionComponents struct {
	Resolver  *resolver.Resolver
	Evaluator *evaluator.Evaluator
	History   *history.History
	Config    Config
}

// createSessionStateMachine builds the resolve/evaluate loop.
func createSessionStateMachine(c sessionComponents, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, createInitTransition(c))
	sm.RegisterTransition(StateSeeding, createSeedingTransition(c))
	sm.RegisterTransition(StateResolving, createResolvingTransition(c))
	sm.RegisterTransition(StateEvaluating, createEvaluatingTransition(c))
	sm.RegisterTransition(StateRecovering, createRecoveringTransition(c))

	return sm
}

// createInitTransition picks the first phase from the input.
func createInitTransition(_ sessionComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		payload := pCtx.Request
		if pCtx.Tree != nil {
			payload = pCtx.Tree.String()
		}
		eventbus.Emit(ctx, eb, eventbus.EventSessionStarted, "StateMachine.Init", payload, withSession(ctx, nil))

		pCtx.nextIteration()
		if pCtx.Tree == nil {
			return StateSeeding, nil
		}
		return StateResolving, nil
	}
}

// createSeedingTransition asks the adapter for the initial tree.
func createSeedingTransition(c sessionComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		tree, err := c.Resolver.Seed(ctx, pCtx.Request)
		if err != nil {
			return StateError, err
		}
		pCtx.Tree = tree
		return StateResolving, nil
	}
}

// createResolvingTransition runs one resolution pass. A pass that leaves
// slot failures is repeated at most ResolutionRetries times per iteration.
func createResolvingTransition(c sessionComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		res, err := c.Resolver.Resolve(ctx, c.History, pCtx.Tree)
		if err != nil {
			return StateError, err
		}
		pCtx.Tree = res.Tree
		pCtx.Answers = append(pCtx.Answers, res.Answers...)

		if res.Resolved() {
			return StateEvaluating, nil
		}
		if pCtx.ResolutionAttempts < c.Config.ResolutionRetries {
			pCtx.ResolutionAttempts++
			log.Printf("Retrying resolution (session: %s, attempt: %d, errors: %d)",
				ds.SessionIDFrom(ctx), pCtx.ResolutionAttempts, len(res.Errors))
			return StateResolving, nil
		}
		return StateError, res.Err()
	}
}

// createEvaluatingTransition executes the resolved tree.
func createEvaluatingTransition(c sessionComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		out, err := c.Evaluator.Evaluate(ctx, c.History, pCtx.Tree)
		if err != nil {
			return StateError, err
		}
		pCtx.Outcome = out
		pCtx.Tree = out.Tree

		switch out.Status {
		case evaluator.StatusSuccess:
			return StateComplete, nil
		case evaluator.StatusAbortedUnrecoverable:
			return StateError, out.Err
		default:
			return StateRecovering, nil
		}
	}
}

// createRecoveringTransition feeds a recoverable tree, or the replacement
// tree of a redirect, back into resolution.
func createRecoveringTransition(c sessionComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		out := pCtx.Outcome
		if pCtx.Iteration() >= c.Config.MaxIterations {
			return StateError, ds.NewIterationLimitError(c.Config.MaxIterations)
		}
		iteration := pCtx.nextIteration()
		pCtx.ResolutionAttempts = 0

		if out.Status == evaluator.StatusRedirected {
			pCtx.carried = append(pCtx.carried, out.Results...)
			pCtx.Tree = out.Redirect
		}
		eventbus.Emit(ctx, eb, eventbus.EventSessionIteration, "StateMachine.Recovering", pCtx.Tree.String(),
			withSession(ctx, map[string]interface{}{
				eventbus.MetaIteration: iteration,
				eventbus.MetaStatus:    string(out.Status),
			}))
		log.Printf("Recovering (session: %s, iteration: %d, status: %s, message: %s)",
			ds.SessionIDFrom(ctx), iteration, out.Status, out.Message)
		return StateResolving, nil
	}
}
