package evaluator

import (
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// Status is the terminal state of one evaluation.
type Status string

const (
	StatusSuccess              Status = "SUCCESS"
	StatusAbortedRecoverable   Status = "ABORTED_RECOVERABLE"
	StatusAbortedUnrecoverable Status = "ABORTED_UNRECOVERABLE"
	StatusRedirected           Status = "REDIRECTED"
)

// Outcome is the result of evaluating a tree.
type Outcome struct {
	Status Status
	// Tree is the evaluated tree: executed intents are wrapped in
	// IntentEvaluatedSuccess, a recoverable failure in
	// IntentRuntimeErrorResolver, and unexecuted siblings are kept as they were.
	Tree *dsl.ListElement
	// Results holds the results of the successful top-level intents in order,
	// including those evaluated in earlier iterations. It is filled for every
	// status, so an abort still surfaces what already ran.
	Results []any
	// Err explains an ABORTED_UNRECOVERABLE outcome.
	Err error
	// Message is the recoverable error raised by the failing tool.
	Message string
	// Redirect is the replacement tree of a REDIRECTED outcome.
	Redirect *dsl.ListElement
	// Retry is set when a tool asked to be run again unchanged.
	Retry bool
}

// Terminal reports whether the session loop should stop on this outcome.
func (o *Outcome) Terminal() bool {
	return o.Status == StatusSuccess || o.Status == StatusAbortedUnrecoverable
}

// stop interrupts a list evaluation.
type stop struct {
	status   Status
	err      error
	message  string
	redirect *dsl.ListElement
	retry    bool
}

func unrecoverable(err error) *stop {
	return &stop{status: StatusAbortedUnrecoverable, err: err}
}

func recoverable(message string) *stop {
	return &stop{status: StatusAbortedRecoverable, message: message}
}
