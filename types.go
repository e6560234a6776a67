package dragonscale

import (
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/evaluator"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// Status is the final status of a session run.
type Status = evaluator.Status

const (
	StatusSuccess              = evaluator.StatusSuccess
	StatusAbortedRecoverable   = evaluator.StatusAbortedRecoverable
	StatusAbortedUnrecoverable = evaluator.StatusAbortedUnrecoverable
	StatusRedirected           = evaluator.StatusRedirected
)

// Request is the input of one run: a natural-language prompt, DSL text or
// an already built tree. Exactly one is set.
type Request struct {
	Prompt string           `json:"prompt,omitempty"`
	DSL    string           `json:"dsl,omitempty"`
	Tree   *dsl.ListElement `json:"-"`
}

// Report describes a finished run. Only SUCCESS and ABORTED_UNRECOVERABLE
// are final statuses; a cancelled run is ABORTED_UNRECOVERABLE with State
// cancelled.
type Report struct {
	SessionID string `json:"session_id"`
	Request   string `json:"request,omitempty"`

	Status Status       `json:"status"`
	State  ProcessState `json:"state"`

	// Tree is the last tree of the run, with executed intents wrapped.
	Tree    *dsl.ListElement `json:"-"`
	TreeDSL string           `json:"tree,omitempty"`

	// Results of the successful top-level intents, in order.
	Results []any `json:"results"`
	// Answers surfaced by QUERY_USER.
	Answers []string `json:"answers,omitempty"`

	Iterations int            `json:"iterations"`
	Trail      []ProcessState `json:"trail"`
	Duration   time.Duration  `json:"duration"`

	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	ErrorStage string `json:"error_stage,omitempty"`
}

// Succeeded reports whether the run ended in SUCCESS.
func (r *Report) Succeeded() bool {
	return r.Status == StatusSuccess
}
