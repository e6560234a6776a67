package dragonscale

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeParse              = "PARSE_ERROR"
	ErrCodeResolution         = "RESOLUTION_ERROR"
	ErrCodeLookup             = "LOOKUP_ERROR"
	ErrCodeNormalization      = "NORMALIZATION_ERROR"
	ErrCodeAdapter            = "ADAPTER_ERROR"
	ErrCodeAdapterRefused     = "ADAPTER_REFUSED"
	ErrCodeAdapterTimeout     = "ADAPTER_TIMEOUT"
	ErrCodeInteraction        = "INTERACTION_ERROR"
	ErrCodeInteractionTimeout = "INTERACTION_TIMEOUT"
	ErrCodeGatherIncomplete   = "GATHER_INCOMPLETE"
	ErrCodeBinding            = "BINDING_ERROR"
	ErrCodeToolNotFound       = "TOOL_NOT_FOUND"
	ErrCodeToolExecution      = "TOOL_EXECUTION_ERROR"
	ErrCodeContract           = "CONTRACT_VIOLATION"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeAborted            = "ABORTED"
	ErrCodeIterationLimit     = "ITERATION_LIMIT"
	ErrCodeCancelled          = "EXECUTION_CANCELLED"
	ErrCodeCache              = "CACHE_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Stages used in errors.
const (
	StageSeeding    = "seeding"
	StageResolution = "resolution"
	StageEvaluation = "evaluation"
	StageSession    = "session"
)

// DragonScaleError is a custom error type for DragonScale specific errors.
type DragonScaleError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeToolNotFound)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "resolution", "evaluation")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *DragonScaleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *DragonScaleError) Unwrap() error {
	return e.Cause
}

// NewError creates a new DragonScaleError.
func NewError(code, stage, message string, cause error) *DragonScaleError {
	return &DragonScaleError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of the outermost DragonScaleError in err's chain.
func CodeOf(err error) string {
	var dsErr *DragonScaleError
	if errors.As(err, &dsErr) {
		return dsErr.Code
	}
	return ""
}

// HasCode reports whether any DragonScaleError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var dsErr *DragonScaleError
		if !errors.As(err, &dsErr) {
			return false
		}
		if dsErr.Code == code {
			return true
		}
		err = dsErr.Cause
	}
	return false
}

// IsTimeout reports whether err is an adapter or interaction timeout.
func IsTimeout(err error) bool {
	return HasCode(err, ErrCodeAdapterTimeout) || HasCode(err, ErrCodeInteractionTimeout)
}

// Specific error constructors

func NewParseError(stage string, cause error) *DragonScaleError {
	return NewError(ErrCodeParse, stage, "malformed DSL", cause)
}

func NewResolutionError(message string, cause error) *DragonScaleError {
	return NewError(ErrCodeResolution, StageResolution, message, cause)
}

func NewLookupError(slot string) *DragonScaleError {
	return NewError(ErrCodeLookup, StageResolution, fmt.Sprintf("no previously evaluated intent binds slot '%s'", slot), nil)
}

func NewNormalizationError(descriptor string, cause error) *DragonScaleError {
	return NewError(ErrCodeNormalization, StageResolution, fmt.Sprintf("cannot normalize '%s'", descriptor), cause)
}

func NewAdapterError(stage string, kind InferenceKind, cause error) *DragonScaleError {
	return NewError(ErrCodeAdapter, stage, fmt.Sprintf("inference call '%s' failed", kind), cause)
}

func NewAdapterRefusedError(kind InferenceKind, reason string) *DragonScaleError {
	return NewError(ErrCodeAdapterRefused, StageResolution, fmt.Sprintf("inference call '%s' declined: %s", kind, reason), nil)
}

func NewAdapterTimeoutError(stage string, kind InferenceKind, cause error) *DragonScaleError {
	return NewError(ErrCodeAdapterTimeout, stage, fmt.Sprintf("inference call '%s' timed out", kind), cause)
}

func NewInteractionError(cause error) *DragonScaleError {
	return NewError(ErrCodeInteraction, StageResolution, "interactive channel failed", cause)
}

func NewInteractionTimeoutError(cause error) *DragonScaleError {
	return NewError(ErrCodeInteractionTimeout, StageResolution, "no reply from the user in time", cause)
}

func NewGatherIncompleteError(missing []string) *DragonScaleError {
	return NewError(ErrCodeGatherIncomplete, StageResolution, fmt.Sprintf("gather did not supply slots %v", missing), nil)
}

func NewBindingError(toolName, param string, cause error) *DragonScaleError {
	return NewError(ErrCodeBinding, StageEvaluation, fmt.Sprintf("cannot bind '%s' of tool '%s'", param, toolName), cause)
}

func NewToolNotFoundError(stage, toolName string) *DragonScaleError {
	return NewError(ErrCodeToolNotFound, stage, fmt.Sprintf("tool '%s' not found", toolName), nil)
}

func NewToolExecutionError(toolName string, cause error) *DragonScaleError {
	return NewError(ErrCodeToolExecution, StageEvaluation, fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewContractError(stage, message string) *DragonScaleError {
	return NewError(ErrCodeContract, stage, message, nil)
}

func NewConfigurationError(message string, cause error) *DragonScaleError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewAbortedError(reason string) *DragonScaleError {
	msg := "aborted"
	if reason != "" {
		msg = fmt.Sprintf("aborted: %s", reason)
	}
	return NewError(ErrCodeAborted, StageEvaluation, msg, nil)
}

func NewIterationLimitError(limit int) *DragonScaleError {
	return NewError(ErrCodeIterationLimit, StageSession, fmt.Sprintf("gave up after %d recovery iterations", limit), nil)
}

func NewCancelledError(stage string, cause error) *DragonScaleError {
	msg := "execution cancelled"
	if cause != nil && !errors.Is(cause, context.Canceled) {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewCacheError(stage, operation string, cause error) *DragonScaleError {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewInternalError(stage, message string, cause error) *DragonScaleError {
	return NewError(ErrCodeInternal, stage, message, cause)
}
