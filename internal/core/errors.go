package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatPath        ErrorCategory = "path"        // Project root resolution failed
	ErrCatConfig      ErrorCategory = "config"      // Malformed or incomplete configuration
	ErrCatTemplate    ErrorCategory = "template"    // Composition pipeline failure
	ErrCatNotFound    ErrorCategory = "not_found"   // Entity id does not map to a file
	ErrCatPersistence ErrorCategory = "persistence" // Parse, lock or rename failure
	ErrCatTransition  ErrorCategory = "transition"  // Guard or action refused a transition
	ErrCatGit         ErrorCategory = "git"         // Git subprocess failed or invariant violated
	ErrCatValidator   ErrorCategory = "validator"   // Engine subprocess failed or timed out
	ErrCatTimeout     ErrorCategory = "timeout"     // Operation timed out
	ErrCatInternal    ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
// Remediation, when set, is a one-line hint (a command or config key)
// the caller can surface to fix the condition.
type DomainError struct {
	Category    ErrorCategory
	Code        string
	Message     string
	Remediation string
	Retryable   bool
	Cause       error
	Details     map[string]any
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithRemediation attaches a fix hint.
func (e *DomainError) WithRemediation(hint string) *DomainError {
	e.Remediation = hint
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrPath creates a project root resolution error.
func ErrPath(code, message string) *DomainError {
	return &DomainError{Category: ErrCatPath, Code: code, Message: message}
}

// ErrConfig creates a configuration error.
func ErrConfig(code, message string) *DomainError {
	return &DomainError{Category: ErrCatConfig, Code: code, Message: message}
}

// ErrTemplate creates a composition error.
func ErrTemplate(code, message string) *DomainError {
	return &DomainError{Category: ErrCatTemplate, Code: code, Message: message}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrPersistence creates a persistence error.
func ErrPersistence(code, message string) *DomainError {
	return &DomainError{Category: ErrCatPersistence, Code: code, Message: message}
}

// ErrGit creates a git error.
func ErrGit(code, message string) *DomainError {
	return &DomainError{Category: ErrCatGit, Code: code, Message: message}
}

// ErrValidator creates a validator engine error.
func ErrValidator(code, message string) *DomainError {
	return &DomainError{Category: ErrCatValidator, Code: code, Message: message, Retryable: true}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{Category: ErrCatTimeout, Code: "TIMEOUT", Message: message, Retryable: true}
}

// TransitionError reports a refused state transition along with the
// individual guard violations that caused the refusal.
type TransitionError struct {
	Kind       EntityKind
	EntityID   string
	From       string
	To         string
	Violations []string
	Cause      error
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("transition %s -> %s blocked for %s %s", e.From, e.To, e.Kind, e.EntityID)
	if len(e.Violations) > 0 {
		msg += fmt.Sprintf(": %v", e.Violations)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *TransitionError) Unwrap() error {
	return e.Cause
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// HasCode checks if an error carries a domain error code.
func HasCode(err error, code string) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code == code
	}
	return false
}

// Predefined error codes
const (
	CodeRootNotFound       = "ROOT_NOT_FOUND"
	CodeRootIsConfigDir    = "ROOT_IS_CONFIG_DIR"
	CodeInvalidYAML        = "INVALID_YAML"
	CodeMissingKey         = "MISSING_KEY"
	CodeUnknownFunction    = "UNKNOWN_FUNCTION"
	CodeInvalidExpression  = "INVALID_EXPRESSION"
	CodeIncludeMissing     = "INCLUDE_MISSING"
	CodeIncludeCycle       = "INCLUDE_CYCLE"
	CodeInvalidFrontmatter = "INVALID_FRONTMATTER"
	CodeLegacyFormat       = "LEGACY_FORMAT"
	CodeLockAcquireFailed  = "LOCK_ACQUIRE_FAILED"
	CodeRenameFailed       = "RENAME_FAILED"
	CodeUnknownState       = "UNKNOWN_STATE"
	CodeGuardFailed        = "GUARD_FAILED"
	CodeActionFailed       = "ACTION_FAILED"
	CodeHeadMoved          = "HEAD_MOVED"
	CodeWorktreeInvalid    = "WORKTREE_INVALID"
	CodeGitFailed          = "GIT_FAILED"
	CodeEngineUnavailable  = "ENGINE_UNAVAILABLE"
	CodeEngineTimeout      = "ENGINE_TIMEOUT"
	CodeParseFailed        = "PARSE_FAILED"
	CodeRoundGap           = "ROUND_GAP"
	CodeSessionOwned       = "SESSION_OWNED"
)
