package errors

import (
	stderrors "errors"
	"fmt"
)

// FMError carries a stable code plus the context CLI output, logs and the
// query protocol render. Category, Severity and Retryable follow from Code.
type FMError struct {
	Code     string // e.g. "ERR_205_CORRUPT_INDEX"
	Message  string
	Category Category
	Severity Severity
	Details  map[string]string
	Cause    error
	// Retryable means the same request may succeed later or with other
	// parameters.
	Retryable  bool
	Suggestion string
}

func (e *FMError) Error() string { return "[" + e.Code + "] " + e.Message }

func (e *FMError) Unwrap() error { return e.Cause }

// Is compares codes, so a value built with New works as a sentinel.
func (e *FMError) Is(target error) bool {
	t, ok := target.(*FMError)
	return ok && t.Code == e.Code
}

func (e *FMError) WithDetail(key, value string) *FMError {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details[key] = value
	return e
}

func (e *FMError) WithSuggestion(s string) *FMError {
	e.Suggestion = s
	return e
}

func New(code, message string, cause error) *FMError {
	return &FMError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap uses err's text as the message. A nil err yields nil.
func Wrap(code string, err error) *FMError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

func ConfigError(message string, cause error) *FMError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError is for files that cannot be opened or read.
func IOError(message string, cause error) *FMError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError marks bad caller input; the server answers it with 400.
func ValidationError(message string, cause error) *FMError {
	return New(ErrCodeInvalidInput, message, cause)
}

func InternalError(message string, cause error) *FMError {
	return New(ErrCodeInternal, message, cause)
}

// CorruptIndexError reports a shard artifact that matches no known layout.
func CorruptIndexError(path, reason string) *FMError {
	return New(ErrCodeCorruptIndex, fmt.Sprintf("corrupt index artifact %s: %s", path, reason), nil).
		WithDetail("path", path).
		WithSuggestion("Rebuild the shard with 'fmindex build'")
}

// DecodeError reports a context window that is not valid UTF-8, usually
// because the window edge split a multi-byte character.
func DecodeError(cause error) *FMError {
	return New(ErrCodeDecodeFailed,
		"failed to decode document text with UTF-8, try a different max context length", cause).
		WithSuggestion("Retry with a different context length")
}

func UnsupportedFormatError(path string) *FMError {
	return New(ErrCodeUnsupportedFormat, "unsupported corpus file format: "+path, nil).
		WithDetail("path", path).
		WithSuggestion("Use .jsonl, .json.gz or .jsonl.zst files")
}

// ConstructionWorkerError reports a failed make-part or merge stage.
func ConstructionWorkerError(stage string, cause error) *FMError {
	return New(ErrCodeConstructionWorker, "construction worker failed during "+stage, cause).
		WithDetail("stage", stage).
		WithSuggestion("Fix the cause and rerun the build; completed stages are skipped")
}

func as(err error) (*FMError, bool) {
	var fe *FMError
	ok := stderrors.As(err, &fe)
	return fe, ok
}

// field reads get from the first FMError in err's chain, or returns the
// zero value.
func field[T any](err error, get func(*FMError) T) T {
	if fe, ok := as(err); ok {
		return get(fe)
	}
	var zero T
	return zero
}

func IsRetryable(err error) bool {
	return field(err, func(e *FMError) bool { return e.Retryable })
}

func IsFatal(err error) bool {
	return field(err, func(e *FMError) bool { return e.Severity == SeverityFatal })
}

// IsClientError reports whether err was caused by caller input.
func IsClientError(err error) bool {
	return GetCategory(err) == CategoryValidation
}

func IsDecodeError(err error) bool {
	return GetCode(err) == ErrCodeDecodeFailed
}

// GetCode returns "" when err carries no FMError.
func GetCode(err error) string {
	return field(err, func(e *FMError) string { return e.Code })
}

func GetCategory(err error) Category {
	return field(err, func(e *FMError) Category { return e.Category })
}
