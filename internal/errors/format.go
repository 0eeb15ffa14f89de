package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI renders err for stderr. Coded errors get their cause, hint
// and code on indented lines; anything else prints as a single line.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	fe, ok := as(err)
	if !ok {
		return "Error: " + err.Error() + "\n"
	}

	lines := []string{"Error: " + fe.Message}
	if fe.Cause != nil && fe.Cause.Error() != fe.Message {
		lines = append(lines, "  Cause: "+fe.Cause.Error())
	}
	if fe.Suggestion != "" {
		lines = append(lines, "  Hint: "+fe.Suggestion)
	}
	lines = append(lines, "  Code: "+fe.Code)
	return strings.Join(lines, "\n") + "\n"
}

// JSONError is the wire form of an FMError.
type JSONError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// ToJSON converts err to its wire form. An error without a code becomes
// ERR_501_INTERNAL with a generic message; its text is not exposed.
func ToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}
	fe, ok := as(err)
	if !ok {
		fe = InternalError("internal server error", nil)
	}
	return &JSONError{
		Code:       fe.Code,
		Message:    fe.Message,
		Category:   string(fe.Category),
		Severity:   string(fe.Severity),
		Details:    fe.Details,
		Suggestion: fe.Suggestion,
		Retryable:  fe.Retryable,
	}
}

func FormatJSON(err error) ([]byte, error) {
	return json.Marshal(ToJSON(err))
}

// FormatForLog flattens err into slog-ready fields. Details are prefixed
// with "detail_".
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}
	fe, ok := as(err)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	fields := make(map[string]any, 6+len(fe.Details))
	fields["error_code"] = fe.Code
	fields["message"] = fe.Message
	fields["category"] = string(fe.Category)
	fields["severity"] = string(fe.Severity)
	fields["retryable"] = fe.Retryable
	if fe.Cause != nil {
		fields["cause"] = fe.Cause.Error()
	}
	for k, v := range fe.Details {
		fields[fmt.Sprintf("detail_%s", k)] = v
	}
	return fields
}
