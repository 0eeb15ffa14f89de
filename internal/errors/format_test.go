package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: a decode error with a suggestion
	err := DecodeError(errors.New("invalid byte"))

	// When: formatting for the terminal
	result := FormatForCLI(err)

	// Then: message, cause, hint and code are present
	assert.Contains(t, result, "failed to decode document text")
	assert.Contains(t, result, "Cause: invalid byte")
	assert.Contains(t, result, "Hint:")
	assert.Contains(t, result, "Code: ERR_207_DECODE_FAILED")
}

func TestFormatForCLI_StandardError(t *testing.T) {
	result := FormatForCLI(errors.New("boom"))

	assert.Equal(t, "Error: boom\n", result)
}

func TestFormatForCLI_NilError(t *testing.T) {
	assert.Empty(t, FormatForCLI(nil))
}

func TestToJSON_HidesUncodedErrors(t *testing.T) {
	// Given: a plain error carrying internal detail
	err := errors.New("nil pointer in shard 3")

	// When: converting to the wire form
	je := ToJSON(err)

	// Then: only a generic message survives
	require.NotNil(t, je)
	assert.Equal(t, ErrCodeInternal, je.Code)
	assert.Equal(t, "internal server error", je.Message)
}

func TestFormatJSON_CodedError(t *testing.T) {
	err := New(ErrCodeUnknownIndex, "unknown index: pile", nil).WithDetail("index", "pile")

	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeUnknownIndex, decoded["code"])
	assert.Equal(t, "VALIDATION", decoded["category"])
	assert.Equal(t, map[string]any{"index": "pile"}, decoded["details"])
}

func TestFormatForLog(t *testing.T) {
	err := ConstructionWorkerError("merge", errors.New("exit status 1"))

	fields := FormatForLog(err)

	assert.Equal(t, ErrCodeConstructionWorker, fields["error_code"])
	assert.Equal(t, "exit status 1", fields["cause"])
	assert.Equal(t, "merge", fields["detail_stage"])
	assert.Equal(t, "FATAL", fields["severity"])
}
