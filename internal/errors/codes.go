// Package errors provides structured error handling for fmindex.
//
// Codes read ERR_<number>_<NAME>. The hundreds digit is the category:
// 1 configuration, 2 files and index artifacts, 4 caller input, 5 internal.
package errors

// Category groups codes by who has to act on them.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity tells callers whether to abort, report, or retry.
type Severity string

const (
	// SeverityFatal means the shard or build cannot proceed as is.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails the operation but leaves the process usable.
	SeverityError Severity = "ERROR"
	// SeverityWarning means a retry, possibly with other parameters, may succeed.
	SeverityWarning Severity = "WARNING"
)

const (
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeDiskFull     = "ERR_203_DISK_FULL"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"
	ErrCodeDecodeFailed = "ERR_207_DECODE_FAILED"

	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeParseFailed       = "ERR_402_PARSE_FAILED"
	ErrCodeUnsupportedFormat = "ERR_403_UNSUPPORTED_FORMAT"
	ErrCodeUnknownIndex      = "ERR_404_UNKNOWN_INDEX"
	ErrCodeUnknownOperation  = "ERR_405_UNKNOWN_OPERATION"

	ErrCodeInternal           = "ERR_501_INTERNAL"
	ErrCodeConstructionWorker = "ERR_506_CONSTRUCTION_WORKER"
	ErrCodeLocked             = "ERR_507_LOCKED"
)

// overrides lists codes whose severity differs from SeverityError. A
// malformed corpus line or unknown file type aborts a build; a corrupt
// artifact makes a shard unusable.
var overrides = map[string]Severity{
	ErrCodeCorruptIndex:       SeverityFatal,
	ErrCodeDiskFull:           SeverityFatal,
	ErrCodeConstructionWorker: SeverityFatal,
	ErrCodeParseFailed:        SeverityFatal,
	ErrCodeUnsupportedFormat:  SeverityFatal,
	ErrCodeDecodeFailed:       SeverityWarning,
	ErrCodeLocked:             SeverityWarning,
}

var categoryByDigit = map[byte]Category{
	'1': CategoryConfig,
	'2': CategoryIO,
	'4': CategoryValidation,
}

// categoryFromCode reads the hundreds digit after "ERR_".
func categoryFromCode(code string) Category {
	if len(code) >= 7 && code[:4] == "ERR_" {
		if c, ok := categoryByDigit[code[4]]; ok {
			return c
		}
	}
	return CategoryInternal
}

func severityFromCode(code string) Severity {
	if s, ok := overrides[code]; ok {
		return s
	}
	return SeverityError
}

func isRetryableCode(code string) bool {
	return severityFromCode(code) == SeverityWarning
}
