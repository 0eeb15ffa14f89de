// Package logging configures structured JSON logging for fmindex. Long
// running commands (serve, build) log to a size-rotated file under
// ~/.fmindex/logs and optionally to stderr; the logs command reads those
// files back.
package logging
