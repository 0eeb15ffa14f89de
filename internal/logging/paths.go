package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultLogDir is ~/.fmindex/logs, or a directory under the temp dir when
// there is no home.
func DefaultLogDir() string {
	base := os.TempDir()
	if home, err := os.UserHomeDir(); err == nil {
		base = home
	}
	return filepath.Join(base, ".fmindex", "logs")
}

func DefaultLogPath() string { return filepath.Join(DefaultLogDir(), "server.log") }
func BuildLogPath() string { return filepath.Join(DefaultLogDir(), "build.log") }
func DefaultQueryLogPath() string { return filepath.Join(DefaultLogDir(), "queries.jsonl") }

// LogSource selects which log files the viewer reads.
type LogSource string

const (
	LogSourceServer LogSource = "server"
	LogSourceBuild  LogSource = "build"
	LogSourceAll    LogSource = "all"
)

// sourcePaths lists the candidate files of each source.
var sourcePaths = map[LogSource]func() []string{
	LogSourceServer: func() []string { return []string{DefaultLogPath()} },
	LogSourceBuild:  func() []string { return []string{BuildLogPath()} },
	LogSourceAll:    func() []string { return []string{DefaultLogPath(), BuildLogPath()} },
}

// ParseLogSource maps "" to the server source.
func ParseLogSource(s string) (LogSource, error) {
	if s == "" {
		return LogSourceServer, nil
	}
	src := LogSource(strings.ToLower(s))
	if _, ok := sourcePaths[src]; !ok {
		return "", fmt.Errorf("unknown log source %q (use: server, build, all)", s)
	}
	return src, nil
}

// FindLogFiles returns the existing log files for source, or just explicit
// when it is set.
func FindLogFiles(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("log file not found: %s", explicit)
		}
		return []string{explicit}, nil
	}

	paths, ok := sourcePaths[source]
	if !ok {
		return nil, fmt.Errorf("unknown log source %q", source)
	}
	candidates := paths()
	var found []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no log files found for source %q; checked %s", source, strings.Join(candidates, ", "))
	}
	return found, nil
}

// sourceFromPath labels a file by its name up to the first dot, so rotated
// "server.log.1" is still "server".
func sourceFromPath(path string) string {
	name, _, _ := strings.Cut(filepath.Base(path), ".")
	return name
}
