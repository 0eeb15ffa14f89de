package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	MaxBackups = 3

	// BackupSuffix separates the config name from the backup timestamp.
	BackupSuffix = ".bak"

	// backupStamp sorts lexically in time order.
	backupStamp = "20060102-150405.000000000"
)

// BackupFile copies path to "<path>.bak.<stamp>" and keeps only the newest
// MaxBackups copies. A missing path yields "" and no error.
func BackupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("read %s for backup: %w", path, err)
	}

	dst := path + BackupSuffix + "." + time.Now().Format(backupStamp)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	if backups, err := ListBackups(path); err == nil {
		for _, stale := range backups[min(MaxBackups, len(backups)):] {
			_ = os.Remove(stale)
		}
	}
	return dst, nil
}

// ListBackups returns the backups of path, newest first.
func ListBackups(path string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), globEscape(filepath.Base(path))+BackupSuffix+".*"))
	if err != nil {
		return nil, fmt.Errorf("list backups of %s: %w", path, err)
	}
	slices.Sort(matches)
	slices.Reverse(matches)
	return matches, nil
}

// globEscape quotes the glob metacharacters in a file name.
func globEscape(name string) string {
	var b []byte
	for i := 0; i < len(name); i++ {
		switch c := name[i]; c {
		case '*', '?', '[', '\\':
			b = append(b, '\\', c)
		default:
			b = append(b, c)
		}
	}
	return string(b)
}

// WriteFileWithBackup writes data to path, creating its directory, and
// returns the backup made of the file it replaced, if any.
func WriteFileWithBackup(path string, data []byte) (backup string, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if backup, err = BackupFile(path); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return backup, fmt.Errorf("write %s: %w", path, err)
	}
	return backup, nil
}
