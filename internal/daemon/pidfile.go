package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// ErrPIDFileNotFound is returned when no PID file exists.
var ErrPIDFileNotFound = errors.New("PID file not found")

// ErrAlreadyRunning is returned by Acquire when another server owns the
// PID file.
var ErrAlreadyRunning = errors.New("server already running")

// PIDFile records the serving process. Ownership is an advisory lock on
// <path>.lock held for the life of the server; the PID itself is only
// informational, for stop and status.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// NewPIDFile returns the PID file at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire takes the lock and records the current PID. It fails with
// ErrAlreadyRunning when the lock is held, or when the file names a
// different live process. Files left behind by a crashed server are
// replaced.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	locked, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock PID file: %w", err)
	}
	if !locked {
		pid, _ := p.Read()
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	if pid, err := p.Read(); err == nil && pid != os.Getpid() && alive(pid) {
		_ = p.lock.Unlock()
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if err := p.Write(); err != nil {
		_ = p.lock.Unlock()
		return err
	}
	return nil
}

// Release removes the PID file and drops the lock.
func (p *PIDFile) Release() error {
	err := p.Remove()
	if uerr := p.lock.Unlock(); uerr != nil && err == nil {
		err = fmt.Errorf("unlock PID file: %w", uerr)
	}
	return err
}

// Write atomically records the current PID.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return 0, ErrPIDFileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s: %q", p.path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive.
func (p *PIDFile) IsRunning() bool {
	pid, err := p.Read()
	return err == nil && alive(pid)
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return err
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal %d: %w", pid, err)
	}
	return nil
}

// alive probes pid with signal 0. EPERM means the process exists but
// belongs to another user.
func alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
