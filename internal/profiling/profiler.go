// Package profiling captures CPU, heap and trace profiles around a command
// run, and reports process memory for build summaries.
package profiling

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"golang.org/x/sys/unix"
)

// Options names the profile outputs. Empty paths are skipped.
type Options struct {
	CPU   string
	Heap  string
	Trace string
}

func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Trace != ""
}

// Session is a running set of profiles. Stop runs the registered finishers
// in reverse order.
type Session struct {
	finish []func() error
}

// continuous profiles stream into their file from Start until Stop.
type continuous struct {
	name  string
	start func(io.Writer) error
	stop  func()
}

var (
	cpuProfile   = continuous{"CPU profile", pprof.StartCPUProfile, pprof.StopCPUProfile}
	traceProfile = continuous{"trace", trace.Start, trace.Stop}
)

// Start begins CPU profiling and tracing as requested. The heap profile is
// snapshotted by Stop.
func Start(opts Options) (*Session, error) {
	s := &Session{}
	for _, p := range []struct {
		path string
		kind continuous
	}{{opts.CPU, cpuProfile}, {opts.Trace, traceProfile}} {
		if p.path == "" {
			continue
		}
		if err := s.begin(p.path, p.kind); err != nil {
			_ = s.Stop()
			return nil, err
		}
	}
	if opts.Heap != "" {
		path := opts.Heap
		s.finish = append(s.finish, func() error { return writeHeap(path) })
	}
	return s, nil
}

func (s *Session) begin(path string, kind continuous) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s file: %w", kind.name, err)
	}
	if err := kind.start(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("start %s: %w", kind.name, err)
	}
	s.finish = append(s.finish, func() error {
		kind.stop()
		return f.Close()
	})
	return nil
}

// Stop ends the profiles. Calling it again is a no-op.
func (s *Session) Stop() error {
	var errs []error
	for i := len(s.finish) - 1; i >= 0; i-- {
		errs = append(errs, s.finish[i]())
	}
	s.finish = nil
	return errors.Join(errs...)
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heap profile file: %w", err)
	}
	runtime.GC()
	werr := pprof.WriteHeapProfile(f)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write heap profile: %w", werr)
	}
	return nil
}

// Memory is a snapshot of process memory use.
type Memory struct {
	// PeakRSS is the high-water resident set size in bytes.
	PeakRSS   uint64
	HeapInUse uint64
}

// ReadMemory samples rusage and the Go heap.
func ReadMemory() (Memory, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return Memory{}, fmt.Errorf("getrusage: %w", err)
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	// Linux reports maxrss in kilobytes.
	return Memory{PeakRSS: uint64(ru.Maxrss) * 1024, HeapInUse: ms.HeapInuse}, nil
}
