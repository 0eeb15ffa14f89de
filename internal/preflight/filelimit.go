package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MinFileDescriptors is the lowest acceptable open file limit. Merging
// keeps one descriptor open per partition.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks RLIMIT_NOFILE. With a ulimit configured it
// first raises the soft limit towards it.
func (c *Checker) CheckFileDescriptors() Result {
	res := Result{Check: FileDescriptors}

	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		res.Status = StatusFail
		res.Message = fmt.Sprintf("getrlimit: %v", err)
		return res
	}

	want := uint64(MinFileDescriptors)
	if c.ulimit > 0 {
		want = c.ulimit
		if lim.Cur < want {
			raised := unix.Rlimit{Cur: min(want, lim.Max), Max: lim.Max}
			if unix.Setrlimit(unix.RLIMIT_NOFILE, &raised) == nil {
				lim = raised
			}
		}
	}

	res.Message = fmt.Sprintf("soft limit %d, want %d", lim.Cur, want)
	switch {
	case lim.Cur < MinFileDescriptors:
		res.Status = StatusFail
		res.Hint = "Run 'ulimit -n 65536' or pass --ulimit"
	case lim.Cur < want:
		res.Status = StatusWarn
		res.Hint = fmt.Sprintf("hard limit is %d", lim.Max)
	}
	return res
}
