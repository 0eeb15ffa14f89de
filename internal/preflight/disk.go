package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Aman-CERP/fmindex/internal/ui"
)

// MinDiskSpaceBytes is the free space required even for tiny builds.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace requires need bytes free under path, and never less than
// MinDiskSpaceBytes.
func (c *Checker) CheckDiskSpace(path string, need uint64) Result {
	res := Result{Check: DiskSpace, Target: path}
	need = max(need, MinDiskSpaceBytes)

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		res.Status = StatusFail
		res.Message = fmt.Sprintf("statfs: %v", err)
		return res
	}

	avail := stat.Bavail * uint64(stat.Bsize)
	res.Message = fmt.Sprintf("%s free, build needs about %s", size(avail), size(need))
	if avail < need {
		res.Status = StatusFail
		res.Hint = "Point --temp-dir at a larger volume"
	}
	return res
}

func size(n uint64) string {
	return ui.FormatBytes(int64(min(n, 1<<62)))
}
