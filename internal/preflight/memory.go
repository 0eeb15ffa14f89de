package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CheckMemory compares the construction memory budget with physical
// memory. A budget above total RAM fails; above free RAM it warns.
func (c *Checker) CheckMemory(budget uint64) Result {
	res := Result{Check: Memory}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("sysinfo: %v", err)
		return res
	}
	unit := max(uint64(info.Unit), 1)
	total := uint64(info.Totalram) * unit
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit

	res.Message = fmt.Sprintf("budget %s, %s free of %s", size(budget), size(free), size(total))
	switch {
	case budget > total:
		res.Status = StatusFail
		res.Hint = "Lower --mem-gib so partitions fit in physical memory"
	case budget > free:
		res.Status = StatusWarn
		res.Hint = "Construction may swap"
	}
	return res
}
