package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "pass", StatusPass.String())
	assert.Equal(t, "warn", StatusWarn.String())
	assert.Equal(t, "fail", StatusFail.String())
	assert.Equal(t, "unknown", Status(9).String())
}

func TestReport_Err(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		code    string
	}{
		{"empty", nil, ""},
		{"warnings only", []Result{{Check: Memory, Status: StatusWarn}}, ""},
		{"limit failure", []Result{{Check: FileDescriptors, Status: StatusFail, Message: "256"}}, fmerrors.ErrCodeConfigInvalid},
		{"disk failure wins", []Result{
			{Check: FileDescriptors, Status: StatusFail},
			{Check: DiskSpace, Target: "/tmp", Status: StatusFail},
		}, fmerrors.ErrCodeDiskFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Report{Results: tt.results}
			err := r.Err()
			if tt.code == "" {
				assert.NoError(t, err)
				assert.False(t, r.Failed())
				return
			}
			require.Error(t, err)
			assert.True(t, r.Failed())
			assert.Equal(t, tt.code, fmerrors.GetCode(err))
		})
	}
}

func TestReport_ErrNamesEveryFailure(t *testing.T) {
	r := &Report{Results: []Result{
		{Check: DiskSpace, Target: "/data", Status: StatusFail, Message: "1 GB free", Hint: "Point --temp-dir at a larger volume"},
		{Check: Memory, Status: StatusWarn, Message: "tight"},
		{Check: FileDescriptors, Status: StatusFail, Message: "256"},
	}}

	err := r.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk_space (/data): 1 GB free; file_descriptors: 256")
	assert.NotContains(t, err.Error(), "tight")

	var fe *fmerrors.FMError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Suggestion, "--temp-dir")
	assert.Len(t, r.Warnings(), 1)
}

func TestChecker_CheckWritePermissions_Writable(t *testing.T) {
	dir := t.TempDir()

	res := New().CheckWritePermissions(dir)

	assert.Equal(t, StatusPass, res.Status)
	assert.Equal(t, WritePermissions, res.Check)
	assert.Equal(t, dir, res.Target)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file must be removed")
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	res := New().CheckWritePermissions(dir)

	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Message, "not writable")
	assert.NotEmpty(t, res.Hint)
}

func TestChecker_CheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	checker := New()

	ok := checker.CheckDiskSpace(dir, 1)
	assert.Equal(t, DiskSpace, ok.Check)
	assert.Contains(t, ok.Message, "free")

	tooMuch := checker.CheckDiskSpace(dir, 1<<62)
	assert.Equal(t, StatusFail, tooMuch.Status)
	assert.NotEmpty(t, tooMuch.Hint)

	missing := checker.CheckDiskSpace(filepath.Join(dir, "nope"), 1)
	assert.Equal(t, StatusFail, missing.Status)
	assert.Contains(t, missing.Message, "statfs")
}

func TestChecker_CheckMemory(t *testing.T) {
	checker := New()

	small := checker.CheckMemory(1 << 20)
	assert.Equal(t, Memory, small.Check)
	assert.NotEqual(t, StatusFail, small.Status)

	huge := checker.CheckMemory(1 << 62)
	assert.Equal(t, StatusFail, huge.Status)
}

func TestChecker_CheckFileDescriptors(t *testing.T) {
	res := New().CheckFileDescriptors()

	assert.Equal(t, FileDescriptors, res.Check)
	assert.Contains(t, res.Message, "want 1024")
}

func TestChecker_CheckFileDescriptors_UlimitAboveHardLimitWarns(t *testing.T) {
	res := New(WithUlimit(1 << 40)).CheckFileDescriptors()

	assert.NotEqual(t, StatusPass, res.Status)
}

func countChecks(r *Report) map[string]int {
	counts := make(map[string]int)
	for _, res := range r.Results {
		counts[res.Check]++
	}
	return counts
}

func TestChecker_Run_SeparateTempDir(t *testing.T) {
	report, err := New().Run(context.Background(), Requirements{
		SaveDir:  t.TempDir(),
		TempDir:  t.TempDir(),
		MemBytes: 1 << 20,
	})
	require.NoError(t, err)

	counts := countChecks(report)
	assert.Equal(t, 2, counts[DiskSpace])
	assert.Equal(t, 2, counts[WritePermissions])
	assert.Equal(t, 1, counts[Memory])
	assert.Equal(t, 1, counts[FileDescriptors])
}

func TestChecker_Run_SameTempDirCheckedOnce(t *testing.T) {
	save := t.TempDir()

	report, err := New().Run(context.Background(), Requirements{SaveDir: save, TempDir: save + "/", MemBytes: 1 << 20})
	require.NoError(t, err)

	assert.Equal(t, 1, countChecks(report)[DiskSpace])
}

func TestChecker_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Run(ctx, Requirements{SaveDir: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}
