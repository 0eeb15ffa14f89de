package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fmindex/internal/codec"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

func newTestCoordinator(t *testing.T, save string, mem int64, worker ConstructionWorker) *Coordinator {
	t.Helper()
	coord, err := NewCoordinator(CoordinatorConfig{
		SaveDir:     save,
		TempDir:     filepath.Join(filepath.Dir(save), "scratch"),
		MemBytes:    mem,
		Parallelism: 2,
	}, worker)
	require.NoError(t, err)
	return coord
}

func TestCoordinator_NativeBuildIsExact(t *testing.T) {
	tests := []struct {
		name string
		mem  int64
	}{
		{"single batch", 1 << 30},
		{"many batches", 40 * BytesPerInputByte},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			save := prepareShard(t, sampleDocs)
			coord := newTestCoordinator(t, save, tt.mem, &NativeWorker{})

			for _, ch := range codec.Channels {
				res, err := coord.Build(context.Background(), ch)
				require.NoError(t, err)
				assert.False(t, res.Skipped)
				require.NotNil(t, res.Plan)
				requireValidChannel(t, save, ch)
			}
		})
	}
}

func TestCoordinator_SmallHackSizeStillExactForShortRepeats(t *testing.T) {
	// Every character is distinct, so no repeat is longer than the window.
	docs := []string{"abcdefgh", "ijklmnop", "qrstuvwx", "yz012345", "6789ABCD"}
	save := prepareShard(t, docs)

	coord, err := NewCoordinator(CoordinatorConfig{
		SaveDir:     save,
		MemBytes:    8 * BytesPerInputByte,
		Parallelism: 3,
		HackSize:    4,
	}, &NativeWorker{})
	require.NoError(t, err)

	_, err = coord.Build(context.Background(), codec.ChannelData)
	require.NoError(t, err)
	requireValidChannel(t, save, codec.ChannelData)
}

func TestCoordinator_RemovesScratchAndSkipsWhenBuilt(t *testing.T) {
	save := prepareShard(t, sampleDocs)
	scratch := filepath.Join(filepath.Dir(save), "scratch")
	coord := newTestCoordinator(t, save, 1<<20, &NativeWorker{})

	_, err := coord.Build(context.Background(), codec.ChannelData)
	require.NoError(t, err)

	for _, dir := range []string{"parts", "merged", "bwt"} {
		assert.NoDirExists(t, filepath.Join(scratch, dir))
	}
	assert.NoFileExists(t, filepath.Join(save, codec.ChannelData.SAName()+".tmp"))

	info, err := os.Stat(filepath.Join(save, codec.ChannelData.SAName()))
	require.NoError(t, err)

	res, err := coord.Build(context.Background(), codec.ChannelData)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	again, err := os.Stat(filepath.Join(save, codec.ChannelData.SAName()))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime())
}

func TestCoordinator_ReportsProgress(t *testing.T) {
	save := prepareShard(t, sampleDocs)

	var mu sync.Mutex
	var stages []string
	coord, err := NewCoordinator(CoordinatorConfig{
		SaveDir:     save,
		MemBytes:    40 * BytesPerInputByte,
		Parallelism: 2,
		Progress: func(ch codec.Channel, stage string, done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, codec.ChannelMeta, ch)
			assert.LessOrEqual(t, done, total)
			stages = append(stages, stage)
		},
	}, &NativeWorker{})
	require.NoError(t, err)

	_, err = coord.Build(context.Background(), codec.ChannelMeta)
	require.NoError(t, err)

	assert.Equal(t, StageMakePart, stages[0])
	assert.Equal(t, []string{StageMerge, StageConcat}, stages[len(stages)-2:])
}

// failingWorker delegates to the native worker but fails one stage.
type failingWorker struct {
	NativeWorker
	failStage string
}

func (w *failingWorker) MakePart(ctx context.Context, req PartRequest) error {
	if w.failStage == StageMakePart {
		return errors.New("out of memory")
	}
	return w.NativeWorker.MakePart(ctx, req)
}

func (w *failingWorker) Merge(ctx context.Context, req MergeRequest) error {
	if w.failStage == StageMerge {
		return errors.New("disk quota exceeded")
	}
	return w.NativeWorker.Merge(ctx, req)
}

func TestCoordinator_WorkerFailureAborts(t *testing.T) {
	for _, stage := range []string{StageMakePart, StageMerge} {
		t.Run(stage, func(t *testing.T) {
			save := prepareShard(t, sampleDocs)
			coord := newTestCoordinator(t, save, 1<<20, &failingWorker{failStage: stage})

			_, err := coord.Build(context.Background(), codec.ChannelData)

			require.Error(t, err)
			assert.Equal(t, fmerrors.ErrCodeConstructionWorker, fmerrors.GetCode(err))
			assert.True(t, fmerrors.IsFatal(err))
			assert.False(t, Built(save, codec.ChannelData))
		})
	}
}

func TestCoordinator_ExecWorkerFailure(t *testing.T) {
	save := prepareShard(t, sampleDocs)
	worker := &ExecWorker{
		Binary:    "sh",
		ExtraArgs: []string{"-c", "echo 'worker exploded' >&2; exit 3", "worker"},
	}
	coord := newTestCoordinator(t, save, 1<<20, worker)

	_, err := coord.Build(context.Background(), codec.ChannelData)

	require.Error(t, err)
	assert.Equal(t, fmerrors.ErrCodeConstructionWorker, fmerrors.GetCode(err))
	assert.ErrorContains(t, errors.Unwrap(err), "worker exploded")
	assert.False(t, Built(save, codec.ChannelData))
}

func TestExecWorker_PassesContractArguments(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	worker := &ExecWorker{
		Binary:    "sh",
		ExtraArgs: []string{"-c", `printf '%s\n' "$@" > "$0"`, out},
	}

	err := worker.MakePart(context.Background(), PartRequest{
		DataFile: "/x/data.blob", PartsDir: "/x/parts", Start: 8, End: 108, Ratio: 2,
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t,
		"make-part --data-file /x/data.blob --parts-dir /x/parts --start-byte 8 --end-byte 108 --ratio 2",
		strings.Join(strings.Fields(string(raw)), " "))
}

func TestRequestArgs(t *testing.T) {
	merge := MergeRequest{
		DataFile: "d", PartsDir: "p", MergedDir: "m", BWTDir: "b", Threads: 4, HackSize: 100000, Ratio: 5,
	}.Args()
	assert.Equal(t, []string{"merge", "--data-file", "d", "--parts-dir", "p", "--merged-dir", "m",
		"--bwt-dir", "b", "--num-threads", "4", "--hacksize", "100000", "--ratio", "5"}, merge)

	concat := ConcatRequest{
		DataFile: "d", MergedDir: "m", MergedFile: "sa", BWTDir: "b", BWTFile: "bwt", Threads: 2, Ratio: 3,
	}.Args()
	assert.Equal(t, []string{"concat", "--data-file", "d", "--merged-dir", "m", "--merged-file", "sa",
		"--bwt-dir", "b", "--bwt-file", "bwt", "--num-threads", "2", "--ratio", "3"}, concat)
}

func TestNewCoordinator_Validation(t *testing.T) {
	_, err := NewCoordinator(CoordinatorConfig{SaveDir: "x", Parallelism: 1}, nil)
	assert.Error(t, err)

	_, err = NewCoordinator(CoordinatorConfig{Parallelism: 1}, &NativeWorker{})
	assert.Error(t, err)

	_, err = NewCoordinator(CoordinatorConfig{SaveDir: "x"}, &NativeWorker{})
	assert.Error(t, err)
}
