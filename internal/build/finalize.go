package build

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/Aman-CERP/fmindex/internal/codec"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
	"github.com/Aman-CERP/fmindex/internal/fm"
	"github.com/Aman-CERP/fmindex/internal/mmapfile"
)

// Finalizer produces query-acceleration structures in a built shard.
type Finalizer interface {
	Finalize(ctx context.Context, shardDir string) error
}

// ExecFinalizer runs an external indexer with the shard directory as its
// only argument. Its outputs are opaque to fmindex.
type ExecFinalizer struct {
	Binary string
}

func (f *ExecFinalizer) Finalize(ctx context.Context, shardDir string) error {
	out, err := exec.CommandContext(ctx, f.Binary, shardDir).CombinedOutput()
	if err != nil {
		return fmerrors.ConstructionWorkerError("finalize",
			fmt.Errorf("%w: %s", err, lastLine(out))).WithDetail("binary", f.Binary)
	}
	return nil
}

func lastLine(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	var last string
	for sc.Scan() {
		if sc.Text() != "" {
			last = sc.Text()
		}
	}
	return last
}

// NativeFinalizer writes the occurrence table of each channel's BWT, so the
// query engine can skip the checkpoint scan at load.
type NativeFinalizer struct {
	// Interval is the checkpoint spacing. Defaults to fm.DefaultInterval.
	Interval int
}

func (f *NativeFinalizer) Finalize(ctx context.Context, shardDir string) error {
	for _, ch := range codec.Channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		occPath := filepath.Join(shardDir, ch.OccName())
		if _, err := os.Stat(occPath); err == nil {
			continue
		}
		if err := writeOcc(shardDir, ch, occPath, f.Interval); err != nil {
			return err
		}
		slog.Info("occurrence table written", slog.String("path", occPath))
	}
	return nil
}

func writeOcc(shardDir string, ch codec.Channel, occPath string, interval int) error {
	layout, err := codec.DetectLayout(shardDir, ch)
	if err != nil {
		return err
	}
	bwtPath := filepath.Join(shardDir, ch.BWTName())
	if err := layout.CheckBWT(bwtPath); err != nil {
		return err
	}
	bf, err := mmapfile.Open(bwtPath, false)
	if err != nil {
		return fmerrors.IOError("open bwt", err)
	}
	defer bf.Close()
	bwt := bf.Bytes()[layout.BWTHeader : layout.BWTHeader+int64(layout.TextLength)]

	table := fm.Build(bwt, interval)

	tmp := occPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmerrors.IOError("create occurrence table", err)
	}
	w := bufio.NewWriterSize(out, 1<<20)
	if _, err := table.WriteTo(w); err != nil {
		out.Close()
		return fmerrors.IOError("write occurrence table", err)
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return fmerrors.IOError("write occurrence table", err)
	}
	if err := out.Close(); err != nil {
		return fmerrors.IOError("close occurrence table", err)
	}
	return os.Rename(tmp, occPath)
}
