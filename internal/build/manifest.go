package build

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Aman-CERP/fmindex/internal/codec"
)

// ManifestVersion is the current manifest schema version.
const ManifestVersion = 1

// ChannelInfo records the layout of one channel.
type ChannelInfo struct {
	TextLength uint64 `json:"text_length"`
	Ratio      int    `json:"ratio"`
}

// Manifest summarizes a completed shard build.
type Manifest struct {
	Version    int                    `json:"version"`
	Generation string                 `json:"generation"`
	Documents  int                    `json:"documents"`
	Channels   map[string]ChannelInfo `json:"channels"`
	// Checksums maps artifact name to its xxhash64, hex encoded.
	Checksums map[string]string `json:"checksums,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// shardArtifacts lists every artifact covered by checksums.
func shardArtifacts() []string {
	names := codec.CoreArtifacts()
	for _, ch := range codec.Channels {
		names = append(names, ch.SAName(), ch.BWTName())
	}
	return names
}

// NewManifest inspects a built shard. With checksums set every artifact
// is hashed, which reads the whole shard once.
func NewManifest(dir string, checksums bool) (*Manifest, error) {
	m := &Manifest{
		Version:   ManifestVersion,
		Channels:  make(map[string]ChannelInfo),
		CreatedAt: time.Now().UTC(),
	}
	for _, ch := range codec.Channels {
		layout, err := codec.DetectLayout(dir, ch)
		if err != nil {
			return nil, err
		}
		if err := layout.CheckSA(filepath.Join(dir, ch.SAName())); err != nil {
			return nil, err
		}
		if err := layout.CheckBWT(filepath.Join(dir, ch.BWTName())); err != nil {
			return nil, err
		}
		m.Generation = layout.Generation.String()
		m.Channels[string(ch)] = ChannelInfo{TextLength: layout.TextLength, Ratio: layout.Ratio}
	}

	info, err := os.Stat(filepath.Join(dir, codec.ChannelData.OffsetName()))
	if err != nil {
		return nil, err
	}
	m.Documents = int(info.Size() / 8)

	if checksums {
		m.Checksums = make(map[string]string)
		for _, name := range shardArtifacts() {
			sum, err := checksumFile(filepath.Join(dir, name))
			if err != nil {
				return nil, err
			}
			m.Checksums[name] = sum
		}
	}
	return m, nil
}

// Write stores the manifest in dir.
func (m *Manifest) Write(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, codec.ManifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, codec.ManifestName))
}

// ReadManifest loads the manifest of the shard in dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, codec.ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Verify rehashes every artifact listed in the manifest and returns the
// names whose contents changed, sorted.
func (m *Manifest) Verify(dir string) ([]string, error) {
	var mismatched []string
	for name, want := range m.Checksums {
		got, err := checksumFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if got != want {
			mismatched = append(mismatched, name)
		}
	}
	sort.Strings(mismatched)
	return mismatched, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
