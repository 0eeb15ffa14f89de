//go:build ignore

// Package main generates a synthetic JSONL corpus for benchmarking builds.
// Usage: go run scripts/generate-test-corpus.go -files 8 -docs 20000 -output testdata/bench
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	numFiles    = flag.Int("files", 8, "Number of corpus files to generate")
	docsPerFile = flag.Int("docs", 10000, "Documents per file")
	outputDir   = flag.String("output", "testdata/bench", "Output directory")
	compression = flag.String("compress", "mixed", "Compression: none, gzip, zstd or mixed")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var (
	nouns = []string{
		"river", "mountain", "language", "index", "library", "village", "engine",
		"garden", "letter", "signal", "market", "harbor", "forest", "theory",
		"window", "machine", "season", "bridge", "archive", "station",
	}
	adjectives = []string{
		"quiet", "ancient", "rapid", "natural", "hidden", "bright", "distant",
		"careful", "simple", "broken", "northern", "formal", "gentle", "open",
	}
	verbs = []string{
		"describes", "follows", "crosses", "contains", "reaches", "records",
		"explains", "connects", "measures", "carries", "opens", "returns",
	}
	sources = []string{"web", "books", "news", "wiki", "forum", "papers"}
)

type document struct {
	Text   string `json:"text"`
	ID     string `json:"id"`
	Source string `json:"source"`
	Words  int    `json:"words"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %d files of %d documents in %s...\n", *numFiles, *docsPerFile, *outputDir)

	var total int64
	for i := 0; i < *numFiles; i++ {
		n, err := generateFile(rng, i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating file %d: %v\n", i, err)
			os.Exit(1)
		}
		total += n
	}

	fmt.Printf("Generated %d documents, %d text bytes.\n", *numFiles**docsPerFile, total)
}

func extension(index int) string {
	mode := *compression
	if mode == "mixed" {
		mode = []string{"none", "gzip", "zstd"}[index%3]
	}
	switch mode {
	case "gzip":
		return ".jsonl.gz"
	case "zstd":
		return ".jsonl.zst"
	default:
		return ".jsonl"
	}
}

// generateFile writes one corpus file and returns its total text length.
func generateFile(rng *rand.Rand, index int) (int64, error) {
	name := filepath.Join(*outputDir, fmt.Sprintf("part-%05d%s", index, extension(index)))
	f, err := os.Create(name)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var w io.WriteCloser
	switch {
	case strings.HasSuffix(name, ".gz"):
		w = gzip.NewWriter(f)
	case strings.HasSuffix(name, ".zst"):
		zw, err := zstd.NewWriter(f)
		if err != nil {
			return 0, err
		}
		w = zw
	default:
		w = nopCloser{f}
	}

	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	var total int64
	for d := 0; d < *docsPerFile; d++ {
		doc := randomDocument(rng, index, d)
		total += int64(len(doc.Text))
		if err := enc.Encode(doc); err != nil {
			return 0, err
		}
	}
	if err := buf.Flush(); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return total, f.Close()
}

func randomDocument(rng *rand.Rand, file, index int) document {
	sentences := 1 + rng.Intn(12)
	var sb strings.Builder
	words := 0
	for s := 0; s < sentences; s++ {
		if s > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "The %s %s %s the %s %s.",
			pick(rng, adjectives), pick(rng, nouns), pick(rng, verbs),
			pick(rng, adjectives), pick(rng, nouns))
		words += 6
		// Occasional paragraph breaks exercise multi-line documents.
		if rng.Intn(8) == 0 {
			sb.WriteString("\n\n")
		}
	}
	return document{
		Text:   sb.String(),
		ID:     fmt.Sprintf("%05d-%07d", file, index),
		Source: pick(rng, sources),
		Words:  words,
	}
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
