// Package build drives suffix array and BWT construction for shard blobs.
//
// Construction is split into memory-bounded partitions. A construction
// worker sorts each partition (make-part), merges the sorted partitions
// into runs (merge) and assembles the runs into the final SA and BWT files
// (concat). The worker may be an external process or the in-process
// NativeWorker.
package build

import (
	"fmt"

	"github.com/Aman-CERP/fmindex/internal/codec"
)

const (
	// HackSize is the overlap appended to every partition so that suffix
	// comparisons near a cut point are resolved inside one partition.
	HackSize = 100000

	// BytesPerInputByte is the working memory assumed per input byte of a
	// partition sort.
	BytesPerInputByte = 12
)

// Range is a half-open byte range of the indexed text.
type Range struct {
	Start int64
	End   int64
}

// Len returns the range length.
func (r Range) Len() int64 { return r.End - r.Start }

// Plan is the partition layout for one blob.
type Plan struct {
	TextLength  int64
	Ratio       int
	Batches     int
	Parallelism int
	TotalJobs   int
	Ranges      []Range
}

// NewPlan partitions a text of textLength bytes for a memory budget of
// memBytes and parallelism concurrent jobs. Batches is the smallest power
// of two such that Batches*(memBytes/BytesPerInputByte) >= textLength.
// Each range has nominal size textLength/TotalJobs and is extended by hack
// bytes, clamped to the text end; the last range always ends at the text end.
func NewPlan(textLength, memBytes int64, parallelism int, hack int64) (*Plan, error) {
	if textLength <= 0 {
		return nil, fmt.Errorf("text length must be positive, got %d", textLength)
	}
	if parallelism <= 0 {
		return nil, fmt.Errorf("parallelism must be positive, got %d", parallelism)
	}
	perBatch := memBytes / BytesPerInputByte
	if perBatch <= 0 {
		return nil, fmt.Errorf("memory budget of %d bytes is too small", memBytes)
	}
	if hack < 0 {
		hack = 0
	}

	batches := 1
	for int64(batches)*perBatch < textLength {
		batches *= 2
	}
	total := batches * parallelism
	if int64(total) > textLength {
		total = int(textLength)
	}

	size := textLength / int64(total)
	ranges := make([]Range, total)
	for i := range ranges {
		start := int64(i) * size
		end := min(int64(i+1)*size+hack, textLength)
		if i == total-1 {
			end = textLength
		}
		ranges[i] = Range{Start: start, End: end}
	}

	return &Plan{
		TextLength:  textLength,
		Ratio:       codec.Ratio(uint64(textLength)),
		Batches:     batches,
		Parallelism: parallelism,
		TotalJobs:   total,
		Ranges:      ranges,
	}, nil
}

// BatchRanges splits the ranges into groups of at most Parallelism, in order.
func (p *Plan) BatchRanges() [][]Range {
	var out [][]Range
	for start := 0; start < len(p.Ranges); start += p.Parallelism {
		out = append(out, p.Ranges[start:min(start+p.Parallelism, len(p.Ranges))])
	}
	return out
}
