// Package telemetry aggregates query telemetry for a serving process and
// flushes it to a local SQLite database. Nothing leaves the machine.
package telemetry

import (
	"cmp"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket names one bar of the latency histogram.
type LatencyBucket string

const (
	BucketP1    LatencyBucket = "p1"
	BucketP10   LatencyBucket = "p10"
	BucketP100  LatencyBucket = "p100"
	BucketP500  LatencyBucket = "p500"
	BucketP1000 LatencyBucket = "p1000"
)

// latencyBounds are the exclusive upper bounds of every bucket but the last.
var latencyBounds = []struct {
	below  time.Duration
	bucket LatencyBucket
}{
	{time.Millisecond, BucketP1},
	{10 * time.Millisecond, BucketP10},
	{100 * time.Millisecond, BucketP100},
	{500 * time.Millisecond, BucketP500},
}

func LatencyToBucket(d time.Duration) LatencyBucket {
	for _, b := range latencyBounds {
		if d < b.below {
			return b.bucket
		}
	}
	return BucketP1000
}

// Query statuses as reported by the router.
const (
	StatusSuccess     = "success"
	StatusClientError = "client_error"
	StatusServerError = "server_error"
)

// QueryEvent is one dispatched query.
type QueryEvent struct {
	Index     string
	Operation string
	Query     string
	// ResultCount is the occurrence count the operation saw, when it
	// computes one.
	ResultCount uint64
	Status      string
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports a successful query that matched nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.Status == StatusSuccess && e.ResultCount == 0
}

func (e QueryEvent) key() OpKey {
	return OpKey{Index: e.Index, Operation: e.Operation, Status: e.Status}
}

// ring keeps the newest len(items) values. It is not synchronized.
type ring[T any] struct {
	items []T
	next  int
	full  bool
}

func newRing[T any](n int) *ring[T] { return &ring[T]{items: make([]T, n)} }

func (r *ring[T]) push(v T) {
	r.items[r.next] = v
	r.next++
	if r.next == len(r.items) {
		r.next, r.full = 0, true
	}
}

// values returns the contents oldest first.
func (r *ring[T]) values() []T {
	if !r.full {
		return slices.Clone(r.items[:r.next])
	}
	return slices.Concat(r.items[r.next:], r.items[:r.next])
}

// QueryCount is a query string and how often it was seen.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Snapshot is a copy of the counters since the process started.
type Snapshot struct {
	OperationCounts     map[string]int64        `json:"operation_counts"`
	IndexCounts         map[string]int64        `json:"index_counts"`
	StatusCounts        map[string]int64        `json:"status_counts"`
	TopQueries          []QueryCount            `json:"top_queries"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func (s *Snapshot) ZeroResultPercentage() float64 {
	return 100 * ratio(s.ZeroResultCount, s.TotalQueries)
}

// ExactRepeatRate is the fraction of queries whose text was still in the
// recent-query cache.
func (s *Snapshot) ExactRepeatRate() float64 {
	return ratio(s.ExactRepeatCount, s.TotalQueries)
}

// Store persists flushed metrics. Counts passed to the Save and Upsert
// methods are deltas added to what is stored.
type Store interface {
	SaveOperationCounts(date string, counts map[OpKey]int64) error
	GetOperationCounts(from, to string) ([]OpCount, error)

	UpsertQueryCounts(queries map[string]int64) error
	GetTopQueries(limit int) ([]QueryCount, error)

	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)

	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	Close() error
}

type Config struct {
	// TopQueriesCapacity bounds the distinct queries tracked in memory.
	TopQueriesCapacity  int
	ZeroResultsCapacity int
	// FlushInterval is the auto-flush period; 0 disables auto-flush.
	FlushInterval time.Duration
}

const defaultCapacity = 100

func DefaultConfig() Config {
	return Config{
		TopQueriesCapacity:  defaultCapacity,
		ZeroResultsCapacity: defaultCapacity,
		FlushInterval:       time.Minute,
	}
}

// delta is what has been recorded since the last flush.
type delta struct {
	ops     map[OpKey]int64
	latency map[LatencyBucket]int64
	queries map[string]int64
	zero    []QueryEvent
}

func newDelta() delta {
	return delta{ops: map[OpKey]int64{}, latency: map[LatencyBucket]int64{}, queries: map[string]int64{}}
}

// Metrics collects query telemetry. Safe for concurrent use.
type Metrics struct {
	mu      sync.Mutex
	closed  bool
	started time.Time

	// ops and latency are lifetime totals.
	ops             map[OpKey]int64
	latency         map[LatencyBucket]int64
	queries         *lru.Cache[string, int64]
	zeroResults     *ring[string]
	zeroResultCount int64
	exactRepeats    int64
	pending         delta

	store Store
	stop  chan struct{}
	done  chan struct{}
}

// New returns a collector. A nil store keeps metrics in memory only.
func New(store Store, cfg Config) *Metrics {
	queries, _ := lru.New[string, int64](cmp.Or(max(cfg.TopQueriesCapacity, 0), defaultCapacity))
	m := &Metrics{
		started:     time.Now(),
		ops:         map[OpKey]int64{},
		latency:     map[LatencyBucket]int64{},
		queries:     queries,
		zeroResults: newRing[string](cmp.Or(max(cfg.ZeroResultsCapacity, 0), defaultCapacity)),
		pending:     newDelta(),
		store:       store,
	}
	if store != nil && cfg.FlushInterval > 0 {
		m.stop, m.done = make(chan struct{}), make(chan struct{})
		go m.flushEvery(cfg.FlushInterval)
	}
	return m
}

func (m *Metrics) flushEvery(d time.Duration) {
	defer close(m.done)
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = m.Flush()
		case <-m.stop:
			return
		}
	}
}

// Record counts one query. Events after Close are dropped.
func (m *Metrics) Record(ev QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	bucket := LatencyToBucket(ev.Latency)
	m.ops[ev.key()]++
	m.latency[bucket]++
	m.pending.ops[ev.key()]++
	m.pending.latency[bucket]++

	if ev.Query != "" {
		n, seen := m.queries.Get(ev.Query)
		if seen {
			m.exactRepeats++
		}
		m.queries.Add(ev.Query, n+1)
		m.pending.queries[ev.Query]++
	}
	if ev.IsZeroResult() {
		m.zeroResultCount++
		m.zeroResults.push(ev.Query)
		m.pending.zero = append(m.pending.zero, ev)
	}
}

func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		OperationCounts:     map[string]int64{},
		IndexCounts:         map[string]int64{},
		StatusCounts:        map[string]int64{},
		ZeroResultQueries:   m.zeroResults.values(),
		LatencyDistribution: make(map[LatencyBucket]int64, len(m.latency)),
		ZeroResultCount:     m.zeroResultCount,
		ExactRepeatCount:    m.exactRepeats,
		Since:               m.started,
	}
	for k, n := range m.ops {
		s.OperationCounts[k.Operation] += n
		s.IndexCounts[k.Index] += n
		s.StatusCounts[k.Status] += n
		s.TotalQueries += n
	}
	for b, n := range m.latency {
		s.LatencyDistribution[b] = n
	}
	for _, q := range m.queries.Keys() {
		if n, ok := m.queries.Peek(q); ok {
			s.TopQueries = append(s.TopQueries, QueryCount{Query: q, Count: n})
		}
	}
	slices.SortStableFunc(s.TopQueries, func(a, b QueryCount) int { return cmp.Compare(b.Count, a.Count) })
	return s
}

// Flush adds everything recorded since the previous flush to the store.
// Without a store it does nothing.
func (m *Metrics) Flush() error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	d := m.pending
	m.pending = newDelta()
	m.mu.Unlock()

	today := time.Now().Format(dateLayout)
	steps := []func() error{
		func() error { return m.store.SaveOperationCounts(today, d.ops) },
		func() error { return m.store.UpsertQueryCounts(d.queries) },
		func() error { return m.store.SaveLatencyCounts(today, d.latency) },
	}
	for _, ev := range d.zero {
		steps = append(steps, func() error { return m.store.AddZeroResultQuery(ev.Query, ev.Timestamp) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops auto-flush, flushes what is pending and closes the store.
// Later calls return nil.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.stop != nil {
		close(m.stop)
		<-m.done
	}
	if err := m.Flush(); err != nil {
		return err
	}
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}
