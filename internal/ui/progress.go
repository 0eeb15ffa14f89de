package ui

import (
	"sync"
	"time"
)

// Phase is one stage/channel pair of a build, e.g. merge over the meta
// channel. Stages without a channel use an empty Channel.
type Phase struct {
	Stage   Stage
	Channel string
}

func (p Phase) String() string {
	if p.Channel == "" {
		return p.Stage.String()
	}
	return p.Stage.String() + " " + p.Channel
}

// PhaseRecord is a finished phase and how long it ran.
type PhaseRecord struct {
	Phase
	Units    int
	Duration time.Duration
}

// rate is an exponentially weighted units/sec estimate, sampled no more
// often than every sampleEvery.
type rate struct {
	at      time.Time
	units   int
	last    float64
	avg     float64
	peak    float64
	samples int
}

const (
	sampleEvery = 500 * time.Millisecond
	rateWeight  = 0.2
	etaWeight   = 0.3
)

func (r *rate) reset(now time.Time) { *r = rate{at: now} }

func (r *rate) observe(now time.Time, units int) {
	dt := now.Sub(r.at)
	if dt < sampleEvery {
		return
	}
	if delta := units - r.units; delta > 0 {
		r.last = float64(delta) / dt.Seconds()
		if r.samples == 0 {
			r.avg = r.last
		} else {
			r.avg = rateWeight*r.last + (1-rateWeight)*r.avg
		}
		r.peak = max(r.peak, r.last)
		r.samples++
	}
	r.at, r.units = now, units
}

// SpeedStats is a units/sec summary of the running phase.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats is a point-in-time view of a ProgressTracker.
type ProgressStats struct {
	Stage      Stage
	Channel    string
	Current    int
	Total      int
	Progress   float64
	ETA        time.Duration
	Item       string
	ErrorCount int
	WarnCount  int
	Speed      SpeedStats
}

// ProgressTracker follows a build through its phases. Safe for concurrent use.
type ProgressTracker struct {
	mu       sync.Mutex
	phase    Phase
	current  int
	total    int
	item     string
	started  time.Time
	entered  time.Time
	eta      time.Duration
	speed    rate
	history  []PhaseRecord
	errors   []ErrorEvent
	warnings []ErrorEvent
}

func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	t := &ProgressTracker{phase: Phase{Stage: StagePreflight}, started: now, entered: now}
	t.speed.reset(now)
	return t
}

// SetStage enters a new phase and appends the previous one to the history.
func (p *ProgressTracker) SetStage(stage Stage, channel string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.history = append(p.history, PhaseRecord{Phase: p.phase, Units: p.current, Duration: now.Sub(p.entered)})
	p.phase = Phase{Stage: stage, Channel: channel}
	p.current, p.total, p.item = 0, total, ""
	p.entered, p.eta = now, 0
	p.speed.reset(now)
}

// Update moves the running phase to current units. An empty item keeps the
// last one shown.
func (p *ProgressTracker) Update(current int, item string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if item != "" {
		p.item = item
	}
	p.speed.observe(time.Now(), current)
}

func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
		return
	}
	p.errors = append(p.errors, event)
}

// Progress is the running phase's completed fraction in [0, 1].
func (p *ProgressTracker) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fraction()
}

func (p *ProgressTracker) fraction() float64 {
	if p.total <= 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1)
}

func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.started)
}

func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:      p.phase.Stage,
		Channel:    p.phase.Channel,
		Current:    p.current,
		Total:      p.total,
		Progress:   p.fraction(),
		ETA:        p.remaining(),
		Item:       p.item,
		ErrorCount: len(p.errors),
		WarnCount:  len(p.warnings),
		Speed:      SpeedStats{Current: p.speed.last, Avg: p.speed.avg, Peak: p.speed.peak},
	}
}

// remaining extrapolates the phase's elapsed time and smooths the result
// against the previous estimate. Caller holds mu.
func (p *ProgressTracker) remaining() time.Duration {
	f := p.fraction()
	if f == 0 || f >= 1 {
		return 0
	}
	spent := time.Since(p.entered)
	raw := time.Duration(float64(spent)/f) - spent
	if raw <= 0 {
		return 0
	}
	if p.eta > 0 {
		raw = time.Duration(etaWeight*float64(raw) + (1-etaWeight)*float64(p.eta))
	}
	p.eta = raw
	return raw
}

// History lists finished phases in the order they ran.
func (p *ProgressTracker) History() []PhaseRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PhaseRecord(nil), p.history...)
}

func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ErrorEvent(nil), p.errors...)
}

func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ErrorEvent(nil), p.warnings...)
}

func (p *ProgressTracker) SpeedStats() SpeedStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SpeedStats{Current: p.speed.last, Avg: p.speed.avg, Peak: p.speed.peak}
}
