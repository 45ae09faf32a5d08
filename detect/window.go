// Implements the per-(mode, source) tumbling window aggregator. Windows hold
// exactly WindowSize observations; the Nth observation seals the window and a
// fresh one begins on the next push.

package detect

import (
	"sync"
	"time"
)

// Window is an ordered sequence of exactly N observations for one
// (mode, source) stream. Sealed windows are owned by the scoring pipeline;
// the observations inside are value copies.
type Window struct {
	Mode         Mode
	Source       string
	ID           int64 // strictly increasing per (mode, source), assigned on seal
	OpenedAt     time.Time
	ClosedAt     time.Time
	Observations []Observation
}

// Count returns the number of observations in the window.
func (w *Window) Count() int {
	return len(w.Observations)
}

type streamKey struct {
	mode   Mode
	source string
}

// windowStream is the open window state for one (mode, source) pair.
// Guarded by its own mutex so pushes on different streams never contend.
type windowStream struct {
	mu       sync.Mutex
	buf      []Observation
	openedAt time.Time
	sealed   int64 // windows emitted so far; also the id of the last sealed window
}

// Aggregator groups tracked observations into size-N tumbling windows, one
// independent stream per (mode, source). Multiple producers may push
// concurrently; per-stream serialization is the only critical section.
type Aggregator struct {
	size int

	mu      sync.RWMutex
	streams map[streamKey]*windowStream
}

// NewAggregator creates an Aggregator with the given window size.
// Sizes below 1 fall back to the default of 10.
func NewAggregator(size int) *Aggregator {
	if size < 1 {
		size = DefaultWindowSize
	}
	return &Aggregator{
		size:    size,
		streams: make(map[streamKey]*windowStream),
	}
}

// Size returns the configured window size N.
func (a *Aggregator) Size() int { return a.size }

func (a *Aggregator) stream(key streamKey) *windowStream {
	a.mu.RLock()
	s, ok := a.streams[key]
	a.mu.RUnlock()
	if ok {
		return s
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.streams[key]; ok {
		return s
	}
	s = &windowStream{buf: make([]Observation, 0, a.size)}
	a.streams[key] = s
	return s
}

// Push appends an observation to its stream's open window. When the window
// reaches N observations it is sealed and returned; otherwise Push returns
// nil. Push cannot fail.
func (a *Aggregator) Push(obs Observation) *Window {
	s := a.stream(streamKey{mode: obs.Mode, source: obs.Source})

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		s.openedAt = obs.Timestamp
	}
	s.buf = append(s.buf, obs)
	if len(s.buf) < a.size {
		return nil
	}

	s.sealed++
	w := &Window{
		Mode:         obs.Mode,
		Source:       obs.Source,
		ID:           s.sealed,
		OpenedAt:     s.openedAt,
		ClosedAt:     obs.Timestamp,
		Observations: s.buf,
	}
	s.buf = make([]Observation, 0, a.size)
	return w
}

// Snapshot reports (observations in the open window, windows sealed so far)
// for one stream. Telemetry only.
func (a *Aggregator) Snapshot(mode Mode, source string) (open int, sealed int64) {
	a.mu.RLock()
	s, ok := a.streams[streamKey{mode: mode, source: source}]
	a.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf), s.sealed
}

// ModeSnapshot aggregates Snapshot over every stream of one mode.
func (a *Aggregator) ModeSnapshot(mode Mode) (open int, sealed int64) {
	a.mu.RLock()
	keys := make([]streamKey, 0, len(a.streams))
	for k := range a.streams {
		if k.mode == mode {
			keys = append(keys, k)
		}
	}
	a.mu.RUnlock()
	for _, k := range keys {
		o, s := a.Snapshot(k.mode, k.source)
		open += o
		sealed += s
	}
	return open, sealed
}

// Reset discards all open windows and sealed counts for one mode. Used when
// the simulation journal is cleared; LIVE streams are never reset.
func (a *Aggregator) Reset(mode Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.streams {
		if k.mode == mode {
			delete(a.streams, k)
		}
	}
}
