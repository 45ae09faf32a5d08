// Package simulation generates labeled synthetic traffic for the detector.
// One run targets exactly one virtual source with exactly one anomaly
// pattern at a controlled rate for a controlled duration; every emitted
// observation carries mode SIM and its ground-truth injected label, so the
// LIVE pipeline is never touched.
package simulation

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apisentinel/apisentinel/detect"
)

// Control-plane errors, matched with errors.Is by the API layer.
var (
	ErrInvalidTarget  = errors.New("invalid virtual source")
	ErrInvalidPattern = errors.New("invalid pattern")
	ErrAlreadyActive  = errors.New("simulation already active")
	ErrNotActive      = errors.New("no simulation active")
)

// State is the engine lifecycle phase.
type State string

const (
	StateIdle      State = "IDLE"
	StateScheduled State = "SCHEDULED"
	StateRunning   State = "RUNNING"
	StateStopping  State = "STOPPING"
)

// Defaults applied when Start is called with zero values.
const (
	DefaultDuration  = 30 * time.Second
	DefaultBatchSize = 50
)

// Sink receives every emitted observation. The orchestrator's Observe is the
// production sink.
type Sink func(detect.Observation)

// Status describes the engine to the control API.
type Status struct {
	Active    bool           `json:"active"`
	State     State          `json:"state"`
	Target    string         `json:"injected_target"`
	Pattern   detect.Pattern `json:"pattern"`
	BatchSize int            `json:"batch_size"`
	DurationS float64        `json:"duration_s"`
	Emitted   int64          `json:"emitted"`
}

// run is the state of one simulation run. A fresh run value is created per
// Start so a finished run can report its final counters race-free.
type run struct {
	source    string
	pattern   detect.Pattern
	duration  time.Duration
	batchSize int
	emitted   atomic.Int64

	cancel chan struct{}
	done   chan struct{}
}

// Engine drives synthetic traffic runs. Safe for concurrent control calls;
// emission happens on a single internal goroutine.
type Engine struct {
	routes    map[string]struct{}
	targetRPS float64
	sink      Sink
	metrics   *detect.Metrics
	seed      int64
	log       *logrus.Entry

	mu      sync.Mutex
	state   State
	current *run
	runs    int64 // Starts issued so far, salts the per-run RNG key
}

// NewEngine builds an engine emitting into sink. seed fixes the synthetic
// traffic streams; runs within one process are salted per Start.
func NewEngine(cfg detect.Config, sink Sink, metrics *detect.Metrics, seed int64) *Engine {
	routes := make(map[string]struct{}, len(cfg.SimVirtualRoutes))
	for _, r := range cfg.SimVirtualRoutes {
		routes[r] = struct{}{}
	}
	return &Engine{
		routes:    routes,
		targetRPS: cfg.SimTargetRPS,
		sink:      sink,
		metrics:   metrics,
		seed:      seed,
		state:     StateIdle,
		log:       logrus.WithField("component", "simulation"),
	}
}

// Start launches a run against one virtual source with one anomaly pattern.
// Zero duration and batch size fall back to the defaults. Fails with
// ErrInvalidTarget, ErrInvalidPattern or ErrAlreadyActive; on success the
// engine is SCHEDULED and emission begins immediately.
func (e *Engine) Start(source string, pattern detect.Pattern, duration time.Duration, batchSize int) error {
	if _, ok := e.routes[source]; !ok {
		return ErrInvalidTarget
	}
	if _, err := detect.ParsePattern(string(pattern)); err != nil {
		return ErrInvalidPattern
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return ErrAlreadyActive
	}

	r := &run{
		source:    source,
		pattern:   pattern,
		duration:  duration,
		batchSize: batchSize,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.state = StateScheduled
	e.current = r
	e.runs++

	e.log.Infof("starting: source=%s pattern=%s duration=%s batch=%d rps=%.0f",
		source, pattern, duration, batchSize, e.targetRPS)
	go e.loop(r, NewPartitionedRNG(NewEmissionKey(e.seed^e.runs)))
	return nil
}

// Stop cancels the active run and waits for in-flight emissions to finish.
// Fails with ErrNotActive when nothing is running; the engine state is
// consistent either way.
func (e *Engine) Stop() error {
	e.mu.Lock()
	r := e.current
	if e.state == StateIdle || r == nil {
		e.mu.Unlock()
		return ErrNotActive
	}
	select {
	case <-r.cancel:
	default:
		close(r.cancel)
	}
	e.mu.Unlock()

	<-r.done
	return nil
}

// Status reports the engine to the control API. After a run ends, the last
// run's target, pattern and emission count remain readable.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{State: e.state, Active: e.state == StateScheduled || e.state == StateRunning}
	if e.current != nil {
		s.Target = e.current.source
		s.Pattern = e.current.pattern
		s.BatchSize = e.current.batchSize
		s.DurationS = e.current.duration.Seconds()
		s.Emitted = e.current.emitted.Load()
	}
	return s
}

// Active reports whether a run is scheduled or emitting.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateScheduled || e.state == StateRunning
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// loop paces batches until the duration elapses or the run is cancelled.
// Each interval emits one batch, then sleeps the remainder of the interval,
// the same shape as a fixed-rate generator: interval = batch / target RPS.
func (e *Engine) loop(r *run, rng *PartitionedRNG) {
	defer close(r.done)

	e.setState(StateRunning)
	defer func() {
		e.setState(StateStopping)
		e.log.Infof("finished: source=%s pattern=%s emitted=%d", r.source, r.pattern, r.emitted.Load())
		e.setState(StateIdle)
	}()

	interval := time.Duration(float64(r.batchSize) / e.targetRPS * float64(time.Second))
	deadline := time.NewTimer(r.duration)
	defer deadline.Stop()

	for {
		select {
		case <-r.cancel:
			return
		case <-deadline.C:
			return
		default:
		}

		started := time.Now()
		e.emitBatch(r, rng)

		pause := interval - time.Since(started)
		if pause < 0 {
			pause = 0
		}
		select {
		case <-r.cancel:
			return
		case <-deadline.C:
			return
		case <-time.After(pause):
		}
	}
}

// emitBatch issues batchSize logical emissions. MIXED samples its concrete
// pattern per emission; amplified patterns multiply the observation count.
// A batch always completes once begun, so no partial emission ever reaches
// the pipeline.
func (e *Engine) emitBatch(r *run, rng *PartitionedRNG) {
	mixer := rng.ForSubsystem(SubsystemMixer)
	for i := 0; i < r.batchSize; i++ {
		concrete := r.pattern
		if concrete == detect.PatternMixed {
			concrete = detect.AnomalousPatterns[mixer.Intn(len(detect.AnomalousPatterns))]
		}
		shaper := rng.ForSubsystem(SubsystemShaper(string(concrete)))
		for n := Amplification(concrete); n > 0; n-- {
			e.sink(Emit(concrete, r.source, shaper, time.Now()))
			r.emitted.Add(1)
			if e.metrics != nil {
				e.metrics.SimEmissions.Inc()
			}
		}
	}
}
