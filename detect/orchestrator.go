// The Orchestrator drives the end-to-end detection flow: classify each
// observation, aggregate it into its stream's tumbling window, and when a
// window seals, score it on a worker pool and deliver the finished Detection
// to the history ring, the persistence sink and the event bus.

package detect

import (
	"context"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/sirupsen/logrus"
)

// ObservationSink archives tracked observations. Implementations must not
// block the caller.
type ObservationSink interface {
	EnqueueObservation(obs Observation)
}

// DetectionSink archives finished detections.
type DetectionSink interface {
	SaveDetection(ctx context.Context, d *Detection) error
}

// Publisher fans finished detections out to subscribers. Implementations
// must not block the caller.
type Publisher interface {
	Publish(d *Detection)
}

// scoringQueueDepth bounds the per-worker backlog of sealed windows.
const scoringQueueDepth = 64

// persistTimeout bounds one synchronous detection write.
const persistTimeout = 2 * time.Second

// activityHorizon is how recently tracked traffic must have arrived for a
// mode to be reported as active.
const activityHorizon = 30 * time.Second

// modeCounters is the ingest telemetry for one mode. The scalar counters are
// atomic; the per-source map and the latency average share one small mutex.
type modeCounters struct {
	total     atomic.Int64
	processed atomic.Int64 // windows fully scored
	anomalies atomic.Int64
	lastSeen  atomic.Int64 // unix nanos of the newest tracked observation

	mu        sync.Mutex
	perSource map[string]int64
	latency   ewma.MovingAverage
}

func newModeCounters() *modeCounters {
	return &modeCounters{
		perSource: make(map[string]int64),
		// SimpleEWMA seeds from the first sample instead of warming up, so
		// the stats endpoint shows a latency from the first request on.
		latency: &ewma.SimpleEWMA{},
	}
}

func (c *modeCounters) record(obs Observation) {
	c.total.Add(1)
	c.lastSeen.Store(time.Now().UnixNano())
	c.mu.Lock()
	c.perSource[obs.Source]++
	c.latency.Add(obs.LatencyMS)
	c.mu.Unlock()
}

func (c *modeCounters) reset() {
	c.total.Store(0)
	c.processed.Store(0)
	c.anomalies.Store(0)
	c.lastSeen.Store(0)
	c.mu.Lock()
	c.perSource = make(map[string]int64)
	c.latency = &ewma.SimpleEWMA{}
	c.mu.Unlock()
}

// LiveStats is the /live/stats payload.
type LiveStats struct {
	Mode               Mode             `json:"mode"`
	TotalRequests      int64            `json:"total_requests"`
	CurrentWindowCount int              `json:"current_window_count"`
	WindowsProcessed   int64            `json:"windows_processed"`
	Status             string           `json:"status"`
	PerSourceCounts    map[string]int64 `json:"per_source_counts"`
	AvgLatencyMS       float64          `json:"avg_latency_ms"`
}

// SimStats is the /sim/stats payload. Active, InjectedTarget and Pattern
// describe the simulation engine and are filled in by the API layer; the
// orchestrator reports the detection-side counters.
type SimStats struct {
	Mode                 Mode             `json:"mode"`
	Active               bool             `json:"active"`
	InjectedTarget       string           `json:"injected_target"`
	Pattern              Pattern          `json:"pattern"`
	TotalRequests        int64            `json:"total_requests"`
	WindowsProcessed     int64            `json:"windows_processed"`
	AnomaliesDetected    int64            `json:"anomalies_detected"`
	CurrentWindowCount   int              `json:"current_window_count"`
	Accuracy             AccuracyStats    `json:"accuracy"`
	PriorityDistribution map[Priority]int `json:"priority_distribution"`
}

// Orchestrator owns the detection pipeline state. Observe may be called from
// any number of goroutines; windows of the same (mode, source) stream are
// always scored by the same worker, so per-stream detections come out in
// window id order.
type Orchestrator struct {
	filter  *Filter
	windows *Aggregator
	scorer  *Scorer
	history *History
	metrics *Metrics
	log     *logrus.Entry

	obsSink ObservationSink
	detSink DetectionSink
	pub     Publisher

	live *modeCounters
	sim  *modeCounters

	mu      sync.RWMutex
	closed  bool
	workers []chan *Window
	wg      sync.WaitGroup

	sealed    atomic.Int64 // windows handed to the pool
	delivered atomic.Int64 // windows scored and fanned out
}

// NewOrchestrator assembles the pipeline. Any of obsSink, detSink and pub may
// be nil, which disables that delivery leg. The worker pool is sized to the
// number of schedulable CPUs.
func NewOrchestrator(cfg Config, models *ModelSet, metrics *Metrics, obsSink ObservationSink, detSink DetectionSink, pub Publisher) *Orchestrator {
	o := &Orchestrator{
		filter:  NewFilter(cfg.LiveTrackedRoutes, cfg.SimVirtualRoutes),
		windows: NewAggregator(cfg.WindowSize),
		scorer:  NewScorer(models, cfg.ScoreWeights, cfg.PriorityBands, cfg.RuleThresholds, cfg.ScoringDeadline()),
		history: NewHistory(cfg.HistoryCapacity),
		metrics: metrics,
		log:     logrus.WithField("component", "orchestrator"),
		obsSink: obsSink,
		detSink: detSink,
		pub:     pub,
		live:    newModeCounters(),
		sim:     newModeCounters(),
	}

	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	o.workers = make([]chan *Window, n)
	for i := range o.workers {
		o.workers[i] = make(chan *Window, scoringQueueDepth)
		o.wg.Add(1)
		go o.scoreLoop(o.workers[i])
	}
	return o
}

func (o *Orchestrator) counters(mode Mode) *modeCounters {
	if mode == ModeSim {
		return o.sim
	}
	return o.live
}

// Observe feeds one observation into the pipeline. Ignored observations are
// counted and discarded; tracked ones are archived and pushed into their
// stream's window. Sealing a window hands it to the scoring pool.
func (o *Orchestrator) Observe(obs Observation) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}

	class := o.filter.Classify(obs)
	o.metrics.ObservationsTotal.WithLabelValues(string(obs.Mode), string(class)).Inc()
	if class != Tracked {
		return
	}

	o.counters(obs.Mode).record(obs)
	if o.obsSink != nil {
		o.obsSink.EnqueueObservation(obs)
	}

	w := o.windows.Push(obs)
	if w == nil {
		return
	}
	o.metrics.WindowsSealed.WithLabelValues(string(w.Mode)).Inc()
	o.sealed.Add(1)
	o.workers[streamWorker(w.Mode, w.Source, len(o.workers))] <- w
}

// streamWorker picks the worker index for one (mode, source) stream.
func streamWorker(mode Mode, source string, n int) int {
	h := fnv.New64a()
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return int(h.Sum64() % uint64(n))
}

func (o *Orchestrator) scoreLoop(windows <-chan *Window) {
	defer o.wg.Done()
	for w := range windows {
		o.deliver(o.score(w))
		o.delivered.Add(1)
	}
}

// score runs the full assessment of one sealed window: features, rules and
// submodels, root cause, remediation plan.
func (o *Orchestrator) score(w *Window) *Detection {
	start := time.Now()

	f := ExtractFeatures(w)
	a := o.scorer.Score(context.Background(), f)
	diag := Diagnose(f, a.Models)
	plan := ResolutionsFor(diag.Cause, diag.Conditions)

	d := &Detection{
		ID:                     NewDetectionID(),
		Timestamp:              time.Now().UTC(),
		Mode:                   w.Mode,
		Source:                 w.Source,
		WindowID:               w.ID,
		Features:               f,
		RuleAlerts:             a.Alerts,
		ModelScores:            a.Models,
		RiskScore:              a.Risk,
		Priority:               a.Priority,
		IsAnomaly:              a.IsAnomaly,
		RootCause:              diag.Cause,
		ContributingConditions: diag.Conditions,
		CauseConfidence:        diag.Confidence,
		Resolutions:            plan,
		DetectionMethod:        a.Method,
	}
	if w.Mode == ModeSim {
		d.InjectedLabel = majorityLabel(w)
	}

	// The wire format promises arrays, not nulls.
	if d.RuleAlerts == nil {
		d.RuleAlerts = []Alert{}
	}
	if d.ContributingConditions == nil {
		d.ContributingConditions = []Condition{}
	}
	if d.Resolutions == nil {
		d.Resolutions = []Resolution{}
	}

	elapsed := time.Since(start)
	d.DetectionLatencyMS = float64(elapsed) / float64(time.Millisecond)
	o.metrics.DetectionLatency.Observe(elapsed.Seconds())
	return d
}

// deliver fans a finished detection out: history ring (SIM only), persistence
// sink, event bus. Sink failures are logged and counted, never propagated.
func (o *Orchestrator) deliver(d *Detection) {
	c := o.counters(d.Mode)
	c.processed.Add(1)
	o.metrics.DetectionsTotal.WithLabelValues(string(d.Mode), string(d.Priority)).Inc()
	if d.IsAnomaly {
		c.anomalies.Add(1)
		o.metrics.AnomaliesTotal.WithLabelValues(string(d.Mode)).Inc()
	}

	if d.Mode == ModeSim {
		o.history.Append(d)
	}

	if o.detSink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := o.detSink.SaveDetection(ctx, d); err != nil {
			o.log.WithError(err).Warnf("detection %s not persisted", d.ID)
			if o.metrics != nil {
				o.metrics.PersistenceDropped.WithLabelValues("detection_error").Inc()
			}
		}
		cancel()
	}

	if o.pub != nil {
		o.pub.Publish(d)
	}

	entry := o.log.WithFields(logrus.Fields{
		"mode":   d.Mode,
		"source": d.Source,
		"window": d.WindowID,
	})
	if d.IsAnomaly {
		entry.Infof("anomaly: priority=%s risk=%.3f cause=%s method=%s", d.Priority, d.RiskScore, d.RootCause, d.DetectionMethod)
	} else {
		entry.Debugf("scored: priority=%s risk=%.3f", d.Priority, d.RiskScore)
	}
}

// LiveStats reports the live-mode ingest and detection counters.
func (o *Orchestrator) LiveStats() LiveStats {
	open, _ := o.windows.ModeSnapshot(ModeLive)

	status := "idle"
	if last := o.live.lastSeen.Load(); last > 0 && time.Since(time.Unix(0, last)) <= activityHorizon {
		status = "active"
	}

	o.live.mu.Lock()
	perSource := make(map[string]int64, len(o.live.perSource))
	for source, n := range o.live.perSource {
		perSource[source] = n
	}
	avgLatency := o.live.latency.Value()
	o.live.mu.Unlock()

	return LiveStats{
		Mode:               ModeLive,
		TotalRequests:      o.live.total.Load(),
		CurrentWindowCount: open,
		WindowsProcessed:   o.live.processed.Load(),
		Status:             status,
		PerSourceCounts:    perSource,
		AvgLatencyMS:       avgLatency,
	}
}

// SimStats reports the simulation-side detection counters. Engine fields
// (Active, InjectedTarget, Pattern) are left zero here.
func (o *Orchestrator) SimStats() SimStats {
	open, _ := o.windows.ModeSnapshot(ModeSim)
	return SimStats{
		Mode:                 ModeSim,
		TotalRequests:        o.sim.total.Load(),
		WindowsProcessed:     o.sim.processed.Load(),
		AnomaliesDetected:    o.history.AnomalyCount(),
		CurrentWindowCount:   open,
		Accuracy:             o.history.Accuracy(),
		PriorityDistribution: o.history.PriorityDistribution(),
	}
}

// Emergencies returns the top SIM detections by emergency rank.
func (o *Orchestrator) Emergencies(limit int) []Detection {
	return o.history.Emergencies(limit)
}

// HistoryLen reports how many detections the SIM journal currently holds.
func (o *Orchestrator) HistoryLen() int {
	return o.history.Len()
}

// ResetSim clears every trace of past simulations: the history ring, open
// SIM windows and the SIM counters. LIVE state is untouched. The caller must
// ensure no simulation is emitting while this runs.
func (o *Orchestrator) ResetSim() {
	o.windows.Reset(ModeSim)
	o.history.Clear()
	o.sim.reset()
}

// Drain blocks until every window sealed so far has been scored and
// delivered. Intended for tests and shutdown.
func (o *Orchestrator) Drain() {
	for o.delivered.Load() < o.sealed.Load() {
		time.Sleep(time.Millisecond)
	}
}

// Close stops the worker pool after draining queued windows. Observe calls
// after Close are dropped.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, ch := range o.workers {
		close(ch)
	}
	o.mu.Unlock()
	o.wg.Wait()
}
