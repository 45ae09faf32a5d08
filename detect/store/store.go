// Package store is the persistence gateway: sqlite-backed, append-only
// records of observations and detections. Observation writes are
// asynchronous behind a bounded queue that drops the oldest entry under
// pressure; detection writes are synchronous and exactly-once per
// (mode, source, window) key. Persistence failures are logged and counted,
// never propagated into the scoring pipeline.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/apisentinel/apisentinel/detect"
)

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             TIMESTAMP NOT NULL,
	mode           TEXT      NOT NULL,
	source         TEXT      NOT NULL,
	route          TEXT      NOT NULL,
	method         TEXT      NOT NULL,
	status         INTEGER   NOT NULL,
	latency_ms     REAL      NOT NULL,
	payload_bytes  INTEGER   NOT NULL,
	user_agent     TEXT      NOT NULL DEFAULT '',
	params         TEXT      NOT NULL DEFAULT '[]',
	injected_label TEXT      NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_observations_mode_ts ON observations(mode, ts);

CREATE TABLE IF NOT EXISTS detections (
	id         TEXT PRIMARY KEY,
	ts         TIMESTAMP NOT NULL,
	mode       TEXT      NOT NULL,
	source     TEXT      NOT NULL,
	window_id  INTEGER   NOT NULL,
	risk_score REAL      NOT NULL,
	priority   TEXT      NOT NULL,
	is_anomaly INTEGER   NOT NULL,
	root_cause TEXT      NOT NULL,
	payload    TEXT      NOT NULL,
	UNIQUE(mode, source, window_id)
);
CREATE INDEX IF NOT EXISTS idx_detections_mode_ts ON detections(mode, ts);
`

// maxWriteBatch bounds how many queued observations one transaction absorbs.
const maxWriteBatch = 128

type obsRow struct {
	TS            time.Time `db:"ts"`
	Mode          string    `db:"mode"`
	Source        string    `db:"source"`
	Route         string    `db:"route"`
	Method        string    `db:"method"`
	Status        int       `db:"status"`
	LatencyMS     float64   `db:"latency_ms"`
	PayloadBytes  int64     `db:"payload_bytes"`
	UserAgent     string    `db:"user_agent"`
	Params        string    `db:"params"`
	InjectedLabel string    `db:"injected_label"`
}

// Store is the sqlite persistence gateway. Safe for concurrent use.
type Store struct {
	db  *sqlx.DB
	log *logrus.Entry

	mu     sync.RWMutex
	closed bool
	queue  chan detect.Observation
	wg     sync.WaitGroup

	metrics *detect.Metrics

	enqueued atomic.Int64
	evicted  atomic.Int64
	written  atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// Open opens (or creates) the database at path, runs the schema and starts
// the asynchronous observation writer. queueDepth bounds the write buffer.
func Open(path string, queueDepth int, metrics *detect.Metrics) (*Store, error) {
	if queueDepth < 1 {
		queueDepth = detect.DefaultObservationQueueDepth
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&loc=UTC", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:      db,
		log:     logrus.WithField("component", "store"),
		queue:   make(chan detect.Observation, queueDepth),
		metrics: metrics,
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// EnqueueObservation hands an observation to the asynchronous writer. It
// never blocks: when the queue is full the oldest queued entry is dropped
// and counted.
func (s *Store) EnqueueObservation(obs detect.Observation) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.countDrop("closed")
		return
	}

	select {
	case s.queue <- obs:
		s.enqueued.Add(1)
		return
	default:
	}

	// Full: evict the oldest queued entry, then retry once.
	select {
	case <-s.queue:
		s.evicted.Add(1)
		s.countDrop("queue_full")
	default:
	}
	select {
	case s.queue <- obs:
		s.enqueued.Add(1)
	default:
		s.countDrop("queue_full")
	}
}

func (s *Store) countDrop(reason string) {
	s.dropped.Add(1)
	if s.metrics != nil {
		s.metrics.PersistenceDropped.WithLabelValues(reason).Inc()
	}
}

// writeLoop drains the queue in transactions of up to maxWriteBatch rows.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	batch := make([]detect.Observation, 0, maxWriteBatch)
	for obs := range s.queue {
		batch = append(batch[:0], obs)
	drain:
		for len(batch) < maxWriteBatch {
			select {
			case more, ok := <-s.queue:
				if !ok {
					break drain
				}
				batch = append(batch, more)
			default:
				break drain
			}
		}
		s.flush(batch)
	}
}

func (s *Store) flush(batch []detect.Observation) {
	tx, err := s.db.Beginx()
	if err != nil {
		s.failed.Add(int64(len(batch)))
		s.countFlushError(len(batch), err)
		return
	}
	for _, obs := range batch {
		if _, err := tx.NamedExec(`
			INSERT INTO observations
				(ts, mode, source, route, method, status, latency_ms, payload_bytes, user_agent, params, injected_label)
			VALUES
				(:ts, :mode, :source, :route, :method, :status, :latency_ms, :payload_bytes, :user_agent, :params, :injected_label)`,
			toObsRow(obs),
		); err != nil {
			_ = tx.Rollback()
			s.failed.Add(int64(len(batch)))
			s.countFlushError(len(batch), err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.failed.Add(int64(len(batch)))
		s.countFlushError(len(batch), err)
		return
	}
	s.written.Add(int64(len(batch)))
}

func (s *Store) countFlushError(n int, err error) {
	if s.metrics != nil {
		s.metrics.PersistenceDropped.WithLabelValues("write_error").Add(float64(n))
	}
	s.log.WithError(err).Warnf("dropped %d observation writes", n)
}

func toObsRow(obs detect.Observation) obsRow {
	params, err := json.Marshal(obs.Params)
	if err != nil {
		params = []byte("[]")
	}
	return obsRow{
		TS:            obs.Timestamp.UTC(),
		Mode:          string(obs.Mode),
		Source:        obs.Source,
		Route:         obs.Route,
		Method:        obs.Method,
		Status:        obs.Status,
		LatencyMS:     obs.LatencyMS,
		PayloadBytes:  obs.PayloadBytes,
		UserAgent:     obs.UserAgent,
		Params:        string(params),
		InjectedLabel: string(obs.InjectedLabel),
	}
}

// SaveDetection writes a detection exactly once: a second write for the
// same (mode, source, window) key is a silent no-op.
func (s *Store) SaveDetection(ctx context.Context, d *detect.Detection) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode detection %s: %w", d.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO detections
			(id, ts, mode, source, window_id, risk_score, priority, is_anomaly, root_cause, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mode, source, window_id) DO NOTHING`,
		d.ID, d.Timestamp.UTC(), string(d.Mode), d.Source, d.WindowID,
		d.RiskScore, string(d.Priority), d.IsAnomaly, string(d.RootCause), string(payload),
	)
	if err != nil {
		return fmt.Errorf("save detection %s: %w", d.ID, err)
	}
	return nil
}

// Detections returns up to limit detections newest first, optionally
// filtered by mode.
func (s *Store) Detections(ctx context.Context, mode detect.Mode, limit int) ([]detect.Detection, error) {
	if limit < 1 {
		limit = 100
	}

	var rows []string
	var err error
	if mode == "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT payload FROM detections ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT payload FROM detections WHERE mode = ? ORDER BY ts DESC, id DESC LIMIT ?`, string(mode), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}

	out := make([]detect.Detection, 0, len(rows))
	for _, raw := range rows {
		var d detect.Detection
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode stored detection: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ObservationCount reports persisted observations, optionally by mode.
func (s *Store) ObservationCount(ctx context.Context, mode detect.Mode) (int64, error) {
	var n int64
	var err error
	if mode == "" {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM observations`)
	} else {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM observations WHERE mode = ?`, string(mode))
	}
	return n, err
}

// Stats reports the async writer counters.
func (s *Store) Stats() (written, dropped, failed int64) {
	return s.written.Load(), s.dropped.Load(), s.failed.Load()
}

// Flush blocks until every observation enqueued so far is written, failed
// or evicted. Intended for tests and shutdown.
func (s *Store) Flush() {
	for s.enqueued.Load() > s.written.Load()+s.failed.Load()+s.evicted.Load() {
		time.Sleep(time.Millisecond)
	}
}

// Close stops the writer, drains the queue and closes the database. No
// EnqueueObservation call may be issued after Close returns.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}
