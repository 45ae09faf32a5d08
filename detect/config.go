// Service configuration: shipped defaults, optional YAML file, environment
// overrides. Precedence is defaults < file < environment.

package detect

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Shipped defaults.
const (
	DefaultWindowSize            = 10
	DefaultHistoryCapacity       = 1000
	DefaultSubscriberQueueDepth  = 256
	DefaultObservationQueueDepth = 4096
	DefaultScoringDeadlineMS     = 500
	DefaultSimTargetRPS          = 200.0
	DefaultModelDir              = "models"
	DefaultDBPath                = "detections.db"
)

// DefaultLiveRoutes are the published business endpoints tracked in LIVE
// mode; everything else is internal plumbing and ignored.
var DefaultLiveRoutes = []string{"/login", "/signup", "/search", "/profile", "/payment", "/logout"}

// DefaultSimRoutes are the virtual endpoints synthetic traffic may target.
var DefaultSimRoutes = []string{"/sim/login", "/sim/search", "/sim/profile", "/sim/payment", "/sim/signup"}

// Config carries every tunable of the detector.
type Config struct {
	// Windowing
	WindowSize int `yaml:"window_size"` // observations per window

	// Scoring
	RuleThresholds    RuleThresholds `yaml:"rule_thresholds"`
	ScoreWeights      ScoreWeights   `yaml:"score_weights"`
	PriorityBands     PriorityBands  `yaml:"priority_bands"`
	ScoringDeadlineMS int            `yaml:"scoring_deadline_ms"` // budget per window evaluation
	ModelDir          string         `yaml:"model_dir"`

	// Ingress
	LiveTrackedRoutes []string `yaml:"live_tracked_routes"`
	SimVirtualRoutes  []string `yaml:"sim_virtual_routes"`

	// Capacity
	HistoryCapacity       int `yaml:"history_capacity"`        // SIM detection ring
	SubscriberQueueDepth  int `yaml:"subscriber_queue_depth"`  // per websocket session
	ObservationQueueDepth int `yaml:"observation_queue_depth"` // async persistence buffer

	// Simulation
	SimTargetRPS float64 `yaml:"sim_target_rps"`

	// Persistence
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns the shipped configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:            DefaultWindowSize,
		RuleThresholds:        DefaultRuleThresholds(),
		ScoreWeights:          DefaultScoreWeights(),
		PriorityBands:         DefaultPriorityBands(),
		ScoringDeadlineMS:     DefaultScoringDeadlineMS,
		ModelDir:              DefaultModelDir,
		LiveTrackedRoutes:     append([]string(nil), DefaultLiveRoutes...),
		SimVirtualRoutes:      append([]string(nil), DefaultSimRoutes...),
		HistoryCapacity:       DefaultHistoryCapacity,
		SubscriberQueueDepth:  DefaultSubscriberQueueDepth,
		ObservationQueueDepth: DefaultObservationQueueDepth,
		SimTargetRPS:          DefaultSimTargetRPS,
		DBPath:                DefaultDBPath,
	}
}

// ScoringDeadline returns the per-window scoring budget as a duration.
func (c Config) ScoringDeadline() time.Duration {
	return time.Duration(c.ScoringDeadlineMS) * time.Millisecond
}

// LoadFile overlays values from a YAML file onto the receiver. Keys absent
// from the file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto the receiver. Compound
// values use comma-separated key=value lists.
func (c *Config) ApplyEnv() error {
	if err := envInt("WINDOW_SIZE", &c.WindowSize); err != nil {
		return err
	}
	if err := envInt("HISTORY_CAPACITY", &c.HistoryCapacity); err != nil {
		return err
	}
	if err := envInt("SUBSCRIBER_QUEUE_DEPTH", &c.SubscriberQueueDepth); err != nil {
		return err
	}
	if err := envInt("OBSERVATION_QUEUE_DEPTH", &c.ObservationQueueDepth); err != nil {
		return err
	}
	if err := envInt("SCORING_DEADLINE_MS", &c.ScoringDeadlineMS); err != nil {
		return err
	}
	if err := envFloat("SIM_TARGET_RPS", &c.SimTargetRPS); err != nil {
		return err
	}
	envString("MODEL_DIR", &c.ModelDir)
	envString("DB_PATH", &c.DBPath)
	envRoutes("LIVE_TRACKED_ROUTES", &c.LiveTrackedRoutes)
	envRoutes("SIM_VIRTUAL_ROUTES", &c.SimVirtualRoutes)

	if err := envKeyValues("RULE_THRESHOLDS", map[string]*float64{
		"rate_spike":    &c.RuleThresholds.RateSpike,
		"error_burst":   &c.RuleThresholds.ErrorBurst,
		"bot_entropy":   &c.RuleThresholds.BotEntropy,
		"bot_repeat":    &c.RuleThresholds.BotRepeat,
		"large_payload": &c.RuleThresholds.LargePayload,
		"endpoint_scan": &c.RuleThresholds.EndpointScan,
	}); err != nil {
		return err
	}
	if err := envKeyValues("SCORE_WEIGHTS", map[string]*float64{
		"rules":        &c.ScoreWeights.Rules,
		"anomaly":      &c.ScoreWeights.Anomaly,
		"failure":      &c.ScoreWeights.Failure,
		"next_failure": &c.ScoreWeights.NextFailure,
	}); err != nil {
		return err
	}
	return envKeyValues("PRIORITY_BANDS", map[string]*float64{
		"critical": &c.PriorityBands.Critical,
		"high":     &c.PriorityBands.High,
		"medium":   &c.PriorityBands.Medium,
	})
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.WindowSize < 2 {
		return fmt.Errorf("window_size = %d, need at least 2", c.WindowSize)
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("history_capacity = %d, need at least 1", c.HistoryCapacity)
	}
	if c.SubscriberQueueDepth < 1 {
		return fmt.Errorf("subscriber_queue_depth = %d, need at least 1", c.SubscriberQueueDepth)
	}
	if c.ObservationQueueDepth < 1 {
		return fmt.Errorf("observation_queue_depth = %d, need at least 1", c.ObservationQueueDepth)
	}
	if c.ScoringDeadlineMS < 1 {
		return fmt.Errorf("scoring_deadline_ms = %d, need at least 1", c.ScoringDeadlineMS)
	}
	if c.SimTargetRPS <= 0 {
		return fmt.Errorf("sim_target_rps = %v, need > 0", c.SimTargetRPS)
	}

	w := c.ScoreWeights
	for name, v := range map[string]float64{
		"rules": w.Rules, "anomaly": w.Anomaly, "failure": w.Failure, "next_failure": w.NextFailure,
	} {
		if v < 0 {
			return fmt.Errorf("score weight %s = %v, need >= 0", name, v)
		}
	}
	if w.Rules+w.Anomaly+w.Failure+w.NextFailure <= 0 {
		return fmt.Errorf("score weights sum to zero")
	}

	b := c.PriorityBands
	if !(0 <= b.Medium && b.Medium <= b.High && b.High <= b.Critical && b.Critical <= 1) {
		return fmt.Errorf("priority bands must satisfy 0 <= medium <= high <= critical <= 1, got %+v", b)
	}

	if len(c.LiveTrackedRoutes) == 0 {
		return fmt.Errorf("live_tracked_routes is empty")
	}
	if len(c.SimVirtualRoutes) == 0 {
		return fmt.Errorf("sim_virtual_routes is empty")
	}
	for _, r := range append(append([]string(nil), c.LiveTrackedRoutes...), c.SimVirtualRoutes...) {
		if !strings.HasPrefix(r, "/") {
			return fmt.Errorf("route %q must start with /", r)
		}
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s = %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s = %q: %w", key, v, err)
	}
	*dst = f
	return nil
}

func envRoutes(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var routes []string
	for _, r := range strings.Split(v, ",") {
		if r = strings.TrimSpace(r); r != "" {
			routes = append(routes, r)
		}
	}
	*dst = routes
}

// envKeyValues parses "key=value,key=value" into the given targets and
// rejects unknown keys.
func envKeyValues(key string, targets map[string]*float64) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, raw, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("%s: entry %q is not key=value", key, pair)
		}
		dst, known := targets[strings.TrimSpace(name)]
		if !known {
			return fmt.Errorf("%s: unknown key %q", key, name)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("%s: %s = %q: %w", key, name, raw, err)
		}
		*dst = f
	}
	return nil
}
