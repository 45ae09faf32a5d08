// Defines the Observation record: one HTTP request as seen by the detector.
// Observations are immutable once created; they are produced either by the
// live ingress middleware or by the simulation engine.

package detect

import (
	"fmt"
	"time"
)

// Mode separates real traffic from synthetic traffic. Every observation,
// window, detection and persisted row carries exactly one Mode; the two
// streams never mix.
type Mode string

const (
	ModeLive Mode = "LIVE"
	ModeSim  Mode = "SIM"
)

// ParseMode validates a mode string from the control API.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLive, ModeSim:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Pattern is a synthetic anomaly pattern. It doubles as the ground-truth
// injected label carried by SIM observations.
type Pattern string

const (
	PatternNormal        Pattern = "NORMAL"
	PatternRateSpike     Pattern = "RATE_SPIKE"
	PatternPayloadAbuse  Pattern = "PAYLOAD_ABUSE"
	PatternErrorBurst    Pattern = "ERROR_BURST"
	PatternParamRepeat   Pattern = "PARAM_REPETITION"
	PatternEndpointFlood Pattern = "ENDPOINT_FLOOD"
	PatternMixed         Pattern = "MIXED"
)

// AnomalousPatterns are the concrete injectable patterns; MIXED samples
// uniformly from this set per emission.
var AnomalousPatterns = []Pattern{
	PatternRateSpike,
	PatternPayloadAbuse,
	PatternErrorBurst,
	PatternParamRepeat,
	PatternEndpointFlood,
}

// ParsePattern validates a pattern string from the control API.
func ParsePattern(s string) (Pattern, error) {
	switch Pattern(s) {
	case PatternNormal, PatternRateSpike, PatternPayloadAbuse, PatternErrorBurst,
		PatternParamRepeat, PatternEndpointFlood, PatternMixed:
		return Pattern(s), nil
	}
	return "", fmt.Errorf("unknown pattern %q", s)
}

// Param is a single request parameter occurrence. Raw parameter strings are
// not retained past feature extraction.
type Param struct {
	Name  string
	Value string
}

// Observation models a single request's footprint.
//
// Timestamp is taken with time.Now() at creation so it carries both the
// wall-clock and the monotonic reading; window durations are computed via
// Sub, which uses the monotonic part.
type Observation struct {
	Timestamp    time.Time
	Mode         Mode
	Source       string // traffic origin key; the route in LIVE, the virtual route in SIM
	Route        string
	Method       string
	Status       int
	LatencyMS    float64
	PayloadBytes int64
	UserAgent    string
	Params       []Param

	// InjectedLabel is the ground truth attached by the simulation engine.
	// Empty for LIVE observations.
	InjectedLabel Pattern
}

func (o Observation) String() string {
	return fmt.Sprintf("Observation: (Mode: %s, Source: %s, %s %s -> %d, %.1fms)",
		o.Mode, o.Source, o.Method, o.Route, o.Status, o.LatencyMS)
}
