package detect

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Detection is the full assessment of one sealed window: features, rule
// alerts, submodel scores, the blended risk verdict, the diagnosed root
// cause and its remediation plan. Detections are persisted, broadcast to
// subscribers and served by the control API.
type Detection struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Mode      Mode      `json:"mode"`
	Source    string    `json:"source"`
	WindowID  int64     `json:"window_id"`

	Features    FeatureVector `json:"features"`
	RuleAlerts  []Alert       `json:"rule_alerts"`
	ModelScores ModelScores   `json:"model_scores"`

	RiskScore float64  `json:"risk_score"`
	Priority  Priority `json:"priority"`
	IsAnomaly bool     `json:"is_anomaly"`

	RootCause              RootCause    `json:"root_cause"`
	ContributingConditions []Condition  `json:"contributing_conditions"`
	CauseConfidence        float64      `json:"cause_confidence"`
	Resolutions            []Resolution `json:"resolutions"`

	DetectionLatencyMS float64 `json:"detection_latency_ms"`
	DetectionMethod    string  `json:"detection_method"`

	// Set only for SIM detections, where ground truth exists.
	InjectedLabel       Pattern `json:"injected_label,omitempty"`
	EmergencyRank       int     `json:"emergency_rank,omitempty"`
	IsCorrectlyDetected *bool   `json:"is_correctly_detected,omitempty"`
}

// NewDetectionID returns a lexicographically sortable unique id.
func NewDetectionID() string {
	return ulid.Make().String()
}

// majorityLabel returns the injected pattern that labels most observations
// in the window; ties go to the label seen most recently.
func majorityLabel(w *Window) Pattern {
	counts := make(map[Pattern]int)
	lastSeen := make(map[Pattern]int)
	for i, obs := range w.Observations {
		if obs.InjectedLabel == "" {
			continue
		}
		counts[obs.InjectedLabel]++
		lastSeen[obs.InjectedLabel] = i
	}

	var best Pattern
	for label, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && lastSeen[label] > lastSeen[best]) {
			best = label
		}
	}
	return best
}
