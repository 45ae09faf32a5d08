// Deterministic threshold checks over the feature vector. Order independent
// and pure; each fired alert contributes 0.2 to the rule score, capped at 1.

package detect

// Alert is a categorical rule verdict.
type Alert string

const (
	AlertRateSpike    Alert = "RATE_SPIKE"
	AlertErrorBurst   Alert = "ERROR_BURST"
	AlertBotPattern   Alert = "BOT_PATTERN"
	AlertLargePayload Alert = "LARGE_PAYLOAD"
	AlertEndpointScan Alert = "ENDPOINT_SCAN"
)

// alertWeight is the per-alert contribution to the rule score.
const alertWeight = 0.2

// RuleThresholds carries the calibrated rule constants. All tunable via
// configuration; zero values are replaced by the defaults at load time.
type RuleThresholds struct {
	RateSpike    float64 `yaml:"rate_spike"`    // req/s above which RATE_SPIKE fires
	ErrorBurst   float64 `yaml:"error_burst"`   // error fraction above which ERROR_BURST fires
	BotEntropy   float64 `yaml:"bot_entropy"`   // user-agent entropy below which BOT_PATTERN may fire
	BotRepeat    float64 `yaml:"bot_repeat"`    // repeated-parameter ratio above which BOT_PATTERN may fire
	LargePayload float64 `yaml:"large_payload"` // mean payload bytes above which LARGE_PAYLOAD fires
	EndpointScan float64 `yaml:"endpoint_scan"` // distinct routes above which ENDPOINT_SCAN fires
}

// DefaultRuleThresholds returns the system's calibrated defaults.
func DefaultRuleThresholds() RuleThresholds {
	return RuleThresholds{
		RateSpike:    15,
		ErrorBurst:   0.5,
		BotEntropy:   0.5,
		BotRepeat:    0.5,
		LargePayload: 5000,
		EndpointScan: 8,
	}
}

// Evaluate runs the five threshold checks against a feature vector and
// returns the fired alerts in a fixed order plus the rule score.
func (t RuleThresholds) Evaluate(f FeatureVector) ([]Alert, float64) {
	var alerts []Alert
	if f.RequestRate > t.RateSpike {
		alerts = append(alerts, AlertRateSpike)
	}
	if f.ErrorRate > t.ErrorBurst {
		alerts = append(alerts, AlertErrorBurst)
	}
	if f.UserAgentEntropy < t.BotEntropy && f.RepeatedParameterRatio > t.BotRepeat {
		alerts = append(alerts, AlertBotPattern)
	}
	if f.AvgPayloadSize > t.LargePayload {
		alerts = append(alerts, AlertLargePayload)
	}
	if f.UniqueEndpoints > t.EndpointScan {
		alerts = append(alerts, AlertEndpointScan)
	}

	score := alertWeight * float64(len(alerts))
	if score > 1 {
		score = 1
	}
	return alerts, score
}
