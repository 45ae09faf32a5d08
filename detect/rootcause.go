// Root cause analysis: maps a scored window onto one of five operational
// causes by testing four independent conditions against the feature vector
// and the behavioral cluster.

package detect

// RootCause is the diagnosed failure family for a window.
type RootCause string

const (
	RootCauseNone               RootCause = "NONE"
	RootCauseLatencyBottleneck  RootCause = "LATENCY_BOTTLENECK"
	RootCauseBackendInstability RootCause = "BACKEND_INSTABILITY"
	RootCauseTrafficSurge       RootCause = "TRAFFIC_SURGE"
	RootCauseAbuseOrBot         RootCause = "ABUSE_OR_BOT"
	RootCauseSystemOverload     RootCause = "SYSTEM_OVERLOAD"
)

// Condition is one elementary diagnostic, reported in evaluation order on
// the detection wire.
type Condition string

const (
	ConditionLatencyBottleneck Condition = "latency_bottleneck"
	ConditionBackendInstable   Condition = "backend_instability"
	ConditionTrafficSurge      Condition = "traffic_surge"
	ConditionAbuseOrBot        Condition = "abuse_or_bot"
)

// Diagnostic thresholds. The surge baseline is the steady-state request rate
// the detector was calibrated against.
const (
	latencyFloorMS        = 800.0
	latencyErrorCeiling   = 0.3
	instabilityErrorFloor = 0.3
	surgeBaselineRate     = 5.0
	surgeMultiplier       = 2.0
	abuseRepeatFloor      = 0.7
	botClusterID          = 2
)

// Diagnosis is the analyzer verdict for one window.
type Diagnosis struct {
	Cause      RootCause
	Conditions []Condition
	Confidence float64
}

// Diagnose evaluates the four conditions in a fixed order. Exactly one
// condition names its cause directly; two or more collapse into
// SYSTEM_OVERLOAD; none means healthy.
func Diagnose(f FeatureVector, scores ModelScores) Diagnosis {
	var conditions []Condition

	if f.AvgResponseTime > latencyFloorMS && f.ErrorRate < latencyErrorCeiling {
		conditions = append(conditions, ConditionLatencyBottleneck)
	}
	if f.ErrorRate >= instabilityErrorFloor {
		conditions = append(conditions, ConditionBackendInstable)
	}
	if f.RequestRate >= surgeMultiplier*surgeBaselineRate {
		conditions = append(conditions, ConditionTrafficSurge)
	}
	botCluster := !scores.IsUnavailable(SubmodelKMeans) && scores.ClusterID == botClusterID
	if f.RepeatedParameterRatio > abuseRepeatFloor || botCluster {
		conditions = append(conditions, ConditionAbuseOrBot)
	}

	switch len(conditions) {
	case 0:
		return Diagnosis{Cause: RootCauseNone}
	case 1:
		cause := conditionCause(conditions[0])
		return Diagnosis{Cause: cause, Conditions: conditions, Confidence: singleCauseConfidence[cause]}
	case 2:
		return Diagnosis{Cause: RootCauseSystemOverload, Conditions: conditions, Confidence: 0.90}
	default:
		return Diagnosis{Cause: RootCauseSystemOverload, Conditions: conditions, Confidence: 0.95}
	}
}

// conditionCause maps an elementary condition onto its cause.
func conditionCause(c Condition) RootCause {
	switch c {
	case ConditionLatencyBottleneck:
		return RootCauseLatencyBottleneck
	case ConditionBackendInstable:
		return RootCauseBackendInstability
	case ConditionTrafficSurge:
		return RootCauseTrafficSurge
	case ConditionAbuseOrBot:
		return RootCauseAbuseOrBot
	default:
		return RootCauseNone
	}
}

// singleCauseConfidence is the fixed confidence for a diagnosis backed by
// exactly one condition.
var singleCauseConfidence = map[RootCause]float64{
	RootCauseBackendInstability: 0.92,
	RootCauseAbuseOrBot:         0.91,
	RootCauseLatencyBottleneck:  0.90,
	RootCauseTrafficSurge:       0.88,
}
