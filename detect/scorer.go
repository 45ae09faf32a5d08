// Risk scoring: blends the rule engine with the model submodels into a
// single risk score, classifies it into a priority band and decides the
// anomaly verdict.

package detect

import (
	"context"
	"strings"
	"time"
)

// Priority is the traffic-light band assigned to a risk score.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Rank orders priorities for sorting, most urgent first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Detection method labels, joined with "+" when several subsystems
// contributed to the verdict.
const (
	MethodRuleBased        = "RULE_BASED"
	MethodIsolationForest  = "ISOLATION_FOREST"
	MethodLogistic         = "LOGISTIC_REGRESSION"
	MethodFailurePredictor = "FAILURE_PREDICTION"
	MethodEnsembleBaseline = "ENSEMBLE"
)

// methodContribThreshold is the probability above which a submodel is
// considered to have driven the verdict.
const methodContribThreshold = 0.5

// ScoreWeights are the blend weights for the risk score. Weights of
// unavailable submodels are dropped and the rest renormalized, so a degraded
// pipeline still produces a score on the same scale.
type ScoreWeights struct {
	Rules       float64 `yaml:"rules"`        // rule engine score
	Anomaly     float64 `yaml:"anomaly"`      // isolation forest
	Failure     float64 `yaml:"failure"`      // logistic regression
	NextFailure float64 `yaml:"next_failure"` // next-window failure predictor
}

// DefaultScoreWeights returns the shipped blend.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Rules: 0.30, Anomaly: 0.25, Failure: 0.30, NextFailure: 0.15}
}

// PriorityBands are the closed-low risk thresholds for each band; risk below
// Medium is LOW.
type PriorityBands struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
}

// DefaultPriorityBands returns the shipped thresholds.
func DefaultPriorityBands() PriorityBands {
	return PriorityBands{Critical: 0.75, High: 0.55, Medium: 0.35}
}

// Classify maps a risk score onto its band. Thresholds are inclusive.
func (b PriorityBands) Classify(risk float64) Priority {
	switch {
	case risk >= b.Critical:
		return PriorityCritical
	case risk >= b.High:
		return PriorityHigh
	case risk >= b.Medium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ModelScores is the per-submodel output attached to a detection. Fields of
// unavailable submodels stay zero and the submodel is listed in Unavailable.
type ModelScores struct {
	AnomalyScore                 float64  `json:"anomaly_score"`
	FailureProbability           float64  `json:"failure_probability"`
	ClusterID                    int      `json:"cluster_id"`
	ClusterDistance              float64  `json:"cluster_distance"`
	NextWindowFailureProbability float64  `json:"next_window_failure_probability"`
	Unavailable                  []string `json:"unavailable,omitempty"`
}

// IsUnavailable reports whether the named submodel did not contribute.
func (m ModelScores) IsUnavailable(name string) bool {
	for _, u := range m.Unavailable {
		if u == name {
			return true
		}
	}
	return false
}

// Assessment is the scorer verdict for one window.
type Assessment struct {
	Alerts    []Alert
	RuleScore float64
	Models    ModelScores
	Risk      float64
	Priority  Priority
	IsAnomaly bool
	Method    string
}

// Scorer evaluates sealed windows: rule engine first, then the submodels,
// then the weighted blend. A Scorer is safe for concurrent use.
type Scorer struct {
	models     *ModelSet
	weights    ScoreWeights
	bands      PriorityBands
	thresholds RuleThresholds
	deadline   time.Duration
}

// NewScorer wires the scoring pipeline. deadline bounds one evaluation;
// submodels not reached before it expires are reported unavailable.
func NewScorer(models *ModelSet, weights ScoreWeights, bands PriorityBands, thresholds RuleThresholds, deadline time.Duration) *Scorer {
	return &Scorer{
		models:     models,
		weights:    weights,
		bands:      bands,
		thresholds: thresholds,
		deadline:   deadline,
	}
}

// Score evaluates one feature vector. It never fails: unavailable submodels
// drop out of the blend and the verdict is computed from what remains.
func (s *Scorer) Score(ctx context.Context, f FeatureVector) Assessment {
	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	alerts, ruleScore := s.thresholds.Evaluate(f)

	x := f.Values()
	var scores ModelScores

	total := s.weights.Rules
	risk := s.weights.Rules * ruleScore

	if v, err := s.evalFloat(ctx, SubmodelIsolationForest, x, s.models.PredictAnomaly); err != nil {
		scores.Unavailable = append(scores.Unavailable, SubmodelIsolationForest)
	} else {
		scores.AnomalyScore = v
		total += s.weights.Anomaly
		risk += s.weights.Anomaly * v
	}

	if v, err := s.evalFloat(ctx, SubmodelLogReg, x, s.models.PredictFailure); err != nil {
		scores.Unavailable = append(scores.Unavailable, SubmodelLogReg)
	} else {
		scores.FailureProbability = v
		total += s.weights.Failure
		risk += s.weights.Failure * v
	}

	// Clustering informs root cause analysis but carries no blend weight.
	if err := ctx.Err(); err != nil {
		scores.Unavailable = append(scores.Unavailable, SubmodelKMeans)
	} else if id, dist, err := s.models.AssignCluster(x); err != nil {
		scores.Unavailable = append(scores.Unavailable, SubmodelKMeans)
	} else {
		scores.ClusterID = id
		scores.ClusterDistance = dist
	}

	if v, err := s.evalFloat(ctx, SubmodelFailure, x, s.models.PredictNextFailure); err != nil {
		scores.Unavailable = append(scores.Unavailable, SubmodelFailure)
	} else {
		scores.NextWindowFailureProbability = v
		total += s.weights.NextFailure
		risk += s.weights.NextFailure * v
	}

	if total > 0 {
		risk /= total
	} else {
		risk = 0
	}

	priority := s.bands.Classify(risk)
	return Assessment{
		Alerts:    alerts,
		RuleScore: ruleScore,
		Models:    scores,
		Risk:      risk,
		Priority:  priority,
		IsAnomaly: priority != PriorityLow || len(alerts) >= 1,
		Method:    detectionMethod(alerts, scores),
	}
}

// evalFloat runs one scalar submodel unless the scoring deadline already
// expired.
func (s *Scorer) evalFloat(ctx context.Context, name string, x []float64, eval func([]float64) (float64, error)) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return eval(x)
}

// detectionMethod names the subsystems that drove the verdict.
func detectionMethod(alerts []Alert, scores ModelScores) string {
	var parts []string
	if len(alerts) > 0 {
		parts = append(parts, MethodRuleBased)
	}
	if !scores.IsUnavailable(SubmodelIsolationForest) && scores.AnomalyScore > methodContribThreshold {
		parts = append(parts, MethodIsolationForest)
	}
	if !scores.IsUnavailable(SubmodelLogReg) && scores.FailureProbability > methodContribThreshold {
		parts = append(parts, MethodLogistic)
	}
	if !scores.IsUnavailable(SubmodelFailure) && scores.NextWindowFailureProbability > methodContribThreshold {
		parts = append(parts, MethodFailurePredictor)
	}
	if len(parts) == 0 {
		return MethodEnsembleBaseline
	}
	return strings.Join(parts, "+")
}
