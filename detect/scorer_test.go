package detect

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apisentinel/apisentinel/detect/internal/testutil"
)

func newTestScorer(t *testing.T, dir string) *Scorer {
	t.Helper()
	return NewScorer(LoadModelSet(dir), DefaultScoreWeights(), DefaultPriorityBands(), DefaultRuleThresholds(), time.Second)
}

func TestPriorityBandBoundaries(t *testing.T) {
	// GIVEN the shipped bands with closed-low thresholds
	bands := DefaultPriorityBands()

	cases := []struct {
		risk float64
		want Priority
	}{
		{1.0, PriorityCritical},
		{0.75, PriorityCritical},
		{0.7499, PriorityHigh},
		{0.55, PriorityHigh},
		{0.5499, PriorityMedium},
		{0.35, PriorityMedium},
		{0.3499, PriorityLow},
		{0.0, PriorityLow},
	}
	for _, tc := range cases {
		if got := bands.Classify(tc.risk); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.risk, got, tc.want)
		}
	}
}

func TestPriorityRankOrdersMostUrgentFirst(t *testing.T) {
	order := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	for i, p := range order {
		if p.Rank() != i {
			t.Errorf("%v.Rank() = %d, want %d", p, p.Rank(), i)
		}
	}
}

func TestScoreBlendsAllSubmodels(t *testing.T) {
	// GIVEN all four submodels available
	s := newTestScorer(t, writeTestModelDir(t))

	// WHEN a window with error_rate 0.5 and request_rate 10 is scored
	a := s.Score(context.Background(), featuresWith(0.5, 10))

	// THEN no rule fires and the risk is the full weighted blend
	if len(a.Alerts) != 0 {
		t.Fatalf("alerts = %v, want none", a.Alerts)
	}
	if len(a.Models.Unavailable) != 0 {
		t.Fatalf("unavailable = %v, want none", a.Models.Unavailable)
	}

	iso := math.Exp2(-(1 + avgPathLength(40)) / avgPathLength(32))
	wantRisk := 0.25*iso + 0.30*0.5 + 0.15*0.5
	testutil.AssertFloat64Equal(t, "risk", wantRisk, a.Risk, 1e-9)

	if a.Priority != PriorityLow {
		t.Errorf("priority = %v, want LOW", a.Priority)
	}
	if a.IsAnomaly {
		t.Error("IsAnomaly = true, want false")
	}

	// AND the fast source lands in the request_rate centroid
	if a.Models.ClusterID != 1 {
		t.Errorf("cluster = %d, want 1", a.Models.ClusterID)
	}
	testutil.AssertFloat64Equal(t, "cluster distance", 0.5/1.5, a.Models.ClusterDistance, 1e-9)
}

func TestScoreRenormalizesWhenSubmodelMissing(t *testing.T) {
	// GIVEN a model set without the logistic regression artifact
	dir := writeTestModelDir(t)
	if err := os.Remove(filepath.Join(dir, "logistic_regression.json")); err != nil {
		t.Fatal(err)
	}
	s := newTestScorer(t, dir)

	// WHEN the same window is scored
	a := s.Score(context.Background(), featuresWith(0.5, 10))

	// THEN the remaining weights are renormalized
	iso := math.Exp2(-(1 + avgPathLength(40)) / avgPathLength(32))
	wantRisk := (0.25*iso + 0.15*0.5) / (0.30 + 0.25 + 0.15)
	testutil.AssertFloat64Equal(t, "risk", wantRisk, a.Risk, 1e-9)

	if !a.Models.IsUnavailable(SubmodelLogReg) {
		t.Errorf("unavailable = %v, want logistic regression listed", a.Models.Unavailable)
	}
	if a.Models.FailureProbability != 0 {
		t.Errorf("failure probability = %v, want zero for unavailable submodel", a.Models.FailureProbability)
	}
}

func TestRiskFallsBackToRuleScoreWithoutModels(t *testing.T) {
	// GIVEN no artifacts at all
	s := newTestScorer(t, t.TempDir())

	// WHEN a window firing one rule is scored
	a := s.Score(context.Background(), featuresWith(1.0, 5))

	// THEN the risk equals the rule score exactly
	if len(a.Alerts) != 1 || a.Alerts[0] != AlertErrorBurst {
		t.Fatalf("alerts = %v, want [ERROR_BURST]", a.Alerts)
	}
	testutil.AssertFloat64Equal(t, "risk", 0.2, a.Risk, 1e-9)

	want := []string{SubmodelIsolationForest, SubmodelLogReg, SubmodelKMeans, SubmodelFailure}
	if len(a.Models.Unavailable) != len(want) {
		t.Fatalf("unavailable = %v, want %v", a.Models.Unavailable, want)
	}
	for i := range want {
		if a.Models.Unavailable[i] != want[i] {
			t.Errorf("unavailable[%d] = %q, want %q", i, a.Models.Unavailable[i], want[i])
		}
	}
	if a.Method != MethodRuleBased {
		t.Errorf("method = %q, want %q", a.Method, MethodRuleBased)
	}
}

func TestExpiredContextMarksAllSubmodelsUnavailable(t *testing.T) {
	// GIVEN a scoring call whose context is already canceled
	s := newTestScorer(t, writeTestModelDir(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN the window is scored
	a := s.Score(ctx, featuresWith(1.0, 5))

	// THEN every submodel is reported unavailable and rules still apply
	if len(a.Models.Unavailable) != 4 {
		t.Fatalf("unavailable = %v, want all four", a.Models.Unavailable)
	}
	testutil.AssertFloat64Equal(t, "risk", 0.2, a.Risk, 1e-9)
	if !a.IsAnomaly {
		t.Error("IsAnomaly = false, want true from the rule alert")
	}
}

func TestDetectionMethodNamesContributors(t *testing.T) {
	s := newTestScorer(t, writeTestModelDir(t))

	// GIVEN a hot window: rule alert, isolated point, confident classifier
	a := s.Score(context.Background(), featuresWith(1.0, 10))
	want := "RULE_BASED+ISOLATION_FOREST+LOGISTIC_REGRESSION"
	if a.Method != want {
		t.Errorf("method = %q, want %q", a.Method, want)
	}

	// AND GIVEN calm traffic nothing stands out
	a = s.Score(context.Background(), featuresWith(0, 0))
	if a.Method != MethodEnsembleBaseline {
		t.Errorf("method = %q, want %q", a.Method, MethodEnsembleBaseline)
	}
}

func TestAnomalyVerdictFromBandWithoutAlerts(t *testing.T) {
	// GIVEN a blend dominated by the classifier
	weights := ScoreWeights{Rules: 0, Anomaly: 0, Failure: 1, NextFailure: 0}
	s := NewScorer(LoadModelSet(writeTestModelDir(t)), weights, DefaultPriorityBands(), DefaultRuleThresholds(), time.Second)

	// WHEN error_rate sits exactly on the rule threshold so no alert fires
	a := s.Score(context.Background(), featuresWith(0.5, 5))

	// THEN the verdict comes from the MEDIUM band alone
	if len(a.Alerts) != 0 {
		t.Fatalf("alerts = %v, want none", a.Alerts)
	}
	testutil.AssertFloat64Equal(t, "risk", 0.5, a.Risk, 1e-9)
	if a.Priority != PriorityMedium {
		t.Errorf("priority = %v, want MEDIUM", a.Priority)
	}
	if !a.IsAnomaly {
		t.Error("IsAnomaly = false, want true at MEDIUM priority")
	}
}
