package detect

import (
	"testing"
)

func TestDiagnoseSingleConditions(t *testing.T) {
	cases := []struct {
		name           string
		features       FeatureVector
		scores         ModelScores
		wantCause      RootCause
		wantConfidence float64
	}{
		{
			name:           "slow but healthy backend",
			features:       FeatureVector{RequestRate: 4, AvgResponseTime: 900, ErrorRate: 0.1},
			wantCause:      RootCauseLatencyBottleneck,
			wantConfidence: 0.90,
		},
		{
			name:           "error floor reached",
			features:       FeatureVector{RequestRate: 4, AvgResponseTime: 120, ErrorRate: 0.5},
			wantCause:      RootCauseBackendInstability,
			wantConfidence: 0.92,
		},
		{
			name:           "rate at twice the baseline",
			features:       FeatureVector{RequestRate: 10, AvgResponseTime: 50, ErrorRate: 0.1},
			wantCause:      RootCauseTrafficSurge,
			wantConfidence: 0.88,
		},
		{
			name:           "repeated parameters",
			features:       FeatureVector{RequestRate: 4, RepeatedParameterRatio: 0.8},
			wantCause:      RootCauseAbuseOrBot,
			wantConfidence: 0.91,
		},
		{
			name:           "bot cluster without repeated parameters",
			features:       FeatureVector{RequestRate: 4},
			scores:         ModelScores{ClusterID: 2},
			wantCause:      RootCauseAbuseOrBot,
			wantConfidence: 0.91,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Diagnose(tc.features, tc.scores)
			if d.Cause != tc.wantCause {
				t.Errorf("cause = %v, want %v", d.Cause, tc.wantCause)
			}
			if d.Confidence != tc.wantConfidence {
				t.Errorf("confidence = %v, want %v", d.Confidence, tc.wantConfidence)
			}
			if len(d.Conditions) != 1 {
				t.Errorf("conditions = %v, want exactly one", d.Conditions)
			}
		})
	}
}

func TestDiagnoseHealthyWindow(t *testing.T) {
	// GIVEN calm traffic under every threshold
	f := FeatureVector{RequestRate: 5, AvgResponseTime: 150, ErrorRate: 0.1, RepeatedParameterRatio: 0.2}

	// WHEN diagnosed
	d := Diagnose(f, ModelScores{})

	// THEN no cause and no confidence is reported
	if d.Cause != RootCauseNone {
		t.Errorf("cause = %v, want NONE", d.Cause)
	}
	if d.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", d.Confidence)
	}
	if len(d.Conditions) != 0 {
		t.Errorf("conditions = %v, want none", d.Conditions)
	}
}

func TestDiagnoseTwoConditionsCollapseIntoOverload(t *testing.T) {
	// GIVEN an error burst arriving at surge rate
	f := FeatureVector{RequestRate: 12, ErrorRate: 0.4}

	d := Diagnose(f, ModelScores{})

	if d.Cause != RootCauseSystemOverload {
		t.Fatalf("cause = %v, want SYSTEM_OVERLOAD", d.Cause)
	}
	if d.Confidence != 0.90 {
		t.Errorf("confidence = %v, want 0.90", d.Confidence)
	}
	// Conditions keep evaluation order.
	want := []Condition{ConditionBackendInstable, ConditionTrafficSurge}
	if len(d.Conditions) != len(want) {
		t.Fatalf("conditions = %v, want %v", d.Conditions, want)
	}
	for i := range want {
		if d.Conditions[i] != want[i] {
			t.Errorf("conditions[%d] = %v, want %v", i, d.Conditions[i], want[i])
		}
	}
}

func TestDiagnoseThreeConditionsRaiseConfidence(t *testing.T) {
	// GIVEN slow responses, surge rate and repeated parameters at once
	f := FeatureVector{RequestRate: 20, AvgResponseTime: 950, ErrorRate: 0.1, RepeatedParameterRatio: 0.9}

	d := Diagnose(f, ModelScores{})

	if d.Cause != RootCauseSystemOverload {
		t.Fatalf("cause = %v, want SYSTEM_OVERLOAD", d.Cause)
	}
	if d.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", d.Confidence)
	}
	if len(d.Conditions) != 3 {
		t.Errorf("conditions = %v, want three", d.Conditions)
	}
}

func TestDiagnoseErrorFloorBlocksLatencyCondition(t *testing.T) {
	// GIVEN slow responses with errors at the instability floor
	f := FeatureVector{RequestRate: 4, AvgResponseTime: 1200, ErrorRate: 0.3}

	d := Diagnose(f, ModelScores{})

	// THEN the window reads as instability, not as a latency bottleneck
	if d.Cause != RootCauseBackendInstability {
		t.Errorf("cause = %v, want BACKEND_INSTABILITY", d.Cause)
	}
}

func TestDiagnoseThresholdEdges(t *testing.T) {
	// Latency must exceed the floor strictly, the surge multiple is inclusive.
	if d := Diagnose(FeatureVector{AvgResponseTime: 800, RequestRate: 4}, ModelScores{}); d.Cause != RootCauseNone {
		t.Errorf("avg 800ms: cause = %v, want NONE", d.Cause)
	}
	if d := Diagnose(FeatureVector{RequestRate: 9.999}, ModelScores{}); d.Cause != RootCauseNone {
		t.Errorf("rate 9.999: cause = %v, want NONE", d.Cause)
	}
	if d := Diagnose(FeatureVector{RepeatedParameterRatio: 0.7, RequestRate: 4}, ModelScores{}); d.Cause != RootCauseNone {
		t.Errorf("repeat 0.7: cause = %v, want NONE", d.Cause)
	}
}

func TestDiagnoseIgnoresClusterWhenUnavailable(t *testing.T) {
	// GIVEN the bot cluster id left over from a failed kmeans load
	scores := ModelScores{ClusterID: 2, Unavailable: []string{SubmodelKMeans}}

	d := Diagnose(FeatureVector{RequestRate: 4}, scores)

	if d.Cause != RootCauseNone {
		t.Errorf("cause = %v, want NONE when clustering is unavailable", d.Cause)
	}
}
