package detect

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeArtifact marshals v into dir/name for model loading tests.
func writeArtifact(t *testing.T, dir, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// identityScalerDoc is a pass-through scaler artifact: mean 0, scale 1 for
// all nine features.
func identityScalerDoc() map[string]any {
	mean := make([]float64, len(FeatureNames))
	scale := make([]float64, len(FeatureNames))
	for i := range scale {
		scale[i] = 1
	}
	return map[string]any{"mean": mean, "scale": scale}
}

// writeTestModelDir writes a complete artifact set with hand-computable
// outputs and returns the directory:
//
//   - identity scalers everywhere
//   - logistic regression p = sigmoid(4*error_rate - 2)
//   - failure predictor p = sigmoid(0.1*request_rate - 1)
//   - kmeans centroids at the origin and at request_rate = 10
//   - a one-split isolation forest on error_rate > 0.5
func writeTestModelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	lrCoef := make([]float64, len(FeatureNames))
	lrCoef[4] = 4
	writeArtifact(t, dir, "logistic_regression.json", map[string]any{"coef": lrCoef, "intercept": -2.0})
	writeArtifact(t, dir, "lr_scaler.json", identityScalerDoc())

	fpCoef := make([]float64, len(FeatureNames))
	fpCoef[0] = 0.1
	writeArtifact(t, dir, "failure_predictor.json", map[string]any{"coef": fpCoef, "intercept": -1.0})
	writeArtifact(t, dir, "failure_scaler.json", identityScalerDoc())

	origin := make([]float64, len(FeatureNames))
	fast := make([]float64, len(FeatureNames))
	fast[0] = 10
	writeArtifact(t, dir, "kmeans.json", map[string]any{"centroids": [][]float64{origin, fast}})
	writeArtifact(t, dir, "kmeans_scaler.json", identityScalerDoc())

	writeArtifact(t, dir, "isolation_forest.json", map[string]any{
		"max_samples": 32,
		"trees": []map[string]any{{
			"feature":      []int{4, -1, -1},
			"threshold":    []float64{0.5, 0, 0},
			"left":         []int{1, -1, -1},
			"right":        []int{2, -1, -1},
			"node_samples": []int{42, 40, 2},
		}},
	})
	writeArtifact(t, dir, "isolation_scaler.json", identityScalerDoc())

	return dir
}

// featuresWith returns a zero FeatureVector with the given error rate and
// request rate, the two axes the test artifacts score on.
func featuresWith(errorRate, requestRate float64) FeatureVector {
	return FeatureVector{ErrorRate: errorRate, RequestRate: requestRate}
}

// sealWindow pushes size copies of obs variants into a fresh aggregator and
// returns the sealed window.
func sealWindow(t *testing.T, size int, make func(i int) Observation) *Window {
	t.Helper()
	agg := NewAggregator(size)
	var w *Window
	for i := 0; i < size; i++ {
		w = agg.Push(make(i))
	}
	if w == nil {
		t.Fatal("window did not seal")
	}
	return w
}

// tsAt returns a deterministic timestamp offset from a fixed base.
func tsAt(d time.Duration) time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return base.Add(d)
}
