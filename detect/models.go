// Loads and serves the four immutable scoring artifacts: isolation forest,
// logistic regression, k-means, and the next-window failure predictor, each
// paired with a standard scaler. Artifacts are JSON exports produced by the
// offline training job; a missing or rejected artifact marks its submodel
// Unavailable and the pipeline degrades instead of failing.

package detect

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Submodel names, used in the unavailable list, the detection method string
// and structured logs.
const (
	SubmodelIsolationForest = "isolation_forest"
	SubmodelLogReg          = "logistic_regression"
	SubmodelKMeans          = "kmeans"
	SubmodelFailure         = "failure_predictor"
)

// Artifact file names inside the model directory. The layout mirrors the
// training job's export step: one model file plus one scaler file per
// submodel.
const (
	fileIsolationForest = "isolation_forest.json"
	fileIsolationScaler = "isolation_scaler.json"
	fileLogReg          = "logistic_regression.json"
	fileLRScaler        = "lr_scaler.json"
	fileKMeans          = "kmeans.json"
	fileKMeansScaler    = "kmeans_scaler.json"
	fileFailure         = "failure_predictor.json"
	fileFailureScaler   = "failure_scaler.json"
)

// ErrUnavailable is returned by every scoring operation whose artifact was
// missing or rejected at load time, or whose evaluation was abandoned on a
// scoring deadline.
var ErrUnavailable = errors.New("submodel unavailable")

// eulerGamma is the Euler-Mascheroni constant used in the isolation forest
// average path length.
const eulerGamma = 0.5772156649015329

// standardScaler applies the (x - mean) / scale transform exported from the
// training pipeline. A zero scale entry passes the feature through unchanged.
type standardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *standardScaler) transform(x []float64) []float64 {
	if s == nil {
		return x
	}
	out := make([]float64, len(x))
	for i, v := range x {
		sc := s.Scale[i]
		if sc == 0 {
			sc = 1
		}
		out[i] = (v - s.Mean[i]) / sc
	}
	return out
}

func (s *standardScaler) validate(dims int) error {
	if len(s.Mean) != dims || len(s.Scale) != dims {
		return fmt.Errorf("scaler shape (%d,%d) does not match %d features", len(s.Mean), len(s.Scale), dims)
	}
	return nil
}

// logisticModel is a binary classifier: probability = sigmoid(w·x + b).
type logisticModel struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func (m *logisticModel) probability(x []float64) float64 {
	z := m.Intercept
	for i, w := range m.Coef {
		z += w * x[i]
	}
	return 1 / (1 + math.Exp(-z))
}

func (m *logisticModel) validate(dims int) error {
	if len(m.Coef) != dims {
		return fmt.Errorf("coefficient shape %d does not match %d features", len(m.Coef), dims)
	}
	return nil
}

// kmeansModel assigns the nearest centroid by euclidean distance.
type kmeansModel struct {
	Centroids [][]float64 `json:"centroids"`
}

func (m *kmeansModel) assign(x []float64) (cluster int, distance float64) {
	best := math.Inf(1)
	for id, c := range m.Centroids {
		var d2 float64
		for i, v := range c {
			diff := x[i] - v
			d2 += diff * diff
		}
		if d := math.Sqrt(d2); d < best {
			best = d
			cluster = id
		}
	}
	return cluster, best
}

func (m *kmeansModel) validate(dims int) error {
	if len(m.Centroids) == 0 {
		return errors.New("kmeans artifact has no centroids")
	}
	for i, c := range m.Centroids {
		if len(c) != dims {
			return fmt.Errorf("centroid %d shape %d does not match %d features", i, len(c), dims)
		}
	}
	return nil
}

// isolationTree is one exported tree in the sklearn array layout: parallel
// arrays indexed by node id, Feature = -1 at leaves.
type isolationTree struct {
	Feature     []int     `json:"feature"`
	Threshold   []float64 `json:"threshold"`
	Left        []int     `json:"left"`
	Right       []int     `json:"right"`
	NodeSamples []int     `json:"node_samples"`
}

func (t *isolationTree) pathLength(x []float64) float64 {
	node, depth := 0, 0.0
	for t.Feature[node] >= 0 {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
		depth++
	}
	return depth + avgPathLength(t.NodeSamples[node])
}

func (t *isolationTree) validate(dims int) error {
	n := len(t.Feature)
	if n == 0 {
		return errors.New("empty tree")
	}
	if len(t.Threshold) != n || len(t.Left) != n || len(t.Right) != n || len(t.NodeSamples) != n {
		return fmt.Errorf("inconsistent tree arrays (n=%d)", n)
	}
	for i, f := range t.Feature {
		if f >= dims {
			return fmt.Errorf("node %d splits on feature %d beyond %d features", i, f, dims)
		}
		if f >= 0 && (t.Left[i] < 0 || t.Left[i] >= n || t.Right[i] < 0 || t.Right[i] >= n) {
			return fmt.Errorf("node %d has child index out of range", i)
		}
	}
	return nil
}

// isolationForest scores a point as 2^(-E[h(x)]/c(n)) in (0, 1]; higher is
// more anomalous. This is the negation of the raw sklearn sample score, an
// order-preserving affine map onto [0, 1].
type isolationForest struct {
	Trees      []isolationTree `json:"trees"`
	MaxSamples int             `json:"max_samples"`
}

func (f *isolationForest) anomalyScore(x []float64) float64 {
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].pathLength(x)
	}
	mean := sum / float64(len(f.Trees))
	return math.Exp2(-mean / avgPathLength(f.MaxSamples))
}

func (f *isolationForest) validate(dims int) error {
	if len(f.Trees) == 0 {
		return errors.New("isolation forest artifact has no trees")
	}
	if f.MaxSamples < 2 {
		return fmt.Errorf("isolation forest max_samples = %d, need >= 2", f.MaxSamples)
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(dims); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search over n samples; it normalizes isolation depths.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// ModelSet holds the loaded artifacts. Immutable for the process lifetime;
// hot reload is out of scope. All scoring operations take the raw feature
// vector in FeatureNames order and apply the paired scaler themselves.
type ModelSet struct {
	iforest       *isolationForest
	iforestScaler *standardScaler

	logreg       *logisticModel
	logregScaler *standardScaler

	kmeans       *kmeansModel
	kmeansScaler *standardScaler

	failure       *logisticModel
	failureScaler *standardScaler
}

// LoadModelSet loads all artifacts from dir. Per-artifact failures are
// logged and leave the affected submodel unavailable; LoadModelSet itself
// never fails.
func LoadModelSet(dir string) *ModelSet {
	dims := len(FeatureNames)
	m := &ModelSet{}

	var forest isolationForest
	if scaler, err := loadPair(dir, fileIsolationForest, fileIsolationScaler, &forest, dims); err != nil {
		logrus.Warnf("submodel %s unavailable: %v", SubmodelIsolationForest, err)
	} else if err := forest.validate(dims); err != nil {
		logrus.Warnf("submodel %s unavailable: %v", SubmodelIsolationForest, err)
	} else {
		m.iforest, m.iforestScaler = &forest, scaler
	}

	var lr logisticModel
	if scaler, err := loadPair(dir, fileLogReg, fileLRScaler, &lr, dims); err != nil {
		logrus.Warnf("submodel %s unavailable: %v", SubmodelLogReg, err)
	} else if err := lr.validate(dims); err != nil {
		logrus.Warnf("submodel %s unavailable: %v", SubmodelLogReg, err)
	} else {
		m.logreg, m.logregScaler = &lr, scaler
	}

	var km kmeansModel
	if scaler, err := loadPair(dir, fileKMeans, fileKMeansScaler, &km, dims); err != nil {
		logrus.Warnf("submodel %s unavailable: %v", SubmodelKMeans, err)
	} else if err := km.validate(dims); err != nil {
		logrus.Warnf("submodel %s unavailable: %v", SubmodelKMeans, err)
	} else {
		m.kmeans, m.kmeansScaler = &km, scaler
	}

	var fp logisticModel
	if scaler, err := loadPair(dir, fileFailure, fileFailureScaler, &fp, dims); err != nil {
		logrus.Warnf("submodel %s unavailable: %v", SubmodelFailure, err)
	} else if err := fp.validate(dims); err != nil {
		logrus.Warnf("submodel %s unavailable: %v", SubmodelFailure, err)
	} else {
		m.failure, m.failureScaler = &fp, scaler
	}

	logrus.Infof("loaded scoring submodels: %v", m.Available())
	return m
}

// loadPair reads a model artifact into dst and its paired scaler; either
// file missing or malformed rejects the pair.
func loadPair(dir, modelFile, scalerFile string, dst any, dims int) (*standardScaler, error) {
	if err := readJSON(filepath.Join(dir, modelFile), dst); err != nil {
		return nil, err
	}
	var scaler standardScaler
	if err := readJSON(filepath.Join(dir, scalerFile), &scaler); err != nil {
		return nil, err
	}
	if err := scaler.validate(dims); err != nil {
		return nil, fmt.Errorf("%s: %w", scalerFile, err)
	}
	return &scaler, nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// Available lists the submodels that loaded successfully.
func (m *ModelSet) Available() []string {
	var names []string
	if m.iforest != nil {
		names = append(names, SubmodelIsolationForest)
	}
	if m.logreg != nil {
		names = append(names, SubmodelLogReg)
	}
	if m.kmeans != nil {
		names = append(names, SubmodelKMeans)
	}
	if m.failure != nil {
		names = append(names, SubmodelFailure)
	}
	return names
}

// PredictAnomaly returns the isolation forest anomaly score in (0, 1];
// higher means more anomalous.
func (m *ModelSet) PredictAnomaly(x []float64) (float64, error) {
	if m.iforest == nil {
		return 0, ErrUnavailable
	}
	return m.iforest.anomalyScore(m.iforestScaler.transform(x)), nil
}

// PredictFailure returns the misuse classification probability.
func (m *ModelSet) PredictFailure(x []float64) (float64, error) {
	if m.logreg == nil {
		return 0, ErrUnavailable
	}
	return m.logreg.probability(m.logregScaler.transform(x)), nil
}

// AssignCluster returns the behavioral cluster id and the distance to its
// centroid, normalized to [0, 1) as d/(1+d).
func (m *ModelSet) AssignCluster(x []float64) (int, float64, error) {
	if m.kmeans == nil {
		return 0, 0, ErrUnavailable
	}
	id, d := m.kmeans.assign(m.kmeansScaler.transform(x))
	return id, d / (1 + d), nil
}

// PredictNextFailure returns the probability that the next window fails.
func (m *ModelSet) PredictNextFailure(x []float64) (float64, error) {
	if m.failure == nil {
		return 0, ErrUnavailable
	}
	return m.failure.probability(m.failureScaler.transform(x)), nil
}
