// Package testutil provides shared test infrastructure for the detector.
// It consolidates golden dataset types, artifact path resolution and
// assertion helpers used across detect/ and its sub-package test packages.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// GoldenResolutionDataset represents the structure of
// testdata/resolutions.json: the expected remediation plan per root cause.
type GoldenResolutionDataset struct {
	Cases []GoldenResolutionCase `json:"cases"`
}

// GoldenResolutionCase is one root cause with its expected ordered plan.
type GoldenResolutionCase struct {
	RootCause    string             `json:"root_cause"`
	Contributing []string           `json:"contributing_conditions"`
	Resolutions  []GoldenResolution `json:"resolutions"`
}

// GoldenResolution is a single expected remediation step.
type GoldenResolution struct {
	Category string `json:"category"`
	Action   string `json:"action"`
	Priority string `json:"priority"`
	Impact   string `json:"impact"`
}

// LoadGoldenResolutions loads the golden remediation dataset from the
// testdata directory. The path is resolved relative to this source file:
// detect/internal/testutil/ → testdata/.
func LoadGoldenResolutions(t *testing.T) *GoldenResolutionDataset {
	t.Helper()

	data, err := os.ReadFile(repoPath(t, "testdata", "resolutions.json"))
	if err != nil {
		t.Fatalf("Failed to read golden resolutions: %v", err)
	}

	var dataset GoldenResolutionDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden resolutions: %v", err)
	}

	return &dataset
}

// ModelDir returns the committed model artifact directory at the repo root,
// so tests score against the same artifacts the service ships with.
func ModelDir(t *testing.T) string {
	t.Helper()
	return repoPath(t, "models")
}

// repoPath resolves a path relative to the repository root using this
// source file's location: detect/internal/testutil/ → root.
func repoPath(t *testing.T, elem ...string) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	parts := append([]string{filepath.Dir(thisFile), "..", "..", ".."}, elem...)
	return filepath.Join(parts...)
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
