// Computes the nine-dimensional feature vector from a completed window.
// Pure functions; empty collections fall back to defined neutral values.

package detect

import (
	"math"
	"net/http"

	"github.com/montanaflynn/stats"
)

// FeatureNames is the stable feature ordering shared with the offline
// training job. Model inputs are laid out in exactly this order.
var FeatureNames = []string{
	"request_rate",
	"unique_endpoints",
	"method_ratio",
	"avg_payload_size",
	"error_rate",
	"repeated_parameter_ratio",
	"user_agent_entropy",
	"avg_response_time",
	"max_response_time",
}

// minWindowSpan floors the window duration when computing the request rate,
// so a burst landing within one clock tick still yields a finite rate.
const minWindowSpan = 0.1 // seconds

// FeatureVector holds the nine behavioral indicators extracted from one
// window.
type FeatureVector struct {
	RequestRate            float64 `json:"request_rate"`
	UniqueEndpoints        float64 `json:"unique_endpoints"`
	MethodRatio            float64 `json:"method_ratio"`
	AvgPayloadSize         float64 `json:"avg_payload_size"`
	ErrorRate              float64 `json:"error_rate"`
	RepeatedParameterRatio float64 `json:"repeated_parameter_ratio"`
	UserAgentEntropy       float64 `json:"user_agent_entropy"`
	AvgResponseTime        float64 `json:"avg_response_time"`
	MaxResponseTime        float64 `json:"max_response_time"`
}

// Values returns the features in the FeatureNames order, ready to feed a
// scaler or model.
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.RequestRate,
		f.UniqueEndpoints,
		f.MethodRatio,
		f.AvgPayloadSize,
		f.ErrorRate,
		f.RepeatedParameterRatio,
		f.UserAgentEntropy,
		f.AvgResponseTime,
		f.MaxResponseTime,
	}
}

// ExtractFeatures computes the feature vector for a completed window.
func ExtractFeatures(w *Window) FeatureVector {
	n := len(w.Observations)
	if n == 0 {
		return FeatureVector{}
	}

	span := w.ClosedAt.Sub(w.OpenedAt).Seconds()
	if span < minWindowSpan {
		span = minWindowSpan
	}

	routes := make(map[string]struct{}, n)
	agents := make(map[string]int, n)
	paramCounts := make(map[Param]int)

	var gets, errors, totalParams int
	latencies := make([]float64, 0, n)
	payloads := make([]float64, 0, n)

	for _, obs := range w.Observations {
		routes[obs.Route] = struct{}{}
		agents[obs.UserAgent]++
		if obs.Method == http.MethodGet {
			gets++
		}
		if obs.Status >= 400 {
			errors++
		}
		latencies = append(latencies, clipNonNegative(obs.LatencyMS))
		payloads = append(payloads, clipNonNegative(float64(obs.PayloadBytes)))
		for _, p := range obs.Params {
			paramCounts[p]++
			totalParams++
		}
	}

	avgPayload, _ := stats.Mean(payloads)
	avgLatency, _ := stats.Mean(latencies)
	maxLatency, _ := stats.Max(latencies)

	return FeatureVector{
		RequestRate:            float64(n) / span,
		UniqueEndpoints:        float64(len(routes)),
		MethodRatio:            float64(gets) / float64(n),
		AvgPayloadSize:         avgPayload,
		ErrorRate:              float64(errors) / float64(n),
		RepeatedParameterRatio: repeatedParamRatio(paramCounts, totalParams),
		UserAgentEntropy:       shannonEntropy(agents, n),
		AvgResponseTime:        avgLatency,
		MaxResponseTime:        maxLatency,
	}
}

// repeatedParamRatio is the fraction of all (name, value) parameter
// occurrences that belong to a pair occurring at least twice in the window.
// Windows without parameters score 0.
func repeatedParamRatio(counts map[Param]int, total int) float64 {
	if total == 0 {
		return 0
	}
	repeated := 0
	for _, c := range counts {
		if c >= 2 {
			repeated += c
		}
	}
	return float64(repeated) / float64(total)
}

// shannonEntropy computes the base-2 entropy of the user-agent distribution.
// A window with a single distinct agent has entropy 0.
func shannonEntropy(counts map[string]int, total int) float64 {
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// clipNonNegative sanitizes raw metric samples before aggregation.
func clipNonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
