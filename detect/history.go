// Bounded in-memory record of SIM detections. The ring keeps the most
// recent detections, ranks them by urgency and grades each verdict against
// the injected ground truth.

package detect

import (
	"sort"
	"sync"
)

// expectedCauses lists the acceptable root causes per injected pattern.
var expectedCauses = map[Pattern][]RootCause{
	PatternRateSpike:     {RootCauseTrafficSurge},
	PatternErrorBurst:    {RootCauseBackendInstability},
	PatternPayloadAbuse:  {RootCauseLatencyBottleneck, RootCauseSystemOverload},
	PatternParamRepeat:   {RootCauseAbuseOrBot},
	PatternEndpointFlood: {RootCauseTrafficSurge, RootCauseAbuseOrBot},
}

// AccuracyStats grades detections against injected ground truth. Counters
// are cumulative across the run, independent of ring eviction.
type AccuracyStats struct {
	Total          int     `json:"total"`
	Correct        int     `json:"correct"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Misclassified  int     `json:"misclassified"`
	Accuracy       float64 `json:"accuracy"`
}

// History is the bounded SIM detection ring. Safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	capacity int
	entries  []*Detection

	stats        AccuracyStats
	anomalies    int64
	distribution map[Priority]int
}

// NewHistory returns a ring holding at most capacity detections.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		capacity:     capacity,
		distribution: make(map[Priority]int),
	}
}

// Append records a detection, evicting the oldest entry once the ring is
// full, and recomputes emergency ranks. The detection's EmergencyRank and
// IsCorrectlyDetected fields are filled in before it returns.
func (h *History) Append(d *Detection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.grade(d)

	entry := *d
	if len(h.entries) >= h.capacity {
		h.entries = h.entries[1:]
	}
	h.entries = append(h.entries, &entry)
	h.rerank()
	d.EmergencyRank = entry.EmergencyRank
}

// grade updates the cumulative counters and marks the detection verdict.
func (h *History) grade(d *Detection) {
	h.stats.Total++
	h.distribution[d.Priority]++
	if d.IsAnomaly {
		h.anomalies++
	}

	var correct bool
	switch {
	case d.InjectedLabel == PatternNormal:
		correct = !d.IsAnomaly
		if !correct {
			h.stats.FalsePositives++
		}
	case !d.IsAnomaly:
		h.stats.FalseNegatives++
	default:
		for _, want := range expectedCauses[d.InjectedLabel] {
			if d.RootCause == want {
				correct = true
				break
			}
		}
		if !correct {
			h.stats.Misclassified++
		}
	}
	if correct {
		h.stats.Correct++
	}
	d.IsCorrectlyDetected = &correct
}

// rerank reassigns 1-based emergency ranks: highest risk first, ties broken
// by newer timestamp. Callers hold the lock.
func (h *History) rerank() {
	ranked := make([]*Detection, len(h.entries))
	copy(ranked, h.entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RiskScore != ranked[j].RiskScore {
			return ranked[i].RiskScore > ranked[j].RiskScore
		}
		return ranked[i].Timestamp.After(ranked[j].Timestamp)
	})
	for r, d := range ranked {
		d.EmergencyRank = r + 1
	}
}

// Emergencies returns up to limit detections ordered by emergency rank.
func (h *History) Emergencies(limit int) []Detection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ranked := make([]*Detection, len(h.entries))
	copy(ranked, h.entries)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].EmergencyRank < ranked[j].EmergencyRank })

	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]Detection, limit)
	for i := 0; i < limit; i++ {
		out[i] = *ranked[i]
	}
	return out
}

// Len reports how many detections the ring currently holds.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Clear drops all entries and resets the cumulative statistics.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.stats = AccuracyStats{}
	h.anomalies = 0
	h.distribution = make(map[Priority]int)
}

// Accuracy returns the cumulative grading counters.
func (h *History) Accuracy() AccuracyStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := h.stats
	if stats.Total > 0 {
		stats.Accuracy = float64(stats.Correct) / float64(stats.Total)
	}
	return stats
}

// AnomalyCount returns how many appended detections were anomalies.
func (h *History) AnomalyCount() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.anomalies
}

// PriorityDistribution returns a copy of the per-band detection counts.
func (h *History) PriorityDistribution() map[Priority]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[Priority]int, len(h.distribution))
	for k, v := range h.distribution {
		out[k] = v
	}
	return out
}
