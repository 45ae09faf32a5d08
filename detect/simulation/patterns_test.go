package simulation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/apisentinel/apisentinel/detect"
)

func shaperRNG(pattern detect.Pattern) *rand.Rand {
	return NewPartitionedRNG(NewEmissionKey(42)).ForSubsystem(SubsystemShaper(string(pattern)))
}

func emitMany(pattern detect.Pattern, n int) []detect.Observation {
	rng := shaperRNG(pattern)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	out := make([]detect.Observation, n)
	for i := range out {
		out[i] = Emit(pattern, "/sim/login", rng, now)
	}
	return out
}

func TestAmplificationFactors(t *testing.T) {
	cases := map[detect.Pattern]int{
		detect.PatternNormal:        1,
		detect.PatternRateSpike:     5,
		detect.PatternPayloadAbuse:  1,
		detect.PatternErrorBurst:    1,
		detect.PatternParamRepeat:   1,
		detect.PatternEndpointFlood: 10,
	}
	for pattern, want := range cases {
		if got := Amplification(pattern); got != want {
			t.Errorf("Amplification(%s) = %d, want %d", pattern, got, want)
		}
	}
}

func TestEmitStampsIdentityAndLabel(t *testing.T) {
	// GIVEN every concrete pattern
	patterns := append([]detect.Pattern{detect.PatternNormal}, detect.AnomalousPatterns...)

	for _, pattern := range patterns {
		// WHEN an observation is emitted
		obs := Emit(pattern, "/sim/search", shaperRNG(pattern), time.Now())

		// THEN it targets the virtual source in SIM mode with its ground truth
		if obs.Mode != detect.ModeSim {
			t.Errorf("%s: mode = %s, want SIM", pattern, obs.Mode)
		}
		if obs.Source != "/sim/search" || obs.Route != "/sim/search" {
			t.Errorf("%s: source/route = %s/%s, want the virtual route", pattern, obs.Source, obs.Route)
		}
		if obs.InjectedLabel != pattern {
			t.Errorf("%s: injected label = %s", pattern, obs.InjectedLabel)
		}
		if obs.Method == "" || obs.Status == 0 || obs.UserAgent == "" {
			t.Errorf("%s: incomplete observation %+v", pattern, obs)
		}
		if obs.LatencyMS < 0 || obs.PayloadBytes < 0 {
			t.Errorf("%s: negative samples %+v", pattern, obs)
		}
	}
}

func TestNormalTrafficStaysHealthy(t *testing.T) {
	// GIVEN a large NORMAL sample
	sample := emitMany(detect.PatternNormal, 1000)

	// THEN latencies and payloads stay in their bands and errors stay rare
	errors := 0
	agents := make(map[string]struct{})
	for _, obs := range sample {
		if obs.LatencyMS < 50 || obs.LatencyMS > 300 {
			t.Fatalf("latency %f outside [50,300]", obs.LatencyMS)
		}
		if obs.PayloadBytes < 100 || obs.PayloadBytes > 500 {
			t.Fatalf("payload %d outside [100,500]", obs.PayloadBytes)
		}
		if obs.Status >= 400 {
			errors++
		}
	}
	if frac := float64(errors) / float64(len(sample)); frac > 0.25 {
		t.Errorf("error fraction = %f, want sporadic", frac)
	}
	for _, obs := range sample {
		agents[obs.UserAgent] = struct{}{}
	}
	if len(agents) < 4 {
		t.Errorf("distinct agents = %d, want a diverse pool", len(agents))
	}
}

func TestRateSpikeIsFastAndTiny(t *testing.T) {
	for _, obs := range emitMany(detect.PatternRateSpike, 500) {
		if obs.LatencyMS < 1 || obs.LatencyMS > 20 {
			t.Fatalf("latency %f outside [1,20]", obs.LatencyMS)
		}
		if obs.PayloadBytes > 80 {
			t.Fatalf("payload %d, want tiny", obs.PayloadBytes)
		}
	}
}

func TestPayloadAbuseSamplesTenToFiftyKB(t *testing.T) {
	for _, obs := range emitMany(detect.PatternPayloadAbuse, 500) {
		if obs.PayloadBytes < 10*1024 || obs.PayloadBytes > 50*1024 {
			t.Fatalf("payload %d outside [10KB,50KB]", obs.PayloadBytes)
		}
	}
}

func TestErrorBurstIsMostlyErrors(t *testing.T) {
	sample := emitMany(detect.PatternErrorBurst, 1000)
	errors := 0
	for _, obs := range sample {
		if obs.Status >= 400 {
			errors++
		}
	}
	if frac := float64(errors) / float64(len(sample)); frac < 0.7 {
		t.Errorf("error fraction = %f, want >= 0.7", frac)
	}
}

func TestParamRepetitionCollapsesEntropy(t *testing.T) {
	// GIVEN a PARAM_REPETITION sample
	sample := emitMany(detect.PatternParamRepeat, 1000)

	// THEN every emission carries the fixed parameter set
	agents := make(map[string]int)
	for _, obs := range sample {
		if len(obs.Params) != len(repeatedParams) {
			t.Fatalf("params = %v, want the fixed pool", obs.Params)
		}
		for i, p := range obs.Params {
			if p != repeatedParams[i] {
				t.Fatalf("param %d = %v, want %v", i, p, repeatedParams[i])
			}
		}
		agents[obs.UserAgent]++
	}

	// AND one scripted agent dominates the distribution
	if len(agents) > len(scriptedAgents) {
		t.Errorf("distinct agents = %d, want at most %d", len(agents), len(scriptedAgents))
	}
	if frac := float64(agents[scriptedAgents[0]]) / float64(len(sample)); frac < 0.9 {
		t.Errorf("primary agent share = %f, want >= 0.9", frac)
	}
}

func TestShapingIsDeterministicPerSeed(t *testing.T) {
	// GIVEN two shaper streams with the same key
	a := emitMany(detect.PatternErrorBurst, 50)
	b := emitMany(detect.PatternErrorBurst, 50)

	// THEN the emitted sequences match field for field
	for i := range a {
		if a[i].Status != b[i].Status || a[i].LatencyMS != b[i].LatencyMS ||
			a[i].PayloadBytes != b[i].PayloadBytes || a[i].UserAgent != b[i].UserAgent {
			t.Fatalf("emission %d diverged: %+v vs %+v", i, a[i], b[i])
		}
	}
}
