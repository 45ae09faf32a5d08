// Per-pattern traffic shaping. Every synthetic observation is built by the
// shaper of its concrete pattern and carries that pattern as its ground-truth
// injected label.

package simulation

import (
	"math/rand"
	"net/http"
	"time"

	"github.com/apisentinel/apisentinel/detect"
)

// Amplification is the emission multiplier per concrete pattern: one logical
// emission yields this many observations.
func Amplification(p detect.Pattern) int {
	switch p {
	case detect.PatternRateSpike:
		return 5
	case detect.PatternEndpointFlood:
		return 10
	default:
		return 1
	}
}

// browserAgents is the diverse user-agent pool used by healthy traffic.
var browserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/126.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) Firefox/127.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) Mobile/15E148",
	"Mozilla/5.0 (Linux; Android 14) Chrome/126.0 Mobile",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Edg/126.0",
	"Mozilla/5.0 (iPad; CPU OS 17_5 like Mac OS X) Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) Firefox/127.0",
}

// scriptedAgents is the low-entropy pool used by bot-shaped traffic.
var scriptedAgents = []string{"bot/1.0", "crawler/2.1", "python-requests/2.32"}

// normalParamPool feeds healthy traffic with varied parameter names; values
// are randomized per occurrence.
var normalParamPool = []string{"q", "page", "sort", "lang", "ref", "filter"}

// repeatedParams is the fixed low-entropy parameter set injected by
// PARAM_REPETITION traffic.
var repeatedParams = []detect.Param{
	{Name: "user", Value: "admin"},
	{Name: "action", Value: "login"},
	{Name: "token", Value: "00000000"},
}

var errorStatuses = []int{404, 500, 502, 503}

// shaped is the shaper output before it is stamped with mode, source and
// label.
type shaped struct {
	method  string
	status  int
	latency float64
	payload int64
	agent   string
	params  []detect.Param
}

// Emit builds one synthetic observation for the concrete pattern. rng must be
// the shaper stream of that pattern.
func Emit(pattern detect.Pattern, source string, rng *rand.Rand, now time.Time) detect.Observation {
	var s shaped
	switch pattern {
	case detect.PatternRateSpike:
		s = shapeRateSpike(rng)
	case detect.PatternPayloadAbuse:
		s = shapePayloadAbuse(rng)
	case detect.PatternErrorBurst:
		s = shapeErrorBurst(rng)
	case detect.PatternParamRepeat:
		s = shapeParamRepetition(rng)
	case detect.PatternEndpointFlood:
		s = shapeEndpointFlood(rng)
	default:
		s = shapeNormal(rng)
	}

	return detect.Observation{
		Timestamp:     now,
		Mode:          detect.ModeSim,
		Source:        source,
		Route:         source,
		Method:        s.method,
		Status:        s.status,
		LatencyMS:     s.latency,
		PayloadBytes:  s.payload,
		UserAgent:     s.agent,
		Params:        s.params,
		InjectedLabel: pattern,
	}
}

// shapeNormal models healthy traffic: mostly successful, moderate latencies,
// bounded payloads, diverse agents and parameters.
func shapeNormal(rng *rand.Rand) shaped {
	status := 200
	switch {
	case rng.Float64() >= 0.85:
		status = errorStatuses[rng.Intn(len(errorStatuses))]
	case rng.Float64() < 0.3:
		status = 201
	}

	method := http.MethodGet
	if rng.Float64() < 0.4 {
		method = http.MethodPost
	}

	params := make([]detect.Param, 0, 3)
	for _, name := range pick(rng, normalParamPool, 1+rng.Intn(3)) {
		params = append(params, detect.Param{Name: name, Value: randToken(rng, 6)})
	}

	return shaped{
		method:  method,
		status:  status,
		latency: uniform(rng, 50, 300),
		payload: int64(uniform(rng, 100, 500)),
		agent:   browserAgents[rng.Intn(len(browserAgents))],
		params:  params,
	}
}

// shapeRateSpike models a flood client: ultra-low latencies, tiny payloads,
// a share of throttling and shedding statuses.
func shapeRateSpike(rng *rand.Rand) shaped {
	status := 200
	if rng.Float64() < 0.25 {
		if rng.Float64() < 0.5 {
			status = 429
		} else {
			status = 503
		}
	}
	return shaped{
		method:  http.MethodGet,
		status:  status,
		latency: uniform(rng, 1, 20),
		payload: int64(uniform(rng, 10, 80)),
		agent:   browserAgents[rng.Intn(len(browserAgents))],
		params:  []detect.Param{{Name: "q", Value: randToken(rng, 4)}},
	}
}

// shapePayloadAbuse models oversized request bodies in the 10-50 KB range.
func shapePayloadAbuse(rng *rand.Rand) shaped {
	status := 200
	if rng.Float64() < 0.25 {
		status = 413
	}
	return shaped{
		method:  http.MethodPost,
		status:  status,
		latency: uniform(rng, 100, 600),
		payload: int64(uniform(rng, 10*1024, 50*1024)),
		agent:   browserAgents[rng.Intn(len(browserAgents))],
		params:  []detect.Param{{Name: "upload", Value: randToken(rng, 8)}},
	}
}

// shapeErrorBurst models a failing backend: at least 70% of responses carry
// an error status.
func shapeErrorBurst(rng *rand.Rand) shaped {
	status := 200
	if rng.Float64() < 0.8 {
		status = errorStatuses[rng.Intn(len(errorStatuses))]
	}
	method := http.MethodGet
	if rng.Float64() < 0.4 {
		method = http.MethodPost
	}
	return shaped{
		method:  method,
		status:  status,
		latency: uniform(rng, 50, 400),
		payload: int64(uniform(rng, 100, 500)),
		agent:   browserAgents[rng.Intn(len(browserAgents))],
		params:  []detect.Param{{Name: "page", Value: randToken(rng, 4)}},
	}
}

// shapeParamRepetition models scripted probing: a fixed parameter set and a
// near-constant agent, so entropy collapses and repetition saturates.
func shapeParamRepetition(rng *rand.Rand) shaped {
	params := make([]detect.Param, len(repeatedParams))
	copy(params, repeatedParams)

	agent := scriptedAgents[0]
	if rng.Float64() >= 0.95 {
		agent = scriptedAgents[1+rng.Intn(len(scriptedAgents)-1)]
	}
	return shaped{
		method:  http.MethodPost,
		status:  200,
		latency: uniform(rng, 30, 150),
		payload: int64(uniform(rng, 100, 300)),
		agent:   agent,
		params:  params,
	}
}

// shapeEndpointFlood models hammering one route: fast, tiny requests with a
// share of throttling responses. The 10x volume comes from Amplification.
func shapeEndpointFlood(rng *rand.Rand) shaped {
	status := 200
	if rng.Float64() < 0.15 {
		status = 429
	}
	return shaped{
		method:  http.MethodGet,
		status:  status,
		latency: uniform(rng, 5, 50),
		payload: int64(uniform(rng, 20, 120)),
		agent:   browserAgents[rng.Intn(len(browserAgents))],
		params:  []detect.Param{{Name: "id", Value: randToken(rng, 4)}},
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randToken(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenAlphabet[rng.Intn(len(tokenAlphabet))]
	}
	return string(b)
}

// pick returns n distinct entries from pool in random order.
func pick(rng *rand.Rand, pool []string, n int) []string {
	idx := rng.Perm(len(pool))
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pool[idx[i]]
	}
	return out
}
