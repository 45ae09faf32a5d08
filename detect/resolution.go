// Remediation resolution: every root cause maps to a fixed, ordered
// catalogue of remediation steps. SYSTEM_OVERLOAD additionally pulls in the
// lead step of each contributing cause.

package detect

import "sort"

// Resolution is one remediation step in a detection's plan.
type Resolution struct {
	Category string   `json:"category"`
	Action   string   `json:"action"`
	Priority Priority `json:"priority"`
	Impact   string   `json:"impact"`
}

var resolutionCatalogue = map[RootCause][]Resolution{
	RootCauseLatencyBottleneck: {
		{Category: "Caching", Action: "Add Redis read-through cache", Priority: PriorityHigh,
			Impact: "Serves hot reads from memory and cuts backend round trips"},
		{Category: "I/O Optimization", Action: "Enable async I/O", Priority: PriorityHigh,
			Impact: "Stops request workers from blocking on slow downstream calls"},
		{Category: "Database", Action: "Tune DB indexes", Priority: PriorityMedium,
			Impact: "Reduces query time on the hottest access paths"},
		{Category: "Concurrency", Action: "Increase worker concurrency", Priority: PriorityMedium,
			Impact: "Raises throughput while upstream latency is being fixed"},
	},
	RootCauseBackendInstability: {
		{Category: "Debugging", Action: "Inspect error traces", Priority: PriorityCritical,
			Impact: "Pinpoints the failing component behind the error burst"},
		{Category: "Resilience", Action: "Enable circuit breaker", Priority: PriorityHigh,
			Impact: "Stops cascading failures from a broken dependency"},
		{Category: "Deployment", Action: "Rollback recent deploy", Priority: PriorityHigh,
			Impact: "Restores the last known good version"},
		{Category: "Dependency Management", Action: "Isolate failing dependency", Priority: PriorityMedium,
			Impact: "Keeps unrelated endpoints serving while the dependency recovers"},
	},
	RootCauseTrafficSurge: {
		{Category: "Rate Limiting", Action: "Apply token-bucket rate limiting", Priority: PriorityCritical,
			Impact: "Caps per-client throughput before the backend saturates"},
		{Category: "Scaling", Action: "Enable autoscaling", Priority: PriorityHigh,
			Impact: "Adds capacity while the surge lasts"},
		{Category: "Caching", Action: "Cache idempotent responses", Priority: PriorityMedium,
			Impact: "Absorbs repeated reads without touching the backend"},
		{Category: "CDN", Action: "Enable CDN edge caching", Priority: PriorityMedium,
			Impact: "Moves static load off the origin"},
	},
	RootCauseAbuseOrBot: {
		{Category: "Rate Limiting", Action: "Adaptive rate limits", Priority: PriorityCritical,
			Impact: "Throttles abusive clients without hurting legitimate ones"},
		{Category: "Security", Action: "IP reputation filtering", Priority: PriorityHigh,
			Impact: "Blocks known bad sources at the edge"},
		{Category: "Authentication", Action: "Auth throttling & CAPTCHA", Priority: PriorityHigh,
			Impact: "Slows credential stuffing and scripted logins"},
		{Category: "WAF", Action: "Configure WAF rules", Priority: PriorityMedium,
			Impact: "Drops requests matching the observed abuse signature"},
	},
	RootCauseSystemOverload: {
		{Category: "Scaling", Action: "Horizontal scaling", Priority: PriorityCritical,
			Impact: "Spreads the combined load over more replicas"},
		{Category: "Queue Management", Action: "Request queuing", Priority: PriorityHigh,
			Impact: "Smooths bursts instead of rejecting them"},
		{Category: "Graceful Degradation", Action: "Enable graceful degradation", Priority: PriorityHigh,
			Impact: "Sheds optional work to protect the core path"},
		{Category: "Optimization", Action: "Payload minimization", Priority: PriorityMedium,
			Impact: "Cuts per-request cost across the board"},
	},
}

// ResolutionsFor builds the remediation plan for a diagnosis. The plan is the
// cause's catalogue; for SYSTEM_OVERLOAD the lead step of every contributing
// cause is appended, duplicates removed by (category, action) keeping the
// first occurrence, and the result stably sorted by priority.
func ResolutionsFor(cause RootCause, conditions []Condition) []Resolution {
	base, ok := resolutionCatalogue[cause]
	if !ok {
		return nil
	}

	plan := make([]Resolution, len(base))
	copy(plan, base)

	if cause == RootCauseSystemOverload {
		for _, c := range conditions {
			if contrib := resolutionCatalogue[conditionCause(c)]; len(contrib) > 0 {
				plan = append(plan, contrib[0])
			}
		}
		plan = dedupResolutions(plan)
	}

	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Priority.Rank() < plan[j].Priority.Rank()
	})
	return plan
}

func dedupResolutions(plan []Resolution) []Resolution {
	type key struct{ category, action string }
	seen := make(map[key]struct{}, len(plan))
	out := plan[:0]
	for _, r := range plan {
		k := key{r.Category, r.Action}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
