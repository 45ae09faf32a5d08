// Classifies incoming observations as tracked or ignored before they reach
// the window aggregator. Pure and side-effect free.

package detect

import "net/http"

// Classification is the filter verdict for one observation.
type Classification string

const (
	Tracked Classification = "TRACKED"
	Ignored Classification = "IGNORED"
)

// Filter decides which observations enter the pipeline. LIVE traffic is
// limited to an allow-list of first-class business routes; SIM traffic is
// limited to the virtual routes emitted by the simulation engine. Everything
// else, including status, docs and metrics routes, is ignored.
type Filter struct {
	live map[string]struct{}
	sim  map[string]struct{}
}

// NewFilter builds a Filter from the configured route lists.
func NewFilter(liveRoutes, simRoutes []string) *Filter {
	f := &Filter{
		live: make(map[string]struct{}, len(liveRoutes)),
		sim:  make(map[string]struct{}, len(simRoutes)),
	}
	for _, r := range liveRoutes {
		f.live[r] = struct{}{}
	}
	for _, r := range simRoutes {
		f.sim[r] = struct{}{}
	}
	return f
}

// Classify returns TRACKED iff the observation's route is tracked for its
// mode. Cross-origin pre-flight requests are ignored regardless of route.
func (f *Filter) Classify(obs Observation) Classification {
	if obs.Method == http.MethodOptions {
		return Ignored
	}
	routes := f.live
	if obs.Mode == ModeSim {
		routes = f.sim
	}
	if _, ok := routes[obs.Route]; ok {
		return Tracked
	}
	return Ignored
}
