// Package detect implements the online API misuse and failure detector.
//
// # Reading Guide
//
// Start with these three files to understand the pipeline:
//   - observation.go: the Observation record and the LIVE/SIM mode split
//   - window.go: per-(mode, source) tumbling windows that feed scoring
//   - orchestrator.go: the end-to-end flow from Observe to a broadcast Detection
//
// # Architecture
//
// The detect package owns the scoring pipeline; supporting concerns live in
// sub-packages:
//   - detect/simulation/: synthetic traffic generation with labeled anomaly patterns
//   - detect/store/: durable, mode-tagged persistence of observations and detections
//   - detect/bus/: fan-out of detections to websocket subscribers
//   - detect/server/: the HTTP control API and the live-traffic ingress middleware
//
// A completed window flows through feature extraction (features.go), the rule
// engine (rules.go), the four model evaluators (models.go), the hybrid scorer
// (scorer.go), root-cause classification (rootcause.go) and resolution lookup
// (resolution.go), producing exactly one immutable Detection per window.
package detect
