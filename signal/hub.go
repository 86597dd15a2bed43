package signal

import (
	"time"

	"go.uber.org/zap"
)

// Hub wires all detectors to one aggregator: Observe fans raw events out to
// every detector, Decide gathers their current signals and evaluates the
// fused decision.
type Hub struct {
	detectors []Detector
	agg       *Aggregator
}

// NewHub builds the default detector set for the config. The semantic
// detector is included only when enabled and an embedder is supplied.
func NewHub(cfg Config, embedder Embedder, refs [][]float32, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	detectors := []Detector{
		NewEditPatternDetector(cfg, log),
		NewUndoRedoDetector(cfg),
		NewTimePatternDetector(cfg),
		NewTerminalDetector(cfg),
		NewDebugDetector(cfg),
	}
	if cfg.SemanticEnabled && embedder != nil {
		detectors = append(detectors, NewSemanticDetector(cfg, embedder, refs, log))
	}
	return &Hub{detectors: detectors, agg: NewAggregator(cfg, log)}
}

// NewHubWith wires explicit detectors; used by tests.
func NewHubWith(agg *Aggregator, detectors ...Detector) *Hub {
	return &Hub{detectors: detectors, agg: agg}
}

// Observe dispatches the event to every detector.
func (h *Hub) Observe(ev Event) {
	for _, d := range h.detectors {
		d.Observe(ev)
	}
}

// Decide refreshes each detector's signal for the file and evaluates the
// aggregate.
func (h *Hub) Decide(fileKey string, now time.Time, clientSnoozedUntil time.Time) Decision {
	for _, d := range h.detectors {
		if sig, ok := d.Evaluate(fileKey, now); ok {
			h.agg.Update(fileKey, sig)
		}
	}
	return h.agg.Evaluate(fileKey, now, clientSnoozedUntil)
}

// Reset clears aggregator and detector state for the file after a trigger is
// accepted.
func (h *Hub) Reset(fileKey string) {
	h.agg.Reset(fileKey)
	for _, d := range h.detectors {
		if r, ok := d.(interface{ Reset(string) }); ok {
			r.Reset(fileKey)
		}
	}
}

// Snooze suppresses triggers hub-wide until the given time.
func (h *Hub) Snooze(until time.Time) { h.agg.Snooze(until) }
