package signal

import "time"

// Detector is the uniform contract for all signal detectors. Observe must be
// non-blocking and never panic; Evaluate summarizes the file's window into a
// Signal, or reports false when there is nothing to say.
//
// Detectors hold per-file state only; a detector must never let one file's
// events influence another file's signal.
type Detector interface {
	Observe(ev Event)
	Evaluate(fileKey string, now time.Time) (Signal, bool)
}
