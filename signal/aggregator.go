package signal

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Decision is the fused output for one file's active window.
type Decision struct {
	CombinedScore float64   `json:"combined_score"`
	PrimarySignal string    `json:"primary_signal"`
	Signals       []Signal  `json:"signals"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	ShouldTrigger bool      `json:"should_trigger"`
}

// Aggregator fuses the latest per-type signals for each file into a weighted
// decision, and gates triggers behind the score threshold, per-file cooldown,
// and snooze. It never fails: absent or malformed signals contribute zero.
//
// Evaluation is serialized per aggregator; callers keep one aggregator per
// process, matching the single-writer-per-file contract.
type Aggregator struct {
	cfg Config
	log *zap.Logger

	mu           sync.Mutex
	files        map[string]*fileSignals
	lastTrigger  map[string]time.Time
	snoozedUntil time.Time
}

type fileSignals struct {
	byType map[string]Signal
	order  []string // stable insertion order of signal types
}

// NewAggregator creates an aggregator. A nil logger disables logging.
func NewAggregator(cfg Config, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		cfg:         cfg,
		log:         log,
		files:       make(map[string]*fileSignals),
		lastTrigger: make(map[string]time.Time),
	}
}

// Update upserts the latest signal of its type for the file.
func (a *Aggregator) Update(fileKey string, sig Signal) {
	if fileKey == "" || sig.Type == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fs := a.files[fileKey]
	if fs == nil {
		fs = &fileSignals{byType: make(map[string]Signal)}
		a.files[fileKey] = fs
	}
	if _, seen := fs.byType[sig.Type]; !seen {
		fs.order = append(fs.order, sig.Type)
	}
	sig.Score = clamp01(sig.Score)
	fs.byType[sig.Type] = sig
}

// Snooze suppresses all triggers until the given time. Combined with any
// client-supplied snooze at evaluation; the later bound wins.
func (a *Aggregator) Snooze(until time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if until.After(a.snoozedUntil) {
		a.snoozedUntil = until
	}
}

// Evaluate computes the decision for a file. clientSnoozedUntil carries the
// editor-side snooze; zero means none.
func (a *Aggregator) Evaluate(fileKey string, now time.Time, clientSnoozedUntil time.Time) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	dec := Decision{
		WindowStart: now.Add(-time.Duration(a.cfg.WindowMS) * time.Millisecond),
		WindowEnd:   now,
	}

	fs := a.files[fileKey]
	if fs == nil || len(fs.order) == 0 {
		return dec
	}

	var combined float64
	bestWeighted := -1.0
	hardCondition := false

	for _, signalType := range fs.order {
		sig := fs.byType[signalType]
		weighted := a.cfg.Weights.For(signalType) * sig.Score
		combined += weighted
		dec.Signals = append(dec.Signals, sig)

		if hardConditionMet(sig, a.cfg) {
			hardCondition = true
		}

		switch {
		case weighted > bestWeighted+1e-6:
			bestWeighted = weighted
			dec.PrimarySignal = signalType
		case weighted > bestWeighted-1e-6:
			// Scores tied within tolerance: error-bearing signals outrank
			// pure edit patterns.
			if errorBearing(signalType) && dec.PrimarySignal == TypeEditPattern {
				bestWeighted = weighted
				dec.PrimarySignal = signalType
			}
		}
	}
	dec.CombinedScore = clamp01(combined)

	qualifies := dec.CombinedScore >= a.cfg.TriggerThreshold || hardCondition
	if !qualifies {
		return dec
	}

	snoozed := a.snoozedUntil
	if clientSnoozedUntil.After(snoozed) {
		snoozed = clientSnoozedUntil
	}
	if now.Before(snoozed) {
		a.log.Debug("trigger suppressed by snooze", zap.String("file_key", fileKey), zap.Time("until", snoozed))
		return dec
	}

	if last, ok := a.lastTrigger[fileKey]; ok {
		if now.Sub(last) < time.Duration(a.cfg.CooldownMS)*time.Millisecond {
			a.log.Debug("trigger suppressed by cooldown", zap.String("file_key", fileKey))
			return dec
		}
	}

	dec.ShouldTrigger = true
	a.lastTrigger[fileKey] = now
	return dec
}

// Reset clears the file's accumulated signals after a trigger is accepted.
// The cooldown clock keeps running.
func (a *Aggregator) Reset(fileKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, fileKey)
}

// hardConditionMet reports whether a single signal crosses one of the
// absolute thresholds that justify a trigger regardless of the fused score:
// a retry loop at the attempt threshold or an error count at the error
// threshold. Weighted fusion alone cannot reach the trigger threshold from
// one low-weight signal, and these conditions are precise enough on their
// own.
func hardConditionMet(sig Signal, cfg Config) bool {
	if sig.Metadata == nil {
		return false
	}
	switch sig.Type {
	case TypeEditPattern:
		if n, ok := metaInt(sig.Metadata, "retryCount"); ok {
			return n >= cfg.RetryAttemptThreshold
		}
	case TypeTerminal:
		if n, ok := metaInt(sig.Metadata, "errorCount"); ok {
			return n >= cfg.ErrorCountThreshold
		}
	}
	return false
}

func metaInt(meta map[string]any, key string) (int, bool) {
	switch v := meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
