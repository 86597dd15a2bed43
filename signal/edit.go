package signal

import (
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
)

// EditPatternDetector scores edit frequency and retry loops. A retry is a new
// edit whose payload is nearly identical to a recent edit at (almost) the
// same line, caught with a length-normalized edit distance.
type EditPatternDetector struct {
	cfg Config
	log *zap.Logger
	dmp *diffmatchpatch.DiffMatchPatch

	mu    sync.Mutex
	files map[string]*editFileState
}

type editFileState struct {
	edits      *ring
	retryCount int
}

// NewEditPatternDetector creates the detector. A nil logger disables logging.
func NewEditPatternDetector(cfg Config, log *zap.Logger) *EditPatternDetector {
	if log == nil {
		log = zap.NewNop()
	}
	return &EditPatternDetector{
		cfg:   cfg,
		log:   log,
		dmp:   diffmatchpatch.New(),
		files: make(map[string]*editFileState),
	}
}

func (d *EditPatternDetector) Observe(ev Event) {
	if ev.Kind != KindEdit || ev.FileKey == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	fs := d.files[ev.FileKey]
	if fs == nil {
		fs = &editFileState{edits: newRing(d.cfg.MaxEventsPerFile)}
		d.files[ev.FileKey] = fs
	}

	fs.retryCount += d.countRetries(fs, ev)
	fs.edits.append(ev)
}

// countRetries compares the new edit against the most recent prior edits at
// nearby lines. Each sufficiently similar prior edit counts as one retry.
// Comparisons are budgeted per edit to bound the cost of hot files.
func (d *EditPatternDetector) countRetries(fs *editFileState, ev Event) int {
	if ev.Payload == "" {
		return 0
	}

	retries := 0
	compared := 0
	recent := fs.edits.last(d.cfg.MaxComparisonsPerEdit * 2)
	for i := len(recent) - 1; i >= 0 && compared < d.cfg.MaxComparisonsPerEdit; i-- {
		prior := recent[i]
		if prior.Payload == "" {
			continue
		}
		if lineDistance(prior.Line, ev.Line) > d.cfg.MaxLineDistanceForRetry {
			continue
		}
		compared++
		if d.changeRatio(prior.Payload, ev.Payload) <= d.cfg.LevenshteinSimilarityThreshold {
			retries++
		}
	}
	return retries
}

// changeRatio is edit distance normalized by the longer payload: 0 means
// identical, 1 means fully rewritten.
func (d *EditPatternDetector) changeRatio(a, b string) float64 {
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	if longer == 0 {
		return 0
	}
	diffs := d.dmp.DiffMain(a, b, false)
	return float64(d.dmp.DiffLevenshtein(diffs)) / float64(longer)
}

func (d *EditPatternDetector) Evaluate(fileKey string, now time.Time) (Signal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fs := d.files[fileKey]
	if fs == nil {
		return Signal{}, false
	}

	nowMS := now.UnixMilli()
	fs.edits.prune(nowMS - d.cfg.WindowMS)
	if fs.edits.len() == 0 {
		fs.retryCount = 0
		return Signal{}, false
	}

	windowMin := float64(d.cfg.WindowMS) / 60_000
	freqPerMin := float64(fs.edits.len()) / windowMin

	freqRatio := freqPerMin / d.cfg.EditFrequencyThresholdPerMin
	retryRatio := float64(fs.retryCount) / float64(d.cfg.RetryAttemptThreshold)
	score := smoothstep(maxFloat(freqRatio, retryRatio))

	return Signal{
		Type:     TypeEditPattern,
		Score:    score,
		WindowMS: d.cfg.WindowMS,
		Metadata: map[string]any{
			"editFrequencyPerMin": freqPerMin,
			"retryCount":          fs.retryCount,
			"similarityMax":       1 - d.cfg.LevenshteinSimilarityThreshold,
		},
	}, true
}

// Reset clears per-file state after a trigger is accepted.
func (d *EditPatternDetector) Reset(fileKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, fileKey)
}

func lineDistance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
