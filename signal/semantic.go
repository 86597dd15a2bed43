package signal

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Embedder produces a vector embedding for a text snippet. Satisfied by
// retrieval.Embedder implementations.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticDetector compares edited snippets against reference embeddings of
// idiomatic code; drift away from every reference scores as struggle.
// Disabled by default: when off it contributes no signal at all, so it can
// never skew primary-signal selection.
type SemanticDetector struct {
	cfg      Config
	log      *zap.Logger
	embedder Embedder
	refs     [][]float32

	mu    sync.Mutex
	files map[string]string // latest snippet per file
}

// NewSemanticDetector creates the detector with reference embeddings of
// idiomatic snippets. A nil logger disables logging.
func NewSemanticDetector(cfg Config, embedder Embedder, refs [][]float32, log *zap.Logger) *SemanticDetector {
	if log == nil {
		log = zap.NewNop()
	}
	return &SemanticDetector{
		cfg:      cfg,
		log:      log,
		embedder: embedder,
		refs:     refs,
		files:    make(map[string]string),
	}
}

func (d *SemanticDetector) Observe(ev Event) {
	if !d.cfg.SemanticEnabled || ev.Kind != KindEdit || ev.FileKey == "" || ev.Payload == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[ev.FileKey] = ev.Payload
}

func (d *SemanticDetector) Evaluate(fileKey string, now time.Time) (Signal, bool) {
	if !d.cfg.SemanticEnabled || d.embedder == nil || len(d.refs) == 0 {
		return Signal{}, false
	}

	d.mu.Lock()
	snippet := d.files[fileKey]
	d.mu.Unlock()
	if snippet == "" {
		return Signal{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vec, err := d.embedder.Embed(ctx, snippet)
	if err != nil {
		d.log.Warn("semantic embedding failed", zap.String("file_key", fileKey), zap.Error(err))
		return Signal{}, false
	}

	best := 0.0
	for _, ref := range d.refs {
		if sim := cosine(vec, ref); sim > best {
			best = sim
		}
	}
	drift := clamp01(1 - best)

	return Signal{
		Type:     TypeSemantic,
		Score:    drift,
		WindowMS: d.cfg.WindowMS,
		Metadata: map[string]any{"drift": drift},
	}, true
}

// Reset clears per-file state after a trigger is accepted.
func (d *SemanticDetector) Reset(fileKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, fileKey)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
