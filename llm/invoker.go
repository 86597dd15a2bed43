package llm

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/aura-go/fault"
	"github.com/dshills/aura-go/graph/model"
)

// Config tunes the invocation layer.
type Config struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheMaxSize int           `mapstructure:"cache_max_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchDelay   time.Duration `mapstructure:"batch_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:     time.Hour,
		CacheMaxSize: 1000,
		BatchSize:    5,
		BatchDelay:   100 * time.Millisecond,
		MaxAttempts:  3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		CallTimeout:  60 * time.Second,
	}
}

// Result is one invocation's outcome.
type Result struct {
	Text   string
	Cached bool
	Usage  model.Usage
}

// Invoker wraps a ChatModel with prompt scrubbing, tiered response caching,
// request coalescing, and retry with exponential backoff. Prompts that
// required scrubbing bypass the cache entirely.
type Invoker struct {
	model model.ChatModel
	cache *TieredCache
	cfg   Config
	log   *zap.Logger
	sf    singleflight.Group
	usage *UsageAccumulator
}

// NewInvoker builds an invoker. cache may be nil to disable caching; a nil
// logger disables logging.
func NewInvoker(m model.ChatModel, cache *TieredCache, cfg Config, log *zap.Logger) *Invoker {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Invoker{model: m, cache: cache, cfg: cfg, log: log, usage: &UsageAccumulator{}}
}

// Usage returns the accumulated token usage and call count.
func (inv *Invoker) Usage() (model.Usage, int64) { return inv.usage.Total() }

// CacheStats exposes the cache counters, or a zero value when caching is
// disabled.
func (inv *Invoker) CacheStats() CacheStats {
	if inv.cache == nil {
		return CacheStats{}
	}
	return inv.cache.Stats()
}

// Invoke sends a single prompt. Identical concurrent invocations coalesce
// into one provider call.
func (inv *Invoker) Invoke(ctx context.Context, prompt string, opts model.Options) (Result, error) {
	scrubbed := Scrub(prompt)
	cacheable := inv.cache != nil && !WasScrubbed(scrubbed)
	key := CacheKey(scrubbed, inv.model.Name(), opts.Temperature)

	if cacheable {
		if v, ok, _ := inv.cache.Get(ctx, key); ok {
			return Result{Text: string(v), Cached: true}, nil
		}
	}

	out, err, _ := inv.sf.Do(key, func() (any, error) {
		o, callErr := inv.chatWithRetry(ctx, scrubbed, opts)
		if callErr != nil {
			return nil, callErr
		}
		inv.usage.Record(o.Usage)
		if cacheable {
			if setErr := inv.cache.Set(ctx, key, []byte(o.Text)); setErr != nil {
				inv.log.Warn("cache store failed", zap.Error(setErr))
			}
		}
		return o, nil
	})
	if err != nil {
		return Result{}, err
	}
	chat := out.(model.ChatOut)
	return Result{Text: chat.Text, Usage: chat.Usage}, nil
}

func (inv *Invoker) chatWithRetry(ctx context.Context, prompt string, opts model.Options) (model.ChatOut, error) {
	msgs := []model.Message{{Role: model.RoleUser, Content: prompt}}

	var lastErr error
	for attempt := 0; attempt < inv.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := inv.backoff(attempt)
			inv.log.Debug("retrying llm call",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return model.ChatOut{}, ctx.Err()
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if inv.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, inv.cfg.CallTimeout)
		}
		out, err := inv.model.Chat(callCtx, msgs, opts)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !fault.Retryable(err) {
			return model.ChatOut{}, err
		}
	}
	return model.ChatOut{}, lastErr
}

func (inv *Invoker) backoff(attempt int) time.Duration {
	d := inv.cfg.BaseDelay << (attempt - 1)
	if inv.cfg.MaxDelay > 0 && d > inv.cfg.MaxDelay {
		d = inv.cfg.MaxDelay
	}
	if inv.cfg.BaseDelay > 0 {
		d += time.Duration(rand.Int63n(int64(inv.cfg.BaseDelay)))
	}
	return d
}
