package struggle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/aura-go/fault"
	"github.com/dshills/aura-go/graph"
	"github.com/dshills/aura-go/graph/emit"
	"github.com/dshills/aura-go/graph/model"
	"github.com/dshills/aura-go/graph/store"
	"github.com/dshills/aura-go/llm"
	"github.com/dshills/aura-go/retrieval"
)

// Workflow node IDs.
const (
	nodeDetect        = "detect"
	nodeMaybeRetrieve = "maybe_retrieve"
	nodeGenerate      = "generate"
	nodeFinalize      = "finalize"
)

// Config tunes the detection sanity checks and the generation call.
type Config struct {
	EditFrequencyThresholdPerMin float64       `mapstructure:"edit_frequency_threshold_per_min"`
	TriggerThreshold             float64       `mapstructure:"trigger_threshold"`
	RetrievalTopK                int           `mapstructure:"retrieval_top_k"`
	Temperature                  float64       `mapstructure:"temperature"`
	MaxTokens                    int           `mapstructure:"max_tokens"`
	NodeTimeout                  time.Duration `mapstructure:"node_timeout"`
	MaxRetries                   int           `mapstructure:"max_retries"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		EditFrequencyThresholdPerMin: 10,
		TriggerThreshold:             0.6,
		RetrievalTopK:                3,
		Temperature:                  0.3,
		MaxTokens:                    1024,
		NodeTimeout:                  90 * time.Second,
		MaxRetries:                   3,
	}
}

// Deps are the services the workflow nodes call into.
type Deps struct {
	Store     store.Store[State]
	Emitter   emit.Emitter
	Invoker   *llm.Invoker
	Retrieval *retrieval.Service
	Metrics   *graph.PrometheusMetrics
	Log       *zap.Logger
}

// Workflow is the checkpointed struggle-detection graph:
// detect → maybe_retrieve → generate → finalize, with a short-circuit from
// detect to finalize when the developer is not struggling.
type Workflow struct {
	engine *graph.Engine[State]
	store  store.Store[State]
	cfg    Config
	log    *zap.Logger
}

// New assembles the workflow graph.
func New(cfg Config, deps Deps) (*Workflow, error) {
	if deps.Store == nil {
		return nil, fault.New(fault.KindInvalidInput, "struggle workflow requires a store")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	w := &Workflow{store: deps.Store, cfg: cfg, log: log}

	engine := graph.New(Reduce, deps.Store, deps.Emitter, graph.Options{
		MaxSteps:           16,
		DefaultNodeTimeout: cfg.NodeTimeout,
		Metrics:            deps.Metrics,
	})
	engine.SetChannels(Channels)

	if err := engine.Add(nodeDetect, graph.NodeFunc[State](w.detect)); err != nil {
		return nil, err
	}
	if err := engine.Add(nodeMaybeRetrieve, graph.NodeFunc[State](w.maybeRetrieve(deps.Retrieval))); err != nil {
		return nil, err
	}
	if err := engine.Add(nodeGenerate, graph.NodeFunc[State](w.generate(deps.Invoker))); err != nil {
		return nil, err
	}
	if err := engine.Add(nodeFinalize, graph.NodeFunc[State](w.finalize)); err != nil {
		return nil, err
	}
	if err := engine.StartAt(nodeDetect); err != nil {
		return nil, err
	}

	// Retrieval failures are already swallowed inside the service; generate
	// is the node that talks to a flaky upstream and earns the retry policy.
	if err := engine.SetPolicy(nodeGenerate, graph.NodePolicy{
		Timeout: cfg.NodeTimeout,
		RetryPolicy: &graph.RetryPolicy{
			MaxAttempts: max(cfg.MaxRetries, 1),
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    8 * time.Second,
			Retryable:   fault.Retryable,
		},
	}); err != nil {
		return nil, err
	}

	w.engine = engine
	return w, nil
}

// Run starts or resumes the thread and returns its final state.
func (w *Workflow) Run(ctx context.Context, threadID string, inputs Inputs) (State, error) {
	return w.engine.Run(ctx, threadID, State{Inputs: inputs})
}

// Resume continues a thread from its latest checkpoint.
func (w *Workflow) Resume(ctx context.Context, threadID string) (State, error) {
	return w.engine.Resume(ctx, threadID)
}

// Cancel raises the cooperative cancellation flag for a thread.
func (w *Workflow) Cancel(threadID string) { w.engine.Cancel(threadID) }

// Thread returns the registry record for a thread.
func (w *Workflow) Thread(ctx context.Context, threadID string) (store.ThreadRecord[State], error) {
	return w.store.GetThread(ctx, threadID)
}

// Threads pages through the thread registry, most recently updated first.
func (w *Workflow) Threads(ctx context.Context, page, pageSize int) ([]store.ThreadRecord[State], int, error) {
	return w.store.ListThreads(ctx, page, pageSize)
}

// detect decides struggling from the aggregated fields already present in
// the inputs, with coarse sanity checks so a spurious submission with no
// evidence does not burn an LLM call.
func (w *Workflow) detect(_ context.Context, s State) graph.NodeResult[State] {
	in := s.Inputs
	struggling := in.EditFrequency >= w.cfg.EditFrequencyThresholdPerMin ||
		len(in.ErrorLogs) > 0 ||
		in.CombinedScore >= w.cfg.TriggerThreshold

	if !struggling {
		return graph.NodeResult[State]{Route: graph.Goto(nodeFinalize)}
	}
	return graph.NodeResult[State]{
		Delta: State{IsStruggling: true},
		Route: graph.Goto(nodeMaybeRetrieve),
	}
}

// maybeRetrieve attaches knowledge context for the observed errors. The
// retrieval service degrades to an empty result on failure, so this node
// never fails the thread.
func (w *Workflow) maybeRetrieve(svc *retrieval.Service) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		if svc == nil || !s.IsStruggling {
			return graph.NodeResult[State]{Route: graph.Goto(nodeGenerate)}
		}

		query := retrievalQuery(s.Inputs)
		res := svc.Query(ctx, query, s.Inputs.ErrorLogs, w.cfg.RetrievalTopK)
		return graph.NodeResult[State]{
			Delta: State{RAGContext: res.Context, Citations: res.Citations},
			Route: graph.Goto(nodeGenerate),
		}
	}
}

// generate calls the LLM with the deterministic prompt template. The invoker
// scrubs secrets from the prompt and serves repeats from cache.
func (w *Workflow) generate(inv *llm.Invoker) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		if inv == nil {
			return graph.NodeResult[State]{Err: fault.New(fault.KindInternal, "llm invoker not configured")}
		}

		prompt := buildPrompt(s)
		res, err := inv.Invoke(ctx, prompt, model.Options{
			Temperature: w.cfg.Temperature,
			MaxTokens:   w.cfg.MaxTokens,
		})
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		return graph.NodeResult[State]{
			Delta: State{LessonRecommendation: strings.TrimSpace(res.Text)},
			Route: graph.Goto(nodeFinalize),
		}
	}
}

// finalize is the terminal node for both the struggling and not-struggling
// paths.
func (w *Workflow) finalize(_ context.Context, _ State) graph.NodeResult[State] {
	return graph.NodeResult[State]{Route: graph.Stop()}
}

func retrievalQuery(in Inputs) string {
	var b strings.Builder
	if in.LanguageID != "" {
		b.WriteString(in.LanguageID)
		b.WriteString(" ")
	}
	if in.StruggleReason != "" {
		b.WriteString(in.StruggleReason)
	} else {
		b.WriteString("developer struggling while editing code")
	}
	return b.String()
}

// buildPrompt renders the lesson prompt. Sections appear in a fixed order so
// identical states produce identical prompts and hit the response cache.
func buildPrompt(s State) string {
	in := s.Inputs

	var b strings.Builder
	b.WriteString("You are a coding tutor. A developer appears to be struggling. ")
	b.WriteString("Write one short, actionable lesson recommendation.\n\n")

	if in.LanguageID != "" {
		fmt.Fprintf(&b, "Language: %s\n", in.LanguageID)
	}
	if in.PrimarySignal != "" {
		fmt.Fprintf(&b, "Primary signal: %s (combined score %.2f)\n", in.PrimarySignal, in.CombinedScore)
	}
	if in.StruggleReason != "" {
		fmt.Fprintf(&b, "Observed pattern: %s\n", in.StruggleReason)
	}
	if in.RetryCount > 0 {
		fmt.Fprintf(&b, "Repeated edit attempts: %d\n", in.RetryCount)
	}
	if len(in.ErrorLogs) > 0 {
		b.WriteString("\nRecent errors:\n")
		for _, e := range in.ErrorLogs {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	if in.CodeSnippet != "" {
		fmt.Fprintf(&b, "\nCode under edit:\n```\n%s\n```\n", in.CodeSnippet)
	}
	if len(in.History) > 0 {
		b.WriteString("\nPrior recommendations in this session (do not repeat):\n")
		for _, h := range in.History {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	if s.RAGContext != "" {
		fmt.Fprintf(&b, "\nReference material:\n%s\n", s.RAGContext)
	}

	b.WriteString("\nRespond with the recommendation only, no preamble.")
	return b.String()
}
