package audit

import (
	"context"
	"fmt"
	"regexp"
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
	nodeParseDiff     = "parse_diff"
	nodeEnrichContext = "enrich_context"
	nodeClassify      = "classify_violations"
	nodeFilter        = "filter_false_positives"
	nodeFinalize      = "finalize"
)

// Rule names emitted by the classifier.
const (
	RuleSecret     = "hardcoded_secret"
	RuleDebugPrint = "debug_print"
	RuleTodo       = "todo_marker"
	RuleLargeHunk  = "oversized_hunk"
)

var (
	secretLine = regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|token)\s*[:=]{1,2}\s*['"][^'"]{6,}['"]|\bsk-[A-Za-z0-9_-]{16,}\b|\bAKIA[0-9A-Z]{16}\b`)
	debugLine  = regexp.MustCompile(`\b(console\.log|fmt\.Println|print\(|println!|System\.out\.println|debugger\b)`)
	todoLine   = regexp.MustCompile(`(?i)\b(TODO|FIXME|HACK)\b`)
)

const largeHunkLines = 400

// Config tunes the audit workflow.
type Config struct {
	RetrievalTopK int           `mapstructure:"retrieval_top_k"`
	Temperature   float64       `mapstructure:"temperature"`
	NodeTimeout   time.Duration `mapstructure:"node_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RetrievalTopK: 3,
		Temperature:   0,
		NodeTimeout:   120 * time.Second,
		MaxRetries:    3,
	}
}

// Deps are the services the audit nodes call into.
type Deps struct {
	Store     store.Store[State]
	Emitter   emit.Emitter
	Invoker   *llm.Invoker
	Retrieval *retrieval.Service
	Metrics   *graph.PrometheusMetrics
	Log       *zap.Logger
}

// Workflow is the checkpointed audit graph:
// parse_diff → enrich_context → classify_violations → filter_false_positives
// → finalize.
type Workflow struct {
	engine *graph.Engine[State]
	store  store.Store[State]
	cfg    Config
	log    *zap.Logger
}

// New assembles the audit graph.
func New(cfg Config, deps Deps) (*Workflow, error) {
	if deps.Store == nil {
		return nil, fault.New(fault.KindInvalidInput, "audit workflow requires a store")
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

	nodes := map[string]graph.NodeFunc[State]{
		nodeParseDiff:     w.parseDiff,
		nodeEnrichContext: w.enrichContext(deps.Retrieval),
		nodeClassify:      w.classifyViolations,
		nodeFilter:        w.filterFalsePositives(deps.Invoker),
		nodeFinalize:      w.finalize,
	}
	for id, fn := range nodes {
		if err := engine.Add(id, fn); err != nil {
			return nil, err
		}
	}
	if err := engine.StartAt(nodeParseDiff); err != nil {
		return nil, err
	}
	if err := engine.SetPolicy(nodeFilter, graph.NodePolicy{
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

// Run starts or resumes an audit thread over the given unified diff.
func (w *Workflow) Run(ctx context.Context, threadID, diff string) (State, error) {
	return w.engine.Run(ctx, threadID, State{Diff: diff})
}

// Thread returns the registry record for a thread.
func (w *Workflow) Thread(ctx context.Context, threadID string) (store.ThreadRecord[State], error) {
	return w.store.GetThread(ctx, threadID)
}

func (w *Workflow) parseDiff(_ context.Context, s State) graph.NodeResult[State] {
	files, err := ParseUnifiedDiff(s.Diff)
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}
	return graph.NodeResult[State]{
		Delta: State{Files: files},
		Route: graph.Goto(nodeEnrichContext),
	}
}

// enrichContext attaches knowledge context about the touched files. Best
// effort: an unavailable retrieval service just leaves the context empty.
func (w *Workflow) enrichContext(svc *retrieval.Service) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		if svc == nil {
			return graph.NodeResult[State]{Route: graph.Goto(nodeClassify)}
		}

		paths := make([]string, 0, len(s.Files))
		for _, f := range s.Files {
			paths = append(paths, f.Path)
		}
		res := svc.Query(ctx, "code review conventions for "+strings.Join(paths, ", "), nil, w.cfg.RetrievalTopK)
		return graph.NodeResult[State]{
			Delta: State{Context: res.Context},
			Route: graph.Goto(nodeClassify),
		}
	}
}

// classifyViolations runs the rule scan over added lines. Secret findings
// are definite; debug prints and TODO markers are ambiguous and go through
// the false-positive filter.
func (w *Workflow) classifyViolations(_ context.Context, s State) graph.NodeResult[State] {
	var violations []Violation
	for _, f := range s.Files {
		var added int
		for _, l := range f.Added() {
			added++
			excerpt := strings.TrimSpace(l.Text)
			switch {
			case secretLine.MatchString(l.Text):
				violations = append(violations, Violation{
					ID:   fmt.Sprintf("%s:%d:%s", f.Path, l.NewNum, RuleSecret),
					Path: f.Path, Line: l.NewNum,
					Rule: RuleSecret, Severity: SeverityHigh,
					Excerpt: llm.Scrub(excerpt),
				})
			case debugLine.MatchString(l.Text):
				violations = append(violations, Violation{
					ID:   fmt.Sprintf("%s:%d:%s", f.Path, l.NewNum, RuleDebugPrint),
					Path: f.Path, Line: l.NewNum,
					Rule: RuleDebugPrint, Severity: SeverityMedium,
					Excerpt: excerpt, Ambiguous: true,
				})
			case todoLine.MatchString(l.Text):
				violations = append(violations, Violation{
					ID:   fmt.Sprintf("%s:%d:%s", f.Path, l.NewNum, RuleTodo),
					Path: f.Path, Line: l.NewNum,
					Rule: RuleTodo, Severity: SeverityLow,
					Excerpt: excerpt, Ambiguous: true,
				})
			}
		}
		if added > largeHunkLines {
			violations = append(violations, Violation{
				ID:       fmt.Sprintf("%s:0:%s", f.Path, RuleLargeHunk),
				Path:     f.Path,
				Rule:     RuleLargeHunk,
				Severity: SeverityLow,
				Excerpt:  fmt.Sprintf("%d added lines", added),
			})
		}
	}
	return graph.NodeResult[State]{
		Delta: State{Violations: violations},
		Route: graph.Goto(nodeFilter),
	}
}

// filterFalsePositives batches ambiguous findings through the LLM. A prompt
// failure keeps its finding (annotated) rather than dropping it or failing
// the batch.
func (w *Workflow) filterFalsePositives(inv *llm.Invoker) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		confirmed := make([]Violation, 0, len(s.Violations))
		var ambiguous []Violation
		for _, v := range s.Violations {
			if v.Ambiguous {
				ambiguous = append(ambiguous, v)
			} else {
				confirmed = append(confirmed, v)
			}
		}

		if len(ambiguous) == 0 || inv == nil {
			confirmed = append(confirmed, ambiguous...)
			return graph.NodeResult[State]{
				Delta: State{Confirmed: confirmed},
				Route: graph.Goto(nodeFinalize),
			}
		}

		prompts := make([]string, len(ambiguous))
		for i, v := range ambiguous {
			prompts[i] = filterPrompt(v, s.Context)
		}

		results := inv.InvokeBatch(ctx, prompts, model.Options{Temperature: w.cfg.Temperature})
		filtered := 0
		for i, r := range results {
			v := ambiguous[i]
			switch {
			case r.Err != nil:
				v.FilterNote = "filter call failed: " + r.Err.Error()
				confirmed = append(confirmed, v)
				w.log.Warn("false-positive filter call failed, keeping finding",
					zap.String("violation", v.ID), zap.Error(r.Err))
			case isFalsePositiveVerdict(r.Result.Text):
				filtered++
			default:
				confirmed = append(confirmed, v)
			}
		}

		return graph.NodeResult[State]{
			Delta: State{Confirmed: confirmed, Filtered: filtered},
			Route: graph.Goto(nodeFinalize),
		}
	}
}

func (w *Workflow) finalize(_ context.Context, _ State) graph.NodeResult[State] {
	return graph.NodeResult[State]{Route: graph.Stop()}
}

func filterPrompt(v Violation, context string) string {
	var b strings.Builder
	b.WriteString("You are reviewing a potential code-review finding. ")
	b.WriteString("Answer with exactly FALSE_POSITIVE or VIOLATION.\n\n")
	fmt.Fprintf(&b, "Rule: %s\nFile: %s line %d\nCode: %s\n", v.Rule, v.Path, v.Line, v.Excerpt)
	if context != "" {
		fmt.Fprintf(&b, "\nProject conventions:\n%s\n", context)
	}
	return b.String()
}

func isFalsePositiveVerdict(text string) bool {
	t := strings.ToUpper(strings.TrimSpace(text))
	return strings.HasPrefix(t, "FALSE_POSITIVE") || strings.HasPrefix(t, "FALSE POSITIVE")
}
