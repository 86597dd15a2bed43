// Package server exposes the HTTP surface: trigger submission, workflow
// queries, health, and metrics.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/aura-go/audit"
	"github.com/dshills/aura-go/fault"
	"github.com/dshills/aura-go/graph/store"
	"github.com/dshills/aura-go/llm"
	"github.com/dshills/aura-go/struggle"
)

// Config tunes the HTTP server.
type Config struct {
	Addr string `mapstructure:"addr"`
	// CoalesceWindow buckets server-generated thread IDs so repeat triggers
	// for one file share a thread.
	CoalesceWindow time.Duration `mapstructure:"coalesce_window"`
	// RequestTimeout is the end-to-end ceiling for API handlers, bounding
	// the full trigger-to-response path regardless of per-node budgets.
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		CoalesceWindow: time.Minute,
		RequestTimeout: 2 * time.Minute,
		RateLimit:      DefaultRateLimit(),
	}
}

// Server wires the workflow and invocation layers to HTTP handlers.
type Server struct {
	workflow *struggle.Workflow
	audits   *audit.Workflow
	invoker  *llm.Invoker
	cfg      Config
	log      *zap.Logger
	limiter  *rateLimiter
	limiters map[string]*rateLimiter
	started  time.Time
}

// New builds a server. The audit workflow and logger are optional.
func New(workflow *struggle.Workflow, audits *audit.Workflow, invoker *llm.Invoker, cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	limiters := make(map[string]*rateLimiter, len(cfg.RateLimit.Endpoints))
	for name, budget := range cfg.RateLimit.Endpoints {
		limiters[name] = newRateLimiter(RateLimitConfig{Limit: budget.Limit, Window: budget.Window})
	}
	return &Server{
		workflow: workflow,
		audits:   audits,
		invoker:  invoker,
		cfg:      cfg,
		log:      log,
		limiter:  newRateLimiter(cfg.RateLimit),
		limiters: limiters,
		started:  time.Now(),
	}
}

// limiterFor returns the endpoint-specific limiter when one is configured.
func (s *Server) limiterFor(endpoint string) *rateLimiter {
	if rl, ok := s.limiters[endpoint]; ok {
		return rl
	}
	return s.limiter
}

// Router assembles the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(s.cfg.RequestTimeout))
		r.Use(s.limiterFor("triggers").middleware)
		r.Post("/api/v1/triggers", s.handleTrigger)
		r.Get("/api/v1/workflows", s.handleListWorkflows)
		r.Get("/api/v1/workflows/{threadID}", s.handleGetWorkflow)
	})
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(s.cfg.RequestTimeout))
		r.Use(s.limiterFor("audits").middleware)
		r.Post("/api/v1/audits", s.handleAuditSubmit)
		r.Get("/api/v1/audits/{threadID}", s.handleGetAudit)
	})
	return r
}

// triggerRequest is the submission payload assembled by the editor bridge.
type triggerRequest struct {
	ThreadID               string          `json:"thread_id,omitempty"`
	FileKey                string          `json:"file_key"`
	FilePath               string          `json:"file_path,omitempty"`
	LanguageID             string          `json:"language_id,omitempty"`
	CodeSnippet            string          `json:"code_snippet,omitempty"`
	Source                 string          `json:"source,omitempty"`
	ClientTimestamp        string          `json:"client_timestamp,omitempty"`
	EditFrequency          float64         `json:"edit_frequency"`
	ErrorLogs              []string        `json:"error_logs,omitempty"`
	History                []string        `json:"history,omitempty"`
	StruggleReason         string          `json:"struggle_reason,omitempty"`
	RetryCount             int             `json:"retry_count,omitempty"`
	CombinedScore          float64         `json:"combined_score,omitempty"`
	PrimarySignal          string          `json:"primary_signal,omitempty"`
	Signals                []signalPayload `json:"signals,omitempty"`
	UndoRedoPattern        string          `json:"undo_redo_pattern,omitempty"`
	HesitationMs           int64           `json:"hesitation_ms,omitempty"`
	TerminalErrors         []string        `json:"terminal_errors,omitempty"`
	DebugBreakpointChanges int             `json:"debug_breakpoint_changes,omitempty"`
}

type signalPayload struct {
	Type     string         `json:"type"`
	Score    float64        `json:"score"`
	WindowMS int64          `json:"window_ms,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type triggerResponse struct {
	ThreadID string        `json:"thread_id"`
	Status   string        `json:"status"`
	State    workflowState `json:"state"`
}

type workflowState struct {
	IsStruggling         bool   `json:"is_struggling"`
	LessonRecommendation string `json:"lesson_recommendation,omitempty"`
	RAGContext           string `json:"rag_context,omitempty"`
	Error                string `json:"error,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fault.New(fault.KindInvalidInput, "malformed trigger payload: %v", err))
		return
	}
	if req.FileKey == "" {
		writeError(w, r, fault.New(fault.KindInvalidInput, "file_key is required"))
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = s.coalescedThreadID(req.FileKey, time.Now())
	}

	final, err := s.workflow.Run(r.Context(), threadID, struggle.Inputs{
		FileKey:                req.FileKey,
		FilePath:               req.FilePath,
		LanguageID:             req.LanguageID,
		CodeSnippet:            req.CodeSnippet,
		Source:                 req.Source,
		ClientTimestamp:        req.ClientTimestamp,
		EditFrequency:          req.EditFrequency,
		ErrorLogs:              req.ErrorLogs,
		History:                req.History,
		StruggleReason:         req.StruggleReason,
		RetryCount:             req.RetryCount,
		CombinedScore:          req.CombinedScore,
		PrimarySignal:          req.PrimarySignal,
		UndoRedoPattern:        req.UndoRedoPattern,
		HesitationMs:           req.HesitationMs,
		TerminalErrors:         req.TerminalErrors,
		DebugBreakpointChanges: req.DebugBreakpointChanges,
	})
	if err != nil {
		s.log.Warn("trigger workflow failed", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, r, err)
		return
	}

	rec, rerr := s.workflow.Thread(r.Context(), threadID)
	status := "unknown"
	if rerr == nil {
		status = string(rec.Status)
	} else {
		s.log.Warn("thread status lookup failed", zap.String("thread_id", threadID), zap.Error(rerr))
	}

	writeJSON(w, http.StatusOK, triggerResponse{
		ThreadID: threadID,
		Status:   status,
		State:    toWorkflowState(final),
	})
}

// workflowItem is one row of the list envelope.
type workflowItem struct {
	ThreadID  string        `json:"thread_id"`
	Status    string        `json:"status"`
	State     workflowState `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type listEnvelope struct {
	Items    []workflowItem `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Pages    int            `json:"pages"`
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if page < 1 || pageSize < 1 || pageSize > 200 {
		writeError(w, r, fault.New(fault.KindInvalidInput, "page and page_size must be positive (page_size <= 200)"))
		return
	}

	records, total, err := s.workflow.Threads(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]workflowItem, 0, len(records))
	for _, rec := range records {
		items = append(items, workflowItem{
			ThreadID:  rec.ThreadID,
			Status:    string(rec.Status),
			State:     toWorkflowState(rec.State),
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}

	pages := (total + pageSize - 1) / pageSize
	writeJSON(w, http.StatusOK, listEnvelope{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    pages,
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	rec, err := s.workflow.Thread(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fault.Wrap(fault.KindNotFound, err, "thread "+threadID)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowItem{
		ThreadID:  rec.ThreadID,
		Status:    string(rec.Status),
		State:     toWorkflowState(rec.State),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	})
}

type healthResponse struct {
	Status string         `json:"status"`
	Uptime string         `json:"uptime"`
	Cache  llm.CacheStats `json:"cache"`
	Usage  usageStats     `json:"usage"`
}

type usageStats struct {
	Calls        int64 `json:"calls"`
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var stats llm.CacheStats
	var usage usageStats
	if s.invoker != nil {
		stats = s.invoker.CacheStats()
		total, calls := s.invoker.Usage()
		usage = usageStats{
			Calls:        calls,
			InputTokens:  total.InputTokens,
			OutputTokens: total.OutputTokens,
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Cache:  stats,
		Usage:  usage,
	})
}

func (s *Server) coalescedThreadID(fileKey string, now time.Time) string {
	epoch := now.UnixMilli() / s.cfg.CoalesceWindow.Milliseconds()
	return fmt.Sprintf("%s:%d", fileKey, epoch)
}

// NewThreadID returns a fresh sortable thread identifier for callers that
// opt out of coalescing.
func NewThreadID() string {
	return ulid.Make().String()
}

func toWorkflowState(s struggle.State) workflowState {
	return workflowState{
		IsStruggling:         s.IsStruggling,
		LessonRecommendation: s.LessonRecommendation,
		RAGContext:           s.RAGContext,
		Error:                s.Error,
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// auditRequest submits a unified diff for review.
type auditRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Diff     string `json:"diff"`
}

type auditResponse struct {
	ThreadID   string            `json:"thread_id"`
	Violations []audit.Violation `json:"violations"`
	Filtered   int               `json:"filtered"`
}

func (s *Server) handleAuditSubmit(w http.ResponseWriter, r *http.Request) {
	if s.audits == nil {
		writeError(w, r, fault.New(fault.KindNotFound, "audit workflow not configured"))
		return
	}

	var req auditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fault.New(fault.KindInvalidInput, "malformed audit payload: %v", err))
		return
	}
	if req.Diff == "" {
		writeError(w, r, fault.New(fault.KindInvalidInput, "diff is required"))
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = "audit:" + NewThreadID()
	}

	final, err := s.audits.Run(r.Context(), threadID, req.Diff)
	if err != nil {
		s.log.Warn("audit workflow failed", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, auditResponse{
		ThreadID:   threadID,
		Violations: final.Confirmed,
		Filtered:   final.Filtered,
	})
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	if s.audits == nil {
		writeError(w, r, fault.New(fault.KindNotFound, "audit workflow not configured"))
		return
	}

	threadID := chi.URLParam(r, "threadID")
	rec, err := s.audits.Thread(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fault.Wrap(fault.KindNotFound, err, "audit thread "+threadID)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{
		ThreadID:   rec.ThreadID,
		Violations: rec.State.Confirmed,
		Filtered:   rec.State.Filtered,
	})
}
