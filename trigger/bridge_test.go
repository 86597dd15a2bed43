package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/aura-go/signal"
	"github.com/dshills/aura-go/struggle"
)

// recordingRunner captures submissions and optionally blocks until released.
type recordingRunner struct {
	mu      sync.Mutex
	runs    atomic.Int64
	inputs  []struggle.Inputs
	threads []string
	block   chan struct{}
}

func (r *recordingRunner) Run(_ context.Context, threadID string, in struggle.Inputs) (struggle.State, error) {
	r.runs.Add(1)
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	r.threads = append(r.threads, threadID)
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	return struggle.State{
		Inputs:               in,
		IsStruggling:         true,
		LessonRecommendation: "lesson for " + threadID,
	}, nil
}

func testDecision() signal.Decision {
	return signal.Decision{
		CombinedScore: 0.7,
		PrimarySignal: signal.TypeTerminal,
		ShouldTrigger: true,
		Signals: []signal.Signal{
			{Type: signal.TypeEditPattern, Score: 0.8, Metadata: map[string]any{
				"editFrequencyPerMin": 12.0, "retryCount": 3,
			}},
			{Type: signal.TypeTerminal, Score: 1.0, Metadata: map[string]any{
				"errorCount": 2, "terminalErrors": []string{"exit status 1"},
			}},
		},
	}
}

func testContext() Context {
	return Context{
		FileKey:           "src/main.ts",
		FilePath:          "/home/dev/proj/src/main.ts",
		LanguageID:        "typescript",
		Snippet:           "const x = fetchData();",
		Line:              10,
		DiagnosticsErrors: []string{"TS2304: Cannot find name 'fetchData'"},
	}
}

func TestThreadIDCoalescesWithinEpoch(t *testing.T) {
	b := NewBridge(&recordingRunner{}, DefaultConfig(), nil)

	t0 := time.UnixMilli(1_700_000_040_000)
	within := t0.Add(10 * time.Second)
	next := t0.Add(2 * time.Minute)

	assert.Equal(t, b.ThreadID("f", t0), b.ThreadID("f", within))
	assert.NotEqual(t, b.ThreadID("f", t0), b.ThreadID("f", next))
	assert.NotEqual(t, b.ThreadID("f", t0), b.ThreadID("g", t0))
}

func TestSubmitBuildsInputsFromDecision(t *testing.T) {
	r := &recordingRunner{}
	b := NewBridge(r, DefaultConfig(), nil)

	state, err := b.Submit(context.Background(), testDecision(), testContext(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "lesson for "+r.threads[0], state.LessonRecommendation)

	in := r.inputs[0]
	assert.Equal(t, "src/main.ts", in.FileKey)
	assert.Equal(t, "/home/dev/proj/src/main.ts", in.FilePath)
	assert.Equal(t, "const x = fetchData();", in.CodeSnippet)
	assert.Equal(t, 12.0, in.EditFrequency)
	assert.Equal(t, 3, in.RetryCount)
	assert.Equal(t, []string{"exit status 1"}, in.TerminalErrors)
	assert.Equal(t, 0.7, in.CombinedScore)
	assert.Equal(t, signal.TypeTerminal, in.PrimarySignal)
	assert.NotEmpty(t, in.StruggleReason)
}

func TestSubmitHonorsPrivacyFlags(t *testing.T) {
	r := &recordingRunner{}
	cfg := DefaultConfig()
	cfg.Privacy = Privacy{SendCodeSnippet: false, SendFilePath: false}
	b := NewBridge(r, cfg, nil)

	_, err := b.Submit(context.Background(), testDecision(), testContext(), time.Now())
	require.NoError(t, err)

	in := r.inputs[0]
	assert.Empty(t, in.FilePath, "file path withheld")
	assert.Empty(t, in.CodeSnippet, "snippet withheld")
	assert.Equal(t, "src/main.ts", in.FileKey, "file key is always sent")
}

func TestSubmitDeduplicatesInflight(t *testing.T) {
	r := &recordingRunner{block: make(chan struct{})}
	b := NewBridge(r, DefaultConfig(), nil)
	now := time.Now()

	var wg sync.WaitGroup
	states := make([]struggle.State, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(ix int) {
			defer wg.Done()
			st, err := b.Submit(context.Background(), testDecision(), testContext(), now)
			require.NoError(t, err)
			states[ix] = st
		}(i)
	}

	// Let the submissions race in, then release the single run.
	time.Sleep(50 * time.Millisecond)
	close(r.block)
	wg.Wait()

	assert.Equal(t, int64(1), r.runs.Load(), "concurrent triggers for one epoch share one run")
	assert.Equal(t, states[0].LessonRecommendation, states[1].LessonRecommendation)
	assert.Equal(t, states[0].LessonRecommendation, states[2].LessonRecommendation)
}

func TestFeedbackSnoozeSuppressesSubmission(t *testing.T) {
	r := &recordingRunner{}
	b := NewBridge(r, DefaultConfig(), nil)
	now := time.Now()

	require.NoError(t, b.Feedback("src/main.ts", ActionSnooze, time.Minute, now))

	_, err := b.Submit(context.Background(), testDecision(), testContext(), now.Add(30*time.Second))
	assert.ErrorIs(t, err, ErrSnoozed)
	assert.Zero(t, r.runs.Load())

	// Past the snooze bound, submissions flow again.
	_, err = b.Submit(context.Background(), testDecision(), testContext(), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.runs.Load())
}

func TestFeedbackDisableAndEnable(t *testing.T) {
	r := &recordingRunner{}
	b := NewBridge(r, DefaultConfig(), nil)
	now := time.Now()

	require.NoError(t, b.Feedback("src/main.ts", ActionDisable, 0, now))
	_, err := b.Submit(context.Background(), testDecision(), testContext(), now)
	assert.ErrorIs(t, err, ErrDisabled)

	require.NoError(t, b.Feedback("src/main.ts", ActionEnable, 0, now))
	_, err = b.Submit(context.Background(), testDecision(), testContext(), now)
	require.NoError(t, err)
}

func TestFeedbackValidation(t *testing.T) {
	b := NewBridge(&recordingRunner{}, DefaultConfig(), nil)
	now := time.Now()

	assert.Error(t, b.Feedback("f", ActionSnooze, 0, now), "snooze needs a duration")
	assert.Error(t, b.Feedback("f", "shrug", 0, now))
	assert.NoError(t, b.Feedback("f", ActionShow, 0, now))
}

func TestSnippetAround(t *testing.T) {
	text := "l1\nl2\nl3\nl4\nl5\nl6\nl7"
	cfg := DefaultConfig()

	got := snippetAround(text, 4, cfg.SnippetRadius, cfg.MaxSnippetChars)
	assert.Equal(t, "l2\nl3\nl4\nl5\nl6", got)

	// Edges clamp instead of failing.
	assert.Equal(t, "l1\nl2\nl3", snippetAround(text, 1, 2, 300))
	assert.Equal(t, "l5\nl6\nl7", snippetAround(text, 7, 2, 300))

	// Truncation at the byte cap.
	long := snippetAround(text, 4, 2, 5)
	assert.Len(t, long, 5)

	assert.Empty(t, snippetAround("", 3, 2, 300))
	assert.Empty(t, snippetAround(text, 0, 2, 300))
}
