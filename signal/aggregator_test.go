package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strongTerminalSignal() Signal {
	return Signal{
		Type:     TypeTerminal,
		Score:    1.0,
		WindowMS: 300_000,
		Metadata: map[string]any{"errorCount": 2, "terminalErrors": []string{"exit status 1"}},
	}
}

func TestAggregatorCombinedScoreBounds(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)
	now := time.Now()

	// No signals: zero score, no trigger.
	dec := agg.Evaluate("f", now, time.Time{})
	assert.Zero(t, dec.CombinedScore)
	assert.False(t, dec.ShouldTrigger)
	assert.Empty(t, dec.Signals)

	// All-zero signals: score stays zero.
	agg.Update("f", Signal{Type: TypeUndoRedo, Score: 0})
	agg.Update("f", Signal{Type: TypeDebug, Score: 0})
	dec = agg.Evaluate("f", now, time.Time{})
	assert.Zero(t, dec.CombinedScore)
	assert.Len(t, dec.Signals, 2)

	// Saturated signals clamp to [0,1] even with out-of-range inputs.
	for _, st := range []string{TypeUndoRedo, TypeTimePattern, TypeTerminal, TypeDebug, TypeSemantic, TypeEditPattern} {
		agg.Update("f", Signal{Type: st, Score: 5.0})
	}
	dec = agg.Evaluate("f", now, time.Time{})
	assert.LessOrEqual(t, dec.CombinedScore, 1.0)
	assert.Positive(t, dec.CombinedScore)
}

func TestAggregatorPrimarySignalArgmax(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)
	now := time.Now()

	// undo_redo weight 0.25 * 0.8 = 0.20; terminal 0.20 * 0.5 = 0.10.
	agg.Update("f", Signal{Type: TypeUndoRedo, Score: 0.8})
	agg.Update("f", Signal{Type: TypeTerminal, Score: 0.5})

	dec := agg.Evaluate("f", now, time.Time{})
	assert.Equal(t, TypeUndoRedo, dec.PrimarySignal)
	assert.InDelta(t, 0.30, dec.CombinedScore, 1e-9)
}

func TestAggregatorTieBreakPrefersErrorBearing(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)
	now := time.Now()

	// edit_pattern 0.10 * 1.0 = 0.10 and terminal 0.20 * 0.5 = 0.10: tied
	// within tolerance, terminal wins over the pure edit pattern.
	agg.Update("f", Signal{Type: TypeEditPattern, Score: 1.0})
	agg.Update("f", Signal{Type: TypeTerminal, Score: 0.5})

	dec := agg.Evaluate("f", now, time.Time{})
	assert.Equal(t, TypeTerminal, dec.PrimarySignal)
}

func TestAggregatorCooldown(t *testing.T) {
	cfg := DefaultConfig()
	agg := NewAggregator(cfg, nil)
	t0 := time.Now()
	cooldown := time.Duration(cfg.CooldownMS) * time.Millisecond

	agg.Update("f", strongTerminalSignal())
	dec := agg.Evaluate("f", t0, time.Time{})
	require.True(t, dec.ShouldTrigger, "first qualifying evaluation must trigger")

	// Still qualifying just inside the cooldown: suppressed.
	agg.Update("f", strongTerminalSignal())
	dec = agg.Evaluate("f", t0.Add(cooldown-time.Millisecond), time.Time{})
	assert.False(t, dec.ShouldTrigger)

	// Just past the cooldown: triggers again.
	dec = agg.Evaluate("f", t0.Add(cooldown+time.Millisecond), time.Time{})
	assert.True(t, dec.ShouldTrigger)
}

func TestAggregatorCooldownIsPerFile(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)
	t0 := time.Now()

	agg.Update("a", strongTerminalSignal())
	require.True(t, agg.Evaluate("a", t0, time.Time{}).ShouldTrigger)

	// A different file is not affected by a's cooldown.
	agg.Update("b", strongTerminalSignal())
	assert.True(t, agg.Evaluate("b", t0.Add(time.Second), time.Time{}).ShouldTrigger)
}

func TestAggregatorSnoozeUsesLaterBound(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)
	t0 := time.Now()

	agg.Snooze(t0.Add(time.Minute))
	agg.Update("f", strongTerminalSignal())

	// Server snooze active.
	assert.False(t, agg.Evaluate("f", t0.Add(30*time.Second), time.Time{}).ShouldTrigger)

	// Server snooze expired but the client's later snooze still holds.
	assert.False(t, agg.Evaluate("f", t0.Add(2*time.Minute), t0.Add(3*time.Minute)).ShouldTrigger)

	// Both expired.
	assert.True(t, agg.Evaluate("f", t0.Add(4*time.Minute), t0.Add(3*time.Minute)).ShouldTrigger)
}

func TestAggregatorReset(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)
	now := time.Now()

	agg.Update("f", strongTerminalSignal())
	require.True(t, agg.Evaluate("f", now, time.Time{}).ShouldTrigger)

	agg.Reset("f")
	dec := agg.Evaluate("f", now.Add(time.Hour), time.Time{})
	assert.Zero(t, dec.CombinedScore)
	assert.Empty(t, dec.Signals)
}
