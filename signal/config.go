package signal

import "time"

// Weights are the per-type aggregation weights. They intentionally sum below
// 1.0 so a single noisy detector cannot trigger through score fusion alone.
type Weights struct {
	UndoRedo    float64 `mapstructure:"undo_redo"`
	TimePattern float64 `mapstructure:"time_pattern"`
	Terminal    float64 `mapstructure:"terminal"`
	Debug       float64 `mapstructure:"debug"`
	Semantic    float64 `mapstructure:"semantic"`
	EditPattern float64 `mapstructure:"edit_pattern"`
}

// For returns the weight for a signal type.
func (w Weights) For(signalType string) float64 {
	switch signalType {
	case TypeUndoRedo:
		return w.UndoRedo
	case TypeTimePattern:
		return w.TimePattern
	case TypeTerminal:
		return w.Terminal
	case TypeDebug:
		return w.Debug
	case TypeSemantic:
		return w.Semantic
	case TypeEditPattern:
		return w.EditPattern
	}
	return 0
}

// Config tunes detectors and the aggregator.
type Config struct {
	WindowMS                       int64   `mapstructure:"window_ms"`
	RetryAttemptThreshold          int     `mapstructure:"retry_attempt_threshold"`
	ErrorCountThreshold            int     `mapstructure:"error_count_threshold"`
	EditFrequencyThresholdPerMin   float64 `mapstructure:"edit_frequency_threshold_per_min"`
	LevenshteinSimilarityThreshold float64 `mapstructure:"levenshtein_similarity_threshold"`
	MaxLineDistanceForRetry        int     `mapstructure:"max_line_distance_for_retry"`
	MaxComparisonsPerEdit          int     `mapstructure:"max_comparisons_per_edit"`
	MaxEventsPerFile               int     `mapstructure:"max_events_per_file"`
	MaxErrorsPerFile               int     `mapstructure:"max_errors_per_file"`
	HesitationThresholdMS          int64   `mapstructure:"hesitation_threshold_ms"`
	DebugChangeThreshold           int     `mapstructure:"debug_change_threshold"`
	CooldownMS                     int64   `mapstructure:"cooldown_ms"`
	TriggerThreshold               float64 `mapstructure:"trigger_threshold"`
	SemanticEnabled                bool    `mapstructure:"semantic_enabled"`
	Weights                        Weights `mapstructure:"weights"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WindowMS:                       5 * time.Minute.Milliseconds(),
		RetryAttemptThreshold:          3,
		ErrorCountThreshold:            2,
		EditFrequencyThresholdPerMin:   10,
		LevenshteinSimilarityThreshold: 0.2,
		MaxLineDistanceForRetry:        2,
		MaxComparisonsPerEdit:          10,
		MaxEventsPerFile:               200,
		MaxErrorsPerFile:               20,
		HesitationThresholdMS:          45_000,
		DebugChangeThreshold:           5,
		CooldownMS:                     60_000,
		TriggerThreshold:               0.6,
		SemanticEnabled:                false,
		Weights: Weights{
			UndoRedo:    0.25,
			TimePattern: 0.20,
			Terminal:    0.20,
			Debug:       0.15,
			Semantic:    0.10,
			EditPattern: 0.10,
		},
	}
}
