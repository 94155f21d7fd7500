package config

import "time"

// LLMConfig selects models and the batch-mode policy. The three tiers form
// the candidate cascade: preferred, cost, fallback.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`

	PrimaryModel  string `yaml:"primary_model"`
	CostModel     string `yaml:"cost_model"`
	FallbackModel string `yaml:"fallback_model"`

	// UseBatch switches long requests to the cost tier when the total chunk
	// count exceeds BatchThreshold.
	UseBatch       bool `yaml:"use_batch"`
	BatchThreshold int  `yaml:"batch_threshold"`

	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig bounds every LLM and coordination wait in the pipeline.
// All values are per-attempt unless noted.
type TimeoutConfig struct {
	Explanation       time.Duration `yaml:"explanation"`
	ExplanationRepair time.Duration `yaml:"explanation_repair"`
	Summary           time.Duration `yaml:"summary"`
	SummaryRepair     time.Duration `yaml:"summary_repair"`

	// AlignmentWait is the total time a caller waits for another process to
	// finish building a chapter alignment; AlignmentPoll is the re-read
	// interval.
	AlignmentWait time.Duration `yaml:"alignment_wait"`
	AlignmentPoll time.Duration `yaml:"alignment_poll"`

	// AlignmentLockTTL is how long a building record holds its lock before
	// other processes may steal it.
	AlignmentLockTTL time.Duration `yaml:"alignment_lock_ttl"`

	// CanonicalPoll × CanonicalPollAttempts bounds the wait on another
	// request's in-flight guide; CanonicalStale is the inactivity threshold
	// after which a processing guide record is considered abandoned.
	CanonicalPoll         time.Duration `yaml:"canonical_poll"`
	CanonicalPollAttempts int           `yaml:"canonical_poll_attempts"`
	CanonicalStale        time.Duration `yaml:"canonical_stale"`

	// SourceRevalidation is the age after which a ready alignment's source
	// hashes are re-checked against the provider.
	SourceRevalidation time.Duration `yaml:"source_revalidation"`
}

// DefaultLLM returns the default model tiers and timeouts.
func DefaultLLM() LLMConfig {
	return LLMConfig{
		PrimaryModel:   "gemini-2.5-pro",
		CostModel:      "gemini-2.5-flash",
		FallbackModel:  "gemini-2.5-flash-lite",
		UseBatch:       false,
		BatchThreshold: 5,
		Timeouts: TimeoutConfig{
			Explanation:           120 * time.Second,
			ExplanationRepair:     90 * time.Second,
			Summary:               120 * time.Second,
			SummaryRepair:         45 * time.Second,
			AlignmentWait:         180 * time.Second,
			AlignmentPoll:         2 * time.Second,
			AlignmentLockTTL:      5 * time.Minute,
			CanonicalPoll:         1500 * time.Millisecond,
			CanonicalPollAttempts: 20,
			CanonicalStale:        10 * time.Minute,
			SourceRevalidation:    12 * time.Hour,
		},
	}
}
