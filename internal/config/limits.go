package config

// LimitsConfig bounds pipeline fan-out and output validation.
type LimitsConfig struct {
	// MaxChunksPerSource caps the explanation chunks generated per corpus in
	// one guide request; the tail past the cap is dropped and logged.
	MaxChunksPerSource int `yaml:"max_chunks_per_source"`

	// CancellationCheckInterval is how many chunks a corpus worker processes
	// between polls of the external cancellation flag.
	CancellationCheckInterval int `yaml:"cancellation_check_interval"`

	// HebrewRatioThreshold is the minimum share of Hebrew codepoints a model
	// output must carry to pass validation.
	HebrewRatioThreshold float64 `yaml:"hebrew_ratio_threshold"`
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() LimitsConfig {
	return LimitsConfig{
		MaxChunksPerSource:        15,
		CancellationCheckInterval: 3,
		HebrewRatioThreshold:      0.7,
	}
}
