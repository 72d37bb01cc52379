package config

import "fmt"

// Validate checks the configuration for out-of-range or contradictory values.
// Secrets are intentionally not validated here: commands that need them check
// at startup and print actionable instructions (see cmd package).
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if c.RewriteModelName == "" {
		return fmt.Errorf("%w: rewrite model name is empty", ErrInvalidModelName)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %.2f (must be between 0.0 and 2.0)", ErrInvalidTemperature, c.Temperature)
	}

	if c.SyncBatchWidth < 1 || c.SyncBatchWidth > 32 {
		return fmt.Errorf("%w: %d (must be between 1 and 32)", ErrInvalidBatchWidth, c.SyncBatchWidth)
	}

	// Depth 0 means "crawl only the root folder's direct children".
	if c.SyncMaxDepth < 0 || c.SyncMaxDepth > 16 {
		return fmt.Errorf("%w: %d (must be between 0 and 16)", ErrInvalidMaxDepth, c.SyncMaxDepth)
	}

	return nil
}
