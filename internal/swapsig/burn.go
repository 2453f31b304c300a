package swapsig

import "fmt"

// BurnConfig governs the per-participant Sybil-defense burn output built
// into every SwapSig setup transaction: burn amount per participant is
// clamped to [max(min, floor(denom*pct)), max].
type BurnConfig struct {
	// Percentage of the denomination burned per participant, expressed as
	// a fraction (0.001 == 0.1%). Must fall in [0.0005, 0.01].
	Percentage float64
	Min        int64
	Max        int64
	// Address receives no funds; it only tags which burn scheme produced
	// the OP_RETURN output for observability.
	Address string
}

// Validate checks the burn percentage falls within the allowed bound.
func (c BurnConfig) Validate() error {
	if c.Percentage < 0.0005 || c.Percentage > 0.01 {
		return fmt.Errorf("swapsig: burn percentage %.4f outside [0.05%%, 1%%]", c.Percentage)
	}
	if c.Min < 0 || c.Max < c.Min {
		return fmt.Errorf("swapsig: invalid burn min/max %d/%d", c.Min, c.Max)
	}
	return nil
}

// BurnAmount computes the per-participant burn for a given denomination,
// clamped to [max(min, floor(denom*pct)), max].
func BurnAmount(denomination int64, cfg BurnConfig) int64 {
	raw := int64(float64(denomination) * cfg.Percentage)
	if raw < cfg.Min {
		raw = cfg.Min
	}
	if cfg.Max > 0 && raw > cfg.Max {
		raw = cfg.Max
	}
	return raw
}
