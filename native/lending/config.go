package lending

import "math/big"

// Params groups the runtime parameters applied by the engine. All rates and
// fees are expressed in basis points.
type Params struct {
	// OwnerFeeBps is the protocol's skim on accrued interest at repayment.
	OwnerFeeBps uint64
	// PenaltyBps is applied to principal to size the liquidation penalty.
	PenaltyBps uint64
	// GracePeriod extends the stated duration before expiry-based liquidation
	// becomes eligible, in seconds.
	GracePeriod int64
	// ValidateCollateral toggles oracle-backed ratio checks at match time.
	ValidateCollateral bool
	// Limits are the risk registry bounds enforced at match time.
	Limits RiskLimits
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	clone.Limits = p.Limits.Clone()
	return clone
}

// Config captures the on-disk configuration for the lending module.
type Config struct {
	OwnerFeeBps             uint64 `toml:"OwnerFeeBps"`
	PenaltyBps              uint64 `toml:"PenaltyBps"`
	GracePeriodSeconds      int64  `toml:"GracePeriodSeconds"`
	ValidateCollateral      bool   `toml:"ValidateCollateral"`
	MinRateBps              uint64 `toml:"MinRateBps"`
	MaxRateBps              uint64 `toml:"MaxRateBps"`
	MaxDurationSeconds      int64  `toml:"MaxDurationSeconds"`
	MaxPrincipalPerAsset    string `toml:"MaxPrincipalPerAsset"`
	MaxPrincipalPerLender   string `toml:"MaxPrincipalPerLender"`
	MaxPrincipalPerBorrower string `toml:"MaxPrincipalPerBorrower"`
	MaxPrincipalGlobal      string `toml:"MaxPrincipalGlobal"`
}

func parseCap(raw string) *big.Int {
	if raw == "" {
		return nil
	}
	cap, ok := new(big.Int).SetString(raw, 10)
	if !ok || cap.Sign() <= 0 {
		return nil
	}
	return cap
}

// Params converts the configuration into engine parameters. Unparseable or
// non-positive caps disable the corresponding dimension.
func (c Config) Params() Params {
	return Params{
		OwnerFeeBps:        c.OwnerFeeBps,
		PenaltyBps:         c.PenaltyBps,
		GracePeriod:        c.GracePeriodSeconds,
		ValidateCollateral: c.ValidateCollateral,
		Limits: RiskLimits{
			MaxPrincipalPerAsset:    parseCap(c.MaxPrincipalPerAsset),
			MaxPrincipalPerLender:   parseCap(c.MaxPrincipalPerLender),
			MaxPrincipalPerBorrower: parseCap(c.MaxPrincipalPerBorrower),
			MaxPrincipalGlobal:      parseCap(c.MaxPrincipalGlobal),
			MaxDuration:             c.MaxDurationSeconds,
			MinRateBps:              c.MinRateBps,
			MaxRateBps:              c.MaxRateBps,
		},
	}
}
