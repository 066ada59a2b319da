package loan

import (
	"fmt"
	"strings"
)

// ActionPauses exposes fine-grained switches for pausing individual vault
// flows. The module wide pause is handled through the pause view.
type ActionPauses struct {
	CreateVault bool
	Deposit     bool
	Withdraw    bool
	TakeLoan    bool
	Payback     bool
	Liquidate   bool
}

// Params groups the protocol constants of the loan module.
type Params struct {
	// PrimaryToken is the native collateral token subject to the 50% rule
	// and used to pay the vault creation fee.
	PrimaryToken string
	// VaultCreationFee is charged in PrimaryToken when a vault is created.
	VaultCreationFee Amount
	// CreationFeeBurnPct is the share of the creation fee burned, in
	// percent. The rest is held by the vault and refunded on close.
	CreationFeeBurnPct uint64
	// BlocksPerYear converts yearly interest rates into per-block accrual.
	BlocksPerYear uint64
	// LiquidationPenaltyPct is applied to the loan portion of every batch.
	LiquidationPenaltyPct Amount
	// MaxBatchCollateralValue caps the collateral value of one liquidation
	// batch.
	MaxBatchCollateralValue Amount
	// MaxBatchCount bounds the number of batches a liquidation creates.
	MaxBatchCount uint32
	// MaxSchemeIDLength limits loan scheme identifiers.
	MaxSchemeIDLength int
	// MinCollateralRatio is the lowest ratio a scheme may define.
	MinCollateralRatio uint64
	Pauses             ActionPauses
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		PrimaryToken:            "DFI",
		VaultCreationFee:        COIN,
		CreationFeeBurnPct:      50,
		BlocksPerYear:           1_051_200,
		LiquidationPenaltyPct:   NewAmount(5),
		MaxBatchCollateralValue: NewAmount(10_000),
		MaxBatchCount:           1_000,
		MaxSchemeIDLength:       8,
		MinCollateralRatio:      100,
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if NormalizeSymbol(p.PrimaryToken) == "" {
		return fmt.Errorf("loan params: primary token must be set")
	}
	if p.PrimaryToken != NormalizeSymbol(p.PrimaryToken) {
		return fmt.Errorf("loan params: primary token %q must be upper case", p.PrimaryToken)
	}
	if p.VaultCreationFee < 0 {
		return fmt.Errorf("loan params: vault creation fee must not be negative")
	}
	if p.CreationFeeBurnPct > 100 {
		return fmt.Errorf("loan params: creation fee burn share %d exceeds 100", p.CreationFeeBurnPct)
	}
	if p.BlocksPerYear == 0 {
		return fmt.Errorf("loan params: blocks per year must be positive")
	}
	if p.LiquidationPenaltyPct < 0 || p.LiquidationPenaltyPct > NewAmount(100) {
		return fmt.Errorf("loan params: liquidation penalty %s out of range", p.LiquidationPenaltyPct)
	}
	if p.MaxBatchCollateralValue <= 0 {
		return fmt.Errorf("loan params: max batch collateral value must be positive")
	}
	if p.MaxBatchCount == 0 {
		return fmt.Errorf("loan params: max batch count must be positive")
	}
	if p.MaxSchemeIDLength <= 0 {
		return fmt.Errorf("loan params: max scheme id length must be positive")
	}
	if p.MinCollateralRatio < 100 {
		return fmt.Errorf("loan params: minimum collateral ratio %d below 100", p.MinCollateralRatio)
	}
	return nil
}

func (p Params) validSchemeID(id string) bool {
	return id != "" && len(id) <= p.MaxSchemeIDLength && !strings.ContainsAny(id, " \t\n/")
}
