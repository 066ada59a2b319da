package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"vaultchain/native/loan"
)

// LoanConfig holds the loan module parameters. Amounts are decimal strings so
// that the file stays readable, e.g. VaultCreationFee = "1".
type LoanConfig struct {
	PrimaryToken            string          `toml:"PrimaryToken"`
	VaultCreationFee        string          `toml:"VaultCreationFee"`
	CreationFeeBurnPct      uint64          `toml:"CreationFeeBurnPct"`
	BlocksPerYear           uint64          `toml:"BlocksPerYear"`
	LiquidationPenaltyPct   string          `toml:"LiquidationPenaltyPct"`
	MaxBatchCollateralValue string          `toml:"MaxBatchCollateralValue"`
	MaxBatchCount           uint32          `toml:"MaxBatchCount"`
	MaxSchemeIDLength       int             `toml:"MaxSchemeIDLength"`
	MinCollateralRatio      uint64          `toml:"MinCollateralRatio"`
	Pauses                  LoanPauseConfig `toml:"pauses"`
}

// LoanPauseConfig switches off individual vault operations.
type LoanPauseConfig struct {
	CreateVault bool `toml:"CreateVault"`
	Deposit     bool `toml:"Deposit"`
	Withdraw    bool `toml:"Withdraw"`
	TakeLoan    bool `toml:"TakeLoan"`
	Payback     bool `toml:"Payback"`
	Liquidate   bool `toml:"Liquidate"`
}

// DefaultLoanConfig mirrors loan.DefaultParams.
func DefaultLoanConfig() LoanConfig {
	p := loan.DefaultParams()
	return LoanConfig{
		PrimaryToken:            p.PrimaryToken,
		VaultCreationFee:        trimDecimal(p.VaultCreationFee),
		CreationFeeBurnPct:      p.CreationFeeBurnPct,
		BlocksPerYear:           p.BlocksPerYear,
		LiquidationPenaltyPct:   trimDecimal(p.LiquidationPenaltyPct),
		MaxBatchCollateralValue: trimDecimal(p.MaxBatchCollateralValue),
		MaxBatchCount:           p.MaxBatchCount,
		MaxSchemeIDLength:       p.MaxSchemeIDLength,
		MinCollateralRatio:      p.MinCollateralRatio,
	}
}

func trimDecimal(a loan.Amount) string {
	return a.Decimal().String()
}

// Params converts the section into engine parameters. Empty values keep the
// defaults.
func (c LoanConfig) Params() (loan.Params, error) {
	p := loan.DefaultParams()
	if symbol := strings.TrimSpace(c.PrimaryToken); symbol != "" {
		p.PrimaryToken = loan.NormalizeSymbol(symbol)
	}
	var err error
	if p.VaultCreationFee, err = parseDecimal("VaultCreationFee", c.VaultCreationFee, p.VaultCreationFee); err != nil {
		return loan.Params{}, err
	}
	if p.LiquidationPenaltyPct, err = parseDecimal("LiquidationPenaltyPct", c.LiquidationPenaltyPct, p.LiquidationPenaltyPct); err != nil {
		return loan.Params{}, err
	}
	if p.MaxBatchCollateralValue, err = parseDecimal("MaxBatchCollateralValue", c.MaxBatchCollateralValue, p.MaxBatchCollateralValue); err != nil {
		return loan.Params{}, err
	}
	if c.CreationFeeBurnPct != 0 {
		p.CreationFeeBurnPct = c.CreationFeeBurnPct
	}
	if c.BlocksPerYear != 0 {
		p.BlocksPerYear = c.BlocksPerYear
	}
	if c.MaxBatchCount != 0 {
		p.MaxBatchCount = c.MaxBatchCount
	}
	if c.MaxSchemeIDLength != 0 {
		p.MaxSchemeIDLength = c.MaxSchemeIDLength
	}
	if c.MinCollateralRatio != 0 {
		p.MinCollateralRatio = c.MinCollateralRatio
	}
	p.Pauses = loan.ActionPauses{
		CreateVault: c.Pauses.CreateVault,
		Deposit:     c.Pauses.Deposit,
		Withdraw:    c.Pauses.Withdraw,
		TakeLoan:    c.Pauses.TakeLoan,
		Payback:     c.Pauses.Payback,
		Liquidate:   c.Pauses.Liquidate,
	}
	if err := p.Validate(); err != nil {
		return loan.Params{}, err
	}
	return p, nil
}

func parseDecimal(field, raw string, fallback loan.Amount) (loan.Amount, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("loan.%s: invalid decimal %q", field, raw)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("loan.%s: must not be negative", field)
	}
	amount, err := loan.ParseAmount(d.String())
	if err != nil {
		return 0, fmt.Errorf("loan.%s: %w", field, err)
	}
	return amount, nil
}
