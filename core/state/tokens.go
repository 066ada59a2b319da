package state

import (
	"fmt"
	"strings"

	"vaultchain/native/loan"
)

// TokenMetadata describes a registered token together with its risk
// parameters. A token acts as collateral and/or loan token when the matching
// flag is set.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
	Mintable bool

	Collateral       bool
	CollateralFactor uint64
	Loan             bool
	LoanInterest     uint64
	PriceFeedID      string
}

// RegisterToken stores or replaces the metadata of a token.
func (m *Manager) RegisterToken(meta *TokenMetadata) error {
	if meta == nil {
		return fmt.Errorf("token metadata required")
	}
	symbol := normalizeSymbol(meta.Symbol)
	if symbol == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.ContainsAny(symbol, "/@ ") {
		return fmt.Errorf("token symbol %q contains reserved characters", symbol)
	}
	if meta.Collateral && meta.CollateralFactor > uint64(loan.COIN) {
		return fmt.Errorf("token %s: collateral factor above 1", symbol)
	}
	if meta.LoanInterest > uint64(loan.MaxAmount) {
		return fmt.Errorf("token %s: loan interest out of range", symbol)
	}
	stored := *meta
	stored.Symbol = symbol
	if strings.TrimSpace(stored.PriceFeedID) == "" {
		stored.PriceFeedID = symbol
	}
	return m.KVPut(tokenMetadataKey(symbol), &stored)
}

// Token returns the metadata of a token, or nil when it is not registered.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetadataKey(normalizeSymbol(symbol)), meta)
	if err != nil || !ok {
		return nil, err
	}
	return meta, nil
}

// Tokens lists every registered token ordered by symbol.
func (m *Manager) Tokens() ([]*TokenMetadata, error) {
	keys, values, err := m.scan(tokenPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*TokenMetadata, 0, len(keys))
	for _, key := range keys {
		meta := new(TokenMetadata)
		if err := decodeRLP(values[key], meta); err != nil {
			return nil, fmt.Errorf("token %s: %w", key, err)
		}
		out = append(out, meta)
	}
	return out, nil
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) (bool, error) {
	meta, err := m.Token(symbol)
	if err != nil {
		return false, err
	}
	return meta != nil, nil
}

// CollateralToken implements loan.TokenRegistry.
func (m *Manager) CollateralToken(symbol string) (*loan.CollateralToken, error) {
	meta, err := m.Token(symbol)
	if err != nil || meta == nil || !meta.Collateral {
		return nil, err
	}
	return &loan.CollateralToken{Symbol: meta.Symbol, Factor: loan.Amount(meta.CollateralFactor)}, nil
}

// LoanToken implements loan.TokenRegistry.
func (m *Manager) LoanToken(symbol string) (*loan.LoanToken, error) {
	meta, err := m.Token(symbol)
	if err != nil || meta == nil || !meta.Loan {
		return nil, err
	}
	return &loan.LoanToken{Symbol: meta.Symbol, Interest: loan.Amount(meta.LoanInterest), Mintable: meta.Mintable}, nil
}
