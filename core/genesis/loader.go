package genesis

import (
	"fmt"
	"sort"
	"strings"

	"vaultchain/core/state"
	"vaultchain/core/types"
	"vaultchain/crypto"
	"vaultchain/native/loan"
)

// Apply writes the genesis state into mgr and returns the genesis block
// header. Entries are applied in sorted order so that every node derives the
// same state. The caller commits mgr.
func Apply(spec *GenesisSpec, mgr *state.Manager) (*types.BlockHeader, error) {
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if mgr == nil {
		return nil, fmt.Errorf("state manager must not be nil")
	}

	// 1) Tokens (sorted)
	tokens := append([]TokenSpec(nil), spec.Tokens...)
	sort.Slice(tokens, func(i, j int) bool {
		return loan.NormalizeSymbol(tokens[i].Symbol) < loan.NormalizeSymbol(tokens[j].Symbol)
	})
	for i := range tokens {
		token := &tokens[i]
		meta := &state.TokenMetadata{
			Symbol:      token.Symbol,
			Name:        token.Name,
			Decimals:    token.Decimals,
			Mintable:    token.Mintable,
			PriceFeedID: loan.NormalizeSymbol(token.PriceFeed),
		}
		if token.Collateral != nil {
			factor, _ := parseNonNegative(token.Collateral.Factor)
			meta.Collateral = true
			meta.CollateralFactor = uint64(factor)
		}
		if token.Loan != nil {
			interest, _ := parseNonNegative(token.Loan.Interest)
			meta.Loan = true
			meta.LoanInterest = uint64(interest)
		}
		if err := mgr.RegisterToken(meta); err != nil {
			return nil, fmt.Errorf("register token %q: %w", token.Symbol, err)
		}
	}

	// 2) Allocations (outer: addresses sorted; inner: symbols sorted)
	accounts := make([]string, 0, len(spec.Alloc))
	for account := range spec.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		addr, err := crypto.DecodeAddress(account)
		if err != nil {
			return nil, fmt.Errorf("alloc %q: %w", account, err)
		}
		symbols := make([]string, 0, len(spec.Alloc[account]))
		for symbol := range spec.Alloc[account] {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			amount, err := parseNonNegative(spec.Alloc[account][symbol])
			if err != nil {
				return nil, fmt.Errorf("alloc %q %q: %w", account, symbol, err)
			}
			if amount == 0 {
				continue
			}
			if err := mgr.Mint(addr, symbol, amount); err != nil {
				return nil, fmt.Errorf("alloc %q %q: %w", account, symbol, err)
			}
		}
	}

	// 3) Prices
	feeds := make([]string, 0, len(spec.Prices))
	for feed := range spec.Prices {
		feeds = append(feeds, feed)
	}
	sort.Strings(feeds)
	for _, feed := range feeds {
		price, err := parseNonNegative(spec.Prices[feed])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", feed, err)
		}
		if err := mgr.SetPrice(feed, price, 0, true); err != nil {
			return nil, fmt.Errorf("price %q: %w", feed, err)
		}
	}

	// 4) Loan schemes, first one defaulting unless named
	loans := mgr.Loans()
	for _, scheme := range spec.Schemes {
		rate, err := parseNonNegative(scheme.InterestRate)
		if err != nil {
			return nil, fmt.Errorf("scheme %q: %w", scheme.ID, err)
		}
		if err := loans.PutScheme(&loan.LoanScheme{
			ID:                 strings.TrimSpace(scheme.ID),
			MinCollateralRatio: scheme.MinCollateralRatio,
			InterestRate:       rate,
		}); err != nil {
			return nil, fmt.Errorf("scheme %q: %w", scheme.ID, err)
		}
	}
	defaultID := strings.TrimSpace(spec.DefaultScheme)
	if defaultID == "" && len(spec.Schemes) > 0 {
		defaultID = strings.TrimSpace(spec.Schemes[0].ID)
	}
	if defaultID != "" {
		if err := loans.SetDefaultSchemeID(defaultID); err != nil {
			return nil, fmt.Errorf("default scheme: %w", err)
		}
	}

	header := &types.BlockHeader{
		Height:    0,
		Timestamp: spec.GenesisTimestamp().Unix(),
		PrevHash:  []byte{},
	}
	hash, err := header.Hash()
	if err != nil {
		return nil, err
	}
	if err := mgr.SetHeight(0); err != nil {
		return nil, err
	}
	if err := mgr.SetBlockHash(hash); err != nil {
		return nil, err
	}
	return header, nil
}
