package loan

import (
	"errors"
	"sort"
	"strings"

	"vaultchain/crypto"
)

// DefaultListLimit is used when a listing does not specify a limit.
const DefaultListLimit = 100

// VaultView is a vault as reported to callers, with interest accrued to the
// query height and values priced at that height.
type VaultView struct {
	ID                 string
	Owner              crypto.Address
	SchemeID           string
	State              string
	CollateralAmounts  Balances
	LoanAmounts        Balances
	InterestAmounts    Balances
	CollateralValue    Amount
	LoanValue          Amount
	InterestValue      Amount
	CollateralRatio    uint32
	InformativeRatio   Amount
	CreationHeight     uint64
	LiquidationHeight  uint64
	LiquidationPenalty Amount
	BatchCount         int
	Batches            []LiquidationBatch
}

// VaultSummary is a vault entry returned by ListVaults.
type VaultSummary struct {
	ID       string
	Owner    crypto.Address
	SchemeID string
	State    string
}

// ListFilter restricts ListVaults. Empty fields match everything.
type ListFilter struct {
	Owner    *crypto.Address
	SchemeID string
	State    string
}

// Pagination controls ListVaults. IncludingStart defaults to true without a
// start id and to false with one.
type Pagination struct {
	Start          string
	IncludingStart *bool
	Limit          int
}

// InterestSummary aggregates the interest of every vault of a scheme for
// one loan token.
type InterestSummary struct {
	Token            string
	InterestPerBlock Amount
	TotalInterest    Amount
}

// Estimate is the result of EstimateVault.
type Estimate struct {
	CollateralValue  Amount
	LoanValue        Amount
	InformativeRatio Amount
	CollateralRatio  uint32
	// MinCollateralRatio is the minimum of the scheme the estimate was made
	// against, zero when no scheme is known.
	MinCollateralRatio uint64
	Overflowed         bool
}

// GetVault reports a vault at the current block height.
func (e *Engine) GetVault(id string) (*VaultView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	vault, err := e.loadVault(id)
	if err != nil {
		return nil, err
	}
	return e.viewVault(vault, e.blockHeight)
}

func (e *Engine) viewVault(vault *Vault, height uint64) (*VaultView, error) {
	view := &VaultView{
		ID:                 vault.ID,
		Owner:              vault.Owner,
		SchemeID:           vault.SchemeID,
		State:              vault.State.String(),
		CollateralAmounts:  vault.Collateral.Clone(),
		LoanAmounts:        Balances{},
		InterestAmounts:    Balances{},
		CreationHeight:     vault.CreationHeight,
		LiquidationHeight:  vault.LiquidationHeight,
		LiquidationPenalty: vault.LiquidationPenalty,
		BatchCount:         len(vault.Batches),
	}
	for _, batch := range vault.Batches {
		view.Batches = append(view.Batches, batch.Clone())
	}
	if vault.State == VaultInLiquidation {
		return view, nil
	}
	interest, err := accruedInterest(vault, height)
	if err != nil {
		if !errors.Is(err, ErrOverflowedValuation) {
			return nil, err
		}
		interest = Balances{}
	}
	view.InterestAmounts = interest
	for _, token := range vault.Loans.Tokens() {
		owed, ok := addAmounts(vault.Loans[token], interest.Get(token))
		if !ok {
			owed = MaxAmount
		}
		view.LoanAmounts[token] = owed
	}

	val, err := e.valuate(vault.Collateral, vault.Loans, interest, height)
	if err != nil {
		if errors.Is(err, ErrPriceNotLive) {
			view.State = DisplayStateFrozen
			return view, nil
		}
		return nil, err
	}
	view.CollateralValue = val.CollateralValue
	view.LoanValue = val.LoanValue
	view.InterestValue = val.InterestValue
	view.CollateralRatio = val.Ratio
	view.InformativeRatio = val.InformativeRatio
	if vault.HasLoans() {
		scheme, err := e.state.GetScheme(vault.SchemeID)
		if err != nil {
			return nil, err
		}
		if scheme != nil && shouldLiquidate(val, scheme) {
			view.State = DisplayStateMayLiquidate
		}
	}
	return view, nil
}

// ListVaults returns vaults in ascending id order.
func (e *Engine) ListVaults(filter ListFilter, page Pagination) ([]VaultSummary, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	state := strings.TrimSpace(filter.State)
	if !ValidDisplayState(state) {
		return nil, ErrInvalidFilter.with("Invalid vault state filter: %s", state)
	}
	var (
		ids []string
		err error
	)
	if scheme := strings.TrimSpace(filter.SchemeID); scheme != "" {
		ids, err = e.state.SchemeVaultIDs(scheme)
	} else {
		ids, err = e.state.VaultIDs()
	}
	if err != nil {
		return nil, err
	}

	start := strings.TrimSpace(page.Start)
	including := start == ""
	if page.IncludingStart != nil {
		including = *page.IncludingStart
	}
	if start != "" {
		idx := sort.SearchStrings(ids, start)
		if !including && idx < len(ids) && ids[idx] == start {
			idx++
		}
		ids = ids[idx:]
	}
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	out := make([]VaultSummary, 0, min(limit, len(ids)))
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		vault, err := e.state.GetVault(id)
		if err != nil {
			return nil, err
		}
		if vault == nil || vault.State == VaultClosed {
			continue
		}
		if filter.Owner != nil && !vault.Owner.Equal(*filter.Owner) {
			continue
		}
		// Active vaults report the same derived state as GetVault.
		display := vault.State.String()
		if vault.State == VaultActive {
			view, err := e.viewVault(vault, e.blockHeight)
			if err != nil {
				return nil, err
			}
			display = view.State
		}
		if state != "" && state != display {
			continue
		}
		out = append(out, VaultSummary{ID: vault.ID, Owner: vault.Owner, SchemeID: vault.SchemeID, State: display})
	}
	return out, nil
}

// GetInterest aggregates per token the interest of the vaults of a scheme.
// A scheme without vaults, including a destroyed one, reports nothing. An
// empty token selects every loan token.
func (e *Engine) GetInterest(schemeID, token string) ([]InterestSummary, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	token = NormalizeSymbol(token)
	if token != "" {
		if err := e.requireToken(token); err != nil {
			return nil, err
		}
	}
	ids, err := e.state.SchemeVaultIDs(strings.TrimSpace(schemeID))
	if err != nil {
		return nil, err
	}
	perBlock := Balances{}
	total := Balances{}
	for _, id := range ids {
		vault, err := e.state.GetVault(id)
		if err != nil {
			return nil, err
		}
		if vault == nil || vault.State != VaultActive {
			continue
		}
		for loanToken, record := range vault.Interest {
			if token != "" && loanToken != token {
				continue
			}
			accrued, err := record.Accrued(e.blockHeight)
			if err != nil {
				return nil, err
			}
			if err := perBlock.Add(loanToken, record.PerBlock); err != nil {
				return nil, err
			}
			if err := total.Add(loanToken, accrued); err != nil {
				return nil, err
			}
		}
	}
	out := make([]InterestSummary, 0, len(perBlock))
	for _, loanToken := range mergedTokens(perBlock, total) {
		out = append(out, InterestSummary{
			Token:            loanToken,
			InterestPerBlock: perBlock.Get(loanToken),
			TotalInterest:    total.Get(loanToken),
		})
	}
	return out, nil
}

// EstimateVault values a hypothetical position without touching state.
// Loans are taken as owed amounts including interest. An empty schemeID
// estimates against the default scheme.
func (e *Engine) EstimateVault(collateral, loans []TokenAmount, schemeID string) (*Estimate, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	for _, entry := range collateral {
		if err := validateAmount(entry.Amount); err != nil {
			return nil, err
		}
		if _, err := e.collateralToken(entry.Token); err != nil {
			return nil, err
		}
	}
	for _, entry := range loans {
		if err := validateAmount(entry.Amount); err != nil {
			return nil, err
		}
		if _, err := e.loanToken(entry.Token); err != nil {
			return nil, err
		}
	}
	collateralBalances, err := BalancesFrom(collateral)
	if err != nil {
		return nil, err
	}
	loanBalances, err := BalancesFrom(loans)
	if err != nil {
		return nil, err
	}
	val, err := e.valuate(collateralBalances, loanBalances, Balances{}, e.blockHeight)
	if err != nil {
		return nil, err
	}
	out := &Estimate{
		CollateralValue:  val.CollateralValue,
		LoanValue:        val.LoanValue,
		InformativeRatio: val.InformativeRatio,
		CollateralRatio:  val.Ratio,
		Overflowed:       val.Overflowed(),
	}
	id := strings.TrimSpace(schemeID)
	if id == "" {
		if id, err = e.state.DefaultSchemeID(); err != nil {
			return nil, err
		}
	}
	if id != "" {
		scheme, err := e.loadScheme(id)
		if err != nil {
			return nil, err
		}
		out.MinCollateralRatio = scheme.MinCollateralRatio
	}
	return out, nil
}

// BurnInfo reports the creation fees burned so far.
func (e *Engine) BurnInfo() (Balances, error) {
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.BurnedFees()
}
