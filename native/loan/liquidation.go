package loan

import (
	"errors"
	"fmt"
)

// EndBlock scans every active vault with loans in ascending id order and
// moves those below their scheme minimum into liquidation. It runs once per
// block after all transactions. Vaults whose prices are not live are skipped
// because they cannot be valued. A loan side overflow liquidates; a
// collateral side overflow does not, since the collateral then exceeds any
// representable debt. It returns the ids of the liquidated vaults.
func (e *Engine) EndBlock(height uint64) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.params.Pauses.Liquidate {
		return nil, nil
	}
	ids, err := e.state.VaultIDs()
	if err != nil {
		return nil, err
	}
	var liquidated []string
	for _, id := range ids {
		vault, err := e.state.GetVault(id)
		if err != nil {
			return liquidated, err
		}
		if vault == nil || vault.State != VaultActive || !vault.HasLoans() {
			continue
		}
		scheme, err := e.state.GetScheme(vault.SchemeID)
		if err != nil {
			return liquidated, err
		}
		if scheme == nil {
			return liquidated, fmt.Errorf("%w: vault %s scheme %s", errSchemeGone, vault.ID, vault.SchemeID)
		}
		val, interest, err := e.vaultValuation(vault, height)
		if err != nil {
			if errors.Is(err, ErrPriceNotLive) {
				continue
			}
			if errors.Is(err, ErrOverflowedValuation) {
				// Interest itself overflowed: the debt is unrepresentable.
				val = Valuation{LoanOverflow: true}
				interest = Balances{}
			} else {
				return liquidated, err
			}
		}
		if !shouldLiquidate(val, scheme) {
			continue
		}
		if err := e.liquidate(vault, val, interest, height); err != nil {
			return liquidated, fmt.Errorf("liquidate vault %s: %w", vault.ID, err)
		}
		liquidated = append(liquidated, vault.ID)
	}
	return liquidated, nil
}

func shouldLiquidate(val Valuation, scheme *LoanScheme) bool {
	if val.LoanOverflow {
		return true
	}
	if val.CollateralOverflow || !val.HasLoans() {
		return false
	}
	return uint64(val.Ratio) < scheme.MinCollateralRatio
}

// liquidate moves all collateral and debt of the vault into auction
// batches. Each batch covers at most MaxBatchCollateralValue of collateral;
// amounts are split evenly with the remainder in the last batch.
func (e *Engine) liquidate(vault *Vault, val Valuation, interest Balances, height uint64) error {
	owed := vault.Loans.Clone()
	for _, token := range interest.Tokens() {
		if err := owed.Add(token, interest[token]); err != nil {
			// Saturate rather than fail: liquidation cannot be refused.
			owed[token] = MaxAmount
		}
	}
	count := e.batchCount(val)
	batches := make([]LiquidationBatch, count)
	for i := range batches {
		batches[i] = LiquidationBatch{
			Index:              uint32(i),
			Collateral:         Balances{},
			Loans:              Balances{},
			Penalty:            Balances{},
			AuctionStartHeight: height,
		}
	}
	splitInto(batches, vault.Collateral, func(b *LiquidationBatch) Balances { return b.Collateral })
	splitInto(batches, owed, func(b *LiquidationBatch) Balances { return b.Loans })
	for i := range batches {
		for _, token := range batches[i].Loans.Tokens() {
			penalty, ok := mulDivCeil(batches[i].Loans[token], e.params.LiquidationPenaltyPct, NewAmount(100))
			if !ok {
				penalty = MaxAmount
			}
			if penalty > 0 {
				batches[i].Penalty[token] = penalty
			}
		}
	}

	vault.State = VaultInLiquidation
	vault.LiquidationHeight = height
	vault.LiquidationPenalty = e.params.LiquidationPenaltyPct
	vault.Batches = batches
	vault.Collateral = Balances{}
	vault.Loans = Balances{}
	vault.Interest = map[string]*InterestRecord{}
	vault.LastInterestHeight = height
	if err := e.state.PutVault(vault); err != nil {
		return err
	}
	e.emit(NewVaultLiquidatedEvent(vault))
	return nil
}

func (e *Engine) batchCount(val Valuation) int {
	if val.CollateralOverflow || val.CollateralValue <= 0 {
		return 1
	}
	perBatch := e.params.MaxBatchCollateralValue
	count := val.CollateralValue / perBatch
	if val.CollateralValue%perBatch != 0 {
		count++
	}
	if count < 1 {
		count = 1
	}
	if limit := Amount(e.params.MaxBatchCount); limit > 0 && count > limit {
		count = limit
	}
	return int(count)
}

func splitInto(batches []LiquidationBatch, amounts Balances, field func(*LiquidationBatch) Balances) {
	n := Amount(len(batches))
	for _, token := range amounts.Tokens() {
		total := amounts[token]
		share := total / n
		for i := range batches {
			portion := share
			if i == len(batches)-1 {
				portion = total - share*(n-1)
			}
			if portion > 0 {
				field(&batches[i])[token] = portion
			}
		}
	}
}
