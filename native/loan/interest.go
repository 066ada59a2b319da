package loan

// perBlockInterest converts a yearly percentage rate into the interest added
// per block for principal. The result is rounded up so that any non-zero
// loan at a positive rate accrues at least one unit per block.
func perBlockInterest(principal, ratePct Amount, blocksPerYear uint64) (Amount, error) {
	if principal <= 0 || ratePct <= 0 {
		return 0, nil
	}
	// rate is percent with eight decimals: divide by COIN and by 100.
	divisor, ok := mulDiv(COIN, Amount(100), 1)
	if !ok {
		return 0, ErrOverflowedValuation
	}
	divisor, ok = mulDiv(divisor, Amount(blocksPerYear), 1)
	if !ok {
		return 0, ErrOverflowedValuation
	}
	perBlock, ok := mulDivCeil(principal, ratePct, divisor)
	if !ok {
		return 0, ErrOverflowedValuation
	}
	return perBlock, nil
}

// Accrued returns the unpaid interest at height.
func (r *InterestRecord) Accrued(height uint64) (Amount, error) {
	if r == nil {
		return 0, nil
	}
	if height <= r.Height || r.PerBlock == 0 {
		return r.ToHeight, nil
	}
	elapsed := height - r.Height
	if elapsed > uint64(MaxAmount) {
		return 0, ErrOverflowedValuation
	}
	accrued, ok := mulDiv(r.PerBlock, Amount(elapsed), 1)
	if !ok {
		return 0, ErrOverflowedValuation
	}
	total, ok := addAmounts(r.ToHeight, accrued)
	if !ok {
		return 0, ErrOverflowedValuation
	}
	return total, nil
}

// interestRate is the combined yearly rate of a scheme and a loan token.
func (e *Engine) interestRate(scheme *LoanScheme, token string) (Amount, error) {
	loanToken, err := e.tokens.LoanToken(token)
	if err != nil {
		return 0, err
	}
	rate := scheme.InterestRate
	if loanToken != nil {
		sum, ok := addAmounts(rate, loanToken.Interest)
		if !ok {
			return 0, ErrOverflowedValuation
		}
		rate = sum
	}
	return rate, nil
}

// accruedInterest returns the unpaid interest of every loan token at height.
func accruedInterest(vault *Vault, height uint64) (Balances, error) {
	out := Balances{}
	for _, token := range vault.Loans.Tokens() {
		accrued, err := vault.Interest[token].Accrued(height)
		if err != nil {
			return nil, err
		}
		if err := out.Add(token, accrued); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// checkpointInterest captures the interest accrued so far and re-derives the
// per-block amount from the current principal. It must run whenever the
// principal of token changes.
func (e *Engine) checkpointInterest(vault *Vault, scheme *LoanScheme, token string, height uint64) error {
	record := vault.Interest[token]
	accrued, err := record.Accrued(height)
	if err != nil {
		return err
	}
	principal := vault.Loans.Get(token)
	if principal == 0 && accrued == 0 {
		delete(vault.Interest, token)
		return nil
	}
	rate, err := e.interestRate(scheme, token)
	if err != nil {
		return err
	}
	perBlock, err := perBlockInterest(principal, rate, e.params.BlocksPerYear)
	if err != nil {
		return err
	}
	vault.Interest[token] = &InterestRecord{Height: height, PerBlock: perBlock, ToHeight: accrued}
	vault.LastInterestHeight = height
	return nil
}

// foldInterest moves all accrued interest into the principal. It runs before
// a vault changes scheme so that the old rate stops applying.
func foldInterest(vault *Vault, height uint64) error {
	for token, record := range vault.Interest {
		accrued, err := record.Accrued(height)
		if err != nil {
			return err
		}
		if err := vault.Loans.Add(token, accrued); err != nil {
			return err
		}
	}
	vault.Interest = map[string]*InterestRecord{}
	vault.LastInterestHeight = height
	return nil
}

// resetInterest starts fresh interest records for every loan under scheme.
func (e *Engine) resetInterest(vault *Vault, scheme *LoanScheme, height uint64) error {
	vault.Interest = map[string]*InterestRecord{}
	for _, token := range vault.Loans.Tokens() {
		if err := e.checkpointInterest(vault, scheme, token, height); err != nil {
			return err
		}
	}
	vault.LastInterestHeight = height
	return nil
}

// migrateScheme folds interest under the current scheme and moves the vault
// onto next.
func (e *Engine) migrateScheme(vault *Vault, next *LoanScheme, height uint64) error {
	if err := foldInterest(vault, height); err != nil {
		return err
	}
	vault.SchemeID = next.ID
	return e.resetInterest(vault, next, height)
}
