package loan

import (
	"encoding/hex"
	"errors"

	"vaultchain/crypto"
)

// CreateVault opens an empty vault for owner under schemeID, or under the
// default scheme when schemeID is empty. The creation fee is taken from the
// owner: part of it is burned and the rest is held until the vault closes.
func (e *Engine) CreateVault(ctx TxContext, owner crypto.Address, schemeID string) (*Vault, error) {
	if err := e.guard(e.params.Pauses.CreateVault); err != nil {
		return nil, err
	}
	if owner.IsZero() {
		return nil, ErrInvalidOwnerAddress
	}
	if ctx.Signer.IsZero() || !ctx.Signer.Equal(owner) {
		return nil, ErrInvalidOwnerAddress.with("Incorrect authorization for %s", owner)
	}
	if len(ctx.TxHash) == 0 {
		return nil, ErrMissingTxHash
	}
	scheme, err := e.assignableScheme(schemeID)
	if err != nil {
		return nil, err
	}
	id := hex.EncodeToString(ctx.TxHash)
	existing, err := e.state.GetVault(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrVaultExists.with("Vault <%s> already exists", id)
	}

	fee := e.params.VaultCreationFee
	var burned, held Amount
	if fee > 0 {
		primary := e.params.PrimaryToken
		if err := e.requireFunds(owner, primary, fee); err != nil {
			return nil, err
		}
		var ok bool
		burned, ok = mulDiv(fee, Amount(e.params.CreationFeeBurnPct), 100)
		if !ok {
			return nil, ErrAmountOutOfRange
		}
		held = fee - burned
		if burned > 0 {
			if err := e.ledger.Burn(owner, primary, burned); err != nil {
				return nil, err
			}
			if err := e.state.AddBurnedFee(primary, burned); err != nil {
				return nil, err
			}
		}
		if held > 0 {
			if err := e.ledger.Debit(owner, primary, held); err != nil {
				return nil, err
			}
		}
	}

	vault := &Vault{
		ID:                 id,
		Owner:              owner,
		SchemeID:           scheme.ID,
		State:              VaultActive,
		Collateral:         Balances{},
		Loans:              Balances{},
		Interest:           map[string]*InterestRecord{},
		CreationHeight:     ctx.Height,
		LastInterestHeight: ctx.Height,
		HeldFee:            held,
	}
	if err := e.state.PutVault(vault); err != nil {
		return nil, err
	}
	e.emit(NewVaultCreatedEvent(vault, burned))
	return vault.Clone(), nil
}

// UpdateVault changes the owner and/or the scheme of a vault. Moving a vault
// with loans onto a scheme requires the current ratio to satisfy the new
// minimum; accrued interest is folded into the principal before the move.
func (e *Engine) UpdateVault(ctx TxContext, id string, opts UpdateVaultOptions) (*Vault, error) {
	if err := e.guard(false); err != nil {
		return nil, err
	}
	if opts.Owner == nil && opts.SchemeID == nil {
		return nil, ErrNoFieldsSet
	}
	vault, err := e.loadMutableVault(id)
	if err != nil {
		return nil, err
	}
	if err := e.requireSigner(ctx, vault.Owner); err != nil {
		return nil, err
	}
	if opts.Owner != nil {
		if opts.Owner.IsZero() {
			return nil, ErrInvalidOwnerAddress
		}
		vault.Owner = *opts.Owner
	}
	if opts.SchemeID != nil && *opts.SchemeID != vault.SchemeID {
		next, err := e.assignableScheme(*opts.SchemeID)
		if err != nil {
			return nil, err
		}
		if vault.HasLoans() {
			val, _, err := e.vaultValuation(vault, ctx.Height)
			if err != nil {
				return nil, err
			}
			if val.Overflowed() {
				return nil, ErrOverflowedValuation
			}
			if uint64(val.Ratio) < next.MinCollateralRatio {
				return nil, ErrInsufficientRatioForScheme.with("Vault does not have enough collateralization ratio defined by loan scheme - %d < %d",
					val.Ratio, next.MinCollateralRatio)
			}
		}
		if err := e.migrateScheme(vault, next, ctx.Height); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutVault(vault); err != nil {
		return nil, err
	}
	e.emit(NewVaultUpdatedEvent(vault))
	return vault.Clone(), nil
}

// DepositToVault moves collateral from the liquid balance of from into the
// vault. Ratio rules are not checked, but a vault with loans refuses deposits
// whose valuation would overflow.
func (e *Engine) DepositToVault(ctx TxContext, id string, from crypto.Address, amount TokenAmount) (*Vault, error) {
	if err := e.guard(e.params.Pauses.Deposit); err != nil {
		return nil, err
	}
	if err := validateAmount(amount.Amount); err != nil {
		return nil, err
	}
	vault, err := e.loadMutableVault(id)
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		return nil, ErrInvalidAddress
	}
	if err := e.requireSigner(ctx, from); err != nil {
		return nil, err
	}
	if _, err := e.collateralToken(amount.Token); err != nil {
		return nil, err
	}
	if err := e.requireFunds(from, amount.Token, amount.Amount); err != nil {
		return nil, err
	}
	if err := vault.Collateral.Add(amount.Token, amount.Amount); err != nil {
		return nil, err
	}
	if vault.HasLoans() {
		val, _, err := e.vaultValuation(vault, ctx.Height)
		switch {
		case err == nil && val.Overflowed():
			return nil, ErrOverflowedValuation
		case err != nil && !errors.Is(err, ErrPriceNotLive):
			return nil, err
		}
	}
	if err := e.ledger.Debit(from, amount.Token, amount.Amount); err != nil {
		return nil, err
	}
	if err := e.state.PutVault(vault); err != nil {
		return nil, err
	}
	e.emit(NewCollateralEvent(EventTypeVaultDeposited, vault, from, amount))
	return vault.Clone(), nil
}

// WithdrawFromVault returns collateral to the liquid balance of to. With
// loans outstanding the remaining position must satisfy the 50% rule and the
// scheme minimum ratio.
func (e *Engine) WithdrawFromVault(ctx TxContext, id string, to crypto.Address, amount TokenAmount) (*Vault, error) {
	if err := e.guard(e.params.Pauses.Withdraw); err != nil {
		return nil, err
	}
	if err := validateAmount(amount.Amount); err != nil {
		return nil, err
	}
	vault, err := e.loadMutableVault(id)
	if err != nil {
		return nil, err
	}
	if err := e.requireSigner(ctx, vault.Owner); err != nil {
		return nil, err
	}
	if to.IsZero() {
		return nil, ErrInvalidAddress
	}
	if err := e.requireToken(amount.Token); err != nil {
		return nil, err
	}
	held := vault.Collateral.Get(amount.Token)
	if amount.Amount > held {
		return nil, ErrInsufficientCollateral.with("Collateral for token %s in vault is insufficient - %s < %s", amount.Token, held, amount.Amount)
	}
	if err := vault.Collateral.Sub(amount.Token, amount.Amount); err != nil {
		return nil, err
	}
	if vault.HasLoans() {
		scheme, err := e.loadScheme(vault.SchemeID)
		if err != nil {
			return nil, err
		}
		val, _, err := e.vaultValuation(vault, ctx.Height)
		if err != nil {
			return nil, err
		}
		if err := e.checkLoanPolicy(val, scheme, ""); err != nil {
			return nil, err
		}
	}
	if err := e.ledger.Credit(to, amount.Token, amount.Amount); err != nil {
		return nil, err
	}
	if err := e.state.PutVault(vault); err != nil {
		return nil, err
	}
	e.emit(NewCollateralEvent(EventTypeVaultWithdrawn, vault, to, amount))
	return vault.Clone(), nil
}

// TakeLoan mints loan tokens against the vault. The position after the loan
// must satisfy the 50% rule and the scheme minimum ratio. The tokens are
// credited to to, or to the owner when to is nil.
func (e *Engine) TakeLoan(ctx TxContext, id string, amounts []TokenAmount, to *crypto.Address) (*Vault, error) {
	if err := e.guard(e.params.Pauses.TakeLoan); err != nil {
		return nil, err
	}
	requested, err := mergeAmounts(amounts)
	if err != nil {
		return nil, err
	}
	for _, token := range requested.Tokens() {
		info, err := e.loanToken(token)
		if err != nil {
			return nil, err
		}
		if !info.Mintable {
			return nil, ErrTokenNotMintable.with("Loan cannot be taken on token %s as it is not mintable", token)
		}
	}
	vault, err := e.loadMutableVault(id)
	if err != nil {
		return nil, err
	}
	if err := e.requireSigner(ctx, vault.Owner); err != nil {
		return nil, err
	}
	recipient := vault.Owner
	if to != nil {
		if to.IsZero() {
			return nil, ErrInvalidAddress
		}
		recipient = *to
	}
	scheme, err := e.loadScheme(vault.SchemeID)
	if err != nil {
		return nil, err
	}
	for _, token := range requested.Tokens() {
		if err := vault.Loans.Add(token, requested[token]); err != nil {
			return nil, err
		}
		if err := e.checkpointInterest(vault, scheme, token, ctx.Height); err != nil {
			return nil, err
		}
	}
	val, _, err := e.vaultValuation(vault, ctx.Height)
	if err != nil {
		return nil, err
	}
	if err := e.checkLoanPolicy(val, scheme, " when taking a loan"); err != nil {
		return nil, err
	}
	for _, token := range requested.Tokens() {
		if err := e.ledger.Mint(recipient, token, requested[token]); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutVault(vault); err != nil {
		return nil, err
	}
	e.emit(NewLoanEvent(EventTypeLoanTaken, vault, recipient, requested))
	return vault.Clone(), nil
}

// PaybackLoan burns loan tokens from the liquid balance of from and reduces
// the debt of the vault, interest first. Paying more than is owed for a
// token is rejected.
func (e *Engine) PaybackLoan(ctx TxContext, id string, from crypto.Address, amounts []TokenAmount) (*Vault, error) {
	if err := e.guard(e.params.Pauses.Payback); err != nil {
		return nil, err
	}
	payments, err := mergeAmounts(amounts)
	if err != nil {
		return nil, err
	}
	vault, err := e.loadMutableVault(id)
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		return nil, ErrInvalidAddress
	}
	if err := e.requireSigner(ctx, from); err != nil {
		return nil, err
	}
	scheme, err := e.loadScheme(vault.SchemeID)
	if err != nil {
		return nil, err
	}
	for _, token := range payments.Tokens() {
		if err := e.requireToken(token); err != nil {
			return nil, err
		}
		paid := payments[token]
		principal := vault.Loans.Get(token)
		if principal == 0 {
			return nil, ErrNoLoanForToken.with("There is no loan on token %s in this vault!", token)
		}
		accrued, err := vault.Interest[token].Accrued(ctx.Height)
		if err != nil {
			return nil, err
		}
		owed, ok := addAmounts(principal, accrued)
		if !ok {
			return nil, ErrOverflowedValuation
		}
		if paid > owed {
			return nil, ErrExceedsOutstandingLoan.with("Payback of %s@%s exceeds outstanding loan - %s > %s", paid, token, paid, owed)
		}
		if err := e.requireFunds(from, token, paid); err != nil {
			return nil, err
		}

		interestPaid := paid
		if interestPaid > accrued {
			interestPaid = accrued
		}
		remainingInterest := accrued - interestPaid
		remainingPrincipal := principal - (paid - interestPaid)
		delete(vault.Loans, token)
		if err := vault.Loans.Add(token, remainingPrincipal); err != nil {
			return nil, err
		}
		vault.Interest[token] = &InterestRecord{Height: ctx.Height, ToHeight: remainingInterest}
		if err := e.checkpointInterest(vault, scheme, token, ctx.Height); err != nil {
			return nil, err
		}
		if err := e.ledger.Burn(from, token, paid); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutVault(vault); err != nil {
		return nil, err
	}
	e.emit(NewLoanEvent(EventTypeLoanRepaid, vault, from, payments))
	return vault.Clone(), nil
}

// CloseVault releases the collateral and the held creation fee to to and
// removes the vault. Vaults with loans or under liquidation cannot close.
func (e *Engine) CloseVault(ctx TxContext, id string, to crypto.Address) (*Vault, error) {
	if err := e.guard(false); err != nil {
		return nil, err
	}
	vault, err := e.loadMutableVault(id)
	if err != nil {
		return nil, err
	}
	if vault.HasLoans() {
		return nil, ErrHasOutstandingLoans.with("Vault <%s> has loans", vault.ID)
	}
	if err := e.requireSigner(ctx, vault.Owner); err != nil {
		return nil, err
	}
	if to.IsZero() {
		return nil, ErrInvalidAddress
	}
	returned := vault.Collateral.Clone()
	if vault.HeldFee > 0 {
		if err := returned.Add(e.params.PrimaryToken, vault.HeldFee); err != nil {
			return nil, err
		}
	}
	for _, token := range returned.Tokens() {
		if err := e.ledger.Credit(to, token, returned[token]); err != nil {
			return nil, err
		}
	}
	vault.State = VaultClosed
	vault.Collateral = Balances{}
	vault.Loans = Balances{}
	vault.Interest = map[string]*InterestRecord{}
	vault.HeldFee = 0
	if err := e.state.DeleteVault(vault.ID); err != nil {
		return nil, err
	}
	e.emit(NewVaultClosedEvent(vault, to, returned))
	return vault.Clone(), nil
}
