package loan

import "github.com/holiman/uint256"

// ValuationInput is the pure input of Valuate. Loans hold principal and
// Interest the accrued interest per token. Every token with a non-zero
// amount must have a price, and every collateral token a factor.
type ValuationInput struct {
	Collateral   Balances
	Loans        Balances
	Interest     Balances
	Prices       map[string]Amount
	Factors      map[string]Amount
	PrimaryToken string
}

// Valuation is the result of valuing a vault. When a side overflows its
// values are reported as zero and the matching flag is set.
type Valuation struct {
	CollateralValue Amount
	LoanValue       Amount
	InterestValue   Amount
	// PrimaryValue is the collateral value held in the primary token.
	PrimaryValue Amount
	// Ratio is collateral value * 100 / loan value, truncated.
	Ratio uint32
	// InformativeRatio is the ratio with eight decimals, -1 without loans.
	InformativeRatio   Amount
	CollateralOverflow bool
	LoanOverflow       bool
}

// Overflowed reports whether any part of the valuation overflowed.
func (v Valuation) Overflowed() bool {
	return v.CollateralOverflow || v.LoanOverflow
}

// HasLoans reports whether the valuation carries debt.
func (v Valuation) HasLoans() bool {
	return v.LoanValue > 0 || v.LoanOverflow
}

type accumulator struct {
	sum      *uint256.Int
	overflow bool
}

func newAccumulator() *accumulator {
	return &accumulator{sum: new(uint256.Int)}
}

// addProduct adds amount*price/COIN, optionally scaled by factor/COIN.
func (a *accumulator) addProduct(amount, price Amount, factor *Amount) {
	if a.overflow {
		return
	}
	if amount < 0 || price < 0 {
		a.overflow = true
		return
	}
	value := new(uint256.Int).Mul(uint256.NewInt(uint64(amount)), uint256.NewInt(uint64(price)))
	value.Div(value, uint256.NewInt(uint64(COIN)))
	if factor != nil {
		if *factor < 0 {
			a.overflow = true
			return
		}
		value.Mul(value, uint256.NewInt(uint64(*factor)))
		value.Div(value, uint256.NewInt(uint64(COIN)))
	}
	if value.Gt(maxAmountU256) {
		a.overflow = true
		return
	}
	a.sum.Add(a.sum, value)
	if a.sum.Gt(maxAmountU256) {
		a.overflow = true
	}
}

func (a *accumulator) amount() Amount {
	if a.overflow {
		return 0
	}
	return Amount(a.sum.Uint64())
}

// Valuate computes the collateral and loan values of a position. It never
// fails: missing prices value a token at zero, overflow is flagged.
func Valuate(in ValuationInput) Valuation {
	collateral := newAccumulator()
	primary := newAccumulator()
	for _, token := range in.Collateral.Tokens() {
		factor := in.Factors[token]
		price := in.Prices[token]
		collateral.addProduct(in.Collateral[token], price, &factor)
		if token == in.PrimaryToken {
			primary.addProduct(in.Collateral[token], price, &factor)
		}
	}

	loans := newAccumulator()
	interest := newAccumulator()
	tokens := mergedTokens(in.Loans, in.Interest)
	for _, token := range tokens {
		price := in.Prices[token]
		owed, ok := addAmounts(in.Loans.Get(token), in.Interest.Get(token))
		if !ok {
			loans.overflow = true
			continue
		}
		loans.addProduct(owed, price, nil)
		interest.addProduct(in.Interest.Get(token), price, nil)
	}

	out := Valuation{
		CollateralValue:    collateral.amount(),
		PrimaryValue:       primary.amount(),
		LoanValue:          loans.amount(),
		InterestValue:      interest.amount(),
		CollateralOverflow: collateral.overflow || primary.overflow,
		LoanOverflow:       loans.overflow || interest.overflow,
	}
	if out.CollateralOverflow {
		out.CollateralValue = 0
		out.PrimaryValue = 0
	}
	if out.LoanOverflow {
		out.LoanValue = 0
		out.InterestValue = 0
	}
	switch {
	case out.Overflowed():
		out.Ratio = 0
		out.InformativeRatio = 0
	case out.LoanValue == 0:
		out.Ratio = UnboundedRatio
		out.InformativeRatio = -COIN
	default:
		out.Ratio = ratio(out.CollateralValue, out.LoanValue)
		out.InformativeRatio = informativeRatio(out.CollateralValue, out.LoanValue)
	}
	return out
}

func ratio(collateral, loan Amount) uint32 {
	value := new(uint256.Int).Mul(uint256.NewInt(uint64(collateral)), uint256.NewInt(100))
	value.Div(value, uint256.NewInt(uint64(loan)))
	if !value.IsUint64() || value.Uint64() >= UnboundedRatio {
		return UnboundedRatio
	}
	return uint32(value.Uint64())
}

func informativeRatio(collateral, loan Amount) Amount {
	value := new(uint256.Int).Mul(uint256.NewInt(uint64(collateral)), uint256.NewInt(100))
	value.Mul(value, uint256.NewInt(uint64(COIN)))
	value.Div(value, uint256.NewInt(uint64(loan)))
	if value.Gt(maxAmountU256) {
		return MaxAmount
	}
	return Amount(value.Uint64())
}

func mergedTokens(sets ...Balances) []string {
	merged := Balances{}
	for _, set := range sets {
		for token, amount := range set {
			if amount != 0 {
				merged[token] = 1
			}
		}
	}
	return merged.Tokens()
}

// MeetsPrimaryShare checks the 50% rule: the primary token must cover at
// least half of the collateral required by minRatio. It returns the current
// and the required primary value.
func MeetsPrimaryShare(val Valuation, minRatio uint64) (bool, Amount, Amount) {
	if !val.HasLoans() {
		return true, val.PrimaryValue, 0
	}
	lhs := new(uint256.Int).Mul(uint256.NewInt(uint64(val.PrimaryValue)), uint256.NewInt(200))
	rhs := new(uint256.Int).Mul(uint256.NewInt(uint64(val.LoanValue)), uint256.NewInt(minRatio))
	required, ok := mulDivCeil(val.LoanValue, Amount(minRatio), 200)
	if !ok || minRatio > uint64(MaxAmount) {
		required = MaxAmount
	}
	return !lhs.Lt(rhs), val.PrimaryValue, required
}

// valuate prices a position at height through the price feed and token
// registry.
func (e *Engine) valuate(collateral, loans, interest Balances, height uint64) (Valuation, error) {
	in := ValuationInput{
		Collateral:   collateral,
		Loans:        loans,
		Interest:     interest,
		Prices:       map[string]Amount{},
		Factors:      map[string]Amount{},
		PrimaryToken: e.params.PrimaryToken,
	}
	for _, token := range collateral.Tokens() {
		info, err := e.tokens.CollateralToken(token)
		if err != nil {
			return Valuation{}, err
		}
		if info == nil {
			return Valuation{}, ErrNotCollateralToken.with("Token %s is not a valid collateral!", token)
		}
		in.Factors[token] = info.Factor
	}
	for _, token := range mergedTokens(collateral, loans, interest) {
		price, live, err := e.prices.PriceOf(token, height)
		if err != nil {
			return Valuation{}, err
		}
		if !live {
			return Valuation{}, ErrPriceNotLive.with("No live fixed prices for %s", token)
		}
		in.Prices[token] = price
	}
	return Valuate(in), nil
}

// vaultValuation values a stored vault including interest accrued up to
// height.
func (e *Engine) vaultValuation(vault *Vault, height uint64) (Valuation, Balances, error) {
	interest, err := accruedInterest(vault, height)
	if err != nil {
		return Valuation{}, nil, err
	}
	val, err := e.valuate(vault.Collateral, vault.Loans, interest, height)
	if err != nil {
		return Valuation{}, nil, err
	}
	return val, interest, nil
}

// checkLoanPolicy enforces the overflow, 50% and ratio rules for a vault
// that holds loans after a withdrawal or a new loan.
func (e *Engine) checkLoanPolicy(val Valuation, scheme *LoanScheme, suffix string) error {
	if val.Overflowed() {
		return ErrOverflowedValuation
	}
	if !val.HasLoans() {
		return nil
	}
	if ok, current, required := MeetsPrimaryShare(val, scheme.MinCollateralRatio); !ok {
		return ErrPrimaryCollateralShare.with("At least 50%% of the minimum required collateral must be in %s%s - %s < %s",
			e.params.PrimaryToken, suffix, current, required)
	}
	if uint64(val.Ratio) < scheme.MinCollateralRatio {
		return ErrInsufficientCollateralization.with("Vault does not have enough collateralization ratio defined by loan scheme - %d < %d",
			val.Ratio, scheme.MinCollateralRatio)
	}
	return nil
}
