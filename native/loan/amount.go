package loan

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Amount is a fixed-point quantity with eight fractional digits. Token
// amounts, prices, collateral factors, interest rates and values all share
// this representation.
type Amount int64

const (
	// Decimals is the number of fractional digits carried by an Amount.
	Decimals = 8
	// COIN is one whole unit.
	COIN Amount = 100_000_000
	// MaxAmount is the largest representable amount.
	MaxAmount Amount = math.MaxInt64
)

var maxAmountU256 = uint256.NewInt(uint64(MaxAmount))

// NewAmount converts an integer number of whole units.
func NewAmount(units int64) Amount { return Amount(units) * COIN }

// String renders the amount with exactly eight fractional digits.
func (a Amount) String() string {
	return decimal.New(int64(a), -Decimals).StringFixed(Decimals)
}

// Decimal exposes the amount as an arbitrary precision decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Decimals)
}

// MarshalText encodes the amount as a decimal string.
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText parses a decimal string.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAmount converts a decimal string into an Amount. Negative values are
// returned as-is so callers can report them as out of range; fractions below
// the smallest unit and values above MaxAmount are rejected.
func ParseAmount(raw string) (Amount, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, ErrAmountTooSmall
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmountFormat.with("Invalid amount: %s", trimmed)
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrAmountTooSmall
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(int64(MaxAmount))) {
		return 0, ErrAmountOutOfRange
	}
	return Amount(scaled.IntPart()), nil
}

// MustParseAmount is a helper for constants and tests.
func MustParseAmount(raw string) Amount {
	a, err := ParseAmount(raw)
	if err != nil {
		panic(fmt.Sprintf("loan: invalid amount %q: %v", raw, err))
	}
	return a
}

// TokenAmount pairs an amount with its token symbol.
type TokenAmount struct {
	Token  string
	Amount Amount
}

func (t TokenAmount) String() string {
	return t.Amount.String() + "@" + t.Token
}

// ParseTokenAmount parses the "amount@SYMBOL" notation.
func ParseTokenAmount(raw string) (TokenAmount, error) {
	amountPart, symbol, ok := strings.Cut(strings.TrimSpace(raw), "@")
	symbol = NormalizeSymbol(symbol)
	if !ok || symbol == "" {
		return TokenAmount{}, ErrInvalidAmountFormat.with("Invalid amount: %q, expected amount@token", raw)
	}
	amount, err := ParseAmount(amountPart)
	if err != nil {
		return TokenAmount{}, err
	}
	return TokenAmount{Token: symbol, Amount: amount}, nil
}

// ParseTokenAmounts parses a list of "amount@SYMBOL" strings.
func ParseTokenAmounts(raw []string) ([]TokenAmount, error) {
	out := make([]TokenAmount, 0, len(raw))
	for _, entry := range raw {
		parsed, err := ParseTokenAmount(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

// NormalizeSymbol canonicalises token symbols.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// mulDiv computes a*b/div using 256-bit intermediates. The boolean is false
// when the result does not fit into an Amount.
func mulDiv(a, b, div Amount) (Amount, bool) {
	if a < 0 || b < 0 || div <= 0 {
		return 0, false
	}
	product := new(uint256.Int).Mul(uint256.NewInt(uint64(a)), uint256.NewInt(uint64(b)))
	product.Div(product, uint256.NewInt(uint64(div)))
	return fromU256(product)
}

// mulDivCeil is mulDiv rounding up.
func mulDivCeil(a, b, div Amount) (Amount, bool) {
	if a < 0 || b < 0 || div <= 0 {
		return 0, false
	}
	product := new(uint256.Int).Mul(uint256.NewInt(uint64(a)), uint256.NewInt(uint64(b)))
	divisor := uint256.NewInt(uint64(div))
	quo, rem := new(uint256.Int), new(uint256.Int)
	quo.DivMod(product, divisor, rem)
	if !rem.IsZero() {
		quo.AddUint64(quo, 1)
	}
	return fromU256(quo)
}

func fromU256(v *uint256.Int) (Amount, bool) {
	if v.Gt(maxAmountU256) {
		return 0, false
	}
	return Amount(v.Uint64()), true
}

func addAmounts(a, b Amount) (Amount, bool) {
	if b > 0 && a > MaxAmount-b {
		return 0, false
	}
	return a + b, true
}

// Balances maps token symbols to non-negative amounts. Zero entries are
// never stored.
type Balances map[string]Amount

// Get returns the balance of token.
func (b Balances) Get(token string) Amount {
	if b == nil {
		return 0
	}
	return b[token]
}

// Add credits amount to token.
func (b Balances) Add(token string, amount Amount) error {
	if amount < 0 {
		return ErrAmountOutOfRange
	}
	if amount == 0 {
		return nil
	}
	sum, ok := addAmounts(b[token], amount)
	if !ok {
		return ErrAmountOutOfRange
	}
	b[token] = sum
	return nil
}

// Sub debits amount from token, erasing the entry when it reaches zero.
func (b Balances) Sub(token string, amount Amount) error {
	if amount < 0 {
		return ErrAmountOutOfRange
	}
	current := b.Get(token)
	if amount > current {
		return ErrInsufficientCollateral.with("Not enough %s: %s < %s", token, current, amount)
	}
	if amount == current {
		delete(b, token)
		return nil
	}
	b[token] = current - amount
	return nil
}

// Tokens returns the held symbols in ascending order.
func (b Balances) Tokens() []string {
	out := make([]string, 0, len(b))
	for token, amount := range b {
		if amount != 0 {
			out = append(out, token)
		}
	}
	sort.Strings(out)
	return out
}

// IsEmpty reports whether no token has a non-zero balance.
func (b Balances) IsEmpty() bool {
	for _, amount := range b {
		if amount != 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for token, amount := range b {
		if amount != 0 {
			out[token] = amount
		}
	}
	return out
}

// List returns the balances as ordered token amounts.
func (b Balances) List() []TokenAmount {
	tokens := b.Tokens()
	out := make([]TokenAmount, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, TokenAmount{Token: token, Amount: b[token]})
	}
	return out
}

// Strings renders the balances as "amount@SYMBOL" entries ordered by symbol.
func (b Balances) Strings() []string {
	list := b.List()
	out := make([]string, 0, len(list))
	for _, entry := range list {
		out = append(out, entry.String())
	}
	return out
}

// BalancesFrom sums a list of token amounts.
func BalancesFrom(amounts []TokenAmount) (Balances, error) {
	out := make(Balances, len(amounts))
	for _, entry := range amounts {
		if err := out.Add(entry.Token, entry.Amount); err != nil {
			return nil, err
		}
	}
	return out, nil
}
