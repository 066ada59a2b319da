package loan

import (
	"vaultchain/core/events"
	"vaultchain/core/types"
	"vaultchain/crypto"
	nativecommon "vaultchain/native/common"
)

const moduleName = "loan"

// ModuleName identifies the loan module in pause configuration.
const ModuleName = moduleName

// State is the persistence contract of the vault ledger and the scheme
// registry. Missing records are reported as nil without an error. Listings
// are returned in ascending id order.
type State interface {
	GetScheme(id string) (*LoanScheme, error)
	PutScheme(scheme *LoanScheme) error
	DeleteScheme(id string) error
	ListSchemes() ([]*LoanScheme, error)
	DefaultSchemeID() (string, error)
	SetDefaultSchemeID(id string) error

	GetVault(id string) (*Vault, error)
	// PutVault stores the vault and keeps the scheme to vault index current.
	PutVault(vault *Vault) error
	DeleteVault(id string) error
	VaultIDs() ([]string, error)
	SchemeVaultIDs(schemeID string) ([]string, error)

	AddBurnedFee(token string, amount Amount) error
	BurnedFees() (Balances, error)
}

// PriceFeed reports the price of a token at a height. A price that is not
// live must not be used for valuation.
type PriceFeed interface {
	PriceOf(token string, height uint64) (price Amount, live bool, err error)
}

// TokenLedger moves liquid balances. Debit and Burn fail when the balance is
// too low.
type TokenLedger interface {
	Balance(addr crypto.Address, token string) (Amount, error)
	Debit(addr crypto.Address, token string, amount Amount) error
	Credit(addr crypto.Address, token string, amount Amount) error
	Mint(addr crypto.Address, token string, amount Amount) error
	Burn(addr crypto.Address, token string, amount Amount) error
}

// TokenRegistry exposes token risk parameters. CollateralToken and LoanToken
// return nil when the token is registered without that role.
type TokenRegistry interface {
	TokenExists(symbol string) (bool, error)
	CollateralToken(symbol string) (*CollateralToken, error)
	LoanToken(symbol string) (*LoanToken, error)
}

// Engine applies the loan module state transitions. Collaborators are wired
// through setters before every block; the engine keeps no state of its own.
type Engine struct {
	state           State
	prices          PriceFeed
	ledger          TokenLedger
	tokens          TokenRegistry
	params          Params
	blockHeight     uint64
	pauses          nativecommon.PauseView
	emitter         events.Emitter
	schemeAuthority []crypto.Address
}

// NewEngine constructs a loan engine with the supplied parameters.
func NewEngine(params Params) *Engine {
	return &Engine{
		params:  params,
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

func (e *Engine) SetPriceFeed(feed PriceFeed) { e.prices = feed }

func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

func (e *Engine) SetTokenRegistry(tokens TokenRegistry) { e.tokens = tokens }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetBlockHeight records the height used by read-only queries.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

// BlockHeight returns the height queries are evaluated at.
func (e *Engine) BlockHeight() uint64 {
	if e == nil {
		return 0
	}
	return e.blockHeight
}

// SetSchemeAuthority restricts scheme administration to the given
// addresses. An empty list leaves scheme administration open.
func (e *Engine) SetSchemeAuthority(addrs []crypto.Address) {
	e.schemeAuthority = append([]crypto.Address(nil), addrs...)
}

// Params returns a copy of the engine parameters.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Wrap(event))
}

func (e *Engine) ready() error {
	switch {
	case e.state == nil:
		return errNilState
	case e.prices == nil:
		return errNilPrices
	case e.ledger == nil:
		return errNilLedger
	case e.tokens == nil:
		return errNilTokens
	}
	return nil
}

// guard runs the readiness and pause checks shared by every mutating
// handler.
func (e *Engine) guard(actionPaused bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return ErrModulePaused
	}
	if actionPaused {
		return ErrModulePaused
	}
	return nil
}

func (e *Engine) authorizeScheme(signer crypto.Address) error {
	if len(e.schemeAuthority) == 0 {
		return nil
	}
	for _, addr := range e.schemeAuthority {
		if addr.Equal(signer) {
			return nil
		}
	}
	return ErrUnauthorized.with("Incorrect authorization for %s", signer)
}

func (e *Engine) requireSigner(ctx TxContext, addr crypto.Address) error {
	if ctx.Signer.IsZero() || !ctx.Signer.Equal(addr) {
		return ErrUnauthorized.with("Incorrect authorization for %s", addr)
	}
	return nil
}

func (e *Engine) loadVault(id string) (*Vault, error) {
	vault, err := e.state.GetVault(id)
	if err != nil {
		return nil, err
	}
	if vault == nil || vault.State == VaultClosed {
		return nil, ErrVaultNotFound.with("Vault <%s> not found", id)
	}
	if vault.Collateral == nil {
		vault.Collateral = Balances{}
	}
	if vault.Loans == nil {
		vault.Loans = Balances{}
	}
	if vault.Interest == nil {
		vault.Interest = map[string]*InterestRecord{}
	}
	return vault, nil
}

// loadMutableVault loads a vault that user operations may change.
func (e *Engine) loadMutableVault(id string) (*Vault, error) {
	vault, err := e.loadVault(id)
	if err != nil {
		return nil, err
	}
	if vault.State == VaultInLiquidation {
		return nil, ErrVaultInLiquidation
	}
	return vault, nil
}

func (e *Engine) loadScheme(id string) (*LoanScheme, error) {
	scheme, err := e.state.GetScheme(id)
	if err != nil {
		return nil, err
	}
	if scheme == nil {
		return nil, ErrSchemeNotFound.with("Cannot find existing loan scheme with id %s", id)
	}
	return scheme, nil
}

// assignableScheme resolves a scheme a vault may be moved onto. An empty id
// selects the default scheme.
func (e *Engine) assignableScheme(id string) (*LoanScheme, error) {
	if id == "" {
		defaultID, err := e.state.DefaultSchemeID()
		if err != nil {
			return nil, err
		}
		if defaultID == "" {
			return nil, ErrNoDefaultScheme
		}
		id = defaultID
	}
	scheme, err := e.loadScheme(id)
	if err != nil {
		return nil, err
	}
	if scheme.PendingDestruction() {
		return nil, ErrSchemePendingDestruction.with("Cannot set %s as loan scheme, set to be destroyed on block %d", scheme.ID, scheme.DestructionHeight)
	}
	return scheme, nil
}

func validateAmount(amount Amount) error {
	if amount < 0 {
		return ErrAmountOutOfRange
	}
	if amount == 0 {
		return ErrAmountTooSmall
	}
	return nil
}

// mergeAmounts validates each entry and sums duplicates per token.
func mergeAmounts(amounts []TokenAmount) (Balances, error) {
	if len(amounts) == 0 {
		return nil, ErrNoAmounts
	}
	for _, entry := range amounts {
		if err := validateAmount(entry.Amount); err != nil {
			return nil, err
		}
	}
	return BalancesFrom(amounts)
}

func (e *Engine) requireToken(symbol string) error {
	exists, err := e.tokens.TokenExists(symbol)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownToken.with("Invalid token: %s", symbol)
	}
	return nil
}

func (e *Engine) collateralToken(symbol string) (*CollateralToken, error) {
	if err := e.requireToken(symbol); err != nil {
		return nil, err
	}
	token, err := e.tokens.CollateralToken(symbol)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrNotCollateralToken.with("Token %s is not a valid collateral!", symbol)
	}
	return token, nil
}

func (e *Engine) loanToken(symbol string) (*LoanToken, error) {
	if err := e.requireToken(symbol); err != nil {
		return nil, err
	}
	token, err := e.tokens.LoanToken(symbol)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrNotLoanToken.with("Token %s is not a loan token!", symbol)
	}
	return token, nil
}

func (e *Engine) requireFunds(addr crypto.Address, token string, amount Amount) error {
	balance, err := e.ledger.Balance(addr, token)
	if err != nil {
		return err
	}
	if balance < amount {
		return ErrInsufficientFunds.with("Insufficient funds: %s@%s < %s@%s", balance, token, amount, token)
	}
	return nil
}
