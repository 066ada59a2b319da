package loan

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"testing"

	"vaultchain/core/events"
	"vaultchain/core/types"
	"vaultchain/crypto"
)

type mockToken struct {
	factor   *Amount
	interest *Amount
	mintable bool
}

type mockPrice struct {
	price Amount
	live  bool
}

// mockEngineState implements every collaborator of the engine in memory.
// Records are cloned on the way in and out so failed operations cannot leak
// partial writes.
type mockEngineState struct {
	schemes   map[string]*LoanScheme
	defaultID string
	vaults    map[string]*Vault
	burned    Balances
	balances  map[string]Balances
	supply    Balances
	tokens    map[string]mockToken
	prices    map[string]mockPrice
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		schemes:  make(map[string]*LoanScheme),
		vaults:   make(map[string]*Vault),
		burned:   Balances{},
		balances: make(map[string]Balances),
		supply:   Balances{},
		tokens:   make(map[string]mockToken),
		prices:   make(map[string]mockPrice),
	}
}

func (m *mockEngineState) GetScheme(id string) (*LoanScheme, error) {
	return m.schemes[id].Clone(), nil
}

func (m *mockEngineState) PutScheme(scheme *LoanScheme) error {
	m.schemes[scheme.ID] = scheme.Clone()
	return nil
}

func (m *mockEngineState) DeleteScheme(id string) error {
	delete(m.schemes, id)
	if m.defaultID == id {
		m.defaultID = ""
	}
	return nil
}

func (m *mockEngineState) ListSchemes() ([]*LoanScheme, error) {
	ids := make([]string, 0, len(m.schemes))
	for id := range m.schemes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*LoanScheme, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.schemes[id].Clone())
	}
	return out, nil
}

func (m *mockEngineState) DefaultSchemeID() (string, error) { return m.defaultID, nil }

func (m *mockEngineState) SetDefaultSchemeID(id string) error {
	m.defaultID = id
	return nil
}

func (m *mockEngineState) GetVault(id string) (*Vault, error) {
	return m.vaults[id].Clone(), nil
}

func (m *mockEngineState) PutVault(vault *Vault) error {
	m.vaults[vault.ID] = vault.Clone()
	return nil
}

func (m *mockEngineState) DeleteVault(id string) error {
	delete(m.vaults, id)
	return nil
}

func (m *mockEngineState) VaultIDs() ([]string, error) {
	ids := make([]string, 0, len(m.vaults))
	for id := range m.vaults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockEngineState) SchemeVaultIDs(schemeID string) ([]string, error) {
	var ids []string
	for id, vault := range m.vaults {
		if vault.SchemeID == schemeID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockEngineState) AddBurnedFee(token string, amount Amount) error {
	return m.burned.Add(token, amount)
}

func (m *mockEngineState) BurnedFees() (Balances, error) { return m.burned.Clone(), nil }

func (m *mockEngineState) PriceOf(token string, height uint64) (Amount, bool, error) {
	p, ok := m.prices[token]
	if !ok || p.price == 0 {
		return 0, false, nil
	}
	return p.price, p.live, nil
}

func (m *mockEngineState) account(addr crypto.Address) Balances {
	key := string(addr.Bytes())
	if m.balances[key] == nil {
		m.balances[key] = Balances{}
	}
	return m.balances[key]
}

func (m *mockEngineState) Balance(addr crypto.Address, token string) (Amount, error) {
	return m.account(addr).Get(token), nil
}

func (m *mockEngineState) Debit(addr crypto.Address, token string, amount Amount) error {
	return m.account(addr).Sub(token, amount)
}

func (m *mockEngineState) Credit(addr crypto.Address, token string, amount Amount) error {
	return m.account(addr).Add(token, amount)
}

func (m *mockEngineState) Mint(addr crypto.Address, token string, amount Amount) error {
	if err := m.Credit(addr, token, amount); err != nil {
		return err
	}
	return m.supply.Add(token, amount)
}

func (m *mockEngineState) Burn(addr crypto.Address, token string, amount Amount) error {
	if err := m.Debit(addr, token, amount); err != nil {
		return err
	}
	return m.supply.Sub(token, amount)
}

func (m *mockEngineState) TokenExists(symbol string) (bool, error) {
	_, ok := m.tokens[symbol]
	return ok, nil
}

func (m *mockEngineState) CollateralToken(symbol string) (*CollateralToken, error) {
	token, ok := m.tokens[symbol]
	if !ok || token.factor == nil {
		return nil, nil
	}
	return &CollateralToken{Symbol: symbol, Factor: *token.factor}, nil
}

func (m *mockEngineState) LoanToken(symbol string) (*LoanToken, error) {
	token, ok := m.tokens[symbol]
	if !ok || token.interest == nil {
		return nil, nil
	}
	return &LoanToken{Symbol: symbol, Interest: *token.interest, Mintable: token.mintable}, nil
}

// fund hands out tokens the way genesis does: the balance and the supply
// grow together.
func (m *mockEngineState) fund(addr crypto.Address, token string, amount Amount) {
	if err := m.account(addr).Add(token, amount); err != nil {
		panic(err)
	}
	if err := m.supply.Add(token, amount); err != nil {
		panic(err)
	}
}

func (m *mockEngineState) setPrice(token string, price Amount) {
	m.prices[token] = mockPrice{price: price, live: true}
}

type recordingEmitter struct {
	events []*types.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	if rendered, ok := evt.(interface{ Event() *types.Event }); ok {
		r.events = append(r.events, rendered.Event())
	}
}

func (r *recordingEmitter) eventTypes() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Type)
	}
	return out
}

func amountPtr(a Amount) *Amount { return &a }

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.VaultPrefix, raw)
}

func txHash(n int) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("tx-%d", n)))
	return sum[:]
}

func txCtx(height uint64, signer crypto.Address, n int) TxContext {
	return TxContext{Height: height, TxHash: txHash(n), Signer: signer}
}

var (
	testOwner = makeAddress(0x01)
	testOther = makeAddress(0x02)
)

// newTestEngine wires an engine with DFI and BTC as collateral, TSLA as a
// mintable loan token, all priced at 1, and the default scheme MIN150 at 5%.
func newTestEngine(t *testing.T) (*Engine, *mockEngineState) {
	t.Helper()
	return newTestEngineWithParams(t, DefaultParams())
}

func newTestEngineWithParams(t *testing.T, params Params) (*Engine, *mockEngineState) {
	t.Helper()
	state := newMockEngineState()
	state.tokens["DFI"] = mockToken{factor: amountPtr(COIN)}
	state.tokens["BTC"] = mockToken{factor: amountPtr(MustParseAmount("0.8"))}
	state.tokens["TSLA"] = mockToken{interest: amountPtr(0), mintable: true}
	state.tokens["GOLD"] = mockToken{interest: amountPtr(0)}
	state.tokens["USDX"] = mockToken{}
	state.setPrice("DFI", COIN)
	state.setPrice("BTC", COIN)
	state.setPrice("TSLA", COIN)
	state.setPrice("GOLD", COIN)
	state.fund(testOwner, "DFI", NewAmount(100))
	state.fund(testOwner, "BTC", NewAmount(10))

	engine := NewEngine(params)
	engine.SetState(state)
	engine.SetPriceFeed(state)
	engine.SetLedger(state)
	engine.SetTokenRegistry(state)

	if _, err := engine.CreateLoanScheme(txCtx(0, testOwner, 0), "MIN150", 150, NewAmount(5)); err != nil {
		t.Fatalf("create scheme: %v", err)
	}
	if _, err := engine.CreateLoanScheme(txCtx(0, testOwner, 0), "C200", 200, NewAmount(2)); err != nil {
		t.Fatalf("create scheme: %v", err)
	}
	return engine, state
}

// openVault creates a vault for testOwner at height and deposits the given
// collateral.
func openVault(t *testing.T, engine *Engine, height uint64, n int, collateral ...string) *Vault {
	t.Helper()
	vault, err := engine.CreateVault(txCtx(height, testOwner, n), testOwner, "")
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	for _, raw := range collateral {
		amount, err := ParseTokenAmount(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if vault, err = engine.DepositToVault(txCtx(height, testOwner, n), vault.ID, testOwner, amount); err != nil {
			t.Fatalf("deposit %s: %v", raw, err)
		}
	}
	return vault
}

func mustTokenAmounts(t *testing.T, raw ...string) []TokenAmount {
	t.Helper()
	out, err := ParseTokenAmounts(raw)
	if err != nil {
		t.Fatalf("parse amounts: %v", err)
	}
	return out
}
