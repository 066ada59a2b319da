package state

import (
	"fmt"

	"vaultchain/crypto"
	"vaultchain/native/loan"
)

// Balance returns the liquid balance of addr. Missing entries default to zero.
func (m *Manager) Balance(addr crypto.Address, symbol string) (loan.Amount, error) {
	var stored uint64
	ok, err := m.KVGet(balanceKey(addr.Bytes(), normalizeSymbol(symbol)), &stored)
	if err != nil || !ok {
		return 0, err
	}
	return fromUint(stored)
}

// SetBalance overwrites a balance. Zero balances are erased.
func (m *Manager) SetBalance(addr crypto.Address, symbol string, amount loan.Amount) error {
	if addr.IsZero() {
		return fmt.Errorf("address must not be empty")
	}
	if amount < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if meta, err := m.Token(normalized); err != nil {
		return err
	} else if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}
	key := balanceKey(addr.Bytes(), normalized)
	if amount == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, uint64(amount))
}

// Credit adds amount to the balance of addr.
func (m *Manager) Credit(addr crypto.Address, symbol string, amount loan.Amount) error {
	if amount < 0 {
		return fmt.Errorf("negative credit not allowed")
	}
	balance, err := m.Balance(addr, symbol)
	if err != nil {
		return err
	}
	if balance > loan.MaxAmount-amount {
		return fmt.Errorf("balance of %s overflows", normalizeSymbol(symbol))
	}
	return m.SetBalance(addr, symbol, balance+amount)
}

// Debit removes amount from the balance of addr.
func (m *Manager) Debit(addr crypto.Address, symbol string, amount loan.Amount) error {
	if amount < 0 {
		return fmt.Errorf("negative debit not allowed")
	}
	balance, err := m.Balance(addr, symbol)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("insufficient %s balance: %s < %s", normalizeSymbol(symbol), balance, amount)
	}
	return m.SetBalance(addr, symbol, balance-amount)
}

// Mint credits newly created tokens and raises the supply.
func (m *Manager) Mint(addr crypto.Address, symbol string, amount loan.Amount) error {
	if err := m.Credit(addr, symbol, amount); err != nil {
		return err
	}
	_, err := m.AdjustTokenSupply(symbol, amount)
	return err
}

// Burn destroys tokens held by addr and lowers the supply.
func (m *Manager) Burn(addr crypto.Address, symbol string, amount loan.Amount) error {
	if err := m.Debit(addr, symbol, amount); err != nil {
		return err
	}
	_, err := m.AdjustTokenSupply(symbol, -amount)
	return err
}

// TokenSupply returns the persisted total supply for the provided token.
// Missing entries default to zero.
func (m *Manager) TokenSupply(symbol string) (loan.Amount, error) {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return 0, fmt.Errorf("token symbol required")
	}
	var stored uint64
	ok, err := m.KVGet(tokenSupplyKey(normalized), &stored)
	if err != nil || !ok {
		return 0, err
	}
	return fromUint(stored)
}

// AdjustTokenSupply applies delta to the supply and returns the new total.
func (m *Manager) AdjustTokenSupply(symbol string, delta loan.Amount) (loan.Amount, error) {
	total, err := m.TokenSupply(symbol)
	if err != nil {
		return 0, err
	}
	switch {
	case delta > 0 && total > loan.MaxAmount-delta:
		return 0, fmt.Errorf("supply of %s overflows", normalizeSymbol(symbol))
	case total+delta < 0:
		return 0, fmt.Errorf("supply of %s would become negative", normalizeSymbol(symbol))
	}
	total += delta
	if err := m.KVPut(tokenSupplyKey(normalizeSymbol(symbol)), uint64(total)); err != nil {
		return 0, err
	}
	return total, nil
}

// Balances lists the non-zero balances of addr over the registered tokens.
func (m *Manager) Balances(addr crypto.Address) (loan.Balances, error) {
	tokens, err := m.Tokens()
	if err != nil {
		return nil, err
	}
	out := loan.Balances{}
	for _, meta := range tokens {
		balance, err := m.Balance(addr, meta.Symbol)
		if err != nil {
			return nil, err
		}
		if balance > 0 {
			out[meta.Symbol] = balance
		}
	}
	return out, nil
}
