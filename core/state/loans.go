package state

import (
	"fmt"
	"strings"

	"vaultchain/native/loan"
)

// LoanState adapts the manager to the persistence contract of the loan
// engine.
type LoanState struct {
	m *Manager
}

var _ loan.State = (*LoanState)(nil)

// Loans returns the loan module view of the manager.
func (m *Manager) Loans() *LoanState { return &LoanState{m: m} }

func (s *LoanState) GetScheme(id string) (*loan.LoanScheme, error) {
	rec := new(schemeRecord)
	ok, err := s.m.KVGet(schemeKey(id), rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.decode()
}

func (s *LoanState) PutScheme(scheme *loan.LoanScheme) error {
	if scheme == nil || scheme.ID == "" {
		return fmt.Errorf("loan scheme id required")
	}
	rec, err := encodeScheme(scheme)
	if err != nil {
		return err
	}
	return s.m.KVPut(schemeKey(scheme.ID), rec)
}

// DeleteScheme removes the scheme and clears the default pointer when it
// referenced the scheme.
func (s *LoanState) DeleteScheme(id string) error {
	if err := s.m.KVDelete(schemeKey(id)); err != nil {
		return err
	}
	current, err := s.DefaultSchemeID()
	if err != nil {
		return err
	}
	if current == id {
		return s.m.KVDelete(defaultSchemeKey)
	}
	return nil
}

func (s *LoanState) ListSchemes() ([]*loan.LoanScheme, error) {
	keys, values, err := s.m.scan(schemePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*loan.LoanScheme, 0, len(keys))
	for _, key := range keys {
		rec := new(schemeRecord)
		if err := decodeRLP(values[key], rec); err != nil {
			return nil, fmt.Errorf("loan scheme %s: %w", key, err)
		}
		scheme, err := rec.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, scheme)
	}
	return out, nil
}

func (s *LoanState) DefaultSchemeID() (string, error) {
	var id string
	if _, err := s.m.KVGet(defaultSchemeKey, &id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *LoanState) SetDefaultSchemeID(id string) error {
	if id == "" {
		return s.m.KVDelete(defaultSchemeKey)
	}
	return s.m.KVPut(defaultSchemeKey, id)
}

func (s *LoanState) GetVault(id string) (*loan.Vault, error) {
	rec := new(vaultRecord)
	ok, err := s.m.KVGet(vaultKey(id), rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.decode()
}

// PutVault stores the vault and moves its scheme index entry when the
// scheme changed.
func (s *LoanState) PutVault(vault *loan.Vault) error {
	if vault == nil || vault.ID == "" {
		return fmt.Errorf("vault id required")
	}
	previous, err := s.GetVault(vault.ID)
	if err != nil {
		return err
	}
	rec, err := encodeVault(vault)
	if err != nil {
		return fmt.Errorf("vault %s: %w", vault.ID, err)
	}
	if err := s.m.KVPut(vaultKey(vault.ID), rec); err != nil {
		return err
	}
	if previous != nil && previous.SchemeID != vault.SchemeID {
		if err := s.m.KVDelete(schemeVaultKey(previous.SchemeID, vault.ID)); err != nil {
			return err
		}
	}
	return s.m.KVPut(schemeVaultKey(vault.SchemeID, vault.ID), true)
}

func (s *LoanState) DeleteVault(id string) error {
	previous, err := s.GetVault(id)
	if err != nil {
		return err
	}
	if previous == nil {
		return nil
	}
	if err := s.m.KVDelete(schemeVaultKey(previous.SchemeID, id)); err != nil {
		return err
	}
	return s.m.KVDelete(vaultKey(id))
}

func (s *LoanState) VaultIDs() ([]string, error) {
	keys, err := s.m.KVKeys(vaultPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, strings.TrimPrefix(key, string(vaultPrefix)))
	}
	return out, nil
}

func (s *LoanState) SchemeVaultIDs(schemeID string) ([]string, error) {
	if schemeID == "" {
		return nil, nil
	}
	prefix := schemeVaultIndexPrefix(schemeID)
	keys, err := s.m.KVKeys(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, strings.TrimPrefix(key, string(prefix)))
	}
	return out, nil
}

func (s *LoanState) AddBurnedFee(token string, amount loan.Amount) error {
	if amount <= 0 {
		return nil
	}
	token = normalizeSymbol(token)
	var stored uint64
	if _, err := s.m.KVGet(burnKey(token), &stored); err != nil {
		return err
	}
	current, err := fromUint(stored)
	if err != nil {
		return err
	}
	if current > loan.MaxAmount-amount {
		return fmt.Errorf("burned %s total overflows", token)
	}
	return s.m.KVPut(burnKey(token), uint64(current+amount))
}

func (s *LoanState) BurnedFees() (loan.Balances, error) {
	keys, values, err := s.m.scan(burnPrefix)
	if err != nil {
		return nil, err
	}
	out := loan.Balances{}
	for _, key := range keys {
		var stored uint64
		if err := decodeRLP(values[key], &stored); err != nil {
			return nil, fmt.Errorf("burn record %s: %w", key, err)
		}
		amount, err := fromUint(stored)
		if err != nil {
			return nil, err
		}
		if amount > 0 {
			out[strings.TrimPrefix(key, string(burnPrefix))] = amount
		}
	}
	return out, nil
}
