package genesis

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vaultchain/crypto"
	"vaultchain/native/loan"
)

// GenesisSpec seeds the ledger: tokens with their risk parameters, initial
// balances, oracle prices and loan schemes.
type GenesisSpec struct {
	GenesisTime     string                       `yaml:"genesisTime"`
	Tokens          []TokenSpec                  `yaml:"tokens"`
	Alloc           map[string]map[string]string `yaml:"alloc"` // addr -> token -> amount
	Prices          map[string]string            `yaml:"prices"`
	Schemes         []SchemeSpec                 `yaml:"schemes"`
	DefaultScheme   string                       `yaml:"defaultScheme"`
	SchemeAuthority []string                     `yaml:"schemeAuthority"`

	genesisTimestamp time.Time
	authority        []crypto.Address
}

type TokenSpec struct {
	Symbol     string          `yaml:"symbol"`
	Name       string          `yaml:"name"`
	Decimals   uint8           `yaml:"decimals"`
	Mintable   bool            `yaml:"mintable"`
	PriceFeed  string          `yaml:"priceFeed"`
	Collateral *CollateralSpec `yaml:"collateral"`
	Loan       *LoanSpec       `yaml:"loan"`
}

type CollateralSpec struct {
	Factor string `yaml:"factor"`
}

type LoanSpec struct {
	Interest string `yaml:"interest"`
}

type SchemeSpec struct {
	ID                 string `yaml:"id"`
	MinCollateralRatio uint64 `yaml:"minColRatio"`
	InterestRate       string `yaml:"interestRate"`
}

// LoadGenesisSpec reads and validates a YAML genesis file. Unknown keys are
// rejected.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Authority returns the parsed scheme authority addresses.
func (s *GenesisSpec) Authority() []crypto.Address {
	return append([]crypto.Address(nil), s.authority...)
}

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	tokenSymbols := make(map[string]struct{}, len(s.Tokens))
	for i := range s.Tokens {
		if err := s.Tokens[i].validate(); err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		key := loan.NormalizeSymbol(s.Tokens[i].Symbol)
		if _, exists := tokenSymbols[key]; exists {
			return fmt.Errorf("tokens[%d]: duplicate symbol %q", i, s.Tokens[i].Symbol)
		}
		tokenSymbols[key] = struct{}{}
	}

	accounts := make([]string, 0, len(s.Alloc))
	for account := range s.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		if _, err := crypto.DecodeAddress(account); err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		seen := make(map[string]struct{}, len(s.Alloc[account]))
		for symbol, amount := range s.Alloc[account] {
			symKey := loan.NormalizeSymbol(symbol)
			if _, exists := tokenSymbols[symKey]; !exists {
				return fmt.Errorf("alloc[%q][%q]: undefined token", account, symbol)
			}
			if _, dup := seen[symKey]; dup {
				return fmt.Errorf("alloc[%q]: duplicate token %q", account, symbol)
			}
			seen[symKey] = struct{}{}
			if _, err := parseNonNegative(amount); err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", account, symbol, err)
			}
		}
	}

	for feed, price := range s.Prices {
		if strings.TrimSpace(feed) == "" {
			return fmt.Errorf("prices: feed id must be provided")
		}
		if _, err := parseNonNegative(price); err != nil {
			return fmt.Errorf("prices[%q]: %w", feed, err)
		}
	}

	schemeIDs := make(map[string]struct{}, len(s.Schemes))
	for i, scheme := range s.Schemes {
		id := strings.TrimSpace(scheme.ID)
		if id == "" {
			return fmt.Errorf("schemes[%d]: id must be provided", i)
		}
		if _, dup := schemeIDs[id]; dup {
			return fmt.Errorf("schemes[%d]: duplicate id %q", i, id)
		}
		schemeIDs[id] = struct{}{}
		if scheme.MinCollateralRatio < 100 {
			return fmt.Errorf("schemes[%d]: minColRatio must be at least 100", i)
		}
		if _, err := parseNonNegative(scheme.InterestRate); err != nil {
			return fmt.Errorf("schemes[%d]: interestRate: %w", i, err)
		}
	}
	if def := strings.TrimSpace(s.DefaultScheme); def != "" {
		if _, ok := schemeIDs[def]; !ok {
			return fmt.Errorf("defaultScheme %q is not defined", def)
		}
	}

	s.authority = s.authority[:0]
	for i, raw := range s.SchemeAuthority {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return fmt.Errorf("schemeAuthority[%d]: %w", i, err)
		}
		s.authority = append(s.authority, addr)
	}
	return nil
}

func (t *TokenSpec) validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("symbol must be provided")
	}
	if strings.ContainsAny(t.Symbol, "/@ ") {
		return fmt.Errorf("symbol %q contains reserved characters", t.Symbol)
	}
	if t.Decimals > loan.Decimals {
		return fmt.Errorf("decimals must be %d or fewer", loan.Decimals)
	}
	if t.Collateral != nil {
		factor, err := parseNonNegative(t.Collateral.Factor)
		if err != nil {
			return fmt.Errorf("collateral.factor: %w", err)
		}
		if factor > loan.COIN {
			return fmt.Errorf("collateral.factor must not exceed 1")
		}
	}
	if t.Loan != nil {
		if _, err := parseNonNegative(t.Loan.Interest); err != nil {
			return fmt.Errorf("loan.interest: %w", err)
		}
	}
	return nil
}

func parseNonNegative(value string) (loan.Amount, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	amount, err := loan.ParseAmount(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if amount < 0 {
		return 0, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("genesisTime: %w", err)
	}
	return parsed.UTC(), nil
}
