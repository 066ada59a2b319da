package state

import (
	"fmt"
	"sort"

	"vaultchain/crypto"
	"vaultchain/native/loan"
)

// RLP has no signed integers or maps. Amounts are stored as uint64 and
// balance maps as token ordered slices.

type amountEntry struct {
	Token  string
	Amount uint64
}

type interestEntry struct {
	Token    string
	Height   uint64
	PerBlock uint64
	ToHeight uint64
}

type batchRecord struct {
	Index              uint32
	Collateral         []amountEntry
	Loans              []amountEntry
	Penalty            []amountEntry
	AuctionStartHeight uint64
}

type vaultRecord struct {
	ID                 string
	OwnerPrefix        string
	Owner              []byte
	SchemeID           string
	State              uint8
	Collateral         []amountEntry
	Loans              []amountEntry
	Interest           []interestEntry
	CreationHeight     uint64
	LastInterestHeight uint64
	LiquidationHeight  uint64
	LiquidationPenalty uint64
	Batches            []batchRecord
	HeldFee            uint64
}

type schemeRecord struct {
	ID                 string
	MinCollateralRatio uint64
	InterestRate       uint64
	DestructionHeight  uint64
	CreationHeight     uint64
}

func toUint(amount loan.Amount) (uint64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("state: negative amount %s", amount)
	}
	return uint64(amount), nil
}

func fromUint(v uint64) (loan.Amount, error) {
	if v > uint64(loan.MaxAmount) {
		return 0, fmt.Errorf("state: stored amount %d out of range", v)
	}
	return loan.Amount(v), nil
}

func encodeBalances(b loan.Balances) ([]amountEntry, error) {
	tokens := b.Tokens()
	out := make([]amountEntry, 0, len(tokens))
	for _, token := range tokens {
		amount, err := toUint(b[token])
		if err != nil {
			return nil, err
		}
		out = append(out, amountEntry{Token: token, Amount: amount})
	}
	return out, nil
}

func decodeBalances(entries []amountEntry) (loan.Balances, error) {
	out := loan.Balances{}
	for _, e := range entries {
		amount, err := fromUint(e.Amount)
		if err != nil {
			return nil, err
		}
		if amount > 0 {
			out[e.Token] = amount
		}
	}
	return out, nil
}

func encodeScheme(s *loan.LoanScheme) (*schemeRecord, error) {
	rate, err := toUint(s.InterestRate)
	if err != nil {
		return nil, err
	}
	return &schemeRecord{
		ID:                 s.ID,
		MinCollateralRatio: s.MinCollateralRatio,
		InterestRate:       rate,
		DestructionHeight:  s.DestructionHeight,
		CreationHeight:     s.CreationHeight,
	}, nil
}

func (r *schemeRecord) decode() (*loan.LoanScheme, error) {
	rate, err := fromUint(r.InterestRate)
	if err != nil {
		return nil, err
	}
	return &loan.LoanScheme{
		ID:                 r.ID,
		MinCollateralRatio: r.MinCollateralRatio,
		InterestRate:       rate,
		DestructionHeight:  r.DestructionHeight,
		CreationHeight:     r.CreationHeight,
	}, nil
}

func encodeVault(v *loan.Vault) (*vaultRecord, error) {
	rec := &vaultRecord{
		ID:                 v.ID,
		OwnerPrefix:        string(v.Owner.Prefix()),
		Owner:              v.Owner.Bytes(),
		SchemeID:           v.SchemeID,
		State:              uint8(v.State),
		CreationHeight:     v.CreationHeight,
		LastInterestHeight: v.LastInterestHeight,
		LiquidationHeight:  v.LiquidationHeight,
	}
	var err error
	if rec.Collateral, err = encodeBalances(v.Collateral); err != nil {
		return nil, err
	}
	if rec.Loans, err = encodeBalances(v.Loans); err != nil {
		return nil, err
	}
	if rec.LiquidationPenalty, err = toUint(v.LiquidationPenalty); err != nil {
		return nil, err
	}
	if rec.HeldFee, err = toUint(v.HeldFee); err != nil {
		return nil, err
	}
	interestTokens := make([]string, 0, len(v.Interest))
	for token := range v.Interest {
		interestTokens = append(interestTokens, token)
	}
	sort.Strings(interestTokens)
	for _, token := range interestTokens {
		record := v.Interest[token]
		if record == nil {
			continue
		}
		perBlock, err := toUint(record.PerBlock)
		if err != nil {
			return nil, err
		}
		toHeight, err := toUint(record.ToHeight)
		if err != nil {
			return nil, err
		}
		rec.Interest = append(rec.Interest, interestEntry{Token: token, Height: record.Height, PerBlock: perBlock, ToHeight: toHeight})
	}
	for _, batch := range v.Batches {
		br := batchRecord{Index: batch.Index, AuctionStartHeight: batch.AuctionStartHeight}
		if br.Collateral, err = encodeBalances(batch.Collateral); err != nil {
			return nil, err
		}
		if br.Loans, err = encodeBalances(batch.Loans); err != nil {
			return nil, err
		}
		if br.Penalty, err = encodeBalances(batch.Penalty); err != nil {
			return nil, err
		}
		rec.Batches = append(rec.Batches, br)
	}
	return rec, nil
}

func (r *vaultRecord) decode() (*loan.Vault, error) {
	vault := &loan.Vault{
		ID:                 r.ID,
		SchemeID:           r.SchemeID,
		State:              loan.VaultState(r.State),
		Interest:           make(map[string]*loan.InterestRecord, len(r.Interest)),
		CreationHeight:     r.CreationHeight,
		LastInterestHeight: r.LastInterestHeight,
		LiquidationHeight:  r.LiquidationHeight,
	}
	if len(r.Owner) > 0 {
		owner, err := crypto.ParseAddressBytes(crypto.AddressPrefix(r.OwnerPrefix), r.Owner)
		if err != nil {
			return nil, fmt.Errorf("state: vault %s owner: %w", r.ID, err)
		}
		vault.Owner = owner
	}
	var err error
	if vault.Collateral, err = decodeBalances(r.Collateral); err != nil {
		return nil, err
	}
	if vault.Loans, err = decodeBalances(r.Loans); err != nil {
		return nil, err
	}
	if vault.LiquidationPenalty, err = fromUint(r.LiquidationPenalty); err != nil {
		return nil, err
	}
	if vault.HeldFee, err = fromUint(r.HeldFee); err != nil {
		return nil, err
	}
	for _, e := range r.Interest {
		perBlock, err := fromUint(e.PerBlock)
		if err != nil {
			return nil, err
		}
		toHeight, err := fromUint(e.ToHeight)
		if err != nil {
			return nil, err
		}
		vault.Interest[e.Token] = &loan.InterestRecord{Height: e.Height, PerBlock: perBlock, ToHeight: toHeight}
	}
	for _, br := range r.Batches {
		batch := loan.LiquidationBatch{Index: br.Index, AuctionStartHeight: br.AuctionStartHeight}
		if batch.Collateral, err = decodeBalances(br.Collateral); err != nil {
			return nil, err
		}
		if batch.Loans, err = decodeBalances(br.Loans); err != nil {
			return nil, err
		}
		if batch.Penalty, err = decodeBalances(br.Penalty); err != nil {
			return nil, err
		}
		vault.Batches = append(vault.Batches, batch)
	}
	return vault, nil
}
