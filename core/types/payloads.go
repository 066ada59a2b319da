package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payloads carry amounts as "amount@TOKEN" strings and addresses in their
// bech32 form. Unknown fields are rejected.

type CreateLoanSchemePayload struct {
	ID                 string `json:"id"`
	MinCollateralRatio uint64 `json:"mincolratio"`
	InterestRate       string `json:"interestrate"`
}

type DestroyLoanSchemePayload struct {
	ID string `json:"id"`
	// ActivateAfterBlock is the destruction height; zero means the next
	// block.
	ActivateAfterBlock uint64 `json:"activateAfterBlock,omitempty"`
}

type SetDefaultSchemePayload struct {
	ID string `json:"id"`
}

type CreateVaultPayload struct {
	OwnerAddress string `json:"ownerAddress"`
	SchemeID     string `json:"loanSchemeId,omitempty"`
}

// UpdateVaultPayload changes the fields that are set.
type UpdateVaultPayload struct {
	VaultID      string  `json:"vaultId"`
	OwnerAddress *string `json:"ownerAddress,omitempty"`
	SchemeID     *string `json:"loanSchemeId,omitempty"`
}

type DepositToVaultPayload struct {
	VaultID string `json:"vaultId"`
	From    string `json:"from"`
	Amount  string `json:"amount"`
}

type WithdrawFromVaultPayload struct {
	VaultID string `json:"vaultId"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

type TakeLoanPayload struct {
	VaultID string   `json:"vaultId"`
	Amounts []string `json:"amounts"`
	To      string   `json:"to,omitempty"`
}

type PaybackLoanPayload struct {
	VaultID string   `json:"vaultId"`
	From    string   `json:"from"`
	Amounts []string `json:"amounts"`
}

type CloseVaultPayload struct {
	VaultID string `json:"vaultId"`
	To      string `json:"to"`
}

// DecodePayload strictly decodes the transaction data into out.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if len(bytes.TrimSpace(tx.Data)) == 0 {
		return fmt.Errorf("%s: empty payload", tx.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(tx.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s: decode payload: %w", tx.Type, err)
	}
	if dec.More() {
		return fmt.Errorf("%s: trailing data after payload", tx.Type)
	}
	return nil
}
