package loan

import (
	"strconv"
	"strings"

	"vaultchain/core/types"
	"vaultchain/crypto"
)

const (
	EventTypeSchemeCreated          = "loan.scheme.created"
	EventTypeSchemeDestroyScheduled = "loan.scheme.destroy_scheduled"
	EventTypeSchemeDestroyed        = "loan.scheme.destroyed"
	EventTypeSchemeDefault          = "loan.scheme.default_set"
	EventTypeVaultCreated           = "loan.vault.created"
	EventTypeVaultUpdated           = "loan.vault.updated"
	EventTypeVaultDeposited         = "loan.vault.deposited"
	EventTypeVaultWithdrawn         = "loan.vault.withdrawn"
	EventTypeLoanTaken              = "loan.vault.loan_taken"
	EventTypeLoanRepaid             = "loan.vault.loan_repaid"
	EventTypeVaultClosed            = "loan.vault.closed"
	EventTypeVaultMigrated          = "loan.vault.scheme_migrated"
	EventTypeVaultLiquidated        = "loan.vault.liquidated"
)

func newSchemeEvent(eventType string, s *LoanScheme) *types.Event {
	evt := types.NewEvent(eventType)
	if s == nil {
		return evt
	}
	evt.Attributes["id"] = s.ID
	evt.Attributes["minColRatio"] = strconv.FormatUint(s.MinCollateralRatio, 10)
	evt.Attributes["interestRate"] = s.InterestRate.String()
	if s.DestructionHeight != 0 {
		evt.Attributes["destructionHeight"] = strconv.FormatUint(s.DestructionHeight, 10)
	}
	return evt
}

// NewSchemeCreatedEvent returns the payload for a newly registered scheme.
func NewSchemeCreatedEvent(s *LoanScheme) *types.Event {
	return newSchemeEvent(EventTypeSchemeCreated, s)
}

// NewSchemeDestroyScheduledEvent is emitted when a scheme gets a destruction
// height.
func NewSchemeDestroyScheduledEvent(s *LoanScheme) *types.Event {
	return newSchemeEvent(EventTypeSchemeDestroyScheduled, s)
}

func NewSchemeDestroyedEvent(s *LoanScheme, height uint64) *types.Event {
	evt := newSchemeEvent(EventTypeSchemeDestroyed, s)
	evt.Attributes["height"] = strconv.FormatUint(height, 10)
	return evt
}

func NewDefaultSchemeEvent(s *LoanScheme) *types.Event {
	return newSchemeEvent(EventTypeSchemeDefault, s)
}

func newVaultEvent(eventType string, v *Vault) *types.Event {
	evt := types.NewEvent(eventType)
	if v == nil {
		return evt
	}
	evt.Attributes["vaultId"] = v.ID
	evt.Attributes["owner"] = v.Owner.String()
	evt.Attributes["schemeId"] = v.SchemeID
	evt.Attributes["state"] = v.State.String()
	return evt
}

// NewVaultCreatedEvent records a new vault and the part of the creation fee
// that was burned.
func NewVaultCreatedEvent(v *Vault, burned Amount) *types.Event {
	evt := newVaultEvent(EventTypeVaultCreated, v)
	evt.Attributes["feeBurned"] = burned.String()
	if v != nil {
		evt.Attributes["feeHeld"] = v.HeldFee.String()
	}
	return evt
}

func NewVaultUpdatedEvent(v *Vault) *types.Event {
	return newVaultEvent(EventTypeVaultUpdated, v)
}

// NewCollateralEvent covers deposits and withdrawals.
func NewCollateralEvent(eventType string, v *Vault, account crypto.Address, amount TokenAmount) *types.Event {
	evt := newVaultEvent(eventType, v)
	evt.Attributes["account"] = account.String()
	evt.Attributes["amount"] = amount.String()
	return evt
}

// NewLoanEvent covers loans taken and repaid.
func NewLoanEvent(eventType string, v *Vault, account crypto.Address, amounts Balances) *types.Event {
	evt := newVaultEvent(eventType, v)
	evt.Attributes["account"] = account.String()
	evt.Attributes["amounts"] = strings.Join(amounts.Strings(), ",")
	return evt
}

func NewVaultClosedEvent(v *Vault, to crypto.Address, returned Balances) *types.Event {
	evt := newVaultEvent(EventTypeVaultClosed, v)
	evt.Attributes["to"] = to.String()
	evt.Attributes["returned"] = strings.Join(returned.Strings(), ",")
	return evt
}

func NewSchemeMigratedEvent(v *Vault, fromScheme string) *types.Event {
	evt := newVaultEvent(EventTypeVaultMigrated, v)
	evt.Attributes["fromSchemeId"] = fromScheme
	return evt
}

// NewVaultLiquidatedEvent records a vault entering liquidation.
func NewVaultLiquidatedEvent(v *Vault) *types.Event {
	evt := newVaultEvent(EventTypeVaultLiquidated, v)
	if v == nil {
		return evt
	}
	evt.Attributes["liquidationHeight"] = strconv.FormatUint(v.LiquidationHeight, 10)
	evt.Attributes["liquidationPenalty"] = v.LiquidationPenalty.String()
	evt.Attributes["batchCount"] = strconv.Itoa(len(v.Batches))
	return evt
}
