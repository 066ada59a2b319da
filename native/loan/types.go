package loan

import (
	"math"
	"strings"

	"vaultchain/crypto"
)

// UnboundedRatio is reported as the collateral ratio of a vault without
// loans.
const UnboundedRatio = math.MaxUint32

// VaultState is the persisted lifecycle state of a vault.
type VaultState uint8

const (
	VaultActive VaultState = iota + 1
	VaultInLiquidation
	VaultClosed
)

// Display-only states derived when a vault is read.
const (
	DisplayStateFrozen       = "frozen"
	DisplayStateMayLiquidate = "mayLiquidate"
)

func (s VaultState) String() string {
	switch s {
	case VaultActive:
		return "active"
	case VaultInLiquidation:
		return "inLiquidation"
	case VaultClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ValidDisplayState reports whether name can be used as a listing filter.
func ValidDisplayState(name string) bool {
	switch strings.TrimSpace(name) {
	case "", "active", "inLiquidation", DisplayStateFrozen, DisplayStateMayLiquidate:
		return true
	default:
		return false
	}
}

// LoanScheme defines the risk and pricing terms a vault borrows under.
type LoanScheme struct {
	ID string
	// MinCollateralRatio is expressed in whole percent, e.g. 150.
	MinCollateralRatio uint64
	// InterestRate is the yearly rate in percent.
	InterestRate Amount
	// DestructionHeight is zero unless the scheme is scheduled for removal.
	DestructionHeight uint64
	CreationHeight    uint64
}

// PendingDestruction reports whether the scheme is scheduled for removal.
func (s *LoanScheme) PendingDestruction() bool {
	return s != nil && s.DestructionHeight != 0
}

func (s *LoanScheme) Clone() *LoanScheme {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// InterestRecord tracks lazily accrued interest for one loan token of a vault.
type InterestRecord struct {
	// Height is the block of the last checkpoint.
	Height uint64
	// PerBlock is the interest added for every block after Height.
	PerBlock Amount
	// ToHeight is the interest accrued up to Height and not yet paid.
	ToHeight Amount
}

// LiquidationBatch is one slice of a liquidated vault offered for auction.
type LiquidationBatch struct {
	Index              uint32
	Collateral         Balances
	Loans              Balances
	Penalty            Balances
	AuctionStartHeight uint64
}

func (b LiquidationBatch) Clone() LiquidationBatch {
	return LiquidationBatch{
		Index:              b.Index,
		Collateral:         b.Collateral.Clone(),
		Loans:              b.Loans.Clone(),
		Penalty:            b.Penalty.Clone(),
		AuctionStartHeight: b.AuctionStartHeight,
	}
}

// Vault is a collateralised debt position.
type Vault struct {
	ID       string
	Owner    crypto.Address
	SchemeID string
	State    VaultState
	// Collateral holds the locked collateral per token.
	Collateral Balances
	// Loans holds the outstanding principal per token. Interest is tracked
	// separately in Interest.
	Loans              Balances
	Interest           map[string]*InterestRecord
	CreationHeight     uint64
	LastInterestHeight uint64
	LiquidationHeight  uint64
	LiquidationPenalty Amount
	Batches            []LiquidationBatch
	// HeldFee is the part of the creation fee refunded on close.
	HeldFee Amount
}

// HasLoans reports whether any principal is outstanding.
func (v *Vault) HasLoans() bool {
	return v != nil && !v.Loans.IsEmpty()
}

func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	clone.Collateral = v.Collateral.Clone()
	clone.Loans = v.Loans.Clone()
	clone.Interest = make(map[string]*InterestRecord, len(v.Interest))
	for token, rec := range v.Interest {
		if rec == nil {
			continue
		}
		copied := *rec
		clone.Interest[token] = &copied
	}
	if len(v.Batches) > 0 {
		clone.Batches = make([]LiquidationBatch, len(v.Batches))
		for i, batch := range v.Batches {
			clone.Batches[i] = batch.Clone()
		}
	} else {
		clone.Batches = nil
	}
	return &clone
}

// CollateralToken describes a token accepted as collateral.
type CollateralToken struct {
	Symbol string
	// Factor in [0, 1] scales the market value credited as collateral.
	Factor Amount
}

// LoanToken describes a token that vaults may borrow.
type LoanToken struct {
	Symbol string
	// Interest is added to the scheme rate, in percent per year.
	Interest Amount
	Mintable bool
}

// TxContext carries the transaction metadata handlers authorise against.
type TxContext struct {
	Height uint64
	TxHash []byte
	// Signer is the address recovered from the transaction signature.
	Signer crypto.Address
}

// UpdateVaultOptions lists the fields an update may change. Nil fields are
// left untouched.
type UpdateVaultOptions struct {
	Owner    *crypto.Address
	SchemeID *string
}
