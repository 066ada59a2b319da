package loan

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an operation was rejected.
type ErrorKind uint8

const (
	// KindValidation marks malformed input rejected before any lookup.
	KindValidation ErrorKind = iota + 1
	// KindState marks operations that do not fit the current ledger state.
	KindState
	// KindPolicy marks risk rule violations. Messages carry the current and
	// required values.
	KindPolicy
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindPolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// Error is returned for every rejected loan operation. Two errors match under
// errors.Is when their codes are equal, so detailed messages can be compared
// against the package sentinels.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func (e *Error) with(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// IsRejection reports whether err is a deterministic rejection rather than a
// node fault.
func IsRejection(err error) bool {
	var loanErr *Error
	return errors.As(err, &loanErr)
}

var (
	ErrAmountOutOfRange    = newError(KindValidation, "amount_out_of_range", "Amount out of range")
	ErrAmountTooSmall      = newError(KindValidation, "amount_too_small", "Invalid amount")
	ErrInvalidAmountFormat = newError(KindValidation, "invalid_amount_format", "Invalid amount")
	ErrUnknownToken        = newError(KindValidation, "unknown_token", "Invalid token")
	ErrNotCollateralToken  = newError(KindValidation, "not_collateral_token", "Token is not a valid collateral")
	ErrNotLoanToken        = newError(KindValidation, "not_loan_token", "Token is not a loan token")
	ErrTokenNotMintable    = newError(KindValidation, "token_not_mintable", "Loan token is not mintable")
	ErrInvalidOwnerAddress = newError(KindValidation, "invalid_owner_address", "Invalid owner address")
	ErrInvalidAddress      = newError(KindValidation, "invalid_address", "Invalid address")
	ErrNoFieldsSet         = newError(KindValidation, "no_fields_set", "At least ownerAddress OR loanSchemeId must be set")
	ErrNoAmounts           = newError(KindValidation, "no_amounts", "No amounts specified")
	ErrInvalidSchemeID     = newError(KindValidation, "invalid_scheme_id", "Loan scheme id cannot be empty or too long")
	ErrInvalidRatio        = newError(KindValidation, "invalid_ratio", "Minimum collateral ratio cannot be less than 100")
	ErrInvalidInterestRate = newError(KindValidation, "invalid_interest_rate", "Interest rate cannot be less than 0")
	ErrDestructionTooSoon  = newError(KindValidation, "destruction_too_soon", "Destruction height below current height")
	ErrMissingTxHash       = newError(KindValidation, "missing_tx_hash", "Transaction hash required to derive vault id")
	ErrInvalidFilter       = newError(KindValidation, "invalid_filter", "Invalid filter")

	ErrSchemeNotFound           = newError(KindState, "scheme_not_found", "Cannot find existing loan scheme")
	ErrDuplicateID              = newError(KindState, "duplicate_id", "Loan scheme already exists")
	ErrDuplicateScheme          = newError(KindState, "duplicate_scheme", "Loan scheme with same interest rate and minimum collateral ratio already exists")
	ErrSchemePendingDestruction = newError(KindState, "scheme_pending_destruction", "Loan scheme is set to be destroyed")
	ErrAlreadyDefault           = newError(KindState, "already_default", "Loan scheme is already the default")
	ErrDefaultSchemeDestroy     = newError(KindState, "default_scheme_destroy", "Cannot destroy default loan scheme, set new default first")
	ErrNoDefaultScheme          = newError(KindState, "no_default_scheme", "There is no default loan scheme")
	ErrVaultNotFound            = newError(KindState, "vault_not_found", "Vault not found")
	ErrVaultExists              = newError(KindState, "vault_exists", "Vault already exists")
	ErrVaultInLiquidation       = newError(KindState, "vault_in_liquidation", "Vault is under liquidation")
	ErrUnauthorized             = newError(KindState, "unauthorized", "Incorrect authorization")
	ErrHasOutstandingLoans      = newError(KindState, "has_outstanding_loans", "Vault has loans")
	ErrInsufficientFunds        = newError(KindState, "insufficient_funds", "Insufficient funds")
	ErrInsufficientCollateral   = newError(KindState, "insufficient_collateral", "Insufficient collateral")
	ErrNoLoanForToken           = newError(KindState, "no_loan_for_token", "There is no loan on token in this vault")
	ErrModulePaused             = newError(KindState, "module_paused", "Loan module is paused")

	ErrOverflowedValuation           = newError(KindPolicy, "overflowed_valuation", "Value/price too high")
	ErrPriceNotLive                  = newError(KindPolicy, "price_not_live", "No live fixed price")
	ErrPrimaryCollateralShare        = newError(KindPolicy, "primary_collateral_share", "At least 50% of the minimum required collateral must be in the primary token")
	ErrInsufficientCollateralization = newError(KindPolicy, "insufficient_collateralization", "Vault does not have enough collateralization ratio defined by loan scheme")
	ErrInsufficientRatioForScheme    = newError(KindPolicy, "insufficient_ratio_for_scheme", "Vault does not have enough collateralization ratio defined by loan scheme")
	ErrExceedsOutstandingLoan        = newError(KindPolicy, "exceeds_outstanding_loan", "Payback exceeds outstanding loan")
)

var (
	errNilState   = errors.New("loan engine: state not configured")
	errNilPrices  = errors.New("loan engine: price feed not configured")
	errNilLedger  = errors.New("loan engine: token ledger not configured")
	errNilTokens  = errors.New("loan engine: token registry not configured")
	errSchemeGone = errors.New("loan engine: vault references missing scheme")
)
