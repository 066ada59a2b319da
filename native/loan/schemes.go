package loan

import (
	"fmt"
	"strings"
)

// SchemeView is a registry entry as reported to callers.
type SchemeView struct {
	LoanScheme
	Default bool
}

// CreateLoanScheme registers a new scheme. The first scheme registered
// becomes the default.
func (e *Engine) CreateLoanScheme(ctx TxContext, id string, minRatio uint64, rate Amount) (*LoanScheme, error) {
	if err := e.guard(false); err != nil {
		return nil, err
	}
	if err := e.authorizeScheme(ctx.Signer); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if !e.params.validSchemeID(id) {
		return nil, ErrInvalidSchemeID.with("Loan scheme id cannot be empty or more than %d chars long", e.params.MaxSchemeIDLength)
	}
	if minRatio < e.params.MinCollateralRatio {
		return nil, ErrInvalidRatio.with("Minimum collateral ratio cannot be less than %d", e.params.MinCollateralRatio)
	}
	if rate < 0 {
		return nil, ErrInvalidInterestRate
	}
	existing, err := e.state.GetScheme(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateID.with("Loan scheme already exist with id %s", id)
	}
	schemes, err := e.state.ListSchemes()
	if err != nil {
		return nil, err
	}
	for _, other := range schemes {
		if other.MinCollateralRatio == minRatio && other.InterestRate == rate {
			return nil, ErrDuplicateScheme.with("Loan scheme %s with same interestrate and mincolratio already exists", other.ID)
		}
	}
	scheme := &LoanScheme{
		ID:                 id,
		MinCollateralRatio: minRatio,
		InterestRate:       rate,
		CreationHeight:     ctx.Height,
	}
	if err := e.state.PutScheme(scheme); err != nil {
		return nil, err
	}
	defaultID, err := e.state.DefaultSchemeID()
	if err != nil {
		return nil, err
	}
	if defaultID == "" {
		if err := e.state.SetDefaultSchemeID(id); err != nil {
			return nil, err
		}
	}
	e.emit(NewSchemeCreatedEvent(scheme))
	return scheme.Clone(), nil
}

// DestroyLoanScheme schedules a scheme for removal at effectiveHeight, or at
// the next block when effectiveHeight is zero. The scheme keeps serving its
// vaults until then.
func (e *Engine) DestroyLoanScheme(ctx TxContext, id string, effectiveHeight uint64) (*LoanScheme, error) {
	if err := e.guard(false); err != nil {
		return nil, err
	}
	if err := e.authorizeScheme(ctx.Signer); err != nil {
		return nil, err
	}
	scheme, err := e.loadScheme(strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	defaultID, err := e.state.DefaultSchemeID()
	if err != nil {
		return nil, err
	}
	if defaultID == scheme.ID {
		return nil, ErrDefaultSchemeDestroy
	}
	if scheme.PendingDestruction() {
		return nil, ErrSchemePendingDestruction.with("Loan scheme %s is already set to be destroyed on block %d", scheme.ID, scheme.DestructionHeight)
	}
	if effectiveHeight == 0 {
		effectiveHeight = ctx.Height + 1
	}
	if effectiveHeight <= ctx.Height {
		return nil, ErrDestructionTooSoon.with("Destruction height below current block height, set future height - %d <= %d", effectiveHeight, ctx.Height)
	}
	scheme.DestructionHeight = effectiveHeight
	if err := e.state.PutScheme(scheme); err != nil {
		return nil, err
	}
	e.emit(NewSchemeDestroyScheduledEvent(scheme))
	return scheme.Clone(), nil
}

// SetDefaultLoanScheme selects the scheme used for new vaults and for vaults
// whose scheme is destroyed.
func (e *Engine) SetDefaultLoanScheme(ctx TxContext, id string) error {
	if err := e.guard(false); err != nil {
		return err
	}
	if err := e.authorizeScheme(ctx.Signer); err != nil {
		return err
	}
	scheme, err := e.loadScheme(strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if scheme.PendingDestruction() {
		return ErrSchemePendingDestruction.with("Cannot set %s as default, set to be destroyed on block %d", scheme.ID, scheme.DestructionHeight)
	}
	defaultID, err := e.state.DefaultSchemeID()
	if err != nil {
		return err
	}
	if defaultID == scheme.ID {
		return ErrAlreadyDefault.with("Loan scheme with id %s is already set as default", scheme.ID)
	}
	if err := e.state.SetDefaultSchemeID(scheme.ID); err != nil {
		return err
	}
	e.emit(NewDefaultSchemeEvent(scheme))
	return nil
}

// ListLoanSchemes returns every registered scheme ordered by id.
func (e *Engine) ListLoanSchemes() ([]SchemeView, error) {
	if e.state == nil {
		return nil, errNilState
	}
	schemes, err := e.state.ListSchemes()
	if err != nil {
		return nil, err
	}
	defaultID, err := e.state.DefaultSchemeID()
	if err != nil {
		return nil, err
	}
	out := make([]SchemeView, 0, len(schemes))
	for _, scheme := range schemes {
		out = append(out, SchemeView{LoanScheme: *scheme, Default: scheme.ID == defaultID})
	}
	return out, nil
}

// GetLoanScheme returns a single scheme.
func (e *Engine) GetLoanScheme(id string) (*SchemeView, error) {
	if e.state == nil {
		return nil, errNilState
	}
	scheme, err := e.loadScheme(strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	defaultID, err := e.state.DefaultSchemeID()
	if err != nil {
		return nil, err
	}
	return &SchemeView{LoanScheme: *scheme, Default: scheme.ID == defaultID}, nil
}

// OnNewBlock removes every scheme whose destruction height has been reached
// and moves its vaults onto the default scheme in ascending vault id order.
// It returns the number of vaults migrated.
func (e *Engine) OnNewBlock(height uint64) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	schemes, err := e.state.ListSchemes()
	if err != nil {
		return 0, err
	}
	var due []*LoanScheme
	for _, scheme := range schemes {
		if scheme.PendingDestruction() && scheme.DestructionHeight <= height {
			due = append(due, scheme)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}
	defaultID, err := e.state.DefaultSchemeID()
	if err != nil {
		return 0, err
	}
	target, err := e.state.GetScheme(defaultID)
	if err != nil {
		return 0, err
	}
	if target == nil || target.PendingDestruction() {
		return 0, fmt.Errorf("loan engine: no usable default scheme to migrate vaults onto (default %q)", defaultID)
	}

	migrated := 0
	for _, scheme := range due {
		ids, err := e.state.SchemeVaultIDs(scheme.ID)
		if err != nil {
			return migrated, err
		}
		for _, id := range ids {
			vault, err := e.state.GetVault(id)
			if err != nil {
				return migrated, err
			}
			if vault == nil {
				continue
			}
			if vault.Interest == nil {
				vault.Interest = map[string]*InterestRecord{}
			}
			if vault.Loans == nil {
				vault.Loans = Balances{}
			}
			if err := e.migrateScheme(vault, target, height); err != nil {
				return migrated, fmt.Errorf("migrate vault %s: %w", id, err)
			}
			if err := e.state.PutVault(vault); err != nil {
				return migrated, err
			}
			e.emit(NewSchemeMigratedEvent(vault, scheme.ID))
			migrated++
		}
		if err := e.state.DeleteScheme(scheme.ID); err != nil {
			return migrated, err
		}
		e.emit(NewSchemeDestroyedEvent(scheme, height))
	}
	return migrated, nil
}
