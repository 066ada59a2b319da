package loan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vaultchain/crypto"
)

func TestCreateLoanSchemeValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := txCtx(1, testOwner, 1)

	cases := []struct {
		name  string
		id    string
		ratio uint64
		rate  Amount
		want  error
	}{
		{name: "empty id", id: "", ratio: 150, rate: COIN, want: ErrInvalidSchemeID},
		{name: "long id", id: "TOOLONGID", ratio: 150, rate: COIN, want: ErrInvalidSchemeID},
		{name: "low ratio", id: "LOW", ratio: 99, rate: COIN, want: ErrInvalidRatio},
		{name: "negative rate", id: "NEG", ratio: 300, rate: -1, want: ErrInvalidInterestRate},
		{name: "duplicate id", id: "MIN150", ratio: 300, rate: COIN, want: ErrDuplicateID},
		{name: "duplicate terms", id: "SAME", ratio: 150, rate: NewAmount(5), want: ErrDuplicateScheme},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.CreateLoanScheme(ctx, tc.id, tc.ratio, tc.rate)
			require.ErrorIs(t, err, tc.want)
		})
	}

	scheme, err := engine.CreateLoanScheme(ctx, "C300", 300, MustParseAmount("0.5"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), scheme.CreationHeight)

	view, err := engine.GetLoanScheme("C300")
	require.NoError(t, err)
	require.False(t, view.Default)
	require.Equal(t, MustParseAmount("0.5"), view.InterestRate)
}

func TestDefaultSchemeRules(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := txCtx(1, testOwner, 1)

	schemes, err := engine.ListLoanSchemes()
	require.NoError(t, err)
	require.Len(t, schemes, 2)
	require.Equal(t, "C200", schemes[0].ID)
	require.False(t, schemes[0].Default)
	require.Equal(t, "MIN150", schemes[1].ID)
	require.True(t, schemes[1].Default)

	require.ErrorIs(t, engine.SetDefaultLoanScheme(ctx, "MIN150"), ErrAlreadyDefault)
	require.ErrorIs(t, engine.SetDefaultLoanScheme(ctx, "NOPE"), ErrSchemeNotFound)

	_, err = engine.DestroyLoanScheme(ctx, "MIN150", 0)
	require.ErrorIs(t, err, ErrDefaultSchemeDestroy)

	require.NoError(t, engine.SetDefaultLoanScheme(ctx, "C200"))
	_, err = engine.DestroyLoanScheme(ctx, "C200", 0)
	require.ErrorIs(t, err, ErrDefaultSchemeDestroy)
	_, err = engine.DestroyLoanScheme(ctx, "MIN150", 0)
	require.NoError(t, err)
}

func TestDestroyLoanSchemeMigratesVaults(t *testing.T) {
	engine, state := newTestEngine(t)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	vault, err := engine.CreateVault(txCtx(1, testOwner, 1), testOwner, "C200")
	require.NoError(t, err)
	_, err = engine.DepositToVault(txCtx(1, testOwner, 1), vault.ID, testOwner, TokenAmount{Token: "DFI", Amount: NewAmount(3)})
	require.NoError(t, err)
	_, err = engine.TakeLoan(txCtx(1, testOwner, 2), vault.ID, mustTokenAmounts(t, "1@TSLA"), nil)
	require.NoError(t, err)
	require.Equal(t, Amount(2), state.vaults[vault.ID].Interest["TSLA"].PerBlock)

	engine.SetBlockHeight(2)
	interest, err := engine.GetInterest("C200", "")
	require.NoError(t, err)
	require.Equal(t, []InterestSummary{{Token: "TSLA", InterestPerBlock: 2, TotalInterest: 2}}, interest)

	ctx := txCtx(2, testOwner, 3)
	_, err = engine.DestroyLoanScheme(ctx, "C200", 2)
	require.ErrorIs(t, err, ErrDestructionTooSoon)

	scheme, err := engine.DestroyLoanScheme(ctx, "C200", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(3), scheme.DestructionHeight)
	_, err = engine.DestroyLoanScheme(ctx, "C200", 50)
	require.ErrorIs(t, err, ErrSchemePendingDestruction)
	require.Equal(t, uint64(3), state.schemes["C200"].DestructionHeight, "the first destruction height stands")

	_, err = engine.CreateVault(txCtx(2, testOwner, 4), testOwner, "C200")
	require.ErrorIs(t, err, ErrSchemePendingDestruction)
	require.ErrorIs(t, engine.SetDefaultLoanScheme(ctx, "C200"), ErrSchemePendingDestruction)
	c200 := "C200"
	_, err = engine.UpdateVault(ctx, vault.ID, UpdateVaultOptions{SchemeID: &c200})
	require.NoError(t, err, "staying on the current scheme is not a move")

	migrated, err := engine.OnNewBlock(2)
	require.NoError(t, err)
	require.Zero(t, migrated)

	migrated, err = engine.OnNewBlock(3)
	require.NoError(t, err)
	require.Equal(t, 1, migrated)

	stored := state.vaults[vault.ID]
	require.Equal(t, "MIN150", stored.SchemeID)
	require.Equal(t, COIN+4, stored.Loans.Get("TSLA"))
	require.Equal(t, uint64(3), stored.Interest["TSLA"].Height)
	require.Equal(t, Amount(5), stored.Interest["TSLA"].PerBlock)

	_, err = engine.GetLoanScheme("C200")
	require.ErrorIs(t, err, ErrSchemeNotFound)
	interest, err = engine.GetInterest("C200", "")
	require.NoError(t, err)
	require.Empty(t, interest)
	require.Contains(t, emitter.eventTypes(), EventTypeVaultMigrated)
	require.Contains(t, emitter.eventTypes(), EventTypeSchemeDestroyed)
}

func TestSchemeAuthority(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.SetSchemeAuthority([]crypto.Address{testOther})

	_, err := engine.CreateLoanScheme(txCtx(1, testOwner, 1), "C300", 300, COIN)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, engine.SetDefaultLoanScheme(txCtx(1, testOwner, 1), "C200"), ErrUnauthorized)

	_, err = engine.CreateLoanScheme(txCtx(1, testOther, 1), "C300", 300, COIN)
	require.NoError(t, err)
	require.NoError(t, engine.SetDefaultLoanScheme(txCtx(1, testOther, 1), "C300"))
}
