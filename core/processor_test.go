package core

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaultchain/core/genesis"
	"vaultchain/core/state"
	"vaultchain/core/types"
	"vaultchain/crypto"
	"vaultchain/native/loan"
	"vaultchain/storage"
)

type harness struct {
	t         *testing.T
	processor *Processor
	key       *crypto.PrivateKey
	owner     crypto.Address
	nonce     uint64
}

func testGenesis(owner crypto.Address) string {
	return fmt.Sprintf(`genesisTime: "2024-01-02T03:04:05Z"
tokens:
  - symbol: DFI
    decimals: 8
    collateral:
      factor: "1"
  - symbol: BTC
    decimals: 8
    collateral:
      factor: "0.8"
  - symbol: TSLA
    decimals: 8
    mintable: true
    loan:
      interest: "0"
alloc:
  %[1]s:
    DFI: "100"
    BTC: "10"
prices:
  DFI: "1"
  BTC: "1"
  TSLA: "1"
schemes:
  - id: MIN150
    minColRatio: 150
    interestRate: "5"
  - id: C200
    minColRatio: 200
    interestRate: "2"
defaultScheme: MIN150
`, owner.String())
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	owner := key.PubKey().Address()

	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	processor, err := NewProcessor(db, loan.DefaultParams(), WithLogger(logger))
	require.NoError(t, err)
	require.False(t, processor.Initialized())

	spec, err := genesis.ParseGenesisSpec([]byte(testGenesis(owner)))
	require.NoError(t, err)
	require.NoError(t, processor.InitGenesis(spec))
	require.True(t, processor.Initialized())
	require.Zero(t, processor.Height())
	return &harness{t: t, processor: processor, key: key, owner: owner}
}

func (h *harness) tx(txType types.TxType, payload interface{}) *types.Transaction {
	h.t.Helper()
	h.nonce++
	tx, err := types.NewTransaction(txType, h.nonce, payload)
	require.NoError(h.t, err)
	require.NoError(h.t, tx.Sign(h.key.PrivateKey))
	return tx
}

func (h *harness) apply(prices []types.PriceUpdate, txs ...*types.Transaction) *BlockResult {
	h.t.Helper()
	header := h.processor.NextHeader(time.Unix(1_700_000_000+int64(h.processor.Height()), 0))
	result, err := h.processor.ApplyBlock(types.NewBlock(header, prices, txs))
	require.NoError(h.t, err)
	require.Len(h.t, result.Receipts, len(txs))
	return result
}

func vaultIDOf(t *testing.T, tx *types.Transaction) string {
	t.Helper()
	hash, err := tx.Hash()
	require.NoError(t, err)
	return hex.EncodeToString(hash)
}

func (h *harness) balance(token string) loan.Amount {
	h.t.Helper()
	var amount loan.Amount
	require.NoError(h.t, h.processor.Query(func(_ *loan.Engine, mgr *state.Manager) error {
		var err error
		amount, err = mgr.Balance(h.owner, token)
		return err
	}))
	return amount
}

func (h *harness) vault(id string) *loan.VaultView {
	h.t.Helper()
	var view *loan.VaultView
	require.NoError(h.t, h.processor.Query(func(engine *loan.Engine, _ *state.Manager) error {
		var err error
		view, err = engine.GetVault(id)
		return err
	}))
	return view
}

func requireSuccess(t *testing.T, result *BlockResult) {
	t.Helper()
	for i, receipt := range result.Receipts {
		require.Truef(t, receipt.Success, "receipt %d (%s) failed: %s", i, receipt.Type, receipt.Error)
	}
}

func TestBorrowAndLiquidate(t *testing.T) {
	h := newHarness(t)
	owner := h.owner.String()

	create := h.tx(types.TxTypeCreateVault, types.CreateVaultPayload{OwnerAddress: owner})
	id := vaultIDOf(t, create)
	result := h.apply(nil,
		create,
		h.tx(types.TxTypeDepositToVault, types.DepositToVaultPayload{VaultID: id, From: owner, Amount: "1@DFI"}),
		h.tx(types.TxTypeDepositToVault, types.DepositToVaultPayload{VaultID: id, From: owner, Amount: "1@BTC"}),
		h.tx(types.TxTypeTakeLoan, types.TakeLoanPayload{VaultID: id, Amounts: []string{"0.5@TSLA"}}),
	)
	requireSuccess(t, result)
	require.Equal(t, uint64(1), result.Height)
	require.Empty(t, result.Liquidated)
	require.Equal(t, result.Hash, h.processor.HeadHash())
	require.NotEmpty(t, result.Receipts[0].Events)
	require.Equal(t, "loan.vault.created", result.Receipts[0].Events[0].Type)

	require.Equal(t, loan.MustParseAmount("0.5"), h.balance("TSLA"))
	require.Equal(t, loan.NewAmount(98), h.balance("DFI"))
	require.Equal(t, loan.NewAmount(9), h.balance("BTC"))

	view := h.vault(id)
	require.Equal(t, "active", view.State)
	require.Equal(t, loan.MustParseAmount("1.8"), view.CollateralValue)
	require.EqualValues(t, 360, view.CollateralRatio, "no interest accrues in the block the loan is taken")

	// Quadrupling the loan token price pushes the ratio below 150.
	result = h.apply([]types.PriceUpdate{{Feed: "TSLA", Price: "4"}})
	require.Equal(t, []string{id}, result.Liquidated)
	require.NotEmpty(t, result.Events)

	view = h.vault(id)
	require.Equal(t, "inLiquidation", view.State)
	require.Equal(t, uint64(2), view.LiquidationHeight)
	require.Equal(t, 1, view.BatchCount)

	result = h.apply(nil,
		h.tx(types.TxTypeDepositToVault, types.DepositToVaultPayload{VaultID: id, From: owner, Amount: "1@DFI"}),
	)
	require.False(t, result.Receipts[0].Success)
	require.Equal(t, "vault_in_liquidation", result.Receipts[0].Code)
	require.Equal(t, loan.NewAmount(98), h.balance("DFI"))
}

func TestRejectedTransactionLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	owner := h.owner.String()

	create := h.tx(types.TxTypeCreateVault, types.CreateVaultPayload{OwnerAddress: owner})
	id := vaultIDOf(t, create)
	requireSuccess(t, h.apply(nil,
		create,
		h.tx(types.TxTypeDepositToVault, types.DepositToVaultPayload{VaultID: id, From: owner, Amount: "2@DFI"}),
	))

	result := h.apply(nil,
		h.tx(types.TxTypeTakeLoan, types.TakeLoanPayload{VaultID: id, Amounts: []string{"2@TSLA"}}),
		h.tx(types.TxTypeWithdrawFromVault, types.WithdrawFromVaultPayload{VaultID: id, To: owner, Amount: "0.5@DFI"}),
		h.tx(types.TxTypeDepositToVault, types.DepositToVaultPayload{VaultID: id, From: owner, Amount: "1000@DFI"}),
	)
	require.False(t, result.Receipts[0].Success)
	require.Equal(t, "insufficient_collateralization", result.Receipts[0].Code)
	require.Empty(t, result.Receipts[0].Events)
	require.True(t, result.Receipts[1].Success)
	require.False(t, result.Receipts[2].Success)
	require.Equal(t, "insufficient_funds", result.Receipts[2].Code)

	require.Zero(t, h.balance("TSLA"))
	require.Equal(t, loan.MustParseAmount("97.5"), h.balance("DFI"))
	view := h.vault(id)
	require.Empty(t, view.LoanAmounts)
	require.Equal(t, loan.Balances{"DFI": loan.MustParseAmount("1.5")}, view.CollateralAmounts)
}

func TestMalformedTransactions(t *testing.T) {
	h := newHarness(t)

	unsigned, err := types.NewTransaction(types.TxTypeCreateVault, 99, types.CreateVaultPayload{OwnerAddress: h.owner.String()})
	require.NoError(t, err)

	unknownField := h.tx(types.TxTypeCreateVault, types.CreateVaultPayload{OwnerAddress: h.owner.String()})
	unknownField.Data = json.RawMessage(`{"owner":"x"}`)
	require.NoError(t, unknownField.Sign(h.key.PrivateKey))

	badAddress := h.tx(types.TxTypeCreateVault, types.CreateVaultPayload{OwnerAddress: "not-an-address"})

	other, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	foreign := h.tx(types.TxTypeCreateVault, types.CreateVaultPayload{OwnerAddress: other.PubKey().Address().String()})

	result := h.apply(nil, unsigned, unknownField, badAddress, foreign)
	require.Equal(t, "malformed_tx", result.Receipts[0].Code)
	require.Equal(t, "malformed_tx", result.Receipts[1].Code)
	require.Equal(t, "invalid_owner_address", result.Receipts[2].Code)
	require.Equal(t, "invalid_owner_address", result.Receipts[3].Code)
	for _, receipt := range result.Receipts {
		require.False(t, receipt.Success)
		require.Equal(t, "createvault", receipt.Type)
	}
	require.Equal(t, loan.NewAmount(100), h.balance("DFI"))
	require.Equal(t, uint64(1), h.processor.Height())
}

func TestCloseVaultRefundsHeldFee(t *testing.T) {
	h := newHarness(t)
	owner := h.owner.String()

	create := h.tx(types.TxTypeCreateVault, types.CreateVaultPayload{OwnerAddress: owner})
	id := vaultIDOf(t, create)
	requireSuccess(t, h.apply(nil,
		create,
		h.tx(types.TxTypeDepositToVault, types.DepositToVaultPayload{VaultID: id, From: owner, Amount: "2@DFI"}),
		h.tx(types.TxTypeCloseVault, types.CloseVaultPayload{VaultID: id, To: owner}),
	))
	require.Equal(t, loan.MustParseAmount("99.5"), h.balance("DFI"))

	require.NoError(t, h.processor.Query(func(engine *loan.Engine, _ *state.Manager) error {
		burned, err := engine.BurnInfo()
		require.NoError(t, err)
		require.Equal(t, loan.Balances{"DFI": loan.MustParseAmount("0.5")}, burned)
		_, err = engine.GetVault(id)
		require.ErrorIs(t, err, loan.ErrVaultNotFound)
		return nil
	}))
}

func TestSchemeDestructionMigratesVaults(t *testing.T) {
	h := newHarness(t)
	owner := h.owner.String()

	create := h.tx(types.TxTypeCreateVault, types.CreateVaultPayload{OwnerAddress: owner, SchemeID: "C200"})
	id := vaultIDOf(t, create)
	requireSuccess(t, h.apply(nil,
		create,
		h.tx(types.TxTypeDepositToVault, types.DepositToVaultPayload{VaultID: id, From: owner, Amount: "3@DFI"}),
		h.tx(types.TxTypeTakeLoan, types.TakeLoanPayload{VaultID: id, Amounts: []string{"1@TSLA"}}),
	))

	result := h.apply(nil, h.tx(types.TxTypeDestroyLoanScheme, types.DestroyLoanSchemePayload{ID: "C200"}))
	requireSuccess(t, result)
	require.Zero(t, result.Migrated)

	result = h.apply(nil)
	require.Equal(t, 1, result.Migrated)
	view := h.vault(id)
	require.Equal(t, "MIN150", view.SchemeID)

	require.NoError(t, h.processor.Query(func(engine *loan.Engine, _ *state.Manager) error {
		_, err := engine.GetLoanScheme("C200")
		require.ErrorIs(t, err, loan.ErrSchemeNotFound)
		return nil
	}))
}

func TestApplyBlockChecksHeader(t *testing.T) {
	h := newHarness(t)
	genesisHash := h.processor.HeadHash()

	_, err := h.processor.ApplyBlock(types.NewBlock(&types.BlockHeader{Height: 2}, nil, nil))
	require.ErrorIs(t, err, errUnexpectedHeight)

	_, err = h.processor.ApplyBlock(types.NewBlock(&types.BlockHeader{Height: 1, PrevHash: []byte{1}}, nil, nil))
	require.ErrorIs(t, err, errParentMismatch)

	header := h.processor.NextHeader(time.Unix(1_700_000_000, 0))
	header.TxRoot = []byte{0xde, 0xad}
	_, err = h.processor.ApplyBlock(types.NewBlock(header, []types.PriceUpdate{{Feed: "DFI", Price: "2"}}, nil))
	require.Error(t, err)

	_, err = h.processor.ApplyBlock(types.NewBlock(h.processor.NextHeader(time.Now()), []types.PriceUpdate{{Feed: "DFI", Price: "abc"}}, nil))
	require.Error(t, err)

	_, err = h.processor.ApplyBlock(nil)
	require.Error(t, err)

	require.Zero(t, h.processor.Height())
	require.Equal(t, genesisHash, h.processor.HeadHash())
	require.NoError(t, h.processor.Query(func(_ *loan.Engine, mgr *state.Manager) error {
		price, live, err := mgr.PriceOf("DFI", 1)
		require.NoError(t, err)
		require.True(t, live)
		require.Equal(t, loan.COIN, price, "aborted block must not leave price updates behind")
		return nil
	}))
}

func TestReopenKeepsHead(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	processor, err := NewProcessor(db, loan.DefaultParams())
	require.NoError(t, err)
	spec, err := genesis.ParseGenesisSpec([]byte(testGenesis(key.PubKey().Address())))
	require.NoError(t, err)
	require.NoError(t, processor.InitGenesis(spec))
	_, err = processor.ApplyBlock(types.NewBlock(processor.NextHeader(time.Unix(1_700_000_000, 0)), nil, nil))
	require.NoError(t, err)

	reopened, err := NewProcessor(db, loan.DefaultParams())
	require.NoError(t, err)
	require.True(t, reopened.Initialized())
	require.Equal(t, uint64(1), reopened.Height())
	require.Equal(t, processor.HeadHash(), reopened.HeadHash())
	require.NoError(t, reopened.InitGenesis(spec), "genesis on an initialised ledger is a no-op")
	require.Equal(t, uint64(1), reopened.Height())

	_, err = NewProcessor(nil, loan.DefaultParams())
	require.Error(t, err)
}
