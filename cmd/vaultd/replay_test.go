package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultchain/core"
	"vaultchain/core/genesis"
	"vaultchain/core/types"
	"vaultchain/crypto"
	"vaultchain/native/loan"
	"vaultchain/storage"
)

func newReplayProcessor(t *testing.T, owner crypto.Address) *core.Processor {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	processor, err := core.NewProcessor(db, loan.DefaultParams())
	require.NoError(t, err)
	spec, err := genesis.ParseGenesisSpec([]byte(fmt.Sprintf(`tokens:
  - symbol: DFI
    collateral:
      factor: "1"
  - symbol: TSLA
    mintable: true
    loan:
      interest: "0"
alloc:
  %s:
    DFI: "10"
prices:
  DFI: "1"
  TSLA: "1"
schemes:
  - id: MIN150
    minColRatio: 150
    interestRate: "5"
defaultScheme: MIN150
`, owner)))
	require.NoError(t, err)
	require.NoError(t, processor.InitGenesis(spec))
	return processor
}

func signedTx(t *testing.T, key *crypto.PrivateKey, txType types.TxType, nonce uint64, payload interface{}) *types.Transaction {
	t.Helper()
	tx, err := types.NewTransaction(txType, nonce, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(key.PrivateKey))
	return tx
}

func encodeBlocks(t *testing.T, blocks ...*types.Block) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("# exported blocks\n\n")
	for _, block := range blocks {
		raw, err := json.Marshal(block)
		require.NoError(t, err)
		buf.Write(raw)
		buf.WriteByte('\n')
	}
	return buf.String()
}

func TestReplayAppliesAndSkips(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	owner := key.PubKey().Address().String()
	processor := newReplayProcessor(t, key.PubKey().Address())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	create := signedTx(t, key, types.TxTypeCreateVault, 1, types.CreateVaultPayload{OwnerAddress: owner})
	hash, err := create.Hash()
	require.NoError(t, err)
	id := hex.EncodeToString(hash)

	blocks := encodeBlocks(t,
		types.NewBlock(&types.BlockHeader{Height: 1, Timestamp: 10}, nil, []*types.Transaction{
			create,
			signedTx(t, key, types.TxTypeDepositToVault, 2, types.DepositToVaultPayload{VaultID: id, From: owner, Amount: "4@DFI"}),
			signedTx(t, key, types.TxTypeTakeLoan, 3, types.TakeLoanPayload{VaultID: id, Amounts: []string{"2@TSLA"}}),
		}),
		types.NewBlock(&types.BlockHeader{Height: 2, Timestamp: 20}, []types.PriceUpdate{{Feed: "TSLA", Price: "2"}}, []*types.Transaction{
			signedTx(t, key, types.TxTypeTakeLoan, 4, types.TakeLoanPayload{VaultID: id, Amounts: []string{"5@TSLA"}}),
		}),
	)

	stats, err := replay(processor, strings.NewReader(blocks), logger)
	require.NoError(t, err)
	require.Equal(t, replayStats{Applied: 2, Rejected: 1, Liquidated: 1}, stats)
	require.Equal(t, uint64(2), processor.Height())

	// A second run over the same file only skips.
	stats, err = replay(processor, strings.NewReader(blocks), logger)
	require.NoError(t, err)
	require.Equal(t, replayStats{Skipped: 2}, stats)
}

func TestReplayStopsOnBadInput(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	processor := newReplayProcessor(t, key.PubKey().Address())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err = replay(processor, strings.NewReader("{not json}\n"), logger)
	require.ErrorContains(t, err, "line 1")

	_, err = replay(processor, strings.NewReader(`{"prices":[]}`+"\n"), logger)
	require.ErrorContains(t, err, "missing header")

	_, err = replay(processor, strings.NewReader(`{"header":{"height":5}}`+"\n"), logger)
	require.Error(t, err)
	require.Zero(t, processor.Height())
}

func TestResolvePath(t *testing.T) {
	env := func(value string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			if key != genesisPathEnv || value == "" {
				return "", false
			}
			return value, true
		}
	}
	require.Equal(t, "flag.yaml", resolvePath(" flag.yaml ", "cfg.yaml", env("env.yaml")))
	require.Equal(t, "env.yaml", resolvePath("", "cfg.yaml", env("env.yaml")))
	require.Equal(t, "cfg.yaml", resolvePath("", "cfg.yaml", env("")))
	require.Equal(t, "", resolvePath("", "", nil))
}
