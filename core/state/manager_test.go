package state

import (
	"bytes"
	"testing"

	"vaultchain/crypto"
	"vaultchain/native/loan"
	"vaultchain/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.LevelDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db), db
}

func testAddress(suffix byte) crypto.Address {
	return crypto.NewAddress(crypto.VaultPrefix, bytes.Repeat([]byte{suffix}, crypto.AddressLength))
}

func TestForkMergeAndDiscard(t *testing.T) {
	mgr, db := newTestManager(t)
	if err := mgr.KVPut([]byte("k/a"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}

	fork := mgr.Fork()
	if err := fork.KVPut([]byte("k/b"), uint64(2)); err != nil {
		t.Fatalf("fork put: %v", err)
	}
	if err := fork.KVDelete([]byte("k/a")); err != nil {
		t.Fatalf("fork delete: %v", err)
	}
	var value uint64
	if ok, _ := mgr.KVGet([]byte("k/b"), &value); ok {
		t.Fatalf("fork write visible in parent before merge")
	}
	if ok, _ := fork.KVGet([]byte("k/a"), &value); ok {
		t.Fatalf("deleted key still visible in fork")
	}

	dropped := mgr.Fork()
	if err := dropped.KVPut([]byte("k/c"), uint64(3)); err != nil {
		t.Fatalf("dropped put: %v", err)
	}
	dropped.Discard()
	if err := dropped.Merge(); err != nil {
		t.Fatalf("merge discarded fork: %v", err)
	}

	if err := fork.Merge(); err != nil {
		t.Fatalf("merge: %v", err)
	}
	keys, err := mgr.KVKeys([]byte("k/"))
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "k/b" {
		t.Fatalf("unexpected keys after merge: %v", keys)
	}

	if _, err := db.Get([]byte("k/b")); !storage.IsNotFound(err) {
		t.Fatalf("write reached database before commit: %v", err)
	}
	if err := fork.Commit(); err == nil {
		t.Fatalf("expected commit on fork to fail")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if mgr.Pending() != 0 {
		t.Fatalf("expected empty overlay after commit, got %d", mgr.Pending())
	}
	reopened := NewManager(db)
	if ok, err := reopened.KVGet([]byte("k/b"), &value); err != nil || !ok || value != 2 {
		t.Fatalf("committed value not persisted: ok=%v value=%d err=%v", ok, value, err)
	}
	if ok, _ := reopened.KVGet([]byte("k/a"), &value); ok {
		t.Fatalf("deleted key persisted")
	}
	if err := mgr.Merge(); err == nil {
		t.Fatalf("expected merge on root to fail")
	}
}

func TestScanOrdersOverlayAndDatabase(t *testing.T) {
	mgr, _ := newTestManager(t)
	for _, key := range []string{"p/b", "p/d", "q/a"} {
		if err := mgr.KVPut([]byte(key), true); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	fork := mgr.Fork()
	if err := fork.KVPut([]byte("p/a"), true); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := fork.KVPut([]byte("p/c"), true); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := fork.KVDelete([]byte("p/d")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	keys, err := fork.KVKeys([]byte("p/"))
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"p/a", "p/b", "p/c"}
	if len(keys) != len(want) {
		t.Fatalf("unexpected keys %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key %d: want %s got %s", i, want[i], keys[i])
		}
	}
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("expected empty key error")
	}
	if _, err := mgr.KVGet(nil, nil); err == nil {
		t.Fatalf("expected empty key error")
	}
	if err := mgr.KVDelete(nil); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestChainHeightAndHash(t *testing.T) {
	mgr, _ := newTestManager(t)
	height, err := mgr.Height()
	if err != nil || height != 0 {
		t.Fatalf("expected zero height before genesis, got %d (%v)", height, err)
	}
	if err := mgr.SetHeight(7); err != nil {
		t.Fatalf("set height: %v", err)
	}
	if err := mgr.SetBlockHash([]byte{0xaa, 0xbb}); err != nil {
		t.Fatalf("set hash: %v", err)
	}
	if height, _ = mgr.Height(); height != 7 {
		t.Fatalf("unexpected height %d", height)
	}
	hash, err := mgr.BlockHash()
	if err != nil || !bytes.Equal(hash, []byte{0xaa, 0xbb}) {
		t.Fatalf("unexpected hash %x (%v)", hash, err)
	}
}

func TestLedgerAndSupply(t *testing.T) {
	mgr, _ := newTestManager(t)
	owner := testAddress(0x01)
	if err := mgr.Mint(owner, "DFI", loan.COIN); err == nil {
		t.Fatalf("expected unregistered token to be rejected")
	}
	if err := mgr.RegisterToken(&TokenMetadata{Symbol: "dfi", Decimals: 8, Collateral: true, CollateralFactor: uint64(loan.COIN)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.Mint(owner, "DFI", loan.NewAmount(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := mgr.Burn(owner, "dfi", loan.NewAmount(2)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := mgr.Debit(owner, "DFI", loan.NewAmount(4)); err == nil {
		t.Fatalf("expected insufficient balance")
	}
	if err := mgr.Debit(owner, "DFI", loan.NewAmount(3)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, err := mgr.Balance(owner, "DFI")
	if err != nil || balance != 0 {
		t.Fatalf("unexpected balance %s (%v)", balance, err)
	}
	supply, err := mgr.TokenSupply("DFI")
	if err != nil || supply != loan.NewAmount(3) {
		t.Fatalf("unexpected supply %s (%v)", supply, err)
	}
	if err := mgr.Credit(owner, "DFI", loan.MaxAmount); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := mgr.Credit(owner, "DFI", 1); err == nil {
		t.Fatalf("expected balance overflow")
	}
	if _, err := mgr.AdjustTokenSupply("DFI", -loan.NewAmount(4)); err == nil {
		t.Fatalf("expected negative supply to be rejected")
	}
	balances, err := mgr.Balances(owner)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 1 || balances.Get("DFI") != loan.MaxAmount {
		t.Fatalf("unexpected balances %v", balances)
	}
}

func TestTokenRegistry(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.RegisterToken(&TokenMetadata{Symbol: "BAD@", Decimals: 8}); err == nil {
		t.Fatalf("expected reserved character rejection")
	}
	if err := mgr.RegisterToken(&TokenMetadata{Symbol: "BTC", Collateral: true, CollateralFactor: uint64(loan.COIN) + 1}); err == nil {
		t.Fatalf("expected factor above one to be rejected")
	}
	if err := mgr.RegisterToken(&TokenMetadata{Symbol: "TSLA", Decimals: 8, Loan: true, Mintable: true, LoanInterest: uint64(loan.NewAmount(1))}); err != nil {
		t.Fatalf("register: %v", err)
	}
	meta, err := mgr.Token("tsla")
	if err != nil || meta == nil {
		t.Fatalf("token lookup: %v", err)
	}
	if meta.PriceFeedID != "TSLA" {
		t.Fatalf("expected price feed to default to the symbol, got %q", meta.PriceFeedID)
	}
	collateral, err := mgr.CollateralToken("TSLA")
	if err != nil || collateral != nil {
		t.Fatalf("loan-only token reported as collateral: %+v (%v)", collateral, err)
	}
	loanToken, err := mgr.LoanToken("TSLA")
	if err != nil || loanToken == nil || !loanToken.Mintable || loanToken.Interest != loan.NewAmount(1) {
		t.Fatalf("unexpected loan token %+v (%v)", loanToken, err)
	}
	exists, err := mgr.TokenExists("GOLD")
	if err != nil || exists {
		t.Fatalf("unexpected token GOLD")
	}
}

func TestPriceOfHonoursHeightAndLiveness(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.RegisterToken(&TokenMetadata{Symbol: "TSLA", Loan: true, PriceFeedID: "TSLA/USD"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.SetPrice("TSLA/USD", loan.NewAmount(10), 5, true); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, live, err := mgr.PriceOf("TSLA", 4); err != nil || live {
		t.Fatalf("price set above the query height must not be live")
	}
	price, live, err := mgr.PriceOf("tsla", 5)
	if err != nil || !live || price != loan.NewAmount(10) {
		t.Fatalf("unexpected price %s live=%v (%v)", price, live, err)
	}
	if err := mgr.SetPrice("TSLA/USD", loan.NewAmount(11), 6, false); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, live, _ := mgr.PriceOf("TSLA", 6); live {
		t.Fatalf("expected price to be reported as not live")
	}
	if _, live, _ := mgr.PriceOf("GOLD", 6); live {
		t.Fatalf("missing price reported live")
	}
	if err := mgr.SetPrice("GOLD", -1, 6, true); err == nil {
		t.Fatalf("expected negative price rejection")
	}
	prices, err := mgr.Prices()
	if err != nil || len(prices) != 1 || prices[0].Feed != "TSLA/USD" {
		t.Fatalf("unexpected price listing %+v (%v)", prices, err)
	}
}
