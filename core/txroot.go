package core

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"vaultchain/core/types"
)

// ComputeTxRoot commits the transaction hashes of a block to a Merkle
// Patricia trie keyed by RLP(index). Blocks without transactions share the
// empty trie root.
func ComputeTxRoot(txs []*types.Transaction) ([]byte, error) {
	if len(txs) == 0 {
		return gethtypes.EmptyRootHash.Bytes(), nil
	}
	trieDB := triedb.NewDatabase(rawdb.NewDatabase(memorydb.New()), triedb.HashDefaults)
	trie, err := gethtrie.New(gethtrie.TrieID(gethtypes.EmptyRootHash), trieDB)
	if err != nil {
		return nil, err
	}
	for index, tx := range txs {
		txHash, err := tx.Hash()
		if err != nil {
			return nil, err
		}
		if err := trie.Update(rlp.AppendUint64(nil, uint64(index)), txHash); err != nil {
			return nil, err
		}
	}
	return trie.Hash().Bytes(), nil
}
