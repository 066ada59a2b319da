package types

import (
	"crypto/sha256"
	"encoding/json"
)

// BlockHeader carries the metadata of a block.
type BlockHeader struct {
	Height    uint64 `json:"height"`
	Timestamp int64  `json:"timestamp"`
	PrevHash  []byte `json:"prevHash"`
	TxRoot    []byte `json:"txRoot"`
}

// PriceUpdate is an oracle price for a feed, applied before the
// transactions of the block.
type PriceUpdate struct {
	Feed  string `json:"feed"`
	Price string `json:"price"`
	Live  *bool  `json:"live,omitempty"`
}

// IsLive defaults to true when the flag is omitted.
func (p PriceUpdate) IsLive() bool {
	return p.Live == nil || *p.Live
}

// Block is one step of the ledger: price updates followed by transactions.
type Block struct {
	Header       *BlockHeader   `json:"header"`
	Prices       []PriceUpdate  `json:"prices,omitempty"`
	Transactions []*Transaction `json:"transactions,omitempty"`
}

// NewBlock creates a new block from a header and a set of transactions.
func NewBlock(header *BlockHeader, prices []PriceUpdate, txs []*Transaction) *Block {
	return &Block{
		Header:       header,
		Prices:       prices,
		Transactions: txs,
	}
}

// Hash calculates and returns the SHA-256 hash of the block header.
func (h *BlockHeader) Hash() ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}
