package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"vaultchain/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeCreateLoanScheme  TxType = 0x01
	TxTypeDestroyLoanScheme TxType = 0x02
	TxTypeSetDefaultScheme  TxType = 0x03
	TxTypeCreateVault       TxType = 0x10
	TxTypeUpdateVault       TxType = 0x11
	TxTypeDepositToVault    TxType = 0x12
	TxTypeWithdrawFromVault TxType = 0x13
	TxTypeTakeLoan          TxType = 0x14
	TxTypePaybackLoan       TxType = 0x15
	TxTypeCloseVault        TxType = 0x16
)

var txTypeNames = map[TxType]string{
	TxTypeCreateLoanScheme:  "createloanscheme",
	TxTypeDestroyLoanScheme: "destroyloanscheme",
	TxTypeSetDefaultScheme:  "setdefaultloanscheme",
	TxTypeCreateVault:       "createvault",
	TxTypeUpdateVault:       "updatevault",
	TxTypeDepositToVault:    "deposittovault",
	TxTypeWithdrawFromVault: "withdrawfromvault",
	TxTypeTakeLoan:          "takeloan",
	TxTypePaybackLoan:       "paybackloan",
	TxTypeCloseVault:        "closevault",
}

// String returns the operation name used in logs and metrics.
func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	_, ok := txTypeNames[t]
	return ok
}

// ErrMissingSignature is returned when a transaction carries no signature.
var ErrMissingSignature = errors.New("transaction is not signed")

// Transaction is a signed request to apply one loan module operation. Data
// carries the JSON payload matching Type.
type Transaction struct {
	Type  TxType          `json:"type"`
	Nonce uint64          `json:"nonce"`
	Data  json.RawMessage `json:"data"`

	// Signatures
	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from *crypto.Address
}

// NewTransaction encodes payload as the transaction data.
func NewTransaction(txType TxType, nonce uint64, payload interface{}) (*Transaction, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", txType, err)
	}
	return &Transaction{Type: txType, Nonce: nonce, Data: data}, nil
}

// Hash covers the type, nonce and payload. Signatures are excluded.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		Type  TxType
		Nonce uint64
		Data  []byte
	}{tx.Type, tx.Nonce, tx.Data}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the signer address from the signature.
func (tx *Transaction) From() (crypto.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return crypto.Address{}, ErrMissingSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return crypto.Address{}, err
	}
	if len(tx.R.Bytes()) > 32 || len(tx.S.Bytes()) > 32 || tx.V.Uint64() < 27 {
		return crypto.Address{}, fmt.Errorf("malformed signature")
	}
	sig := make([]byte, 65)
	copy(sig[32-len(tx.R.Bytes()):32], tx.R.Bytes())
	copy(sig[64-len(tx.S.Bytes()):64], tx.S.Bytes())
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return crypto.Address{}, err
	}
	addr := crypto.NewAddress(crypto.VaultPrefix, ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	tx.from = &addr
	return addr, nil
}
