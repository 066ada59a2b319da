package state

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Records that are listed keep readable, ordered keys so that prefix scans
// return them in id order. Point lookups by account use hashed keys.
var (
	tokenPrefix        = []byte("token/meta/")
	tokenSupplyPrefix  = []byte("token/supply/")
	balancePrefix      = []byte("balance:")
	pricePrefix        = []byte("price/")
	schemePrefix       = []byte("loan/scheme/")
	vaultPrefix        = []byte("loan/vault/")
	schemeVaultPrefix  = []byte("loan/scheme-vault/")
	burnPrefix         = []byte("loan/burn/")
	defaultSchemeKey   = []byte("loan/default-scheme")
	chainHeightKey     = []byte("chain/height")
	chainBlockHashKey  = []byte("chain/block-hash")
	schemeVaultDivider = byte('/')
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func joinKey(prefix []byte, parts ...string) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for i, part := range parts {
		if i > 0 {
			key = append(key, schemeVaultDivider)
		}
		key = append(key, part...)
	}
	return key
}

func tokenMetadataKey(symbol string) []byte { return joinKey(tokenPrefix, symbol) }

func tokenSupplyKey(symbol string) []byte { return joinKey(tokenSupplyPrefix, symbol) }

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr)
	return ethcrypto.Keccak256(buf)
}

func priceKey(symbol string) []byte { return joinKey(pricePrefix, symbol) }

func schemeKey(id string) []byte { return joinKey(schemePrefix, id) }

func vaultKey(id string) []byte { return joinKey(vaultPrefix, id) }

func schemeVaultIndexPrefix(schemeID string) []byte {
	return append(joinKey(schemeVaultPrefix, schemeID), schemeVaultDivider)
}

func schemeVaultKey(schemeID, vaultID string) []byte {
	return joinKey(schemeVaultPrefix, schemeID, vaultID)
}

func burnKey(symbol string) []byte { return joinKey(burnPrefix, symbol) }
