package state

// Height returns the height of the last applied block, zero before genesis.
func (m *Manager) Height() (uint64, error) {
	var height uint64
	if _, err := m.KVGet(chainHeightKey, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// SetHeight records the height of the last applied block.
func (m *Manager) SetHeight(height uint64) error {
	return m.KVPut(chainHeightKey, height)
}

// BlockHash returns the hash of the last applied block.
func (m *Manager) BlockHash() ([]byte, error) {
	var hash []byte
	if _, err := m.KVGet(chainBlockHashKey, &hash); err != nil {
		return nil, err
	}
	return hash, nil
}

// SetBlockHash records the hash of the last applied block.
func (m *Manager) SetBlockHash(hash []byte) error {
	return m.KVPut(chainBlockHashKey, hash)
}
