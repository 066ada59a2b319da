package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"vaultchain/storage"
)

// Manager is a key-value view over the node database with an uncommitted
// write overlay. Forks stack overlays on top of each other so that a single
// transaction can be applied and then either merged into its parent or
// dropped.
type Manager struct {
	db     storage.Database
	parent *Manager
	dirty  map[string]entry
}

type entry struct {
	value   []byte
	deleted bool
}

// NewManager creates a root state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]entry)}
}

// Fork returns a child view whose writes stay invisible to m until Merge.
// Discarding the child is enough to roll its writes back.
func (m *Manager) Fork() *Manager {
	return &Manager{db: m.db, parent: m, dirty: make(map[string]entry)}
}

// Merge folds the writes of a fork into its parent.
func (m *Manager) Merge() error {
	if m.parent == nil {
		return fmt.Errorf("state: merge called on root manager")
	}
	for key, e := range m.dirty {
		m.parent.dirty[key] = e
	}
	m.dirty = make(map[string]entry)
	return nil
}

// Commit writes the overlay of the root manager to the database as one batch.
func (m *Manager) Commit() error {
	if m.parent != nil {
		return fmt.Errorf("state: commit called on forked manager")
	}
	batch := new(storage.Batch)
	for key, e := range m.dirty {
		if e.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), e.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]entry)
	return nil
}

// Discard drops every uncommitted write of m.
func (m *Manager) Discard() {
	m.dirty = make(map[string]entry)
}

// Pending reports the number of uncommitted writes in this overlay.
func (m *Manager) Pending() int { return len(m.dirty) }

func (m *Manager) get(key []byte) ([]byte, error) {
	for cur := m; cur != nil; cur = cur.parent {
		if e, ok := cur.dirty[string(key)]; ok {
			if e.deleted {
				return nil, nil
			}
			return e.value, nil
		}
	}
	data, err := m.db.Get(key)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Manager) put(key, value []byte) {
	m.dirty[string(key)] = entry{value: append([]byte(nil), value...)}
}

func (m *Manager) delete(key []byte) {
	m.dirty[string(key)] = entry{deleted: true}
}

// scan returns every live key under prefix in ascending order together with
// its value, overlay writes included.
func (m *Manager) scan(prefix []byte) ([]string, map[string][]byte, error) {
	merged := make(map[string][]byte)
	if err := m.db.Iterate(prefix, func(key, value []byte) bool {
		merged[string(key)] = value
		return true
	}); err != nil {
		return nil, nil, err
	}
	var chain []*Manager
	for cur := m; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for key, e := range chain[i].dirty {
			if !bytes.HasPrefix([]byte(key), prefix) {
				continue
			}
			if e.deleted {
				delete(merged, key)
				continue
			}
			merged[key] = e.value
		}
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, merged, nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(key, encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// out. The boolean reports whether a value was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.delete(key)
	return nil
}

// KVKeys lists the keys stored under prefix in ascending order.
func (m *Manager) KVKeys(prefix []byte) ([]string, error) {
	keys, _, err := m.scan(prefix)
	return keys, err
}

func decodeRLP(data []byte, out interface{}) error {
	return rlp.DecodeBytes(data, out)
}
