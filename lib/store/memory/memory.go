// Package memory implements the store interface in process memory. Data is kept serialized so callers never share
// state with the store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
	"github.com/evannetwork/ui-angular-core-sub000/lib/store"
)

// Memory implements a store held in memory.
type Memory struct {
	l        sync.Mutex
	queue    []byte
	contacts map[string][]byte
}

// New returns an empty memory store.
func New() *Memory {
	return &Memory{contacts: make(map[string][]byte)}
}

// LoadQueue returns a copy of the stored queue entries.
func (m *Memory) LoadQueue(ctx context.Context) ([]*queue.Entry, error) {
	m.l.Lock()
	defer m.l.Unlock()

	return store.DecodeQueue(m.queue)
}

// StoreQueue replaces the stored queue entries.
func (m *Memory) StoreQueue(ctx context.Context, entries []*queue.Entry) error {
	b, err := store.EncodeQueue(entries)
	if err != nil {
		return err
	}

	m.l.Lock()
	m.queue = b
	m.l.Unlock()

	return nil
}

// LoadContacts returns the contacts of account, or store.ErrDataNotFound.
func (m *Memory) LoadContacts(ctx context.Context, account string) ([]Contact, error) {
	m.l.Lock()
	b, ok := m.contacts[account]
	m.l.Unlock()

	if !ok {
		return nil, store.ErrDataNotFound
	}

	var cs []Contact
	if err := json.Unmarshal(b, &cs); err != nil {
		return nil, fmt.Errorf("cannot decode contacts: %w", err)
	}

	return cs, nil
}

// SaveContacts replaces the contacts of account.
func (m *Memory) SaveContacts(ctx context.Context, account string, contacts []Contact) error {
	b, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("cannot encode contacts: %w", err)
	}

	m.l.Lock()
	m.contacts[account] = b
	m.l.Unlock()

	return nil
}

// Close does nothing.
func (m *Memory) Close() error {
	return nil
}

// Contact is the store contact type.
type Contact = store.Contact
