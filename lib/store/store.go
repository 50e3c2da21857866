// Package store defines the interface for database implementations to the queue service.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
)

// DB defines required methods for the queue and its built-in dispatchers.
type DB interface {
	// methods for the queue
	queue.Store
	// methods for the address book dispatcher
	LoadContacts(ctx context.Context, account string) ([]Contact, error)
	SaveContacts(ctx context.Context, account string, contacts []Contact) error
}

// Errors returned
var (
	ErrDataNotFound = errors.New("Data was not found in store")
	ErrUnknownDB    = errors.New("unknown database type")
)

// EncodeQueue returns the persisted form of the queue entries.
func EncodeQueue(entries []*queue.Entry) ([]byte, error) {
	if entries == nil {
		entries = []*queue.Entry{}
	}

	b, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("cannot encode queue: %w", err)
	}

	return b, nil
}

// DecodeQueue parses the persisted form of the queue entries. An empty input is an empty queue.
func DecodeQueue(b []byte) ([]*queue.Entry, error) {
	entries := []*queue.Entry{}
	if len(b) == 0 {
		return entries, nil
	}

	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("cannot decode queue: %w", err)
	}

	return entries, nil
}
