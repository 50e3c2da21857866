// Package addressbook implements the dispatcher module that saves address book changes. Changes are queued under the
// ens address "addressbook.evan" and dispatcher "addressBookDispatcher" with the owner account as id. Queued changes
// are keyed by the contact account, so adding and then removing the same contact before syncing leaves nothing to do.
package addressbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
	"github.com/evannetwork/ui-angular-core-sub000/lib/store"
)

// Names the module is registered with.
const (
	ENSAddress     = "addressbook.evan"
	DispatcherName = "addressBookDispatcher"
	ServiceName    = "addressBookService"
)

// IDProperty identifies the contact of a queued change.
const IDProperty = "accountId"

// Errors returned by the steps.
var (
	ErrNoAccount = errors.New("contact without accountId")
	ErrBadType   = errors.New("change type must be add or remove")
	ErrNoChanges = errors.New("no prepared changes to save")
)

// Change is the payload queued for a contact.
type Change struct {
	AccountID string   `json:"accountId"`
	Type      string   `json:"type"`
	Alias     string   `json:"alias,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Changes is the result of the prepare step.
type Changes struct {
	Adds    []store.Contact `json:"adds"`
	Removes []string        `json:"removes"`
}

// Contacts is the storage the address book is saved to.
type Contacts interface {
	LoadContacts(ctx context.Context, account string) ([]store.Contact, error)
	SaveContacts(ctx context.Context, account string, contacts []store.Contact) error
}

// Service saves the address books.
type Service struct {
	db  Contacts
	now func() time.Time
}

// NewService returns the address book service saving to db.
func NewService(db Contacts) *Service {
	return &Service{db: db, now: time.Now}
}

// Module returns the address book module served by s.
func Module(s *Service) *queue.Module {
	return &queue.Module{
		ENSAddress: ENSAddress,
		Dispatchers: map[string]*queue.Dispatcher{
			DispatcherName: {
				Name:        DispatcherName,
				ServiceName: ServiceName,
				Sequence: []queue.Step{
					{Name: "prepare", Description: "collects the contacts to add and remove", Run: prepare},
					{Name: "save", Description: "saves the address book", Run: save},
				},
				I18N: map[string]map[string]string{
					"en": {"title": "Address book"},
					"de": {"title": "Adressbuch"},
				},
			},
		},
		Services: map[string]interface{}{ServiceName: s},
	}
}

// ID returns the queue id of the address book of account.
func ID(account string) queue.ID {
	return queue.NewID(ENSAddress, DispatcherName, account)
}

// AddContact queues adding or updating a contact in the address book of account.
func AddContact(ctx context.Context, q *queue.Queue, account string, c store.Contact) error {
	return q.AddQueueData(ctx, ID(account), Change{
		AccountID: c.AccountID,
		Type:      queue.TypeAdd,
		Alias:     c.Alias,
		Tags:      c.Tags,
	}.payload(), IDProperty)
}

// RemoveContact queues removing contact from the address book of account.
func RemoveContact(ctx context.Context, q *queue.Queue, account, contact string) error {
	return q.AddQueueData(ctx, ID(account), Change{AccountID: contact, Type: queue.TypeRemove}.payload(), IDProperty)
}

func (c Change) payload() queue.Payload {
	p := queue.Payload{IDProperty: c.AccountID, "type": c.Type}
	if c.Alias != "" {
		p["alias"] = c.Alias
	}

	if len(c.Tags) > 0 {
		tags := make([]interface{}, len(c.Tags))
		for i, t := range c.Tags {
			tags[i] = t
		}

		p["tags"] = tags
	}

	return p
}

// prepare reduces the queued payloads to the contacts to add and to remove. The last change of a contact wins.
func prepare(ctx context.Context, service interface{}, e *queue.Entry) (interface{}, error) {
	s := service.(*Service)

	var ch Changes

	order := []string{}
	last := make(map[string]Change)

	for i, p := range e.Data {
		var c Change
		if err := convert(p, &c); err != nil {
			return nil, fmt.Errorf("malformed change %d: %w", i, err)
		}

		if c.AccountID == "" {
			return nil, fmt.Errorf("change %d: %w", i, ErrNoAccount)
		}

		if c.Type == "" {
			c.Type = queue.TypeAdd
		}

		if c.Type != queue.TypeAdd && c.Type != queue.TypeRemove {
			return nil, fmt.Errorf("change %d (%s): %w", i, c.Type, ErrBadType)
		}

		if _, ok := last[c.AccountID]; !ok {
			order = append(order, c.AccountID)
		}

		last[c.AccountID] = c
	}

	now := s.now().UnixMilli()

	for _, id := range order {
		c := last[id]
		if c.Type == queue.TypeRemove {
			ch.Removes = append(ch.Removes, id)

			continue
		}

		ch.Adds = append(ch.Adds, store.Contact{AccountID: id, Alias: c.Alias, Tags: c.Tags, CreatedAt: now})
	}

	return ch, nil
}

// save applies the prepared changes to the stored address book. It returns the number of contacts saved.
func save(ctx context.Context, service interface{}, e *queue.Entry) (interface{}, error) {
	s := service.(*Service)

	if len(e.Results) < 1 {
		return nil, ErrNoChanges
	}

	var ch Changes
	if err := convert(e.Results[0], &ch); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoChanges, err)
	}

	account := e.QueueID.ID

	contacts, err := s.db.LoadContacts(ctx, account)
	if err != nil && !errors.Is(err, store.ErrDataNotFound) {
		return nil, err
	}

	removed := make(map[string]bool, len(ch.Removes))
	for _, id := range ch.Removes {
		removed[id] = true
	}

	kept := make([]store.Contact, 0, len(contacts)+len(ch.Adds))
	index := make(map[string]int)

	for _, c := range contacts {
		if removed[c.AccountID] {
			continue
		}

		index[c.AccountID] = len(kept)
		kept = append(kept, c)
	}

	for _, c := range ch.Adds {
		if i, ok := index[c.AccountID]; ok {
			c.CreatedAt = kept[i].CreatedAt
			kept[i] = c

			continue
		}

		index[c.AccountID] = len(kept)
		kept = append(kept, c)
	}

	if err := s.db.SaveContacts(ctx, account, kept); err != nil {
		return nil, err
	}

	return len(kept), nil
}

// convert copies the JSON form of v into out.
func convert(v, out interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, out)
}
