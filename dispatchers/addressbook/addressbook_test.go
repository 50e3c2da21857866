package addressbook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
	"github.com/evannetwork/ui-angular-core-sub000/lib/store"
	"github.com/evannetwork/ui-angular-core-sub000/lib/store/memory"
)

const owner = "0x001De828935e8c7e4cb56Fe610495cAe63fb2612"

func newQueue(t *testing.T, db Contacts) *queue.Queue {
	t.Helper()

	s := NewService(db)
	s.now = func() time.Time { return time.UnixMilli(42) }

	log, _ := test.NewNullLogger()
	q := queue.New(memory.New(), queue.NewRuntime(queue.NewRegistry(Module(s))), queue.WithLogger(log))
	require.NoError(t, q.Init(context.Background()))

	return q
}

func TestAddressBook(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	require.NoError(t, db.SaveContacts(ctx, owner, []store.Contact{
		{AccountID: "0xold", Alias: "old", CreatedAt: 1},
		{AccountID: "0xbob", Alias: "bobby", CreatedAt: 2},
	}))

	q := newQueue(t, db)

	require.NoError(t, AddContact(ctx, q, owner, store.Contact{AccountID: "0xbob", Alias: "bob", Tags: []string{"friend"}}))
	require.NoError(t, AddContact(ctx, q, owner, store.Contact{AccountID: "0xeve", Alias: "eve"}))
	require.NoError(t, RemoveContact(ctx, q, owner, "0xold"))

	// an add followed by a remove of the same contact cancels out
	require.NoError(t, AddContact(ctx, q, owner, store.Contact{AccountID: "0xtmp"}))
	require.NoError(t, RemoveContact(ctx, q, owner, "0xtmp"))

	e := q.GetQueueEntry(ID(owner), false)
	require.NotNil(t, e)
	assert.Len(t, e.Data, 3)

	require.NoError(t, q.StartSync(ctx, e))
	assert.Nil(t, q.GetQueueEntry(ID(owner), false))

	cs, err := db.LoadContacts(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []store.Contact{
		{AccountID: "0xbob", Alias: "bob", Tags: []string{"friend"}, CreatedAt: 2},
		{AccountID: "0xeve", Alias: "eve", CreatedAt: 42},
	}, cs)
}

func TestAddressBookNewAccount(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	q := newQueue(t, db)

	require.NoError(t, AddContact(ctx, q, owner, store.Contact{AccountID: "0xbob"}))
	require.NoError(t, q.StartSync(ctx, q.GetQueueEntry(ID(owner), false)))

	cs, err := db.LoadContacts(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []store.Contact{{AccountID: "0xbob", CreatedAt: 42}}, cs)
}

type failingContacts struct{}

func (failingContacts) LoadContacts(context.Context, string) ([]store.Contact, error) {
	return nil, errors.New("connection refused")
}

func (failingContacts) SaveContacts(context.Context, string, []store.Contact) error {
	return errors.New("connection refused")
}

func TestAddressBookErrors(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, failingContacts{})

	require.NoError(t, AddContact(ctx, q, owner, store.Contact{AccountID: "0xbob"}))
	require.NoError(t, q.StartSync(ctx, q.GetQueueEntry(ID(owner), false)))

	// prepare ran, save stopped the entry
	e := q.GetQueueEntry(ID(owner), false)
	require.NotNil(t, e)
	assert.Equal(t, 1, e.Status)
	require.NotNil(t, e.Ex)
	assert.Contains(t, e.Ex.Message, "connection refused")

	s := NewService(failingContacts{})

	_, err := prepare(ctx, s, &queue.Entry{Data: []queue.Payload{{"alias": "x"}}})
	assert.ErrorIs(t, err, ErrNoAccount)

	_, err = prepare(ctx, s, &queue.Entry{Data: []queue.Payload{{"accountId": "0x1", "type": "rename"}}})
	assert.ErrorIs(t, err, ErrBadType)

	_, err = save(ctx, s, &queue.Entry{})
	assert.ErrorIs(t, err, ErrNoChanges)
}
