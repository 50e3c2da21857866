package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobStore keeps the JSON of the last stored queue, like a key-value blob store would.
type blobStore struct {
	l      sync.Mutex
	blob   []byte
	writes int
	fail   error // returned by StoreQueue when set
}

func (s *blobStore) LoadQueue(context.Context) ([]*Entry, error) {
	s.l.Lock()
	defer s.l.Unlock()

	var entries []*Entry
	if len(s.blob) == 0 {
		return entries, nil
	}

	err := json.Unmarshal(s.blob, &entries)

	return entries, err
}

func (s *blobStore) StoreQueue(_ context.Context, entries []*Entry) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	s.l.Lock()
	defer s.l.Unlock()

	if s.fail != nil {
		return s.fail
	}

	s.blob = b
	s.writes++

	return nil
}

func (s *blobStore) setFail(err error) {
	s.l.Lock()
	s.fail = err
	s.l.Unlock()
}

// recorder collects the events of a queue.
type recorder struct {
	l      sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.l.Lock()
	r.events = append(r.events, e)
	r.l.Unlock()
}

func (r *recorder) kinds(kind string) []Event {
	r.l.Lock()
	defer r.l.Unlock()

	var out []Event

	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}

	return out
}

func stepReturning(v interface{}, err error) Step {
	return Step{Name: "step", Run: func(context.Context, interface{}, *Entry) (interface{}, error) { return v, err }}
}

func newTestQueue(t *testing.T, modules ...*Module) (*Queue, *blobStore, *recorder) {
	t.Helper()

	s := &blobStore{}
	r := &recorder{}
	q := New(s, NewRuntime(NewRegistry(modules...)), WithNotifier(r))

	require.NoError(t, q.Init(context.Background()))

	return q, s, r
}

func TestAddQueueDataCancelsAddRemove(t *testing.T) {
	q, s, _ := newTestQueue(t)
	ctx := context.Background()
	id := NewID("addressbook.evan", "addressBookDispatcher", "0xB")

	require.NoError(t, q.AddQueueData(ctx, id, Payload{"accountId": "0xA", "type": TypeAdd}, "accountId"))
	require.NoError(t, q.AddQueueData(ctx, id, Payload{"accountId": "0xA", "type": TypeRemove}, "accountId"))

	e := q.GetQueueEntry(id, false)
	require.NotNil(t, e)
	assert.Empty(t, e.Data)
	assert.Equal(t, 2, s.writes)
}

func TestAddQueueDataUpsert(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	id := NewID("addressbook.evan", "addressBookDispatcher", "0xB")

	cases := []struct {
		payload Payload
		count   int
	}{
		{Payload{"accountId": "0xA", "type": TypeAdd, "alias": "a"}, 1},
		{Payload{"accountId": "0xA", "type": TypeAdd, "alias": "b"}, 1},
		{Payload{"accountId": "0xC", "type": TypeAdd}, 2},
		{Payload{"accountId": "0xC", "type": TypeRemove}, 1},
		{Payload{"accountId": "0xC", "type": TypeRemove}, 2},
		{Payload{"accountId": "0xC", "type": TypeAdd}, 1},
	}

	for i, c := range cases {
		require.NoError(t, q.AddQueueData(ctx, id, c.payload, "accountId"))
		assert.Len(t, q.GetQueueEntry(id, false).Data, c.count, "case %d", i)
	}

	assert.Equal(t, "b", q.GetQueueEntry(id, false).Data[0]["alias"])
}

func TestAddQueueDataWithoutIdentityAppends(t *testing.T) {
	q, _, _ := newTestQueue(t)
	id := NewID("mail.evan", "sendMailDispatcher", "1")

	for i := 0; i < 3; i++ {
		require.NoError(t, q.AddQueueData(context.Background(), id, Payload{"body": "hi"}))
	}

	assert.Len(t, q.GetQueueEntry(id, false).Data, 3)
}

func TestAddQueueDataRejectsPattern(t *testing.T) {
	q, _, _ := newTestQueue(t)

	err := q.AddQueueData(context.Background(), NewID("a.evan", "*", "1"), Payload{})
	assert.ErrorIs(t, err, ErrPatternID)
}

func TestGetQueueEntry(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	assert.Nil(t, q.GetQueueEntry(NewID("*", "*", "*"), false))

	empty := q.GetQueueEntry(NewID("a.evan", "d", "1"), true)
	require.NotNil(t, empty)
	assert.Empty(t, empty.Data)
	assert.Empty(t, q.Entries(), "synthetic entries are not queued")

	require.NoError(t, q.AddQueueData(ctx, NewID("a.evan", "d", "1"), Payload{"n": 1}))
	require.NoError(t, q.AddQueueData(ctx, NewID("b.evan", "d", "2"), Payload{"n": 2}))

	assert.Equal(t, "a.evan", q.GetQueueEntry(NewID("*", "*", "*"), false).QueueID.ENSAddress)
	assert.Equal(t, "b.evan", q.GetQueueEntry(NewID("*", "*", "2"), false).QueueID.ENSAddress)
	assert.Nil(t, q.GetQueueEntry(NewID("c.evan", "*", "*"), false))
}

func TestStartSyncFinishes(t *testing.T) {
	var seen []string

	mod := &Module{
		ENSAddress: "a.evan",
		Dispatchers: map[string]*Dispatcher{
			"d": {
				Name:        "d",
				ServiceName: "svc",
				I18N:        map[string]map[string]string{"en": {"title": "Dispatcher D"}},
				Sequence: []Step{
					{Name: "one", Run: func(_ context.Context, svc interface{}, e *Entry) (interface{}, error) {
						seen = append(seen, svc.(string))

						return len(e.Data), nil
					}},
					{Name: "two", Run: func(context.Context, interface{}, *Entry) (interface{}, error) {
						return map[string]string{"hash": "0x01"}, nil
					}},
				},
			},
		},
		Services: map[string]interface{}{"svc": "service"},
	}

	q, s, r := newTestQueue(t, mod)
	ctx := context.Background()
	id := NewID("a.evan", "d", "1")
	id.ForceReload = true

	var calls [][]interface{}

	unsubscribe := q.OnQueueFinish(NewID("a.evan", "*", "*"), func(_ ID, results []interface{}) {
		calls = append(calls, results)
	})
	defer unsubscribe()

	other := 0
	defer q.OnQueueFinish(NewID("b.evan", "*", "*"), func(_ ID, results []interface{}) { other++ })()

	require.Len(t, calls, 1, "subscribers are called once on registration")
	assert.Nil(t, calls[0])

	require.NoError(t, q.AddQueueData(ctx, id, Payload{"x": 1}))
	require.NoError(t, q.StartSync(ctx, q.GetQueueEntry(id, false)))

	assert.Nil(t, q.GetQueueEntry(id, false))
	assert.Equal(t, []string{"service"}, seen)
	require.Len(t, calls, 2)
	assert.Equal(t, []interface{}{float64(1), map[string]interface{}{"hash": "0x01"}}, calls[1])
	assert.Equal(t, 1, other, "non matching subscriber only got its initial call")

	stored, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	toasts := r.kinds(EventToast)
	require.Len(t, toasts, 1)
	assert.Equal(t, LevelSuccess, toasts[0].Level)
	assert.Contains(t, toasts[0].Message, "Dispatcher D")
	assert.Len(t, r.kinds(EventReload), 1)
	assert.Len(t, r.kinds(EventFinish), 1)
}

func TestStartSyncHaltsAndResumes(t *testing.T) {
	fail := true
	runs := 0

	mod := &Module{
		ENSAddress: "a.evan",
		Dispatchers: map[string]*Dispatcher{
			"d": {
				Name: "d",
				Sequence: []Step{
					stepReturning("first", nil),
					{Name: "second", Run: func(context.Context, interface{}, *Entry) (interface{}, error) {
						runs++
						if fail {
							return nil, errors.New("out of gas")
						}

						return "second", nil
					}},
				},
			},
		},
	}

	q, s, r := newTestQueue(t, mod)
	ctx := context.Background()
	id := NewID("a.evan", "d", "1")

	require.NoError(t, q.AddQueueData(ctx, id, Payload{"x": 1}))
	require.NoError(t, q.StartSync(ctx, q.GetQueueEntry(id, false)))

	e := q.GetQueueEntry(id, false)
	require.NotNil(t, e)
	assert.Equal(t, 1, e.Status)
	assert.False(t, e.Working)
	require.NotNil(t, e.Ex)
	assert.Equal(t, "out of gas", e.Ex.Message)
	assert.Equal(t, "error", e.Ex.Level)
	assert.True(t, q.IsException(NewID("a.evan", "*", "*")))

	toasts := r.kinds(EventToast)
	require.Len(t, toasts, 1)
	assert.Equal(t, LevelError, toasts[0].Level)

	// the halted entry survives a restart
	reloaded := New(s, NewRuntime(NewRegistry(mod)))
	require.NoError(t, reloaded.Init(ctx))
	persisted := reloaded.GetQueueEntry(id, false)
	require.NotNil(t, persisted)
	assert.Equal(t, 1, persisted.Status)
	require.NotNil(t, persisted.Ex)

	fail = false

	var finished []interface{}

	q.OnQueueFinish(id, func(_ ID, results []interface{}) { finished = results })
	require.NoError(t, q.StartSync(ctx, e))

	assert.Nil(t, q.GetQueueEntry(id, false))
	assert.Equal(t, 2, runs, "resumed at the failed step")
	assert.Equal(t, []interface{}{"first", "second"}, finished)
}

func TestAddQueueDataClearsError(t *testing.T) {
	mod := &Module{
		ENSAddress:  "a.evan",
		Dispatchers: map[string]*Dispatcher{"d": {Name: "d", Sequence: []Step{stepReturning(nil, errors.New("boom"))}}},
	}
	q, _, _ := newTestQueue(t, mod)
	ctx := context.Background()
	id := NewID("a.evan", "d", "1")

	require.NoError(t, q.AddQueueData(ctx, id, Payload{"x": 1}))
	require.NoError(t, q.StartSync(ctx, q.GetQueueEntry(id, false)))
	require.True(t, q.IsException(id))

	require.NoError(t, q.AddQueueData(ctx, id, Payload{"x": 2}))
	assert.False(t, q.IsException(id))
}

func TestStartSyncNonSerializableResult(t *testing.T) {
	mod := &Module{
		ENSAddress: "a.evan",
		Dispatchers: map[string]*Dispatcher{"d": {Name: "d", Sequence: []Step{
			stepReturning(make(chan int), nil),
			stepReturning("ok", nil),
		}}},
	}
	q, _, _ := newTestQueue(t, mod)
	ctx := context.Background()
	id := NewID("a.evan", "d", "1")

	var results []interface{}

	q.OnQueueFinish(id, func(_ ID, r []interface{}) { results = r })

	require.NoError(t, q.AddQueueData(ctx, id, Payload{}))
	require.NoError(t, q.StartSync(ctx, q.GetQueueEntry(id, false)))

	require.Len(t, results, 2)
	assert.Contains(t, results[0].(map[string]interface{})["error"], "not serializable")
	assert.Equal(t, "ok", results[1])
}

func TestStartSyncModuleLoadFailure(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	id := NewID("missing.evan", "d", "1")

	require.NoError(t, q.AddQueueData(ctx, id, Payload{}))

	err := q.StartSync(ctx, q.GetQueueEntry(id, false))
	assert.ErrorIs(t, err, ErrModuleNotFound)

	e := q.GetQueueEntry(id, false)
	require.NotNil(t, e)
	assert.Nil(t, e.Ex)
	assert.False(t, e.Working)
}

func TestStartSyncUnknownEntry(t *testing.T) {
	q, _, _ := newTestQueue(t)

	err := q.StartSync(context.Background(), &Entry{QueueID: NewID("a.evan", "d", "1")})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestStartSyncAll(t *testing.T) {
	var l sync.Mutex

	ran := map[string]int{}
	step := Step{Name: "count", Run: func(_ context.Context, _ interface{}, e *Entry) (interface{}, error) {
		l.Lock()
		ran[e.QueueID.ID]++
		l.Unlock()

		if e.QueueID.ID == "bad" {
			return nil, errors.New("rejected")
		}

		return nil, nil
	}}
	mod := &Module{ENSAddress: "a.evan", Dispatchers: map[string]*Dispatcher{"d": {Name: "d", Sequence: []Step{step}}}}

	q, _, _ := newTestQueue(t, mod)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "bad"} {
		require.NoError(t, q.AddQueueData(ctx, NewID("a.evan", "d", id), Payload{}))
	}

	require.NoError(t, q.StartSyncAll(ctx, false))
	assert.Equal(t, map[string]int{"1": 1, "2": 1, "bad": 1}, ran)
	require.Len(t, q.Entries(), 1)

	require.NoError(t, q.StartSyncAll(ctx, true))
	assert.Equal(t, 1, ran["bad"], "errored entries are skipped")

	require.NoError(t, q.StartSyncAll(ctx, false))
	assert.Equal(t, 2, ran["bad"])
}

func TestOnQueueFinishUnsubscribe(t *testing.T) {
	mod := &Module{ENSAddress: "a.evan", Dispatchers: map[string]*Dispatcher{"d": {Name: "d"}}}
	q, _, _ := newTestQueue(t, mod)
	ctx := context.Background()

	first, second := 0, 0
	unsubscribe := q.OnQueueFinish(NewID("*", "d", "*"), func(ID, []interface{}) { first++ })
	q.OnQueueFinish(NewID("*", "d", "*"), func(ID, []interface{}) { second++ })

	unsubscribe()

	require.NoError(t, q.AddQueueData(ctx, NewID("a.evan", "d", "1"), Payload{}))
	require.NoError(t, q.StartSyncAll(ctx, false))

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestRemoveQueueEntry(t *testing.T) {
	q, _, r := newTestQueue(t)
	ctx := context.Background()
	id := NewID("a.evan", "d", "1")

	assert.ErrorIs(t, q.RemoveQueueEntry(ctx, id), ErrEntryNotFound)

	require.NoError(t, q.AddQueueData(ctx, id, Payload{}))
	require.NoError(t, q.RemoveQueueEntry(ctx, id))
	assert.Empty(t, q.Entries())
	assert.Len(t, r.kinds(EventRemove), 1)
}

func TestLoadDispatcherForQueueCachesModules(t *testing.T) {
	loads := 0
	mod := &Module{ENSAddress: "a.evan", Dispatchers: map[string]*Dispatcher{"d": {Name: "d"}, "e": {Name: "e"}}}
	loader := loaderFunc(func(_ context.Context, ens string) (*Module, error) {
		loads++

		return mod, nil
	})

	q := New(&blobStore{}, NewRuntime(loader))
	ctx := context.Background()

	require.NoError(t, q.AddQueueData(ctx, NewID("a.evan", "d", "1"), Payload{}))
	require.NoError(t, q.AddQueueData(ctx, NewID("a.evan", "e", "1"), Payload{}))
	require.NoError(t, q.LoadDispatcherForQueue(ctx, nil))

	assert.Equal(t, 1, loads)

	var missing *Module = &Module{ENSAddress: "b.evan", Dispatchers: map[string]*Dispatcher{}}
	q2 := New(&blobStore{}, NewRuntime(NewRegistry(missing)))
	require.NoError(t, q2.AddQueueData(ctx, NewID("b.evan", "nope", "1"), Payload{}))
	assert.ErrorIs(t, q2.LoadDispatcherForQueue(ctx, nil), ErrDispatcherNotFound)
}

type loaderFunc func(ctx context.Context, ens string) (*Module, error)

func (f loaderFunc) Load(ctx context.Context, ens string) (*Module, error) { return f(ctx, ens) }

// update is the part of an update event the tests check.
type update struct {
	Status  int
	Working bool
	Error   string
}

func (r *recorder) updates() []update {
	var out []update

	for _, e := range r.kinds(EventUpdate) {
		out = append(out, update{Status: e.Status, Working: e.Working, Error: e.Error})
	}

	return out
}

func TestUpdateEvents(t *testing.T) {
	fail := false

	mod := &Module{
		ENSAddress: "a.evan",
		Dispatchers: map[string]*Dispatcher{
			"d": {
				Name: "d",
				Sequence: []Step{
					stepReturning("first", nil),
					{Name: "second", Run: func(context.Context, interface{}, *Entry) (interface{}, error) {
						if fail {
							return nil, errors.New("out of gas")
						}

						return "second", nil
					}},
				},
			},
		},
	}

	cases := []struct {
		name    string
		fail    bool
		updates []update
	}{
		{"success", false, []update{{0, false, ""}, {0, true, ""}, {1, true, ""}, {2, true, ""}}},
		{"halt", true, []update{{0, false, ""}, {0, true, ""}, {1, true, ""}, {1, false, "out of gas"}}},
	}

	for _, c := range cases {
		fail = c.fail
		q, _, r := newTestQueue(t, mod)
		ctx := context.Background()
		id := NewID("a.evan", "d", "1")

		require.NoError(t, q.AddQueueData(ctx, id, Payload{"x": 1}), c.name)
		require.NoError(t, q.StartSync(ctx, q.GetQueueEntry(id, false)), c.name)

		assert.Equal(t, c.updates, r.updates(), c.name)

		for _, e := range r.kinds(EventUpdate)[1:] {
			assert.Equal(t, 2, e.Steps, c.name)
			assert.True(t, id.Equal(e.QueueID), c.name)
		}

		if c.fail {
			assert.Empty(t, r.kinds(EventFinish), c.name)
		} else {
			require.Len(t, r.kinds(EventFinish), 1, c.name)
			assert.False(t, r.kinds(EventFinish)[0].Working, c.name)
		}
	}
}

func TestReloadOnlyForActiveDApp(t *testing.T) {
	mod := &Module{
		ENSAddress:  "a.evan",
		Dispatchers: map[string]*Dispatcher{"d": {Name: "d", Sequence: []Step{stepReturning("ok", nil)}}},
	}

	for _, active := range []string{"b.evan", "a.evan"} {
		active := active
		r := &recorder{}
		q := New(&blobStore{}, NewRuntime(NewRegistry(mod)), WithNotifier(r),
			WithActiveDApp(func() string { return active }))
		ctx := context.Background()

		id := NewID("a.evan", "d", "1")
		id.ForceReload = true

		require.NoError(t, q.AddQueueData(ctx, id, Payload{"x": 1}))
		require.NoError(t, q.StartSync(ctx, q.GetQueueEntry(id, false)))

		if active == "a.evan" {
			assert.Len(t, r.kinds(EventReload), 1, active)
		} else {
			assert.Empty(t, r.kinds(EventReload), active)
		}

		assert.Len(t, r.kinds(EventFinish), 1, active)
	}
}

func TestAddQueueDataDuringSync(t *testing.T) {
	var (
		q    *Queue
		seen [][]Payload
	)

	ctx := context.Background()
	id := NewID("addressbook.evan", "addressBookDispatcher", "0xB")

	mod := &Module{
		ENSAddress: "addressbook.evan",
		Dispatchers: map[string]*Dispatcher{
			"addressBookDispatcher": {
				Name: "addressBookDispatcher",
				Sequence: []Step{
					{Name: "one", Run: func(_ context.Context, _ interface{}, e *Entry) (interface{}, error) {
						seen = append(seen, e.Data)

						if len(seen) == 1 {
							// written while the first sync runs: a new contact and the removal of the synced one
							require.NoError(t, q.AddQueueData(ctx, id, Payload{"accountId": "0xC", "type": TypeAdd}, "accountId"))
							require.NoError(t, q.AddQueueData(ctx, id, Payload{"accountId": "0xA", "type": TypeRemove}, "accountId"))
						}

						return len(e.Data), nil
					}},
					{Name: "two", Run: func(_ context.Context, _ interface{}, e *Entry) (interface{}, error) {
						return len(e.Data), nil
					}},
				},
			},
		},
	}

	q, s, r := newTestQueue(t, mod)

	var finished [][]interface{}

	q.OnQueueFinish(id, func(_ ID, results []interface{}) {
		if results != nil {
			finished = append(finished, results)
		}
	})

	require.NoError(t, q.AddQueueData(ctx, id, Payload{"accountId": "0xA", "type": TypeAdd}, "accountId"))
	require.NoError(t, q.StartSync(ctx, q.GetQueueEntry(id, false)))

	require.Len(t, finished, 1)
	assert.Equal(t, []interface{}{float64(1), float64(1)}, finished[0], "steps only saw the payload queued before the sync")

	e := q.GetQueueEntry(id, false)
	require.NotNil(t, e, "payloads added during the sync are kept")
	assert.Equal(t, []Payload{
		{"accountId": "0xC", "type": TypeAdd},
		{"accountId": "0xA", "type": TypeRemove},
	}, e.Data)
	assert.Zero(t, e.Status)
	assert.Empty(t, e.Results)
	assert.False(t, e.Working)

	stored, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Len(t, stored[0].Data, 2)

	// the watcher sees the requeued entry after the finish
	events := r.events
	require.NotEmpty(t, events)
	assert.Equal(t, EventUpdate, events[len(events)-1].Kind)
	assert.Equal(t, EventFinish, events[len(events)-2].Kind)

	require.NoError(t, q.StartSync(ctx, e))

	assert.Nil(t, q.GetQueueEntry(id, false))
	require.Len(t, seen, 2)
	assert.Len(t, seen[1], 2)
	require.Len(t, finished, 2)
	assert.Equal(t, []interface{}{float64(2), float64(2)}, finished[1])
}

func TestStartSyncReportsStoreErrors(t *testing.T) {
	mod := &Module{
		ENSAddress:  "a.evan",
		Dispatchers: map[string]*Dispatcher{"d": {Name: "d", Sequence: []Step{stepReturning("ok", nil)}}},
	}

	q, s, _ := newTestQueue(t, mod)
	ctx := context.Background()
	id := NewID("a.evan", "d", "1")
	errDisk := errors.New("disk full")

	require.NoError(t, q.AddQueueData(ctx, id, Payload{"x": 1}))

	s.setFail(errDisk)
	assert.ErrorIs(t, q.StartSync(ctx, q.GetQueueEntry(id, false)), errDisk)
	assert.Nil(t, q.GetQueueEntry(id, false))

	assert.ErrorIs(t, q.StartSync(ctx, nil), ErrEntryNotFound)
}
