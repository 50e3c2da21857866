// Package queue implements the local-first write queue: payloads waiting to be written to the blockchain are grouped
// by queue ID into entries, persisted after every change and synced by dispatchers that run a sequence of steps per
// entry. Subscribers are called when an entry matching their (possibly wildcarded) ID finished.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evannetwork/ui-angular-core-sub000/lib/metrics"
)

// Errors returned by queue operations.
var (
	ErrEntryNotFound = errors.New("queue entry not found")
	ErrEntryWorking  = errors.New("queue entry is being synced")
	ErrPatternID     = errors.New("queue id with wildcards cannot hold data")
)

// Queue is the authoritative list of pending entries.
type Queue struct {
	l       sync.Mutex
	entries []*Entry

	store      Store
	rt         *Runtime
	notifier   Notifier
	log        logrus.FieldLogger
	lang       string
	activeDApp func() string
}

// Option configures a Queue.
type Option func(*Queue)

// WithNotifier sets the receiver of queue events.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithLogger sets the logger of the queue.
func WithLogger(l logrus.FieldLogger) Option {
	return func(q *Queue) { q.log = l }
}

// WithLanguage sets the language used for toast messages.
func WithLanguage(lang string) Option {
	return func(q *Queue) { q.lang = lang }
}

// WithActiveDApp sets a function returning the ens address of the DApp currently shown to the user. Without it,
// reload events are sent for every finished entry that asked for a forced reload.
func WithActiveDApp(f func() string) Option {
	return func(q *Queue) { q.activeDApp = f }
}

// New returns an empty queue persisted to s and running dispatchers from rt.
func New(s Store, rt *Runtime, opts ...Option) *Queue {
	q := &Queue{
		store: s,
		rt:    rt,
		log:   logrus.StandardLogger(),
		lang:  "en",
	}

	for _, o := range opts {
		o(q)
	}

	return q
}

// Init replaces the in-memory entries with the persisted ones.
func (q *Queue) Init(ctx context.Context) error {
	entries, err := q.store.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("cannot load queue: %w", err)
	}

	q.l.Lock()
	q.entries = entries
	metrics.Entries.Set(float64(len(entries)))
	q.l.Unlock()

	q.log.WithField("entries", len(entries)).Info("Queue loaded")

	return nil
}

// Runtime returns the runtime the queue resolves dispatchers from.
func (q *Queue) Runtime() *Runtime {
	return q.rt
}

// Translate returns the text of key in the queue language.
func (q *Queue) Translate(key string) string {
	return q.rt.Translate(q.lang, key)
}

// AddQueueData adds payload to the entry of id, creating the entry when needed. When idProperties are given, the
// payload replaces a queued payload with the same values for those properties, and an "add" and a "remove" of the
// same identity cancel each other. Any error of a previous sync is cleared.
func (q *Queue) AddQueueData(ctx context.Context, id ID, payload Payload, idProperties ...string) error {
	if id.IsPattern() {
		return fmt.Errorf("%s: %w", id, ErrPatternID)
	}

	q.l.Lock()
	defer q.l.Unlock()

	e := q.find(id)
	if e == nil {
		e = &Entry{QueueID: id, Data: []Payload{}}
		q.entries = append(q.entries, e)
		metrics.Entries.Set(float64(len(q.entries)))
	}

	if id.ForceReload {
		e.QueueID.ForceReload = true
	}

	e.upsert(payload, idProperties)
	e.Ex = nil

	q.notifyLocked(eventOf(EventUpdate, e))

	return q.persistLocked(ctx)
}

// GetQueueEntry returns a copy of the first entry selected by id. When none is found, it returns nil, or an empty
// entry for id if fillEmpty is set. The empty entry is not part of the queue.
func (q *Queue) GetQueueEntry(id ID, fillEmpty bool) *Entry {
	q.l.Lock()
	defer q.l.Unlock()

	for _, e := range q.entries {
		if id.Matches(e.QueueID) {
			return e.clone()
		}
	}

	if fillEmpty {
		return &Entry{QueueID: id, Data: []Payload{}}
	}

	return nil
}

// Entries returns a copy of all the entries in insertion order.
func (q *Queue) Entries() []*Entry {
	q.l.Lock()
	defer q.l.Unlock()

	out := make([]*Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.clone())
	}

	return out
}

// IsException reports whether an entry selected by id stopped on an error.
func (q *Queue) IsException(id ID) bool {
	q.l.Lock()
	defer q.l.Unlock()

	for _, e := range q.entries {
		if id.Matches(e.QueueID) && e.Ex != nil {
			return true
		}
	}

	return false
}

// RemoveQueueEntry discards the entry of id with all its payloads.
func (q *Queue) RemoveQueueEntry(ctx context.Context, id ID) error {
	q.l.Lock()
	defer q.l.Unlock()

	e := q.find(id)
	if e == nil {
		return fmt.Errorf("%s: %w", id, ErrEntryNotFound)
	}

	if e.Working {
		return fmt.Errorf("%s: %w", id, ErrEntryWorking)
	}

	q.removeLocked(e)
	q.notifyLocked(eventOf(EventRemove, e))

	return q.persistLocked(ctx)
}

// LoadDispatcherForQueue attaches its dispatcher to entry, or to every entry without one when entry is nil. Modules
// are loaded once per ens address and their translations registered.
func (q *Queue) LoadDispatcherForQueue(ctx context.Context, entry *Entry) error {
	q.l.Lock()

	var pending []*Entry

	if entry != nil {
		if live := q.find(entry.QueueID); live != nil {
			pending = append(pending, live)
		} else {
			pending = append(pending, entry)
		}
	} else {
		for _, e := range q.entries {
			if e.Dispatcher == nil {
				pending = append(pending, e)
			}
		}
	}

	byENS := make(map[string][]*Entry)
	order := []string{}

	for _, e := range pending {
		ens := e.QueueID.ENSAddress
		if _, ok := byENS[ens]; !ok {
			order = append(order, ens)
		}

		byENS[ens] = append(byENS[ens], e)
	}
	q.l.Unlock()

	for _, ens := range order {
		m, err := q.rt.module(ctx, ens)
		if err != nil {
			return fmt.Errorf("cannot load dispatcher module %s: %w", ens, err)
		}

		for _, e := range byENS[ens] {
			d, err := m.dispatcher(e.QueueID.Dispatcher)
			if err != nil {
				return err
			}

			q.rt.addTranslations(prefixed(d.Name, d.I18N))

			q.l.Lock()
			e.Dispatcher = d
			q.l.Unlock()
		}
	}

	return nil
}

// OnQueueFinish calls cb once right away and then every time an entry selected by id finished its sequence. The
// returned function removes this subscription.
func (q *Queue) OnQueueFinish(id ID, cb FinishFunc) func() {
	unsubscribe := q.rt.subscribe(id, cb)
	cb(id, nil)

	return unsubscribe
}

// find returns the entry with exactly the identity of id. Must be called with the lock held.
func (q *Queue) find(id ID) *Entry {
	for _, e := range q.entries {
		if e.QueueID.Equal(id) {
			return e
		}
	}

	return nil
}

// contains reports whether e is still queued. Must be called with the lock held.
func (q *Queue) contains(e *Entry) bool {
	for _, x := range q.entries {
		if x == e {
			return true
		}
	}

	return false
}

func (q *Queue) removeLocked(e *Entry) {
	for i, x := range q.entries {
		if x == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)

			break
		}
	}

	metrics.Entries.Set(float64(len(q.entries)))
}

// persistLocked writes all the entries to the store. Must be called with the lock held.
func (q *Queue) persistLocked(ctx context.Context) error {
	snapshot := make([]*Entry, len(q.entries))
	copy(snapshot, q.entries)

	if err := q.store.StoreQueue(ctx, snapshot); err != nil {
		q.log.WithError(err).Error("Cannot store queue")

		return fmt.Errorf("cannot store queue: %w", err)
	}

	return nil
}

func (q *Queue) notifyLocked(ev Event) {
	if q.notifier != nil {
		q.notifier.Notify(ev)
	}
}

func (q *Queue) toast(id ID, level, message string) {
	if q.notifier == nil {
		return
	}

	q.notifier.Notify(Event{
		Kind:      EventToast,
		QueueID:   id,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

// prefixed namespaces the translation keys of a dispatcher with its name.
func prefixed(name string, i18n map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(i18n))

	for lang, keys := range i18n {
		out[lang] = make(map[string]string, len(keys))
		for k, v := range keys {
			out[lang][name+"."+k] = v
		}
	}

	return out
}
