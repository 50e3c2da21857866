// Package view keeps the latest known state of every queued entry, as seen through the queue events.
package view

import (
	"sort"
	"sync"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
)

// State is the last known state of a queued entry.
type State struct {
	QueueID queue.ID `json:"queueId"`
	Status  int      `json:"status"`
	Steps   int      `json:"steps"`
	Working bool     `json:"working"`
	Error   string   `json:"error,omitempty"`
	Updated int64    `json:"updated"` // milliseconds
}

// View contains the states of the entries still queued.
type View struct {
	l   sync.Mutex // l is a mutex to ensure concurrent updating of the map
	Map map[queue.ID]State
}

// New returns an empty view.
func New() *View {
	return &View{Map: make(map[queue.ID]State)}
}

// key drops the fields that do not identify an entry.
func key(id queue.ID) queue.ID {
	id.ForceReload = false

	return id
}

// Apply updates the view with an event. It reports whether the view changed.
func (v *View) Apply(e queue.Event) bool {
	v.l.Lock()
	defer v.l.Unlock()

	k := key(e.QueueID)

	switch e.Kind {
	case queue.EventUpdate:
		if old, ok := v.Map[k]; ok && old.Updated > e.Timestamp {
			return false // out of order
		}

		v.Map[k] = State{
			QueueID: k,
			Status:  e.Status,
			Steps:   e.Steps,
			Working: e.Working,
			Error:   e.Error,
			Updated: e.Timestamp,
		}

		return true
	case queue.EventRemove, queue.EventFinish:
		_, ok := v.Map[k]
		delete(v.Map, k)

		return ok
	}

	return false
}

// Get returns the state of the entry of id and an ok flag.
func (v *View) Get(id queue.ID) (State, bool) {
	v.l.Lock()
	defer v.l.Unlock()

	s, ok := v.Map[key(id)]

	return s, ok
}

// Snapshot returns the states selected by the (possibly wildcarded) id, ordered by queue id.
func (v *View) Snapshot(id queue.ID) []State {
	v.l.Lock()
	defer v.l.Unlock()

	r := make([]State, 0, len(v.Map))
	for k, s := range v.Map {
		if id.Matches(k) {
			r = append(r, s)
		}
	}

	sort.Slice(r, func(i, j int) bool {
		a, b := r[i].QueueID, r[j].QueueID
		if a.ENSAddress != b.ENSAddress {
			return a.ENSAddress < b.ENSAddress
		}

		if a.Dispatcher != b.Dispatcher {
			return a.Dispatcher < b.Dispatcher
		}

		return a.ID < b.ID
	})

	return r
}
