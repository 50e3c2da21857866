package queue

import (
	"context"
	"time"
)

// Kinds of events broadcast by a queue.
const (
	EventUpdate = "update" // status of an entry changed
	EventRemove = "remove" // entry discarded by the user
	EventFinish = "finish" // entry ran all its steps and left the queue
	EventToast  = "toast"  // message to show to the user
	EventReload = "reload" // the screen of the entry's DApp should reload
)

// Toast levels.
const (
	LevelSuccess = "success"
	LevelError   = "error"
)

// Event is broadcast on every change of the queue so other components can react to it.
type Event struct {
	Kind      string        `json:"kind"`
	QueueID   ID            `json:"queueId"`
	Status    int           `json:"status"`
	Steps     int           `json:"steps"`
	Working   bool          `json:"working"`
	Error     string        `json:"error,omitempty"`
	Message   string        `json:"message,omitempty"`
	Level     string        `json:"level,omitempty"`
	Results   []interface{} `json:"results,omitempty"`
	Timestamp int64         `json:"ts"`
}

// Notifier receives the events of a queue.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(e Event) { f(e) }

// Store persists the entries of a queue as a whole.
type Store interface {
	LoadQueue(ctx context.Context) ([]*Entry, error)
	StoreQueue(ctx context.Context, entries []*Entry) error
}

// eventOf builds an event of the given kind from the current state of e. Must be called with the queue lock held.
func eventOf(kind string, e *Entry) Event {
	ev := Event{
		Kind:      kind,
		QueueID:   e.QueueID,
		Status:    e.Status,
		Working:   e.Working,
		Timestamp: time.Now().UnixMilli(),
	}

	if e.Dispatcher != nil {
		ev.Steps = len(e.Dispatcher.Sequence)
	}

	if e.Ex != nil {
		ev.Error = e.Ex.Message
	}

	return ev
}
