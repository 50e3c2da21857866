// Package local implements the message broker interface in process. Every consumer gets every event sent after it
// subscribed, in order; sending never blocks on slow consumers.
package local

import (
	"errors"
	"sync"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
)

// ErrClosed is returned when using a closed broker.
var ErrClosed = errors.New("broker is closed")

// Local implements an in-process broker.
type Local struct {
	l         sync.Mutex
	consumers map[string]*consumer
	closed    bool
}

type consumer struct {
	l       sync.Mutex
	pending []queue.Event
	signal  chan struct{}
	done    chan struct{}
}

// New returns a broker without consumers.
func New() *Local {
	return &Local{consumers: make(map[string]*consumer)}
}

// Setup does nothing.
func (b *Local) Setup(interface{}) error {
	return nil
}

// Close stops all the consumers.
func (b *Local) Close() error {
	b.l.Lock()
	defer b.l.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	for _, c := range b.consumers {
		close(c.done)
	}

	return nil
}

// SendEvent queues e for every consumer.
func (b *Local) SendEvent(e queue.Event) error {
	b.l.Lock()
	defer b.l.Unlock()

	if b.closed {
		return ErrClosed
	}

	for _, c := range b.consumers {
		c.l.Lock()
		c.pending = append(c.pending, e)
		c.l.Unlock()

		select {
		case c.signal <- struct{}{}:
		default:
		}
	}

	return nil
}

// GetEvents subscribes the consumer name. A name already consuming gets an error. See msg.MsgBroker for the use of
// the mutex.
func (b *Local) GetEvents(name string, mut *sync.Mutex) (<-chan queue.Event, <-chan error, error) {
	b.l.Lock()
	defer b.l.Unlock()

	if b.closed {
		return nil, nil, ErrClosed
	}

	if _, ok := b.consumers[name]; ok {
		return nil, nil, errors.New("consumer " + name + " already exists")
	}

	c := &consumer{signal: make(chan struct{}, 1), done: make(chan struct{})}
	b.consumers[name] = c

	eves := make(chan queue.Event)
	errs := make(chan error)

	go c.run(eves, mut)

	return eves, errs, nil
}

func (c *consumer) run(eves chan<- queue.Event, mut *sync.Mutex) {
	defer close(eves)

	for {
		c.l.Lock()
		if len(c.pending) == 0 {
			c.l.Unlock()

			select {
			case <-c.signal:
				continue
			case <-c.done:
				return
			}
		}

		e := c.pending[0]
		c.pending = c.pending[1:]
		c.l.Unlock()

		select {
		case eves <- e:
		case <-c.done:
			return
		}
		mut.Lock() // wait for the consumer to finish processing the event
	}
}
