// Package msg defines the interface for different message brokers.
//
// Queue events are published by the queue service and consumed by any number of named consumers (ie. the watcher
// service). Consumers receive every event kind.
package msg

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/evannetwork/ui-angular-core-sub000/lib/metrics"
	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
)

// Exchange is the name of the exchange queue events are published to.
const Exchange = "qu"

// RoutingKey returns the routing key of an event kind.
func RoutingKey(kind string) string {
	return "queue." + kind
}

// MsgBroker publishes and consumes queue events.
//
// GetEvents returns the events for the consumer name. The Mutex pointer is provided to ensure the consumed event has
// been fully dealt with by the management function: the receiver locks it before calling GetEvents and unlocks it
// once per event processed, and the event is only acknowledged to the broker then.
type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// methods for the queue service
	SendEvent(e queue.Event) error

	// methods for consumers
	GetEvents(name string, mut *sync.Mutex) (<-chan queue.Event, <-chan error, error)
}

// Notifier adapts a broker to receive the events of a queue. Failures to publish are logged and counted.
func Notifier(mb MsgBroker, log logrus.FieldLogger) queue.Notifier {
	return queue.NotifierFunc(func(e queue.Event) {
		if err := mb.SendEvent(e); err != nil {
			metrics.EventsSent.WithLabelValues(e.Kind, "error").Inc()
			log.WithField("queue", e.QueueID.String()).WithError(err).Errorf("Cannot send %s event", e.Kind)

			return
		}

		metrics.EventsSent.WithLabelValues(e.Kind, "ok").Inc()
	})
}
