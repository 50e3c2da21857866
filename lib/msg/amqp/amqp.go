// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/evannetwork/ui-angular-core-sub000/lib/msg"
	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	l    sync.Mutex // guards ch
	ch   *amqp.Channel
	log  logrus.FieldLogger
}

// New instantiates a new amqp broker.
func New(uri string, log logrus.FieldLogger) (*Amqp, error) {
	r := &Amqp{log: log}

	var err error
	if r.conn, err = amqp.Dial(uri); err != nil {
		return nil, fmt.Errorf("cannot connect to message broker: %w", err)
	}

	log.Info("Connected to message broker")

	return r, nil
}

// Setup obtains an amqp channel and declares the message broker exchange:
//
// - qu ("queue updates"): the queue service publishes its events to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(msg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.l.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.WithError(err).Error("Error closing amqp.Channel")
		}

		r.ch = nil
		r.log.Debug("amqp.Channel closed")
	}
	r.l.Unlock()

	return r.conn.Close()
}

// channel returns the reused channel, obtaining it if not present.
func (r *Amqp) channel() (*amqp.Channel, error) {
	r.l.Lock()
	defer r.l.Unlock()

	if r.ch == nil {
		ch, err := r.conn.Channel()
		if err != nil {
			return nil, err
		}

		r.ch = ch
	}

	return r.ch, nil
}

// SendEvent publishes a queue event to the "qu" exchange
func (r *Amqp) SendEvent(e queue.Event) error {
	// marshal to JSON
	jsonDoc, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ch, err := r.channel()
	if err != nil {
		return err
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-queue-id": e.QueueID.String()},
		Body:        jsonDoc,
		ContentType: "application/json",
	}
	// publish
	if err = ch.Publish(msg.Exchange, msg.RoutingKey(e.Kind), false, false, m); err != nil {
		return fmt.Errorf("cannot publish %s event: %w", e.Kind, err)
	}

	return nil
}

// GetEvents consumes events from the "qu" exchange pushing them to the returned channel. See msg.MsgBroker for the
// use of the mutex.
func (r *Amqp) GetEvents(name string, mut *sync.Mutex) (<-chan queue.Event, <-chan error, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, nil, err
	}
	// declare queue
	if _, err = ch.QueueDeclare(msg.Exchange+name, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = ch.QueueBind(msg.Exchange+name, msg.RoutingKey("#"), msg.Exchange, false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving events
	msgs, errCons := ch.Consume(msg.Exchange+name, "watcher-"+name, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	eves := make(chan queue.Event)
	errs := make(chan error)
	// start routine to consume messages from broker
	go func() {
		defer close(eves)

		for m := range msgs {
			var e queue.Event
			if err := json.Unmarshal(m.Body, &e); err != nil {
				errs <- err

				_ = m.Nack(false, false)

				continue
			}

			eves <- e
			mut.Lock() // wait for the consumer to finish processing the event
			_ = m.Ack(false)
		}
	}()

	return eves, errs, nil
}
