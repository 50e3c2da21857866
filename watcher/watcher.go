// Package watcher implements the queue watcher service. The watcher consumes the events published by queue services
// and keeps the latest state of every queued entry, logging the messages and reload requests meant for the user.
package watcher

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/evannetwork/ui-angular-core-sub000/lib/msg"
	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
	"github.com/evannetwork/ui-angular-core-sub000/watcher/view"
)

// Watcher implements a watcher service.
type Watcher struct {
	name string
	mb   msg.MsgBroker
	v    *view.View
	log  logrus.FieldLogger

	stop chan struct{}
	once sync.Once
}

// New instantiates a new watcher consuming the events of mb as consumer name.
func New(name string, mb msg.MsgBroker, log logrus.FieldLogger) *Watcher {
	return &Watcher{
		name: name,
		mb:   mb,
		v:    view.New(),
		log:  log.WithField("watcher", name),
		stop: make(chan struct{}),
	}
}

// Watch starts a go routine consuming the queue events. The returned channel receives a message when the watcher
// stopped, either by Stop or because the broker closed.
func (w *Watcher) Watch() (<-chan string, error) {
	mut := new(sync.Mutex)
	mut.Lock()

	eveCh, errCh, err := w.mb.GetEvents(w.name, mut)
	if err != nil {
		return nil, fmt.Errorf("watcher: cannot get events: %w", err)
	}

	ret := make(chan string, 1)

	go func() {
		w.log.Info("Start listening to queue events")

		for {
			select {
			case e, ok := <-eveCh:
				if !ok {
					w.log.Info("Stop listening to queue events, broker closed")
					ret <- "broker closed"

					return
				}

				w.Handle(e)
				mut.Unlock()
			case err := <-errCh:
				w.log.WithError(err).Warn("Received error")
			case <-w.stop:
				w.log.Info("Stop listening to queue events")
				ret <- "stopped"

				return
			}
		}
	}()

	return ret, nil
}

// Stop ends the watching routine.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
}

// Handle applies an event to the view and logs what is meant for the user.
func (w *Watcher) Handle(e queue.Event) {
	log := w.log.WithField("queue", e.QueueID.String())

	switch e.Kind {
	case queue.EventToast:
		if e.Level == queue.LevelError {
			log.Warn(e.Message)
		} else {
			log.Info(e.Message)
		}
	case queue.EventReload:
		log.Info("DApp reload requested")
	case queue.EventFinish:
		w.v.Apply(e)
		log.WithField("results", len(e.Results)).Info("Entry synced")
	default:
		if w.v.Apply(e) {
			log.WithField("status", e.Status).WithField("steps", e.Steps).Debugf("Entry %s", e.Kind)
		}
	}
}

// Snapshot returns the states of the entries selected by id.
func (w *Watcher) Snapshot(id queue.ID) []view.State {
	return w.v.Snapshot(id)
}

// Handler replies the states of the queued entries as JSON, only those of the ens addresses in the query if any.
func (w *Watcher) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		states := []view.State{}

		ens := r.URL.Query()["ens"]
		if len(ens) == 0 {
			ens = []string{queue.Wildcard}
		}

		for _, e := range ens {
			states = append(states, w.Snapshot(queue.NewID(e, "", ""))...)
		}

		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(states)
	})
}
