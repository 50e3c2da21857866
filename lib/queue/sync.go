package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/evannetwork/ui-angular-core-sub000/lib/metrics"
)

// StartSync runs the remaining steps of the queued entry with the identity of entry, one after the other. Each
// successful step advances the entry status and appends its result. A failing step stops the entry, which keeps its
// status and records the error until it is synced again. Once all the steps ran, the synced payloads leave the queue
// and the finish subscribers matching the entry are called with the results. Payloads queued while the steps ran are
// kept in the entry, which starts over at its first step on the next sync.
//
// Step errors are kept on the entry and not returned. The returned error reports entries that are not queued,
// dispatchers that cannot be loaded, cancelled contexts and failures to store the queue.
func (q *Queue) StartSync(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return ErrEntryNotFound
	}

	q.l.Lock()

	e := q.find(entry.QueueID)
	if e == nil {
		q.l.Unlock()

		return fmt.Errorf("%s: %w", entry.QueueID, ErrEntryNotFound)
	}

	if e.Working {
		q.l.Unlock()

		return nil
	}

	e.acquire()
	e.Ex = nil
	needsDispatcher := e.Dispatcher == nil
	q.l.Unlock()

	if needsDispatcher {
		if err := q.LoadDispatcherForQueue(ctx, e); err != nil {
			q.l.Lock()
			e.release()
			q.l.Unlock()

			q.log.WithField("queue", e.QueueID.String()).WithError(err).Error("Cannot load dispatcher")

			return err
		}
	}

	log := q.log.WithField("queue", e.QueueID.String())

	var storeErr error

	q.l.Lock()
	d := e.Dispatcher
	q.notifyLocked(eventOf(EventUpdate, e))
	q.l.Unlock()

	for {
		q.l.Lock()

		if !q.contains(e) {
			e.release()
			q.l.Unlock()

			return fmt.Errorf("%s: %w", e.QueueID, ErrEntryNotFound)
		}

		if e.Status >= len(d.Sequence) {
			break // lock is released by finish
		}

		step := d.Sequence[e.Status]
		snapshot := e.stepView()
		q.l.Unlock()

		if err := ctx.Err(); err != nil {
			q.l.Lock()
			e.release()
			q.notifyLocked(eventOf(EventUpdate, e))
			storeErr = q.persistLocked(context.Background())
			q.l.Unlock()

			return errors.Join(err, storeErr)
		}

		log.WithField("step", step.Name).Debugf("Running step %d/%d", snapshot.Status+1, len(d.Sequence))

		start := time.Now()
		result, err := step.Run(ctx, d.Service(), snapshot)
		metrics.StepDuration.WithLabelValues(d.Name).Observe(time.Since(start).Seconds())

		q.l.Lock()

		if err != nil {
			metrics.StepsRun.WithLabelValues(d.Name, "error").Inc()

			e.Ex = newErrorInfo(err)
			e.release()
			q.notifyLocked(eventOf(EventUpdate, e))
			storeErr = q.persistLocked(ctx)
			q.l.Unlock()

			log.WithField("step", step.Name).WithError(err).Error("Step failed, entry halted")
			q.toast(e.QueueID, LevelError, fmt.Sprintf("%s: %s failed: %s", q.title(d), step.Name, err))

			return storeErr
		}

		metrics.StepsRun.WithLabelValues(d.Name, "ok").Inc()

		e.Status++
		e.Results = append(e.Results, cacheable(result))
		q.notifyLocked(eventOf(EventUpdate, e))

		if err := q.persistLocked(ctx); err != nil {
			storeErr = err
		}
		q.l.Unlock()
	}

	if err := q.finishLocked(ctx, e); err != nil {
		storeErr = err
	}

	return storeErr
}

// finishLocked takes the synced payloads out of the queue and notifies about them. The entry leaves the queue unless
// payloads were added during the sync. Must be called with the lock held, it releases it.
func (q *Queue) finishLocked(ctx context.Context, e *Entry) error {
	d := e.Dispatcher

	id := e.QueueID
	results := append([]interface{}(nil), e.Results...)
	synced := e.synced
	pending := len(e.Data) > synced

	e.release()

	ev := eventOf(EventFinish, e)
	ev.Results = results

	var requeued Event

	if pending {
		e.Data = append([]Payload{}, e.Data[synced:]...)
		e.Status = 0
		e.Results = nil
		requeued = eventOf(EventUpdate, e)
	} else {
		q.removeLocked(e)
	}

	err := q.persistLocked(ctx)
	q.l.Unlock()

	metrics.EntriesFinished.WithLabelValues(d.Name).Inc()

	log := q.log.WithField("queue", id.String())
	if pending {
		log.Info("Entry synced, payloads queued meanwhile wait for the next sync")
	} else {
		log.Info("Entry synced")
	}

	q.toast(id, LevelSuccess, fmt.Sprintf("%s: synchronisation finished", q.title(d)))

	if id.ForceReload && (q.activeDApp == nil || q.activeDApp() == id.ENSAddress) && q.notifier != nil {
		q.notifier.Notify(Event{Kind: EventReload, QueueID: id, Timestamp: time.Now().UnixMilli()})
	}

	for _, cb := range q.rt.subscribers(id) {
		cb(id, results)
	}

	if q.notifier != nil {
		q.notifier.Notify(ev)

		// the entry stays queued with the payloads added meanwhile
		if pending {
			q.notifier.Notify(requeued)
		}
	}

	return err
}

// StartSyncAll syncs every entry that is not being synced already, skipping the entries that stopped on an error
// when disableErrors is set. Entries run concurrently; it returns when all of them stopped.
func (q *Queue) StartSyncAll(ctx context.Context, disableErrors bool) error {
	q.l.Lock()

	var todo []*Entry

	for _, e := range q.entries {
		if e.Working || (disableErrors && e.Ex != nil) {
			continue
		}

		todo = append(todo, e.clone())
	}
	q.l.Unlock()

	var (
		wg   sync.WaitGroup
		el   sync.Mutex
		errs []error
	)

	for _, e := range todo {
		wg.Add(1)

		go func(e *Entry) {
			defer wg.Done()

			if err := q.StartSync(ctx, e); err != nil {
				el.Lock()
				errs = append(errs, err)
				el.Unlock()
			}
		}(e)
	}

	wg.Wait()

	return errors.Join(errs...)
}

// title returns the translated title of a dispatcher, or its name.
func (q *Queue) title(d *Dispatcher) string {
	key := d.Name + ".title"
	if t := q.rt.Translate(q.lang, key); t != key {
		return t
	}

	return d.Name
}
