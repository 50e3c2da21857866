// Package scheduler syncs the queue periodically. Entries that stopped on an error are never retried by the
// scheduler; they wait for an explicit sync.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Syncer is the queue operation run on every tick.
type Syncer interface {
	StartSyncAll(ctx context.Context, disableErrors bool) error
}

// Scheduler runs StartSyncAll on a cron schedule. A tick is skipped while the previous sync is still running.
type Scheduler struct {
	c   *cron.Cron
	q   Syncer
	log logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New returns a scheduler for schedule, a cron expression or a descriptor such as "@every 1m". An empty schedule returns a
// scheduler that never runs.
func New(schedule string, q Syncer, log logrus.FieldLogger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{q: q, log: log.WithField("schedule", schedule), ctx: ctx, cancel: cancel}

	if schedule == "" {
		return s, nil
	}

	s.c = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.log))))

	if _, err := s.c.AddFunc(schedule, s.Run); err != nil {
		cancel()

		return nil, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start starts the schedule in its own go routine.
func (s *Scheduler) Start() {
	if s.c == nil {
		s.log.Info("Sync schedule disabled")

		return
	}

	s.c.Start()
	s.log.Info("Sync schedule started")
}

// Stop cancels a running sync and waits for it to return.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.cancel()

		if s.c != nil {
			<-s.c.Stop().Done()
		}
	})
}

// Run syncs all the entries without errors once.
func (s *Scheduler) Run() {
	if s.ctx.Err() != nil {
		return
	}

	s.log.Debug("Scheduled sync")

	if err := s.q.StartSyncAll(s.ctx, true); err != nil {
		s.log.WithError(err).Warn("Scheduled sync finished with errors")
	}
}
