package translog

import (
	"time"

	"github.com/eapache/channels"
	try "gopkg.in/matryer/try.v1"

	"github.com/quiverdb/translog/internal/logging"
)

// scheduler drives ASYNC durability's background fsync
// (index.translog.durability=ASYNC) on a ticker: each tick syncs the
// current generation if it has bytes not yet fsynced. Besides the fixed
// interval tick, callers can ask for an out-of-band sync via
// RequestSync — queued on an unbounded channel so a burst of requests
// never blocks the requester waiting for the scheduler goroutine to
// drain.
type scheduler struct {
	manager  *Manager
	interval time.Duration
	wake     *channels.InfiniteChannel
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func startScheduler(m *Manager, interval time.Duration) *scheduler {
	s := &scheduler{
		manager:  m,
		interval: interval,
		wake:     channels.NewInfiniteChannel(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *scheduler) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.manager.SyncNeeded() {
				s.syncWithRetry()
			}
		case _, ok := <-s.wake.Out():
			if !ok {
				return
			}
			s.syncWithRetry()
		}
	}
}

// syncWithRetry retries a transient fsync failure (e.g. a momentarily
// full disk) a few times before giving up and logging, rather than
// silently dropping durability for the interval.
func (s *scheduler) syncWithRetry() {
	err := try.Do(func(attempt int) (bool, error) {
		err := s.manager.Sync()
		return attempt < 3, err
	})
	if err != nil {
		logging.Error("translog: background sync failed after retries: %v", err)
	}
}

// RequestSync wakes the scheduler immediately instead of waiting for the
// next tick.
func (s *scheduler) RequestSync() {
	s.wake.In() <- struct{}{}
}

// Stop halts the background loop and waits for it to exit.
func (s *scheduler) Stop() {
	close(s.stopCh)
	s.wake.Close()
	<-s.doneCh
}
