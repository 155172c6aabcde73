package lock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Suspect pairs a blocked acquisition with the holders standing in its way
// who are themselves blocked on something else. The hierarchy ordering
// makes a true cycle impossible, so a suspect usually means a holder stuck
// on a slow operation or an expired caller that never released.
type Suspect struct {
	Waiter   Waiter
	Blockers []Record
}

// Monitor periodically cross-references blocked acquisitions with the
// coordinator's holder table and logs suspected deadlocks. It only ever
// alerts; it never kills a holder or steals a lease.
type Monitor struct {
	mgr      *Manager
	interval time.Duration
	log      *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor over the manager. A nil logger disables
// logging; interval <= 0 defaults to 30s.
func NewMonitor(mgr *Manager, interval time.Duration, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		mgr:      mgr,
		interval: interval,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start launches the monitoring loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop halts the monitoring loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stopChan)
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			suspects, err := m.Inspect(ctx)
			if err != nil {
				m.log.Warn("lock monitor inspection failed", zap.Error(err))
				continue
			}
			for _, s := range suspects {
				blockers := make([]string, len(s.Blockers))
				for i, b := range s.Blockers {
					blockers[i] = b.Holder
				}
				m.log.Warn("suspected lock stall",
					zap.String("waiter", s.Waiter.Holder),
					zap.String("key", s.Waiter.Key),
					zap.Duration("waiting_for", time.Since(s.Waiter.Since)),
					zap.Strings("blockers", blockers))
			}
		}
	}
}

// Inspect performs one pass: a waiter is suspect when some holder of the
// key it wants is itself waiting on another key.
func (m *Monitor) Inspect(ctx context.Context) ([]Suspect, error) {
	waiters := m.mgr.Waiters()
	if len(waiters) == 0 {
		return nil, nil
	}

	holders, err := m.mgr.Holders(ctx)
	if err != nil {
		return nil, err
	}

	waitingHolders := make(map[string]bool, len(waiters))
	for _, w := range waiters {
		waitingHolders[w.Holder] = true
	}
	byKey := make(map[string][]Record)
	for _, rec := range holders {
		byKey[rec.Key] = append(byKey[rec.Key], rec)
	}

	var suspects []Suspect
	for _, w := range waiters {
		var blockers []Record
		for _, rec := range byKey[w.Key] {
			if rec.Holder != w.Holder && waitingHolders[rec.Holder] {
				blockers = append(blockers, rec)
			}
		}
		if len(blockers) > 0 {
			suspects = append(suspects, Suspect{Waiter: w, Blockers: blockers})
		}
	}
	return suspects, nil
}
