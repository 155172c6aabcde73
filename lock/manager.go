package lock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultTTL is the lease duration when Options.TTL is zero.
	DefaultTTL = 30 * time.Second

	pollBase = 25 * time.Millisecond
	pollMax  = 500 * time.Millisecond
)

// Waiter describes one blocked acquisition, for the monitor.
type Waiter struct {
	Holder string
	Key    string
	Mode   Mode
	Since  time.Time
}

// Manager hands out hierarchical locks backed by a Coordinator. It keeps a
// local table of what each holder owns so that hierarchy violations are
// rejected before a single coordination-store round trip, and a table of
// who is blocked on what for the deadlock monitor.
type Manager struct {
	coord Coordinator
	log   *zap.Logger

	mu      sync.Mutex
	held    map[string]map[string]*Handle // holder -> scope key -> handle
	waiting map[string]Waiter             // holder -> current wait
}

// NewManager creates a manager over the given coordinator. A nil logger
// disables logging.
func NewManager(coord Coordinator, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		coord:   coord,
		log:     log,
		held:    make(map[string]map[string]*Handle),
		waiting: make(map[string]Waiter),
	}
}

// Acquire takes a lock, polling with jittered backoff until it is granted
// or the wait budget runs out. Requesting a nested scope without holding
// its parent fails immediately with ErrHierarchyViolation, before any
// coordinator call.
func (m *Manager) Acquire(ctx context.Context, scope Scope, mode Mode, opts Options) (*Handle, error) {
	if opts.Holder == "" {
		return nil, fmt.Errorf("lock %s: holder required", scope.Key())
	}
	if scope.Level() == 0 {
		return nil, fmt.Errorf("lock: zero scope")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if parent, ok := scope.Parent(); ok {
		if !m.holds(opts.Holder, parent.Key()) {
			return nil, fmt.Errorf("%w: %s requires %s held by %s",
				ErrHierarchyViolation, scope.Key(), parent.Key(), opts.Holder)
		}
	}

	key := scope.Key()
	token := uuid.New().String()
	deadline := time.Now().Add(opts.WaitTimeout)

	m.setWaiting(opts.Holder, key, mode)
	defer m.clearWaiting(opts.Holder)

	attempt := 0
	for {
		ok, err := m.coord.TryAcquire(ctx, key, token, opts.Holder, mode, ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			h := &Handle{
				Scope:    scope,
				Mode:     mode,
				Holder:   opts.Holder,
				Deadline: time.Now().Add(ttl),
				token:    token,
			}
			m.track(h)
			m.log.Debug("lock acquired",
				zap.String("key", key),
				zap.String("holder", opts.Holder),
				zap.String("mode", mode.String()))
			return h, nil
		}

		if opts.WaitTimeout <= 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s (%s) after %s",
				ErrTimeout, key, mode, opts.WaitTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
		attempt++
	}
}

// Release frees the lease behind a handle. ErrNotHeld means the lease
// already expired; the caller's critical section may have overlapped with
// another holder's, which is why every side effect is also guarded by the
// branch CAS.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	m.untrack(h)

	ok, err := m.coord.Release(ctx, h.Scope.Key(), h.token, h.Mode)
	if err != nil {
		return fmt.Errorf("release %s: %w", h.Scope.Key(), err)
	}
	if !ok {
		m.log.Warn("released an expired lease",
			zap.String("key", h.Scope.Key()),
			zap.String("holder", h.Holder))
		return fmt.Errorf("%w: %s", ErrNotHeld, h.Scope.Key())
	}
	return nil
}

// Extend renews the lease for a long-running operation.
func (m *Manager) Extend(ctx context.Context, h *Handle, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := m.coord.Extend(ctx, h.Scope.Key(), h.token, h.Mode, ttl)
	if err != nil {
		return fmt.Errorf("extend %s: %w", h.Scope.Key(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHeld, h.Scope.Key())
	}
	h.Deadline = time.Now().Add(ttl)
	return nil
}

// WithLock runs fn under a lock and releases it on every exit path:
// success, error, and panic (re-raised after release).
func (m *Manager) WithLock(ctx context.Context, scope Scope, mode Mode, opts Options, fn func(ctx context.Context) error) error {
	h, err := m.Acquire(ctx, scope, mode, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = m.Release(ctx, h)
			panic(p)
		}
	}()

	if err := fn(ctx); err != nil {
		_ = m.Release(ctx, h)
		return err
	}
	return m.Release(ctx, h)
}

// Waiters returns a snapshot of blocked acquisitions in this process.
func (m *Manager) Waiters() []Waiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Waiter, 0, len(m.waiting))
	for _, w := range m.waiting {
		out = append(out, w)
	}
	return out
}

// Holders returns the coordinator's snapshot of live leases.
func (m *Manager) Holders(ctx context.Context) ([]Record, error) {
	return m.coord.Holders(ctx)
}

func (m *Manager) holds(holder, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[holder][key]
	return ok
}

func (m *Manager) track(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[h.Holder] == nil {
		m.held[h.Holder] = make(map[string]*Handle)
	}
	m.held[h.Holder][h.Scope.Key()] = h
}

func (m *Manager) untrack(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held[h.Holder], h.Scope.Key())
	if len(m.held[h.Holder]) == 0 {
		delete(m.held, h.Holder)
	}
}

func (m *Manager) setWaiting(holder, key string, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting[holder] = Waiter{Holder: holder, Key: key, Mode: mode, Since: time.Now()}
}

func (m *Manager) clearWaiting(holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waiting, holder)
}

// backoff returns the jittered poll delay for the nth retry.
func backoff(attempt int) time.Duration {
	d := pollBase << uint(attempt)
	if d > pollMax || d <= 0 {
		d = pollMax
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
