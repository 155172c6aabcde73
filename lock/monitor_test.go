package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two holders on sibling branch scopes, each waiting on the scope the
// other holds. Neither can make progress; the monitor should flag both.
func TestMonitorInspectFlagsCrossWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(NewMemoryCoordinator(), nil)

	_, err := mgr.Acquire(ctx, BranchScope("x"), Exclusive, testOptions("alice#1"))
	require.NoError(t, err)
	_, err = mgr.Acquire(ctx, BranchScope("y"), Exclusive, testOptions("bob#1"))
	require.NoError(t, err)

	wait := func(holder, branch string) chan error {
		done := make(chan error, 1)
		go func() {
			_, err := mgr.Acquire(ctx, BranchScope(branch), Exclusive, Options{
				Holder:      holder,
				TTL:         time.Minute,
				WaitTimeout: 5 * time.Second,
			})
			done <- err
		}()
		return done
	}
	aliceDone := wait("alice#1", "y")
	bobDone := wait("bob#1", "x")

	// Let both waiters register.
	require.Eventually(t, func() bool {
		return len(mgr.Waiters()) == 2
	}, time.Second, 10*time.Millisecond)

	mon := NewMonitor(mgr, 0, nil)
	suspects, err := mon.Inspect(ctx)
	require.NoError(t, err)
	require.Len(t, suspects, 2)

	byHolder := map[string]Suspect{}
	for _, s := range suspects {
		byHolder[s.Waiter.Holder] = s
	}
	require.Contains(t, byHolder, "alice#1")
	require.Contains(t, byHolder, "bob#1")
	assert.Equal(t, "branch/y", byHolder["alice#1"].Waiter.Key)
	require.Len(t, byHolder["alice#1"].Blockers, 1)
	assert.Equal(t, "bob#1", byHolder["alice#1"].Blockers[0].Holder)
	assert.Equal(t, "branch/x", byHolder["bob#1"].Waiter.Key)
	require.Len(t, byHolder["bob#1"].Blockers, 1)
	assert.Equal(t, "alice#1", byHolder["bob#1"].Blockers[0].Holder)

	// Detection never cancels anyone. Unwind by hand.
	cancel()
	<-aliceDone
	<-bobDone
}

func TestMonitorInspectIgnoresPlainContention(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(NewMemoryCoordinator(), nil)

	_, err := mgr.Acquire(ctx, BranchScope("x"), Exclusive, testOptions("alice#1"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mgr.Acquire(ctx, BranchScope("x"), Exclusive, Options{
			Holder:      "bob#1",
			TTL:         time.Minute,
			WaitTimeout: 5 * time.Second,
		})
	}()

	require.Eventually(t, func() bool {
		return len(mgr.Waiters()) == 1
	}, time.Second, 10*time.Millisecond)

	// alice holds but is not waiting on anything, so bob is just queued.
	mon := NewMonitor(mgr, 0, nil)
	suspects, err := mon.Inspect(ctx)
	require.NoError(t, err)
	assert.Empty(t, suspects)

	cancel()
	<-done
}

func TestMonitorStartStop(t *testing.T) {
	mgr := NewManager(NewMemoryCoordinator(), nil)
	mon := NewMonitor(mgr, 10*time.Millisecond, nil)

	mon.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	mon.Stop()
}
