package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-treasury/treasury-agent/modules/store"
	"github.com/nova-treasury/treasury-agent/types"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := func() int64 { return 1000 }
	return New(st, logrus.NewEntry(logrus.New()), 3, now), st
}

func TestRunSucceedsAndReleasesLock(t *testing.T) {
	e, st := newTestEngine(t)

	result := e.Run(context.Background(), types.LockTypeBuyJob, time.Second, func(ctx context.Context) error {
		return nil
	})
	if result.Status != StatusOK {
		t.Fatalf("Status = %v, want StatusOK", result.Status)
	}

	held, err := st.IsLockHeld(types.LockTypeBuyJob)
	if err != nil {
		t.Fatalf("IsLockHeld: %v", err)
	}
	if held {
		t.Fatalf("expected lock released after successful run")
	}
}

func TestRunSkipsWhenLockAlreadyHeld(t *testing.T) {
	e, st := newTestEngine(t)
	if err := st.AcquireLock(types.LockTypeBuyJob, "other-pid", 1000); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	result := e.Run(context.Background(), types.LockTypeBuyJob, time.Second, func(ctx context.Context) error {
		t.Fatal("job should not run when lock is held")
		return nil
	})
	if result.Status != StatusSkippedLockHeld {
		t.Fatalf("Status = %v, want StatusSkippedLockHeld", result.Status)
	}
}

func TestRunSkipsWhenSafeModeLatched(t *testing.T) {
	e, st := newTestEngine(t)
	if err := st.SetBotState(types.BotStateSafeMode, "true"); err != nil {
		t.Fatalf("SetBotState: %v", err)
	}
	if err := st.SetBotState(types.BotStateSafeModeReason, "too many errors"); err != nil {
		t.Fatalf("SetBotState: %v", err)
	}

	result := e.Run(context.Background(), types.LockTypeBuyJob, time.Second, func(ctx context.Context) error {
		t.Fatal("job should not run in safe mode")
		return nil
	})
	if result.Status != StatusSkippedSafeMode {
		t.Fatalf("Status = %v, want StatusSkippedSafeMode", result.Status)
	}
}

func TestRunClassifiesTimeoutWithoutCountingAsRPCError(t *testing.T) {
	e, st := newTestEngine(t)

	result := e.Run(context.Background(), types.LockTypeBuyJob, 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if result.Status != StatusTimedOut {
		t.Fatalf("Status = %v, want StatusTimedOut", result.Status)
	}

	v, found, err := st.GetBotState(types.BotStateConsecutiveRPCErrors)
	if err != nil {
		t.Fatalf("GetBotState: %v", err)
	}
	if found && v != "0" && v != "" {
		t.Fatalf("expected consecutive_rpc_errors untouched by timeout, got %q", v)
	}
}

func TestRunTripsSafeModeAfterMaxConsecutiveRPCErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	transientErr := errors.New("dial tcp: 503 service unavailable")

	for i := 0; i < 3; i++ {
		result := e.Run(context.Background(), types.LockTypeBuyJob, time.Second, func(ctx context.Context) error {
			return transientErr
		})
		if result.Status != StatusFailed {
			t.Fatalf("iteration %d: Status = %v, want StatusFailed", i, result.Status)
		}
	}

	safeMode, reason, err := e.isSafeMode()
	require.NoError(t, err)
	assert.True(t, safeMode, "expected safe mode latched after 3 consecutive transient errors")
	assert.NotEmpty(t, reason)
}

func TestRunDoesNotCountNonTransientErrors(t *testing.T) {
	e, st := newTestEngine(t)
	nonTransient := errors.New("invalid signature")

	for i := 0; i < 5; i++ {
		e.Run(context.Background(), types.LockTypeBuyJob, time.Second, func(ctx context.Context) error {
			return nonTransient
		})
	}

	safeMode, _, err := e.isSafeMode()
	if err != nil {
		t.Fatalf("isSafeMode: %v", err)
	}
	if safeMode {
		t.Fatalf("expected safe mode not latched by non-transient errors")
	}
	_ = st
}

func TestExitSafeModeClearsLatch(t *testing.T) {
	e, st := newTestEngine(t)
	if err := st.SetBotState(types.BotStateSafeMode, "true"); err != nil {
		t.Fatalf("SetBotState: %v", err)
	}

	require.NoError(t, e.ExitSafeMode())

	safeMode, _, err := e.isSafeMode()
	require.NoError(t, err)
	assert.False(t, safeMode, "expected safe mode cleared")
}
