// Package engine is the execution wrapper every scheduled job runs
// through (spec §4.9): a safe-mode gate, a durable single-flight lock, a
// cooperative per-job timeout, and RPC-error classification that can trip
// safe mode.
package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nova-treasury/treasury-agent/build"
	"github.com/nova-treasury/treasury-agent/internal/clock"
	"github.com/nova-treasury/treasury-agent/modules/store"
	"github.com/nova-treasury/treasury-agent/types"
)

// transientRPCMarkers are substrings that, if present in a failing job's
// error message, mark the failure as a transient RPC error rather than a
// permanent one (spec §4.9 step 5).
var transientRPCMarkers = []string{"503", "429", "timeout", "ECONNREFUSED", "fetch failed"}

// Status classifies how a run ended.
type Status int

const (
	// StatusOK means the job ran to completion without error.
	StatusOK Status = iota
	// StatusSkippedSafeMode means safe mode was latched at the gate.
	StatusSkippedSafeMode
	// StatusSkippedLockHeld means the lock could not be acquired.
	StatusSkippedLockHeld
	// StatusTimedOut means the job's context deadline elapsed.
	StatusTimedOut
	// StatusFailed means the job returned a non-timeout error.
	StatusFailed
)

// Result is what Engine.Run reports to the scheduler.
type Result struct {
	Status Status
	Err    error
}

// Engine wraps job execution with the gate/lock/timeout/classify pipeline.
type Engine struct {
	Store                      *store.Store
	Log                        *logrus.Entry
	MaxRPCErrorsBeforeSafeMode int
	Now                        func() int64
}

// New constructs an Engine.
func New(st *store.Store, log *logrus.Entry, maxRPCErrors int, now func() int64) *Engine {
	return &Engine{Store: st, Log: log, MaxRPCErrorsBeforeSafeMode: maxRPCErrors, Now: now}
}

// Run wraps job, a function accepting a cancellation context, with the
// full execution-engine pipeline (spec §4.9).
func (e *Engine) Run(ctx context.Context, lockType types.LockType, timeout time.Duration, job func(context.Context) error) Result {
	safeMode, reason, err := e.isSafeMode()
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	if safeMode {
		e.Log.WithField("reason", reason).Info("skipping job: safe mode is latched")
		return Result{Status: StatusSkippedSafeMode, Err: errors.New("safe mode: " + reason)}
	}

	ownerPID := clock.NewID()
	if err := e.Store.AcquireLock(lockType, ownerPID, e.Now()); err != nil {
		if errors.Is(err, types.ErrConflict) {
			return Result{Status: StatusSkippedLockHeld}
		}
		return Result{Status: StatusFailed, Err: err}
	}
	defer func() {
		if err := e.Store.ReleaseLock(lockType); err != nil {
			e.Log.WithError(err).WithField("lockType", lockType).Warn("failed to release lock")
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = job(jobCtx)
	if err == nil {
		if resetErr := e.Store.SetBotState(types.BotStateConsecutiveRPCErrors, "0"); resetErr != nil {
			e.Log.WithError(resetErr).Warn("failed to reset consecutive_rpc_errors")
		}
		return Result{Status: StatusOK}
	}

	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return Result{Status: StatusTimedOut, Err: err}
	}

	if isTransientRPCError(err) {
		count, incrErr := e.incrementConsecutiveRPCErrors()
		if incrErr != nil {
			e.Log.WithError(incrErr).Warn("failed to increment consecutive_rpc_errors")
		} else if count >= e.MaxRPCErrorsBeforeSafeMode {
			reason := "consecutive RPC errors reached " + strconv.Itoa(count)
			if setErr := e.setSafeMode(reason); setErr != nil {
				e.Log.WithError(setErr).Error("failed to latch safe mode")
			} else {
				e.Log.WithField("reason", reason).Error("safe mode latched")
			}
		}
	}

	return Result{Status: StatusFailed, Err: err}
}

func isTransientRPCError(err error) bool {
	msg := err.Error()
	for _, marker := range transientRPCMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (e *Engine) isSafeMode() (bool, string, error) {
	val, found, err := e.Store.GetBotState(types.BotStateSafeMode)
	if err != nil {
		return false, "", err
	}
	if !found || val != "true" {
		return false, "", nil
	}
	reason, _, err := e.Store.GetBotState(types.BotStateSafeModeReason)
	if err != nil {
		return true, "", err
	}
	return true, reason, nil
}

func (e *Engine) setSafeMode(reason string) error {
	if err := e.Store.SetBotState(types.BotStateSafeMode, "true"); err != nil {
		return err
	}
	return e.Store.SetBotState(types.BotStateSafeModeReason, reason)
}

func (e *Engine) incrementConsecutiveRPCErrors() (int, error) {
	val, found, err := e.Store.GetBotState(types.BotStateConsecutiveRPCErrors)
	if err != nil {
		return 0, err
	}
	count := 0
	if found {
		var err error
		count, err = strconv.Atoi(val)
		if err != nil {
			// This key is only ever written by this package (Run,
			// ExitSafeMode and incrementConsecutiveRPCErrors), always as a
			// decimal integer, so a parse failure means the bot_state bucket
			// itself is corrupt.
			build.Severe("consecutive_rpc_errors is not an integer:", val)
			count = 0
		}
	}
	count++
	if err := e.Store.SetBotState(types.BotStateConsecutiveRPCErrors, strconv.Itoa(count)); err != nil {
		return 0, err
	}
	return count, nil
}

// ExitSafeMode clears the safe-mode latch and its reason, the only
// sanctioned way to clear it (spec invariant I5).
func (e *Engine) ExitSafeMode() error {
	if err := e.Store.DeleteBotState(types.BotStateSafeMode); err != nil {
		return err
	}
	if err := e.Store.DeleteBotState(types.BotStateSafeModeReason); err != nil {
		return err
	}
	return e.Store.SetBotState(types.BotStateConsecutiveRPCErrors, "0")
}
