package store

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/nova-treasury/treasury-agent/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertHolderMergesFields(t *testing.T) {
	s := openTestStore(t)

	ts := int64(100)
	_, err := s.UpsertHolder("wallet1", HolderPatch{FirstSeenTS: &ts})
	if err != nil {
		t.Fatalf("UpsertHolder: %v", err)
	}

	balance := big.NewInt(500)
	h, err := s.UpsertHolder("wallet1", HolderPatch{LastBalanceRaw: balance, AddCumulativeBuySOL: 1.5})
	if err != nil {
		t.Fatalf("UpsertHolder: %v", err)
	}
	if h.FirstSeenTS != ts {
		t.Fatalf("FirstSeenTS lost on merge: got %d want %d", h.FirstSeenTS, ts)
	}
	if h.LastBalanceRaw.Cmp(balance) != 0 {
		t.Fatalf("LastBalanceRaw = %s, want %s", h.LastBalanceRaw, balance)
	}
	if h.CumulativeBuySOL != 1.5 {
		t.Fatalf("CumulativeBuySOL = %v, want 1.5", h.CumulativeBuySOL)
	}

	h2, err := s.UpsertHolder("wallet1", HolderPatch{AddCumulativeBuySOL: 2})
	if err != nil {
		t.Fatalf("UpsertHolder: %v", err)
	}
	if h2.CumulativeBuySOL != 3.5 {
		t.Fatalf("CumulativeBuySOL accumulated = %v, want 3.5", h2.CumulativeBuySOL)
	}
}

func TestGetHolderNotFound(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetHolder("nope")
	if err != nil {
		t.Fatalf("GetHolder: %v", err)
	}
	if ok {
		t.Fatalf("expected not found")
	}
}

func TestEligibleHoldersFiltersByInvariants(t *testing.T) {
	s := openTestStore(t)
	now := int64(1_000_000)

	mkFirstSeen := now - 10*86400
	mkContinuity := now - 10*86400
	balance := big.NewInt(10)

	// eligible
	s.UpsertHolder("eligible", HolderPatch{
		FirstSeenTS: &mkFirstSeen, ContinuityStartTS: &mkContinuity,
		LastBalanceRaw: balance, AddCumulativeBuySOL: 5,
	})

	// blacklisted
	blk := true
	s.UpsertHolder("blacklisted", HolderPatch{
		FirstSeenTS: &mkFirstSeen, ContinuityStartTS: &mkContinuity,
		LastBalanceRaw: balance, AddCumulativeBuySOL: 5, IsBlacklisted: &blk,
	})

	// too new
	tooNew := now - 10
	s.UpsertHolder("new", HolderPatch{
		FirstSeenTS: &tooNew, ContinuityStartTS: &tooNew,
		LastBalanceRaw: balance, AddCumulativeBuySOL: 5,
	})

	// zero balance
	s.UpsertHolder("zerobalance", HolderPatch{
		FirstSeenTS: &mkFirstSeen, ContinuityStartTS: &mkContinuity,
		LastBalanceRaw: big.NewInt(0), AddCumulativeBuySOL: 5,
	})

	eligible, err := s.EligibleHolders(now, 86400, 86400, 1)
	if err != nil {
		t.Fatalf("EligibleHolders: %v", err)
	}
	if len(eligible) != 1 || eligible[0].Address != "eligible" {
		t.Fatalf("EligibleHolders = %+v, want only 'eligible'", eligible)
	}
}

func TestLockAcquireIsSingleFlight(t *testing.T) {
	s := openTestStore(t)

	if err := s.AcquireLock(types.LockTypeBuyJob, "pid1", 100); err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	err := s.AcquireLock(types.LockTypeBuyJob, "pid2", 101)
	if err == nil {
		t.Fatalf("expected conflict on second AcquireLock")
	}

	if err := s.ReleaseLock(types.LockTypeBuyJob); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if err := s.AcquireLock(types.LockTypeBuyJob, "pid3", 102); err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
}

func TestClearStaleLocks(t *testing.T) {
	s := openTestStore(t)

	if err := s.AcquireLock(types.LockTypeRewardJob, "pid1", 100); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := s.ClearStaleLocks(100+3600, 1800); err != nil {
		t.Fatalf("ClearStaleLocks: %v", err)
	}
	held, err := s.IsLockHeld(types.LockTypeRewardJob)
	if err != nil {
		t.Fatalf("IsLockHeld: %v", err)
	}
	if held {
		t.Fatalf("expected stale lock to be cleared")
	}
}

func TestScanCursorRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetScanCursor()
	if err != nil {
		t.Fatalf("GetScanCursor: %v", err)
	}
	if ok {
		t.Fatalf("expected no cursor initially")
	}

	cur := types.ScanCursor{LastProcessedSignature: "sig1", LastProcessedTimestamp: 42}
	if err := s.SetScanCursor(cur); err != nil {
		t.Fatalf("SetScanCursor: %v", err)
	}
	got, ok, err := s.GetScanCursor()
	if err != nil {
		t.Fatalf("GetScanCursor: %v", err)
	}
	if !ok || got != cur {
		t.Fatalf("GetScanCursor = %+v, want %+v", got, cur)
	}
}

func TestLatestRoundPicksNewestByTS(t *testing.T) {
	s := openTestStore(t)

	older := types.Round{ID: "r1", Type: types.RoundTypeBuy, TS: 100}
	newer := types.Round{ID: "r2", Type: types.RoundTypeBuy, TS: 200}
	if err := s.InsertRound(older); err != nil {
		t.Fatalf("InsertRound: %v", err)
	}
	if err := s.InsertRound(newer); err != nil {
		t.Fatalf("InsertRound: %v", err)
	}

	got, ok, err := s.LatestRound(types.RoundTypeBuy)
	if err != nil {
		t.Fatalf("LatestRound: %v", err)
	}
	if !ok || got.ID != "r2" {
		t.Fatalf("LatestRound = %+v, want r2", got)
	}

	_, ok, err = s.LatestRound(types.RoundTypeReward)
	if err != nil {
		t.Fatalf("LatestRound reward: %v", err)
	}
	if ok {
		t.Fatalf("expected no reward round")
	}
}

func TestBotStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetBotState(types.BotStateSafeMode, "true"); err != nil {
		t.Fatalf("SetBotState: %v", err)
	}
	v, ok, err := s.GetBotState(types.BotStateSafeMode)
	if err != nil {
		t.Fatalf("GetBotState: %v", err)
	}
	if !ok || v != "true" {
		t.Fatalf("GetBotState = %q, %v, want true, true", v, ok)
	}

	if err := s.DeleteBotState(types.BotStateSafeMode); err != nil {
		t.Fatalf("DeleteBotState: %v", err)
	}
	_, ok, err = s.GetBotState(types.BotStateSafeMode)
	if err != nil {
		t.Fatalf("GetBotState: %v", err)
	}
	if ok {
		t.Fatalf("expected bot state deleted")
	}
}
