package status

import (
	"path/filepath"
	"testing"

	"github.com/nova-treasury/treasury-agent/modules/store"
	"github.com/nova-treasury/treasury-agent/types"
)

func newTestProjector(t *testing.T) (*Projector, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := func() int64 { return 1_000_000 }
	return &Projector{Store: st, DryRun: true, BuyIntervalSeconds: 3600, RewardIntervalSeconds: 7200, Now: now}, st
}

func TestAssembleReportsOfflineWithoutHeartbeat(t *testing.T) {
	p, _ := newTestProjector(t)
	snap, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if snap.BotOnline {
		t.Fatalf("expected BotOnline=false without a heartbeat")
	}
	if snap.HeartbeatAgeSeconds != -1 {
		t.Fatalf("HeartbeatAgeSeconds = %d, want -1", snap.HeartbeatAgeSeconds)
	}
}

func TestAssembleReportsOnlineWithRecentHeartbeat(t *testing.T) {
	p, st := newTestProjector(t)
	if err := st.SetBotState(types.BotStateHeartbeatTS, "999980"); err != nil {
		t.Fatalf("SetBotState: %v", err)
	}

	snap, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !snap.BotOnline {
		t.Fatalf("expected BotOnline=true with recent heartbeat")
	}
	if snap.HeartbeatAgeSeconds != 20 {
		t.Fatalf("HeartbeatAgeSeconds = %d, want 20", snap.HeartbeatAgeSeconds)
	}
}

func TestAssembleComputesNextTimestampsFromLastRound(t *testing.T) {
	p, st := newTestProjector(t)
	if err := st.InsertRound(types.Round{ID: "r1", Type: types.RoundTypeBuy, TS: 990000, Txs: []string{"sigBuy"}}); err != nil {
		t.Fatalf("InsertRound: %v", err)
	}

	snap, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if snap.LastBuyTs == nil || *snap.LastBuyTs != 990000 {
		t.Fatalf("LastBuyTs = %v, want 990000", snap.LastBuyTs)
	}
	if snap.NextBuyTs == nil || *snap.NextBuyTs != 990000+3600 {
		t.Fatalf("NextBuyTs = %v, want %d", snap.NextBuyTs, 990000+3600)
	}
	if snap.LastBuyTx == nil || *snap.LastBuyTx != "sigBuy" {
		t.Fatalf("LastBuyTx = %v, want sigBuy", snap.LastBuyTx)
	}
	if snap.LastRewardTs != nil {
		t.Fatalf("expected nil LastRewardTs with no reward rounds")
	}
}

func TestAssembleChecksumIsDeterministicForSameState(t *testing.T) {
	p, st := newTestProjector(t)
	if err := st.InsertRound(types.Round{ID: "r1", Type: types.RoundTypeBuy, TS: 990000, Txs: []string{"sig1"}}); err != nil {
		t.Fatalf("InsertRound: %v", err)
	}

	snap1, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	snap2, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if snap1.Checksum != snap2.Checksum {
		t.Fatalf("checksum not deterministic: %s != %s", snap1.Checksum, snap2.Checksum)
	}
	if len(snap1.Checksum) != 16 {
		t.Fatalf("checksum length = %d, want 16", len(snap1.Checksum))
	}
}

func TestAssembleReflectsLockProgress(t *testing.T) {
	p, st := newTestProjector(t)
	if err := st.AcquireLock(types.LockTypeBuyJob, "pid1", 1000); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	snap, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !snap.BuyInProgress {
		t.Fatalf("expected BuyInProgress=true while lock held")
	}
	if snap.RewardInProgress {
		t.Fatalf("expected RewardInProgress=false")
	}
}
