// Package status assembles the externally-visible JSON snapshot (spec
// §4.11) and serves it over HTTP. Routing follows api.go's httprouter
// usage in the teacher; the public/ static directory and its permissive
// CORS handling follow doc/examples/erc20_monitor/main.go.
package status

import (
	"encoding/json"
	"strconv"

	"github.com/nova-treasury/treasury-agent/internal/clock"
	"github.com/nova-treasury/treasury-agent/modules/store"
	"github.com/nova-treasury/treasury-agent/types"
)

// Snapshot is the JSON shape served at GET /status (spec §4.11 and §6).
type Snapshot struct {
	Now            int64  `json:"now"`
	SourceOfTruth  string `json:"sourceOfTruth"`
	Checksum       string `json:"checksum"`

	BotOnline           bool   `json:"botOnline"`
	HeartbeatAgeSeconds int64  `json:"heartbeatAgeSeconds"`
	SafeMode            bool   `json:"safeMode"`
	SafeModeReason      *string `json:"safeModeReason"`
	DryRun              bool   `json:"dryRun"`

	LastBuyTs    *int64 `json:"lastBuyTs"`
	LastRewardTs *int64 `json:"lastRewardTs"`
	NextBuyTs    *int64 `json:"nextBuyTs"`
	NextRewardTs *int64 `json:"nextRewardTs"`

	BuyIntervalSeconds    int64 `json:"buyIntervalSeconds"`
	RewardIntervalSeconds int64 `json:"rewardIntervalSeconds"`

	BuyInProgress    bool `json:"buyInProgress"`
	RewardInProgress bool `json:"rewardInProgress"`

	LastBuyTx     *string  `json:"lastBuyTx"`
	LastRewardTxs []string `json:"lastRewardTxs"`
}

// checksumFields is the subset of Snapshot hashed for tamper detection
// (spec §4.11 "detects tampering of timing fields").
type checksumFields struct {
	Now          int64  `json:"now"`
	BotOnline    bool   `json:"botOnline"`
	SafeMode     bool   `json:"safeMode"`
	LastBuyTs    *int64 `json:"lastBuyTs"`
	LastRewardTs *int64 `json:"lastRewardTs"`
	NextBuyTs    *int64 `json:"nextBuyTs"`
	NextRewardTs *int64 `json:"nextRewardTs"`
}

// Projector assembles a Snapshot from durable Store state on each
// request.
type Projector struct {
	Store *store.Store

	DryRun                bool
	BuyIntervalSeconds    int64
	RewardIntervalSeconds int64
	Now                   func() int64
}

// Assemble builds the current Snapshot.
func (p *Projector) Assemble() (Snapshot, error) {
	now := p.Now()

	heartbeatStr, found, err := p.Store.GetBotState(types.BotStateHeartbeatTS)
	if err != nil {
		return Snapshot{}, err
	}
	heartbeatAge := int64(-1)
	botOnline := false
	if found {
		if heartbeatTS, scanErr := strconv.ParseInt(heartbeatStr, 10, 64); scanErr == nil {
			heartbeatAge = now - heartbeatTS
			botOnline = heartbeatAge < 60
		}
	}

	safeModeStr, _, err := p.Store.GetBotState(types.BotStateSafeMode)
	if err != nil {
		return Snapshot{}, err
	}
	safeMode := safeModeStr == "true"
	var safeModeReason *string
	if safeMode {
		reasonStr, found, err := p.Store.GetBotState(types.BotStateSafeModeReason)
		if err != nil {
			return Snapshot{}, err
		}
		if found {
			safeModeReason = &reasonStr
		}
	}

	lastBuy, lastBuyTx, err := p.lastRoundInfo(types.RoundTypeBuy)
	if err != nil {
		return Snapshot{}, err
	}
	lastReward, lastRewardTxs, err := p.lastRoundInfoMulti(types.RoundTypeReward)
	if err != nil {
		return Snapshot{}, err
	}

	var nextBuyTs *int64
	if lastBuy != nil {
		v := *lastBuy + p.BuyIntervalSeconds
		nextBuyTs = &v
	}
	var nextRewardTs *int64
	if lastReward != nil {
		v := *lastReward + p.RewardIntervalSeconds
		nextRewardTs = &v
	}

	buyInProgress, err := p.Store.IsLockHeld(types.LockTypeBuyJob)
	if err != nil {
		return Snapshot{}, err
	}
	rewardInProgress, err := p.Store.IsLockHeld(types.LockTypeRewardJob)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Now:                   now,
		SourceOfTruth:         "server",
		BotOnline:             botOnline,
		HeartbeatAgeSeconds:   heartbeatAge,
		SafeMode:              safeMode,
		SafeModeReason:        safeModeReason,
		DryRun:                p.DryRun,
		LastBuyTs:             lastBuy,
		LastRewardTs:          lastReward,
		NextBuyTs:             nextBuyTs,
		NextRewardTs:          nextRewardTs,
		BuyIntervalSeconds:    p.BuyIntervalSeconds,
		RewardIntervalSeconds: p.RewardIntervalSeconds,
		BuyInProgress:         buyInProgress,
		RewardInProgress:      rewardInProgress,
		LastBuyTx:             lastBuyTx,
		LastRewardTxs:         lastRewardTxs,
	}

	cf := checksumFields{
		Now:          now,
		BotOnline:    botOnline,
		SafeMode:     safeMode,
		LastBuyTs:    lastBuy,
		LastRewardTs: lastReward,
		NextBuyTs:    nextBuyTs,
		NextRewardTs: nextRewardTs,
	}
	buf, err := json.Marshal(cf)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Checksum = clock.SHA256Hex(buf, 16)

	return snap, nil
}

func (p *Projector) lastRoundInfo(t types.RoundType) (*int64, *string, error) {
	round, ok, err := p.Store.LatestRound(t)
	if err != nil || !ok {
		return nil, nil, err
	}
	ts := round.TS
	var firstTx *string
	if len(round.Txs) > 0 {
		firstTx = &round.Txs[0]
	}
	return &ts, firstTx, nil
}

func (p *Projector) lastRoundInfoMulti(t types.RoundType) (*int64, []string, error) {
	round, ok, err := p.Store.LatestRound(t)
	if err != nil || !ok {
		return nil, []string{}, err
	}
	ts := round.TS
	txs := round.Txs
	if txs == nil {
		txs = []string{}
	}
	return &ts, txs, nil
}
