// Package types defines the data model shared by every component of the
// treasury agent: holders, rounds, scan cursors, execution locks and bot
// state, plus the store-level error kinds components classify on.
package types

import (
	"errors"
	"math/big"
)

// Store error kinds. Every Store operation surfaces one of these (wrapped
// with additional context) so callers can classify failures with errors.Is.
var (
	// ErrConflict is returned when a uniqueness constraint already holds,
	// e.g. acquiring a lock that is already held.
	ErrConflict = errors.New("store: conflict")
	// ErrNotFound is returned when a keyed lookup finds nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrCorrupt is returned when the database file cannot be opened or its
	// metadata is unreadable.
	ErrCorrupt = errors.New("store: corrupt database")
	// ErrUnavailable is returned for any other store failure (disk I/O,
	// transaction timeout, etc).
	ErrUnavailable = errors.New("store: unavailable")
)

// Holder is a wallet the agent has observed holding or having held the
// configured token, along with the anti-sybil history used for eligibility
// and weighting. See spec §3 Holder and its invariants I1-I3.
type Holder struct {
	Address string `json:"address"`

	FirstSeenTS        int64    `json:"firstSeenTs"`
	LastSeenTS         int64    `json:"lastSeenTs"`
	LastBalanceRaw     *big.Int `json:"lastBalanceRaw"` // arbitrary-precision raw base units
	LastBalanceCheckTS int64    `json:"lastBalanceCheckTs"`
	LastDecreaseTS     int64    `json:"lastDecreaseTs"` // 0 means null

	ContinuityStartTS int64  `json:"continuityStartTs"`
	StreakRounds      int64  `json:"streakRounds"`
	TWBScore          float64 `json:"twbScore"`

	CumulativeBuySOL              float64 `json:"cumulativeBuySol"`
	CumulativeBuySOLLowConfidence float64 `json:"cumulativeBuySolLowConfidence"`

	IsBlacklisted bool `json:"isBlacklisted"`
}

// RoundType distinguishes the two job cadences a round record can belong
// to.
type RoundType string

const (
	// RoundTypeBuy marks a round produced by the buy job.
	RoundTypeBuy RoundType = "buy"
	// RoundTypeReward marks a round produced by the reward job.
	RoundTypeReward RoundType = "reward"
)

// Round is one completed or attempted execution of the buy or reward job;
// the unit of audit (spec §3 Round, invariant I6: append-only, ordered by
// Ts within a Type).
type Round struct {
	ID   string    `json:"id"`
	Type RoundType `json:"type"`
	TS   int64     `json:"ts"`
	Txs  []string  `json:"txs"`
	Meta map[string]interface{} `json:"meta"`
}

// ScanCursor tracks how far the scanner has walked the ledger for the
// configured token mint.
type ScanCursor struct {
	LastProcessedSignature string `json:"lastProcessedSignature"`
	LastProcessedTimestamp int64  `json:"lastProcessedTimestamp"`
}

// LockType identifies which job a durable execution lock protects.
type LockType string

const (
	// LockTypeBuyJob guards concurrent buy-job execution.
	LockTypeBuyJob LockType = "buy_job"
	// LockTypeRewardJob guards concurrent reward-job execution.
	LockTypeRewardJob LockType = "reward_job"
)

// ExecutionLock records that a job of LockType is currently running.
// Presence of the row means the lock is held (spec §3, invariant I4).
type ExecutionLock struct {
	LockType   LockType `json:"lockType"`
	AcquiredTS int64    `json:"acquiredTs"`
	OwnerPID   string   `json:"ownerPid"`
}

// Bot state keys (spec §3 Bot state).
const (
	BotStateHeartbeatTS          = "heartbeat_ts"
	BotStateSafeMode             = "safe_mode"
	BotStateSafeModeReason       = "safe_mode_reason"
	BotStateConsecutiveRPCErrors = "consecutive_rpc_errors"
)
