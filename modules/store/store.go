// Package store is the durable key/row storage for holders, rounds, scan
// cursors, execution locks and bot state (spec §4.1). It wraps an embedded
// bolt database with small, typed operations per entity, the way
// modules/wallet wraps persist.BoltDatabase with bucket-scoped helpers in
// the teacher.
package store

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"

	bolt "github.com/rivine/bbolt"

	"github.com/nova-treasury/treasury-agent/build"
	"github.com/nova-treasury/treasury-agent/persist"
	"github.com/nova-treasury/treasury-agent/types"
)

var (
	bucketHolders        = []byte("holders")
	bucketRounds         = []byte("rounds")
	bucketScanState      = []byte("scan_state")
	bucketExecutionLocks = []byte("execution_locks")
	bucketBotState       = []byte("bot_state")

	keyScanCursor = []byte("cursor")
)

const (
	dbHeader  = "treasury-agent.store"
	dbVersion = "1.0.0"
)

// Store is the durable storage handle used by every other component.
type Store struct {
	db *persist.BoltDatabase
	mu sync.Mutex // serializes the read-modify-write holder upsert
}

// Open opens (and initializes, if new) the database file at path.
func Open(path string) (*Store, error) {
	db, err := persist.OpenDatabase(persist.Metadata{Header: dbHeader, Version: dbVersion}, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorrupt, err)
	}
	s := &Store{db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHolders, bucketRounds, bucketScanState, bucketExecutionLocks, bucketBotState} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// holderJSON is the on-disk representation of a Holder; LastBalanceRaw is
// carried as a decimal string because encoding/json's default big.Int
// support round-trips correctly but we want a stable on-disk shape even if
// the in-memory type ever changes.
type holderJSON struct {
	Address                       string `json:"address"`
	FirstSeenTS                   int64  `json:"firstSeenTs"`
	LastSeenTS                    int64  `json:"lastSeenTs"`
	LastBalanceRaw                string `json:"lastBalanceRaw"`
	LastBalanceCheckTS            int64  `json:"lastBalanceCheckTs"`
	LastDecreaseTS                int64  `json:"lastDecreaseTs"`
	ContinuityStartTS             int64  `json:"continuityStartTs"`
	StreakRounds                  int64  `json:"streakRounds"`
	TWBScore                      float64 `json:"twbScore"`
	CumulativeBuySOL              float64 `json:"cumulativeBuySol"`
	CumulativeBuySOLLowConfidence float64 `json:"cumulativeBuySolLowConfidence"`
	IsBlacklisted                 bool    `json:"isBlacklisted"`
}

func toHolderJSON(h types.Holder) holderJSON {
	raw := "0"
	if h.LastBalanceRaw != nil {
		raw = h.LastBalanceRaw.String()
	}
	return holderJSON{
		Address:                       h.Address,
		FirstSeenTS:                   h.FirstSeenTS,
		LastSeenTS:                    h.LastSeenTS,
		LastBalanceRaw:                raw,
		LastBalanceCheckTS:            h.LastBalanceCheckTS,
		LastDecreaseTS:                h.LastDecreaseTS,
		ContinuityStartTS:             h.ContinuityStartTS,
		StreakRounds:                  h.StreakRounds,
		TWBScore:                      h.TWBScore,
		CumulativeBuySOL:              h.CumulativeBuySOL,
		CumulativeBuySOLLowConfidence: h.CumulativeBuySOLLowConfidence,
		IsBlacklisted:                 h.IsBlacklisted,
	}
}

func fromHolderJSON(hj holderJSON) types.Holder {
	raw, ok := new(big.Int).SetString(hj.LastBalanceRaw, 10)
	if !ok {
		raw = big.NewInt(0)
	}
	return types.Holder{
		Address:                       hj.Address,
		FirstSeenTS:                   hj.FirstSeenTS,
		LastSeenTS:                    hj.LastSeenTS,
		LastBalanceRaw:                raw,
		LastBalanceCheckTS:            hj.LastBalanceCheckTS,
		LastDecreaseTS:                hj.LastDecreaseTS,
		ContinuityStartTS:             hj.ContinuityStartTS,
		StreakRounds:                  hj.StreakRounds,
		TWBScore:                      hj.TWBScore,
		CumulativeBuySOL:              hj.CumulativeBuySOL,
		CumulativeBuySOLLowConfidence: hj.CumulativeBuySOLLowConfidence,
		IsBlacklisted:                 hj.IsBlacklisted,
	}
}

// HolderPatch carries the fields a caller wants to change on a holder.
// Nil fields are left untouched, implementing the "omitted fields are
// preserved" merge semantics of spec §4.1. CumulativeBuySOL{,LowConfidence}
// are accumulators: the supplied value is added to, not assigned over, the
// stored total.
type HolderPatch struct {
	FirstSeenTS                   *int64
	LastSeenTS                    *int64
	LastBalanceRaw                *big.Int
	LastBalanceCheckTS            *int64
	LastDecreaseTS                *int64
	ContinuityStartTS             *int64
	StreakRounds                  *int64
	TWBScore                      *float64
	AddCumulativeBuySOL            float64
	AddCumulativeBuySOLLowConfidence float64
	IsBlacklisted                  *bool
}

// GetHolder returns the holder at address, or ok=false if unknown.
func (s *Store) GetHolder(address string) (types.Holder, bool, error) {
	var h types.Holder
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketHolders).Get([]byte(address))
		if raw == nil {
			return nil
		}
		var hj holderJSON
		if err := json.Unmarshal(raw, &hj); err != nil {
			return err
		}
		h = fromHolderJSON(hj)
		found = true
		return nil
	})
	if err != nil {
		return types.Holder{}, false, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return h, found, nil
}

// UpsertHolder creates the holder at address if absent, merging patch
// into whatever already exists otherwise, and returns the resulting row.
func (s *Store) UpsertHolder(address string, patch HolderPatch) (types.Holder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result types.Holder
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketHolders)
		existing := types.Holder{Address: address, LastBalanceRaw: big.NewInt(0)}
		if raw := bucket.Get([]byte(address)); raw != nil {
			var hj holderJSON
			if err := json.Unmarshal(raw, &hj); err != nil {
				return err
			}
			existing = fromHolderJSON(hj)
		}

		if patch.FirstSeenTS != nil {
			existing.FirstSeenTS = *patch.FirstSeenTS
		}
		if patch.LastSeenTS != nil {
			existing.LastSeenTS = *patch.LastSeenTS
		}
		if patch.LastBalanceRaw != nil {
			existing.LastBalanceRaw = patch.LastBalanceRaw
		}
		if patch.LastBalanceCheckTS != nil {
			existing.LastBalanceCheckTS = *patch.LastBalanceCheckTS
		}
		if patch.LastDecreaseTS != nil {
			existing.LastDecreaseTS = *patch.LastDecreaseTS
		}
		if patch.ContinuityStartTS != nil {
			existing.ContinuityStartTS = *patch.ContinuityStartTS
		}
		if patch.StreakRounds != nil {
			existing.StreakRounds = *patch.StreakRounds
		}
		if patch.TWBScore != nil {
			existing.TWBScore = *patch.TWBScore
		}
		existing.CumulativeBuySOL += patch.AddCumulativeBuySOL
		existing.CumulativeBuySOLLowConfidence += patch.AddCumulativeBuySOLLowConfidence
		if patch.IsBlacklisted != nil {
			existing.IsBlacklisted = *patch.IsBlacklisted
		}

		buf, err := json.Marshal(toHolderJSON(existing))
		if err != nil {
			return err
		}
		result = existing
		return bucket.Put([]byte(address), buf)
	})
	if err != nil {
		return types.Holder{}, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return result, nil
}

// AllHolders returns every known holder, in address order, for batch
// operations like the balance refresher (spec §4.5).
func (s *Store) AllHolders() ([]types.Holder, error) {
	var holders []types.Holder
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHolders).ForEach(func(k, v []byte) error {
			var hj holderJSON
			if err := json.Unmarshal(v, &hj); err != nil {
				return err
			}
			holders = append(holders, fromHolderJSON(hj))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].Address < holders[j].Address })
	return holders, nil
}

// EligibleHolders returns every holder satisfying the reward-eligibility
// predicate (I3): not blacklisted; first seen before now-minAge; continuity
// window started before now-minContinuity; cumulative buy at or above
// minBuy; positive balance.
func (s *Store) EligibleHolders(now, minAgeSeconds, minContinuitySeconds int64, minBuy float64) ([]types.Holder, error) {
	all, err := s.AllHolders()
	if err != nil {
		return nil, err
	}
	var eligible []types.Holder
	for _, h := range all {
		if h.IsBlacklisted {
			continue
		}
		if h.FirstSeenTS == 0 || h.FirstSeenTS > now-minAgeSeconds {
			continue
		}
		if h.ContinuityStartTS == 0 || h.ContinuityStartTS > now-minContinuitySeconds {
			continue
		}
		if h.CumulativeBuySOL < minBuy {
			continue
		}
		if h.LastBalanceRaw == nil || h.LastBalanceRaw.Sign() <= 0 {
			continue
		}
		eligible = append(eligible, h)
	}
	return eligible, nil
}

// InsertRound appends a round record. Rounds are append-only (I6); callers
// are responsible for assigning a monotonically increasing TS within a
// Type.
func (s *Store) InsertRound(round types.Round) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		buf, err := json.Marshal(round)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRounds).Put(roundKey(round), buf)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return nil
}

// roundKey sorts lexically the same way rounds should sort chronologically
// within a type: type prefix, then big-endian-ish zero-padded timestamp,
// then id to break ties.
func roundKey(r types.Round) []byte {
	return []byte(fmt.Sprintf("%s/%020d/%s", r.Type, r.TS, r.ID))
}

// LatestRound returns the round of the given type with the greatest TS
// (among equal TS, the one whose ID sorts last), regardless of insertion
// order.
func (s *Store) LatestRound(t types.RoundType) (types.Round, bool, error) {
	prefix := []byte(string(t) + "/")
	var latest types.Round
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRounds).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var r types.Round
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Type != t {
				build.Critical("round stored under prefix", string(t), "decoded with mismatched Type", string(r.Type))
			}
			if !found || r.TS >= latest.TS {
				latest = r
				found = true
			}
		}
		return nil
	})
	if err != nil {
		return types.Round{}, false, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return latest, found, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// GetScanCursor returns the current scan cursor, if any has been written.
func (s *Store) GetScanCursor() (types.ScanCursor, bool, error) {
	var cur types.ScanCursor
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketScanState).Get(keyScanCursor)
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &cur)
	})
	if err != nil {
		return types.ScanCursor{}, false, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return cur, found, nil
}

// SetScanCursor overwrites the scan cursor. Callers must ensure the new
// cursor's signature is the newest one seen in the processed batch (spec
// §3 Scan cursor lifecycle).
func (s *Store) SetScanCursor(cur types.ScanCursor) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		buf, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketScanState).Put(keyScanCursor, buf)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return nil
}

// AcquireLock attempts to atomically create a lock row for lockType; it
// returns types.ErrConflict if one already exists (I4: at most one row per
// lock type).
func (s *Store) AcquireLock(lockType types.LockType, ownerPID string, now int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketExecutionLocks)
		key := []byte(lockType)
		if bucket.Get(key) != nil {
			return types.ErrConflict
		}
		lock := types.ExecutionLock{LockType: lockType, AcquiredTS: now, OwnerPID: ownerPID}
		buf, err := json.Marshal(lock)
		if err != nil {
			return err
		}
		return bucket.Put(key, buf)
	})
	if err != nil {
		if err == types.ErrConflict {
			return types.ErrConflict
		}
		return fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return nil
}

// ReleaseLock deletes the lock row for lockType. It is always safe and
// idempotent.
func (s *Store) ReleaseLock(lockType types.LockType) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutionLocks).Delete([]byte(lockType))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return nil
}

// IsLockHeld reports whether a lock row exists for lockType.
func (s *Store) IsLockHeld(lockType types.LockType) (bool, error) {
	held := false
	err := s.db.View(func(tx *bolt.Tx) error {
		held = tx.Bucket(bucketExecutionLocks).Get([]byte(lockType)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return held, nil
}

// ClearStaleLocks deletes any lock rows older than maxAgeSeconds, called
// exactly once at scheduler startup (spec §4.1).
func (s *Store) ClearStaleLocks(now, maxAgeSeconds int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketExecutionLocks)
		c := bucket.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var lock types.ExecutionLock
			if err := json.Unmarshal(v, &lock); err != nil {
				return err
			}
			if lock.AcquiredTS < now-maxAgeSeconds {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return nil
}

// GetBotState returns a raw bot-state value for key.
func (s *Store) GetBotState(key string) (string, bool, error) {
	var val string
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBotState).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		val = string(raw)
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return val, found, nil
}

// SetBotState upserts a raw bot-state value.
func (s *Store) SetBotState(key, value string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBotState).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return nil
}

// DeleteBotState removes a bot-state key. Used only by ExitSafeMode: the
// latch (I5) is cleared solely via this explicit, operator-mediated path.
func (s *Store) DeleteBotState(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBotState).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	return nil
}
