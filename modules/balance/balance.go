// Package balance refreshes each known holder's token balance in batches,
// detecting streak-breaking decreases (spec §4.5).
package balance

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nova-treasury/treasury-agent/modules/ledger"
	"github.com/nova-treasury/treasury-agent/modules/store"
)

const (
	batchSize  = 50
	batchDelay = 100 * time.Millisecond
)

// Refresher refreshes holder token balances against the ledger.
type Refresher struct {
	Store  *store.Store
	Ledger ledger.Adapter
	Mint   string
	Now    func() int64
	Log    *logrus.Entry
}

// New constructs a Refresher.
func New(st *store.Store, adapter ledger.Adapter, mint string, now func() int64, log *logrus.Entry) *Refresher {
	return &Refresher{Store: st, Ledger: adapter, Mint: mint, Now: now, Log: log}
}

// Result summarizes one refresh pass.
type Result struct {
	Refreshed int
	Decreased int
	Failed    int
}

// RefreshAll refreshes every known holder's balance in batches of
// batchSize, pausing batchDelay between batches (spec §4.5). Per-wallet
// failures are swallowed so one bad lookup cannot corrupt the pass.
func (r *Refresher) RefreshAll(ctx context.Context) (Result, error) {
	holders, err := r.Store.AllHolders()
	if err != nil {
		return Result{}, err
	}

	var result Result
	for i, h := range holders {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := r.refreshOne(ctx, h.Address); err != nil {
			r.Log.WithError(err).WithField("address", h.Address).Debug("balance refresh failed, skipping")
			result.Failed++
		} else {
			result.Refreshed++
		}

		if (i+1)%batchSize == 0 && i+1 < len(holders) {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(batchDelay):
			}
		}
	}
	return result, nil
}

func (r *Refresher) refreshOne(ctx context.Context, address string) error {
	balance, err := r.Ledger.GetTokenBalance(ctx, address, r.Mint)
	if err != nil {
		return err
	}

	existing, _, err := r.Store.GetHolder(address)
	if err != nil {
		return err
	}

	now := r.Now()
	patch := store.HolderPatch{
		LastBalanceRaw:     balance,
		LastBalanceCheckTS: &now,
		LastSeenTS:         &now,
	}

	if existing.LastBalanceRaw != nil && balance.Cmp(existing.LastBalanceRaw) < 0 {
		zero := int64(0)
		zeroF := 0.0
		patch.ContinuityStartTS = &now
		patch.StreakRounds = &zero
		patch.TWBScore = &zeroF
		patch.LastDecreaseTS = &now
	}

	_, err = r.Store.UpsertHolder(address, patch)
	return err
}
