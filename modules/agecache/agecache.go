// Package agecache computes a wallet's first-seen timestamp lazily by
// paginating its signature history (spec §4.4). It fails open: a
// transport error returns (nil, nil) rather than propagating, since a
// missing wallet age never warrants tripping safe mode — the scanner
// retries on the next sighting.
package agecache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nova-treasury/treasury-agent/modules/ledger"
	"github.com/nova-treasury/treasury-agent/modules/store"
)

const (
	maxPages      = 20
	pageSize      = 1000
	interPageDelay = 100 * time.Millisecond
)

// AgeCache computes and memoizes wallet first-seen timestamps.
type AgeCache struct {
	Store  *store.Store
	Ledger ledger.Adapter
	Log    *logrus.Entry
}

// New constructs an AgeCache.
func New(st *store.Store, adapter ledger.Adapter, log *logrus.Entry) *AgeCache {
	return &AgeCache{Store: st, Ledger: adapter, Log: log}
}

// FirstSeen returns the wallet's first_seen_ts if already known, otherwise
// paginates signature history to find the minimum blockTime. It returns
// (nil, nil) if the age cannot be determined (no history, or a transport
// error), never an error the caller must act on.
func (a *AgeCache) FirstSeen(ctx context.Context, address string) (*int64, error) {
	if h, found, err := a.Store.GetHolder(address); err == nil && found && h.FirstSeenTS != 0 {
		ts := h.FirstSeenTS
		return &ts, nil
	}

	var min *int64
	before := ""
	for page := 0; page < maxPages; page++ {
		select {
		case <-ctx.Done():
			return min, nil
		default:
		}

		sigs, err := a.Ledger.GetSignaturesForAddress(ctx, address, before, pageSize)
		if err != nil {
			a.Log.WithError(err).WithField("address", address).Debug("age lookup transport error, failing open")
			return nil, nil
		}
		if len(sigs) == 0 {
			break
		}
		for _, sig := range sigs {
			if sig.BlockTime == nil {
				continue
			}
			if min == nil || *sig.BlockTime < *min {
				bt := *sig.BlockTime
				min = &bt
			}
		}

		before = sigs[len(sigs)-1].Signature
		if len(sigs) < pageSize {
			break
		}

		select {
		case <-ctx.Done():
			return min, nil
		case <-time.After(interPageDelay):
		}
	}
	return min, nil
}
