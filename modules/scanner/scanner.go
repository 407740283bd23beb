// Package scanner drives the holder registry from the token ledger (spec
// §4.3): it walks enriched transactions for the treasury's token mint,
// discovers holders, detects buys at three confidence tiers, and advances
// a durable scan cursor. Its inter-batch pacing follows the ingestion
// Runner pattern from the retrieval pack's
// Solana ingestion example, adapted onto the Store/ledger.Adapter pair
// used throughout this module.
package scanner

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nova-treasury/treasury-agent/modules/agecache"
	"github.com/nova-treasury/treasury-agent/modules/ledger"
	"github.com/nova-treasury/treasury-agent/modules/store"
	"github.com/nova-treasury/treasury-agent/types"
)

const (
	batchSize           = 100
	interPageDelay      = 200 * time.Millisecond
	ageFetchGroupSize   = 5
	ageFetchGroupDelay  = 500 * time.Millisecond
	highConfidenceMinSOL = 0.001
)

// Scanner walks the ledger for the configured token mint and updates the
// holder registry and scan cursor in Store.
type Scanner struct {
	Store   *store.Store
	Ledger  ledger.Adapter
	AgeCache *agecache.AgeCache
	Address string // the treasury address whose token-mint activity is scanned
	Mint    string
	Now     func() int64
	Log     *logrus.Entry
}

// New constructs a Scanner.
func New(st *store.Store, adapter ledger.Adapter, age *agecache.AgeCache, address, mint string, now func() int64, log *logrus.Entry) *Scanner {
	return &Scanner{Store: st, Ledger: adapter, AgeCache: age, Address: address, Mint: mint, Now: now, Log: log}
}

// Result summarizes one scan pass; the CLI's --bootstrap mode logs it to
// report progress.
type Result struct {
	TransactionsProcessed int
	NewHolders            int
	BuysDetected          int
	CursorAdvanced        bool
}

// Bootstrap performs a full replay up to limit transactions, ignoring any
// stored cursor (spec §4.3).
func (s *Scanner) Bootstrap(ctx context.Context, limit int) (Result, error) {
	return s.scan(ctx, limit, "")
}

// Incremental scans up to limit transactions, stopping once the stored
// cursor signature is reached (spec §4.3).
func (s *Scanner) Incremental(ctx context.Context, limit int) (Result, error) {
	cursor, _, err := s.Store.GetScanCursor()
	if err != nil {
		return Result{}, err
	}
	return s.scan(ctx, limit, cursor.LastProcessedSignature)
}

// scan is the body shared by Bootstrap and Incremental: fetch pages of up
// to batchSize enriched transactions, newest first, processing each until
// stopAtSignature is reached (empty string means never stop early) or
// limit transactions have been processed.
func (s *Scanner) scan(ctx context.Context, limit int, stopAtSignature string) (Result, error) {
	var result Result
	var newestSignature string
	before := ""
	newWallets := make([]string, 0)

	for result.TransactionsProcessed < limit {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		pageLimit := batchSize
		if remaining := limit - result.TransactionsProcessed; remaining < pageLimit {
			pageLimit = remaining
		}
		txs, err := s.Ledger.FetchEnrichedTransactions(ctx, s.Address, pageLimit, before)
		if err != nil {
			return result, err
		}
		if len(txs) == 0 {
			break
		}

		stop := false
		for _, tx := range txs {
			if newestSignature == "" {
				newestSignature = tx.Signature
			}

			// The stored cursor points at the newest transaction processed
			// on the prior pass. Stop here, before any processing, so it is
			// never discovered or buy-detected twice.
			if stopAtSignature != "" && tx.Signature == stopAtSignature {
				stop = true
				break
			}

			discovered := s.processTx(tx)
			for _, w := range discovered {
				newWallets = append(newWallets, w)
				result.NewHolders++
			}
			result.TransactionsProcessed++
			result.BuysDetected += s.detectAndRecordBuys(tx)
		}

		before = txs[len(txs)-1].Signature
		if stop || result.TransactionsProcessed >= limit {
			break
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(interPageDelay):
		}
	}

	if newestSignature != "" {
		if err := s.Store.SetScanCursor(types.ScanCursor{
			LastProcessedSignature: newestSignature,
			LastProcessedTimestamp: s.Now(),
		}); err != nil {
			return result, err
		}
		result.CursorAdvanced = true
	}

	s.refreshWalletAges(ctx, newWallets)
	return result, nil
}

// processTx performs holder discovery for one transaction (spec §4.3 step
// 2) and returns newly-discovered wallet addresses.
func (s *Scanner) processTx(tx ledger.EnrichedTx) []string {
	seen := make(map[string]struct{})
	for _, tt := range tx.TokenTransfers {
		if tt.Mint != s.Mint {
			continue
		}
		if tt.ToUserAccount != "" {
			seen[tt.ToUserAccount] = struct{}{}
		}
		if tt.FromUserAccount != "" {
			seen[tt.FromUserAccount] = struct{}{}
		}
	}
	for _, ad := range tx.AccountData {
		for _, tbc := range ad.TokenBalanceChanges {
			if tbc.Mint == s.Mint {
				seen[ad.Account] = struct{}{}
				break
			}
		}
	}

	var discovered []string
	for addr := range seen {
		_, found, err := s.Store.GetHolder(addr)
		if err != nil {
			s.Log.WithError(err).WithField("address", addr).Warn("holder lookup failed during scan")
			continue
		}
		lastSeen := tx.Timestamp
		if !found {
			if _, err := s.Store.UpsertHolder(addr, store.HolderPatch{LastSeenTS: &lastSeen}); err != nil {
				s.Log.WithError(err).WithField("address", addr).Warn("failed to insert new holder")
				continue
			}
			discovered = append(discovered, addr)
		} else {
			if _, err := s.Store.UpsertHolder(addr, store.HolderPatch{LastSeenTS: &lastSeen}); err != nil {
				s.Log.WithError(err).WithField("address", addr).Warn("failed to update holder last-seen")
			}
		}
	}
	return discovered
}

type buyEvent struct {
	wallet       string
	solSpent     float64
	highConfidence bool
}

// detectAndRecordBuys runs the three-tiered buy-detection cascade (spec
// §4.3 step 3), applying the first rule that produces at least one event,
// and updates each wallet's cumulative-buy accumulator accordingly. It
// returns the number of buy events detected.
func (s *Scanner) detectAndRecordBuys(tx ledger.EnrichedTx) int {
	events := s.detectHighConfidence(tx)
	if len(events) == 0 {
		events = s.detectMediumConfidence(tx)
	}
	if len(events) == 0 {
		events = s.detectLowConfidence(tx)
	}

	for _, ev := range events {
		patch := store.HolderPatch{}
		if ev.highConfidence {
			patch.AddCumulativeBuySOL = ev.solSpent
		} else {
			patch.AddCumulativeBuySOLLowConfidence = ev.solSpent
		}
		if _, err := s.Store.UpsertHolder(ev.wallet, patch); err != nil {
			s.Log.WithError(err).WithField("address", ev.wallet).Warn("failed to record buy")
		}
	}
	return len(events)
}

func (s *Scanner) detectHighConfidence(tx ledger.EnrichedTx) []buyEvent {
	if tx.Swap == nil || tx.Swap.NativeInput == nil || len(tx.Swap.TokenOutputs) == 0 {
		return nil
	}
	var events []buyEvent
	for _, out := range tx.Swap.TokenOutputs {
		if out.Mint != s.Mint {
			continue
		}
		events = append(events, buyEvent{
			wallet:         out.UserAccount,
			solSpent:       float64(tx.Swap.NativeInput.Amount) / 1e9,
			highConfidence: true,
		})
	}
	return events
}

func (s *Scanner) detectMediumConfidence(tx ledger.EnrichedTx) []buyEvent {
	for _, ad := range tx.AccountData {
		if ad.NativeBalanceChange >= 0 {
			continue
		}
		solSpent := float64(-ad.NativeBalanceChange) / 1e9
		if solSpent < highConfidenceMinSOL {
			continue
		}
		hasIncrease := false
		for _, tbc := range ad.TokenBalanceChanges {
			if tbc.Mint == s.Mint && tbc.RawAmount != nil && tbc.RawAmount.Sign() > 0 {
				hasIncrease = true
				break
			}
		}
		if hasIncrease {
			return []buyEvent{{wallet: ad.Account, solSpent: solSpent, highConfidence: false}}
		}
	}
	return nil
}

func (s *Scanner) detectLowConfidence(tx ledger.EnrichedTx) []buyEvent {
	for _, tt := range tx.TokenTransfers {
		if tt.Mint != s.Mint || tt.RawAmount == nil || tt.RawAmount.Sign() <= 0 {
			continue
		}
		for _, nt := range tx.NativeTransfers {
			if nt.FromUserAccount == tt.ToUserAccount && nt.AmountLamports > 0 {
				return []buyEvent{{
					wallet:   tt.ToUserAccount,
					solSpent: float64(nt.AmountLamports) / 1e9,
				}}
			}
		}
	}
	return nil
}

// refreshWalletAges computes first_seen_ts for newly discovered wallets,
// off the critical path, in groups of ageFetchGroupSize with a pause
// between groups (spec §4.3 "Wallet age is computed lazily").
func (s *Scanner) refreshWalletAges(ctx context.Context, wallets []string) {
	for i, addr := range wallets {
		firstSeen, err := s.AgeCache.FirstSeen(ctx, addr)
		if err != nil {
			s.Log.WithError(err).WithField("address", addr).Debug("age lookup failed, leaving first_seen_ts unset")
		} else if firstSeen != nil {
			ts := *firstSeen
			if _, err := s.Store.UpsertHolder(addr, store.HolderPatch{FirstSeenTS: &ts, ContinuityStartTS: &ts}); err != nil {
				s.Log.WithError(err).WithField("address", addr).Warn("failed to persist first_seen_ts")
			}
		}

		if (i+1)%ageFetchGroupSize == 0 && i+1 < len(wallets) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(ageFetchGroupDelay):
			}
		}
	}
}
