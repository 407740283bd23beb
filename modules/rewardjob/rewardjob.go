// Package rewardjob implements the treasury reward job (spec §4.8): a
// fresh incremental scan and balance refresh, followed by a deterministic
// weighted lottery that distributes a bounded fraction of the treasury's
// token balance to winners.
package rewardjob

import (
	"context"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nova-treasury/treasury-agent/internal/clock"
	"github.com/nova-treasury/treasury-agent/modules/balance"
	"github.com/nova-treasury/treasury-agent/modules/ledger"
	"github.com/nova-treasury/treasury-agent/modules/lottery"
	"github.com/nova-treasury/treasury-agent/modules/scanner"
	"github.com/nova-treasury/treasury-agent/modules/store"
	"github.com/nova-treasury/treasury-agent/types"
)

const transferBatchDelay = 500 * time.Millisecond

// dry-run sentinel signatures for reward rounds (spec §4.8 "a synthetic
// success with two sentinel signatures").
const (
	dryRunRewardSignatureA = "DRYRUNREWARD1111111111111111111111111111111111111111111111"
	dryRunRewardSignatureB = "DRYRUNREWARD2222222222222222222222222222222222222222222222"
)

// Job runs the reward state machine described by spec §4.8: Start ->
// IncrementalScan -> RefreshBalances -> GetDecimals ->
// GetTreasuryTokenBalance -> BalancePositive? -> ComputeDistribute ->
// EligibleSet -> BuildLotteryContext -> SelectWinners -> PerWinnerSplit ->
// ExecuteTransfers -> UpdateStreakTwb -> RecordRound.
type Job struct {
	Store     *store.Store
	Ledger    ledger.Adapter
	Scanner   *scanner.Scanner
	Refresher *balance.Refresher
	Log       *logrus.Entry

	TreasuryAddress string
	TokenMint       string

	WinnersPerRound        int
	MinContinuitySeconds   int64
	MinAgeSeconds          int64
	MinCumulativeBuySOL    float64
	RewardPercentBps       int
	MaxRewardPercentBps    int
	MaxSendsPerTx          int
	RewardIntervalSeconds  int64
	IncrementalScanLimit   int
	MinTreasuryTokenBalance float64
	DryRun                 bool

	Now func() int64
}

// Outcome describes what happened, for the caller of Run, beyond the round
// record itself.
type Outcome struct {
	Skipped            bool
	SkipReason         string
	WinnersCount       int
	TotalDistributedUI float64
	Signatures         []string
}

// Run executes one reward-job invocation.
func (j *Job) Run(ctx context.Context, jobStart int64) (Outcome, error) {
	if _, err := j.Scanner.Incremental(ctx, j.IncrementalScanLimit); err != nil {
		return Outcome{}, err
	}
	if _, err := j.Refresher.RefreshAll(ctx); err != nil {
		return Outcome{}, err
	}

	decimals, err := j.Ledger.GetTokenDecimals(ctx, j.TokenMint)
	if err != nil {
		return Outcome{}, err
	}

	treasuryRaw, err := j.Ledger.GetTokenBalance(ctx, j.TreasuryAddress, j.TokenMint)
	if err != nil {
		return Outcome{}, err
	}

	if treasuryRaw.Sign() <= 0 {
		reason := "treasury token balance is not positive"
		j.recordSkip(jobStart, reason)
		return Outcome{Skipped: true, SkipReason: reason}, nil
	}
	if toUI(treasuryRaw, decimals) < j.MinTreasuryTokenBalance {
		reason := "treasury token balance below MinTreasuryTokenBalance"
		j.recordSkip(jobStart, reason)
		return Outcome{Skipped: true, SkipReason: reason}, nil
	}

	pct := j.RewardPercentBps
	if j.MaxRewardPercentBps < pct {
		pct = j.MaxRewardPercentBps
	}
	distributeRaw := new(big.Int).Div(new(big.Int).Mul(treasuryRaw, big.NewInt(int64(pct))), big.NewInt(10000))

	eligibleHolders, err := j.Store.EligibleHolders(jobStart, j.MinAgeSeconds, j.MinContinuitySeconds, j.MinCumulativeBuySOL)
	if err != nil {
		return Outcome{}, err
	}
	if len(eligibleHolders) == 0 {
		reason := "no eligible holders"
		j.recordSkip(jobStart, reason)
		return Outcome{Skipped: true, SkipReason: reason}, nil
	}

	blockhash, _, err := j.Ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return Outcome{}, err
	}
	seed := lottery.Seed(jobStart, j.TokenMint, blockhash)

	candidates := lottery.DeriveCandidates(eligibleHolders, jobStart, decimals)
	winners := lottery.SelectWinners(candidates, j.WinnersPerRound, seed)

	if len(winners) == 0 {
		reason := "lottery selected no winners"
		j.recordSkip(jobStart, reason)
		return Outcome{Skipped: true, SkipReason: reason}, nil
	}

	perWinnerRaw := new(big.Int).Div(distributeRaw, big.NewInt(int64(len(winners))))

	var signatures []string
	if j.DryRun {
		signatures = []string{dryRunRewardSignatureA, dryRunRewardSignatureB}
	} else {
		var transferErr error
		signatures, transferErr = j.executeTransfers(ctx, winners, perWinnerRaw)
		if transferErr != nil {
			j.Log.WithError(transferErr).Warn("reward job: one or more transfer batches failed")
		}
	}

	j.updateStreakAndTWB(candidates)

	perWinnerUI := toUI(perWinnerRaw, decimals)
	totalDistributedUI := perWinnerUI * float64(len(winners))

	if err := j.Store.InsertRound(types.Round{
		ID:   clock.NewID(),
		Type: types.RoundTypeReward,
		TS:   jobStart,
		Txs:  signatures,
		Meta: map[string]interface{}{
			"winnersCount":        len(winners),
			"perWinnerUi":         perWinnerUI,
			"totalDistributedUi":  totalDistributedUI,
			"lotterySeed":         seed,
			"lotteryBlockhash":    blockhash,
			"rewardPercentBps":    j.RewardPercentBps,
			"maxRewardPercentBps": j.MaxRewardPercentBps,
		},
	}); err != nil {
		return Outcome{}, err
	}

	return Outcome{
		WinnersCount:       len(winners),
		TotalDistributedUI: totalDistributedUI,
		Signatures:         signatures,
	}, nil
}

// executeTransfers batches winners maxSendsPerTx per transaction (spec
// §4.8); batch failures do not abort subsequent batches.
func (j *Job) executeTransfers(ctx context.Context, winners []lottery.Candidate, perWinnerRaw *big.Int) ([]string, error) {
	var signatures []string
	var firstErr error

	for start := 0; start < len(winners); start += j.MaxSendsPerTx {
		end := start + j.MaxSendsPerTx
		if end > len(winners) {
			end = len(winners)
		}
		batch := ledger.TransferBatch{Mint: j.TokenMint}
		for _, w := range winners[start:end] {
			exists, err := j.Ledger.TokenAccountExists(ctx, w.Address, j.TokenMint)
			if err != nil {
				j.Log.WithError(err).WithField("address", w.Address).Warn("reward job: token account existence check failed, assuming it exists")
				exists = true
			}
			batch.Transfers = append(batch.Transfers, ledger.TransferInstruction{
				ToOwner:       w.Address,
				RawAmount:     perWinnerRaw,
				CreateAccount: !exists,
			})
		}

		outcome, err := j.Ledger.ExecuteTransferBatch(ctx, batch)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if outcome.Success && outcome.Signature != "" {
			signatures = append(signatures, outcome.Signature)
		}
		if outcome.Err != nil && firstErr == nil {
			firstErr = outcome.Err
		}

		if end < len(winners) {
			select {
			case <-ctx.Done():
				return signatures, ctx.Err()
			case <-time.After(transferBatchDelay):
			}
		}
	}
	return signatures, firstErr
}

// updateStreakAndTWB applies the post-round update to every eligible
// holder, not only winners (spec §4.6 "Post-round update").
func (j *Job) updateStreakAndTWB(candidates []lottery.Candidate) {
	for _, c := range candidates {
		streak := int64(1) // increment; added to the value read below, since UpsertHolder assigns StreakRounds
		twbDelta := c.TokenBalanceUI * (float64(j.RewardIntervalSeconds) / 3600)

		existing, _, err := j.Store.GetHolder(c.Address)
		if err != nil {
			j.Log.WithError(err).WithField("address", c.Address).Warn("failed to read holder before post-round update")
			continue
		}
		newStreak := existing.StreakRounds + streak
		newTWB := existing.TWBScore + twbDelta

		if _, err := j.Store.UpsertHolder(c.Address, store.HolderPatch{
			StreakRounds: &newStreak,
			TWBScore:     &newTWB,
		}); err != nil {
			j.Log.WithError(err).WithField("address", c.Address).Warn("failed to apply post-round update")
		}
	}
}

func (j *Job) recordSkip(jobStart int64, reason string) {
	if err := j.Store.InsertRound(types.Round{
		ID:   clock.NewID(),
		Type: types.RoundTypeReward,
		TS:   jobStart,
		Txs:  []string{},
		Meta: map[string]interface{}{
			"skipped": true,
			"reason":  reason,
		},
	}); err != nil {
		j.Log.WithError(err).Error("reward job: failed to record skipped round")
	}
}

func toUI(raw *big.Int, decimals int) float64 {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f := new(big.Float).Quo(new(big.Float).SetInt(raw), scale)
	result, _ := f.Float64()
	return result
}
