// Package buyjob implements the treasury buy job (spec §4.7): convert a
// bounded fraction of the treasury's native-coin balance into the
// configured token via the swap router, recording a round regardless of
// outcome.
package buyjob

import (
	"context"
	"math"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/nova-treasury/treasury-agent/internal/clock"
	"github.com/nova-treasury/treasury-agent/modules/ledger"
	"github.com/nova-treasury/treasury-agent/modules/store"
	"github.com/nova-treasury/treasury-agent/types"
)

// Job runs the buy state machine described by spec §4.7:
// Start -> BalanceOk? -> Spendable -> CappedAmount -> MinOk? -> Quote ->
// Execute -> RecordRound -> End, with branches to Skip at the predicates
// and to Fail at any failing external call. Run itself skips only at
// MinOk?; the BalanceOk? check against the minimum treasury reserve is
// made by scheduler.triggerBuy before Run is invoked, and the CLI's
// --once-buy mode does not make it.
type Job struct {
	Store  *store.Store
	Ledger ledger.Adapter

	TreasuryAddress string
	NativeMint      string // the wrapped-native mint used as swap input, e.g. "So11111111111111111111111111111111111111112"
	TokenMint       string

	FeeReserveSOL        float64
	MaxBuyPerIntervalSOL float64
	MinBuySOL            float64
	SlippageBps          int
}

// Outcome describes what happened, for the caller of Run, beyond the round
// record itself.
type Outcome struct {
	Skipped      bool
	SkipReason   string
	Success      bool
	Signature    string
	SOLSpent     float64
	TokenReceived *big.Int
}

// Run executes one buy-job invocation. ctx carries the execution engine's
// per-job timeout; every ledger call below is a suspension point.
func (j *Job) Run(ctx context.Context, jobStart int64) (Outcome, error) {
	nativeBalanceLamports, err := j.Ledger.GetNativeBalance(ctx, j.TreasuryAddress)
	if err != nil {
		return Outcome{}, err
	}
	nativeBalance := float64(nativeBalanceLamports) / 1e9

	spendableBeforeCap := math.Max(0, nativeBalance-j.FeeReserveSOL)
	actualBuy := math.Min(spendableBeforeCap, j.MaxBuyPerIntervalSOL)

	if actualBuy < j.MinBuySOL {
		reason := "actualBuy below configured minimum"
		j.recordRound(jobStart, []string{}, map[string]interface{}{
			"success":             false,
			"skipped":             true,
			"reason":              reason,
			"spendableBeforeCap":  spendableBeforeCap,
			"safetyCap":           j.MaxBuyPerIntervalSOL,
		})
		return Outcome{Skipped: true, SkipReason: reason}, nil
	}

	inLamports := big.NewInt(int64(math.Floor(actualBuy * 1e9)))

	quote, err := j.Ledger.GetSwapQuote(ctx, j.NativeMint, j.TokenMint, inLamports, j.SlippageBps)
	if err != nil {
		j.recordFailure(jobStart, actualBuy, spendableBeforeCap, err)
		return Outcome{}, err
	}

	outcome, err := j.Ledger.ExecuteSignedSwap(ctx, quote)
	if err != nil {
		j.recordFailure(jobStart, actualBuy, spendableBeforeCap, err)
		return Outcome{}, err
	}

	meta := map[string]interface{}{
		"solSpent":           actualBuy,
		"success":            outcome.Success,
		"safetyCap":          j.MaxBuyPerIntervalSOL,
		"spendableBeforeCap": spendableBeforeCap,
	}
	if outcome.OutAmount != nil {
		meta["tokenReceived"] = outcome.OutAmount.String()
	}
	if outcome.Err != nil {
		meta["error"] = outcome.Err.Error()
	}

	var txs []string
	if outcome.Success && outcome.Signature != "" {
		txs = []string{outcome.Signature}
	}
	if err := j.Store.InsertRound(types.Round{
		ID:   clock.NewID(),
		Type: types.RoundTypeBuy,
		TS:   jobStart,
		Txs:  txs,
		Meta: meta,
	}); err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Success:       outcome.Success,
		Signature:     outcome.Signature,
		SOLSpent:      actualBuy,
		TokenReceived: outcome.OutAmount,
	}, nil
}

func (j *Job) recordFailure(jobStart int64, actualBuy, spendableBeforeCap float64, failErr error) {
	meta := map[string]interface{}{
		"solSpent":           actualBuy,
		"success":            false,
		"error":              failErr.Error(),
		"safetyCap":          j.MaxBuyPerIntervalSOL,
		"spendableBeforeCap": spendableBeforeCap,
	}
	if err := j.Store.InsertRound(types.Round{
		ID:   clock.NewID(),
		Type: types.RoundTypeBuy,
		TS:   jobStart,
		Txs:  []string{},
		Meta: meta,
	}); err != nil {
		logrus.WithError(err).Error("buyjob: failed to record round after swap failure")
	}
}

func (j *Job) recordRound(jobStart int64, txs []string, meta map[string]interface{}) {
	if err := j.Store.InsertRound(types.Round{
		ID:   clock.NewID(),
		Type: types.RoundTypeBuy,
		TS:   jobStart,
		Txs:  txs,
		Meta: meta,
	}); err != nil {
		logrus.WithError(err).Error("buyjob: failed to record skipped round")
	}
}
