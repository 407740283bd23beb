// Package lottery implements the deterministic weighted selection used by
// the reward job (spec §4.6): an eligibility-derived weight per holder, a
// hash32-seeded Mulberry32 PRNG, and weighted selection without
// replacement. The hash32 and Mulberry32 definitions are exact and must
// not be altered — any correct implementation of them is bit-identical,
// and round reproducibility depends on that.
package lottery

import (
	"fmt"
	"math"
	"math/big"

	"github.com/nova-treasury/treasury-agent/types"
)

// Candidate is one eligible holder's lottery input, derived from Store
// state (spec §4.6 "Each eligible holder derives").
type Candidate struct {
	Address       string
	WalletAgeDays float64
	TokenBalanceUI float64
	StreakRounds  int64
	TWBScore      float64
	Weight        float64
}

// DeriveCandidates computes Weight (and the other derived fields) for
// every eligible holder.
func DeriveCandidates(holders []types.Holder, now int64, decimals int) []Candidate {
	candidates := make([]Candidate, 0, len(holders))
	for _, h := range holders {
		walletAgeDays := float64(now-h.FirstSeenTS) / 86400
		tokenBalanceUI := rawToUI(h.LastBalanceRaw, decimals)
		weight := math.Min(10,
			math.Sqrt(walletAgeDays)*
				math.Min(3, 1+float64(h.StreakRounds)/10)*
				math.Min(5, 1+math.Log10(1+h.TWBScore)),
		)
		candidates = append(candidates, Candidate{
			Address:        h.Address,
			WalletAgeDays:  walletAgeDays,
			TokenBalanceUI: tokenBalanceUI,
			StreakRounds:   h.StreakRounds,
			TWBScore:       h.TWBScore,
			Weight:         weight,
		})
	}
	return candidates
}

// rawToUI converts a raw integer token amount to its UI (human-readable)
// float representation given the mint's decimals.
func rawToUI(raw *big.Int, decimals int) float64 {
	if raw == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f := new(big.Float).Quo(new(big.Float).SetInt(raw), scale)
	result, _ := f.Float64()
	return result
}

// Hash32 is the deterministic seed function: an iterative h = (h<<5) - h + c
// over the UTF-8 bytes of s, taken as a non-negative 32-bit integer (spec
// §4.6).
func Hash32(s string) uint32 {
	var h int32
	for _, c := range []byte(s) {
		h = (h << 5) - h + int32(c)
	}
	return uint32(h) & 0x7fffffff
}

// Seed builds the deterministic round seed from its three inputs (spec
// §4.6): seed = hash32(concat(timestamp, "-", tokenMint, "-", blockhash)).
func Seed(timestamp int64, tokenMint, blockhash string) uint32 {
	return Hash32(fmt.Sprintf("%d-%s-%s", timestamp, tokenMint, blockhash))
}

// mulberry32 is a closure over PRNG state, returning successive values in
// [0,1) exactly as the Mulberry32 algorithm specifies.
type mulberry32 struct {
	state uint32
}

func newMulberry32(seed uint32) *mulberry32 {
	return &mulberry32{state: seed}
}

// next returns the next pseudo-random float64 in [0, 1).
func (m *mulberry32) next() float64 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return float64(t^(t>>14)) / 4294967296
}

// SelectWinners performs weighted selection without replacement over
// candidates using a Mulberry32 PRNG seeded by seed, picking up to count
// winners (spec §4.6 "Weighted selection without replacement").
func SelectWinners(candidates []Candidate, count int, seed uint32) []Candidate {
	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)

	rng := newMulberry32(seed)
	var winners []Candidate

	for i := 0; i < count && len(remaining) > 0; i++ {
		var total float64
		for _, c := range remaining {
			total += c.Weight
		}
		if total <= 0 {
			break
		}

		r := rng.next() * total
		var cumulative float64
		picked := -1
		for j, c := range remaining {
			cumulative += c.Weight
			if cumulative > r {
				picked = j
				break
			}
		}
		if picked == -1 {
			picked = len(remaining) - 1
		}

		winners = append(winners, remaining[picked])
		remaining = append(remaining[:picked], remaining[picked+1:]...)
	}
	return winners
}
