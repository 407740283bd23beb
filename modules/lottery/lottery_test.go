package lottery

import (
	"math/big"
	"testing"

	"github.com/nova-treasury/treasury-agent/types"
)

func TestHash32IsDeterministicAndNonNegative(t *testing.T) {
	a := Hash32("1702654321-Mint1-blockhash123")
	b := Hash32("1702654321-Mint1-blockhash123")
	if a != b {
		t.Fatalf("Hash32 not deterministic: %d != %d", a, b)
	}
	if int32(a) < 0 {
		t.Fatalf("Hash32 returned negative-looking value: %d", a)
	}

	c := Hash32("1702654321-Mint1-blockhash124")
	if a == c {
		t.Fatalf("Hash32 collided for different input")
	}
}

func TestSeedMatchesHash32OfConcat(t *testing.T) {
	got := Seed(1702654321, "Mint1", "hash123")
	want := Hash32("1702654321-Mint1-hash123")
	if got != want {
		t.Fatalf("Seed = %d, want %d", got, want)
	}
}

func TestMulberry32ProducesValuesInUnitInterval(t *testing.T) {
	rng := newMulberry32(42)
	for i := 0; i < 1000; i++ {
		v := rng.next()
		if v < 0 || v >= 1 {
			t.Fatalf("mulberry32 produced out-of-range value: %v", v)
		}
	}
}

func TestMulberry32IsDeterministicAcrossInstances(t *testing.T) {
	a := newMulberry32(123)
	b := newMulberry32(123)
	for i := 0; i < 10; i++ {
		if a.next() != b.next() {
			t.Fatalf("mulberry32 diverged at iteration %d", i)
		}
	}
}

func TestSelectWinnersIsDeterministicForSameSeed(t *testing.T) {
	candidates := []Candidate{
		{Address: "a", Weight: 1},
		{Address: "b", Weight: 5},
		{Address: "c", Weight: 2},
		{Address: "d", Weight: 0.5},
	}

	w1 := SelectWinners(candidates, 2, 777)
	w2 := SelectWinners(candidates, 2, 777)
	if len(w1) != 2 || len(w2) != 2 {
		t.Fatalf("expected 2 winners, got %d and %d", len(w1), len(w2))
	}
	for i := range w1 {
		if w1[i].Address != w2[i].Address {
			t.Fatalf("SelectWinners not deterministic: %+v != %+v", w1, w2)
		}
	}
}

func TestSelectWinnersNeverPicksSameCandidateTwice(t *testing.T) {
	candidates := []Candidate{
		{Address: "a", Weight: 10},
		{Address: "b", Weight: 10},
		{Address: "c", Weight: 10},
	}
	winners := SelectWinners(candidates, 3, 999)
	seen := make(map[string]bool)
	for _, w := range winners {
		if seen[w.Address] {
			t.Fatalf("duplicate winner: %s", w.Address)
		}
		seen[w.Address] = true
	}
	if len(winners) != 3 {
		t.Fatalf("winners = %d, want 3", len(winners))
	}
}

func TestSelectWinnersStopsWhenFewerCandidatesThanCount(t *testing.T) {
	candidates := []Candidate{{Address: "a", Weight: 1}}
	winners := SelectWinners(candidates, 5, 1)
	if len(winners) != 1 {
		t.Fatalf("winners = %d, want 1", len(winners))
	}
}

func TestSelectWinnersStopsWhenAllWeightsZero(t *testing.T) {
	candidates := []Candidate{{Address: "a", Weight: 0}, {Address: "b", Weight: 0}}
	winners := SelectWinners(candidates, 2, 1)
	if len(winners) != 0 {
		t.Fatalf("winners = %d, want 0 when all weights are zero", len(winners))
	}
}

func TestDeriveCandidatesComputesWeightBounds(t *testing.T) {
	now := int64(1_000_000)
	firstSeen := now - 400*86400 // very old wallet
	holders := []types.Holder{
		{
			Address:        "old",
			FirstSeenTS:    firstSeen,
			LastBalanceRaw: big.NewInt(1_000_000_000),
			StreakRounds:   100,
			TWBScore:       1_000_000,
		},
	}
	candidates := DeriveCandidates(holders, now, 6)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate")
	}
	if candidates[0].Weight > 10 {
		t.Fatalf("Weight = %v, want capped at 10", candidates[0].Weight)
	}
	if candidates[0].TokenBalanceUI != 1000 {
		t.Fatalf("TokenBalanceUI = %v, want 1000", candidates[0].TokenBalanceUI)
	}
}
