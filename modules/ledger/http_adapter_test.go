package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestExecuteSignedSwapDryRunShortCircuits(t *testing.T) {
	a := NewHTTPAdapter("", "", "", "", true, logrus.NewEntry(logrus.New()))
	quote := Quote{InMint: "So111", OutMint: "Tok1", InAmount: big.NewInt(1000), OutAmount: big.NewInt(2000)}

	out, err := a.ExecuteSignedSwap(context.Background(), quote)
	if err != nil {
		t.Fatalf("ExecuteSignedSwap: %v", err)
	}
	if !out.Success || out.Signature != dryRunSwapSignature {
		t.Fatalf("ExecuteSignedSwap dry-run = %+v", out)
	}
	if out.InAmount.Cmp(quote.InAmount) != 0 || out.OutAmount.Cmp(quote.OutAmount) != 0 {
		t.Fatalf("ExecuteSignedSwap dry-run amounts mismatch: %+v", out)
	}
}

func TestExecuteTransferBatchDryRunShortCircuits(t *testing.T) {
	a := NewHTTPAdapter("", "", "", "", true, logrus.NewEntry(logrus.New()))
	out, err := a.ExecuteTransferBatch(context.Background(), TransferBatch{Mint: "Tok1"})
	if err != nil {
		t.Fatalf("ExecuteTransferBatch: %v", err)
	}
	if !out.Success || out.Signature != dryRunTransferSignatureA {
		t.Fatalf("ExecuteTransferBatch dry-run = %+v", out)
	}
}

func TestGetTokenDecimalsCachesAfterFirstFetch(t *testing.T) {
	a := NewHTTPAdapter("", "", "", "", true, logrus.NewEntry(logrus.New()))
	a.decimals["Tok1"] = 6

	d, err := a.GetTokenDecimals(context.Background(), "Tok1")
	if err != nil {
		t.Fatalf("GetTokenDecimals: %v", err)
	}
	if d != 6 {
		t.Fatalf("GetTokenDecimals = %d, want 6", d)
	}
}
