package ledger

import (
	"context"
	"math/big"
)

// Fake is an in-memory Adapter implementation used by other packages'
// tests; it is not wired into the production binary.
type Fake struct {
	NativeBalance     int64
	TokenBalances     map[string]*big.Int
	MissingTokenAccounts map[string]bool // owner -> true if its token account should report as not-yet-created
	Decimals          map[string]int
	Blockhash         string
	LastValidHeight   int64
	Signatures        map[string][]Signature
	EnrichedTxPages   map[string][][]EnrichedTx // address -> ordered pages
	enrichedTxCursor  map[string]int
	Quote             Quote
	SwapOutcome       SwapOutcome
	TransferOutcome   TransferOutcome
	SwapCalls         int
	TransferCalls     int
	SignatureCalls    int
	TransferBatches   []TransferBatch // every batch passed to ExecuteTransferBatch, in call order
}

// NewFake returns an empty Fake ready for test configuration.
func NewFake() *Fake {
	return &Fake{
		TokenBalances:        make(map[string]*big.Int),
		MissingTokenAccounts: make(map[string]bool),
		Decimals:             make(map[string]int),
		Signatures:           make(map[string][]Signature),
		EnrichedTxPages:      make(map[string][][]EnrichedTx),
		enrichedTxCursor:     make(map[string]int),
	}
}

func (f *Fake) GetNativeBalance(ctx context.Context, address string) (int64, error) {
	return f.NativeBalance, nil
}

func (f *Fake) GetTokenBalance(ctx context.Context, owner, mint string) (*big.Int, error) {
	if b, ok := f.TokenBalances[owner]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

// TokenAccountExists reports true unless owner was explicitly marked
// missing via MissingTokenAccounts.
func (f *Fake) TokenAccountExists(ctx context.Context, owner, mint string) (bool, error) {
	return !f.MissingTokenAccounts[owner], nil
}

func (f *Fake) GetTokenDecimals(ctx context.Context, mint string) (int, error) {
	if d, ok := f.Decimals[mint]; ok {
		return d, nil
	}
	return 6, nil
}

func (f *Fake) GetLatestBlockhash(ctx context.Context) (string, int64, error) {
	return f.Blockhash, f.LastValidHeight, nil
}

func (f *Fake) GetSignaturesForAddress(ctx context.Context, address string, before string, limit int) ([]Signature, error) {
	f.SignatureCalls++
	return f.Signatures[address], nil
}

// FetchEnrichedTransactions returns EnrichedTxPages[address] one page at a
// time per call, then empty slices thereafter, letting tests model
// multi-page scans.
func (f *Fake) FetchEnrichedTransactions(ctx context.Context, address string, limit int, before string) ([]EnrichedTx, error) {
	pages := f.EnrichedTxPages[address]
	idx := f.enrichedTxCursor[address]
	if idx >= len(pages) {
		return nil, nil
	}
	f.enrichedTxCursor[address] = idx + 1
	return pages[idx], nil
}

func (f *Fake) GetSwapQuote(ctx context.Context, inMint, outMint string, amount *big.Int, slippageBps int) (Quote, error) {
	return f.Quote, nil
}

func (f *Fake) ExecuteSignedSwap(ctx context.Context, quote Quote) (SwapOutcome, error) {
	f.SwapCalls++
	return f.SwapOutcome, nil
}

func (f *Fake) ExecuteTransferBatch(ctx context.Context, batch TransferBatch) (TransferOutcome, error) {
	f.TransferCalls++
	f.TransferBatches = append(f.TransferBatches, batch)
	return f.TransferOutcome, nil
}
