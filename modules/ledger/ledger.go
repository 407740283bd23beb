// Package ledger is the thin capability interface (C4) the rest of the
// agent uses to talk to the chain, the token-ledger indexer, and the swap
// router. It is deliberately a contract plus a minimal default
// implementation — production-grade RPC/indexer/router clients are out of
// scope, the way wallet.Wallet only consumes a modules.ConsensusSet
// interface rather than embedding a full consensus implementation.
package ledger

import (
	"context"
	"math/big"
)

// Signature is one ledger transaction identifier with its optional block
// time (spec §4.2 get_signatures_for_address).
type Signature struct {
	Signature string
	BlockTime *int64
}

// TokenBalanceChange is one entry of an EnrichedTx's accountData
// tokenBalanceChanges.
type TokenBalanceChange struct {
	UserAccount string
	Mint        string
	RawAmount   *big.Int
	Decimals    int
}

// AccountDataEntry is one entry of an EnrichedTx's accountData.
type AccountDataEntry struct {
	Account              string
	NativeBalanceChange  int64 // lamports
	TokenBalanceChanges  []TokenBalanceChange
}

// TokenTransfer is one entry of an EnrichedTx's tokenTransfers.
type TokenTransfer struct {
	FromUserAccount string
	ToUserAccount   string
	Mint            string
	RawAmount       *big.Int
}

// NativeTransfer is one entry of an EnrichedTx's nativeTransfers.
type NativeTransfer struct {
	FromUserAccount string
	ToUserAccount   string
	AmountLamports  int64
}

// SwapEvent is the optional events.swap field of an EnrichedTx, used by
// the scanner's high-confidence buy-detection rule.
type SwapEvent struct {
	NativeInput  *NativeAmount
	TokenOutputs []TokenAmount
}

// NativeAmount is a lamport amount attached to a swap event's native leg.
type NativeAmount struct {
	Amount int64 // lamports
}

// TokenAmount is a raw token amount attached to a swap event's token leg.
type TokenAmount struct {
	UserAccount string
	Mint        string
	RawAmount   *big.Int
}

// EnrichedTx is one transaction as returned by the indexer, exactly the
// shape spec §4.2 names.
type EnrichedTx struct {
	Signature       string
	Timestamp       int64
	Type            string
	Source          string
	TokenTransfers   []TokenTransfer
	NativeTransfers  []NativeTransfer
	Swap            *SwapEvent
	AccountData     []AccountDataEntry
}

// Quote is a swap router quote (spec §4.2 get_swap_quote).
type Quote struct {
	InMint         string
	OutMint        string
	InAmount       *big.Int
	OutAmount      *big.Int
	SlippageBps    int
	RouteReference string // opaque, passed back to execute_signed_swap implementations
}

// SwapOutcome is the result of executing a signed swap (spec §4.2
// execute_signed_swap).
type SwapOutcome struct {
	Success   bool
	Signature string
	Err       error
	InAmount  *big.Int
	OutAmount *big.Int
}

// TransferBatch is a batch of reward transfers to execute together (spec
// §4.8 PerWinnerSplit/ExecuteTransfers).
type TransferBatch struct {
	Mint      string
	Transfers []TransferInstruction
}

// TransferInstruction is one winner's share within a transfer batch. The
// caller sets CreateAccount from a fresh TokenAccountExists check (spec
// §4.8 "if non-existent on-chain, a create-instruction precedes the
// transfer instruction").
type TransferInstruction struct {
	ToOwner       string
	RawAmount     *big.Int
	CreateAccount bool // true if the destination associated token account does not yet exist
}

// TransferOutcome is the result of executing one transfer batch.
type TransferOutcome struct {
	Success   bool
	Signature string
	Err       error
}

// Adapter is the full capability surface the core consumes (spec §4.2).
// Implementations must treat ctx cancellation as a suspension point (spec
// §5): every blocking call must return promptly once ctx is done.
type Adapter interface {
	GetNativeBalance(ctx context.Context, address string) (int64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (*big.Int, error)
	TokenAccountExists(ctx context.Context, owner, mint string) (bool, error)
	GetTokenDecimals(ctx context.Context, mint string) (int, error)
	GetLatestBlockhash(ctx context.Context) (blockhash string, lastValidHeight int64, err error)
	GetSignaturesForAddress(ctx context.Context, address string, before string, limit int) ([]Signature, error)
	FetchEnrichedTransactions(ctx context.Context, address string, limit int, before string) ([]EnrichedTx, error)
	GetSwapQuote(ctx context.Context, inMint, outMint string, amount *big.Int, slippageBps int) (Quote, error)
	ExecuteSignedSwap(ctx context.Context, quote Quote) (SwapOutcome, error)
	ExecuteTransferBatch(ctx context.Context, batch TransferBatch) (TransferOutcome, error)
}
