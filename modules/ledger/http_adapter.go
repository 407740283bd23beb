package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nova-treasury/treasury-agent/internal/httputil"
)

// sentinel signatures used in dry-run mode, matching the "synthetic
// successful outcome with a sentinel signature" required by spec §4.2 and
// §4.8.
const (
	dryRunSwapSignature      = "DRYRUN1111111111111111111111111111111111111111111111111111"
	dryRunTransferSignatureA = "DRYRUN2222222222222222222222222222222222222222222222222222"
)

// HTTPAdapter is the default Adapter implementation: JSON-RPC for chain
// reads, REST+JSON for the indexer and swap router, generalized from
// api.HttpGET/HttpPOST's whitelisted-User-Agent pattern via
// internal/httputil. It is intentionally minimal — enough to run the
// agent end-to-end against a compatible RPC/indexer/router, not a
// full-featured client of any one provider.
type HTTPAdapter struct {
	RPCURL        string
	IndexerURL    string
	IndexerAPIKey string
	RouterURL     string
	DryRun        bool

	client *httputil.Client
	log    *logrus.Entry

	decimalsMu sync.Mutex
	decimals   map[string]int
}

// NewHTTPAdapter constructs an HTTPAdapter. indexerURL/routerURL may be
// empty if the caller only ever runs in dry-run mode.
func NewHTTPAdapter(rpcURL, indexerURL, indexerAPIKey, routerURL string, dryRun bool, log *logrus.Entry) *HTTPAdapter {
	return &HTTPAdapter{
		RPCURL:        rpcURL,
		IndexerURL:    indexerURL,
		IndexerAPIKey: indexerAPIKey,
		RouterURL:     routerURL,
		DryRun:        dryRun,
		client:        httputil.New(15 * time.Second),
		log:           log,
		decimals:      make(map[string]int),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (a *HTTPAdapter) rpcCall(ctx context.Context, method string, params []interface{}, out interface{}) error {
	req := rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	var resp rpcResponse
	if err := a.client.PostJSON(ctx, a.RPCURL, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("ledger: rpc %s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// GetNativeBalance fetches the lamport balance of address.
func (a *HTTPAdapter) GetNativeBalance(ctx context.Context, address string) (int64, error) {
	var out struct {
		Value int64 `json:"value"`
	}
	if err := a.rpcCall(ctx, "getBalance", []interface{}{address}, &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

// GetTokenBalance fetches the raw token balance of owner's associated
// token account for mint; a non-existent account returns 0, not an error
// (spec §4.2).
func (a *HTTPAdapter) GetTokenBalance(ctx context.Context, owner, mint string) (*big.Int, error) {
	var out struct {
		Value *struct {
			Amount string `json:"amount"`
		} `json:"value"`
	}
	if err := a.rpcCall(ctx, "getTokenAccountBalanceByOwner", []interface{}{owner, mint}, &out); err != nil {
		return nil, err
	}
	if out.Value == nil {
		return big.NewInt(0), nil
	}
	amt, ok := new(big.Int).SetString(out.Value.Amount, 10)
	if !ok {
		return big.NewInt(0), nil
	}
	return amt, nil
}

// TokenAccountExists reports whether owner's associated token account for
// mint has been created on-chain (spec §4.8: a winner's payout needs a
// create-instruction first if it has not).
func (a *HTTPAdapter) TokenAccountExists(ctx context.Context, owner, mint string) (bool, error) {
	var out struct {
		Value *struct {
			Amount string `json:"amount"`
		} `json:"value"`
	}
	if err := a.rpcCall(ctx, "getTokenAccountBalanceByOwner", []interface{}{owner, mint}, &out); err != nil {
		return false, err
	}
	return out.Value != nil, nil
}

// GetTokenDecimals fetches and caches (process-wide, once fetched) the
// decimals of mint (spec §4.2).
func (a *HTTPAdapter) GetTokenDecimals(ctx context.Context, mint string) (int, error) {
	a.decimalsMu.Lock()
	if d, ok := a.decimals[mint]; ok {
		a.decimalsMu.Unlock()
		return d, nil
	}
	a.decimalsMu.Unlock()

	var out struct {
		Decimals int `json:"decimals"`
	}
	if err := a.rpcCall(ctx, "getTokenSupply", []interface{}{mint}, &out); err != nil {
		return 0, err
	}

	a.decimalsMu.Lock()
	a.decimals[mint] = out.Decimals
	a.decimalsMu.Unlock()
	return out.Decimals, nil
}

// GetLatestBlockhash fetches the chain's most recent blockhash and its
// last-valid block height.
func (a *HTTPAdapter) GetLatestBlockhash(ctx context.Context) (string, int64, error) {
	var out struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight int64  `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := a.rpcCall(ctx, "getLatestBlockhash", nil, &out); err != nil {
		return "", 0, err
	}
	return out.Value.Blockhash, out.Value.LastValidBlockHeight, nil
}

// GetSignaturesForAddress paginates signature history for address.
func (a *HTTPAdapter) GetSignaturesForAddress(ctx context.Context, address string, before string, limit int) ([]Signature, error) {
	params := []interface{}{address, map[string]interface{}{"limit": limit}}
	if before != "" {
		params[1].(map[string]interface{})["before"] = before
	}
	var out []struct {
		Signature string `json:"signature"`
		BlockTime *int64 `json:"blockTime"`
	}
	if err := a.rpcCall(ctx, "getSignaturesForAddress", params, &out); err != nil {
		return nil, err
	}
	sigs := make([]Signature, len(out))
	for i, o := range out {
		sigs[i] = Signature{Signature: o.Signature, BlockTime: o.BlockTime}
	}
	return sigs, nil
}

// FetchEnrichedTransactions retrieves enriched transaction data for
// address from the configured indexer.
func (a *HTTPAdapter) FetchEnrichedTransactions(ctx context.Context, address string, limit int, before string) ([]EnrichedTx, error) {
	url := fmt.Sprintf("%s/v0/addresses/%s/transactions?api-key=%s&limit=%d", a.IndexerURL, address, a.IndexerAPIKey, limit)
	if before != "" {
		url += "&before=" + before
	}
	var txs []EnrichedTx
	if err := a.client.GetJSON(ctx, url, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// GetSwapQuote requests a swap route quote from the configured router.
func (a *HTTPAdapter) GetSwapQuote(ctx context.Context, inMint, outMint string, amount *big.Int, slippageBps int) (Quote, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%s&slippageBps=%d", a.RouterURL, inMint, outMint, amount.String(), slippageBps)
	var out struct {
		OutAmount string `json:"outAmount"`
		RouteID   string `json:"routeId"`
	}
	if err := a.client.GetJSON(ctx, url, &out); err != nil {
		return Quote{}, err
	}
	outAmt, ok := new(big.Int).SetString(out.OutAmount, 10)
	if !ok {
		outAmt = big.NewInt(0)
	}
	return Quote{
		InMint:         inMint,
		OutMint:        outMint,
		InAmount:       amount,
		OutAmount:      outAmt,
		SlippageBps:    slippageBps,
		RouteReference: out.RouteID,
	}, nil
}

// ExecuteSignedSwap executes quote. In dry-run mode it short-circuits with
// a synthetic successful outcome and a sentinel signature, issuing no
// network I/O at all (spec §4.2).
func (a *HTTPAdapter) ExecuteSignedSwap(ctx context.Context, quote Quote) (SwapOutcome, error) {
	if a.DryRun {
		a.log.WithField("route", quote.RouteReference).Debug("dry-run swap, skipping execution")
		return SwapOutcome{
			Success:   true,
			Signature: dryRunSwapSignature,
			InAmount:  quote.InAmount,
			OutAmount: quote.OutAmount,
		}, nil
	}

	url := fmt.Sprintf("%s/swap", a.RouterURL)
	var out struct {
		Signature string `json:"signature"`
	}
	if err := a.client.PostJSON(ctx, url, map[string]interface{}{"route": quote.RouteReference}, &out); err != nil {
		return SwapOutcome{Success: false, Err: err, InAmount: quote.InAmount}, nil
	}
	return SwapOutcome{Success: true, Signature: out.Signature, InAmount: quote.InAmount, OutAmount: quote.OutAmount}, nil
}

// ExecuteTransferBatch executes one batch of reward transfers. In dry-run
// mode it short-circuits with a synthetic success and sentinel signature
// (spec §4.8 "In dry-run mode: no transfers; a synthetic success").
func (a *HTTPAdapter) ExecuteTransferBatch(ctx context.Context, batch TransferBatch) (TransferOutcome, error) {
	if a.DryRun {
		return TransferOutcome{Success: true, Signature: dryRunTransferSignatureA}, nil
	}

	url := fmt.Sprintf("%s/transfer-batch", a.RouterURL)
	var out struct {
		Signature string `json:"signature"`
	}
	if err := a.client.PostJSON(ctx, url, batch, &out); err != nil {
		return TransferOutcome{Success: false, Err: err}, nil
	}
	return TransferOutcome{Success: true, Signature: out.Signature}, nil
}
