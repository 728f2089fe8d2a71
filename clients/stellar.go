package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stellar/go/clients/horizonclient"
)

// StellarClient pairs a Horizon client with the Soroban RPC endpoint for the
// same network. Horizon handles accounts and submission; contract-call
// simulation only exists on Soroban RPC.
type StellarClient struct {
	Horizon    *horizonclient.Client
	SorobanURL string

	http *http.Client
}

// NewStellarClient builds the paired handle. The HTTP client is set here;
// the handle is shared across goroutines and must not mutate itself.
func NewStellarClient(horizonURL, sorobanURL string) *StellarClient {
	return &StellarClient{
		Horizon:    &horizonclient.Client{HorizonURL: horizonURL},
		SorobanURL: sorobanURL,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

type sorobanRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type sorobanResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SorobanSimulation is the subset of a simulateTransaction result needed to
// vet an invocation before submitting it.
type SorobanSimulation struct {
	Error           string           `json:"error"`
	MinResourceFee  string           `json:"minResourceFee"`
	LatestLedger    uint32           `json:"latestLedger"`
	TransactionData string           `json:"transactionData"`
	RestorePreamble *json.RawMessage `json:"restorePreamble"`
}

func (c *StellarClient) soroban(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(sorobanRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SorobanURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("soroban rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope sorobanResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("soroban rpc %s: decoding response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("soroban rpc %s: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("soroban rpc %s: decoding result: %w", method, err)
		}
	}
	return nil
}

// SimulateTransaction runs a base64 transaction envelope through Soroban
// preflight. The returned simulation carries the error string, if any, and
// the resource footprint a real submission would need.
func (c *StellarClient) SimulateTransaction(ctx context.Context, envelopeXDR string) (*SorobanSimulation, error) {
	var sim SorobanSimulation
	err := c.soroban(ctx, "simulateTransaction", map[string]any{"transaction": envelopeXDR}, &sim)
	if err != nil {
		return nil, err
	}
	return &sim, nil
}
