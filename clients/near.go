package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NearClient is a thin JSON-RPC 2.0 client for nearcore nodes. It covers the
// handful of methods delegate-action relaying needs.
type NearClient struct {
	url  string
	http *http.Client
}

// NewNearClient returns a client for the given RPC endpoint.
func NewNearClient(url string) *NearClient {
	return &NearClient{
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type nearRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type nearRPCError struct {
	Name    string          `json:"name"`
	Cause   json.RawMessage `json:"cause"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *nearRPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("near rpc: %s: %s", e.Name, e.Message)
	}
	return fmt.Sprintf("near rpc: %s", e.Name)
}

type nearRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *nearRPCError   `json:"error"`
}

func (c *NearClient) rpc(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(nearRPCRequest{
		JSONRPC: "2.0",
		ID:      "facilitator",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("near rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("near rpc %s: http %d", method, resp.StatusCode)
	}
	var envelope nearRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("near rpc %s: decoding response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("near rpc %s: decoding result: %w", method, err)
		}
	}
	return nil
}

// NearAccessKey is the view_access_key result.
type NearAccessKey struct {
	Nonce      uint64          `json:"nonce"`
	Permission json.RawMessage `json:"permission"`
}

// ViewAccessKey returns the current access key state for accountID and the
// given ed25519 public key (in "ed25519:..." form).
func (c *NearClient) ViewAccessKey(ctx context.Context, accountID, publicKey string) (*NearAccessKey, error) {
	var key NearAccessKey
	err := c.rpc(ctx, "query", map[string]any{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey,
	}, &key)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// LatestBlock returns the hash and height of the latest final block. The
// hash anchors a transaction; the height bounds delegate-action validity.
func (c *NearClient) LatestBlock(ctx context.Context) (hash string, height uint64, err error) {
	var block struct {
		Header struct {
			Hash   string `json:"hash"`
			Height uint64 `json:"height"`
		} `json:"header"`
	}
	if err := c.rpc(ctx, "block", map[string]any{"finality": "final"}, &block); err != nil {
		return "", 0, err
	}
	return block.Header.Hash, block.Header.Height, nil
}

// NearExecutionOutcome is the portion of a broadcast_tx_commit result the
// settlement path inspects.
type NearExecutionOutcome struct {
	Status struct {
		SuccessValue     *string         `json:"SuccessValue"`
		SuccessReceiptID *string         `json:"SuccessReceiptId"`
		Failure          json.RawMessage `json:"Failure"`
	} `json:"status"`
	Transaction struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
}

// Succeeded reports whether the outcome carries a success status.
func (o *NearExecutionOutcome) Succeeded() bool {
	return o.Status.Failure == nil && (o.Status.SuccessValue != nil || o.Status.SuccessReceiptID != nil)
}

// SendTransaction broadcasts a borsh-serialized signed transaction (base64)
// and waits for its execution outcome.
func (c *NearClient) SendTransaction(ctx context.Context, signedTxBase64 string) (*NearExecutionOutcome, error) {
	var outcome NearExecutionOutcome
	err := c.rpc(ctx, "broadcast_tx_commit", []string{signedTxBase64}, &outcome)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}
