// Package treasury is the REST client for the transfer service that signs
// and submits settlement transfers on chain. The engine never touches keys;
// it posts batches and reads the treasury balance.
package treasury

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solcast/marketd/internal/domain"
)

// Client talks to the transfer service over HTTP. It implements domain.Ledger.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a treasury client. apiKey is sent as a bearer token on every
// request.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type batchRequest struct {
	Transfers []transferItem `json:"transfers"`
}

type transferItem struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type batchResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// SubmitBatchTransfer posts one batch of transfers. The service applies the
// batch atomically; the returned reference covers every item.
func (c *Client) SubmitBatchTransfer(ctx context.Context, items []domain.TransferItem) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("treasury: empty batch")
	}

	req := batchRequest{Transfers: make([]transferItem, 0, len(items))}
	for _, it := range items {
		req.Transfers = append(req.Transfers, transferItem{
			Recipient: it.Recipient,
			Amount:    it.Amount.String(),
		})
	}

	var resp batchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/transfers/batch", req, &resp); err != nil {
		return "", fmt.Errorf("treasury: submit batch: %w", err)
	}
	if resp.Status != "confirmed" {
		return "", fmt.Errorf("treasury: batch not confirmed: status %q", resp.Status)
	}
	return resp.Reference, nil
}

// TreasuryBalance returns the current spendable treasury balance.
func (c *Client) TreasuryBalance(ctx context.Context) (decimal.Decimal, error) {
	var resp balanceResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/treasury/balance", nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("treasury: balance: %w", err)
	}

	bal, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("treasury: parse balance %q: %w", resp.Balance, err)
	}
	return bal, nil
}

// doJSON performs one request with a JSON body and decodes a JSON response.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
