package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/playquickdraw/backend/internal/config"
)

// Client talks to the treasury service, the external collaborator that owns
// the escrow account: it confirms inbound deposit transactions and executes
// outbound payouts. The duel engine never constructs or broadcasts transfers
// itself.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Default is the package-level default client
var Default *Client

// NewClient creates a treasury client from config, or nil when the service
// is not configured (development mode trusts deposit references).
func NewClient(cfg *config.Config) *Client {
	if cfg == nil || cfg.TreasuryBaseURL == "" {
		log.Printf("[PAYMENT] Treasury service not configured - deposits will be trusted, payouts disabled")
		return nil
	}
	timeout := cfg.TreasuryTimeout
	if timeout <= 0 {
		timeout = 15
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.TreasuryBaseURL, "/"),
		apiKey:     cfg.TreasuryAPIKey,
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

// SetDefault sets the package-level default client
func SetDefault(c *Client) {
	Default = c
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("treasury request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		log.Printf("[PAYMENT] Treasury %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(data))
		return fmt.Errorf("treasury returned status %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode treasury response: %w", err)
		}
	}
	return nil
}

// VerifyDeposit confirms that txRef moved at least amount from account into
// escrow. Satisfies duel.DepositVerifier.
func (c *Client) VerifyDeposit(ctx context.Context, txRef, account string, amount int64) error {
	if c == nil {
		return errors.New("treasury client not initialized")
	}
	var resp struct {
		Confirmed bool   `json:"confirmed"`
		Message   string `json:"message"`
	}
	payload := map[string]interface{}{
		"tx_ref":  txRef,
		"account": account,
		"amount":  amount,
	}
	if err := c.do(ctx, "POST", "/v1/deposits/verify", payload, &resp); err != nil {
		return err
	}
	if !resp.Confirmed {
		return fmt.Errorf("deposit not confirmed: %s", resp.Message)
	}
	return nil
}

// SendPayout transfers amount to account and returns the treasury's receipt
// reference. The match id rides along as the idempotency key: the treasury
// must return the original receipt if the same match is paid twice, which is
// the defense-in-depth backstop behind the settlement lock. Satisfies
// duel.PayoutExecutor.
func (c *Client) SendPayout(ctx context.Context, matchID, account string, amount int64) (string, error) {
	if c == nil {
		return "", errors.New("treasury client not initialized")
	}
	var resp struct {
		Receipt string `json:"receipt"`
		Status  string `json:"status"`
	}
	payload := map[string]interface{}{
		"account": account,
		"amount":  amount,
	}
	// Idempotency key travels as a header so retries are safe server-side.
	if err := c.doWithIdempotency(ctx, "/v1/payouts", matchID, payload, &resp); err != nil {
		return "", err
	}
	if resp.Receipt == "" {
		return "", errors.New("treasury returned no payout receipt")
	}
	log.Printf("[PAYMENT] Payout executed for match %s: %d to %s (receipt %s)", matchID, amount, account, resp.Receipt)
	return resp.Receipt, nil
}

func (c *Client) doWithIdempotency(ctx context.Context, path, key string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("treasury request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("[PAYMENT] Treasury POST %s failed: status=%d body=%s", path, resp.StatusCode, string(body))
		return fmt.Errorf("treasury returned status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
