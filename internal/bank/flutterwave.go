// Package bank verifies payout accounts against Flutterwave.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
	"github.com/Kharon-pay-mini/user-management-server/pkg/httpclient"
)

const provider = "flutterwave"

// Doer executes prepared requests. *httpclient.CircuitBreakerClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config holds the Flutterwave endpoint and credentials.
type Config struct {
	BaseURL   string
	SecretKey string
	Country   string
}

// Client talks to the Flutterwave banks and account-resolve APIs.
type Client struct {
	http Doer
	cfg  Config
}

// NewClient creates a Flutterwave client. Country defaults to NG.
func NewClient(doer Doer, cfg Config) *Client {
	if cfg.Country == "" {
		cfg.Country = "NG"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{http: doer, cfg: cfg}
}

type envelope interface {
	ok() (bool, string)
}

type apiResponse[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// ListBanks returns the bank directory for the configured country.
func (c *Client) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	var out apiResponse[[]domain.Bank]
	if err := c.call(ctx, http.MethodGet, "/banks/"+c.cfg.Country, nil, &out); err != nil {
		return nil, fmt.Errorf("list banks: %w", err)
	}
	return out.Data, nil
}

// ResolveAccount looks an account number up at the bank with bankCode.
func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*domain.ResolvedAccount, error) {
	payload := map[string]string{
		"account_number": accountNumber,
		"account_bank":   bankCode,
	}

	var out apiResponse[domain.ResolvedAccount]
	if err := c.call(ctx, http.MethodPost, "/accounts/resolve", payload, &out); err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	return &out.Data, nil
}

// VerifyAccount finds bankName in the directory by exact name and
// resolves accountNumber there.
func (c *Client) VerifyAccount(ctx context.Context, bankName, accountNumber string) (*domain.ResolvedAccount, error) {
	banks, err := c.ListBanks(ctx)
	if err != nil {
		return nil, apperrors.Upstream("Failed to fetch banks", err)
	}

	code := ""
	for _, b := range banks {
		if b.Name == bankName {
			code = b.Code
			break
		}
	}
	if code == "" {
		return nil, apperrors.InvalidInput("Bank not found")
	}

	account, err := c.ResolveAccount(ctx, accountNumber, code)
	if err != nil {
		return nil, apperrors.Upstream("Bank account verification failed", err)
	}
	return account, nil
}

// call sends a JSON request and decodes the {status, message, data}
// envelope into out.
func (c *Client) call(ctx context.Context, method, path string, payload any, out envelope) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, provider)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if ok, message := out.ok(); !ok {
		return fmt.Errorf("%s returned error: %s", provider, message)
	}
	return nil
}

func (r *apiResponse[T]) ok() (bool, string) {
	return r.Status == "success", r.Message
}
