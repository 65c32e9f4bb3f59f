package tasty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"tastygate/internal/metrics"
)

const (
	liveBaseURL    = "https://api.tastyworks.com"
	sandboxBaseURL = "https://api.cert.tastyworks.com"
)

// Gate is the shared rate limiter every upstream call must pass through,
// token exchanges included.
type Gate interface {
	Wait(ctx context.Context) error
}

// Options configures a Client.
type Options struct {
	BaseURL string // overrides the live/sandbox selection (tests)
	Sandbox bool
	Timeout time.Duration
}

// Client is a thin HTTP client for the Tastytrade REST API. It performs
// single request/response calls; retry policy belongs to the callers.
type Client struct {
	baseURL string
	http    *http.Client
	gate    Gate
	logger  *zap.Logger
}

// NewClient creates a Client. gate may be nil (tests), in which case calls
// are not throttled.
func NewClient(logger *zap.Logger, gate Gate, opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		if opts.Sandbox {
			base = sandboxBaseURL
		} else {
			base = liveBaseURL
		}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		gate:    gate,
		logger:  logger,
	}
}

// BaseURL returns the resolved upstream base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Authenticate exchanges a refresh token for a new access token via the
// OAuth token endpoint. Used both for first-time session creation and for
// every subsequent refresh; the upstream treats them identically.
func (c *Client) Authenticate(ctx context.Context, clientSecret, refreshToken string) (*TokenGrant, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_secret", clientSecret)
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token",
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var oerr oauthErrorResponse
		_ = json.Unmarshal(body, &oerr)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       oerr.Error,
			Message:    oerr.ErrorDescription,
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty access_token")
	}

	// The upstream issues 15-minute tokens; trust expires_in when present.
	expiresIn := tr.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 900
	}

	return &TokenGrant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// CustomerID returns the opaque identity of the customer behind
// accessToken.
func (c *Client) CustomerID(ctx context.Context, accessToken string) (string, error) {
	var out dataEnvelope[customerData]
	if err := c.getJSON(ctx, accessToken, "/customers/me", &out); err != nil {
		return "", err
	}
	return out.Data.ID.String(), nil
}

// ListAccounts returns the accounts visible under accessToken, in the
// upstream's own listing order.
func (c *Client) ListAccounts(ctx context.Context, accessToken string) ([]Account, error) {
	var out dataEnvelope[itemsEnvelope[accountItem]]
	if err := c.getJSON(ctx, accessToken, "/customers/me/accounts", &out); err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(out.Data.Items))
	for _, item := range out.Data.Items {
		accounts = append(accounts, item.Account)
	}
	return accounts, nil
}

// GetBalances fetches the balance snapshot for one account.
func (c *Client) GetBalances(ctx context.Context, accessToken, accountID string) (*Balance, error) {
	var out dataEnvelope[Balance]
	if err := c.getJSON(ctx, accessToken, "/accounts/"+url.PathEscape(accountID)+"/balances", &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetPositions fetches the open positions for one account.
func (c *Client) GetPositions(ctx context.Context, accessToken, accountID string) ([]Position, error) {
	var out dataEnvelope[itemsEnvelope[Position]]
	if err := c.getJSON(ctx, accessToken, "/accounts/"+url.PathEscape(accountID)+"/positions", &out); err != nil {
		return nil, err
	}
	return out.Data.Items, nil
}

// QuoteToken fetches the short-lived DXLink streamer token for a session.
func (c *Client) QuoteToken(ctx context.Context, accessToken string) (token, dxlinkURL string, err error) {
	var out dataEnvelope[quoteTokenData]
	if err := c.getJSON(ctx, accessToken, "/api-quote-tokens", &out); err != nil {
		return "", "", err
	}
	return out.Data.Token, out.Data.DXLinkURL, nil
}

// getJSON executes a rate-limited GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, accessToken, path string, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("tasty.http_failed",
			zap.String("path", path),
			zap.Error(err))
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, _ := io.ReadAll(resp.Body)
	elapsed := time.Since(start)

	if resp.StatusCode >= 400 {
		c.logger.Warn("tasty.http_error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", elapsed))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}

	c.logger.Debug("tasty.http_success",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))

	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.gate == nil {
		return nil
	}
	start := time.Now()
	if err := c.gate.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	metrics.ObserveSince(metrics.RateGateWait, start)
	return nil
}

// SetHTTPClient swaps the underlying HTTP client. Intended for tests that
// inject a mock transport.
func (c *Client) SetHTTPClient(h *http.Client) { c.http = h }
