package tasty

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockTransport is an http.RoundTripper that delegates to a handler function.
type mockTransport struct {
	fn func(*http.Request) (*http.Response, error)
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.fn(req)
}

// jsonResponse builds a fake *http.Response with the given status and JSON body.
func jsonResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

// newClientWithTransport creates a Client with a custom HTTP transport.
func newClientWithTransport(t *testing.T, fn func(*http.Request) (*http.Response, error)) *Client {
	t.Helper()
	c := NewClient(zap.NewNop(), nil, Options{BaseURL: "https://api.test.tastyworks.com"})
	c.SetHTTPClient(&http.Client{Transport: &mockTransport{fn: fn}})
	return c
}

// ─── Authenticate: success ───────────────────────────────────────────────────

func TestClient_Authenticate_Success(t *testing.T) {
	callCount := 0
	c := newClientWithTransport(t, func(req *http.Request) (*http.Response, error) {
		callCount++
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/oauth/token", req.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))

		body, _ := io.ReadAll(req.Body)
		assert.Contains(t, string(body), "grant_type=refresh_token")
		assert.Contains(t, string(body), "client_secret=sec-1")
		assert.Contains(t, string(body), "refresh_token=ref-1")

		return jsonResponse(http.StatusOK,
			`{"access_token":"acc-1","token_type":"Bearer","expires_in":900}`), nil
	})

	grant, err := c.Authenticate(context.Background(), "sec-1", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", grant.AccessToken)
	assert.Empty(t, grant.RefreshToken, "no rotation in this response")
	assert.WithinDuration(t, time.Now().Add(900*time.Second), grant.ExpiresAt, 5*time.Second)
	assert.Equal(t, 1, callCount)
}

// ─── Authenticate: rotated refresh token is surfaced ─────────────────────────

func TestClient_Authenticate_RotatedRefreshToken(t *testing.T) {
	c := newClientWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK,
			`{"access_token":"acc-2","refresh_token":"ref-rotated","expires_in":900}`), nil
	})

	grant, err := c.Authenticate(context.Background(), "sec", "ref")
	require.NoError(t, err)
	assert.Equal(t, "ref-rotated", grant.RefreshToken)
}

// ─── Authenticate: invalid_grant is a permanent APIError ─────────────────────

func TestClient_Authenticate_InvalidGrant(t *testing.T) {
	c := newClientWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest,
			`{"error":"invalid_grant","error_description":"Grant revoked"}`), nil
	})

	_, err := c.Authenticate(context.Background(), "sec", "revoked-ref")
	require.Error(t, err)
	assert.True(t, IsPermanentAuth(err), "invalid_grant must classify as permanent")
	assert.False(t, IsTransient(err))
}

// ─── Authenticate: 503 is transient ──────────────────────────────────────────

func TestClient_Authenticate_UpstreamUnavailable(t *testing.T) {
	c := newClientWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `{}`), nil
	})

	_, err := c.Authenticate(context.Background(), "sec", "ref")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanentAuth(err))
}

// ─── Authenticate: empty access token ────────────────────────────────────────

func TestClient_Authenticate_EmptyAccessToken(t *testing.T) {
	c := newClientWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"access_token":"","expires_in":900}`), nil
	})

	_, err := c.Authenticate(context.Background(), "sec", "ref")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty access_token")
}

// ─── ListAccounts: unwraps the data/items envelope ───────────────────────────

func TestClient_ListAccounts(t *testing.T) {
	c := newClientWithTransport(t, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/customers/me/accounts", req.URL.Path)
		assert.Equal(t, "Bearer acc-1", req.Header.Get("Authorization"))
		return jsonResponse(http.StatusOK, `{"data":{"items":[
			{"account":{"account-number":"5WT0001","nickname":"Main"},"authority-level":"owner"},
			{"account":{"account-number":"5WT0002"},"authority-level":"owner"}
		]}}`), nil
	})

	accounts, err := c.ListAccounts(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "5WT0001", accounts[0].AccountNumber, "listing order preserved")
	assert.Equal(t, "5WT0002", accounts[1].AccountNumber)
}

// ─── GetBalances: decimal fields survive decoding ────────────────────────────

func TestClient_GetBalances(t *testing.T) {
	c := newClientWithTransport(t, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/accounts/5WT0001/balances", req.URL.Path)
		return jsonResponse(http.StatusOK, `{"data":{
			"account-number":"5WT0001",
			"cash-balance":"1250.50",
			"net-liquidating-value":"10400.25"
		}}`), nil
	})

	bal, err := c.GetBalances(context.Background(), "acc-1", "5WT0001")
	require.NoError(t, err)
	assert.Equal(t, "1250.5", bal.CashBalance.String())
	assert.Equal(t, "10400.25", bal.NetLiquidatingValue.String())
}

// ─── getJSON: 401 surfaces as APIError with status ───────────────────────────

func TestClient_GetPositions_Unauthorized(t *testing.T) {
	c := newClientWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, `{"error":{"code":"invalid_session"}}`), nil
	})

	_, err := c.GetPositions(context.Background(), "stale", "5WT0001")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

// ─── Gate: limiter is consulted before the call ──────────────────────────────

type countingGate struct{ waits int }

func (g *countingGate) Wait(context.Context) error {
	g.waits++
	return nil
}

func TestClient_GateConsultedPerCall(t *testing.T) {
	gate := &countingGate{}
	c := NewClient(zap.NewNop(), gate, Options{BaseURL: "https://api.test.tastyworks.com"})
	c.SetHTTPClient(&http.Client{Transport: &mockTransport{fn: func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"access_token":"a","expires_in":900}`), nil
	}}})

	_, err := c.Authenticate(context.Background(), "s", "r")
	require.NoError(t, err)
	_, err = c.Authenticate(context.Background(), "s", "r")
	require.NoError(t, err)

	assert.Equal(t, 2, gate.waits, "every upstream call acquires the shared gate")
}

// ─── Sandbox selection ───────────────────────────────────────────────────────

func TestNewClient_BaseURLSelection(t *testing.T) {
	live := NewClient(zap.NewNop(), nil, Options{})
	sandbox := NewClient(zap.NewNop(), nil, Options{Sandbox: true})

	assert.Equal(t, "https://api.tastyworks.com", live.BaseURL())
	assert.Equal(t, "https://api.cert.tastyworks.com", sandbox.BaseURL())
}
