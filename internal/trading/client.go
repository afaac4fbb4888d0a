// Package trading is a thin client for the MT5 gateway the API proxies
// account and balance operations to.
package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APIError carries the gateway's response when a call is rejected.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trading: gateway returned %d: %s", e.Status, e.Message)
}

// Account is an MT5 trading account as the gateway reports it.
type Account struct {
	Login    int64   `json:"login"`
	Name     string  `json:"name"`
	Group    string  `json:"group"`
	Leverage int     `json:"leverage"`
	Balance  float64 `json:"balance"`
	Credit   float64 `json:"credit"`
	Equity   float64 `json:"equity"`
	Enabled  bool    `json:"enabled"`
}

// CreateAccountRequest describes a new trading account.
type CreateAccountRequest struct {
	Name     string `json:"name"`
	Group    string `json:"group"`
	Leverage int    `json:"leverage"`
}

// BalanceResult is returned by deposit, withdraw and transfer calls.
type BalanceResult struct {
	Login   int64   `json:"login"`
	Balance float64 `json:"balance"`
	Ticket  int64   `json:"ticket"`
}

// Client talks to the MT5 gateway over HTTP with a cached bearer token.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL, username, password string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tokenRefreshMargin renews the bearer token slightly before it expires
// so in-flight requests never carry a stale one.
const tokenRefreshMargin = 30 * time.Second

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp.Add(-tokenRefreshMargin)) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("trading: gateway login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", decodeAPIError(resp)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("trading: decode login response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("trading: gateway returned empty token")
	}

	c.token = out.AccessToken
	c.tokenExp = tokenExpiry(out.AccessToken)
	return c.token, nil
}

// tokenExpiry reads the exp claim without verifying the signature. The
// token is the gateway's own and is only used to schedule renewal; a
// token we cannot parse is treated as already expired so every call
// re-authenticates.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trading: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		// Stale token, drop the cache so the next call logs in again.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return decodeAPIError(resp)
	}
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			apiErr.Message = body.Detail
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	return apiErr
}

func (c *Client) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	var acc Account
	if err := c.do(ctx, http.MethodPost, "/api/mt5/accounts", req, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (c *Client) Account(ctx context.Context, login int64) (*Account, error) {
	var acc Account
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/mt5/accounts/%d", login), nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (c *Client) Deposit(ctx context.Context, login int64, amount float64, comment string) (*BalanceResult, error) {
	var res BalanceResult
	in := map[string]any{"amount": amount, "comment": comment}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/mt5/accounts/%d/deposit", login), in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Withdraw(ctx context.Context, login int64, amount float64, comment string) (*BalanceResult, error) {
	var res BalanceResult
	in := map[string]any{"amount": amount, "comment": comment}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/mt5/accounts/%d/withdraw", login), in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Transfer(ctx context.Context, from, to int64, amount float64) (*BalanceResult, error) {
	var res BalanceResult
	in := map[string]any{"from_login": from, "to_login": to, "amount": amount}
	if err := c.do(ctx, http.MethodPost, "/api/mt5/accounts/transfer", in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SetTradingEnabled(ctx context.Context, login int64, enabled bool) error {
	action := "disable-trading"
	if enabled {
		action = "enable-trading"
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/mt5/accounts/%d/%s", login, action), nil, nil)
}

func (c *Client) ChangePassword(ctx context.Context, login int64, password string) error {
	in := map[string]string{"password": password}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/mt5/accounts/change-password/%d", login), in, nil)
}

func (c *Client) CheckPassword(ctx context.Context, login int64, password string) (bool, error) {
	var res struct {
		Valid bool `json:"valid"`
	}
	in := map[string]string{"password": password}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/mt5/accounts/check-password/%d", login), in, &res)
	if err != nil {
		return false, err
	}
	return res.Valid, nil
}

func (c *Client) UpdateRights(ctx context.Context, login int64, rights map[string]bool) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/mt5/accounts/update-rights/%d", login), rights, nil)
}
