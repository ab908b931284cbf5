// Package oauth talks to the external OAuth proxy that owns user accounts.
// This service never stores credentials; it forwards logins and validates
// bearer tokens against the proxy.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/claude/njktraining/internal/models"
)

var (
	// ErrInvalidToken means the proxy rejected the token.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrUnavailable means the proxy could not be reached or failed.
	ErrUnavailable = errors.New("auth service unavailable")
	// ErrLoginFailed means the proxy rejected the credentials.
	ErrLoginFailed = errors.New("login failed")
	// ErrRegisterFailed means the proxy rejected a registration.
	ErrRegisterFailed = errors.New("registration failed")
	// ErrUnknownProvider is returned for social providers other than google and facebook.
	ErrUnknownProvider = errors.New("unknown oauth provider")
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	AppName        string
	AppDisplayName string
	AppDescription string
	Timeout        time.Duration
}

// Client calls the OAuth proxy over HTTP.
type Client struct {
	opts       Options
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. A zero timeout defaults to 10 seconds.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		opts:       opts,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AuthResult is the proxy's answer to a login or registration.
type AuthResult struct {
	Success bool             `json:"success"`
	Message string           `json:"message,omitempty"`
	Token   string           `json:"token,omitempty"`
	User    *models.AuthUser `json:"user,omitempty"`
}

type appInfo struct {
	AppName        string `json:"app_name,omitempty"`
	AppDisplayName string `json:"app_display_name,omitempty"`
	AppDescription string `json:"app_description,omitempty"`
}

func (c *Client) appInfo() appInfo {
	display := c.opts.AppDisplayName
	if display == "" {
		display = c.opts.AppName
	}
	return appInfo{
		AppName:        c.opts.AppName,
		AppDisplayName: display,
		AppDescription: c.opts.AppDescription,
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("oauth: marshal %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("oauth: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}
	if resp.StatusCode >= 500 {
		return resp.StatusCode, nil, fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}
	return resp.StatusCode, data, nil
}

// RegisterApp announces this service to the proxy. Called once at startup.
func (c *Client) RegisterApp(ctx context.Context) error {
	_, data, err := c.do(ctx, http.MethodPost, "/api/app-register", "", c.appInfo())
	if err != nil {
		return err
	}
	var res AuthResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("oauth: decode app-register: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("oauth: app-register rejected: %s", res.Message)
	}
	return nil
}

// Login exchanges email and password for a token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	info := c.appInfo()
	body := map[string]string{
		"email":            email,
		"password":         password,
		"app_name":         info.AppName,
		"app_display_name": info.AppDisplayName,
	}
	return c.authCall(ctx, "/api/login", body, ErrLoginFailed)
}

// Register creates an account and returns a token for it.
func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	body := map[string]string{
		"name":      name,
		"email":     email,
		"password":  password,
		"password2": password,
	}
	return c.authCall(ctx, "/api/register", body, ErrRegisterFailed)
}

func (c *Client) authCall(ctx context.Context, path string, body any, failure error) (*AuthResult, error) {
	_, data, err := c.do(ctx, http.MethodPost, path, "", body)
	if err != nil {
		return nil, err
	}
	var res AuthResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	if !res.Success || res.Token == "" {
		msg := res.Message
		if msg == "" {
			msg = "no token returned"
		}
		return nil, fmt.Errorf("%w: %s", failure, msg)
	}
	return &res, nil
}

type authResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    *models.AuthUser `json:"data"`
}

// Validate resolves a bearer token to its user.
func (c *Client) Validate(ctx context.Context, token string) (*models.AuthUser, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	status, data, err := c.do(ctx, http.MethodGet, "/api/auth", token, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	var res authResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: decode /api/auth: %v", ErrUnavailable, err)
	}
	if !res.Success || res.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, res.Message)
	}
	return res.Data, nil
}

// ProviderURL fetches the social login redirect document for provider.
func (c *Client) ProviderURL(ctx context.Context, provider string) (json.RawMessage, error) {
	switch provider {
	case "google", "facebook":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	path := "/api/oauth/" + provider + "/url"
	status, data, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, status)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s returned invalid JSON", ErrUnavailable, path)
	}
	return json.RawMessage(data), nil
}
