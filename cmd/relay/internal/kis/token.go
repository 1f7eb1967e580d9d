package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Access tokens are refreshed this long before they expire.
const tokenRefreshMargin = 10 * time.Minute

var ErrCredentials = errors.New("kis credentials rejected")

type Credentials struct {
	BaseURL   string
	AppKey    string
	AppSecret string
}

// TokenProvider issues and caches the REST access token and the streaming
// approval key. Concurrent callers share a single in-flight request.
type TokenProvider struct {
	creds       Credentials
	http        *http.Client
	approvalTTL time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu             sync.Mutex
	accessToken    string
	tokenExpiry    time.Time
	approvalKey    string
	approvalExpiry time.Time
}

// NewTokenProvider creates a provider. approvalTTL <= 0 caches the approval
// key for the life of the process.
func NewTokenProvider(creds Credentials, httpClient *http.Client, approvalTTL time.Duration, logger *zap.Logger) *TokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenProvider{
		creds:       creds,
		http:        httpClient,
		approvalTTL: approvalTTL,
		logger:      logger.With(zap.String("component", "kis-token")),
		now:         time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// AccessToken returns a bearer token valid for at least the refresh margin.
func (p *TokenProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && p.tokenExpiry.After(p.now().Add(tokenRefreshMargin)) {
		return p.accessToken, nil
	}

	p.logger.Info("Requesting new access token")
	var resp tokenResponse
	err := p.post(ctx, "/oauth2/tokenP", map[string]string{
		"grant_type": "client_credentials",
		"appkey":     p.creds.AppKey,
		"appsecret":  p.creds.AppSecret,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrCredentials)
	}

	p.accessToken = resp.AccessToken
	p.tokenExpiry = p.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	p.logger.Info("Access token issued", zap.Time("expires_at", p.tokenExpiry))
	return p.accessToken, nil
}

// ApprovalKey returns the credential embedded in streaming control frames.
func (p *TokenProvider) ApprovalKey(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.approvalKey != "" && (p.approvalTTL <= 0 || p.now().Before(p.approvalExpiry)) {
		return p.approvalKey, nil
	}

	p.logger.Info("Requesting streaming approval key")
	var resp approvalResponse
	err := p.post(ctx, "/oauth2/Approval", map[string]string{
		"grant_type": "client_credentials",
		"appkey":     p.creds.AppKey,
		"secretkey":  p.creds.AppSecret,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ApprovalKey == "" {
		return "", fmt.Errorf("%w: empty approval key", ErrCredentials)
	}

	p.approvalKey = resp.ApprovalKey
	p.approvalExpiry = p.now().Add(p.approvalTTL)
	return p.approvalKey, nil
}

// InvalidateApprovalKey drops the cached approval key so the next call
// fetches a fresh one.
func (p *TokenProvider) InvalidateApprovalKey() {
	p.mu.Lock()
	p.approvalKey = ""
	p.mu.Unlock()
}

func (p *TokenProvider) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.creds.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("POST %s: read body: %w", path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: POST %s: status %d", ErrCredentials, path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, truncate(data, 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("POST %s: decode: %w", path, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
