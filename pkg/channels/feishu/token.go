package feishu

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

	"golang.org/x/sync/singleflight"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/config"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
)

// ErrCredential marks a failed tenant token refresh. A still-valid cached
// token keeps serving traffic when refresh fails.
var ErrCredential = errors.New("feishu: credential refresh failed")

type credential struct {
	token     string
	expiresAt time.Time
}

// tokenManager owns the tenant_access_token. Callers never read the token
// directly; EnsureValid returns one guaranteed valid for at least the
// safety margin, refreshing first when needed. Concurrent refreshes
// coalesce onto a single in-flight request.
type tokenManager struct {
	httpClient *http.Client
	apiBase    string
	appID      string
	appSecret  string
	margin     time.Duration

	mu    sync.Mutex
	cred  credential
	group singleflight.Group
}

func newTokenManager(cfg config.FeishuConfig, httpClient *http.Client) *tokenManager {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &tokenManager{
		httpClient: httpClient,
		apiBase:    apiBase,
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		margin:     cfg.TokenMarginDuration(),
	}
}

func (m *tokenManager) EnsureValid(ctx context.Context) (string, error) {
	if token, ok := m.cached(); ok {
		return token, nil
	}

	v, err, _ := m.group.Do("tenant_access_token", func() (any, error) {
		// A refresh that completed while we queued serves this caller too.
		if token, ok := m.cached(); ok {
			return token, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *tokenManager) cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred.token != "" && time.Until(m.cred.expiresAt) > m.margin {
		return m.cred.token, true
	}
	return "", false
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"` // seconds
}

func (m *tokenManager) refresh(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"app_id":     m.appID,
		"app_secret": m.appSecret,
	})
	if err != nil {
		return "", err
	}

	url := m.apiBase + "/open-apis/auth/v3/tenant_access_token/internal"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrCredential, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrCredential, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: parsing response: %v", ErrCredential, err)
	}
	if tr.Code != 0 || tr.TenantAccessToken == "" {
		return "", fmt.Errorf("%w: code %d: %s", ErrCredential, tr.Code, tr.Msg)
	}

	m.mu.Lock()
	m.cred = credential{
		token:     tr.TenantAccessToken,
		expiresAt: time.Now().Add(time.Duration(tr.Expire) * time.Second),
	}
	m.mu.Unlock()

	logger.DebugC(channelName, "Tenant token refreshed")
	return tr.TenantAccessToken, nil
}

// RunProactive refreshes the token in the background so EnsureValid
// rarely blocks on the network path. The wake-up interval tracks the
// token expiry minus the safety margin, floored so a failing provider
// cannot cause a hot loop.
func (m *tokenManager) RunProactive(ctx context.Context) {
	const minInterval = 30 * time.Second

	for {
		if _, err := m.EnsureValid(ctx); err != nil && ctx.Err() == nil {
			logger.WarnCF(channelName, "Proactive token refresh failed", map[string]any{
				"error": err.Error(),
			})
		}

		m.mu.Lock()
		expiresAt := m.cred.expiresAt
		m.mu.Unlock()

		wait := time.Until(expiresAt) - m.margin
		if wait < minInterval {
			wait = minInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
