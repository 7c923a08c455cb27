package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/config"
)

// apiError is a provider-level error code embedded in an HTTP-200 body.
// Sends that produce one are retryable just like transport failures.
type apiError struct {
	Code int
	Msg  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("feishu api error %d: %s", e.Code, e.Msg)
}

type apiClient struct {
	httpClient *http.Client
	apiBase    string
	tokens     *tokenManager
}

func newAPIClient(cfg config.FeishuConfig, httpClient *http.Client, tokens *tokenManager) *apiClient {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &apiClient{
		httpClient: httpClient,
		apiBase:    apiBase,
		tokens:     tokens,
	}
}

type baseResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// SendText delivers one text message to a native chat ID.
func (c *apiClient) SendText(ctx context.Context, chatID, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	payload := map[string]string{
		"receive_id": chatID,
		"msg_type":   "text",
		"content":    string(content),
	}

	var out baseResponse
	query := url.Values{"receive_id_type": []string{"chat_id"}}
	if err := c.doJSON(ctx, http.MethodPost, "/open-apis/im/v1/messages", query, payload, &out); err != nil {
		return err
	}
	if out.Code != 0 {
		return &apiError{Code: out.Code, Msg: out.Msg}
	}
	return nil
}

type userInfoResponse struct {
	baseResponse

	Data struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	} `json:"data"`
}

// GetUserName resolves a user's display name from the contact API.
func (c *apiClient) GetUserName(ctx context.Context, openID string) (string, error) {
	query := url.Values{"user_id_type": []string{"open_id"}}

	var out userInfoResponse
	if err := c.doJSON(ctx, http.MethodGet, "/open-apis/contact/v3/users/"+openID, query, nil, &out); err != nil {
		return "", err
	}
	if out.Code != 0 {
		return "", &apiError{Code: out.Code, Msg: out.Msg}
	}
	return out.Data.User.Name, nil
}

type chatInfo struct {
	ChatID string `json:"chat_id"`
	Name   string `json:"name"`
}

type listChatsResponse struct {
	baseResponse

	Data struct {
		Items     []chatInfo `json:"items"`
		HasMore   bool       `json:"has_more"`
		PageToken string     `json:"page_token"`
	} `json:"data"`
}

// ListChats drains every page of the chat listing the credential can see.
func (c *apiClient) ListChats(ctx context.Context) ([]chatInfo, error) {
	var chats []chatInfo
	pageToken := ""

	for {
		query := url.Values{"page_size": []string{"100"}}
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		var out listChatsResponse
		if err := c.doJSON(ctx, http.MethodGet, "/open-apis/im/v1/chats", query, nil, &out); err != nil {
			return nil, err
		}
		if out.Code != 0 {
			return nil, &apiError{Code: out.Code, Msg: out.Msg}
		}

		chats = append(chats, out.Data.Items...)
		if !out.Data.HasMore || out.Data.PageToken == "" {
			break
		}
		pageToken = out.Data.PageToken
	}

	return chats, nil
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}

	endpoint := c.apiBase + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feishu api %s: status %d", path, resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}
