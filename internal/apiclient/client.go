// Package apiclient はマーケットプレイスAPIへのHTTPクライアントを提供する。
// 認証が必要な操作はすべてこのクライアントを経由し、トークンの付与と
// 401/403による強制サインアウトを一箇所で処理する。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/nayeem/ticketbari/internal/metrics"
	"github.com/nayeem/ticketbari/internal/model"
)

// TokenSource は認証済みリクエストに使うトークンの供給元。
// session.Storeが実装する。FreshTokenが返す世代をForceSignOutに
// 渡すことで、並行リクエストの401が二重サインアウトを起こさない。
type TokenSource interface {
	FreshToken(ctx context.Context) (string, uint64, error)
	ForceSignOut(gen uint64) bool
}

// Client はマーケットプレイスAPIのクライアント。
// tokensがnilの場合は公開エンドポイントのみ利用できる。
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	collector  metrics.MetricsCollector
}

// NewClient はClientを生成する。
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, collector metrics.MetricsCollector) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		collector:  collector,
	}
}

// WithTokenSource は同じ接続設定でTokenSourceだけ差し替えたClientを返す。
// セッションごとの認証済みクライアントを共有クライアントから派生させる。
func (c *Client) WithTokenSource(tokens TokenSource) *Client {
	return &Client{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		tokens:     tokens,
		collector:  c.collector,
	}
}

// envelope はAPIレスポンスの共通フォーマット。
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// errorEnvelope はAPIエラーレスポンスの共通フォーマット。
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do はリクエストを実行しdataフィールドをoutにデコードする。
// authedの場合は新鮮なIDトークンを取得して付与し、401/403を受けたら
// トークン取得時の世代で強制サインアウトを試みる。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.request(ctx, method, path, query, body, out, true)
}

// doPublic は認証なしでリクエストを実行する。
func (c *Client) doPublic(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.request(ctx, method, path, query, body, out, false)
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body, out any, authed bool) error {
	var token string
	var gen uint64
	if authed {
		if c.tokens == nil {
			return model.NewNoActiveSessionError()
		}
		var err error
		token, gen, err = c.tokens.FreshToken(ctx)
		if err != nil {
			return err
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace request failed: %w", err)
	}
	defer resp.Body.Close()

	if c.collector != nil {
		c.collector.RecordUpstreamLatency(time.Since(start))
		c.collector.RecordUpstreamStatus(resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read marketplace response: %w", err)
	}

	if authed && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		// 同一世代で最初の401/403だけがサインアウトを起こす
		if c.tokens.ForceSignOut(gen) && c.collector != nil {
			c.collector.RecordForcedSignOut()
		}
		return model.NewSessionInvalidatedError(resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ee errorEnvelope
		if err := json.Unmarshal(respBody, &ee); err == nil && ee.Error.Code != "" {
			return &model.APIError{
				Code:     ee.Error.Code,
				Message:  ee.Error.Message,
				Category: "system",
			}
		}
		return fmt.Errorf("marketplace returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to parse marketplace response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to parse data field: %w", err)
	}
	return nil
}
