package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nayeem/ticketbari/internal/model"
)

const (
	defaultTokenFallback = time.Hour
)

// RESTConfig はRESTProviderの設定。
type RESTConfig struct {
	APIKey   string
	BaseURL  string // accounts APIのベースURL
	TokenURL string // トークン更新APIのベースURL

	// 外部プロバイダー（Google）同意フロー
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// テスト用にオーバーライド可能なURL
	GoogleAuthURL  string
	GoogleTokenURL string
	RevokeURL      string

	// HTTPClient はテスト用に差し替え可能。未指定の場合はタイムアウト付きのデフォルトを使用する。
	HTTPClient *http.Client
}

// RESTProvider はREST APIベースのIDプロバイダー実装。
type RESTProvider struct {
	config RESTConfig
	client *http.Client
}

// NewRESTProvider はRESTProviderを生成する。
func NewRESTProvider(config RESTConfig) *RESTProvider {
	if config.GoogleAuthURL == "" {
		config.GoogleAuthURL = "https://accounts.google.com/o/oauth2/auth"
	}
	if config.GoogleTokenURL == "" {
		config.GoogleTokenURL = "https://oauth2.googleapis.com/token"
	}
	if config.RevokeURL == "" {
		config.RevokeURL = "https://oauth2.googleapis.com/revoke"
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTProvider{config: config, client: client}
}

// --- アカウントAPIのリクエスト・レスポンス型 ---

type signUpResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type lookupResponse struct {
	Users []struct {
		LocalID     string `json:"localId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoUrl"`
	} `json:"users"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

// providerError はIdPのエラーレスポンス形式。
type providerError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignUp はメールアドレスとパスワードで新規アカウントを作成する。
func (p *RESTProvider) SignUp(ctx context.Context, email, password string) (*model.Identity, TokenSet, error) {
	var resp signUpResponse
	err := p.postAccounts(ctx, "signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, TokenSet{}, mapSignUpError(err)
	}
	return identityFromSignUp(&resp), p.tokenSet(resp.IDToken, resp.RefreshToken, resp.ExpiresIn), nil
}

// SignInPassword はメールアドレスとパスワードでログインする。
func (p *RESTProvider) SignInPassword(ctx context.Context, email, password string) (*model.Identity, TokenSet, error) {
	var resp signUpResponse
	err := p.postAccounts(ctx, "signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, TokenSet{}, mapSignInError(err)
	}
	return identityFromSignUp(&resp), p.tokenSet(resp.IDToken, resp.RefreshToken, resp.ExpiresIn), nil
}

// RefreshTokens はリフレッシュトークンで新しいIDトークンを取得する。
func (p *RESTProvider) RefreshTokens(ctx context.Context, refreshToken string) (TokenSet, error) {
	endpoint := fmt.Sprintf("%s/v1/token?key=%s", p.config.TokenURL, url.QueryEscape(p.config.APIKey))
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, fmt.Errorf("failed to create token refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := p.execute(req)
	if err != nil {
		return TokenSet{}, fmt.Errorf("token refresh failed: %w", err)
	}

	var resp refreshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenSet{}, fmt.Errorf("failed to parse token refresh response: %w", err)
	}
	if resp.IDToken == "" {
		return TokenSet{}, fmt.Errorf("empty id token in refresh response")
	}

	return p.tokenSet(resp.IDToken, resp.RefreshToken, resp.ExpiresIn), nil
}

// GetAccountInfo はIDトークンからアカウント情報を取得する。
func (p *RESTProvider) GetAccountInfo(ctx context.Context, idToken string) (*model.Identity, error) {
	var resp lookupResponse
	if err := p.postAccounts(ctx, "lookup", map[string]any{"idToken": idToken}, &resp); err != nil {
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}
	if len(resp.Users) == 0 {
		return nil, fmt.Errorf("empty users in account lookup response")
	}
	u := resp.Users[0]
	return &model.Identity{
		UID:         u.LocalID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
	}, nil
}

// UpdateProfile はIdP側のプロフィール（表示名・写真URL）を更新する。
func (p *RESTProvider) UpdateProfile(ctx context.Context, idToken, displayName, photoURL string) (*model.Identity, error) {
	payload := map[string]any{
		"idToken":           idToken,
		"returnSecureToken": false,
	}
	if displayName != "" {
		payload["displayName"] = displayName
	}
	if photoURL != "" {
		payload["photoUrl"] = photoURL
	}

	var resp signUpResponse
	if err := p.postAccounts(ctx, "update", payload, &resp); err != nil {
		return nil, fmt.Errorf("profile update failed: %w", err)
	}
	return identityFromSignUp(&resp), nil
}

// SendPasswordReset はパスワードリセットメールの送信を要求する。
func (p *RESTProvider) SendPasswordReset(ctx context.Context, email string) error {
	err := p.postAccounts(ctx, "sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, &struct{}{})
	if err != nil {
		if codeOf(err) == "EMAIL_NOT_FOUND" {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("password reset request failed: %w", err)
	}
	return nil
}

// RevokeRefreshToken はリフレッシュトークンを失効させる。
func (p *RESTProvider) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	form := url.Values{"token": {refreshToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := p.execute(req); err != nil {
		return fmt.Errorf("token revocation failed: %w", err)
	}
	return nil
}

// postAccounts はアカウントAPIのエンドポイントにJSONをPOSTする。
func (p *RESTProvider) postAccounts(ctx context.Context, action string, payload any, out any) error {
	endpoint := fmt.Sprintf("%s/v1/accounts:%s?key=%s", p.config.BaseURL, action, url.QueryEscape(p.config.APIKey))

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := p.execute(req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// execute はHTTPリクエストを実行し、非2xxの場合はIdPエラーとして返す。
func (p *RESTProvider) execute(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var pe providerError
		if err := json.Unmarshal(body, &pe); err == nil && pe.Error.Message != "" {
			return nil, &codeError{code: pe.Error.Message, status: resp.StatusCode}
		}
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	return body, nil
}

// tokenSet はIdPレスポンスからTokenSetを構築する。
// 有効期限はIDトークンのexpクレームを優先し、取得できない場合はexpiresInから算出する。
func (p *RESTProvider) tokenSet(idToken, refreshToken, expiresIn string) TokenSet {
	return TokenSet{
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tokenExpiry(idToken, expiresIn),
	}
}

// tokenExpiry はIDトークンの有効期限を求める。
// JWTのexpクレームを署名検証なしで読み取る。IdPから直接受信したトークンであり、
// ここでの用途は期限判定のみのため検証は不要。
func tokenExpiry(idToken, expiresIn string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if secs, err := strconv.Atoi(expiresIn); err == nil && secs > 0 {
		return time.Now().Add(time.Duration(secs) * time.Second)
	}
	return time.Now().Add(defaultTokenFallback)
}

func identityFromSignUp(resp *signUpResponse) *model.Identity {
	return &model.Identity{
		UID:         resp.LocalID,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		PhotoURL:    resp.PhotoURL,
	}
}

// --- IdPエラーコードのマッピング ---

// codeError はIdPが返すエラーコードを保持する。
type codeError struct {
	code   string
	status int
}

func (e *codeError) Error() string {
	return fmt.Sprintf("identity provider error: %s (status %d)", e.code, e.status)
}

// codeOf はエラーからIdPエラーコードを取り出す。コードが無い場合は空文字を返す。
func codeOf(err error) string {
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code
	}
	return ""
}

// mapSignUpError はアカウント作成時のIdPエラーコードをAPIエラーに変換する。
func mapSignUpError(err error) error {
	code := codeOf(err)
	switch {
	case code == "EMAIL_EXISTS":
		return model.NewEmailAlreadyInUseError()
	case code == "INVALID_EMAIL" || code == "MISSING_PASSWORD" || strings.HasPrefix(code, "WEAK_PASSWORD"):
		return model.NewInvalidCredentialsFormatError(code)
	default:
		return err
	}
}

// mapSignInError はログイン時のIdPエラーコードをAPIエラーに変換する。
// 存在しないメールアドレスとパスワード誤りは区別せずInvalidCredentialsとする。
func mapSignInError(err error) error {
	switch codeOf(err) {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		return model.NewInvalidCredentialsError()
	case "INVALID_EMAIL":
		return model.NewInvalidCredentialsFormatError("INVALID_EMAIL")
	default:
		return err
	}
}

// compile-time interface check
var _ Provider = (*RESTProvider)(nil)
