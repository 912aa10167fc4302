package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nayeem/ticketbari/internal/model"
)

// GetProviderLoginURL はGoogle同意フローの開始URLを生成する。
// スコープにはemail, profileを含む。
func (p *RESTProvider) GetProviderLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.GoogleClientID},
		"redirect_uri":  {p.config.GoogleRedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
	}
	return p.config.GoogleAuthURL + "?" + params.Encode()
}

// googleTokenResponse はGoogleのトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	IDToken     string `json:"id_token"`
}

// signInWithIdpResponse はIdPの外部プロバイダーログインのレスポンス。
type signInWithIdpResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// ExchangeProviderCode は同意フローの認可コードをIdPセッションに交換する。
// Googleのトークンエンドポイントでid_tokenを取得し、それをIdPのsignInWithIdpに渡す。
// 初回ログイン時はIdP側にアカウントが自動作成される。
func (p *RESTProvider) ExchangeProviderCode(ctx context.Context, code string) (*model.Identity, TokenSet, error) {
	tokenResp, err := p.exchangeGoogleCode(ctx, code)
	if err != nil {
		return nil, TokenSet{}, fmt.Errorf("failed to exchange provider code: %w", err)
	}

	postBody := url.Values{
		"id_token":   {tokenResp.IDToken},
		"providerId": {"google.com"},
	}

	var resp signInWithIdpResponse
	err = p.postAccounts(ctx, "signInWithIdp", map[string]any{
		"postBody":            postBody.Encode(),
		"requestUri":          p.config.GoogleRedirectURL,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, TokenSet{}, fmt.Errorf("provider sign-in failed: %w", err)
	}

	identity := &model.Identity{
		UID:         resp.LocalID,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		PhotoURL:    resp.PhotoURL,
	}
	return identity, p.tokenSet(resp.IDToken, resp.RefreshToken, resp.ExpiresIn), nil
}

// exchangeGoogleCode は認可コードをGoogleのid_tokenに交換する。
func (p *RESTProvider) exchangeGoogleCode(ctx context.Context, code string) (*googleTokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.GoogleClientID},
		"client_secret": {p.config.GoogleClientSecret},
		"redirect_uri":  {p.config.GoogleRedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.GoogleTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := p.execute(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	var tokenResp googleTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.IDToken == "" {
		return nil, fmt.Errorf("empty id token in token response")
	}

	return &tokenResp, nil
}
