package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nayeem/ticketbari/internal/model"
)

// testIDToken は指定した有効期限のexpクレームを持つテスト用JWTを生成する。
func testIDToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "uid-123",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

// newTestProvider はhttptestサーバーをアカウントAPIとして使うRESTProviderを生成する。
func newTestProvider(server *httptest.Server) *RESTProvider {
	return NewRESTProvider(RESTConfig{
		APIKey:     "test-api-key",
		BaseURL:    server.URL,
		TokenURL:   server.URL,
		HTTPClient: server.Client(),
	})
}

func TestSignUp_Success_ReturnsIdentityAndTokens(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	var idToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "accounts:signUp") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-api-key" {
			t.Errorf("expected api key in query, got %q", r.URL.Query().Get("key"))
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req["email"] != "test@example.com" {
			t.Errorf("email = %v, want test@example.com", req["email"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"localId":      "uid-123",
			"email":        "test@example.com",
			"idToken":      idToken,
			"refreshToken": "refresh-abc",
			"expiresIn":    "3600",
		})
	}))
	defer server.Close()

	idToken = testIDToken(t, exp)
	provider := newTestProvider(server)

	identity, tokens, err := provider.SignUp(context.Background(), "test@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if identity.UID != "uid-123" {
		t.Errorf("UID = %q, want %q", identity.UID, "uid-123")
	}
	if tokens.RefreshToken != "refresh-abc" {
		t.Errorf("RefreshToken = %q, want %q", tokens.RefreshToken, "refresh-abc")
	}
	// 有効期限はJWTのexpクレームから取得される
	if !tokens.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", tokens.ExpiresAt, exp)
	}
}

func TestSignUp_EmailExists_ReturnsEmailAlreadyInUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "EMAIL_EXISTS"},
		})
	}))
	defer server.Close()

	provider := newTestProvider(server)

	_, _, err := provider.SignUp(context.Background(), "taken@example.com", "password123")
	if !errors.Is(err, model.NewEmailAlreadyInUseError()) {
		t.Errorf("expected EmailAlreadyInUse error, got %v", err)
	}
}

func TestSignUp_WeakPassword_ReturnsInvalidCredentialsFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "WEAK_PASSWORD : Password should be at least 6 characters"},
		})
	}))
	defer server.Close()

	provider := newTestProvider(server)

	_, _, err := provider.SignUp(context.Background(), "test@example.com", "123")
	if !errors.Is(err, model.NewInvalidCredentialsFormatError("")) {
		t.Errorf("expected InvalidCredentialsFormat error, got %v", err)
	}
}

func TestSignInPassword_WrongPassword_ReturnsInvalidCredentials(t *testing.T) {
	// 存在しないメールアドレスとパスワード誤りはどちらも同じエラーになる
	for _, code := range []string{"EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS"} {
		t.Run(code, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": 400, "message": code},
				})
			}))
			defer server.Close()

			provider := newTestProvider(server)

			_, _, err := provider.SignInPassword(context.Background(), "test@example.com", "wrong")
			if !errors.Is(err, model.NewInvalidCredentialsError()) {
				t.Errorf("expected InvalidCredentials error for %s, got %v", code, err)
			}
		})
	}
}

func TestRefreshTokens_Success_ParsesSnakeCaseResponse(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	var idToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("refresh_token") != "refresh-abc" {
			t.Errorf("refresh_token = %q, want refresh-abc", r.PostForm.Get("refresh_token"))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id_token":      idToken,
			"refresh_token": "refresh-rotated",
			"expires_in":    "1800",
		})
	}))
	defer server.Close()

	idToken = testIDToken(t, exp)
	provider := newTestProvider(server)

	tokens, err := provider.RefreshTokens(context.Background(), "refresh-abc")
	if err != nil {
		t.Fatalf("RefreshTokens() error = %v", err)
	}
	if tokens.RefreshToken != "refresh-rotated" {
		t.Errorf("RefreshToken = %q, want %q", tokens.RefreshToken, "refresh-rotated")
	}
	if !tokens.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", tokens.ExpiresAt, exp)
	}
}

func TestTokenExpiry_FallsBackToExpiresIn(t *testing.T) {
	// JWTとして解釈できないトークンはexpiresInから期限を算出する
	before := time.Now().Add(3600 * time.Second)
	got := tokenExpiry("not-a-jwt", "3600")
	after := time.Now().Add(3600 * time.Second)

	if got.Before(before) || got.After(after) {
		t.Errorf("tokenExpiry() = %v, want between %v and %v", got, before, after)
	}
}

func TestSendPasswordReset_EmailNotFound_ReturnsUserNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "EMAIL_NOT_FOUND"},
		})
	}))
	defer server.Close()

	provider := newTestProvider(server)

	err := provider.SendPasswordReset(context.Background(), "missing@example.com")
	if !errors.Is(err, model.NewUserNotFoundError()) {
		t.Errorf("expected UserNotFound error, got %v", err)
	}
}

func TestSendPasswordReset_Success_SendsResetRequestType(t *testing.T) {
	var gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		gotType, _ = req["requestType"].(string)
		json.NewEncoder(w).Encode(map[string]any{"email": "test@example.com"})
	}))
	defer server.Close()

	provider := newTestProvider(server)

	if err := provider.SendPasswordReset(context.Background(), "test@example.com"); err != nil {
		t.Fatalf("SendPasswordReset() error = %v", err)
	}
	if gotType != "PASSWORD_RESET" {
		t.Errorf("requestType = %q, want PASSWORD_RESET", gotType)
	}
}

func TestGetAccountInfo_ReturnsFirstUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"users": []map[string]any{{
				"localId":     "uid-123",
				"email":       "test@example.com",
				"displayName": "Test User",
				"photoUrl":    "https://example.com/p.png",
			}},
		})
	}))
	defer server.Close()

	provider := newTestProvider(server)

	identity, err := provider.GetAccountInfo(context.Background(), "id-token")
	if err != nil {
		t.Fatalf("GetAccountInfo() error = %v", err)
	}
	if identity.DisplayName != "Test User" {
		t.Errorf("DisplayName = %q, want %q", identity.DisplayName, "Test User")
	}
	if identity.PhotoURL != "https://example.com/p.png" {
		t.Errorf("PhotoURL = %q", identity.PhotoURL)
	}
}

func TestGetProviderLoginURL_ContainsStateAndScope(t *testing.T) {
	provider := NewRESTProvider(RESTConfig{
		APIKey:            "test-api-key",
		GoogleClientID:    "client-id",
		GoogleRedirectURL: "https://app.example.com/auth/callback",
	})

	loginURL := provider.GetProviderLoginURL("state-xyz")

	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("failed to parse login URL: %v", err)
	}
	if parsed.Query().Get("state") != "state-xyz" {
		t.Errorf("state = %q, want state-xyz", parsed.Query().Get("state"))
	}
	if parsed.Query().Get("scope") != "openid email profile" {
		t.Errorf("scope = %q", parsed.Query().Get("scope"))
	}
	if parsed.Query().Get("redirect_uri") != "https://app.example.com/auth/callback" {
		t.Errorf("redirect_uri = %q", parsed.Query().Get("redirect_uri"))
	}
}

func TestExchangeProviderCode_SignsInWithIdp(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	var idToken string

	// Googleトークンエンドポイントのスタブ
	googleServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.PostForm.Get("code") != "auth-code-123" {
			t.Errorf("code = %q, want auth-code-123", r.PostForm.Get("code"))
		}
		if r.PostForm.Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "google-access",
			"id_token":     "google-id-token",
		})
	}))
	defer googleServer.Close()

	// IdPアカウントAPIのスタブ
	idpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "accounts:signInWithIdp") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		postBody, _ := req["postBody"].(string)
		if !strings.Contains(postBody, "google-id-token") {
			t.Errorf("postBody missing google id token: %s", postBody)
		}
		if !strings.Contains(postBody, "google.com") {
			t.Errorf("postBody missing provider id: %s", postBody)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"localId":      "uid-google",
			"email":        "g@example.com",
			"displayName":  "G User",
			"idToken":      idToken,
			"refreshToken": "refresh-g",
			"expiresIn":    "3600",
		})
	}))
	defer idpServer.Close()

	idToken = testIDToken(t, exp)
	provider := NewRESTProvider(RESTConfig{
		APIKey:         "test-api-key",
		BaseURL:        idpServer.URL,
		GoogleClientID: "client-id",
		GoogleTokenURL: fmt.Sprintf("%s/token", googleServer.URL),
	})

	identity, tokens, err := provider.ExchangeProviderCode(context.Background(), "auth-code-123")
	if err != nil {
		t.Fatalf("ExchangeProviderCode() error = %v", err)
	}
	if identity.UID != "uid-google" {
		t.Errorf("UID = %q, want uid-google", identity.UID)
	}
	if tokens.RefreshToken != "refresh-g" {
		t.Errorf("RefreshToken = %q, want refresh-g", tokens.RefreshToken)
	}
}
