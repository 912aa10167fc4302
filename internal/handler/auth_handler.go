// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/nayeem/ticketbari/internal/guard"
	"github.com/nayeem/ticketbari/internal/idp"
	"github.com/nayeem/ticketbari/internal/metrics"
	"github.com/nayeem/ticketbari/internal/middleware"
	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/session"
)

const oauthStateCookie = "oauth_state"

// SessionManagerInterface は認証ハンドラーが必要とするセッション管理インターフェース。
type SessionManagerInterface interface {
	SignUp(ctx context.Context, email, password string) (string, *session.Store, error)
	SignInPassword(ctx context.Context, email, password string) (string, *session.Store, error)
	AdoptProviderSession(ctx context.Context, identity *model.Identity, tokens idp.TokenSet) (string, *session.Store, error)
	Destroy(ctx context.Context, sid string)
}

// IdentityProviderInterface は認証ハンドラーが直接利用するIdP操作の部分インターフェース。
type IdentityProviderInterface interface {
	SendPasswordReset(ctx context.Context, email string) error
	GetProviderLoginURL(state string) string
	ExchangeProviderCode(ctx context.Context, code string) (*model.Identity, idp.TokenSet, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL string
	Cookie  middleware.CookieConfig
}

// AuthHandler は認証関連のHTTPハンドラー。
// メール/パスワード認証と外部プロバイダー（Google）の同意フローを扱う。
type AuthHandler struct {
	sessions  SessionManagerInterface
	provider  IdentityProviderInterface
	config    AuthHandlerConfig
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	sessions SessionManagerInterface,
	provider IdentityProviderInterface,
	config AuthHandlerConfig,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		sessions:  sessions,
		provider:  provider,
		config:    config,
		collector: collector,
		logger:    logger,
	}
}

// credentialsRequest はメール/パスワード認証のリクエストボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// identityResponse はログイン成功時に返すユーザー情報。
type identityResponse struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

func toIdentityResponse(identity *model.Identity) identityResponse {
	return identityResponse{
		UID:         identity.UID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		PhotoURL:    identity.PhotoURL,
	}
}

// LoginPage はログインページのペイロードを返す。
// GET /auth/login
// ガードから送られた場合、redirectパラメータにログイン後の戻り先が入る。
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{
		"page":     "login",
		"redirect": r.URL.Query().Get(guard.RedirectParam),
	})
}

// Register はメールアドレスとパスワードで新規アカウントを作成する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, model.NewInvalidCredentialsFormatError("リクエストボディを読み取れません"))
		return
	}

	sid, store, err := h.sessions.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	middleware.SetSessionCookie(w, h.config.Cookie, sid)
	if h.collector != nil {
		h.collector.RecordSignIn("password")
	}

	snap := store.Snapshot()
	writeData(w, http.StatusCreated, toIdentityResponse(snap.Identity))
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, model.NewInvalidCredentialsFormatError("リクエストボディを読み取れません"))
		return
	}

	sid, store, err := h.sessions.SignInPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	middleware.SetSessionCookie(w, h.config.Cookie, sid)
	if h.collector != nil {
		h.collector.RecordSignIn("password")
	}

	snap := store.Snapshot()
	writeData(w, http.StatusOK, toIdentityResponse(snap.Identity))
}

// Reset はパスワードリセットメールの送信を要求する。
// POST /auth/reset
// 対象ユーザーが存在しない場合はUSER_NOT_FOUNDを返す
// （列挙攻撃は認証エンドポイントのIP単位レート制限で緩和する）。
func (h *AuthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, model.NewInvalidCredentialsFormatError("リクエストボディを読み取れません"))
		return
	}

	if err := h.provider.SendPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, map[string]string{"status": "sent"})
}

// GoogleLogin はGoogleの同意フローを開始する。
// GET /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.GetProviderLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はGoogle同意フローのコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
// ユーザーが同意をキャンセルした場合はエラーコード付きでログインページへ戻す。
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 同意キャンセル
	if errCode := r.URL.Query().Get("error"); errCode != "" {
		h.logger.Info("provider consent denied", slog.String("provider_error", errCode))
		h.redirectToLogin(w, r, model.ErrCodeProviderConsentDenied)
		return
	}

	// stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		h.logger.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		writeError(w, model.NewProviderStateMismatchError())
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, model.NewProviderStateMismatchError())
		return
	}

	identity, tokens, err := h.provider.ExchangeProviderCode(r.Context(), code)
	if err != nil {
		h.logger.Error("provider code exchange failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	sid, _, err := h.sessions.AdoptProviderSession(r.Context(), identity, tokens)
	if err != nil {
		writeError(w, err)
		return
	}

	middleware.SetSessionCookie(w, h.config.Cookie, sid)
	if h.collector != nil {
		h.collector.RecordSignIn("google")
	}

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sid, err := middleware.SIDFromContext(r.Context()); err == nil {
		h.sessions.Destroy(r.Context(), sid)
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	writeData(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// Me は現在のセッション状態を返す。
// GET /auth/me
// セッション復元中の場合は解決完了を待ってから応答する。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		writeError(w, model.NewNoActiveSessionError())
		return
	}

	select {
	case <-store.Ready():
	case <-r.Context().Done():
		return
	}

	snap := store.Snapshot()
	if snap.State != session.StateAuthenticated {
		writeError(w, model.NewNoActiveSessionError())
		return
	}

	writeData(w, http.StatusOK, toIdentityResponse(snap.Identity))
}

// redirectToLogin はエラーコード付きでログインページへリダイレクトする。
func (h *AuthHandler) redirectToLogin(w http.ResponseWriter, r *http.Request, errCode string) {
	target := guard.LoginPath + "?" + url.Values{"error": {errCode}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
