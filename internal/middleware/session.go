// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nayeem/ticketbari/internal/session"
)

// SessionCookieName はブラウザセッションIDを保持するHTTP Only Cookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// storeContextKey はリクエストコンテキストにセッションストアを格納するためのキー。
var storeContextKey = contextKey("session_store")

// sidContextKey はリクエストコンテキストにセッションIDを格納するためのキー。
var sidContextKey = contextKey("session_id")

// SessionLookup はセッションIDからストアを解決するインターフェース。
// session.Managerの部分集合として定義する。
type SessionLookup interface {
	Lookup(ctx context.Context, sid string) (*session.Store, error)
}

// CookieConfig はセッション関連Cookieの属性設定。
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge int // セッションCookieの有効期間（秒）
}

// NewSessionMiddleware はCookieのセッションIDからセッションストアを解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// ストアが見つからなくてもリクエストは通す（匿名として扱い、ガードが判断する）。
// セッション行が期限切れ・無効化済みの場合は陳腐化したCookieをクリアする。
func NewSessionMiddleware(sessions SessionLookup, config CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			store, err := sessions.Lookup(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to lookup session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if store == nil {
				// セッション行が存在しない（期限切れまたは強制サインアウト済み）
				ClearSessionCookie(w, config)
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), storeContextKey, store)
			ctx = context.WithValue(ctx, sidContextKey, cookie.Value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StoreFromContext はリクエストコンテキストからセッションストアを取得する。
// セッションミドルウェアを通過し、かつ有効なセッションCookieを持つリクエストでのみ有効。
func StoreFromContext(ctx context.Context) (*session.Store, error) {
	store, ok := ctx.Value(storeContextKey).(*session.Store)
	if !ok || store == nil {
		return nil, fmt.Errorf("session store not found in context")
	}
	return store, nil
}

// SIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SIDFromContext(ctx context.Context) (string, error) {
	sid, ok := ctx.Value(sidContextKey).(string)
	if !ok || sid == "" {
		return "", fmt.Errorf("session ID not found in context")
	}
	return sid, nil
}

// ContextWithStore はコンテキストにセッションストアとセッションIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithStore(ctx context.Context, sid string, store *session.Store) context.Context {
	ctx = context.WithValue(ctx, storeContextKey, store)
	return context.WithValue(ctx, sidContextKey, sid)
}

// SetSessionCookie はセッションIDのHTTP Only Cookieを設定する。
func SetSessionCookie(w http.ResponseWriter, config CookieConfig, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sid,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
