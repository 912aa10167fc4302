package middleware

import (
	"log/slog"
	"net/http"

	"github.com/nayeem/ticketbari/internal/guard"
	"github.com/nayeem/ticketbari/internal/metrics"
	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/profile"
	"github.com/nayeem/ticketbari/internal/session"
)

// ResolverRegistry はセッションストアからプロフィールリゾルバーを取得するインターフェース。
// profile.Registryの部分集合として定義する。
type ResolverRegistry interface {
	For(store *session.Store) *profile.Resolver
}

// GuardMiddleware は保護ルートのアクセス判定ミドルウェアを生成する。
// 判定自体は純粋関数のguardパッケージに委譲し、ここでは
// セッション・プロフィールの解決完了待ちとHTTPリダイレクトへの変換を行う。
type GuardMiddleware struct {
	resolvers ResolverRegistry
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewGuardMiddleware はGuardMiddlewareを生成する。
func NewGuardMiddleware(resolvers ResolverRegistry, collector metrics.MetricsCollector, logger *slog.Logger) *GuardMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardMiddleware{
		resolvers: resolvers,
		collector: collector,
		logger:    logger,
	}
}

// RequireAuth は認証済みセッションを要求するミドルウェアを返す。
// セッション状態が未解決の間はストアの解決完了を待つ。
// 匿名の場合はログインページへリダイレクトし、元のパスをredirectパラメータで引き継ぐ。
func (g *GuardMiddleware) RequireAuth() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, ok := g.resolveAuth(w, r)
			if !ok {
				return
			}

			d := guard.Auth(snap, r.URL.RequestURI())
			if d.Outcome == guard.OutcomeRedirect {
				g.redirect(w, r, d, "auth")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole は指定ロールのいずれかを要求するミドルウェアを返す。
// RequireAuthの内側に配置する前提だが、単独でも匿名を正しくログインへ送る。
// プロフィール解決中はリゾルバーの完了を待ち、
// ロール不一致・未解決の場合はホームへリダイレクトする（ログインには送らない）。
func (g *GuardMiddleware) RequireRole(allowed ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, ok := g.resolveAuth(w, r)
			if !ok {
				return
			}

			var prof profile.Snapshot
			if snap.State == session.StateAuthenticated {
				store, err := StoreFromContext(r.Context())
				if err != nil {
					// 認証済みスナップショットはストア由来のはずで、ここには来ない
					WriteInternalServerError(w)
					return
				}
				prof, err = g.resolvers.For(store).Wait(r.Context())
				if err != nil {
					// クライアント切断。レスポンスは書かない
					return
				}
			}

			d := guard.Role(snap, prof, r.URL.RequestURI(), allowed...)
			if d.Outcome == guard.OutcomeRedirect {
				g.redirect(w, r, d, "role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// resolveAuth はセッション状態の解決完了を待ち、確定したスナップショットを返す。
// コンテキストがキャンセルされた場合はfalseを返す（レスポンス済みまたは切断）。
func (g *GuardMiddleware) resolveAuth(w http.ResponseWriter, r *http.Request) (session.Snapshot, bool) {
	store, err := StoreFromContext(r.Context())
	if err != nil {
		// セッションCookieなし: 確定した匿名として扱う
		return session.Snapshot{State: session.StateAnonymous}, true
	}

	select {
	case <-store.Ready():
	case <-r.Context().Done():
		return session.Snapshot{}, false
	}

	return store.Snapshot(), true
}

// redirect はガード判定のリダイレクトをHTTPレスポンスに変換する。
func (g *GuardMiddleware) redirect(w http.ResponseWriter, r *http.Request, d guard.Decision, guardType string) {
	if g.collector != nil {
		g.collector.RecordGuardRedirect(guardType)
	}
	g.logger.Info("guard redirect",
		slog.String("guard", guardType),
		slog.String("reason", d.Reason),
		slog.String("path", r.URL.Path),
		slog.String("target", d.Target),
	)
	http.Redirect(w, r, d.Target, http.StatusFound)
}
