package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nayeem/ticketbari/internal/metrics"
	"github.com/nayeem/ticketbari/internal/middleware"
	"github.com/nayeem/ticketbari/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Sessions          middleware.SessionLookup
	Cookie            middleware.CookieConfig
	RateLimiter       *middleware.RateLimiter
	Guard             *middleware.GuardMiddleware
	CORSAllowedOrigin string
	Logger            *slog.Logger

	// ハンドラー
	Auth      *AuthHandler
	Public    *PublicHandler
	Dashboard *DashboardHandler
	Payment   *PaymentHandler

	// メトリクス
	Gatherer prometheus.Gatherer
}

// NewRouter は全ルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Recovery → Session → Logging → CSRF
//
// ルート構成:
//   - 公開ページ（/、/tickets、/advisories）はガードなし
//   - 認証ルート（/auth/*）はIP単位のレート制限のみ
//   - 決済コールバック（/payment/callback）はダッシュボードガードの外
//   - ダッシュボード（/Dashboard/*）は認証ガード必須、一部ロールガード付き
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.Cookie))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{
		CookieSecure: deps.Cookie.Secure,
		CookieDomain: deps.Cookie.Domain,
	}))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError())
	})

	// --- 運用系 ---

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(middleware.CSRFConfig{
		CookieSecure: deps.Cookie.Secure,
		CookieDomain: deps.Cookie.Domain,
	}))

	// --- 公開ページ ---

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/", deps.Public.Home)
		r.Get("/tickets", deps.Public.ListTickets)
		r.Get("/tickets/{id}", deps.Public.GetTicket)
		// 予約は要ログインだがガードのリダイレクトではなくAPIレベルで401を返す
		r.Post("/tickets/{id}/book", deps.Dashboard.BookTicket)
		r.Get("/advisories", deps.Public.ListAdvisories)
		r.Get("/contact", deps.Public.Contact)
		r.Get("/about", deps.Public.About)

		// 決済コールバックはダッシュボードガードの外。
		// セッションの再確立はハンドラー内で独自に待つ
		r.Get("/payment/callback", deps.Payment.Callback)
	})

	// --- 認証ルート ---
	// セッション確立前に叩かれるため、IP単位のレート制限を使う

	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Get("/login", deps.Auth.LoginPage)
		r.Post("/login", deps.Auth.Login)
		r.Post("/register", deps.Auth.Register)
		r.Post("/reset", deps.Auth.Reset)

		// 外部プロバイダー（Google）同意フロー
		r.Get("/google", deps.Auth.GoogleLogin)
		r.Get("/callback", deps.Auth.GoogleCallback)

		r.Post("/logout", deps.Auth.Logout)
		r.Get("/me", deps.Auth.Me)
	})

	// --- ダッシュボード（要認証） ---

	r.Route("/Dashboard", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(deps.Guard.RequireAuth())

		r.Get("/", deps.Dashboard.Overview)
		r.Get("/profile", deps.Dashboard.GetProfile)
		r.Put("/profile", deps.Dashboard.UpdateProfile)
		r.Get("/bookings", deps.Dashboard.ListBookings)
		r.Post("/bookings", deps.Dashboard.CreateBooking)

		// 出品事業者専用
		r.Group(func(r chi.Router) {
			r.Use(deps.Guard.RequireRole(model.RoleVendor))

			r.Get("/add-ticket", deps.Dashboard.AddTicketPage)
			r.Post("/add-ticket", deps.Dashboard.CreateTicket)
			r.Get("/my-tickets", deps.Dashboard.ListMyTickets)
			r.Get("/orders", deps.Dashboard.ListOrders)
		})

		// 管理者専用
		r.Group(func(r chi.Router) {
			r.Use(deps.Guard.RequireRole(model.RoleAdmin))

			r.Get("/manage-users", deps.Dashboard.ListUsers)
			r.Patch("/manage-users/{uid}/role", deps.Dashboard.UpdateUserRole)
			r.Get("/manage-tickets", deps.Dashboard.ListAllTickets)
			r.Get("/analytics", deps.Dashboard.Analytics)
		})
	})

	return r
}
