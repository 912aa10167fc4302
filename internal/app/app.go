// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/nayeem/ticketbari/internal/advisory"
	"github.com/nayeem/ticketbari/internal/apiclient"
	"github.com/nayeem/ticketbari/internal/config"
	"github.com/nayeem/ticketbari/internal/database"
	"github.com/nayeem/ticketbari/internal/handler"
	"github.com/nayeem/ticketbari/internal/idp"
	"github.com/nayeem/ticketbari/internal/logger"
	"github.com/nayeem/ticketbari/internal/metrics"
	"github.com/nayeem/ticketbari/internal/middleware"
	"github.com/nayeem/ticketbari/internal/profile"
	"github.com/nayeem/ticketbari/internal/repository"
	"github.com/nayeem/ticketbari/internal/security"
	"github.com/nayeem/ticketbari/internal/session"
	"github.com/nayeem/ticketbari/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はゲートウェイサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// 運行情報の定期取得と期限切れセッションの定期削除もこのプロセス内で動かす。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	sessionRepo := repository.NewPostgresBrowserSessionRepo(db)
	markerRepo := repository.NewPostgresMarkerRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 5. IdPプロバイダーの初期化
	provider := idp.NewRESTProvider(idp.RESTConfig{
		APIKey:             cfg.IDPAPIKey,
		BaseURL:            cfg.IDPBaseURL,
		TokenURL:           cfg.IDPTokenURL,
		GoogleClientID:     cfg.GoogleClientID,
		GoogleClientSecret: cfg.GoogleClientSecret,
		GoogleRedirectURL:  cfg.GoogleRedirectURL,
	})

	// 6. セッション管理とプロフィール解決の初期化
	sessionManager := session.NewManager(
		provider, sessionRepo, markerRepo,
		cfg.TokenLeeway, time.Duration(cfg.SessionMaxAge)*time.Second,
		slog.Default(),
	)

	sharedClient := apiclient.NewClient(cfg.MarketAPIBaseURL, cfg.MarketAPITimeout, nil, collector)
	resolverRegistry := profile.NewRegistry(sharedClient, collector, slog.Default())

	// 7. 運行情報サービスの初期化
	advisoryService := advisory.NewService(
		advisory.Config{
			FeedURLs: cfg.AdvisoryFeeds,
			Timeout:  cfg.AdvisoryTimeout,
			MaxSize:  cfg.AdvisoryMaxSize,
		},
		ssrfGuard, sanitizer, collector, slog.Default(),
	)

	// 8. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, slog.Default())

	// 9. レート制限の初期化（configはreq/min単位なのでreq/secに変換する）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
	rateLimiterCfg.AuthBurst = cfg.RateLimitAuth
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 10. ルーターの構築
	cookieCfg := middleware.CookieConfig{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
		MaxAge: cfg.SessionMaxAge,
	}

	deps := &handler.RouterDeps{
		Sessions:          sessionManager,
		Cookie:            cookieCfg,
		RateLimiter:       rateLimiter,
		Guard:             middleware.NewGuardMiddleware(resolverRegistry, collector, slog.Default()),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),

		Auth: handler.NewAuthHandler(sessionManager, provider, handler.AuthHandlerConfig{
			BaseURL: cfg.BaseURL,
			Cookie:  cookieCfg,
		}, collector, slog.Default()),
		Public:    handler.NewPublicHandler(sharedClient, sanitizer, advisoryService, slog.Default()),
		Dashboard: handler.NewDashboardHandler(sharedClient, resolverRegistry, provider, ssrfGuard, slog.Default()),
		Payment:   handler.NewPaymentHandler(sharedClient, slog.Default()),

		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 11. バックグラウンドワーカーの起動
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if len(cfg.AdvisoryFeeds) > 0 {
		go advisoryService.Start(workerCtx, cfg.AdvisoryInterval)
	}
	go cleanupJob.Start(workerCtx, 24*time.Hour)

	// 12. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("gateway server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down gateway server...")
	cancelWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("gateway server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
