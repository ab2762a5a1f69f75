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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/foodreview/internal/client"
	"github.com/hitoshi/foodreview/internal/config"
	"github.com/hitoshi/foodreview/internal/database"
	"github.com/hitoshi/foodreview/internal/handler"
	"github.com/hitoshi/foodreview/internal/identity"
	"github.com/hitoshi/foodreview/internal/logger"
	"github.com/hitoshi/foodreview/internal/metrics"
	"github.com/hitoshi/foodreview/internal/middleware"
	"github.com/hitoshi/foodreview/internal/repository"
	"github.com/hitoshi/foodreview/internal/review"
	"github.com/hitoshi/foodreview/internal/reviewapi"
	"github.com/hitoshi/foodreview/internal/security"
	"github.com/hitoshi/foodreview/internal/view"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映する
	logger.SetLevel(cfg.LogLevel)

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
		slog.Bool("social_login", cfg.SocialLoginEnabled()),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
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

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. IdPの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	tokens := identity.NewTokenIssuer(cfg.SessionSecret, time.Duration(cfg.SessionMaxAge)*time.Second)

	var social identity.SocialProvider
	if cfg.SocialLoginEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		oidcProvider, err := identity.NewOIDCProvider(ctx, identity.OIDCConfig{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("failed to initialize social login: %w", err)
		}
		social = oidcProvider
	}
	provider := identity.NewProvider(accountRepo, tokens, social, slog.Default())

	// 4. レビューサービスのクライアント
	reviewClient, err := reviewapi.NewClient(
		cfg.ReviewAPIURL,
		&http.Client{Timeout: cfg.ReviewAPITimeout},
		slog.Default(),
		collector,
	)
	if err != nil {
		return fmt.Errorf("failed to create review API client: %w", err)
	}
	reviewClient.WithRetry(reviewapi.DefaultRetryPolicy())

	var images review.ImageChecker
	if cfg.VerifyImageURLs {
		images = security.NewImageProbe(5 * time.Second)
	}
	validator := review.NewValidator(images)

	// 5. クライアントレジストリ
	clients := client.NewRegistry(
		func(ctx context.Context, token string) client.IdentityClient {
			return provider.NewClient(ctx, token)
		},
		reviewClient,
		client.Config{
			IdleTTL:         cfg.ClientIdleTTL,
			CleanupInterval: time.Minute,
			AuthRecorder:    collector,
			Gauge:           collector,
			Logger:          slog.Default(),
		},
	)
	defer clients.Stop()

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitMutation),
	)
	defer rateLimiter.Stop()

	// 6. 画面とハンドラー
	renderer, err := view.NewRenderer(slog.Default())
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	cookies := middleware.CookieConfig{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
		MaxAge: cfg.SessionMaxAge,
	}
	socialEnabled := provider.SocialEnabled()

	deps := &handler.RouterDeps{
		Clients:     clients,
		Cookies:     cookies,
		RateLimiter: rateLimiter,

		ResolveWait:   cfg.ResolveWait,
		GuardRecorder: collector,

		Auth: handler.NewAuthHandler(renderer, handler.AuthHandlerConfig{
			Cookies:       cookies,
			SocialEnabled: socialEnabled,
			Clients:       clients,
		}, slog.Default()),
		Reviews: handler.NewReviewHandler(renderer, reviewClient, reviewClient, validator,
			handler.ReviewHandlerConfig{SocialEnabled: socialEnabled}, slog.Default()),
		Favorites: handler.NewFavoriteHandler(renderer, reviewClient, collector, socialEnabled, slog.Default()),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		Logger: slog.Default(),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
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
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down web server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
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
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
