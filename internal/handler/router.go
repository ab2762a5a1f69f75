package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/foodreview/internal/guard"
	"github.com/hitoshi/foodreview/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Clients     middleware.ClientResolver
	Cookies     middleware.CookieConfig
	RateLimiter *middleware.RateLimiter

	// ガード
	ResolveWait   time.Duration
	GuardRecorder guard.Recorder

	// ハンドラー
	Auth      *AuthHandler
	Reviews   *ReviewHandler
	Favorites *FavoriteHandler

	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	Logger *slog.Logger
}

// NewRouter は全画面のルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → RateLimit(General) → Client → CSRF → [Guard] → [RateLimit(Mutation)]
//
// /health と /metrics はミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	requireSession := guard.Middleware(func(r *http.Request) guard.SessionSource {
		entry, ok := currentEntry(r)
		if !ok {
			return nil
		}
		return entry.Store()
	}, guard.Options{
		Wait:     deps.ResolveWait,
		Recorder: deps.GuardRecorder,
		Logger:   logger,
	})
	general, mutation := passthrough, passthrough
	if deps.RateLimiter != nil {
		general = deps.RateLimiter.GeneralMiddleware()
		mutation = deps.RateLimiter.MutationMiddleware()
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(general)
		r.Use(middleware.NewClientMiddleware(deps.Clients, deps.Cookies))
		r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{
			CookieSecure: deps.Cookies.Secure,
			CookieDomain: deps.Cookies.Domain,
		}))

		r.NotFound(deps.Reviews.NotFound)
		r.MethodNotAllowed(deps.Reviews.NotFound)

		// --- 認証不要のルート ---
		r.Get("/", deps.Reviews.Home)
		r.Get("/all-reviews", deps.Reviews.AllReviews)
		r.Get("/reviews/{id}", deps.Reviews.Detail)

		r.Get("/login", deps.Auth.LoginForm)
		r.Post("/login", deps.Auth.Login)
		r.Get("/register", deps.Auth.RegisterForm)
		r.Post("/register", deps.Auth.Register)
		r.Get("/auth/social/login", deps.Auth.SocialLogin)
		r.Get("/auth/social/callback", deps.Auth.SocialCallback)
		r.Post("/logout", deps.Auth.Logout)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(requireSession)

			r.Get("/add-review", deps.Reviews.AddForm)
			r.With(mutation).Post("/add-review", deps.Reviews.Add)

			r.Get("/my-reviews", deps.Reviews.MyReviews)
			r.Post("/my-reviews/{id}/delete", deps.Reviews.RequestDelete)
			r.With(mutation).Post("/my-reviews/delete/confirm", deps.Reviews.ConfirmDelete)
			r.Post("/my-reviews/delete/cancel", deps.Reviews.CancelDelete)

			r.Get("/update-review/{id}", deps.Reviews.UpdateForm)
			r.With(mutation).Post("/update-review/{id}", deps.Reviews.Update)

			r.With(mutation).Post("/favorites", deps.Favorites.Add)
			r.Get("/my-favorites", deps.Favorites.List)
			r.Post("/my-favorites/{id}/remove", deps.Favorites.RequestRemove)
			r.With(mutation).Post("/my-favorites/remove/confirm", deps.Favorites.ConfirmRemove)
			r.Post("/my-favorites/remove/cancel", deps.Favorites.CancelRemove)

			r.Get("/profile", deps.Auth.ProfileForm)
			r.With(mutation).Post("/profile", deps.Auth.Profile)
		})
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }
