package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/whiteboard/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CookieSecure      bool
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 監視（nilなら無効）
	HTTPMetrics    middleware.HTTPMetricsRecorder
	MetricsHandler http.Handler
	HealthChecks   map[string]HealthCheck

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ボード
	BoardService BoardServiceInterface

	// ページ
	Renderer   PageRenderer
	PageConfig PageConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Metrics
//	  ページ: PageSession → NoStore
//	  API:    Session → NoStore → RateLimit(General)
//
// ログイン・IDトークン検証・ログアウトはセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	boardHandler := NewBoardHandler(deps.BoardService)
	pageHandler := NewPageHandler(deps.BoardService, deps.Renderer, deps.PageConfig)

	// --- 認証不要のルート ---
	r.Get("/", pageHandler.Index)
	r.Get("/login", pageHandler.Login)
	r.Get("/logout", authHandler.Logout)
	r.Get("/logout-complete", authHandler.LogoutComplete)

	// 認証フロー
	r.Post("/auth/verify", authHandler.Verify)
	r.Get("/auth/google/login", authHandler.Login)
	r.Get("/auth/google/callback", authHandler.Callback)

	r.Get("/health", NewHealthHandler(deps.HealthChecks))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- ページ（未認証は /login へリダイレクト） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewPageSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewNoStoreMiddleware())

		r.Get("/dashboard", pageHandler.Dashboard)
		r.Get("/trash", pageHandler.Trash)
		r.Get("/whiteboard", pageHandler.NewWhiteboard)
		r.Get("/whiteboard/{id}", pageHandler.Whiteboard)
	})

	// --- JSON API（未認証は401） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewNoStoreMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/auth/me", authHandler.Me)

		r.Route("/api/boards", func(r chi.Router) {
			r.Get("/", boardHandler.List)
			r.Get("/trash", boardHandler.ListTrash)

			// POST /api/boards/create - ボード作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.BoardCreateMiddleware()).Post("/create", boardHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", boardHandler.Get)
				r.Get("/thumbnail", boardHandler.Thumbnail)
				r.Put("/update", boardHandler.Update)
				r.Delete("/delete", boardHandler.Delete)
				r.Post("/restore", boardHandler.Restore)
				r.Delete("/permanent-delete", boardHandler.PermanentDelete)
			})
		})
	})

	return r
}
