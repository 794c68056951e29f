// Package app はサブコマンドごとの依存関係の組み立てと起動を行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/whiteboard/internal/auth"
	"github.com/hitoshi/whiteboard/internal/board"
	"github.com/hitoshi/whiteboard/internal/config"
	"github.com/hitoshi/whiteboard/internal/database"
	"github.com/hitoshi/whiteboard/internal/handler"
	"github.com/hitoshi/whiteboard/internal/logger"
	"github.com/hitoshi/whiteboard/internal/metrics"
	"github.com/hitoshi/whiteboard/internal/middleware"
	"github.com/hitoshi/whiteboard/internal/web"
	"github.com/hitoshi/whiteboard/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .env と環境変数から設定を読み込む
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

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
		slog.String("board_store", cfg.BoardStore),
		slog.String("session_backend", cfg.SessionBackend),
		slog.String("thumbnail_store", cfg.ThumbnailStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// newMetrics はプロセス・ランタイムのメトリクスを含むレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はWebサーバーモードで起動する。
// ストアに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストア接続
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// 2. メトリクス
	reg, collector := newMetrics()

	// 3. ドメインサービスの初期化
	verifier := auth.NewIDTokenVerifier(auth.IDTokenVerifierConfig{
		ProjectID: cfg.IDPProjectID,
		Issuer:    cfg.IDPIssuer,
		CertsURL:  cfg.IDPCertsURL,
	})
	var oauthProvider auth.OAuthProvider
	if cfg.GoogleOAuthEnabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	}
	authService := auth.NewService(verifier, oauthProvider, st.sessions,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	authService.SetMetrics(collector)

	boardService := board.NewService(st.boards, st.thumbs,
		board.ServiceConfig{ThumbnailMaxSize: cfg.ThumbnailMaxSize},
	)
	boardService.SetMetrics(collector)

	renderer, err := web.NewRenderer()
	if err != nil {
		return err
	}

	// 4. ルーターの構築（レート制限はreq/minからreq/secに変換する）
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitBoardCreate),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder:     st.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CookieSecure:      cfg.CookieSecure,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		HTTPMetrics:    collector,
		MetricsHandler: metrics.Handler(reg),
		HealthChecks:   st.healthChecks,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		BoardService: boardService,

		Renderer: renderer,
		PageConfig: handler.PageConfig{
			IDPAPIKey:          cfg.IDPAPIKey,
			IDPAuthDomain:      cfg.IDPAuthDomain,
			IDPProjectID:       cfg.IDPProjectID,
			GoogleLoginEnabled: cfg.GoogleOAuthEnabled(),
		},
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server, "web server")
}

// serveUntilDone はctxがキャンセルされるまでサーバーを動かし、その後グレースフルシャットダウンする。
// 起動に失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// ゴミ箱の保持期間を過ぎたボードと期限切れセッションを定期的に削除する。
// Dockerヘルスチェックとメトリクス収集のため、/health と /metrics のみを公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. ストア接続
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, collector := newMetrics()

	// 2. ジョブの初期化
	var jobs []job
	if cfg.BoardStore == config.BoardStoreMemory {
		slog.Warn("trash purge disabled: in-memory board store is not shared with the web server")
	} else {
		purge := cleanup.NewTrashPurgeJob(st.boards, st.thumbs, slog.Default())
		purge.RetentionDays = cfg.TrashRetentionDays
		purge.SetMetrics(collector)
		jobs = append(jobs, job{name: "trash_purge", run: purge.Run})
	}

	sweep := cleanup.NewSessionSweepJob(st.sessions, slog.Default())
	sweep.SetMetrics(collector)
	jobs = append(jobs, job{name: "session_sweep", run: sweep.Run})

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("trash_retention_days", cfg.TrashRetentionDays),
	)

	// 3. ジョブをバックグラウンドで定期実行
	done := make(chan struct{})
	go func() {
		defer close(done)
		runPeriodically(ctx, cfg.CleanupInterval, jobs)
	}()

	// 4. /health と /metrics の公開（ブロッキング）
	mux := chi.NewRouter()
	mux.Get("/health", handler.NewHealthHandler(st.healthChecks))
	mux.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	err = serveUntilDone(ctx, server, "worker")

	// サーバーが起動に失敗した場合もジョブを止める
	cancel()
	<-done
	slog.Info("worker stopped gracefully")
	return err
}

// job は定期実行するクリーンアップジョブ。
type job struct {
	name string
	run  func(ctx context.Context) error
}

// runPeriodically は起動直後に1回、その後はintervalごとに全ジョブを実行する。
// ctxがキャンセルされると戻る。ジョブの失敗はログに記録して次回に持ち越す。
func runPeriodically(ctx context.Context, interval time.Duration, jobs []job) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	runAll := func() {
		for _, j := range jobs {
			if ctx.Err() != nil {
				return
			}
			if err := j.run(ctx); err != nil {
				slog.Error("cleanup job failed",
					slog.String("job", j.name),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	runAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runAll()
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

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
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(target string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
