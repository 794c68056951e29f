package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/whiteboard/internal/config"
	"github.com/hitoshi/whiteboard/internal/database"
	"github.com/hitoshi/whiteboard/internal/handler"
	"github.com/hitoshi/whiteboard/internal/repository"
	"github.com/hitoshi/whiteboard/internal/storage"
)

// connectTimeout は起動時の外部ストア疎通確認のタイムアウト。
const connectTimeout = 5 * time.Second

// stores は設定に応じて選択したバックエンドをまとめたもの。
type stores struct {
	boards   repository.BoardRepository
	sessions repository.SessionRepository
	thumbs   storage.ThumbnailStore // THUMBNAIL_STORE=none の場合はnil

	healthChecks map[string]handler.HealthCheck
	closers      []func() error
}

// openStores は設定されたボードストア・セッションストア・Blobストアに接続する。
// 途中で失敗した場合は接続済みのものを閉じてからエラーを返す。
func openStores(ctx context.Context, cfg *config.Config) (_ *stores, err error) {
	s := &stores{healthChecks: make(map[string]handler.HealthCheck)}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	var db *sql.DB
	if cfg.NeedsDatabase() {
		db, err = database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.closers = append(s.closers, db.Close)

		if err := database.Ping(ctx, db, connectTimeout); err != nil {
			return nil, err
		}
		s.healthChecks["database"] = db.PingContext
		slog.Info("database connection established")
	}

	switch cfg.BoardStore {
	case config.BoardStoreMemory:
		slog.Warn("using in-memory board store, boards are lost on restart")
		s.boards = repository.NewMemoryBoardRepo()
	default:
		s.boards = repository.NewPostgresBoardRepo(db)
	}

	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		redisRepo, err := repository.NewRedisSessionRepo(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, redisRepo.Close)
		s.healthChecks["sessions"] = redisRepo.Ping
		s.sessions = redisRepo
		slog.Info("redis session store connected")
	default:
		s.sessions = repository.NewPostgresSessionRepo(db)
	}

	if cfg.ThumbnailStore == config.ThumbnailStoreMinIO {
		minioCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		minioStore, err := storage.NewMinIOStore(minioCtx, storage.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, err
		}
		s.healthChecks["thumbnails"] = minioStore.Ping
		s.thumbs = minioStore
		slog.Info("minio thumbnail store connected",
			slog.String("endpoint", cfg.MinIOEndpoint),
			slog.String("bucket", cfg.MinIOBucket),
		)
	}

	return s, nil
}

// Close は開いた接続をすべて閉じる。
func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("failed to close store", slog.String("error", err.Error()))
		}
	}
	s.closers = nil
}
