// Package cleanup はゴミ箱と期限切れセッションの自動削除ジョブを提供する。
// ゴミ箱の保持期間（デフォルト30日）を超過したボードを完全削除し、
// Blobストア上のサムネイルも併せて削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/whiteboard/internal/storage"
)

// DefaultRetentionDays はゴミ箱内のボードの保持日数の既定値。
const DefaultRetentionDays = 30

// TrashPurger は削除日時がcutoffより古いゴミ箱のボードを完全削除するインターフェース。
// 削除したボードのサムネイル参照を返す。
type TrashPurger interface {
	PurgeTrashedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// BlobRemover はBlobストアからオブジェクトを削除するインターフェース。
type BlobRemover interface {
	Remove(ctx context.Context, key string) error
}

// SessionSweeper は期限切れセッションを削除するインターフェース。
type SessionSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// MetricsRecorder はクリーンアップ結果を記録するインターフェース。
type MetricsRecorder interface {
	RecordTrashPurge(count int)
	RecordSessionSweep(count int64)
}

// TrashPurgeJob は保持期間を超過したゴミ箱のボードの自動削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type TrashPurgeJob struct {
	boards        TrashPurger
	blobs         BlobRemover // nilの場合はサムネイルを削除しない
	logger        *slog.Logger
	metrics       MetricsRecorder
	now           func() time.Time
	RetentionDays int // ゴミ箱の保持日数（デフォルト: 30）
}

// NewTrashPurgeJob は新しいTrashPurgeJobを生成する。blobsはnilでもよい。
func NewTrashPurgeJob(boards TrashPurger, blobs BlobRemover, logger *slog.Logger) *TrashPurgeJob {
	return &TrashPurgeJob{
		boards:        boards,
		blobs:         blobs,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// SetMetrics はメトリクス記録先を設定する。
func (j *TrashPurgeJob) SetMetrics(m MetricsRecorder) {
	j.metrics = m
}

// SetClock は現在時刻の取得関数を差し替える。テスト用。
func (j *TrashPurgeJob) SetClock(now func() time.Time) {
	j.now = now
}

// Run はdeleted_atがRetentionDays日前より古いボードを完全削除する。
// サムネイルの削除失敗はログに記録するのみで、ジョブは失敗としない。
func (j *TrashPurgeJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	refs, err := j.boards.PurgeTrashedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("ゴミ箱クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("ゴミ箱クリーンアップの実行に失敗: %w", err)
	}

	removed := 0
	for _, ref := range refs {
		key, ok := storage.KeyFromRef(ref)
		if !ok || j.blobs == nil {
			continue
		}
		if err := j.blobs.Remove(ctx, key); err != nil {
			j.logger.Warn("サムネイルの削除に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	if j.metrics != nil {
		j.metrics.RecordTrashPurge(len(refs))
	}

	j.logger.Info("ゴミ箱クリーンアップジョブが完了しました",
		slog.Int("deleted_count", len(refs)),
		slog.Int("thumbnails_removed", removed),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// SessionSweepJob は期限切れセッションの自動削除ジョブ。
// Redisバックエンドではキーの有効期限で消えるため、削除件数は常に0になる。
type SessionSweepJob struct {
	sessions SessionSweeper
	logger   *slog.Logger
	metrics  MetricsRecorder
}

// NewSessionSweepJob は新しいSessionSweepJobを生成する。
func NewSessionSweepJob(sessions SessionSweeper, logger *slog.Logger) *SessionSweepJob {
	return &SessionSweepJob{
		sessions: sessions,
		logger:   logger,
	}
}

// SetMetrics はメトリクス記録先を設定する。
func (j *SessionSweepJob) SetMetrics(m MetricsRecorder) {
	j.metrics = m
}

// Run は期限切れセッションを削除する。
func (j *SessionSweepJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordSessionSweep(deleted)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
