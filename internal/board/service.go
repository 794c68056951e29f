// Package board はボードの所有者認可、タイトル重複回避、ゴミ箱ライフサイクルのドメインロジックを提供する。
package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/whiteboard/internal/model"
	"github.com/hitoshi/whiteboard/internal/repository"
	"github.com/hitoshi/whiteboard/internal/storage"
)

// 操作名（メトリクスのラベル）
const (
	OpCreate          = "create"
	OpGet             = "get"
	OpList            = "list"
	OpUpdate          = "update"
	OpSoftDelete      = "soft_delete"
	OpRestore         = "restore"
	OpPermanentDelete = "permanent_delete"
	OpThumbnail       = "thumbnail"
)

// MetricsRecorder はボード操作の結果を記録するインターフェース。
type MetricsRecorder interface {
	RecordBoardOperation(op, result string)
}

// ServiceConfig はボードサービスの設定。
type ServiceConfig struct {
	// ThumbnailMaxSize はBlobストアに保存するサムネイルの最大バイト数。0以下なら無制限。
	ThumbnailMaxSize int64
}

// CreateInput はボード作成の入力。nilのフィールドは既定値を使う。
type CreateInput struct {
	Title     *string
	Content   json.RawMessage
	Thumbnail *string
}

// UpdateInput はボード更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Title     *string
	Content   json.RawMessage
	Thumbnail *string

	// ExpectedVersion はクライアントが最後に読んだバージョン。0なら検査しない。
	ExpectedVersion int64
}

// Service はボード管理のサービス層。
// すべての読み取り・変更の前に呼び出し元が所有者であることを検証する。
type Service struct {
	repo    repository.BoardRepository
	thumbs  storage.ThumbnailStore // nilの場合サムネイルは文字列のまま保存する
	config  ServiceConfig
	metrics MetricsRecorder
}

// NewService はServiceの新しいインスタンスを生成する。thumbsはnilでもよい。
func NewService(repo repository.BoardRepository, thumbs storage.ThumbnailStore, config ServiceConfig) *Service {
	return &Service{
		repo:   repo,
		thumbs: thumbs,
		config: config,
	}
}

// SetMetrics はメトリクス記録先を設定する。
func (s *Service) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// Create はボードを作成する。所有者は呼び出し元で、タイトルは有効なボード間で一意にする。
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (b *model.Board, err error) {
	defer func() { s.observe(OpCreate, err) }()

	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	title := model.DefaultBoardTitle
	if in.Title != nil && *in.Title != "" {
		title = *in.Title
	}

	existing, err := s.activeTitles(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}

	board := &model.Board{
		OwnerID: ownerID,
		Title:   UniqueTitle(title, existing),
		Content: in.Content,
	}

	var storedRef string
	if in.Thumbnail != nil {
		ref, stored, err := s.storeThumbnail(ctx, ownerID, *in.Thumbnail)
		if err != nil {
			return nil, err
		}
		board.Thumbnail = ref
		if stored {
			storedRef = ref
		}
	}

	if _, err := s.repo.Create(ctx, board); err != nil {
		s.removeThumbnail(ctx, ownerID, storedRef)
		return nil, fmt.Errorf("ボードの作成に失敗しました: %w", err)
	}

	slog.Info("board created",
		slog.String("user_id", ownerID),
		slog.String("board_id", board.ID),
	)
	return board, nil
}

// Get は所有者本人のボードを返す。
func (s *Service) Get(ctx context.Context, ownerID, boardID string) (b *model.Board, err error) {
	defer func() { s.observe(OpGet, err) }()
	return s.authorize(ctx, ownerID, boardID)
}

// ListActive は有効なボードを作成日時の降順で返す。queryが空でなければタイトルの部分一致で絞り込む。
func (s *Service) ListActive(ctx context.Context, ownerID, query string) (boards []model.Board, err error) {
	defer func() { s.observe(OpList, err) }()

	all, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ボード一覧の取得に失敗しました: %w", err)
	}

	boards = filterBoards(all, model.BoardStateActive, query)
	slices.SortStableFunc(boards, func(a, b model.Board) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return boards, nil
}

// ListTrashed はゴミ箱内のボードを削除日時の降順で返す。
func (s *Service) ListTrashed(ctx context.Context, ownerID, query string) (boards []model.Board, err error) {
	defer func() { s.observe(OpList, err) }()

	all, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ゴミ箱一覧の取得に失敗しました: %w", err)
	}

	boards = filterBoards(all, model.BoardStateTrashed, query)
	slices.SortStableFunc(boards, func(a, b model.Board) int {
		return b.DeletedAt.Compare(*a.DeletedAt)
	})
	return boards, nil
}

// Update はタイトル・内容・サムネイルを更新する。ライフサイクル状態は変えない。
// タイトルが実際に変わる場合のみ、自身を除く有効なボードのタイトルと重複しないよう調整する。
func (s *Service) Update(ctx context.Context, ownerID, boardID string, in UpdateInput) (b *model.Board, err error) {
	defer func() { s.observe(OpUpdate, err) }()

	current, err := s.authorize(ctx, ownerID, boardID)
	if err != nil {
		return nil, err
	}
	if in.ExpectedVersion > 0 && in.ExpectedVersion != current.Version {
		return nil, model.NewConflictError(boardID)
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	patch := model.BoardPatch{
		Content:         in.Content,
		ExpectedVersion: current.Version,
	}

	if in.Title != nil && *in.Title != current.Title {
		if *in.Title == "" {
			return nil, model.NewBadRequestError("title must not be empty")
		}
		existing, err := s.activeTitles(ctx, ownerID, current.ID)
		if err != nil {
			return nil, err
		}
		title := UniqueTitle(*in.Title, existing)
		patch.Title = &title
	}

	var storedRef string
	if in.Thumbnail != nil && *in.Thumbnail != current.Thumbnail {
		ref, stored, err := s.storeThumbnail(ctx, ownerID, *in.Thumbnail)
		if err != nil {
			return nil, err
		}
		patch.Thumbnail = &ref
		if stored {
			storedRef = ref
		}
	}

	updated, err := s.apply(ctx, boardID, patch)
	if err != nil {
		s.removeThumbnail(ctx, ownerID, storedRef)
		return nil, err
	}

	if patch.Thumbnail != nil {
		s.removeThumbnail(ctx, ownerID, current.Thumbnail)
	}
	return updated, nil
}

// SoftDelete はボードをゴミ箱へ移動する。すでにゴミ箱にある場合は元の削除日時を保ったまま成功とする。
func (s *Service) SoftDelete(ctx context.Context, ownerID, boardID string) (b *model.Board, err error) {
	defer func() { s.observe(OpSoftDelete, err) }()

	current, err := s.authorize(ctx, ownerID, boardID)
	if err != nil {
		return nil, err
	}
	if current.State() == model.BoardStateTrashed {
		return current, nil
	}

	deleted := true
	updated, err := s.apply(ctx, boardID, model.BoardPatch{
		Deleted:         &deleted,
		ExpectedVersion: current.Version,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("board moved to trash",
		slog.String("user_id", ownerID),
		slog.String("board_id", boardID),
	)
	return updated, nil
}

// Restore はゴミ箱のボードを有効に戻す。有効なボードに対しては何もせず成功とする。
// ゴミ箱にある間に同名の有効なボードが作られていた場合は、タイトルを一意に調整する。
func (s *Service) Restore(ctx context.Context, ownerID, boardID string) (b *model.Board, err error) {
	defer func() { s.observe(OpRestore, err) }()

	current, err := s.authorize(ctx, ownerID, boardID)
	if err != nil {
		return nil, err
	}
	if current.State() == model.BoardStateActive {
		return current, nil
	}

	deleted := false
	patch := model.BoardPatch{
		Deleted:         &deleted,
		ExpectedVersion: current.Version,
	}

	existing, err := s.activeTitles(ctx, ownerID, current.ID)
	if err != nil {
		return nil, err
	}
	if title := UniqueTitle(current.Title, existing); title != current.Title {
		patch.Title = &title
	}

	updated, err := s.apply(ctx, boardID, patch)
	if err != nil {
		return nil, err
	}

	slog.Info("board restored",
		slog.String("user_id", ownerID),
		slog.String("board_id", boardID),
	)
	return updated, nil
}

// PermanentDelete はボードを完全に削除する。状態に関わらず実行でき、元に戻せない。
func (s *Service) PermanentDelete(ctx context.Context, ownerID, boardID string) (err error) {
	defer func() { s.observe(OpPermanentDelete, err) }()

	current, err := s.authorize(ctx, ownerID, boardID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, boardID); err != nil {
		return fmt.Errorf("ボードの削除に失敗しました: %w", err)
	}
	s.removeThumbnail(ctx, ownerID, current.Thumbnail)

	slog.Info("board permanently deleted",
		slog.String("user_id", ownerID),
		slog.String("board_id", boardID),
	)
	return nil
}

// Thumbnail はBlobストアに保存されたサムネイル画像を返す。
func (s *Service) Thumbnail(ctx context.Context, ownerID, boardID string) (obj *storage.Object, err error) {
	defer func() { s.observe(OpThumbnail, err) }()

	current, err := s.authorize(ctx, ownerID, boardID)
	if err != nil {
		return nil, err
	}

	key, ok := storage.OwnedKeyFromRef(current.OwnerID, current.Thumbnail)
	if !ok || s.thumbs == nil {
		return nil, model.NewThumbnailNotFoundError(boardID)
	}

	obj, err = s.thumbs.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.NewThumbnailNotFoundError(boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("サムネイルの取得に失敗しました: %w", err)
	}
	return obj, nil
}

// authorize はボードを取得し、呼び出し元が所有者であることを検証する。
// 存在しない場合はBOARD_NOT_FOUND、所有者が異なる場合はFORBIDDENを返す。
func (s *Service) authorize(ctx context.Context, ownerID, boardID string) (*model.Board, error) {
	b, err := s.repo.FindByID(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("ボードの取得に失敗しました: %w", err)
	}
	if b == nil {
		return nil, model.NewBoardNotFoundError(boardID)
	}
	if b.OwnerID != ownerID {
		slog.Warn("board access denied",
			slog.String("user_id", ownerID),
			slog.String("board_id", boardID),
		)
		return nil, model.NewForbiddenError(boardID)
	}
	return b, nil
}

// apply はpatchをリポジトリに適用し、結果をAPIErrorに変換する。
func (s *Service) apply(ctx context.Context, boardID string, patch model.BoardPatch) (*model.Board, error) {
	updated, err := s.repo.Update(ctx, boardID, patch)
	if errors.Is(err, repository.ErrVersionConflict) {
		return nil, model.NewConflictError(boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("ボードの更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewBoardNotFoundError(boardID)
	}
	return updated, nil
}

// activeTitles は所有者の有効なボードのタイトル一覧を返す。excludeIDのボードは除く。
func (s *Service) activeTitles(ctx context.Context, ownerID, excludeID string) ([]string, error) {
	titles, err := s.repo.ListActiveTitles(ctx, ownerID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("ボードタイトルの取得に失敗しました: %w", err)
	}
	return titles, nil
}

// storeThumbnail はdata URL形式のサムネイルをBlobストアへ保存し、参照文字列を返す。
// Blobストアが無い場合やdata URLでない場合は入力をそのまま返す。
// Blob参照はサーバーだけが発行するため、クライアントが送ったblob:文字列は受け付けない。
func (s *Service) storeThumbnail(ctx context.Context, ownerID, thumbnail string) (string, bool, error) {
	if _, ok := storage.KeyFromRef(thumbnail); ok {
		return "", false, model.NewBadRequestError("thumbnail must not be a stored object reference")
	}
	if s.thumbs == nil || !storage.IsDataURL(thumbnail) {
		return thumbnail, false, nil
	}

	mime, data, err := storage.ParseDataURL(thumbnail)
	if err != nil {
		return "", false, model.NewBadRequestError("thumbnail is not a valid base64 data URL")
	}
	if !storage.IsThumbnailType(mime) {
		return "", false, model.NewBadRequestError("thumbnail must be a PNG, JPEG, WebP or GIF image")
	}
	if s.config.ThumbnailMaxSize > 0 && int64(len(data)) > s.config.ThumbnailMaxSize {
		return "", false, model.NewBadRequestError(
			fmt.Sprintf("thumbnail exceeds the maximum size of %d bytes", s.config.ThumbnailMaxSize))
	}

	key := storage.OwnerKeyPrefix(ownerID) + uuid.New().String() + storage.ExtensionFor(mime)
	if err := s.thumbs.Put(ctx, key, mime, data); err != nil {
		return "", false, fmt.Errorf("サムネイルの保存に失敗しました: %w", err)
	}
	return storage.Ref(key), true, nil
}

// removeThumbnail は所有者のBlobストア上のサムネイルを削除する。失敗はログのみ。
func (s *Service) removeThumbnail(ctx context.Context, ownerID, ref string) {
	if s.thumbs == nil {
		return
	}
	key, ok := storage.OwnedKeyFromRef(ownerID, ref)
	if !ok {
		return
	}
	if err := s.thumbs.Remove(ctx, key); err != nil {
		slog.Warn("failed to remove thumbnail",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) observe(op string, err error) {
	if s.metrics != nil {
		s.metrics.RecordBoardOperation(op, resultOf(err))
	}
}

// resultOf はエラーをメトリクスの結果ラベルに変換する。
func resultOf(err error) string {
	if err == nil {
		return "success"
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Code)
	}
	return "error"
}

// filterBoards はライフサイクル状態とタイトルの部分一致（大文字小文字を区別しない）で絞り込む。
func filterBoards(all []model.Board, state model.BoardState, query string) []model.Board {
	q := strings.ToLower(query)
	boards := make([]model.Board, 0, len(all))
	for _, b := range all {
		if b.State() != state {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(b.Title), q) {
			continue
		}
		boards = append(boards, b)
	}
	return boards
}

// validateContent は内容がJSONとして妥当かを検証する。
func validateContent(content json.RawMessage) error {
	if len(content) > 0 && !json.Valid(content) {
		return model.NewBadRequestError("content must be valid JSON")
	}
	return nil
}
