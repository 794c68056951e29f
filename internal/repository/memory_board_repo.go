package repository

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/whiteboard/internal/model"
)

// MemoryBoardRepo はプロセス内メモリにボードを保持するリポジトリ。
// BOARD_STORE=memory のローカル開発とテストで使用する。
type MemoryBoardRepo struct {
	mu     sync.RWMutex
	boards map[string]*model.Board
	now    func() time.Time
}

// NewMemoryBoardRepo はMemoryBoardRepoを生成する。
func NewMemoryBoardRepo() *MemoryBoardRepo {
	return &MemoryBoardRepo{
		boards: make(map[string]*model.Board),
		now:    time.Now,
	}
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (r *MemoryBoardRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func cloneBoard(b *model.Board) *model.Board {
	c := *b
	c.Content = bytes.Clone(b.Content)
	if b.DeletedAt != nil {
		t := *b.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Create はボードを作成し、採番したIDを返す。
func (r *MemoryBoardRepo) Create(_ context.Context, board *model.Board) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	board.ID = uuid.New().String()
	if board.Title == "" {
		board.Title = model.DefaultBoardTitle
	}
	if len(board.Content) == 0 {
		board.Content = []byte("null")
	}
	board.CreatedAt = now
	board.UpdatedAt = now
	board.DeletedAt = nil
	board.Version = 1

	r.boards[board.ID] = cloneBoard(board)
	return board.ID, nil
}

// FindByID は指定IDのボードを取得する。見つからない場合はnilを返す。
func (r *MemoryBoardRepo) FindByID(_ context.Context, id string) (*model.Board, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.boards[id]
	if !ok {
		return nil, nil
	}
	return cloneBoard(b), nil
}

// ListByOwner は指定ユーザーが所有する全ボードを返す。
func (r *MemoryBoardRepo) ListByOwner(_ context.Context, ownerID string) ([]model.Board, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var boards []model.Board
	for _, b := range r.boards {
		if b.OwnerID == ownerID {
			boards = append(boards, *cloneBoard(b))
		}
	}
	return boards, nil
}

// ListActiveTitles は指定ユーザーの有効なボードのタイトルを返す。
func (r *MemoryBoardRepo) ListActiveTitles(_ context.Context, ownerID, excludeID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var titles []string
	for _, b := range r.boards {
		if b.OwnerID != ownerID || b.Deleted() || b.ID == excludeID {
			continue
		}
		titles = append(titles, b.Title)
	}
	return titles, nil
}

// Update はpatchの非nilフィールドのみを更新する。
func (r *MemoryBoardRepo) Update(_ context.Context, id string, patch model.BoardPatch) (*model.Board, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.boards[id]
	if !ok {
		return nil, nil
	}
	if patch.ExpectedVersion > 0 && patch.ExpectedVersion != b.Version {
		return nil, ErrVersionConflict
	}

	now := r.now()
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Content != nil {
		b.Content = bytes.Clone(patch.Content)
	}
	if patch.Thumbnail != nil {
		b.Thumbnail = *patch.Thumbnail
	}
	if patch.Deleted != nil {
		switch {
		case *patch.Deleted && b.DeletedAt == nil:
			t := now
			b.DeletedAt = &t
		case !*patch.Deleted:
			b.DeletedAt = nil
		}
	}
	if now.After(b.UpdatedAt) {
		b.UpdatedAt = now
	}
	b.Version++

	return cloneBoard(b), nil
}

// Delete は指定IDのボードを削除する。
func (r *MemoryBoardRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.boards, id)
	return nil
}

// PurgeTrashedBefore はcutoffより前にゴミ箱へ移動されたボードを削除する。
func (r *MemoryBoardRepo) PurgeTrashedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var thumbnails []string
	for id, b := range r.boards {
		if b.DeletedAt == nil || !b.DeletedAt.Before(cutoff) {
			continue
		}
		if b.Thumbnail != "" {
			thumbnails = append(thumbnails, b.Thumbnail)
		}
		delete(r.boards, id)
	}
	return thumbnails, nil
}

// compile-time interface check
var _ BoardRepository = (*MemoryBoardRepo)(nil)
