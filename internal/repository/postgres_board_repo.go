package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/whiteboard/internal/model"
)

const boardColumns = `id, owner_id, title, content, thumbnail, created_at, updated_at, deleted_at, version`

// PostgresBoardRepo はPostgreSQLを使用したボードリポジトリ。
type PostgresBoardRepo struct {
	db *sql.DB
}

// NewPostgresBoardRepo はPostgresBoardRepoを生成する。
func NewPostgresBoardRepo(db *sql.DB) *PostgresBoardRepo {
	return &PostgresBoardRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBoard(s rowScanner) (*model.Board, error) {
	b := &model.Board{}
	var content []byte
	var deletedAt sql.NullTime
	if err := s.Scan(&b.ID, &b.OwnerID, &b.Title, &content, &b.Thumbnail,
		&b.CreatedAt, &b.UpdatedAt, &deletedAt, &b.Version); err != nil {
		return nil, err
	}
	b.Content = append([]byte(nil), content...)
	if deletedAt.Valid {
		t := deletedAt.Time
		b.DeletedAt = &t
	}
	return b, nil
}

// contentParam はJSONBカラムに渡す文字列を返す。空の場合はJSONのnullとする。
func contentParam(content []byte) string {
	if len(content) == 0 {
		return "null"
	}
	return string(content)
}

// Create はボードを作成し、採番したIDを返す。
func (r *PostgresBoardRepo) Create(ctx context.Context, board *model.Board) (string, error) {
	id := uuid.New().String()
	title := board.Title
	if title == "" {
		title = model.DefaultBoardTitle
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO boards (id, owner_id, title, content, thumbnail, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4::jsonb, $5, now(), now(), 1)
		 RETURNING created_at, updated_at, version`,
		id, board.OwnerID, title, contentParam(board.Content), board.Thumbnail,
	).Scan(&board.CreatedAt, &board.UpdatedAt, &board.Version)
	if err != nil {
		return "", fmt.Errorf("failed to create board: %w", err)
	}

	board.ID = id
	board.Title = title
	board.DeletedAt = nil
	return id, nil
}

// FindByID は指定IDのボードを取得する。見つからない場合はnilを返す。
func (r *PostgresBoardRepo) FindByID(ctx context.Context, id string) (*model.Board, error) {
	if _, err := uuid.Parse(id); err != nil {
		// UUID形式でないIDはPostgreSQLでキャストエラーになるため、未検出として扱う
		return nil, nil
	}

	b, err := scanBoard(r.db.QueryRowContext(ctx,
		`SELECT `+boardColumns+` FROM boards WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find board: %w", err)
	}
	return b, nil
}

// ListByOwner は指定ユーザーが所有する全ボードを返す。
func (r *PostgresBoardRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Board, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+boardColumns+` FROM boards WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	defer rows.Close()

	var boards []model.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		boards = append(boards, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate boards: %w", err)
	}
	return boards, nil
}

// ListActiveTitles は指定ユーザーの有効なボードのタイトルのみを取得する。
func (r *PostgresBoardRepo) ListActiveTitles(ctx context.Context, ownerID, excludeID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT title FROM boards
		 WHERE owner_id = $1 AND deleted_at IS NULL AND id::text <> $2`,
		ownerID, excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list board titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("failed to scan board title: %w", err)
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate board titles: %w", err)
	}
	return titles, nil
}

// Update はpatchの非nilフィールドのみを更新する。
// updated_atは巻き戻らないようGREATESTで打刻し、versionを1進める。
func (r *PostgresBoardRepo) Update(ctx context.Context, id string, patch model.BoardPatch) (*model.Board, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	sets := []string{"updated_at = GREATEST(now(), updated_at)", "version = version + 1"}
	args := []any{id, patch.ExpectedVersion}

	if patch.Title != nil {
		args = append(args, *patch.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if patch.Content != nil {
		args = append(args, contentParam(patch.Content))
		sets = append(sets, fmt.Sprintf("content = $%d::jsonb", len(args)))
	}
	if patch.Thumbnail != nil {
		args = append(args, *patch.Thumbnail)
		sets = append(sets, fmt.Sprintf("thumbnail = $%d", len(args)))
	}
	if patch.Deleted != nil {
		if *patch.Deleted {
			sets = append(sets, "deleted_at = COALESCE(deleted_at, now())")
		} else {
			sets = append(sets, "deleted_at = NULL")
		}
	}

	query := `UPDATE boards SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 AND ($2::bigint = 0 OR version = $2::bigint)
		 RETURNING ` + boardColumns

	b, err := scanBoard(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missingOrConflict(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update board: %w", err)
	}
	return b, nil
}

// missingOrConflict は更新対象行がなかった理由を判定する。
// 行が存在すればバージョン不一致、存在しなければnilを返す。
func (r *PostgresBoardRepo) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM boards WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check board existence: %w", err)
	}
	if exists {
		return ErrVersionConflict
	}
	return nil
}

// Delete は指定IDのボードを物理削除する。
func (r *PostgresBoardRepo) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM boards WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete board: %w", err)
	}
	return nil
}

// PurgeTrashedBefore はcutoffより前にゴミ箱へ移動されたボードを物理削除する。
func (r *PostgresBoardRepo) PurgeTrashedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM boards
		 WHERE deleted_at IS NOT NULL AND deleted_at < $1
		 RETURNING thumbnail`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to purge trashed boards: %w", err)
	}
	defer rows.Close()

	var thumbnails []string
	for rows.Next() {
		var thumb string
		if err := rows.Scan(&thumb); err != nil {
			return nil, fmt.Errorf("failed to scan purged board: %w", err)
		}
		if thumb != "" {
			thumbnails = append(thumbnails, thumb)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purged boards: %w", err)
	}
	return thumbnails, nil
}

// compile-time interface check
var _ BoardRepository = (*PostgresBoardRepo)(nil)
