// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/whiteboard/internal/model"
)

// ErrVersionConflict はBoardPatch.ExpectedVersionが現在のバージョンと一致しない場合に返される。
var ErrVersionConflict = errors.New("board version conflict")

// BoardRepository はボードデータの永続化インターフェース。
type BoardRepository interface {
	// Create はボードを作成し、採番したIDを返す。
	// ID・CreatedAt・UpdatedAt・Versionはストア側で設定し、引数のboardにも反映する。
	Create(ctx context.Context, board *model.Board) (string, error)

	// FindByID は指定IDのボードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Board, error)

	// ListByOwner は指定ユーザーが所有する全ボード（ゴミ箱含む）を返す。順序は不定。
	ListByOwner(ctx context.Context, ownerID string) ([]model.Board, error)

	// ListActiveTitles は指定ユーザーの有効なボードのタイトルのみを返す。excludeIDのボードは除く。
	// 内容を読み込まずにタイトルの重複判定を行うために使う。
	ListActiveTitles(ctx context.Context, ownerID, excludeID string) ([]string, error)

	// Update はpatchの非nilフィールドをマージし、UpdatedAtを打刻して更新後のボードを返す。
	// ボードが存在しない場合はnil, nilを返す。
	// バージョン不一致の場合はErrVersionConflictを返す。
	Update(ctx context.Context, id string, patch model.BoardPatch) (*model.Board, error)

	// Delete は指定IDのボードを物理削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, id string) error

	// PurgeTrashedBefore はcutoffより前にゴミ箱へ移動されたボードを物理削除し、
	// 削除したボードのサムネイル参照（空文字を除く）を返す。
	PurgeTrashedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れまたは存在しない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
