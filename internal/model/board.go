package model

import (
	"encoding/json"
	"time"
)

// DefaultBoardTitle はタイトル未指定で作成されたボードのタイトル。
const DefaultBoardTitle = "Untitled Board"

// BoardState はボードのライフサイクル状態を表す。
type BoardState string

const (
	// BoardStateActive は通常状態（deleted=false）。
	BoardStateActive BoardState = "active"
	// BoardStateTrashed はゴミ箱状態（deleted=true）。
	BoardStateTrashed BoardState = "trashed"
)

// Board はユーザーが所有するホワイトボード文書を表す。
type Board struct {
	ID        string
	OwnerID   string
	Title     string
	Content   json.RawMessage // キャンバス状態などの不透明なペイロード
	Thumbnail string          // 不透明な参照文字列（blob: で始まる場合はストレージ上のオブジェクト）
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time // Deleted() が true のときのみ設定される
	Version   int64
}

// Deleted はボードがゴミ箱にあるかどうかを返す。
func (b *Board) Deleted() bool {
	return b.DeletedAt != nil
}

// State はボードのライフサイクル状態を返す。
func (b *Board) State() BoardState {
	if b.Deleted() {
		return BoardStateTrashed
	}
	return BoardStateActive
}

// BoardPatch はボードの部分更新内容を表す。
// nilフィールドは変更しない。UpdatedAtは常にストア側で打刻される。
type BoardPatch struct {
	Title     *string
	Content   json.RawMessage
	Thumbnail *string

	// Deleted がtrueならdeleted_atを現在時刻に、falseならNULLにする。
	Deleted *bool

	// ExpectedVersion が0より大きい場合、現在のバージョンと一致しなければ更新しない。
	ExpectedVersion int64
}
