// Package model はドメインモデルを定義する。
package model

import "time"

// Identity はIdPが検証済みのユーザー識別情報を表す。
// 本システムでは独立したレコードとして永続化せず、セッションにキャッシュする。
type Identity struct {
	Subject string // IdP上で安定かつ一意なユーザーID
	Email   string
	Name    string
}

// Session はブラウザセッションを表す。
// Cookieの session_id をキーとし、認証済みIdentityを保持する。
type Session struct {
	ID        string
	Identity  Identity
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserID はセッション所有者のサブジェクトIDを返す。
func (s *Session) UserID() string {
	return s.Identity.Subject
}
