// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// ルート層でHTTPステータスとJSONエラーエンベロープに変換される。
type APIError struct {
	Code    string // エラーコード
	Message string // エラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeBoardNotFound      = "BOARD_NOT_FOUND"
	ErrCodeThumbnailNotFound  = "THUMBNAIL_NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:    ErrCodeUnauthenticated,
		Message: "Authentication required",
	}
}

// NewInvalidTokenError はIDトークン検証失敗エラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:    ErrCodeInvalidToken,
		Message: "Invalid or expired token",
	}
}

// NewForbiddenError は所有者不一致エラーを生成する。
func NewForbiddenError(boardID string) *APIError {
	return &APIError{
		Code:    ErrCodeForbidden,
		Message: fmt.Sprintf("You do not have access to board %s", boardID),
	}
}

// NewBoardNotFoundError はボード未検出エラーを生成する。
func NewBoardNotFoundError(boardID string) *APIError {
	return &APIError{
		Code:    ErrCodeBoardNotFound,
		Message: fmt.Sprintf("Board not found: %s", boardID),
	}
}

// NewThumbnailNotFoundError はBlobストアにサムネイルが無い場合のエラーを生成する。
func NewThumbnailNotFoundError(boardID string) *APIError {
	return &APIError{
		Code:    ErrCodeThumbnailNotFound,
		Message: fmt.Sprintf("Board %s has no stored thumbnail", boardID),
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:    ErrCodeRateLimited,
		Message: "Too many requests, please slow down",
	}
}

// NewBadRequestError はリクエスト不正エラーを生成する。
func NewBadRequestError(reason string) *APIError {
	return &APIError{
		Code:    ErrCodeBadRequest,
		Message: reason,
	}
}

// NewConflictError は楽観的排他制御の競合エラーを生成する。
func NewConflictError(boardID string) *APIError {
	return &APIError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("Board %s was modified by another request, reload and try again", boardID),
	}
}

// NewBackendUnavailableError は外部ストア・IdPが利用できない場合のエラーを生成する。
func NewBackendUnavailableError() *APIError {
	return &APIError{
		Code:    ErrCodeBackendUnavailable,
		Message: "Backend service is unavailable",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:    ErrCodeInternal,
		Message: "Internal server error",
	}
}
