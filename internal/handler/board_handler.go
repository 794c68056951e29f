package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/whiteboard/internal/board"
	"github.com/hitoshi/whiteboard/internal/middleware"
	"github.com/hitoshi/whiteboard/internal/model"
	"github.com/hitoshi/whiteboard/internal/storage"
)

// BoardServiceInterface はボードハンドラーが必要とするサービスインターフェース。
type BoardServiceInterface interface {
	Create(ctx context.Context, ownerID string, in board.CreateInput) (*model.Board, error)
	Get(ctx context.Context, ownerID, boardID string) (*model.Board, error)
	ListActive(ctx context.Context, ownerID, query string) ([]model.Board, error)
	ListTrashed(ctx context.Context, ownerID, query string) ([]model.Board, error)
	Update(ctx context.Context, ownerID, boardID string, in board.UpdateInput) (*model.Board, error)
	SoftDelete(ctx context.Context, ownerID, boardID string) (*model.Board, error)
	Restore(ctx context.Context, ownerID, boardID string) (*model.Board, error)
	PermanentDelete(ctx context.Context, ownerID, boardID string) error
	Thumbnail(ctx context.Context, ownerID, boardID string) (*storage.Object, error)
}

// BoardHandler はボードAPIのHTTPハンドラー。
type BoardHandler struct {
	service BoardServiceInterface
}

// NewBoardHandler はBoardHandlerを生成する。
func NewBoardHandler(service BoardServiceInterface) *BoardHandler {
	return &BoardHandler{service: service}
}

// boardWriteRequest は作成・更新リクエストのボディ。省略したフィールドは変更しない。
type boardWriteRequest struct {
	Title     *string         `json:"title"`
	Content   json.RawMessage `json:"content"`
	Thumbnail *string         `json:"thumbnail"`
	Version   int64           `json:"version"`
}

// boardResponse はボード1件のAPIレスポンス。
type boardResponse struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content"`
	Thumbnail string          `json:"thumbnail"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Deleted   bool            `json:"deleted"`
	DeletedAt *time.Time      `json:"deletedAt,omitempty"`
	Version   int64           `json:"version"`
}

type boardListResponse struct {
	Success bool            `json:"success"`
	Boards  []boardResponse `json:"boards"`
}

type boardGetResponse struct {
	Success bool          `json:"success"`
	Board   boardResponse `json:"board"`
}

type createResponse struct {
	Success  bool   `json:"success"`
	BoardID  string `json:"boardId"`
	Title    string `json:"title"`
	Redirect string `json:"redirect"`
}

type updateResponse struct {
	Success bool   `json:"success"`
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
	Version int64  `json:"version"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Title   string `json:"title,omitempty"`
}

// Create はボードを作成する。ボディは省略できる。
// POST /api/boards/create
func (h *BoardHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req boardWriteRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	b, err := h.service.Create(r.Context(), userID, board.CreateInput{
		Title:     req.Title,
		Content:   req.Content,
		Thumbnail: req.Thumbnail,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, createResponse{
		Success:  true,
		BoardID:  b.ID,
		Title:    b.Title,
		Redirect: "/whiteboard/" + b.ID,
	})
}

// List は有効なボードを作成日時の降順で返す。
// GET /api/boards?q=
func (h *BoardHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	boards, err := h.service.ListActive(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boardListResponse{Success: true, Boards: toBoardResponses(boards)})
}

// ListTrash はゴミ箱内のボードを削除日時の降順で返す。
// GET /api/boards/trash?q=
func (h *BoardHandler) ListTrash(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	boards, err := h.service.ListTrashed(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boardListResponse{Success: true, Boards: toBoardResponses(boards)})
}

// Get はボード1件を返す。
// GET /api/boards/{id}
func (h *BoardHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	b, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boardGetResponse{Success: true, Board: toBoardResponse(b)})
}

// Thumbnail はBlobストアに保存されたサムネイル画像を返す。
// GET /api/boards/{id}/thumbnail
func (h *BoardHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	obj, err := h.service.Thumbnail(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(obj.Data)
}

// Update はタイトル・内容・サムネイルを更新する。
// PUT /api/boards/{id}/update
func (h *BoardHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req boardWriteRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	boardID := chi.URLParam(r, "id")

	// 一覧・取得で返したサムネイルAPIのURLがそのまま送り返された場合は変更なしとする
	thumbnail := req.Thumbnail
	if thumbnail != nil && *thumbnail == thumbnailPath(boardID) {
		thumbnail = nil
	}

	b, err := h.service.Update(r.Context(), userID, boardID, board.UpdateInput{
		Title:           req.Title,
		Content:         req.Content,
		Thumbnail:       thumbnail,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updateResponse{
		Success: true,
		BoardID: b.ID,
		Title:   b.Title,
		Version: b.Version,
	})
}

// Delete はボードをゴミ箱へ移動する。
// DELETE /api/boards/{id}/delete
func (h *BoardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.SoftDelete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Board moved to trash"})
}

// Restore はゴミ箱のボードを元に戻す。タイトルが調整された場合は新しいタイトルを返す。
// POST /api/boards/{id}/restore
func (h *BoardHandler) Restore(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	b, err := h.service.Restore(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Board restored", Title: b.Title})
}

// PermanentDelete はボードを完全に削除する。
// DELETE /api/boards/{id}/permanent-delete
func (h *BoardHandler) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.PermanentDelete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Board permanently deleted"})
}

// thumbnailURL はサムネイル参照をクライアントが使えるURLに変換する。
// Blobストア上の画像は認可付きのサムネイルAPIを指す。
func thumbnailURL(b *model.Board) string {
	if _, ok := storage.KeyFromRef(b.Thumbnail); ok {
		return thumbnailPath(b.ID)
	}
	return b.Thumbnail
}

func thumbnailPath(boardID string) string {
	return "/api/boards/" + boardID + "/thumbnail"
}

func toBoardResponse(b *model.Board) boardResponse {
	return boardResponse{
		ID:        b.ID,
		Title:     b.Title,
		Content:   b.Content,
		Thumbnail: thumbnailURL(b),
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
		Deleted:   b.Deleted(),
		DeletedAt: b.DeletedAt,
		Version:   b.Version,
	}
}

func toBoardResponses(boards []model.Board) []boardResponse {
	results := make([]boardResponse, len(boards))
	for i := range boards {
		results[i] = toBoardResponse(&boards[i])
	}
	return results
}
