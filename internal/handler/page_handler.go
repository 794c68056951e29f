package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/whiteboard/internal/middleware"
	"github.com/hitoshi/whiteboard/internal/model"
	"github.com/hitoshi/whiteboard/internal/web"
)

// PageRenderer はページテンプレートのレンダリングインターフェース。
type PageRenderer interface {
	Render(w io.Writer, name string, data any) error
}

// PageConfig はログインページに埋め込むIdPクライアント設定。
type PageConfig struct {
	IDPAPIKey          string
	IDPAuthDomain      string
	IDPProjectID       string
	GoogleLoginEnabled bool
}

// PageHandler はサーバーサイドレンダリングのページハンドラー。
// バックエンド障害時はエラー画面を出さず、空の一覧やダッシュボードへのリダイレクトに縮退する。
type PageHandler struct {
	boards   BoardServiceInterface
	renderer PageRenderer
	config   PageConfig
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(boards BoardServiceInterface, renderer PageRenderer, config PageConfig) *PageHandler {
	return &PageHandler{
		boards:   boards,
		renderer: renderer,
		config:   config,
	}
}

// Index はログインページへリダイレクトする。
// GET /
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, middleware.LoginPath, http.StatusFound)
}

// Login はログインページを表示する。
// GET /login
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.render(w, web.PageLogin, web.LoginPage{
		APIKey:             h.config.IDPAPIKey,
		AuthDomain:         h.config.IDPAuthDomain,
		ProjectID:          h.config.IDPProjectID,
		GoogleLoginEnabled: h.config.GoogleLoginEnabled,
	})
}

// Dashboard は有効なボードの一覧を表示する。
// GET /dashboard?q=
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, middleware.LoginPath, http.StatusFound)
		return
	}

	query := r.URL.Query().Get("q")
	boards, err := h.boards.ListActive(r.Context(), session.UserID(), query)
	if err != nil {
		slog.Error("failed to list boards for dashboard",
			slog.String("user_id", session.UserID()),
			slog.String("error", err.Error()),
		)
		boards = nil
	}

	h.render(w, web.PageDashboard, web.BoardListPage{
		User:   toWebUser(session),
		Boards: toBoardCards(boards),
		Query:  query,
	})
}

// Trash はゴミ箱内のボードの一覧を表示する。
// GET /trash?q=
func (h *PageHandler) Trash(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, middleware.LoginPath, http.StatusFound)
		return
	}

	query := r.URL.Query().Get("q")
	boards, err := h.boards.ListTrashed(r.Context(), session.UserID(), query)
	if err != nil {
		slog.Error("failed to list boards for trash",
			slog.String("user_id", session.UserID()),
			slog.String("error", err.Error()),
		)
		boards = nil
	}

	h.render(w, web.PageTrash, web.BoardListPage{
		User:   toWebUser(session),
		Boards: toBoardCards(boards),
		Query:  query,
	})
}

// NewWhiteboard は未保存の新規ボードのエディタを表示する。最初の保存でボードが作成される。
// GET /whiteboard
func (h *PageHandler) NewWhiteboard(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, middleware.LoginPath, http.StatusFound)
		return
	}

	h.render(w, web.PageWhiteboard, web.WhiteboardPage{User: toWebUser(session)})
}

// Whiteboard は既存ボードのエディタを表示する。
// 取得できない場合（存在しない・他人のボード・障害）はダッシュボードへリダイレクトする。
// GET /whiteboard/{id}
func (h *PageHandler) Whiteboard(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, middleware.LoginPath, http.StatusFound)
		return
	}

	b, err := h.boards.Get(r.Context(), session.UserID(), chi.URLParam(r, "id"))
	if err != nil {
		slog.Warn("board page unavailable",
			slog.String("user_id", session.UserID()),
			slog.String("board_id", chi.URLParam(r, "id")),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, dashboardPath, http.StatusFound)
		return
	}

	h.render(w, web.PageWhiteboard, web.WhiteboardPage{
		User:    toWebUser(session),
		BoardID: b.ID,
		Title:   b.Title,
		Version: b.Version,
	})
}

func (h *PageHandler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.Render(w, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func toWebUser(session *model.Session) web.User {
	return web.User{
		Name:  session.Identity.Name,
		Email: session.Identity.Email,
	}
}

func toBoardCards(boards []model.Board) []web.BoardCard {
	cards := make([]web.BoardCard, len(boards))
	for i, b := range boards {
		cards[i] = web.BoardCard{
			ID:        b.ID,
			Title:     b.Title,
			Thumbnail: web.ThumbnailSrc(b.ID, b.Thumbnail),
			UpdatedAt: b.UpdatedAt,
			DeletedAt: b.DeletedAt,
		}
	}
	return cards
}
