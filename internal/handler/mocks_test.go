package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/whiteboard/internal/board"
	"github.com/hitoshi/whiteboard/internal/middleware"
	"github.com/hitoshi/whiteboard/internal/model"
	"github.com/hitoshi/whiteboard/internal/storage"
)

// --- AuthServiceInterface のモック ---

type mockAuthService struct {
	verifyIDTokenFn  func(ctx context.Context, idToken string) (*model.Session, error)
	oauthEnabled     bool
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) VerifyIDToken(ctx context.Context, idToken string) (*model.Session, error) {
	if m.verifyIDTokenFn != nil {
		return m.verifyIDTokenFn(ctx, idToken)
	}
	return nil, model.NewInvalidTokenError()
}

func (m *mockAuthService) OAuthEnabled() bool {
	return m.oauthEnabled
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

// --- BoardServiceInterface のモック ---

type mockBoardService struct {
	createFn          func(ctx context.Context, ownerID string, in board.CreateInput) (*model.Board, error)
	getFn             func(ctx context.Context, ownerID, boardID string) (*model.Board, error)
	listActiveFn      func(ctx context.Context, ownerID, query string) ([]model.Board, error)
	listTrashedFn     func(ctx context.Context, ownerID, query string) ([]model.Board, error)
	updateFn          func(ctx context.Context, ownerID, boardID string, in board.UpdateInput) (*model.Board, error)
	softDeleteFn      func(ctx context.Context, ownerID, boardID string) (*model.Board, error)
	restoreFn         func(ctx context.Context, ownerID, boardID string) (*model.Board, error)
	permanentDeleteFn func(ctx context.Context, ownerID, boardID string) error
	thumbnailFn       func(ctx context.Context, ownerID, boardID string) (*storage.Object, error)
}

func (m *mockBoardService) Create(ctx context.Context, ownerID string, in board.CreateInput) (*model.Board, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, in)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBoardService) Get(ctx context.Context, ownerID, boardID string) (*model.Board, error) {
	if m.getFn != nil {
		return m.getFn(ctx, ownerID, boardID)
	}
	return nil, model.NewBoardNotFoundError(boardID)
}

func (m *mockBoardService) ListActive(ctx context.Context, ownerID, query string) ([]model.Board, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, ownerID, query)
	}
	return nil, nil
}

func (m *mockBoardService) ListTrashed(ctx context.Context, ownerID, query string) ([]model.Board, error) {
	if m.listTrashedFn != nil {
		return m.listTrashedFn(ctx, ownerID, query)
	}
	return nil, nil
}

func (m *mockBoardService) Update(ctx context.Context, ownerID, boardID string, in board.UpdateInput) (*model.Board, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, ownerID, boardID, in)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBoardService) SoftDelete(ctx context.Context, ownerID, boardID string) (*model.Board, error) {
	if m.softDeleteFn != nil {
		return m.softDeleteFn(ctx, ownerID, boardID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBoardService) Restore(ctx context.Context, ownerID, boardID string) (*model.Board, error) {
	if m.restoreFn != nil {
		return m.restoreFn(ctx, ownerID, boardID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBoardService) PermanentDelete(ctx context.Context, ownerID, boardID string) error {
	if m.permanentDeleteFn != nil {
		return m.permanentDeleteFn(ctx, ownerID, boardID)
	}
	return errors.New("not implemented")
}

func (m *mockBoardService) Thumbnail(ctx context.Context, ownerID, boardID string) (*storage.Object, error) {
	if m.thumbnailFn != nil {
		return m.thumbnailFn(ctx, ownerID, boardID)
	}
	return nil, model.NewThumbnailNotFoundError(boardID)
}

// --- PageRenderer のモック ---

type mockRenderer struct {
	renderFn func(w io.Writer, name string, data any) error

	lastName string
	lastData any
}

func (m *mockRenderer) Render(w io.Writer, name string, data any) error {
	m.lastName = name
	m.lastData = data
	if m.renderFn != nil {
		return m.renderFn(w, name, data)
	}
	_, err := io.WriteString(w, "<html>"+name+"</html>")
	return err
}

// --- SessionFinder のインメモリ実装 ---

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	err      error // 非nilならFindByIDはこのエラーを返す
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string]*model.Session)}
}

func (s *memorySessions) add(id, subject, email string) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := &model.Session{
		ID:        id,
		Identity:  model.Identity{Subject: subject, Email: email, Name: subject},
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	s.sessions[id] = session
	return session
}

func (s *memorySessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return session, nil
}

func (s *memorySessions) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *memorySessions) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// --- ヘルパー ---

// serveAs はchiのURLパラメータを解決するため、単一ルートのルーターでハンドラーを実行する。
// userIDが空でなければセッションをコンテキストに注入する。
func serveAs(userID, method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if userID != "" {
				req = req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Method(method, pattern, h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
