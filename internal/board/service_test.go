package board

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/whiteboard/internal/model"
	"github.com/hitoshi/whiteboard/internal/repository"
	"github.com/hitoshi/whiteboard/internal/storage"
)

// --- モック定義 ---

type mockBoardRepo struct {
	createFn      func(ctx context.Context, b *model.Board) (string, error)
	findByIDFn    func(ctx context.Context, id string) (*model.Board, error)
	listByOwnerFn func(ctx context.Context, ownerID string) ([]model.Board, error)
	listTitlesFn  func(ctx context.Context, ownerID, excludeID string) ([]string, error)
	updateFn      func(ctx context.Context, id string, patch model.BoardPatch) (*model.Board, error)
	deleteFn      func(ctx context.Context, id string) error
}

func (m *mockBoardRepo) Create(ctx context.Context, b *model.Board) (string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, b)
	}
	return "", nil
}

func (m *mockBoardRepo) FindByID(ctx context.Context, id string) (*model.Board, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockBoardRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Board, error) {
	if m.listByOwnerFn != nil {
		return m.listByOwnerFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockBoardRepo) ListActiveTitles(ctx context.Context, ownerID, excludeID string) ([]string, error) {
	if m.listTitlesFn != nil {
		return m.listTitlesFn(ctx, ownerID, excludeID)
	}
	return nil, nil
}

func (m *mockBoardRepo) Update(ctx context.Context, id string, patch model.BoardPatch) (*model.Board, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return nil, nil
}

func (m *mockBoardRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockBoardRepo) PurgeTrashedBefore(_ context.Context, _ time.Time) ([]string, error) {
	return nil, nil
}

var _ repository.BoardRepository = (*mockBoardRepo)(nil)

type mockMetrics struct {
	ops []string
}

func (m *mockMetrics) RecordBoardOperation(op, result string) {
	m.ops = append(m.ops, op+":"+result)
}

// --- ヘルパー ---

func strPtr(s string) *string { return &s }

func newTestService(t *testing.T) (*Service, *repository.MemoryBoardRepo, *storage.MemoryStore) {
	t.Helper()
	repo := repository.NewMemoryBoardRepo()
	thumbs := storage.NewMemoryStore()
	return NewService(repo, thumbs, ServiceConfig{ThumbnailMaxSize: 1024}), repo, thumbs
}

func mustCreate(t *testing.T, svc *Service, owner, title string) *model.Board {
	t.Helper()
	var in CreateInput
	if title != "" {
		in.Title = &title
	}
	b, err := svc.Create(context.Background(), owner, in)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", title, err)
	}
	return b
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError %s", err, code)
	}
	if apiErr.Code != code {
		t.Fatalf("code = %s, want %s", apiErr.Code, code)
	}
}

func dataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// --- Create ---

func TestCreate_DefaultsTitleAndOwner(t *testing.T) {
	svc, _, _ := newTestService(t)

	b := mustCreate(t, svc, "alice", "")

	if b.Title != model.DefaultBoardTitle {
		t.Errorf("Title = %q, want %q", b.Title, model.DefaultBoardTitle)
	}
	if b.OwnerID != "alice" {
		t.Errorf("OwnerID = %q, want alice", b.OwnerID)
	}
	if b.Deleted() || b.State() != model.BoardStateActive {
		t.Error("new board should be active")
	}
	if b.ID == "" {
		t.Error("ID should be assigned")
	}
}

func TestCreate_UniquifiesAgainstActiveTitles(t *testing.T) {
	svc, _, _ := newTestService(t)

	first := mustCreate(t, svc, "alice", "")
	second := mustCreate(t, svc, "alice", "")
	third := mustCreate(t, svc, "alice", "")

	if first.Title != "Untitled Board" || second.Title != "Untitled Board 2" || third.Title != "Untitled Board 3" {
		t.Errorf("titles = %q, %q, %q", first.Title, second.Title, third.Title)
	}
}

func TestCreate_TitlesArePerOwner(t *testing.T) {
	svc, _, _ := newTestService(t)

	mustCreate(t, svc, "alice", "Plan")
	b := mustCreate(t, svc, "bob", "Plan")

	if b.Title != "Plan" {
		t.Errorf("Title = %q, want Plan", b.Title)
	}
}

func TestCreate_TrashedTitlesDoNotCollide(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	old := mustCreate(t, svc, "alice", "Plan")
	if _, err := svc.SoftDelete(ctx, "alice", old.ID); err != nil {
		t.Fatalf("SoftDelete error = %v", err)
	}

	b := mustCreate(t, svc, "alice", "Plan")
	if b.Title != "Plan" {
		t.Errorf("Title = %q, want Plan", b.Title)
	}
}

func TestCreate_InvalidContent_ReturnsBadRequest(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), "alice", CreateInput{Content: json.RawMessage(`{broken`)})
	assertAPIError(t, err, model.ErrCodeBadRequest)
}

func TestCreate_UniquenessUsesTitleOnlyQuery(t *testing.T) {
	var gotTitle string
	repo := &mockBoardRepo{
		listByOwnerFn: func(_ context.Context, _ string) ([]model.Board, error) {
			t.Error("ListByOwner must not be used for title checks")
			return nil, nil
		},
		listTitlesFn: func(_ context.Context, ownerID, excludeID string) ([]string, error) {
			if ownerID != "alice" || excludeID != "" {
				t.Errorf("ListActiveTitles(%q, %q)", ownerID, excludeID)
			}
			return []string{"Plan"}, nil
		},
		createFn: func(_ context.Context, b *model.Board) (string, error) {
			gotTitle = b.Title
			b.ID = "b1"
			return "b1", nil
		},
	}
	svc := NewService(repo, nil, ServiceConfig{})

	if _, err := svc.Create(context.Background(), "alice", CreateInput{Title: strPtr("Plan")}); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if gotTitle != "Plan 2" {
		t.Errorf("title = %q, want %q", gotTitle, "Plan 2")
	}
}

func TestCreate_StoreFailure_ReturnsWrappedError(t *testing.T) {
	repo := &mockBoardRepo{
		createFn: func(_ context.Context, _ *model.Board) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	svc := NewService(repo, nil, ServiceConfig{})

	_, err := svc.Create(context.Background(), "alice", CreateInput{})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("store failure should not be an APIError, got %v", apiErr)
	}
}

// --- 認可 ---

func TestAuthorization_NotFoundAndForbiddenAreDistinct(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	b := mustCreate(t, svc, "alice", "Secret")

	_, err := svc.Get(ctx, "alice", "does-not-exist")
	assertAPIError(t, err, model.ErrCodeBoardNotFound)

	_, err = svc.Get(ctx, "mallory", b.ID)
	assertAPIError(t, err, model.ErrCodeForbidden)
}

func TestAuthorization_ForbiddenMutationsHaveNoSideEffects(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	b := mustCreate(t, svc, "alice", "Secret")

	_, err := svc.Update(ctx, "mallory", b.ID, UpdateInput{Title: strPtr("pwned")})
	assertAPIError(t, err, model.ErrCodeForbidden)
	_, err = svc.SoftDelete(ctx, "mallory", b.ID)
	assertAPIError(t, err, model.ErrCodeForbidden)
	_, err = svc.Restore(ctx, "mallory", b.ID)
	assertAPIError(t, err, model.ErrCodeForbidden)
	err = svc.PermanentDelete(ctx, "mallory", b.ID)
	assertAPIError(t, err, model.ErrCodeForbidden)

	got, _ := repo.FindByID(ctx, b.ID)
	if got == nil {
		t.Fatal("board should still exist")
	}
	if got.Title != "Secret" || got.Deleted() || got.Version != b.Version {
		t.Errorf("board was modified: %+v", got)
	}
}

// --- Update ---

func TestUpdate_TitleChange_UniquifiesExcludingSelf(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, "alice", "Plan")
	b := mustCreate(t, svc, "alice", "Draft")

	got, err := svc.Update(ctx, "alice", b.ID, UpdateInput{Title: strPtr("Plan")})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}
	if got.Title != "Plan 2" {
		t.Errorf("Title = %q, want %q", got.Title, "Plan 2")
	}
}

func TestUpdate_SameTitle_IsNotRenamed(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	b := mustCreate(t, svc, "alice", "Plan")

	got, err := svc.Update(ctx, "alice", b.ID, UpdateInput{Title: strPtr("Plan")})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}
	if got.Title != "Plan" {
		t.Errorf("Title = %q, want Plan", got.Title)
	}
}

func TestUpdate_EmptyTitle_ReturnsBadRequest(t *testing.T) {
	svc, _, _ := newTestService(t)

	b := mustCreate(t, svc, "alice", "Plan")
	_, err := svc.Update(context.Background(), "alice", b.ID, UpdateInput{Title: strPtr("")})
	assertAPIError(t, err, model.ErrCodeBadRequest)
}

func TestUpdate_ContentOnly_KeepsStateAndStampsUpdatedAt(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base
	repo.SetClock(func() time.Time { return now })

	b := mustCreate(t, svc, "alice", "Plan")
	svc.SoftDelete(ctx, "alice", b.ID)

	now = base.Add(time.Minute)
	got, err := svc.Update(ctx, "alice", b.ID, UpdateInput{Content: json.RawMessage(`{"shapes":[1]}`)})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}
	if !got.Deleted() {
		t.Error("update should not change lifecycle state")
	}
	if string(got.Content) != `{"shapes":[1]}` {
		t.Errorf("Content = %s", got.Content)
	}
	if got.Title != "Plan" {
		t.Errorf("Title = %q, want Plan", got.Title)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, now)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt changed to %v", got.CreatedAt)
	}
}

func TestUpdate_ConcurrentModification_ReturnsConflict(t *testing.T) {
	stored := &model.Board{ID: "b1", OwnerID: "alice", Title: "Plan", Version: 3}
	var gotPatch model.BoardPatch
	repo := &mockBoardRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.Board, error) {
			c := *stored
			return &c, nil
		},
		updateFn: func(_ context.Context, _ string, patch model.BoardPatch) (*model.Board, error) {
			gotPatch = patch
			return nil, repository.ErrVersionConflict
		},
	}
	svc := NewService(repo, nil, ServiceConfig{})

	_, err := svc.Update(context.Background(), "alice", "b1", UpdateInput{Content: json.RawMessage(`1`)})
	assertAPIError(t, err, model.ErrCodeConflict)
	if gotPatch.ExpectedVersion != 3 {
		t.Errorf("ExpectedVersion = %d, want 3", gotPatch.ExpectedVersion)
	}
}

func TestUpdate_StaleClientVersion_ReturnsConflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	b := mustCreate(t, svc, "alice", "Plan")
	if _, err := svc.Update(ctx, "alice", b.ID, UpdateInput{Content: json.RawMessage(`1`), ExpectedVersion: b.Version}); err != nil {
		t.Fatalf("first Update error = %v", err)
	}

	_, err := svc.Update(ctx, "alice", b.ID, UpdateInput{Content: json.RawMessage(`2`), ExpectedVersion: b.Version})
	assertAPIError(t, err, model.ErrCodeConflict)
}

func TestUpdate_BoardVanished_ReturnsNotFound(t *testing.T) {
	repo := &mockBoardRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.Board, error) {
			return &model.Board{ID: "b1", OwnerID: "alice", Version: 1}, nil
		},
		updateFn: func(_ context.Context, _ string, _ model.BoardPatch) (*model.Board, error) {
			return nil, nil
		},
	}
	svc := NewService(repo, nil, ServiceConfig{})

	_, err := svc.Update(context.Background(), "alice", "b1", UpdateInput{Content: json.RawMessage(`1`)})
	assertAPIError(t, err, model.ErrCodeBoardNotFound)
}

// --- ライフサイクル ---

func TestSoftDeleteThenRestore_RoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "alice", CreateInput{
		Title:     strPtr("Plan"),
		Content:   json.RawMessage(`{"shapes":["circle"]}`),
		Thumbnail: strPtr("thumb-ref-1"),
	})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	trashed, err := svc.SoftDelete(ctx, "alice", created.ID)
	if err != nil {
		t.Fatalf("SoftDelete error = %v", err)
	}
	if trashed.State() != model.BoardStateTrashed || trashed.DeletedAt == nil {
		t.Fatal("board should be trashed with deleted-at")
	}

	restored, err := svc.Restore(ctx, "alice", created.ID)
	if err != nil {
		t.Fatalf("Restore error = %v", err)
	}
	if restored.State() != model.BoardStateActive || restored.DeletedAt != nil {
		t.Error("restored board should be active without deleted-at")
	}
	if restored.Title != "Plan" || restored.Thumbnail != "thumb-ref-1" {
		t.Errorf("restored = %+v", restored)
	}
	if string(restored.Content) != `{"shapes":["circle"]}` {
		t.Errorf("Content = %s", restored.Content)
	}
}

func TestSoftDelete_AlreadyTrashed_KeepsOriginalDeletedAt(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base
	repo.SetClock(func() time.Time { return now })

	b := mustCreate(t, svc, "alice", "Plan")
	first, _ := svc.SoftDelete(ctx, "alice", b.ID)

	now = base.Add(time.Hour)
	second, err := svc.SoftDelete(ctx, "alice", b.ID)
	if err != nil {
		t.Fatalf("second SoftDelete error = %v", err)
	}
	if !second.DeletedAt.Equal(*first.DeletedAt) {
		t.Errorf("DeletedAt = %v, want %v", second.DeletedAt, first.DeletedAt)
	}
	if second.Version != first.Version {
		t.Errorf("re-delete should not write, version %d -> %d", first.Version, second.Version)
	}
}

func TestRestore_ActiveBoard_IsNoop(t *testing.T) {
	svc, _, _ := newTestService(t)

	b := mustCreate(t, svc, "alice", "Plan")
	got, err := svc.Restore(context.Background(), "alice", b.ID)
	if err != nil {
		t.Fatalf("Restore error = %v", err)
	}
	if got.Version != b.Version {
		t.Errorf("Version = %d, want %d", got.Version, b.Version)
	}
}

func TestRestore_TitleTakenWhileTrashed_IsUniquified(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	old := mustCreate(t, svc, "alice", "Plan")
	svc.SoftDelete(ctx, "alice", old.ID)
	mustCreate(t, svc, "alice", "Plan")

	restored, err := svc.Restore(ctx, "alice", old.ID)
	if err != nil {
		t.Fatalf("Restore error = %v", err)
	}
	if restored.Title != "Plan 2" {
		t.Errorf("Title = %q, want %q", restored.Title, "Plan 2")
	}

	active, _ := svc.ListActive(ctx, "alice", "")
	seen := make(map[string]bool)
	for _, b := range active {
		if seen[b.Title] {
			t.Errorf("duplicate active title %q", b.Title)
		}
		seen[b.Title] = true
	}
}

func TestPermanentDelete_RemovesFromBothStates(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	active := mustCreate(t, svc, "alice", "A")
	trashed := mustCreate(t, svc, "alice", "B")
	svc.SoftDelete(ctx, "alice", trashed.ID)

	for _, id := range []string{active.ID, trashed.ID} {
		if err := svc.PermanentDelete(ctx, "alice", id); err != nil {
			t.Fatalf("PermanentDelete(%s) error = %v", id, err)
		}
		if got, _ := repo.FindByID(ctx, id); got != nil {
			t.Errorf("board %s should be purged", id)
		}
		_, err := svc.Get(ctx, "alice", id)
		assertAPIError(t, err, model.ErrCodeBoardNotFound)
	}
}

// --- 一覧 ---

func TestList_PartitionsActiveAndTrashed(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const n, m = 4, 3
	var ids []string
	for i := 0; i < n+m; i++ {
		ids = append(ids, mustCreate(t, svc, "alice", "").ID)
	}
	for _, id := range ids[:m] {
		if _, err := svc.SoftDelete(ctx, "alice", id); err != nil {
			t.Fatalf("SoftDelete error = %v", err)
		}
	}
	mustCreate(t, svc, "bob", "")

	active, err := svc.ListActive(ctx, "alice", "")
	if err != nil {
		t.Fatalf("ListActive error = %v", err)
	}
	trashed, err := svc.ListTrashed(ctx, "alice", "")
	if err != nil {
		t.Fatalf("ListTrashed error = %v", err)
	}

	if len(active) != n {
		t.Errorf("len(active) = %d, want %d", len(active), n)
	}
	if len(trashed) != m {
		t.Errorf("len(trashed) = %d, want %d", len(trashed), m)
	}
}

func TestList_SortOrderAndQuery(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base
	repo.SetClock(func() time.Time { return now })

	a := mustCreate(t, svc, "alice", "Roadmap")
	now = now.Add(time.Minute)
	b := mustCreate(t, svc, "alice", "Retro notes")
	now = now.Add(time.Minute)
	c := mustCreate(t, svc, "alice", "Sketch")

	active, _ := svc.ListActive(ctx, "alice", "")
	if len(active) != 3 || active[0].ID != c.ID || active[2].ID != a.ID {
		t.Errorf("active order = %v", titles(active))
	}

	filtered, _ := svc.ListActive(ctx, "alice", "RE")
	if len(filtered) != 1 || filtered[0].ID != b.ID {
		t.Errorf("filtered = %v, want [Retro notes]", titles(filtered))
	}

	now = now.Add(time.Minute)
	svc.SoftDelete(ctx, "alice", a.ID)
	now = now.Add(time.Minute)
	svc.SoftDelete(ctx, "alice", c.ID)

	trashed, _ := svc.ListTrashed(ctx, "alice", "")
	if len(trashed) != 2 || trashed[0].ID != c.ID || trashed[1].ID != a.ID {
		t.Errorf("trash order = %v", titles(trashed))
	}
}

func titles(boards []model.Board) []string {
	out := make([]string, len(boards))
	for i, b := range boards {
		out[i] = b.Title
	}
	return out
}

// --- サムネイル ---

func TestThumbnail_DataURLIsOffloaded(t *testing.T) {
	svc, _, thumbs := newTestService(t)
	ctx := context.Background()

	png := []byte("\x89PNG-fake")
	b, err := svc.Create(ctx, "alice", CreateInput{Thumbnail: strPtr(dataURL(png))})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if !strings.HasPrefix(b.Thumbnail, storage.RefPrefix+"alice/") || !strings.HasSuffix(b.Thumbnail, ".png") {
		t.Errorf("Thumbnail = %q, want blob ref", b.Thumbnail)
	}
	if thumbs.Len() != 1 {
		t.Errorf("stored objects = %d, want 1", thumbs.Len())
	}

	obj, err := svc.Thumbnail(ctx, "alice", b.ID)
	if err != nil {
		t.Fatalf("Thumbnail error = %v", err)
	}
	if string(obj.Data) != string(png) || obj.ContentType != "image/png" {
		t.Errorf("obj = %+v", obj)
	}

	_, err = svc.Thumbnail(ctx, "mallory", b.ID)
	assertAPIError(t, err, model.ErrCodeForbidden)
}

func TestThumbnail_ReplaceRemovesOldBlob(t *testing.T) {
	svc, _, thumbs := newTestService(t)
	ctx := context.Background()

	b, _ := svc.Create(ctx, "alice", CreateInput{Thumbnail: strPtr(dataURL([]byte("one")))})
	updated, err := svc.Update(ctx, "alice", b.ID, UpdateInput{Thumbnail: strPtr(dataURL([]byte("two")))})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}
	if updated.Thumbnail == b.Thumbnail {
		t.Error("thumbnail ref should change")
	}
	if thumbs.Len() != 1 {
		t.Errorf("stored objects = %d, want 1", thumbs.Len())
	}

	if err := svc.PermanentDelete(ctx, "alice", b.ID); err != nil {
		t.Fatalf("PermanentDelete error = %v", err)
	}
	if thumbs.Len() != 0 {
		t.Errorf("stored objects = %d, want 0", thumbs.Len())
	}
}

func TestThumbnail_OpaqueStringStoredVerbatim(t *testing.T) {
	svc, _, thumbs := newTestService(t)
	ctx := context.Background()

	b, _ := svc.Create(ctx, "alice", CreateInput{Thumbnail: strPtr("https://cdn.example.com/t.png")})
	if b.Thumbnail != "https://cdn.example.com/t.png" {
		t.Errorf("Thumbnail = %q", b.Thumbnail)
	}
	if thumbs.Len() != 0 {
		t.Errorf("stored objects = %d, want 0", thumbs.Len())
	}

	_, err := svc.Thumbnail(ctx, "alice", b.ID)
	assertAPIError(t, err, model.ErrCodeThumbnailNotFound)
}

func TestThumbnail_WithoutStore_DataURLKeptVerbatim(t *testing.T) {
	svc := NewService(repository.NewMemoryBoardRepo(), nil, ServiceConfig{})

	thumb := dataURL([]byte("img"))
	b, err := svc.Create(context.Background(), "alice", CreateInput{Thumbnail: &thumb})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if b.Thumbnail != thumb {
		t.Errorf("Thumbnail = %q, want data URL", b.Thumbnail)
	}
}

func TestThumbnail_TooLarge_ReturnsBadRequest(t *testing.T) {
	svc, _, thumbs := newTestService(t)

	big := dataURL(make([]byte, 2048))
	_, err := svc.Create(context.Background(), "alice", CreateInput{Thumbnail: &big})
	assertAPIError(t, err, model.ErrCodeBadRequest)
	if thumbs.Len() != 0 {
		t.Errorf("stored objects = %d, want 0", thumbs.Len())
	}
}

func TestThumbnail_MalformedDataURL_ReturnsBadRequest(t *testing.T) {
	svc, _, _ := newTestService(t)

	bad := "data:image/png;base64,@@@"
	_, err := svc.Create(context.Background(), "alice", CreateInput{Thumbnail: &bad})
	assertAPIError(t, err, model.ErrCodeBadRequest)
}

func TestThumbnail_ClientSuppliedBlobRef_ReturnsBadRequest(t *testing.T) {
	svc, _, thumbs := newTestService(t)
	ctx := context.Background()

	victim, err := svc.Create(ctx, "alice", CreateInput{Thumbnail: strPtr(dataURL([]byte("alice-bytes")))})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	_, err = svc.Create(ctx, "mallory", CreateInput{Thumbnail: strPtr(victim.Thumbnail)})
	assertAPIError(t, err, model.ErrCodeBadRequest)

	own := mustCreate(t, svc, "mallory", "Mine")
	_, err = svc.Update(ctx, "mallory", own.ID, UpdateInput{Thumbnail: strPtr(victim.Thumbnail)})
	assertAPIError(t, err, model.ErrCodeBadRequest)

	if err := svc.PermanentDelete(ctx, "mallory", own.ID); err != nil {
		t.Fatalf("PermanentDelete error = %v", err)
	}
	if thumbs.Len() != 1 {
		t.Fatalf("stored objects = %d, want 1", thumbs.Len())
	}
	obj, err := svc.Thumbnail(ctx, "alice", victim.ID)
	if err != nil {
		t.Fatalf("Thumbnail error = %v", err)
	}
	if string(obj.Data) != "alice-bytes" {
		t.Errorf("Data = %q, want alice-bytes", obj.Data)
	}
}

func TestThumbnail_ForeignObjectKey_NeverServedOrRemoved(t *testing.T) {
	svc, repo, thumbs := newTestService(t)
	ctx := context.Background()

	victim, err := svc.Create(ctx, "alice", CreateInput{Thumbnail: strPtr(dataURL([]byte("alice-bytes")))})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	// 他人のオブジェクトを指す参照が既に保存されている場合
	stray := &model.Board{OwnerID: "mallory", Title: "Stray", Thumbnail: victim.Thumbnail}
	if _, err := repo.Create(ctx, stray); err != nil {
		t.Fatalf("repo.Create error = %v", err)
	}

	_, err = svc.Thumbnail(ctx, "mallory", stray.ID)
	assertAPIError(t, err, model.ErrCodeThumbnailNotFound)

	if _, err := svc.Update(ctx, "mallory", stray.ID, UpdateInput{Thumbnail: strPtr("")}); err != nil {
		t.Fatalf("Update error = %v", err)
	}
	if thumbs.Len() != 1 {
		t.Fatalf("stored objects = %d, want 1", thumbs.Len())
	}
	if _, err := svc.Thumbnail(ctx, "alice", victim.ID); err != nil {
		t.Errorf("victim thumbnail should remain readable, err = %v", err)
	}
}

func TestThumbnail_NonImageDataURL_ReturnsBadRequest(t *testing.T) {
	svc, _, thumbs := newTestService(t)

	for _, mime := range []string{"text/html", "image/svg+xml", "application/javascript"} {
		thumb := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString([]byte("<script>alert(1)</script>"))
		_, err := svc.Create(context.Background(), "alice", CreateInput{Thumbnail: &thumb})
		assertAPIError(t, err, model.ErrCodeBadRequest)
	}
	if thumbs.Len() != 0 {
		t.Errorf("stored objects = %d, want 0", thumbs.Len())
	}
}

// --- メトリクス ---

func TestMetrics_RecordsOperationResults(t *testing.T) {
	svc, _, _ := newTestService(t)
	metrics := &mockMetrics{}
	svc.SetMetrics(metrics)
	ctx := context.Background()

	b := mustCreate(t, svc, "alice", "Plan")
	svc.Get(ctx, "mallory", b.ID)
	svc.Get(ctx, "alice", "missing")

	want := []string{"create:success", "get:forbidden", "get:board_not_found"}
	if len(metrics.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", metrics.ops, want)
	}
	for i := range want {
		if metrics.ops[i] != want[i] {
			t.Errorf("ops[%d] = %q, want %q", i, metrics.ops[i], want[i])
		}
	}
}
