// Package web はサーバーサイドレンダリングするページのテンプレートを提供する。
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページ名
const (
	PageLogin      = "login"
	PageDashboard  = "dashboard"
	PageTrash      = "trash"
	PageWhiteboard = "whiteboard"
)

// LoginPage はログインページの表示データ。
type LoginPage struct {
	APIKey             string
	AuthDomain         string
	ProjectID          string
	GoogleLoginEnabled bool
}

// User はヘッダーに表示するログインユーザー。
type User struct {
	Name  string
	Email string
}

// BoardCard は一覧に表示するボード1件分のデータ。
type BoardCard struct {
	ID        string
	Title     string
	Thumbnail template.URL
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// BoardListPage はダッシュボードとゴミ箱の表示データ。
type BoardListPage struct {
	User   User
	Boards []BoardCard
	Query  string
}

// WhiteboardPage はエディタページの表示データ。BoardIDが空なら新規ボード。
type WhiteboardPage struct {
	User    User
	BoardID string
	Title   string
	Version int64
}

// ThumbnailSrc はサムネイル参照をimg要素のsrcに使えるURLに変換する。
// Blobストア上の画像は認可付きのAPI経由で配信する。
// 画像のdata URLとhttp(s)のURL以外は表示しない。
func ThumbnailSrc(boardID, thumbnail string) template.URL {
	switch {
	case strings.HasPrefix(thumbnail, "blob:"):
		return template.URL("/api/boards/" + boardID + "/thumbnail")
	case strings.HasPrefix(thumbnail, "data:image/"),
		strings.HasPrefix(thumbnail, "https://"),
		strings.HasPrefix(thumbnail, "http://"):
		return template.URL(thumbnail)
	default:
		return ""
	}
}

// Renderer は埋め込みテンプレートからページをレンダリングする。
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		return t.Format("2006-01-02 15:04")
	},
}

// NewRenderer はすべてのページテンプレートを解析してRendererを生成する。
// 各ページはlayout.htmlと組み合わせて解析する。
func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, name := range []string{PageLogin, PageDashboard, PageTrash, PageWhiteboard} {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render は指定ページをwに書き込む。
// 途中までの出力を防ぐため、一度バッファにレンダリングしてから書き込む。
func (r *Renderer) Render(w io.Writer, name string, data any) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page: %s", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
