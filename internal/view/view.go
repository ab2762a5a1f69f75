// Package view はサーバーサイドでレンダリングするHTML画面を提供する。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/foodreview/internal/client"
	"github.com/hitoshi/foodreview/internal/model"
	"github.com/hitoshi/foodreview/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// 画面名
const (
	PageHome        = "home"
	PageReviews     = "reviews"
	PageDetail      = "detail"
	PageNotFound    = "not_found"
	PageLogin       = "login"
	PageRegister    = "register"
	PageReviewForm  = "review_form"
	PageMyReviews   = "my_reviews"
	PageMyFavorites = "my_favorites"
	PageProfile     = "profile"
	PageError       = "error"
)

var pages = []string{
	PageHome, PageReviews, PageDetail, PageNotFound, PageLogin, PageRegister,
	PageReviewForm, PageMyReviews, PageMyFavorites, PageProfile, PageError,
}

// Page は全画面に共通のレンダリングデータ。
type Page struct {
	Title         string
	Session       session.Session
	CSRFToken     string
	Flash         *client.Flash
	Error         *model.APIError
	SocialEnabled bool
	// Path は現在のパス。お気に入り追加後の戻り先に使う。
	Path string
	Data any
}

// Card はレビューカード1枚の表示内容。
type Card struct {
	Review model.Review
	// ShowFavorite はお気に入りボタンを表示するか。問い合わせ中は表示しない。
	ShowFavorite bool
	Favorited    bool
}

// ListData はカード一覧画面のデータ。
type ListData struct {
	Cards []Card
	Query string
}

// cardContext はカードのテンプレートに渡す画面とカードの組。
type cardContext struct {
	Page Page
	Card Card
}

// Renderer は埋め込みテンプレートから画面を描画する。
type Renderer struct {
	templates map[string]*template.Template
	logger    *slog.Logger
}

var funcs = template.FuncMap{
	"cardOf": func(p Page, c Card) cardContext {
		return cardContext{Page: p, Card: c}
	},
	"stars": func(rating int) string {
		if rating < 0 {
			rating = 0
		}
		if rating > model.MaxRating {
			rating = model.MaxRating
		}
		return strings.Repeat("★", rating) + strings.Repeat("☆", model.MaxRating-rating)
	},
	"ratings": func() []int {
		out := make([]int, 0, model.MaxRating)
		for i := model.MinRating; i <= model.MaxRating; i++ {
			out = append(out, i)
		}
		return out
	},
}

// NewRenderer は全画面のテンプレートを解析する。
func NewRenderer(logger *slog.Logger) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{
		templates: make(map[string]*template.Template, len(pages)),
		logger:    logger,
	}
	for _, name := range pages {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html",
			"templates/partials.html",
			"templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = t
	}
	return r, nil
}

// Render は画面を描画してステータスコードとともに書き込む。
// 描画に失敗した場合は500を返す。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, page Page) {
	t, ok := r.templates[name]
	if !ok {
		r.logger.Error("unknown template", slog.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", page); err != nil {
		r.logger.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// FormData はログイン・登録・プロフィール画面の入力値。パスワードは保持しない。
type FormData struct {
	DisplayName string
	Email       string
	AvatarURL   string
}

// ReviewFormData はレビューの作成・更新画面のデータ。
type ReviewFormData struct {
	Heading string
	Action  string
	Fields  model.ReviewFields
	// Review は更新時の元レビュー。所有者と作成日時を表示専用で示す。
	Review *model.Review
}

// MyReviewsData は自分のレビュー一覧画面のデータ。
type MyReviewsData struct {
	Reviews []model.Review
	// Pending は削除確認中のレビュー。
	Pending *model.Review
}

// MyFavoritesData はお気に入り管理画面のデータ。
type MyFavoritesData struct {
	Links []model.FavoriteLink
	// Pending は削除確認中のお気に入り。
	Pending *model.FavoriteLink
}
