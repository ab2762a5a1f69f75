// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/foodreview/internal/client"
	"github.com/hitoshi/foodreview/internal/middleware"
	"github.com/hitoshi/foodreview/internal/model"
	"github.com/hitoshi/foodreview/internal/session"
	"github.com/hitoshi/foodreview/internal/view"
)

// Renderer は画面を描画する。view.Rendererが実装する。
type Renderer interface {
	Render(w http.ResponseWriter, status int, name string, page view.Page)
}

// pages は各ハンドラーが共有する画面描画の補助。
type pages struct {
	renderer      Renderer
	socialEnabled bool
	logger        *slog.Logger
}

// page はリクエストのクライアント状態から画面の共通データを組み立てる。
// 保留中の通知はここで取り出されて消える。
func (p *pages) page(r *http.Request, title string, data any) view.Page {
	pg := view.Page{
		Title:         title,
		CSRFToken:     middleware.CSRFTokenFromContext(r.Context()),
		SocialEnabled: p.socialEnabled,
		Path:          r.URL.RequestURI(),
		Data:          data,
	}
	if entry, err := middleware.ClientFromContext(r.Context()); err == nil {
		pg.Session = entry.Session()
		pg.Flash = entry.TakeFlash()
	}
	return pg
}

func (p *pages) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	p.renderer.Render(w, status, name, p.page(r, title, data))
}

// renderError はエラーを画面上部に表示して描画する。ステータスコードはエラーのカテゴリから決める。
func (p *pages) renderError(w http.ResponseWriter, r *http.Request, err error, name, title string, data any) {
	pg := p.page(r, title, data)
	pg.Error = asAPIError(err)
	status := middleware.StatusForError(err)
	if status >= http.StatusInternalServerError {
		p.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	p.renderer.Render(w, status, name, pg)
}

// notFound は未検出画面を返す。
func (p *pages) notFound(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, http.StatusNotFound, view.PageNotFound, "Not found", nil)
}

// NotFound は未定義パスのハンドラー。
func (p *pages) NotFound(w http.ResponseWriter, r *http.Request) {
	p.notFound(w, r)
}

// flashAndRedirect は通知を設定して別画面へリダイレクトする。
func flashAndRedirect(w http.ResponseWriter, r *http.Request, kind, message, link, to string) {
	if entry, err := middleware.ClientFromContext(r.Context()); err == nil {
		entry.SetFlash(kind, message, link)
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// flashErrorAndRedirect はエラー内容を通知に設定してリダイレクトする。
func flashErrorAndRedirect(w http.ResponseWriter, r *http.Request, err error, to string) {
	apiErr := asAPIError(err)
	flashAndRedirect(w, r, client.FlashError, apiErr.Message+". "+apiErr.Action, "", to)
}

// asAPIError はエラーチェーン中のAPIErrorを返す。含まない場合は汎用のシステムエラーに置き換える。
func asAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "Something went wrong",
		Category: model.CategorySystem,
		Action:   "Please wait a moment and try again.",
	}
}

// currentEntry はリクエストのクライアント状態を返す。
func currentEntry(r *http.Request) (*client.Entry, bool) {
	entry, err := middleware.ClientFromContext(r.Context())
	return entry, err == nil
}

// currentSession はリクエストのセッションを返す。クライアント未解決の場合は未認証。
func currentSession(r *http.Request) session.Session {
	if entry, ok := currentEntry(r); ok {
		return entry.Session()
	}
	return session.Session{}
}

// safeRedirectPath はフォームで受け取った戻り先がサイト内のパスであれば返し、そうでなければfallbackを返す。
func safeRedirectPath(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}
