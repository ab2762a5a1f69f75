package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/foodreview/internal/client"
	"github.com/hitoshi/foodreview/internal/confirm"
	"github.com/hitoshi/foodreview/internal/favorite"
	"github.com/hitoshi/foodreview/internal/model"
	"github.com/hitoshi/foodreview/internal/view"
)

// FavoriteAPI はお気に入り操作に必要な外部サービスのインターフェース。
type FavoriteAPI interface {
	favorite.Prober
	favorite.Adder
	GetReview(ctx context.Context, id string) (*model.Review, error)
}

// FavoriteHandler はお気に入りの追加と管理画面のHTTPハンドラー。
type FavoriteHandler struct {
	pages
	api      FavoriteAPI
	recorder favorite.Recorder
}

// NewFavoriteHandler はFavoriteHandlerを生成する。recorderはnilでもよい。
func NewFavoriteHandler(renderer Renderer, api FavoriteAPI, recorder favorite.Recorder, socialEnabled bool, logger *slog.Logger) *FavoriteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FavoriteHandler{
		pages:    pages{renderer: renderer, socialEnabled: socialEnabled, logger: logger},
		api:      api,
		recorder: recorder,
	}
}

// Add はレビューをお気に入りに追加し、元の画面へ戻す。
// 表示中の一覧で登録済みと判定されているカードは通信せず、管理画面への案内だけを通知する。
// POST /favorites
func (h *FavoriteHandler) Add(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	email := entry.Session().Email()
	back := safeRedirectPath(r.PostFormValue("next"), "/")
	reviewID := r.PostFormValue("review_id")

	toggle, err := h.toggleFor(r.Context(), entry, reviewID, email)
	if err != nil {
		if model.IsCode(err, model.ErrCodeNotFound) {
			h.notFound(w, r)
			return
		}
		flashErrorAndRedirect(w, r, err, back)
		return
	}

	outcome, err := toggle.Add(r.Context(), h.api, email, func() {
		h.logger.Info("favorite added",
			slog.String("client_id", entry.ID()),
			slog.String("review_id", reviewID),
		)
	})
	if h.recorder != nil {
		h.recorder.RecordFavoriteAdd(favorite.AddOutcomeLabel(outcome, err))
	}

	switch {
	case errors.Is(err, favorite.ErrNotReady):
		flashAndRedirect(w, r, client.FlashInfo, "Still checking your favorites, try again in a moment.", "", back)
	case err != nil:
		flashErrorAndRedirect(w, r, err, back)
	case outcome == favorite.AlreadyFavorited:
		flashAndRedirect(w, r, client.FlashInfo, "Already in your favorites. Remove it from My Favorites.", favorite.ManagePath, back)
	default:
		flashAndRedirect(w, r, client.FlashSuccess, "Added to your favorites.", favorite.ManagePath, back)
	}
}

// toggleFor は表示中の一覧からカードのToggleを返す。
// 一覧にない場合はレビューを取得して単独のToggleを作り、登録の有無を問い合わせる。
func (h *FavoriteHandler) toggleFor(ctx context.Context, entry *client.Entry, reviewID, email string) (*favorite.Toggle, error) {
	if board := entry.Board(); board != nil {
		if t := board.Toggle(reviewID); t != nil && t.ShowControl() {
			return t, nil
		}
	}

	rv, err := h.api.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	t := favorite.NewToggle(*rv)
	if err := t.Probe(ctx, h.api, email); err != nil {
		h.logger.Warn("favorite probe failed",
			slog.String("review_id", reviewID),
			slog.String("error", err.Error()),
		)
	}
	return t, nil
}

// List はお気に入り一覧を取得して表示する。
// GET /my-favorites
func (h *FavoriteHandler) List(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	email := entry.Session().Email()

	links, err := entry.Favorites().Load(r.Context(), email)
	if err != nil {
		h.renderError(w, r, err, view.PageMyFavorites, "My favorites", view.MyFavoritesData{})
		return
	}
	h.renderList(w, r, entry, links)
}

// RequestRemove は削除確認ダイアログを開く。
// POST /my-favorites/{id}/remove
func (h *FavoriteHandler) RequestRemove(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	email := entry.Session().Email()
	manager := entry.Favorites()

	if err := manager.RequestRemove(email, chi.URLParam(r, "id")); err != nil {
		flashErrorAndRedirect(w, r, err, favorite.ManagePath)
		return
	}
	links, _ := manager.Links(email)
	h.renderList(w, r, entry, links)
}

// ConfirmRemove は確認中のお気に入りを削除する。
// 成功した場合は再取得せずに保持している一覧から取り除いて表示する。
// POST /my-favorites/remove/confirm
func (h *FavoriteHandler) ConfirmRemove(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	email := entry.Session().Email()
	manager := entry.Favorites()

	_, err := manager.ConfirmRemove(r.Context())
	if errors.Is(err, confirm.ErrNothingPending) {
		http.Redirect(w, r, favorite.ManagePath, http.StatusSeeOther)
		return
	}

	links, loaded := manager.Links(email)
	if !loaded {
		http.Redirect(w, r, favorite.ManagePath, http.StatusSeeOther)
		return
	}
	if err != nil {
		h.renderError(w, r, err, view.PageMyFavorites, "My favorites", view.MyFavoritesData{Links: links})
		return
	}
	entry.SetFlash(client.FlashSuccess, "Removed from your favorites.", "")
	h.renderList(w, r, entry, links)
}

// CancelRemove は削除確認ダイアログを閉じる。削除要求は送らない。
// POST /my-favorites/remove/cancel
func (h *FavoriteHandler) CancelRemove(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	manager := entry.Favorites()
	manager.CancelRemove()

	links, loaded := manager.Links(entry.Session().Email())
	if !loaded {
		http.Redirect(w, r, favorite.ManagePath, http.StatusSeeOther)
		return
	}
	h.renderList(w, r, entry, links)
}

func (h *FavoriteHandler) renderList(w http.ResponseWriter, r *http.Request, entry *client.Entry, links []model.FavoriteLink) {
	data := view.MyFavoritesData{Links: links}
	if id, ok := entry.Favorites().PendingID(); ok {
		for i := range links {
			if links[i].ID == id {
				data.Pending = &links[i]
				break
			}
		}
	}
	h.render(w, r, http.StatusOK, view.PageMyFavorites, "My favorites", data)
}
