package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/foodreview/internal/client"
	"github.com/hitoshi/foodreview/internal/confirm"
	"github.com/hitoshi/foodreview/internal/favorite"
	"github.com/hitoshi/foodreview/internal/model"
	"github.com/hitoshi/foodreview/internal/review"
	"github.com/hitoshi/foodreview/internal/view"
)

// defaultProbeTimeout はカード一覧のお気に入り問い合わせを待つ最大時間。
const defaultProbeTimeout = 3 * time.Second

// ReviewHandlerConfig はレビューハンドラーの設定。
type ReviewHandlerConfig struct {
	// ProbeTimeout はお気に入り問い合わせの完了を待つ最大時間。超過したカードは問い合わせ中として表示する。
	ProbeTimeout  time.Duration
	SocialEnabled bool
}

// ReviewHandler はレビューの閲覧、作成、更新、削除のHTTPハンドラー。
type ReviewHandler struct {
	pages
	browser *review.Browser
	editor  *review.Editor
	creator *review.Creator
	prober  favorite.Prober
	config  ReviewHandlerConfig
}

// NewReviewHandler はReviewHandlerを生成する。
func NewReviewHandler(renderer Renderer, api review.API, prober favorite.Prober, validator *review.Validator, config ReviewHandlerConfig, logger *slog.Logger) *ReviewHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaultProbeTimeout
	}
	return &ReviewHandler{
		pages:   pages{renderer: renderer, socialEnabled: config.SocialEnabled, logger: logger},
		browser: review.NewBrowser(api),
		editor:  review.NewEditor(api, validator),
		creator: review.NewCreator(api, validator),
		prober:  prober,
		config:  config,
	}
}

// Home は注目レビューを表示する。
// GET /
func (h *ReviewHandler) Home(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.browser.Featured(r.Context())
	if err != nil {
		h.renderError(w, r, err, view.PageHome, "Home", view.ListData{})
		return
	}
	h.render(w, r, http.StatusOK, view.PageHome, "Home", view.ListData{Cards: h.cards(r, reviews)})
}

// AllReviews は全レビューを表示する。qが指定された場合は検索結果を表示する。
// GET /all-reviews?q=
func (h *ReviewHandler) AllReviews(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	reviews, err := h.browser.Search(r.Context(), query)
	if err != nil {
		h.renderError(w, r, err, view.PageReviews, "All reviews", view.ListData{Query: query})
		return
	}
	h.render(w, r, http.StatusOK, view.PageReviews, "All reviews", view.ListData{
		Cards: h.cards(r, reviews),
		Query: query,
	})
}

// Detail はレビューの詳細を表示する。該当なしの場合は未検出画面を返す。
// GET /reviews/{id}
func (h *ReviewHandler) Detail(w http.ResponseWriter, r *http.Request) {
	rv, err := h.browser.Detail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if model.IsCode(err, model.ErrCodeNotFound) {
			h.notFound(w, r)
			return
		}
		h.renderError(w, r, err, view.PageError, "Error", nil)
		return
	}
	cards := h.cards(r, []model.Review{*rv})
	h.render(w, r, http.StatusOK, view.PageDetail, rv.FoodName, cards[0])
}

// cards は表示するレビューごとにお気に入り状態を問い合わせ、カードを組み立てる。
// 一覧はクライアントの表示中の一覧として登録し、前の一覧は破棄する。
func (h *ReviewHandler) cards(r *http.Request, reviews []model.Review) []view.Card {
	board := favorite.NewBoard(reviews, h.logger)

	entry, ok := currentEntry(r)
	if ok {
		entry.ReplaceBoard(board)
		if email := entry.Session().Email(); email != "" {
			ctx, cancel := context.WithTimeout(r.Context(), h.config.ProbeTimeout)
			board.ProbeAll(ctx, h.prober, email)
			cancel()
		}
	}

	cards := make([]view.Card, 0, len(reviews))
	seen := make(map[string]bool, len(reviews))
	for _, rv := range reviews {
		if seen[rv.ID] {
			continue
		}
		seen[rv.ID] = true
		t := board.Toggle(rv.ID)
		cards = append(cards, view.Card{
			Review:       rv,
			ShowFavorite: t.ShowControl(),
			Favorited:    t.IsFavorite(),
		})
	}
	return cards
}

// AddForm はレビュー作成画面を表示する。
// GET /add-review
func (h *ReviewHandler) AddForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, view.PageReviewForm, "Add review", addFormData(model.ReviewFields{Rating: model.MaxRating}))
}

// Add はレビューを作成する。
// POST /add-review
func (h *ReviewHandler) Add(w http.ResponseWriter, r *http.Request) {
	fields := parseReviewFields(r)
	if err := h.creator.Create(r.Context(), currentSession(r).Identity, fields); err != nil {
		if model.IsCode(err, model.ErrCodeNoActiveSession) {
			flashErrorAndRedirect(w, r, err, "/login")
			return
		}
		h.renderError(w, r, err, view.PageReviewForm, "Add review", addFormData(fields))
		return
	}
	flashAndRedirect(w, r, client.FlashSuccess, "Review added.", "", "/my-reviews")
}

// MyReviews は自分のレビュー一覧を表示する。削除確認中のレビューがあれば確認ダイアログを表示する。
// GET /my-reviews
func (h *ReviewHandler) MyReviews(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	reviews, err := h.browser.Mine(r.Context(), entry.Session().Identity)
	if err != nil {
		h.renderError(w, r, err, view.PageMyReviews, "My reviews", view.MyReviewsData{})
		return
	}

	data := view.MyReviewsData{Reviews: reviews}
	if id, ok := entry.ReviewDeletion().PendingID(); ok {
		for i := range reviews {
			if reviews[i].ID == id {
				data.Pending = &reviews[i]
				break
			}
		}
	}
	h.render(w, r, http.StatusOK, view.PageMyReviews, "My reviews", data)
}

// UpdateForm は所有者を確認してレビュー更新画面を表示する。
// 所有者でない場合は変更要求を送らずに自分のレビュー一覧へ戻す。
// GET /update-review/{id}
func (h *ReviewHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	draft, err := h.editor.Load(r.Context(), currentSession(r).Identity, id)
	if err != nil {
		h.handleEditError(w, r, err, nil)
		return
	}
	h.render(w, r, http.StatusOK, view.PageReviewForm, "Update review", updateFormData(id, draft.Fields, draft.Review))
}

// Update はレビューを更新する。入力検証と所有者確認を通過した場合だけ更新要求を送る。
// POST /update-review/{id}
func (h *ReviewHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fields := parseReviewFields(r)

	if err := h.editor.Submit(r.Context(), currentSession(r).Identity, id, fields); err != nil {
		data := updateFormData(id, fields, nil)
		h.handleEditError(w, r, err, &data)
		return
	}
	flashAndRedirect(w, r, client.FlashSuccess, "Review updated.", "", "/my-reviews")
}

// handleEditError は更新・削除のエラーを画面遷移に対応づける。
// 所有者不一致は一覧へのリダイレクト、未検出は未検出画面、それ以外はフォームの再表示とする。
func (h *ReviewHandler) handleEditError(w http.ResponseWriter, r *http.Request, err error, form *view.ReviewFormData) {
	switch {
	case model.IsCode(err, model.ErrCodeNotOwner):
		flashErrorAndRedirect(w, r, err, "/my-reviews")
	case model.IsCode(err, model.ErrCodeNoActiveSession):
		flashErrorAndRedirect(w, r, err, "/login")
	case model.IsCode(err, model.ErrCodeNotFound):
		h.notFound(w, r)
	case form != nil:
		h.renderError(w, r, err, view.PageReviewForm, "Update review", *form)
	default:
		h.renderError(w, r, err, view.PageError, "Error", nil)
	}
}

// RequestDelete は所有者を確認し、削除確認ダイアログを開く。
// POST /my-reviews/{id}/delete
func (h *ReviewHandler) RequestDelete(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.editor.RequestDelete(r.Context(), entry.Session().Identity, id, entry.ReviewDeletion()); err != nil {
		flashErrorAndRedirect(w, r, err, "/my-reviews")
		return
	}
	http.Redirect(w, r, "/my-reviews", http.StatusSeeOther)
}

// ConfirmDelete は確認中のレビューを削除する。成否にかかわらず確認ダイアログは閉じる。
// POST /my-reviews/delete/confirm
func (h *ReviewHandler) ConfirmDelete(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if _, err := h.editor.ConfirmDelete(r.Context(), entry.ReviewDeletion()); err != nil {
		if errors.Is(err, confirm.ErrNothingPending) {
			http.Redirect(w, r, "/my-reviews", http.StatusSeeOther)
			return
		}
		flashErrorAndRedirect(w, r, err, "/my-reviews")
		return
	}
	flashAndRedirect(w, r, client.FlashSuccess, "Review deleted.", "", "/my-reviews")
}

// CancelDelete は削除確認ダイアログを閉じる。削除要求は送らない。
// POST /my-reviews/delete/cancel
func (h *ReviewHandler) CancelDelete(w http.ResponseWriter, r *http.Request) {
	if entry, ok := currentEntry(r); ok {
		entry.ReviewDeletion().Cancel()
	}
	http.Redirect(w, r, "/my-reviews", http.StatusSeeOther)
}

// parseReviewFields はフォームからレビューの編集可能フィールドを読み取る。
// 数値として解釈できない評価は0とし、検証で範囲外として扱う。
func parseReviewFields(r *http.Request) model.ReviewFields {
	rating, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("rating")))
	if err != nil {
		rating = 0
	}
	return model.ReviewFields{
		FoodName:       r.PostFormValue("foodName"),
		FoodImage:      strings.TrimSpace(r.PostFormValue("foodImage")),
		RestaurantName: r.PostFormValue("restaurantName"),
		Location:       r.PostFormValue("location"),
		Rating:         rating,
		ReviewText:     r.PostFormValue("reviewText"),
	}
}

func addFormData(fields model.ReviewFields) view.ReviewFormData {
	return view.ReviewFormData{Heading: "Add a review", Action: "/add-review", Fields: fields}
}

func updateFormData(id string, fields model.ReviewFields, original *model.Review) view.ReviewFormData {
	return view.ReviewFormData{
		Heading: "Update review",
		Action:  "/update-review/" + id,
		Fields:  fields,
		Review:  original,
	}
}
