// Package review はレビューの閲覧、作成、所有者確認付きの編集と削除を提供する。
//
// 所有者確認はレビューのOwnerEmailと現在のIdentityのメールアドレスの完全一致で行う。
// 外部サービス側でも所有者を再検証する前提であり、ここでの確認は変更要求を送る前の門番にあたる。
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/foodreview/internal/confirm"
	"github.com/hitoshi/foodreview/internal/model"
)

// Reader はレビューの読み取りに必要な外部サービスのインターフェース。
type Reader interface {
	ListReviews(ctx context.Context) ([]model.Review, error)
	FeaturedReviews(ctx context.Context) ([]model.Review, error)
	GetReview(ctx context.Context, id string) (*model.Review, error)
	ReviewsByOwner(ctx context.Context, email string) ([]model.Review, error)
	SearchReviews(ctx context.Context, query string) ([]model.Review, error)
}

// Writer はレビューの変更に必要な外部サービスのインターフェース。
type Writer interface {
	CreateReview(ctx context.Context, req model.NewReviewRequest) error
	UpdateReview(ctx context.Context, id string, fields model.ReviewFields) error
	DeleteReview(ctx context.Context, id string) error
}

// API はReaderとWriterを合わせたインターフェース。reviewapi.Clientが実装する。
type API interface {
	Reader
	Writer
}

// Draft は編集画面に表示する編集可能フィールドのコピー。
// ID、所有者、作成日時は表示専用でありFieldsには含まれない。
type Draft struct {
	ID     string
	Fields model.ReviewFields
	Review *model.Review
}

// IsOwner はレビューの所有者が指定Identityかを判定する。
func IsOwner(r *model.Review, identity *model.Identity) bool {
	if r == nil || identity == nil {
		return false
	}
	return r.OwnerEmail == identity.Email
}

// Editor は所有者確認付きでレビューの編集と削除を行う。
type Editor struct {
	api       API
	validator *Validator
}

// NewEditor はEditorを生成する。
func NewEditor(api API, validator *Validator) *Editor {
	return &Editor{api: api, validator: validator}
}

// Authorize はレビューを取得し、所有者が現在のIdentityであることを確認する。
// 不一致の場合はNOT_OWNERを返す。
func (e *Editor) Authorize(ctx context.Context, identity *model.Identity, id string) (*model.Review, error) {
	if identity == nil {
		return nil, model.NewNoActiveSessionError()
	}
	r, err := e.api.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if !IsOwner(r, identity) {
		return nil, model.NewNotOwnerError()
	}
	return r, nil
}

// Load は編集画面用のDraftを返す。
func (e *Editor) Load(ctx context.Context, identity *model.Identity, id string) (*Draft, error) {
	r, err := e.Authorize(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	return &Draft{ID: id, Fields: r.Fields(), Review: r}, nil
}

// Submit は入力を検証し、所有者を再確認したうえで編集可能フィールド一式でレビューを置き換える。
// 検証エラーはネットワーク呼び出しの前に返す。
func (e *Editor) Submit(ctx context.Context, identity *model.Identity, id string, fields model.ReviewFields) error {
	clean, err := e.validator.Validate(ctx, fields)
	if err != nil {
		return err
	}
	if _, err := e.Authorize(ctx, identity, id); err != nil {
		return err
	}
	if err := e.api.UpdateReview(ctx, id, clean); err != nil {
		return fmt.Errorf("update review %s: %w", id, err)
	}
	return nil
}

// RequestDelete は所有者を確認し、削除を確認待ちにする。削除要求はまだ送らない。
func (e *Editor) RequestDelete(ctx context.Context, identity *model.Identity, id string, c *confirm.Confirmation) error {
	if _, err := e.Authorize(ctx, identity, id); err != nil {
		return err
	}
	c.Open(id)
	return nil
}

// ConfirmDelete は確認待ちのレビューを削除する。成否にかかわらず確認待ちはクリアされる。
func (e *Editor) ConfirmDelete(ctx context.Context, c *confirm.Confirmation) (string, error) {
	return c.Confirm(ctx, e.api.DeleteReview)
}

// Creator はレビューを新規作成する。
type Creator struct {
	api       Writer
	validator *Validator
}

// NewCreator はCreatorを生成する。
func NewCreator(api Writer, validator *Validator) *Creator {
	return &Creator{api: api, validator: validator}
}

// Create は入力を検証し、所有者情報を現在のIdentityから埋めてレビューを作成する。
func (c *Creator) Create(ctx context.Context, identity *model.Identity, fields model.ReviewFields) error {
	if identity == nil {
		return model.NewNoActiveSessionError()
	}
	clean, err := c.validator.Validate(ctx, fields)
	if err != nil {
		return err
	}
	req := model.NewReviewRequest{
		ReviewFields:     clean,
		OwnerDisplayName: identity.DisplayName,
		OwnerEmail:       identity.Email,
		OwnerAvatarURL:   identity.AvatarURL,
	}
	if err := c.api.CreateReview(ctx, req); err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

// Browser はレビューの一覧と詳細を取得する。
type Browser struct {
	api Reader
}

// NewBrowser はBrowserを生成する。
func NewBrowser(api Reader) *Browser {
	return &Browser{api: api}
}

// All は全レビューを返す。
func (b *Browser) All(ctx context.Context) ([]model.Review, error) {
	return b.api.ListReviews(ctx)
}

// Featured は注目レビューを返す。
func (b *Browser) Featured(ctx context.Context) ([]model.Review, error) {
	return b.api.FeaturedReviews(ctx)
}

// Mine は指定Identityが所有するレビューを返す。
func (b *Browser) Mine(ctx context.Context, identity *model.Identity) ([]model.Review, error) {
	if identity == nil {
		return nil, model.NewNoActiveSessionError()
	}
	return b.api.ReviewsByOwner(ctx, identity.Email)
}

// Search はクエリでレビューを検索する。空白のみのクエリは全件一覧として扱う。
func (b *Browser) Search(ctx context.Context, query string) ([]model.Review, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return b.api.ListReviews(ctx)
	}
	return b.api.SearchReviews(ctx, q)
}

// Detail はIDでレビューを返す。該当なしはNOT_FOUND。
func (b *Browser) Detail(ctx context.Context, id string) (*model.Review, error) {
	return b.api.GetReview(ctx, id)
}
