// Package favorite はレビューカードごとのお気に入り状態と、お気に入り管理画面を提供する。
//
// カード上の操作は追加のみで、削除は管理画面（Manager）からだけ行う。
package favorite

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hitoshi/foodreview/internal/model"
)

// Phase はカードのお気に入り状態。
type Phase int

const (
	// Probing は問い合わせ中。操作ボタンは表示しない。
	Probing Phase = iota
	// Unfavorited は未登録。
	Unfavorited
	// Adding は追加要求の結果待ち。成功で確定し、失敗で取り消す仮の状態。
	Adding
	// Favorited は登録済み。
	Favorited
)

func (p Phase) String() string {
	switch p {
	case Probing:
		return "probing"
	case Unfavorited:
		return "unfavorited"
	case Adding:
		return "adding"
	case Favorited:
		return "favorited"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Outcome はAddの結果。
type Outcome int

const (
	// Added は新たにお気に入りへ追加したことを表す。
	Added Outcome = iota + 1
	// AlreadyFavorited は登録済みのため何もしなかったことを表す。
	// 削除はお気に入り管理画面から行うよう案内する。
	AlreadyFavorited
)

// ManagePath はお気に入り管理画面のパス。
const ManagePath = "/my-favorites"

// ErrNotReady は問い合わせ中または追加処理中にAddが呼ばれた場合に返される。
var ErrNotReady = errors.New("favorite state is not settled yet")

// Prober はお気に入り登録の有無を問い合わせる。
type Prober interface {
	IsFavorite(ctx context.Context, email, reviewID string) (bool, error)
}

// Adder はお気に入りを作成する。
type Adder interface {
	AddFavorite(ctx context.Context, link model.FavoriteLink) error
}

// Recorder はお気に入り追加の結果を記録する。
type Recorder interface {
	RecordFavoriteAdd(outcome string)
}

// Toggle は1枚のレビューカードのお気に入り状態。
// 書き込むのはこのカードの問い合わせと追加操作だけで、破棄後の結果は反映しない。
type Toggle struct {
	mu       sync.Mutex
	review   model.Review
	phase    Phase
	detached bool
}

// NewToggle は問い合わせ前（Probing）のToggleを生成する。
func NewToggle(review model.Review) *Toggle {
	return &Toggle{review: review, phase: Probing}
}

// ReviewID はカードのレビューIDを返す。
func (t *Toggle) ReviewID() string {
	return t.review.ID
}

// Phase は現在の状態を返す。
func (t *Toggle) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// ShowControl は操作ボタンを表示するかを返す。問い合わせ中は表示しない。
func (t *Toggle) ShowControl() bool {
	return t.Phase() != Probing
}

// IsFavorite は登録済みかを返す。
func (t *Toggle) IsFavorite() bool {
	return t.Phase() == Favorited
}

// Probe は登録の有無を問い合わせて状態を確定する。
// 問い合わせに失敗した場合は未登録として扱い、操作ボタンを表示する。
func (t *Toggle) Probe(ctx context.Context, api Prober, email string) error {
	ok, err := api.IsFavorite(ctx, email, t.review.ID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detached || t.phase != Probing {
		return err
	}
	if err != nil {
		t.phase = Unfavorited
		return err
	}
	if ok {
		t.phase = Favorited
	} else {
		t.phase = Unfavorited
	}
	return nil
}

// Add はお気に入りに追加する。
// 登録済みの場合は通信せずAlreadyFavoritedを返す。
// 未登録の場合はレビューのスナップショットを送信し、成功した時点で一度だけ登録済みに切り替えてonAddedを呼ぶ。
// 失敗した場合は未登録に戻してエラーを返す。
func (t *Toggle) Add(ctx context.Context, api Adder, email string, onAdded func()) (Outcome, error) {
	t.mu.Lock()
	switch t.phase {
	case Favorited:
		t.mu.Unlock()
		return AlreadyFavorited, nil
	case Unfavorited:
		t.phase = Adding
	default:
		t.mu.Unlock()
		return 0, ErrNotReady
	}
	link := model.NewFavoriteLink(email, &t.review)
	t.mu.Unlock()

	err := api.AddFavorite(ctx, link)

	t.mu.Lock()
	if t.detached {
		t.mu.Unlock()
		if err != nil {
			return 0, err
		}
		return Added, nil
	}
	if err != nil {
		t.phase = Unfavorited
		t.mu.Unlock()
		return 0, err
	}
	t.phase = Favorited
	t.mu.Unlock()

	if onAdded != nil {
		onAdded()
	}
	return Added, nil
}

// detach は以降の結果を反映しないようにする。
func (t *Toggle) detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detached = true
}

// AddOutcomeLabel はメトリクス用の結果ラベルを返す。
func AddOutcomeLabel(outcome Outcome, err error) string {
	switch {
	case err != nil:
		return "failed"
	case outcome == AlreadyFavorited:
		return "already_favorited"
	default:
		return "added"
	}
}
