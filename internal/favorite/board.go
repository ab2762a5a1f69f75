package favorite

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/foodreview/internal/model"
)

// maxConcurrentProbes は1画面あたりの同時問い合わせ数の上限。
const maxConcurrentProbes = 8

// Board は一覧画面に表示中のカードのToggleをレビューIDごとに保持する。
// 画面の破棄（Close）後に届いた問い合わせ結果はどのカードにも反映しない。
type Board struct {
	mu      sync.Mutex
	toggles map[string]*Toggle
	order   []string
	closed  bool
	logger  *slog.Logger
}

// NewBoard は表示するレビューごとにToggleを生成する。同じIDのレビューは1枚にまとめる。
func NewBoard(reviews []model.Review, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Board{
		toggles: make(map[string]*Toggle, len(reviews)),
		logger:  logger,
	}
	for _, r := range reviews {
		if _, ok := b.toggles[r.ID]; ok {
			continue
		}
		b.toggles[r.ID] = NewToggle(r)
		b.order = append(b.order, r.ID)
	}
	return b
}

// Toggle はレビューIDに対応するToggleを返す。該当なしの場合はnil。
func (b *Board) Toggle(reviewID string) *Toggle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.toggles[reviewID]
}

// Len は保持しているカード数を返す。
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// ProbeAll はカードごとに独立した問い合わせを並行に実行する。
// 各問い合わせは自分のカードの状態だけを書き換え、完了順は問わない。
// ctxが終了した時点で待機をやめ、未完了のカードは問い合わせ中のまま返る。
func (b *Board) ProbeAll(ctx context.Context, api Prober, email string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	toggles := make([]*Toggle, 0, len(b.order))
	for _, id := range b.order {
		toggles = append(toggles, b.toggles[id])
	}
	b.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(maxConcurrentProbes)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, t := range toggles {
			g.Go(func() error {
				if err := t.Probe(ctx, api, email); err != nil {
					b.logger.Warn("favorite probe failed",
						slog.String("review_id", t.ReviewID()),
						slog.String("error", err.Error()),
					)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Close は画面を破棄する。以降に届いた結果は反映しない。複数回呼んでも安全。
func (b *Board) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	toggles := make([]*Toggle, 0, len(b.toggles))
	for _, t := range b.toggles {
		toggles = append(toggles, t)
	}
	b.mu.Unlock()

	for _, t := range toggles {
		t.detach()
	}
}
