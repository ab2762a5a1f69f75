// Package confirm は破壊的操作の確認ステップを表す。
package confirm

import (
	"context"
	"errors"
	"sync"
)

// ErrNothingPending は確認待ちの対象がない状態でConfirmが呼ばれた場合に返される。
var ErrNothingPending = errors.New("no pending confirmation")

// Confirmation は削除確認ダイアログの状態 {PendingID}。
// 確認待ちのIDはキャンセル、確認後の成功、確認後の失敗のいずれでもクリアする。
type Confirmation struct {
	mu        sync.Mutex
	pendingID string
}

// Open は指定IDを確認待ちにする。既に確認待ちのIDがあれば置き換える。
func (c *Confirmation) Open(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingID = id
}

// PendingID は確認待ちのIDを返す。確認待ちがない場合はokがfalse。
func (c *Confirmation) PendingID() (id string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingID, c.pendingID != ""
}

// Cancel は確認待ちを破棄する。削除処理は呼ばない。
func (c *Confirmation) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingID = ""
}

// Confirm は確認待ちのIDでfnを実行し、結果にかかわらず確認待ちをクリアする。
// 実行したIDとfnのエラーを返す。
func (c *Confirmation) Confirm(ctx context.Context, fn func(ctx context.Context, id string) error) (string, error) {
	c.mu.Lock()
	id := c.pendingID
	c.pendingID = ""
	c.mu.Unlock()

	if id == "" {
		return "", ErrNothingPending
	}
	return id, fn(ctx, id)
}
