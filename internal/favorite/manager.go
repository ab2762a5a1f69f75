package favorite

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/foodreview/internal/confirm"
	"github.com/hitoshi/foodreview/internal/model"
)

// ManagerAPI はお気に入り管理画面が使う外部サービスのインターフェース。
type ManagerAPI interface {
	Favorites(ctx context.Context, email string) ([]model.FavoriteLink, error)
	RemoveFavorite(ctx context.Context, id string) error
}

// Manager はお気に入り管理画面の一覧と削除確認を保持する。
// 削除に成功した項目は再取得せずに一覧から取り除く。
type Manager struct {
	api     ManagerAPI
	confirm confirm.Confirmation

	mu     sync.Mutex
	email  string
	links  []model.FavoriteLink
	loaded bool
}

// NewManager はManagerを生成する。
func NewManager(api ManagerAPI) *Manager {
	return &Manager{api: api}
}

// Load は指定メールアドレスのお気に入り一覧を取得して保持する。
// 取得に失敗した場合は保持している一覧を変更しない。
func (m *Manager) Load(ctx context.Context, email string) ([]model.FavoriteLink, error) {
	links, err := m.api.Favorites(ctx, email)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.email = email
	m.links = append([]model.FavoriteLink(nil), links...)
	m.loaded = true
	return m.snapshotLocked(), nil
}

// Links は保持している一覧を返す。別のメールアドレスで読み込んだ一覧は返さない。
func (m *Manager) Links(email string) ([]model.FavoriteLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded || m.email != email {
		return nil, false
	}
	return m.snapshotLocked(), true
}

// RequestRemove は一覧中の項目の削除を確認待ちにする。
func (m *Manager) RequestRemove(email, id string) error {
	m.mu.Lock()
	found := m.loaded && m.email == email && m.indexLocked(id) >= 0
	m.mu.Unlock()
	if !found {
		return model.NewNotFoundError("favorite", id)
	}
	m.confirm.Open(id)
	return nil
}

// PendingID は確認待ちの項目IDを返す。
func (m *Manager) PendingID() (string, bool) {
	return m.confirm.PendingID()
}

// CancelRemove は削除の確認待ちを破棄する。
func (m *Manager) CancelRemove() {
	m.confirm.Cancel()
}

// ConfirmRemove は確認待ちの項目を削除する。
// 成功した場合は一覧から取り除き、失敗した場合は一覧をそのまま残す。
func (m *Manager) ConfirmRemove(ctx context.Context) (string, error) {
	id, err := m.confirm.Confirm(ctx, m.api.RemoveFavorite)
	if err != nil {
		if id == "" {
			return "", err
		}
		return id, fmt.Errorf("remove favorite %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(id); i >= 0 {
		m.links = append(m.links[:i:i], m.links[i+1:]...)
	}
	return id, nil
}

func (m *Manager) indexLocked(id string) int {
	for i, l := range m.links {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) snapshotLocked() []model.FavoriteLink {
	return append([]model.FavoriteLink(nil), m.links...)
}
