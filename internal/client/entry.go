package client

import (
	"sync"
	"time"

	"github.com/hitoshi/foodreview/internal/auth"
	"github.com/hitoshi/foodreview/internal/confirm"
	"github.com/hitoshi/foodreview/internal/favorite"
	"github.com/hitoshi/foodreview/internal/session"
)

// Flashの種類
const (
	FlashSuccess = "success"
	FlashError   = "error"
	FlashInfo    = "info"
)

// Flash は次の画面表示で一度だけ表示する通知。
type Flash struct {
	Kind    string
	Message string
	// Link は通知に添える遷移先。空の場合は表示しない。
	Link string
}

// Entry は1ブラウザ分のクライアント状態。
type Entry struct {
	store     *session.Store
	idp       IdentityClient
	actions   *auth.Actions
	favorites *favorite.Manager

	reviewDeletion confirm.Confirmation

	mu         sync.Mutex
	id         string
	board      *favorite.Board
	flash      *Flash
	lastAccess time.Time
	closeOnce  sync.Once
}

// ID はclient_idを返す。Rotateで変わる。
func (e *Entry) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// Store はセッションストアを返す。
func (e *Entry) Store() *session.Store { return e.store }

// Identity はIdP接続を返す。
func (e *Entry) Identity() IdentityClient { return e.idp }

// Actions はセッション操作を返す。
func (e *Entry) Actions() *auth.Actions { return e.actions }

// Favorites はお気に入り管理画面の状態を返す。
func (e *Entry) Favorites() *favorite.Manager { return e.favorites }

// ReviewDeletion はレビュー削除の確認状態を返す。
func (e *Entry) ReviewDeletion() *confirm.Confirmation { return &e.reviewDeletion }

// Session は現在のセッションを返す。
func (e *Entry) Session() session.Session { return e.store.Current() }

// ReplaceBoard は表示中の一覧を差し替え、前の一覧を破棄する。
// 破棄した一覧に後から届いた問い合わせ結果は反映されない。
func (e *Entry) ReplaceBoard(b *favorite.Board) {
	e.mu.Lock()
	prev := e.board
	e.board = b
	e.mu.Unlock()

	if prev != nil && prev != b {
		prev.Close()
	}
}

// Board は表示中の一覧を返す。未表示の場合はnil。
func (e *Entry) Board() *favorite.Board {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.board
}

// SetFlash は次の画面表示で出す通知を設定する。
func (e *Entry) SetFlash(kind, message, link string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flash = &Flash{Kind: kind, Message: message, Link: link}
}

// TakeFlash は通知を取り出してクリアする。
func (e *Entry) TakeFlash() *Flash {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := e.flash
	e.flash = nil
	return f
}

func (e *Entry) setID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.id = id
}

func (e *Entry) touch(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAccess = now
}

func (e *Entry) lastAccessed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAccess
}

// close はIdPの購読を解除し、表示中の一覧を破棄する。一度だけ実行する。
func (e *Entry) close() {
	e.closeOnce.Do(func() {
		e.store.Close()
		e.ReplaceBoard(nil)
	})
}
