// Package client はブラウザごとのクライアント状態（セッションストア、IdP接続、画面ローカルの状態）を管理する。
//
// 各エントリはclient_id Cookieで識別し、初回アクセス時に生成する。
// 一定時間アクセスのないエントリはバックグラウンドで破棄し、その際にIdPの購読を一度だけ解除する。
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/foodreview/internal/auth"
	"github.com/hitoshi/foodreview/internal/favorite"
	"github.com/hitoshi/foodreview/internal/identity"
	"github.com/hitoshi/foodreview/internal/session"
)

// IdentityClient は1クライアント分のIdP接続。永続化用のトークンを返せる。
type IdentityClient interface {
	identity.Client
	Token() string
}

// ClientFactory は永続化されたトークンからIdP接続を復元する。トークンが空または無効なら未認証の接続を返す。
type ClientFactory func(ctx context.Context, token string) IdentityClient

// ActiveGauge は保持しているクライアント数を記録する。
type ActiveGauge interface {
	SetActiveClients(n int)
}

// Config はRegistryの設定。
type Config struct {
	IdleTTL         time.Duration // 最終アクセスからエントリを破棄するまでの時間
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
	AuthRecorder    auth.Recorder
	Gauge           ActiveGauge
	Logger          *slog.Logger
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		IdleTTL:         30 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Registry はclient_idからEntryへの対応を保持する。
type Registry struct {
	config    Config
	factory   ClientFactory
	favorites favorite.ManagerAPI
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewRegistry は新しいRegistryを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRegistry(factory ClientFactory, favorites favorite.ManagerAPI, config Config) *Registry {
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultConfig().IdleTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		config:    config,
		factory:   factory,
		favorites: favorites,
		logger:    logger,
		entries:   make(map[string]*Entry),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}

	go r.cleanupLoop()

	return r
}

// Stop はクリーンアップを停止し、保持しているすべてのエントリを破棄する。複数回呼んでも安全。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)

		r.mu.Lock()
		entries := r.entries
		r.entries = make(map[string]*Entry)
		r.mu.Unlock()

		for _, e := range entries {
			e.close()
		}
		r.reportCount(0)
	})
}

// Get はIDに対応するエントリを返し、最終アクセス時刻を更新する。
func (r *Registry) Get(id string) (*Entry, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.touch(r.now())
	return e, true
}

// Resolve はIDに対応するエントリを返す。存在しない場合はtokenからIdP接続を復元して新しいエントリを生成する。
// createdは新規生成したかを表し、呼び出し元はその場合に新しいIDをCookieへ書き込む。
func (r *Registry) Resolve(ctx context.Context, id, token string) (e *Entry, created bool, err error) {
	if e, ok := r.Get(id); ok {
		return e, false, nil
	}
	e, err = r.Create(ctx, token)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Create はtokenからIdP接続を復元し、新しいIDでエントリを登録する。
func (r *Registry) Create(ctx context.Context, token string) (*Entry, error) {
	select {
	case <-r.stopCh:
		return nil, fmt.Errorf("client registry is stopped")
	default:
	}

	idp := r.factory(ctx, token)
	store := session.NewStore(r.logger)
	if err := store.Bind(idp); err != nil {
		store.Close()
		return nil, fmt.Errorf("bind session store: %w", err)
	}

	e := &Entry{
		id:        uuid.NewString(),
		store:     store,
		idp:       idp,
		actions:   auth.NewActions(store, idp, r.config.AuthRecorder, r.logger),
		favorites: favorite.NewManager(r.favorites),
	}
	e.touch(r.now())

	r.mu.Lock()
	r.entries[e.id] = e
	n := len(r.entries)
	r.mu.Unlock()

	r.reportCount(n)
	r.logger.Debug("client created",
		slog.String("client_id", e.id),
		slog.Bool("signed_in", store.Current().SignedIn()),
	)
	return e, nil
}

// Rotate はエントリを新しいIDで登録し直し、古いIDを無効にする。
// IdP接続とセッションストアはそのまま引き継ぐ。サインインの直後に呼び、新しいIDをCookieへ書き込む。
func (r *Registry) Rotate(id string) (*Entry, error) {
	newID := uuid.NewString()

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("client %q not found", id)
	}
	delete(r.entries, id)
	e.setID(newID)
	r.entries[newID] = e
	r.mu.Unlock()

	e.touch(r.now())
	r.logger.Debug("client id rotated",
		slog.String("client_id", newID),
	)
	return e, nil
}

// Remove はエントリを破棄する。
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	n := len(r.entries)
	r.mu.Unlock()

	if ok {
		e.close()
		r.reportCount(n)
	}
}

// Len は保持しているエントリ数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからIdleTTLを超えたエントリを破棄する。
func (r *Registry) cleanup() {
	now := r.now()

	var expired []*Entry
	r.mu.Lock()
	for id, e := range r.entries {
		if now.Sub(e.lastAccessed()) > r.config.IdleTTL {
			expired = append(expired, e)
			delete(r.entries, id)
		}
	}
	n := len(r.entries)
	r.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	for _, e := range expired {
		e.close()
	}
	r.reportCount(n)
	r.logger.Info("idle clients evicted",
		slog.Int("evicted", len(expired)),
		slog.Int("remaining", n),
	)
}

func (r *Registry) reportCount(n int) {
	if r.config.Gauge != nil {
		r.config.Gauge.SetActiveClients(n)
	}
}
