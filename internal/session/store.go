// Package session は現在の認証状態を保持するリアクティブなセッションストアを提供する。
//
// ストアは1クライアントにつき1つ存在し、IdPの変更通知を唯一の購読として受け取る。
// 書き込みはIdPのコールバックとセッション操作（auth.Actions）のみが行い、
// 購読者には発行順に、間引きなしで配信する。
package session

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/hitoshi/foodreview/internal/model"
)

// ErrAlreadyBound はストアが既にIdPへ購読済みの場合に返される。
var ErrAlreadyBound = errors.New("session store is already bound to a provider")

// ErrClosed は破棄済みのストアに対する操作で返される。
var ErrClosed = errors.New("session store is closed")

// Session はある時点の認証状態のスナップショット。
type Session struct {
	Identity    *model.Identity
	IsResolving bool
}

// SignedIn は認証済みIdentityを持つかを返す。
func (s Session) SignedIn() bool {
	return s.Identity != nil
}

// Email は認証済みの場合にメールアドレスを返す。未認証の場合は空文字列。
func (s Session) Email() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Email
}

// ChangeListener はIdPの変更通知コールバック。
// errが非nilの場合は配信失敗を表す。
type ChangeListener func(identity *model.Identity, err error)

// ChangeSource はストアが購読するIdPの変更通知インターフェース。
// OnChangeは登録直後に現在の状態で1回呼び出し、以降は変更のたびに呼び出す契約とする。
type ChangeSource interface {
	OnChange(fn ChangeListener) (unsubscribe func())
}

// Listener はストアの購読者。
type Listener func(Session)

type subscriber struct {
	fn Listener
	// initial は購読開始時点の値。未配信の間だけ非nil。
	initial *Session
	// seenSeq は配信済みの最新シーケンス番号。
	// これ以前に発行されたキュー上の更新はスキップする。
	seenSeq uint64
}

type update struct {
	seq     uint64
	session Session
}

// Store は単一書き込み・複数購読のセッションストア。
type Store struct {
	mu          sync.Mutex
	current     Session
	seq         uint64
	resolved    bool // IdPから最初のコールバックを受信済みか
	queue       []update
	draining    bool
	subscribers map[int]*subscriber
	nextSubID   int
	unbind      func()
	bound       bool
	closed      bool
	logger      *slog.Logger
}

// NewStore は未解決状態（Identity=nil, IsResolving=true）のストアを生成する。
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		current:     Session{IsResolving: true},
		subscribers: make(map[int]*subscriber),
		logger:      logger,
	}
}

// Bind はIdPの変更通知を購読する。購読はストアごとに1つまで。
func (s *Store) Bind(src ChangeSource) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.bound {
		s.mu.Unlock()
		return ErrAlreadyBound
	}
	s.bound = true
	s.mu.Unlock()

	// OnChangeは登録中にコールバックを同期的に呼ぶため、ロック外で登録する
	unbind := src.OnChange(s.handleProviderChange)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unbind()
		return ErrClosed
	}
	s.unbind = unbind
	s.mu.Unlock()
	return nil
}

// Current は最新のセッションを同期的に返す。
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe は購読者を登録する。登録時点の最新値を即座に配信し、以降の更新を順に配信する。
// 戻り値の関数で購読を解除する。
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	if s.closed {
		current := s.current
		s.mu.Unlock()
		fn(current)
		return func() {}
	}
	id := s.nextSubID
	s.nextSubID++
	current := s.current
	s.subscribers[id] = &subscriber{fn: fn, initial: &current, seenSeq: s.seq}
	s.mu.Unlock()

	s.drain()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// BeginResolving はセッション操作の実行中であることを示す。
// 現在のIdentityを保持したままIsResolvingをtrueにする。
func (s *Store) BeginResolving() {
	s.mu.Lock()
	if s.current.IsResolving {
		s.mu.Unlock()
		return
	}
	s.enqueueLocked(Session{Identity: s.current.Identity, IsResolving: true})
	s.mu.Unlock()
	s.drain()
}

// EndResolving はセッション操作の終了を示す。
// IdPから一度もコールバックを受けていない間は未解決状態を維持する。
func (s *Store) EndResolving() {
	s.mu.Lock()
	if !s.current.IsResolving || !s.resolved {
		s.mu.Unlock()
		return
	}
	s.enqueueLocked(Session{Identity: s.current.Identity, IsResolving: false})
	s.mu.Unlock()
	s.drain()
}

// Reset はIdPの通知を待たずにログアウト状態へ遷移させる。
// ログアウト要求が失敗した場合でもローカルの状態を未認証に揃えるために使う。
func (s *Store) Reset() {
	s.mu.Lock()
	s.resolved = true
	if s.current.Identity == nil && !s.current.IsResolving {
		s.mu.Unlock()
		return
	}
	s.enqueueLocked(Session{})
	s.mu.Unlock()
	s.drain()
}

// Close はIdPの購読を解除し、以降の更新を停止する。複数回呼んでも安全。
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unbind := s.unbind
	s.unbind = nil
	s.subscribers = make(map[int]*subscriber)
	s.queue = nil
	s.mu.Unlock()

	if unbind != nil {
		unbind()
	}
}

// Closed はストアが破棄済みかを返す。
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// handleProviderChange はIdPの変更通知を受け取り、Identityを丸ごと置き換える。
// 配信失敗時は未認証として扱う。
func (s *Store) handleProviderChange(identity *model.Identity, err error) {
	if err != nil {
		s.logger.Warn("identity provider delivered an error, treating as signed out",
			slog.String("error", err.Error()),
		)
		identity = nil
	}

	var snapshot *model.Identity
	if identity != nil {
		cp := *identity
		snapshot = &cp
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	s.enqueueLocked(Session{Identity: snapshot, IsResolving: false})
	s.mu.Unlock()
	s.drain()
}

// enqueueLocked は新しい状態を現在値に反映し、配信キューに積む。s.muを保持して呼ぶこと。
func (s *Store) enqueueLocked(next Session) {
	if s.closed {
		return
	}
	s.seq++
	s.current = next
	s.queue = append(s.queue, update{seq: s.seq, session: next})
}

// drain は購読開始時の初回値とキューに積まれた更新を発行順に配信する。
// 配信中に発生した更新（購読者からの再入を含む）は同じドレインループで後続として配信する。
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for {
		// 初回値は後続の更新より先に配信する
		if sub, initial := s.takeInitialLocked(); sub != nil {
			s.mu.Unlock()
			sub.fn(initial)
			s.mu.Lock()
			continue
		}
		if len(s.queue) == 0 {
			break
		}

		u := s.queue[0]
		s.queue = s.queue[1:]

		targets := make([]*subscriber, 0, len(s.subscribers))
		for _, id := range s.subscriberIDsLocked() {
			sub := s.subscribers[id]
			if sub.seenSeq < u.seq {
				sub.seenSeq = u.seq
				targets = append(targets, sub)
			}
		}
		s.mu.Unlock()

		for _, sub := range targets {
			sub.fn(u.session)
		}

		s.mu.Lock()
	}

	s.draining = false
	s.mu.Unlock()
}

// takeInitialLocked は初回値が未配信の購読者を1件取り出す。s.muを保持して呼ぶこと。
func (s *Store) takeInitialLocked() (*subscriber, Session) {
	for _, id := range s.subscriberIDsLocked() {
		if sub := s.subscribers[id]; sub.initial != nil {
			initial := *sub.initial
			sub.initial = nil
			return sub, initial
		}
	}
	return nil, Session{}
}

// subscriberIDsLocked は購読者のIDを購読順（昇順）で返す。s.muを保持して呼ぶこと。
func (s *Store) subscriberIDsLocked() []int {
	return slices.Sorted(maps.Keys(s.subscribers))
}
