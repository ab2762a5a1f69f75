package session

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/hitoshi/foodreview/internal/model"
)

// --- モック定義 ---

// fakeSource はテスト用のIdP変更通知ソース。
// OnChange登録時に現在値を即座に配信する。
type fakeSource struct {
	mu          sync.Mutex
	current     *model.Identity
	listeners   map[int]ChangeListener
	nextID      int
	subscribes  int
	unsubscribe int
	deferFirst  bool // trueの場合、登録時の初回配信を行わない（未解決状態の再現用）
}

func newFakeSource() *fakeSource {
	return &fakeSource{listeners: make(map[int]ChangeListener)}
}

func (f *fakeSource) OnChange(fn ChangeListener) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.subscribes++
	current := f.current
	deferFirst := f.deferFirst
	f.mu.Unlock()

	if !deferFirst {
		fn(current, nil)
	}

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.listeners[id]; ok {
			delete(f.listeners, id)
			f.unsubscribe++
		}
	}
}

func (f *fakeSource) emit(identity *model.Identity, err error) {
	f.mu.Lock()
	f.current = identity
	ls := make([]ChangeListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(identity, err)
	}
}

func testIdentity(email string) *model.Identity {
	return &model.Identity{ID: "uid-" + email, DisplayName: "Tester", Email: email}
}

// recorder は購読者に配信されたセッションを記録する。
type recorder struct {
	mu   sync.Mutex
	seen []Session
}

func (r *recorder) listen(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func (r *recorder) all() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, len(r.seen))
	copy(out, r.seen)
	return out
}

// --- テスト ---

func TestNewStore_StartsResolvingWithoutIdentity(t *testing.T) {
	s := NewStore(nil)

	cur := s.Current()
	if !cur.IsResolving {
		t.Error("IsResolving = false, want true before the first provider callback")
	}
	if cur.Identity != nil {
		t.Errorf("Identity = %+v, want nil", cur.Identity)
	}
}

func TestStore_Bind_FirstCallbackResolves(t *testing.T) {
	src := newFakeSource()
	src.current = testIdentity("a@x.com")
	s := NewStore(nil)

	if err := s.Bind(src); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	cur := s.Current()
	if cur.IsResolving {
		t.Error("IsResolving = true, want false after the first callback")
	}
	if cur.Email() != "a@x.com" {
		t.Errorf("Email = %q, want %q", cur.Email(), "a@x.com")
	}
}

func TestStore_Bind_AtMostOneSubscription(t *testing.T) {
	src := newFakeSource()
	s := NewStore(nil)

	if err := s.Bind(src); err != nil {
		t.Fatalf("first Bind() error = %v", err)
	}
	if err := s.Bind(src); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second Bind() error = %v, want ErrAlreadyBound", err)
	}
	if src.subscribes != 1 {
		t.Errorf("provider subscriptions = %d, want 1", src.subscribes)
	}
}

func TestStore_Subscribe_DeliversLatestImmediately(t *testing.T) {
	src := newFakeSource()
	src.current = testIdentity("a@x.com")
	s := NewStore(nil)
	_ = s.Bind(src)

	rec := &recorder{}
	unsub := s.Subscribe(rec.listen)
	defer unsub()

	seen := rec.all()
	if len(seen) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(seen))
	}
	if seen[0].Email() != "a@x.com" {
		t.Errorf("initial Email = %q, want %q", seen[0].Email(), "a@x.com")
	}
}

func TestStore_DeliversUpdatesInEmissionOrder(t *testing.T) {
	src := newFakeSource()
	s := NewStore(nil)
	_ = s.Bind(src)

	rec := &recorder{}
	s.Subscribe(rec.listen)

	// ログイン直後のログアウトも順序通りに観測されること
	src.emit(testIdentity("a@x.com"), nil)
	src.emit(nil, nil)
	src.emit(testIdentity("b@y.com"), nil)

	seen := rec.all()
	want := []string{"", "a@x.com", "", "b@y.com"}
	if len(seen) != len(want) {
		t.Fatalf("deliveries = %d, want %d: %+v", len(seen), len(want), seen)
	}
	for i, w := range want {
		if seen[i].Email() != w {
			t.Errorf("delivery[%d] Email = %q, want %q", i, seen[i].Email(), w)
		}
		if seen[i].IsResolving {
			t.Errorf("delivery[%d] IsResolving = true, want false", i)
		}
	}
}

func TestStore_FansOutInSubscriptionOrder(t *testing.T) {
	src := newFakeSource()
	s := NewStore(nil)
	_ = s.Bind(src)

	var mu sync.Mutex
	var trace []string
	const n = 8
	for i := 0; i < n; i++ {
		name := strconv.Itoa(i)
		s.Subscribe(func(sess Session) {
			mu.Lock()
			defer mu.Unlock()
			trace = append(trace, name+":"+sess.Email())
		})
	}

	mu.Lock()
	trace = nil
	mu.Unlock()

	emails := []string{"a@x.com", "", "b@y.com"}
	for _, e := range emails {
		if e == "" {
			src.emit(nil, nil)
		} else {
			src.emit(testIdentity(e), nil)
		}
	}

	var want []string
	for _, e := range emails {
		for i := 0; i < n; i++ {
			want = append(want, strconv.Itoa(i)+":"+e)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(trace) != len(want) {
		t.Fatalf("deliveries = %d, want %d: %v", len(trace), len(want), trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("delivery[%d] = %q, want %q (trace %v)", i, trace[i], want[i], trace)
		}
	}
}

func TestStore_ProviderError_FailsSafeToSignedOut(t *testing.T) {
	src := newFakeSource()
	src.current = testIdentity("a@x.com")
	s := NewStore(nil)
	_ = s.Bind(src)

	src.emit(testIdentity("a@x.com"), errors.New("delivery failed"))

	cur := s.Current()
	if cur.Identity != nil {
		t.Errorf("Identity = %+v, want nil after provider error", cur.Identity)
	}
	if cur.IsResolving {
		t.Error("IsResolving = true, want false")
	}
}

func TestStore_IdentityIsSnapshot(t *testing.T) {
	src := newFakeSource()
	id := testIdentity("a@x.com")
	src.current = id
	s := NewStore(nil)
	_ = s.Bind(src)

	// 発行元のオブジェクトを変更してもストアの値は変わらないこと
	id.Email = "mutated@x.com"

	if got := s.Current().Email(); got != "a@x.com" {
		t.Errorf("Email = %q, want %q", got, "a@x.com")
	}
}

func TestStore_BeginAndEndResolving(t *testing.T) {
	src := newFakeSource()
	src.current = testIdentity("a@x.com")
	s := NewStore(nil)
	_ = s.Bind(src)

	s.BeginResolving()
	cur := s.Current()
	if !cur.IsResolving {
		t.Error("IsResolving = false after BeginResolving, want true")
	}
	if cur.Email() != "a@x.com" {
		t.Errorf("Identity should be preserved while resolving, got %q", cur.Email())
	}

	s.EndResolving()
	if s.Current().IsResolving {
		t.Error("IsResolving = true after EndResolving, want false")
	}
}

func TestStore_EndResolving_KeepsResolvingBeforeFirstCallback(t *testing.T) {
	src := newFakeSource()
	src.deferFirst = true
	s := NewStore(nil)
	_ = s.Bind(src)

	s.EndResolving()

	if !s.Current().IsResolving {
		t.Error("IsResolving = false, want true until the provider has answered once")
	}
}

func TestStore_Reset_ForcesSignedOut(t *testing.T) {
	src := newFakeSource()
	src.current = testIdentity("a@x.com")
	s := NewStore(nil)
	_ = s.Bind(src)
	s.BeginResolving()

	s.Reset()

	cur := s.Current()
	if cur.Identity != nil || cur.IsResolving {
		t.Errorf("Current() = %+v, want signed out and resolved", cur)
	}
}

func TestStore_Close_CancelsProviderSubscription(t *testing.T) {
	src := newFakeSource()
	s := NewStore(nil)
	_ = s.Bind(src)

	rec := &recorder{}
	s.Subscribe(rec.listen)

	s.Close()
	s.Close() // 冪等

	if src.unsubscribe != 1 {
		t.Errorf("provider unsubscribes = %d, want 1", src.unsubscribe)
	}

	before := len(rec.all())
	src.emit(testIdentity("a@x.com"), nil)
	if got := len(rec.all()); got != before {
		t.Errorf("deliveries after Close = %d, want %d", got, before)
	}
	if !s.Closed() {
		t.Error("Closed() = false, want true")
	}
}

func TestStore_Unsubscribe_StopsDelivery(t *testing.T) {
	src := newFakeSource()
	s := NewStore(nil)
	_ = s.Bind(src)

	rec := &recorder{}
	unsub := s.Subscribe(rec.listen)
	unsub()
	unsub()

	src.emit(testIdentity("a@x.com"), nil)

	if got := len(rec.all()); got != 1 {
		t.Errorf("deliveries = %d, want only the initial one", got)
	}
}

func TestStore_ReentrantUpdateFromListenerIsDeliveredAfter(t *testing.T) {
	src := newFakeSource()
	s := NewStore(nil)
	_ = s.Bind(src)

	rec := &recorder{}
	s.Subscribe(func(sess Session) {
		rec.listen(sess)
		// 購読者内からの更新でデッドロックしないこと
		if sess.Email() == "a@x.com" && !sess.IsResolving {
			s.BeginResolving()
		}
	})

	src.emit(testIdentity("a@x.com"), nil)

	seen := rec.all()
	if len(seen) != 3 {
		t.Fatalf("deliveries = %d, want 3: %+v", len(seen), seen)
	}
	if seen[1].IsResolving || !seen[2].IsResolving {
		t.Errorf("order = %+v, want resolved login then resolving", seen)
	}
}

func TestStore_ConcurrentSubscribersSeeMonotonicUpdates(t *testing.T) {
	src := newFakeSource()
	s := NewStore(nil)
	_ = s.Bind(src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := s.Subscribe(func(Session) {})
			unsub()
		}()
	}
	for i := 0; i < 20; i++ {
		src.emit(testIdentity("a@x.com"), nil)
		src.emit(nil, nil)
	}
	wg.Wait()

	if s.Current().Identity != nil {
		t.Error("final Identity should be nil after the last logout event")
	}
}
