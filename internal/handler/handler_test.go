package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/foodreview/internal/client"
	"github.com/hitoshi/foodreview/internal/identity"
	"github.com/hitoshi/foodreview/internal/middleware"
	"github.com/hitoshi/foodreview/internal/model"
	"github.com/hitoshi/foodreview/internal/review"
	"github.com/hitoshi/foodreview/internal/session"
	"github.com/hitoshi/foodreview/internal/view"
)

// --- モック定義 ---

const testPassword = "secret123"

// stubIdP はパスワードが一致した場合だけサインインさせるIdentityClient。
type stubIdP struct {
	mu        sync.Mutex
	current   *model.Identity
	token     string
	listeners []session.ChangeListener
}

func (s *stubIdP) notify() {
	s.mu.Lock()
	cur := s.current
	ls := append([]session.ChangeListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range ls {
		fn(cur, nil)
	}
}

func (s *stubIdP) signIn(email string) {
	s.mu.Lock()
	s.current = &model.Identity{ID: "u-" + email, Email: email, DisplayName: "Tester"}
	s.token = "tok-" + email
	s.mu.Unlock()
	s.notify()
}

func (s *stubIdP) CreateAccount(_ context.Context, email, _ string) error {
	s.signIn(email)
	return nil
}

func (s *stubIdP) SignIn(_ context.Context, email, password string) error {
	if password != testPassword {
		return model.NewInvalidCredentialError()
	}
	s.signIn(email)
	return nil
}

func (s *stubIdP) BeginInteractive(state string) (string, error) {
	return "https://idp.example.com/authorize?state=" + state, nil
}

func (s *stubIdP) CompleteInteractive(_ context.Context, cb identity.Callback) error {
	if cb.Error != "" {
		return model.NewHandshakeFailedError(cb.Error)
	}
	s.signIn("social@x.com")
	return nil
}

func (s *stubIdP) SignOut(context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.token = ""
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *stubIdP) UpdateProfile(_ context.Context, _ *model.Identity, name, avatar string) error {
	s.mu.Lock()
	if s.current != nil {
		next := *s.current
		next.DisplayName = name
		next.AvatarURL = avatar
		s.current = &next
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *stubIdP) OnChange(fn session.ChangeListener) func() {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	cur := s.current
	s.mu.Unlock()
	fn(cur, nil)
	return func() {}
}

func (s *stubIdP) Current() *model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *stubIdP) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// mockReviewAPI はレビューサービスのモック。各メソッドの呼び出し回数を数える。
type mockReviewAPI struct {
	mu sync.Mutex

	reviews   map[string]model.Review
	favorites []model.FavoriteLink
	favorited map[string]bool

	getErr error

	calls map[string]int
}

func newMockReviewAPI(reviews ...model.Review) *mockReviewAPI {
	m := &mockReviewAPI{
		reviews:   make(map[string]model.Review),
		favorited: make(map[string]bool),
		calls:     make(map[string]int),
	}
	for _, r := range reviews {
		m.reviews[r.ID] = r
	}
	return m
}

func (m *mockReviewAPI) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockReviewAPI) hit(name string) {
	m.mu.Lock()
	m.calls[name]++
	m.mu.Unlock()
}

func (m *mockReviewAPI) all() []model.Review {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Review, 0, len(m.reviews))
	for _, r := range m.reviews {
		out = append(out, r)
	}
	return out
}

func (m *mockReviewAPI) ListReviews(context.Context) ([]model.Review, error) {
	m.hit("ListReviews")
	return m.all(), nil
}

func (m *mockReviewAPI) FeaturedReviews(context.Context) ([]model.Review, error) {
	m.hit("FeaturedReviews")
	return m.all(), nil
}

func (m *mockReviewAPI) GetReview(_ context.Context, id string) (*model.Review, error) {
	m.hit("GetReview")
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[id]
	if !ok {
		return nil, model.NewNotFoundError("review", id)
	}
	return &r, nil
}

func (m *mockReviewAPI) ReviewsByOwner(_ context.Context, email string) ([]model.Review, error) {
	m.hit("ReviewsByOwner")
	var out []model.Review
	for _, r := range m.all() {
		if r.OwnerEmail == email {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockReviewAPI) SearchReviews(_ context.Context, query string) ([]model.Review, error) {
	m.hit("SearchReviews")
	var out []model.Review
	for _, r := range m.all() {
		if strings.Contains(strings.ToLower(r.FoodName), strings.ToLower(query)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockReviewAPI) CreateReview(_ context.Context, req model.NewReviewRequest) error {
	m.hit("CreateReview")
	return nil
}

func (m *mockReviewAPI) UpdateReview(_ context.Context, id string, fields model.ReviewFields) error {
	m.hit("UpdateReview")
	return nil
}

func (m *mockReviewAPI) DeleteReview(_ context.Context, id string) error {
	m.hit("DeleteReview")
	m.mu.Lock()
	delete(m.reviews, id)
	m.mu.Unlock()
	return nil
}

func (m *mockReviewAPI) IsFavorite(_ context.Context, email, reviewID string) (bool, error) {
	m.hit("IsFavorite")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.favorited[email+"/"+reviewID], nil
}

func (m *mockReviewAPI) AddFavorite(_ context.Context, link model.FavoriteLink) error {
	m.hit("AddFavorite")
	m.mu.Lock()
	m.favorited[link.OwnerEmail+"/"+link.ReviewID] = true
	m.favorites = append(m.favorites, link)
	m.mu.Unlock()
	return nil
}

func (m *mockReviewAPI) Favorites(_ context.Context, email string) ([]model.FavoriteLink, error) {
	m.hit("Favorites")
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FavoriteLink
	for _, l := range m.favorites {
		if l.OwnerEmail == email {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockReviewAPI) RemoveFavorite(_ context.Context, id string) error {
	m.hit("RemoveFavorite")
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.favorites {
		if l.ID == id {
			m.favorites = append(m.favorites[:i], m.favorites[i+1:]...)
			break
		}
	}
	return nil
}

// mockHealthChecker はHealthCheckerのモック。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error { return m.err }

// --- テストヘルパー ---

type testServer struct {
	handler  http.Handler
	registry *client.Registry
	api      *mockReviewAPI
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer は実際のルーター、テンプレート、クライアントレジストリでサーバーを組み立てる。
// "valid:<email>"トークンはサインイン済みの接続を復元する。
func newTestServer(t *testing.T, api *mockReviewAPI, socialEnabled bool) *testServer {
	t.Helper()
	logger := discardLogger()

	renderer, err := view.NewRenderer(logger)
	if err != nil {
		t.Fatalf("failed to create renderer: %v", err)
	}

	factory := func(_ context.Context, token string) client.IdentityClient {
		idp := &stubIdP{}
		if email, ok := strings.CutPrefix(token, "valid:"); ok {
			idp.current = &model.Identity{ID: "u-" + email, Email: email, DisplayName: "Tester"}
			idp.token = token
		}
		return idp
	}
	cfg := client.DefaultConfig()
	cfg.Logger = logger
	registry := client.NewRegistry(factory, api, cfg)
	t.Cleanup(registry.Stop)

	cookies := middleware.CookieConfig{MaxAge: 3600}
	validator := review.NewValidator(nil)

	router := NewRouter(&RouterDeps{
		Clients: registry,
		Cookies: cookies,
		Auth: NewAuthHandler(renderer, AuthHandlerConfig{
			Cookies:       cookies,
			SocialEnabled: socialEnabled,
			Clients:       registry,
		}, logger),
		Reviews:       NewReviewHandler(renderer, api, api, validator, ReviewHandlerConfig{SocialEnabled: socialEnabled}, logger),
		Favorites:     NewFavoriteHandler(renderer, api, nil, socialEnabled, logger),
		HealthChecker: &mockHealthChecker{},
		Logger:        logger,
	})

	return &testServer{handler: router, registry: registry, api: api}
}

// signedInEntry はサインイン済みのクライアントを生成し、そのclient_id Cookieを返す。
func (s *testServer) signedInEntry(t *testing.T, email string) (*client.Entry, *http.Cookie) {
	t.Helper()
	entry, _, err := s.registry.Resolve(context.Background(), "", "valid:"+email)
	if err != nil {
		t.Fatalf("failed to resolve client: %v", err)
	}
	return entry, &http.Cookie{Name: middleware.ClientCookieName, Value: entry.ID()}
}

// get はGETリクエストを送る。
func (s *testServer) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

// post はCSRFトークン付きでフォームをPOSTする。
func (s *testServer) post(path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	if form == nil {
		form = url.Values{}
	}
	form.Set(middleware.CSRFFormField, "test-csrf-token")
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "test-csrf-token"})
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func responseCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func sampleReview(id, owner string) model.Review {
	return model.Review{
		ID:               id,
		OwnerEmail:       owner,
		FoodName:         "Ramen " + id,
		FoodImage:        "https://img.example.com/" + id + ".jpg",
		RestaurantName:   "Noodle House",
		Location:         "Tokyo",
		Rating:           4,
		ReviewText:       "Rich broth.",
		OwnerDisplayName: "Owner",
	}
}

func validReviewForm(rating string) url.Values {
	return url.Values{
		"foodName":       {"Ramen"},
		"foodImage":      {"https://img.example.com/ramen.jpg"},
		"restaurantName": {"Noodle House"},
		"location":       {"Tokyo"},
		"rating":         {rating},
		"reviewText":     {"Great"},
	}
}
