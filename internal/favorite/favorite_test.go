package favorite

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/foodreview/internal/model"
)

// --- モック定義 ---

type mockAPI struct {
	isFavoriteFn func(ctx context.Context, email, reviewID string) (bool, error)
	addFn        func(ctx context.Context, link model.FavoriteLink) error
	listFn       func(ctx context.Context, email string) ([]model.FavoriteLink, error)
	removeFn     func(ctx context.Context, id string) error

	probes, posts, lists, deletes atomic.Int32
}

func (m *mockAPI) IsFavorite(ctx context.Context, email, reviewID string) (bool, error) {
	m.probes.Add(1)
	if m.isFavoriteFn != nil {
		return m.isFavoriteFn(ctx, email, reviewID)
	}
	return false, nil
}

func (m *mockAPI) AddFavorite(ctx context.Context, link model.FavoriteLink) error {
	m.posts.Add(1)
	if m.addFn != nil {
		return m.addFn(ctx, link)
	}
	return nil
}

func (m *mockAPI) Favorites(ctx context.Context, email string) ([]model.FavoriteLink, error) {
	m.lists.Add(1)
	if m.listFn != nil {
		return m.listFn(ctx, email)
	}
	return nil, nil
}

func (m *mockAPI) RemoveFavorite(ctx context.Context, id string) error {
	m.deletes.Add(1)
	if m.removeFn != nil {
		return m.removeFn(ctx, id)
	}
	return nil
}

func sampleReview(id string) model.Review {
	return model.Review{
		ID:             id,
		OwnerEmail:     "b@y.com",
		FoodName:       "Ramen " + id,
		FoodImage:      "https://img.example.com/" + id + ".jpg",
		RestaurantName: "Ichiran",
		Location:       "Tokyo",
		Rating:         4,
		ReviewText:     "not part of the snapshot",
	}
}

// --- Toggle ---

func TestToggle_StartsProbingWithControlSuppressed(t *testing.T) {
	tg := NewToggle(sampleReview("r1"))
	if tg.Phase() != Probing || tg.ShowControl() {
		t.Errorf("phase = %s, ShowControl = %v, want probing/false", tg.Phase(), tg.ShowControl())
	}
}

func TestToggle_Probe(t *testing.T) {
	tests := []struct {
		name    string
		result  bool
		err     error
		want    Phase
		wantErr bool
	}{
		{"登録済み", true, nil, Favorited, false},
		{"未登録", false, nil, Unfavorited, false},
		{"問い合わせ失敗", false, errors.New("boom"), Unfavorited, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{isFavoriteFn: func(_ context.Context, email, reviewID string) (bool, error) {
				if email != "a@x.com" || reviewID != "r1" {
					t.Errorf("probe(%s, %s)", email, reviewID)
				}
				return tt.result, tt.err
			}}
			tg := NewToggle(sampleReview("r1"))

			err := tg.Probe(context.Background(), api, "a@x.com")
			if (err != nil) != tt.wantErr {
				t.Errorf("Probe() error = %v", err)
			}
			if tg.Phase() != tt.want || !tg.ShowControl() {
				t.Errorf("phase = %s, ShowControl = %v, want %s/true", tg.Phase(), tg.ShowControl(), tt.want)
			}
		})
	}
}

func TestToggle_AlreadyFavorited_ZeroPosts(t *testing.T) {
	api := &mockAPI{isFavoriteFn: func(context.Context, string, string) (bool, error) { return true, nil }}
	tg := NewToggle(sampleReview("r1"))
	_ = tg.Probe(context.Background(), api, "a@x.com")

	refreshed := 0
	outcome, err := tg.Add(context.Background(), api, "a@x.com", func() { refreshed++ })
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if outcome != AlreadyFavorited {
		t.Errorf("outcome = %v, want AlreadyFavorited", outcome)
	}
	if api.posts.Load() != 0 {
		t.Errorf("POST calls = %d, want 0", api.posts.Load())
	}
	if refreshed != 0 {
		t.Error("refresh callback should not fire")
	}
}

func TestToggle_Add_FlipsExactlyOnce(t *testing.T) {
	var sent model.FavoriteLink
	api := &mockAPI{addFn: func(_ context.Context, link model.FavoriteLink) error {
		sent = link
		return nil
	}}
	tg := NewToggle(sampleReview("r1"))
	_ = tg.Probe(context.Background(), api, "a@x.com")

	refreshed := 0
	outcome, err := tg.Add(context.Background(), api, "a@x.com", func() { refreshed++ })
	if err != nil || outcome != Added {
		t.Fatalf("Add() = %v, %v, want Added", outcome, err)
	}
	if tg.Phase() != Favorited {
		t.Errorf("phase = %s, want favorited", tg.Phase())
	}
	if refreshed != 1 {
		t.Errorf("refresh callbacks = %d, want 1", refreshed)
	}

	want := model.FavoriteLink{
		OwnerEmail:     "a@x.com",
		ReviewID:       "r1",
		FoodName:       "Ramen r1",
		FoodImage:      "https://img.example.com/r1.jpg",
		RestaurantName: "Ichiran",
		Location:       "Tokyo",
		Rating:         4,
	}
	if sent != want {
		t.Errorf("snapshot = %+v, want %+v", sent, want)
	}

	// 2回目の追加は通信しない
	outcome, err = tg.Add(context.Background(), api, "a@x.com", func() { refreshed++ })
	if err != nil || outcome != AlreadyFavorited {
		t.Errorf("second Add() = %v, %v, want AlreadyFavorited", outcome, err)
	}
	if api.posts.Load() != 1 || refreshed != 1 {
		t.Errorf("posts = %d, refreshed = %d, want 1/1", api.posts.Load(), refreshed)
	}
}

func TestToggle_Add_FailureRollsBack(t *testing.T) {
	api := &mockAPI{addFn: func(context.Context, model.FavoriteLink) error {
		return model.NewRemoteError("Already in favorites")
	}}
	tg := NewToggle(sampleReview("r1"))
	_ = tg.Probe(context.Background(), api, "a@x.com")

	refreshed := false
	_, err := tg.Add(context.Background(), api, "a@x.com", func() { refreshed = true })
	if !model.IsCode(err, model.ErrCodeRemoteError) {
		t.Fatalf("error = %v, want REMOTE_ERROR", err)
	}
	if tg.Phase() != Unfavorited || refreshed {
		t.Errorf("phase = %s, refreshed = %v, want unfavorited/false", tg.Phase(), refreshed)
	}
}

func TestToggle_Add_WhileProbing_NotReady(t *testing.T) {
	api := &mockAPI{}
	tg := NewToggle(sampleReview("r1"))

	if _, err := tg.Add(context.Background(), api, "a@x.com", nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("error = %v, want ErrNotReady", err)
	}
	if api.posts.Load() != 0 {
		t.Error("no POST should be issued while probing")
	}
}

func TestToggle_Add_PendingHypothesisBlocksSecondAdd(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	api := &mockAPI{addFn: func(context.Context, model.FavoriteLink) error {
		close(entered)
		<-release
		return nil
	}}
	tg := NewToggle(sampleReview("r1"))
	_ = tg.Probe(context.Background(), api, "a@x.com")

	done := make(chan struct{})
	go func() {
		defer close(done)
		tg.Add(context.Background(), api, "a@x.com", nil)
	}()
	<-entered

	if tg.Phase() != Adding {
		t.Errorf("phase = %s, want adding", tg.Phase())
	}
	if _, err := tg.Add(context.Background(), api, "a@x.com", nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("concurrent Add error = %v, want ErrNotReady", err)
	}
	close(release)
	<-done

	if api.posts.Load() != 1 || tg.Phase() != Favorited {
		t.Errorf("posts = %d, phase = %s", api.posts.Load(), tg.Phase())
	}
}

func TestAddOutcomeLabel(t *testing.T) {
	if got := AddOutcomeLabel(Added, nil); got != "added" {
		t.Errorf("got %s", got)
	}
	if got := AddOutcomeLabel(AlreadyFavorited, nil); got != "already_favorited" {
		t.Errorf("got %s", got)
	}
	if got := AddOutcomeLabel(0, errors.New("x")); got != "failed" {
		t.Errorf("got %s", got)
	}
}

// --- Board ---

func TestBoard_ProbeAll_EachProbeWritesOnlyItsOwnCard(t *testing.T) {
	reviews := []model.Review{sampleReview("r1"), sampleReview("r2"), sampleReview("r3"), sampleReview("r1")}
	api := &mockAPI{isFavoriteFn: func(_ context.Context, _ string, reviewID string) (bool, error) {
		switch reviewID {
		case "r1":
			time.Sleep(20 * time.Millisecond)
			return true, nil
		case "r2":
			return false, errors.New("timeout")
		default:
			return false, nil
		}
	}}

	b := NewBoard(reviews, nil)
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (duplicates collapsed)", b.Len())
	}

	b.ProbeAll(context.Background(), api, "a@x.com")

	want := map[string]Phase{"r1": Favorited, "r2": Unfavorited, "r3": Unfavorited}
	for id, phase := range want {
		if got := b.Toggle(id).Phase(); got != phase {
			t.Errorf("%s phase = %s, want %s", id, got, phase)
		}
	}
	if api.probes.Load() != 3 {
		t.Errorf("probes = %d, want 3", api.probes.Load())
	}
	if b.Toggle("missing") != nil {
		t.Error("unknown id should return nil")
	}
}

func TestBoard_ResultsAfterCloseAreDropped(t *testing.T) {
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	api := &mockAPI{isFavoriteFn: func(context.Context, string, string) (bool, error) {
		defer wg.Done()
		<-release
		return true, nil
	}}

	b := NewBoard([]model.Review{sampleReview("r1")}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	b.ProbeAll(ctx, api, "a@x.com")

	tg := b.Toggle("r1")
	if tg.Phase() != Probing {
		t.Fatalf("phase = %s, want probing while outstanding", tg.Phase())
	}

	b.Close()
	close(release)
	wg.Wait()
	time.Sleep(10 * time.Millisecond)

	if tg.Phase() != Probing {
		t.Errorf("phase = %s, late result should be dropped after close", tg.Phase())
	}

	// 破棄済みのBoardは問い合わせない
	b.ProbeAll(context.Background(), api, "a@x.com")
	if api.probes.Load() != 1 {
		t.Errorf("probes = %d, want 1", api.probes.Load())
	}
	b.Close()
}

// --- Manager ---

func sampleLinks() []model.FavoriteLink {
	return []model.FavoriteLink{
		{ID: "f1", OwnerEmail: "a@x.com", ReviewID: "r1"},
		{ID: "f2", OwnerEmail: "a@x.com", ReviewID: "r2"},
	}
}

func TestManager_ConfirmRemove_DropsLocallyWithoutRefetch(t *testing.T) {
	api := &mockAPI{listFn: func(context.Context, string) ([]model.FavoriteLink, error) { return sampleLinks(), nil }}
	m := NewManager(api)

	if _, err := m.Load(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := m.RequestRemove("a@x.com", "f1"); err != nil {
		t.Fatalf("RequestRemove() error = %v", err)
	}

	id, err := m.ConfirmRemove(context.Background())
	if err != nil || id != "f1" {
		t.Fatalf("ConfirmRemove() = %q, %v", id, err)
	}

	links, ok := m.Links("a@x.com")
	if !ok || len(links) != 1 || links[0].ID != "f2" {
		t.Errorf("Links() = %+v, want only f2", links)
	}
	if api.lists.Load() != 1 {
		t.Errorf("list calls = %d, want 1 (no re-fetch)", api.lists.Load())
	}
	if _, pending := m.PendingID(); pending {
		t.Error("pending id should be cleared")
	}
}

func TestManager_ConfirmRemove_FailureLeavesListing(t *testing.T) {
	api := &mockAPI{
		listFn:   func(context.Context, string) ([]model.FavoriteLink, error) { return sampleLinks(), nil },
		removeFn: func(context.Context, string) error { return model.NewNetworkError() },
	}
	m := NewManager(api)
	_, _ = m.Load(context.Background(), "a@x.com")
	_ = m.RequestRemove("a@x.com", "f2")

	if _, err := m.ConfirmRemove(context.Background()); !model.IsCode(err, model.ErrCodeNetwork) {
		t.Fatalf("error = %v, want NETWORK_ERROR", err)
	}
	links, _ := m.Links("a@x.com")
	if len(links) != 2 {
		t.Errorf("Links() = %+v, want unchanged", links)
	}
	if _, pending := m.PendingID(); pending {
		t.Error("pending id should be cleared after failure")
	}
}

func TestManager_Cancel_IssuesNoDelete(t *testing.T) {
	api := &mockAPI{listFn: func(context.Context, string) ([]model.FavoriteLink, error) { return sampleLinks(), nil }}
	m := NewManager(api)
	_, _ = m.Load(context.Background(), "a@x.com")
	_ = m.RequestRemove("a@x.com", "f1")

	m.CancelRemove()

	if api.deletes.Load() != 0 {
		t.Errorf("DELETE calls = %d, want 0", api.deletes.Load())
	}
	if _, pending := m.PendingID(); pending {
		t.Error("pending id should be cleared")
	}
}

func TestManager_RequestRemove_UnknownOrForeign(t *testing.T) {
	api := &mockAPI{listFn: func(context.Context, string) ([]model.FavoriteLink, error) { return sampleLinks(), nil }}
	m := NewManager(api)

	if err := m.RequestRemove("a@x.com", "f1"); !model.IsCode(err, model.ErrCodeNotFound) {
		t.Errorf("before load: error = %v, want NOT_FOUND", err)
	}
	_, _ = m.Load(context.Background(), "a@x.com")
	if err := m.RequestRemove("a@x.com", "zz"); !model.IsCode(err, model.ErrCodeNotFound) {
		t.Errorf("unknown id: error = %v, want NOT_FOUND", err)
	}
	if err := m.RequestRemove("b@y.com", "f1"); !model.IsCode(err, model.ErrCodeNotFound) {
		t.Errorf("other user: error = %v, want NOT_FOUND", err)
	}
	if _, ok := m.Links("b@y.com"); ok {
		t.Error("listing loaded for another email should not be returned")
	}
}

func TestManager_LoadFailureKeepsPrevious(t *testing.T) {
	fail := false
	api := &mockAPI{listFn: func(context.Context, string) ([]model.FavoriteLink, error) {
		if fail {
			return nil, model.NewNetworkError()
		}
		return sampleLinks(), nil
	}}
	m := NewManager(api)
	_, _ = m.Load(context.Background(), "a@x.com")

	fail = true
	if _, err := m.Load(context.Background(), "a@x.com"); err == nil {
		t.Fatal("expected error")
	}
	if links, ok := m.Links("a@x.com"); !ok || len(links) != 2 {
		t.Errorf("Links() = %+v, %v", links, ok)
	}
}
