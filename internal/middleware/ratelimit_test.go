package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testLimiterConfig(generalBurst, mutationBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		MutationRate:    1,
		MutationBurst:   mutationBurst,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(2, 10))
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5678"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestRateLimitMiddleware_KeyedByAccount(t *testing.T) {
	reg := newTestRegistry(t)
	a, _, _ := reg.Resolve(context.Background(), "", "valid")
	b, _, _ := reg.Resolve(context.Background(), "", "valid")
	anon, _, _ := reg.Resolve(context.Background(), "", "")

	rl := NewRateLimiter(testLimiterConfig(1, 10))
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	send := func(ctx context.Context, addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if got := send(ContextWithClient(context.Background(), a), "192.0.2.1:1"); got != http.StatusOK {
		t.Errorf("client A first: %d", got)
	}
	// 同じアカウントならclient_idや接続元が違っても同じ制限を共有する
	if got := send(ContextWithClient(context.Background(), b), "192.0.2.2:1"); got != http.StatusTooManyRequests {
		t.Errorf("client B of the same account: %d, want 429", got)
	}
	// 未サインインのクライアントは接続元アドレスで数える
	if got := send(ContextWithClient(context.Background(), anon), "192.0.2.1:2"); got != http.StatusOK {
		t.Errorf("anonymous first: %d", got)
	}
	if got := send(context.Background(), "192.0.2.1:3"); got != http.StatusTooManyRequests {
		t.Errorf("same address without client: %d, want 429", got)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimitMiddleware_CookielessBurstIsLimitedBeforeClientCreation(t *testing.T) {
	reg := newTestRegistry(t)
	rl := NewRateLimiter(testLimiterConfig(1, 10))
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(NewClientMiddleware(reg, CookieConfig{MaxAge: 3600})(okHandler()))

	allowed := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.7:" + strconv.Itoa(40000+i)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			allowed++
		}
	}

	if allowed != 1 {
		t.Errorf("allowed = %d, want 1", allowed)
	}
	if reg.Len() != 1 {
		t.Errorf("registry entries = %d, want 1", reg.Len())
	}
	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}
}

func TestRateLimitMiddleware_MutationIndependentOfGeneral(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(10, 1))
	defer rl.Stop()
	general := rl.GeneralMiddleware()(okHandler())
	mutation := rl.MutationMiddleware()(okHandler())

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/favorites", nil)
		r.RemoteAddr = "192.0.2.9:1"
		return r
	}

	w := httptest.NewRecorder()
	mutation.ServeHTTP(w, req())
	if w.Code != http.StatusOK {
		t.Fatalf("first mutation: %d", w.Code)
	}
	w = httptest.NewRecorder()
	mutation.ServeHTTP(w, req())
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second mutation: %d, want 429", w.Code)
	}
	w = httptest.NewRecorder()
	general.ServeHTTP(w, req())
	if w.Code != http.StatusOK {
		t.Errorf("general should be unaffected: %d", w.Code)
	}
	if rl.MutationLimiterCount() != 1 {
		t.Errorf("MutationLimiterCount = %d, want 1", rl.MutationLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 5))
	defer rl.Stop()

	rl.general.getOrCreate("addr:stale")
	rl.general.limiters["addr:stale"].lastAccess = time.Now().Add(-time.Hour)
	rl.general.getOrCreate("addr:fresh")

	rl.cleanup()

	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}
	if _, ok := rl.general.limiters["addr:fresh"]; !ok {
		t.Error("fresh entry should remain")
	}
}

func TestRateLimiterConfigPerMinute(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(120, 30)
	if cfg.GeneralRate != 2 || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.MutationRate != 0.5 || cfg.MutationBurst != 30 {
		t.Errorf("mutation = %v/%d", cfg.MutationRate, cfg.MutationBurst)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}
