package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名とラベルに一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordGuardDecision_CountsPerState(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGuardDecision("denied")
	c.RecordGuardDecision("denied")
	c.RecordGuardDecision("authorized")

	if v := findMetric(t, reg, "foodreview_guard_decisions_total", map[string]string{"state": "denied"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("denied = %v, want 2", v)
	}
	if v := findMetric(t, reg, "foodreview_guard_decisions_total", map[string]string{"state": "authorized"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("authorized = %v, want 1", v)
	}
}

func TestRecordAuthAction_CountsPerActionAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAction("login", "success")
	c.RecordAuthAction("login", "INVALID_CREDENTIAL")

	m := findMetric(t, reg, "foodreview_auth_actions_total", map[string]string{"action": "login", "outcome": "INVALID_CREDENTIAL"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("login/INVALID_CREDENTIAL = %v, want 1", v)
	}
}

func TestRecordFavoriteAdd_CountsPerOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFavoriteAdd("already_favorited")

	m := findMetric(t, reg, "foodreview_favorite_adds_total", map[string]string{"outcome": "already_favorited"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("already_favorited = %v, want 1", v)
	}
}

func TestRecordAPICall_LabelsStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantLabel  string
	}{
		{"成功", 200, "200"},
		{"サーバーエラー", 503, "503"},
		{"通信失敗", 0, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			c := NewCollector(reg)

			c.RecordAPICall("get_review", tt.statusCode)

			m := findMetric(t, reg, "foodreview_review_api_calls_total",
				map[string]string{"endpoint": "get_review", "status_code": tt.wantLabel})
			if v := m.GetCounter().GetValue(); v != 1 {
				t.Errorf("counter = %v, want 1", v)
			}
		})
	}
}

func TestRecordAPILatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAPILatency("list_reviews", 150*time.Millisecond)
	c.RecordAPILatency("list_reviews", 50*time.Millisecond)

	h := findMetric(t, reg, "foodreview_review_api_latency_seconds", map[string]string{"endpoint": "list_reviews"}).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 0.19 || sum > 0.21 {
		t.Errorf("sample sum = %v, want ~0.2", sum)
	}
}

func TestSetActiveClients_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetActiveClients(7)
	c.SetActiveClients(3)

	if v := findMetric(t, reg, "foodreview_active_clients", nil).GetGauge().GetValue(); v != 3 {
		t.Errorf("active clients = %v, want 3", v)
	}
}

// TestHandler_ReturnsPrometheusFormat はHandlerがPrometheus形式で出力することを検証する。
func TestHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordGuardDecision("denied")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `foodreview_guard_decisions_total{state="denied"} 1`) {
		t.Errorf("response should contain guard decision counter, got:\n%s", body)
	}
}

// TestMultipleCollectors_IndependentRegistries は独立したレジストリで重複登録が起きないことを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	NewCollector(prometheus.NewRegistry())
	NewCollector(prometheus.NewRegistry())
}
