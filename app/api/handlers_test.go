package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/dedup"
	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/sources"
	"github.com/lysyi3m/news-comb/app/tasks"
)

const testKey = "secret-key"

type mockJobs struct {
	jobs    map[string]tasks.FetchJob
	enabled []string
	runs    []string
}

func (m *mockJobs) Jobs() []tasks.FetchJob {
	var out []tasks.FetchJob
	for _, name := range []string{"esa", "nasa"} {
		if job, ok := m.jobs[name]; ok {
			out = append(out, job)
		}
	}
	return out
}

func (m *mockJobs) Job(name string) (tasks.FetchJob, bool) {
	job, ok := m.jobs[name]
	return job, ok
}

func (m *mockJobs) Enable(ctx context.Context, name string) error {
	job, ok := m.jobs[name]
	if !ok {
		return tasks.ErrJobNotFound
	}
	job.State = tasks.JobIdle
	m.jobs[name] = job
	m.enabled = append(m.enabled, name)
	return nil
}

func (m *mockJobs) RunNow(name string) error {
	job, ok := m.jobs[name]
	if !ok {
		return tasks.ErrJobNotFound
	}
	if job.State == tasks.JobDisabled {
		return tasks.ErrJobDisabled
	}
	m.runs = append(m.runs, name)
	return nil
}

type mockItemStore struct {
	items map[string]item.CanonicalItem
	err   error
}

func (m *mockItemStore) GetRecentItems(ctx context.Context, since time.Time, limit int) ([]item.CanonicalItem, error) {
	return nil, nil
}

func (m *mockItemStore) UpsertItem(ctx context.Context, c item.CanonicalItem) error {
	return nil
}

func (m *mockItemStore) GetItemByFingerprint(ctx context.Context, fingerprint string) (*item.CanonicalItem, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.items[fingerprint]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *mockItemStore) GetItemStats(ctx context.Context) (database.ItemStats, error) {
	return database.ItemStats{Total: len(m.items), Merged: 1, MergeTotal: 2}, nil
}

type mockRunStore struct {
	source string
	limit  int
}

func (m *mockRunStore) SaveRun(ctx context.Context, r item.IngestReport) error {
	return nil
}

func (m *mockRunStore) GetRuns(ctx context.Context, source string, limit int) ([]item.IngestReport, error) {
	m.source = source
	m.limit = limit
	return []item.IngestReport{{RunID: "run-1", Source: "nasa", Created: 3}}, nil
}

type mockIndex struct{}

func (mockIndex) Stats() dedup.Stats {
	return dedup.Stats{WindowItems: 42}
}

type mockPinger struct {
	err error
}

func (m mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

type testEnv struct {
	router *gin.Engine
	jobs   *mockJobs
	items  *mockItemStore
	runs   *mockRunStore
}

func newTestEnv(t *testing.T, db Pinger) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	configCache := sources.NewConfigCache(t.TempDir())
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		jobs: &mockJobs{jobs: map[string]tasks.FetchJob{
			"nasa": {Name: "nasa", State: tasks.JobDisabled, FailureCount: 5},
			"esa":  {Name: "esa", State: tasks.JobIdle},
		}},
		items: &mockItemStore{items: map[string]item.CanonicalItem{
			"abc123": {ID: "item-1", Fingerprint: "abc123", Title: "NASA Launches New Rover", Sources: []string{"A", "B"}},
		}},
		runs: &mockRunStore{},
	}

	handler := NewHandler(configCache, env.jobs, env.items, env.items, env.runs, mockIndex{}, db, nil)
	env.router = NewServer(handler, testKey)
	return env
}

func (e *testEnv) do(method, path string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorized {
		req.Header.Set("X-API-Key", testKey)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, mockPinger{})

	w := env.do(http.MethodGet, "/health", false)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["database"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body)
	}

	env = newTestEnv(t, mockPinger{err: errors.New("database is closed")})
	if w := env.do(http.MethodGet, "/health", false); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/stats", false)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var body struct {
		Jobs        map[string]int `json:"jobs"`
		Items       map[string]int `json:"items"`
		DedupWindow dedup.Stats    `json:"dedup_window"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Jobs["disabled"] != 1 || body.Jobs["idle"] != 1 {
		t.Errorf("Expected one disabled and one idle job, got %v", body.Jobs)
	}
	if body.Items["total"] != 1 {
		t.Errorf("Expected 1 item, got %v", body.Items)
	}
	if body.DedupWindow.WindowItems != 42 {
		t.Errorf("Expected 42 window items, got %d", body.DedupWindow.WindowItems)
	}
}

func TestAPIRequiresKey(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.do(http.MethodGet, "/api/jobs", false); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without key, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 with wrong key, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 with bearer key, got %d", w.Code)
	}
}

func TestAPIListJobs(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/jobs", true)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var body struct {
		Jobs  []tasks.FetchJob `json:"jobs"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 2 || body.Jobs[1].State != tasks.JobDisabled {
		t.Errorf("Expected 2 jobs with 'nasa' disabled, got %+v", body)
	}
}

func TestAPIEnableAndRunJob(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.do(http.MethodPost, "/api/jobs/nasa/run", true); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for disabled job, got %d", w.Code)
	}

	if w := env.do(http.MethodPost, "/api/jobs/nasa/enable", true); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if len(env.jobs.enabled) != 1 || env.jobs.enabled[0] != "nasa" {
		t.Errorf("Expected 'nasa' to be enabled, got %v", env.jobs.enabled)
	}

	if w := env.do(http.MethodPost, "/api/jobs/nasa/run", true); w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
	if len(env.jobs.runs) != 1 {
		t.Errorf("Expected 1 run-now, got %d", len(env.jobs.runs))
	}

	if w := env.do(http.MethodPost, "/api/jobs/unknown/enable", true); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestAPIListRuns(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/runs?source=nasa&limit=1000", true)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if env.runs.source != "nasa" || env.runs.limit != maxRunsLimit {
		t.Errorf("Expected source 'nasa' and limit %d, got '%s' and %d", maxRunsLimit, env.runs.source, env.runs.limit)
	}

	if w := env.do(http.MethodGet, "/api/runs?limit=abc", true); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	env.do(http.MethodGet, "/api/runs", true)
	if env.runs.limit != defaultRunsLimit {
		t.Errorf("Expected default limit %d, got %d", defaultRunsLimit, env.runs.limit)
	}
}

func TestAPIGetItem(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/items/abc123", true)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var canonical item.CanonicalItem
	if err := json.Unmarshal(w.Body.Bytes(), &canonical); err != nil {
		t.Fatal(err)
	}
	if canonical.ID != "item-1" || len(canonical.Sources) != 2 {
		t.Errorf("Unexpected item: %+v", canonical)
	}

	if w := env.do(http.MethodGet, "/api/items/unknown", true); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	env.items.err = errors.New("database is locked")
	if w := env.do(http.MethodGet, "/api/items/abc123", true); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}
