package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/trialkey-service/internal/eligibility"
	"github.com/trialkey-service/internal/keygen"
	"github.com/trialkey-service/internal/service"
	"github.com/trialkey-service/internal/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newKeyService(t *testing.T) (*service.KeyService, *testClock) {
	t.Helper()
	gen, err := keygen.New(keygen.DefaultPrefix)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	clock := &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	svc := service.NewKeyService(
		store.New(store.NewMemory(), nil),
		eligibility.NewGuard(nil, 30*time.Minute, 24*time.Hour),
		gen,
		24*time.Hour,
		nil,
		service.WithClock(clock.Now),
	)
	return svc, clock
}

func postJSON(t *testing.T, h http.Handler, path, remote string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func generateBody(fp string, completedAt time.Time) map[string]any {
	return map[string]any{
		"tasksData": map[string]any{
			"task1Completed": true,
			"task2Completed": true,
			"timestamp":      completedAt.UnixMilli(),
		},
		"userFingerprint": fp,
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestGenerateAndValidateFlow(t *testing.T) {
	svc, clock := newKeyService(t)
	generate := NewGenerateKeyHandler(svc)
	validate := NewValidateKeyHandler(svc)

	rec := postJSON(t, generate, "/api/generate-key", "1.2.3.4:5000", generateBody("fp-one", clock.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("expected success=true, got %v", body["success"])
	}
	key, _ := body["key"].(string)
	if key == "" {
		t.Fatal("expected key in response")
	}
	wantExpiry := clock.Now().Add(24 * time.Hour).Format(time.RFC3339)
	if body["expiresAt"] != wantExpiry {
		t.Fatalf("expected expiresAt %s, got %v", wantExpiry, body["expiresAt"])
	}

	// Same fingerprint from another address is refused with the held key.
	rec = postJSON(t, generate, "/api/generate-key", "9.9.9.9:5000", generateBody("fp-one", clock.Now()))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["error"] != service.CodeAlreadyIssued {
		t.Fatalf("expected already_issued, got %v", body["error"])
	}
	if body["existingKey"] != key {
		t.Fatalf("expected existingKey %s, got %v", key, body["existingKey"])
	}

	clock.Advance(90 * time.Minute)
	rec = postJSON(t, validate, "/api/validate-key", "1.2.3.4:5000", map[string]any{"key": key, "userFingerprint": "fp-one"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	if body["usageCount"] != float64(1) {
		t.Fatalf("expected usageCount 1, got %v", body["usageCount"])
	}
	left, _ := body["timeLeft"].(map[string]any)
	if left["hours"] != float64(22) || left["minutes"] != float64(30) {
		t.Fatalf("expected 22h30m left, got %v", left)
	}

	clock.Advance(23 * time.Hour)
	rec = postJSON(t, validate, "/api/validate-key", "1.2.3.4:5000", map[string]any{"key": key, "userFingerprint": "fp-one"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired key, got %d", rec.Code)
	}
	if body = decodeBody(t, rec); body["error"] != service.CodeKeyExpired {
		t.Fatalf("expected key_expired, got %v", body["error"])
	}

	rec = postJSON(t, validate, "/api/validate-key", "1.2.3.4:5000", map[string]any{"key": key, "userFingerprint": "fp-one"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after removal, got %d", rec.Code)
	}
	if body = decodeBody(t, rec); body["error"] != service.CodeInvalidKey {
		t.Fatalf("expected invalid_key after removal, got %v", body["error"])
	}
}

func TestGenerateKeyRejections(t *testing.T) {
	svc, clock := newKeyService(t)
	h := NewGenerateKeyHandler(svc)

	stale := generateBody("fp-stale", clock.Now().Add(-31*time.Minute))
	incomplete := generateBody("fp-partial", clock.Now())
	incomplete["tasksData"].(map[string]any)["task2Completed"] = false

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing tasksData", map[string]any{"userFingerprint": "fp"}, service.CodeInvalidRequest},
		{"missing fingerprint", map[string]any{"tasksData": map[string]any{"task1Completed": true}}, service.CodeInvalidRequest},
		{"stale claim", stale, service.CodeTasksNotCompleted},
		{"incomplete claim", incomplete, service.CodeTasksNotCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h, "/api/generate-key", "10.0.0.1:1", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["error"] != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, body["error"])
			}
			if body["success"] != false {
				t.Fatalf("expected success=false, got %v", body["success"])
			}
		})
	}
}

func TestGenerateKeyMalformedBody(t *testing.T) {
	svc, _ := newKeyService(t)
	h := NewGenerateKeyHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/generate-key", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestValidateKeyRejections(t *testing.T) {
	svc, _ := newKeyService(t)
	h := NewValidateKeyHandler(svc)

	tests := []struct {
		name   string
		body   any
		status int
		want   string
	}{
		{"missing key", map[string]any{"userFingerprint": "fp"}, http.StatusBadRequest, service.CodeInvalidRequest},
		{"missing fingerprint", map[string]any{"key": "FREE-00000000-00000000-00000000-00000000"}, http.StatusBadRequest, service.CodeInvalidRequest},
		{"unknown key", map[string]any{"key": "FREE-00000000-00000000-00000000-00000000", "userFingerprint": "fp"}, http.StatusUnauthorized, service.CodeInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h, "/api/validate-key", "10.0.0.1:1", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if body := decodeBody(t, rec); body["error"] != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, body["error"])
			}
		})
	}
}

func TestClaimFromTasksData(t *testing.T) {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	claim := claimFromTasksData(map[string]any{
		"task1Completed": true,
		"task2Completed": "yes",
		"Completed":      true,
		"other":          true,
		"timestamp":      float64(ts.UnixMilli()),
	})

	if !claim.Tasks["task1"] {
		t.Fatal("expected task1 completed")
	}
	if claim.Tasks["task2"] {
		t.Fatal("expected non-boolean flag to count as not completed")
	}
	if _, ok := claim.Tasks[""]; ok {
		t.Fatal("expected bare Completed key to be ignored")
	}
	if len(claim.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(claim.Tasks))
	}
	if !claim.CompletedAt.Equal(ts) {
		t.Fatalf("expected completedAt %v, got %v", ts, claim.CompletedAt)
	}

	if c := claimFromTasksData(map[string]any{"task1Completed": true}); !c.CompletedAt.IsZero() {
		t.Fatalf("expected zero completedAt without timestamp, got %v", c.CompletedAt)
	}
}

func TestHealthHandler(t *testing.T) {
	svc, clock := newKeyService(t)
	generate := NewGenerateKeyHandler(svc)
	for i := 0; i < 3; i++ {
		rec := postJSON(t, generate, "/api/generate-key", fmt.Sprintf("10.0.0.%d:1", i+1), generateBody(fmt.Sprintf("fp-%d", i), clock.Now()))
		if rec.Code != http.StatusOK {
			t.Fatalf("generate %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	NewHealthHandler(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Status != "OK" {
		t.Fatalf("unexpected health body: %+v", resp)
	}
	if resp.TotalKeys != 3 || resp.ActiveKeys != 3 {
		t.Fatalf("expected 3 total/active keys, got %d/%d", resp.TotalKeys, resp.ActiveKeys)
	}
}

func TestInfoHandler(t *testing.T) {
	h := NewInfoHandler("FREE", []string{"task1", "task2"}, 24*time.Hour, 30*time.Minute)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/info", nil))

	var resp InfoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.KeyPrefix != "FREE" || len(resp.RequiredTasks) != 2 {
		t.Fatalf("unexpected info %+v", resp)
	}
	if resp.ValidityHours != 24 || resp.TaskRecencyMinutes != 30 {
		t.Fatalf("unexpected windows %+v", resp)
	}
}

func TestHealthHandlerUnreadableStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write data file: %v", err)
	}
	gen, err := keygen.New(keygen.DefaultPrefix)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	svc := service.NewKeyService(
		store.New(store.NewFileBackend(path), nil),
		eligibility.NewGuard(nil, 30*time.Minute, 24*time.Hour),
		gen,
		24*time.Hour,
		nil,
	)

	rec := httptest.NewRecorder()
	NewHealthHandler(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Status != "OK" {
		t.Fatalf("unexpected health body: %+v", resp)
	}
	if resp.TotalKeys != 0 || resp.ActiveKeys != 0 {
		t.Fatalf("expected zero counts, got %d/%d", resp.TotalKeys, resp.ActiveKeys)
	}
}

func TestGenerateKeyWithoutRemoteAddrUsesFingerprintOnly(t *testing.T) {
	svc, clock := newKeyService(t)
	h := NewGenerateKeyHandler(svc)

	for _, fp := range []string{"fp-first", "fp-second"} {
		rec := postJSON(t, h, "/api/generate-key", "", generateBody(fp, clock.Now()))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", fp, rec.Code, rec.Body.String())
		}
	}

	rec := postJSON(t, h, "/api/generate-key", "", generateBody("fp-first", clock.Now()))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected repeat fingerprint to be refused, got %d", rec.Code)
	}
}
