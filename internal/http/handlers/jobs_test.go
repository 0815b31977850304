package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/omnishot/batchd/internal/adapter/repo"
	"github.com/omnishot/batchd/internal/providers/image"
	"github.com/omnishot/batchd/internal/scheduler"
	"github.com/omnishot/batchd/internal/storage"
)

type testEnv struct {
	router http.Handler
	sched  *scheduler.Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repo.NewMemoryStore()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	sched, err := scheduler.New(scheduler.Options{
		Config: scheduler.Config{
			MaxConcurrentJobs: 2,
			TickInterval:      10 * time.Millisecond,
			ProviderTimeout:   2 * time.Second,
		},
		Store:           store,
		Providers:       map[string]image.Generator{"synthetic": image.NewSynthetic(0)},
		DefaultProvider: "synthetic",
		Files:           files,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("scheduler.New returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("scheduler.Start returned error: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelDrain()
		_ = sched.Shutdown(drainCtx)
	})

	app := NewApp(sched, files, zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/metrics", app.Metrics)
	r.Post("/v1/jobs", app.SubmitJob)
	r.Get("/v1/jobs", app.ListJobs)
	r.Get("/v1/jobs/{job_id}", app.JobStatus)
	r.Post("/v1/jobs/{job_id}/cancel", app.CancelJob)
	r.Get("/v1/jobs/{job_id}/download", app.DownloadJob)
	return &testEnv{router: r, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func submitPayload() map[string]any {
	return map[string]any{
		"owner_id":     "owner-1",
		"image_base64": base64.StdEncoding.EncodeToString([]byte("photo-bytes")),
		"batch_type":   "express",
		"priority":     "high",
	}
}

func (e *testEnv) waitCompleted(t *testing.T, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := e.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status poll returned %d: %s", rec.Code, rec.Body.String())
		}
		var report map[string]any
		decodeBody(t, rec, &report)
		switch report["status"] {
		case "completed":
			return report
		case "failed", "cancelled":
			t.Fatalf("job ended %v: %v", report["status"], report["error_details"])
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for job %s", jobID)
	return nil
}

func TestSubmitStatusAndDownloadFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/jobs", submitPayload())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit returned %d: %s", rec.Code, rec.Body.String())
	}
	var receipt struct {
		JobID         string `json:"job_id"`
		QueuePosition int    `json:"queue_position"`
		Estimates     struct {
			DurationMS int64 `json:"duration_ms"`
			CostCents  int   `json:"cost_cents"`
		} `json:"estimates"`
	}
	decodeBody(t, rec, &receipt)
	if receipt.JobID == "" || receipt.QueuePosition != 1 || receipt.Estimates.CostCents <= 0 {
		t.Fatalf("receipt incomplete: %+v", receipt)
	}
	// The express preset runs one weight-1.0 variant with one output: 20s,
	// reported in milliseconds.
	if receipt.Estimates.DurationMS != 20000 {
		t.Fatalf("duration_ms = %d, want 20000", receipt.Estimates.DurationMS)
	}

	report := env.waitCompleted(t, receipt.JobID)
	if report["progress"] != float64(100) {
		t.Fatalf("progress = %v, want 100", report["progress"])
	}

	download := env.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%s/download", receipt.JobID), nil)
	if download.Code != http.StatusOK {
		t.Fatalf("download returned %d: %s", download.Code, download.Body.String())
	}
	if got := download.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("Content-Type = %q", got)
	}
	archive, err := zip.NewReader(bytes.NewReader(download.Body.Bytes()), int64(download.Body.Len()))
	if err != nil {
		t.Fatalf("download is not a zip archive: %v", err)
	}
	if len(archive.File) != 1 {
		t.Fatalf("archive holds %d files, want 1", len(archive.File))
	}
	if !strings.Contains(archive.File[0].Name, receipt.JobID) {
		t.Fatalf("archive entry %q does not reference the job", archive.File[0].Name)
	}
}

func TestSubmitRejectsBadPayloads(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name     string
		body     map[string]any
		wantKind string
	}{
		{
			name:     "missing owner",
			body:     map[string]any{"image_base64": base64.StdEncoding.EncodeToString([]byte("x")), "styles": []string{"corporate"}},
			wantKind: "validation_failed",
		},
		{
			name:     "unknown preset",
			body:     map[string]any{"owner_id": "o", "image_base64": base64.StdEncoding.EncodeToString([]byte("x")), "batch_type": "deluxe"},
			wantKind: "validation_failed",
		},
		{
			name:     "invalid base64",
			body:     map[string]any{"owner_id": "o", "image_base64": "not-base64!!", "styles": []string{"corporate"}},
			wantKind: "bad_request",
		},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodPost, "/v1/jobs", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, rec.Code)
		}
		var body map[string]string
		decodeBody(t, rec, &body)
		if body["error"] != tc.wantKind {
			t.Fatalf("%s: error = %q, want %q", tc.name, body["error"], tc.wantKind)
		}
	}
}

func TestJobStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/jobs/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelRequiresOwner(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/jobs", submitPayload())
	var receipt struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, rec, &receipt)
	env.waitCompleted(t, receipt.JobID)

	missing := env.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%s/cancel", receipt.JobID), map[string]any{})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("cancel without owner = %d, want 400", missing.Code)
	}

	// Terminal jobs read as not found for cancellation.
	terminal := env.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%s/cancel", receipt.JobID), map[string]any{"owner_id": "owner-1"})
	if terminal.Code != http.StatusNotFound {
		t.Fatalf("cancel terminal job = %d, want 404", terminal.Code)
	}
}

func TestDownloadBeforeCompletionConflicts(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/jobs/nope/download", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("download unknown job = %d, want 404", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/jobs", submitPayload())
	var receipt struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, rec, &receipt)
	env.waitCompleted(t, receipt.JobID)

	list := env.do(t, http.MethodGet, "/v1/jobs?owner_id=owner-1", nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", list.Code, list.Body.String())
	}
	var body struct {
		Items []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"items"`
	}
	decodeBody(t, list, &body)
	if len(body.Items) != 1 || body.Items[0].ID != receipt.JobID || body.Items[0].Status != "completed" {
		t.Fatalf("list body mismatch: %+v", body.Items)
	}

	empty := env.do(t, http.MethodGet, "/v1/jobs?owner_id=nobody", nil)
	var emptyBody struct {
		Items []any `json:"items"`
	}
	decodeBody(t, empty, &emptyBody)
	if emptyBody.Items == nil {
		t.Fatal("items must be an empty array, not null")
	}

	missingOwner := env.do(t, http.MethodGet, "/v1/jobs", nil)
	if missingOwner.Code != http.StatusBadRequest {
		t.Fatalf("list without owner = %d, want 400", missingOwner.Code)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	env := newTestEnv(t)

	health := env.do(t, http.MethodGet, "/v1/healthz", nil)
	if health.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", health.Code)
	}

	rec := env.do(t, http.MethodPost, "/v1/jobs", submitPayload())
	var receipt struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, rec, &receipt)
	env.waitCompleted(t, receipt.JobID)

	metrics := env.do(t, http.MethodGet, "/v1/metrics", nil)
	if metrics.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", metrics.Code)
	}
	var snap struct {
		TotalJobs   int     `json:"total_jobs"`
		SuccessRate float64 `json:"success_rate"`
	}
	decodeBody(t, metrics, &snap)
	if snap.TotalJobs != 1 || snap.SuccessRate != 1.0 {
		t.Fatalf("metrics mismatch: %+v", snap)
	}
}
