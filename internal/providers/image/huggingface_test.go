package image

import (
	"bytes"
	"context"
	"errors"
	stdimage "image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 120, B: 140, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestHFClient(t *testing.T, serverURL string) *HFClient {
	t.Helper()
	client, err := NewHFClient(HFOptions{
		APIKey:     "test-key",
		BaseURL:    serverURL,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHFClient returned error: %v", err)
	}
	return client
}

func TestHFClientRequiresAPIKey(t *testing.T) {
	if _, err := NewHFClient(HFOptions{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestHFClientGenerate(t *testing.T) {
	generated := encodeTestPNG(t, 512, 512)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Request-ID"); got != "job-1-01" {
			t.Errorf("X-Request-ID = %q", got)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(generated)
	}))
	defer server.Close()

	client := newTestHFClient(t, server.URL)
	result, err := client.Generate(context.Background(), GenerateRequest{
		Image:       encodeTestPNG(t, 64, 64),
		Style:       "corporate",
		OutputCount: 2,
		RequestID:   "job-1-01",
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(result.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(result.Outputs))
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server calls = %d, want 2", got)
	}
	out := result.Outputs[0]
	if out.Format != "image/png" || out.Width != 512 || out.Height != 512 {
		t.Fatalf("output metadata mismatch: %+v", out)
	}
}

func TestHFClientRetriesModelLoading(t *testing.T) {
	generated := encodeTestPNG(t, 128, 128)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model is currently loading","estimated_time":20.0}`))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(generated)
	}))
	defer server.Close()

	client := newTestHFClient(t, server.URL)
	result, err := client.Generate(context.Background(), GenerateRequest{
		Image: encodeTestPNG(t, 64, 64),
		Style: "executive",
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(result.Outputs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(result.Outputs))
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server calls = %d, want 2 (one retry)", got)
	}
}

func TestHFClientGivesUpAfterLoadingAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
	}))
	defer server.Close()

	client := newTestHFClient(t, server.URL)
	_, err := client.Generate(context.Background(), GenerateRequest{Image: []byte("img"), Style: "corporate"})
	var provErr *ProviderError
	if !errors.As(err, &provErr) || provErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want ProviderError with 503", err)
	}
	if got := calls.Load(); got != modelLoadingAttempts {
		t.Fatalf("server calls = %d, want %d", got, modelLoadingAttempts)
	}
}

func TestHFClientDoesNotRetryHardFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid input payload"}`))
	}))
	defer server.Close()

	client := newTestHFClient(t, server.URL)
	_, err := client.Generate(context.Background(), GenerateRequest{Image: []byte("img"), Style: "corporate"})
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if provErr.StatusCode != http.StatusBadRequest || provErr.Message != "invalid input payload" {
		t.Fatalf("provider error mismatch: %+v", provErr)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server calls = %d, want 1 (no retry on 400)", got)
	}
}

func TestHFClientRejectsEmptyImage(t *testing.T) {
	client := newTestHFClient(t, "http://127.0.0.1:0")
	_, err := client.Generate(context.Background(), GenerateRequest{Style: "corporate"})
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
}
