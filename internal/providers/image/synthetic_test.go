package image

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestSyntheticGeneratesDeterministicOutputs(t *testing.T) {
	gen := NewSynthetic(0)
	req := GenerateRequest{Style: "corporate", OutputCount: 2}

	first, err := gen.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(first.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(first.Outputs))
	}
	for _, out := range first.Outputs {
		if out.Format != "image/png" || out.Width != syntheticSize || out.Height != syntheticSize {
			t.Fatalf("output metadata mismatch: %+v", out)
		}
	}

	second, err := gen.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !bytes.Equal(first.Outputs[0].Data, second.Outputs[0].Data) {
		t.Fatal("same style produced different pixels")
	}

	other, err := gen.Generate(context.Background(), GenerateRequest{Style: "creative"})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if bytes.Equal(first.Outputs[0].Data, other.Outputs[0].Data) {
		t.Fatal("different styles produced identical pixels")
	}
}

func TestSyntheticCancelAbortsInflightRequest(t *testing.T) {
	gen := NewSynthetic(10 * time.Second)
	done := make(chan error, 1)
	go func() {
		_, err := gen.Generate(context.Background(), GenerateRequest{Style: "corporate", RequestID: "job-9-01"})
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		gen.mu.Lock()
		_, tracked := gen.inflight["job-9-01"]
		gen.mu.Unlock()
		if tracked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("request never tracked as in flight")
		}
		time.Sleep(time.Millisecond)
	}

	if err := gen.Cancel(context.Background(), "job-9-01"); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	select {
	case err := <-done:
		var provErr *ProviderError
		if !errors.As(err, &provErr) {
			t.Fatalf("err = %v, want ProviderError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after Cancel")
	}
}

func TestSyntheticCancelUnknownRequestIsNoop(t *testing.T) {
	gen := NewSynthetic(0)
	if err := gen.Cancel(context.Background(), "missing"); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
}
