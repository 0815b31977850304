package image

import (
	"bytes"
	"context"
	"hash/fnv"
	stdimage "image"
	"image/color"
	"image/png"
	"sync"
	"time"
)

const syntheticSize = 256

// Synthetic renders placeholder headshots locally. It stands in for the
// hosted provider when no API key is configured and in tests; generated
// pixels are a deterministic function of the style name.
type Synthetic struct {
	delay time.Duration

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewSynthetic creates a synthetic generator that simulates the given call
// latency per request.
func NewSynthetic(delay time.Duration) *Synthetic {
	return &Synthetic{
		delay:    delay,
		inflight: make(map[string]chan struct{}),
	}
}

// Generate renders req.OutputCount placeholder images after the configured delay.
func (s *Synthetic) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	count := req.OutputCount
	if count < 1 {
		count = 1
	}

	if s.delay > 0 {
		stop := s.track(req.RequestID)
		defer s.untrack(req.RequestID)
		select {
		case <-time.After(s.delay):
		case <-stop:
			return nil, &ProviderError{Provider: "synthetic", Message: "request cancelled"}
		case <-ctx.Done():
			return nil, &ProviderError{Provider: "synthetic", Message: ctx.Err().Error()}
		}
	}

	result := &Result{Outputs: make([]Output, 0, count)}
	for i := 0; i < count; i++ {
		data, err := renderPlaceholder(req.Style, i)
		if err != nil {
			return nil, &ProviderError{Provider: "synthetic", Message: err.Error()}
		}
		result.Outputs = append(result.Outputs, Output{
			Data:   data,
			Format: "image/png",
			Width:  syntheticSize,
			Height: syntheticSize,
		})
	}
	return result, nil
}

// Cancel aborts the in-flight request with the given id, if any.
func (s *Synthetic) Cancel(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.inflight[requestID]; ok {
		close(stop)
		delete(s.inflight, requestID)
	}
	return nil
}

func (s *Synthetic) track(requestID string) chan struct{} {
	stop := make(chan struct{})
	s.mu.Lock()
	s.inflight[requestID] = stop
	s.mu.Unlock()
	return stop
}

func (s *Synthetic) untrack(requestID string) {
	s.mu.Lock()
	delete(s.inflight, requestID)
	s.mu.Unlock()
}

func renderPlaceholder(style string, index int) ([]byte, error) {
	h := fnv.New32a()
	h.Write([]byte(style))
	seed := h.Sum32() + uint32(index)

	img := stdimage.NewRGBA(stdimage.Rect(0, 0, syntheticSize, syntheticSize))
	base := color.RGBA{
		R: uint8(seed),
		G: uint8(seed >> 8),
		B: uint8(seed >> 16),
		A: 255,
	}
	for y := 0; y < syntheticSize; y++ {
		for x := 0; x < syntheticSize; x++ {
			img.SetRGBA(x, y, base)
		}
	}

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	_ Generator = (*Synthetic)(nil)
	_ Canceler  = (*Synthetic)(nil)
)
