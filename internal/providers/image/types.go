package image

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// GenerateRequest describes a normalized request passed to any image provider.
type GenerateRequest struct {
	Image       []byte
	ImageRef    string
	Style       string
	OutputCount int
	Quality     string
	RequestID   string
	OwnerID     string
}

// Output represents one generated headshot.
type Output struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Result is the normalized provider response for a single variant.
type Result struct {
	Outputs []Output
}

// Generator is the contract implemented by all image providers. Calls are
// atomic from the caller's point of view: once issued they run to completion
// or error, bounded by the context deadline.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Result, error)
}

// Canceler is optionally implemented by providers that can stop an in-flight
// request. Cancellation is best effort; failures are logged, not escalated.
type Canceler interface {
	Cancel(ctx context.Context, requestID string) error
}

// ProviderError wraps a failed or timed-out generation call. It is absorbed
// into the owning job's variant results, never propagated to the submitter.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// stylePrompts maps a catalog style to the instruction sent to the hosted
// editing model.
var stylePrompts = map[string]string{
	"corporate":       "professional corporate headshot, navy suit, studio lighting, neutral grey background",
	"executive":       "executive portrait, dark tailored suit, confident posture, soft key light, dark backdrop",
	"business-casual": "business casual headshot, open collar shirt, warm office background, natural light",
	"creative":        "creative professional portrait, smart casual outfit, colorful studio backdrop, editorial look",
	"startup":         "modern startup headshot, plain tee under blazer, bright workspace background",
	"academic":        "academic portrait, blazer, bookshelf background, even diffuse lighting",
}

// StylePrompt returns the model instruction for a style. Styles outside the
// curated set get a generic prompt composed around the title-cased style
// name, so catalog additions degrade gracefully before a prompt is written.
func StylePrompt(style string) string {
	if prompt, ok := stylePrompts[style]; ok {
		return prompt
	}
	label := cases.Title(language.Und).String(strings.ReplaceAll(style, "-", " "))
	return fmt.Sprintf("professional %s headshot, studio lighting, neutral background", label)
}
