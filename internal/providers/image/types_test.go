package image

import (
	"strings"
	"testing"
)

func TestStylePromptCuratedStyles(t *testing.T) {
	prompt := StylePrompt("corporate")
	if !strings.Contains(prompt, "corporate headshot") {
		t.Fatalf("corporate prompt = %q", prompt)
	}
}

func TestStylePromptComposesFallbackFromStyleName(t *testing.T) {
	prompt := StylePrompt("film-noir")
	if !strings.Contains(prompt, "Film Noir") {
		t.Fatalf("fallback prompt should title-case the style name: %q", prompt)
	}
	if !strings.Contains(prompt, "professional") || !strings.Contains(prompt, "headshot") {
		t.Fatalf("fallback prompt lost the generic framing: %q", prompt)
	}
}

func TestProviderErrorFormatting(t *testing.T) {
	withStatus := &ProviderError{Provider: "huggingface", StatusCode: 503, Message: "loading"}
	if got := withStatus.Error(); got != "huggingface: loading (status 503)" {
		t.Fatalf("Error() = %q", got)
	}
	withoutStatus := &ProviderError{Provider: "synthetic", Message: "cancelled"}
	if got := withoutStatus.Error(); got != "synthetic: cancelled" {
		t.Fatalf("Error() = %q", got)
	}
}
