package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/omnishot/batchd/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("huggingface: api key is required")

const (
	defaultHFBaseURL = "https://api-inference.huggingface.co"
	defaultHFModel   = "timbrooks/instruct-pix2pix"

	// The hosted inference API answers 503 while a cold model loads.
	// Those calls are retried here with fixed delays; the scheduler never
	// retries on top of this.
	modelLoadingAttempts = 3
)

// HFOptions configures the hosted inference client.
type HFOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	RetryDelay     time.Duration
}

// HFClient performs HTTP calls to a Hugging Face style hosted inference API.
// One call produces one image; Generate issues OutputCount calls.
type HFClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
	retryDelay time.Duration
}

type hfParameters struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfErrorResponse struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

// NewHFClient constructs a client with sane defaults and injected dependencies.
func NewHFClient(opts HFOptions) (*HFClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultHFBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultHFModel
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &HFClient{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
		retryDelay: retryDelay,
	}, nil
}

// Model returns the configured model identifier.
func (c *HFClient) Model() string {
	return c.model
}

// Generate produces req.OutputCount styled images from the source photo.
func (c *HFClient) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	if len(req.Image) == 0 {
		return nil, &ProviderError{Provider: "huggingface", Message: "source image payload is empty"}
	}
	count := req.OutputCount
	if count < 1 {
		count = 1
	}
	payload := hfRequest{
		Inputs: base64.StdEncoding.EncodeToString(req.Image),
		Parameters: hfParameters{
			Prompt:         StylePrompt(req.Style),
			NegativePrompt: "cartoon, illustration, distorted face, low quality",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("huggingface: encode request: %w", err)
	}

	result := &Result{Outputs: make([]Output, 0, count)}
	for i := 0; i < count; i++ {
		output, err := c.generateOne(ctx, body, req.RequestID)
		if err != nil {
			return nil, err
		}
		result.Outputs = append(result.Outputs, *output)
	}
	return result, nil
}

func (c *HFClient) generateOne(ctx context.Context, body []byte, requestID string) (*Output, error) {
	endpoint := fmt.Sprintf("%s/models/%s", c.baseURL, c.model)
	for attempt := 1; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("huggingface: build request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")
		if requestID != "" {
			httpReq.Header.Set("X-Request-ID", requestID)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, &ProviderError{Provider: "huggingface", Message: err.Error()}
		}
		output, retry, err := c.decodeResponse(resp)
		if err == nil {
			return output, nil
		}
		if !retry || attempt >= modelLoadingAttempts {
			return nil, err
		}
		if c.logger != nil {
			c.logger.Warn().
				Str("request_id", requestID).
				Int("attempt", attempt).
				Msg("huggingface: model loading, retrying")
		}
		select {
		case <-ctx.Done():
			return nil, &ProviderError{Provider: "huggingface", Message: ctx.Err().Error()}
		case <-time.After(c.retryDelay):
		}
	}
}

// decodeResponse normalizes one inference response. The second return value
// reports whether the failure is a transient model-loading 503.
func (c *HFClient) decodeResponse(resp *http.Response) (*Output, bool, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, false, &ProviderError{Provider: "huggingface", Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr hfErrorResponse
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		retry := resp.StatusCode == http.StatusServiceUnavailable
		return nil, retry, &ProviderError{Provider: "huggingface", StatusCode: resp.StatusCode, Message: message}
	}

	format := resp.Header.Get("Content-Type")
	if format == "" || !strings.HasPrefix(format, "image/") {
		format = "image/png"
	}
	output := &Output{Data: data, Format: format}
	if cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(data)); err == nil {
		output.Width = cfg.Width
		output.Height = cfg.Height
	}
	return output, false, nil
}

var _ Generator = (*HFClient)(nil)
