package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/genflow/internal/core/domain"
)

// HTTPClient implements Transport for REST generation APIs in the style of
// Google's generative language endpoints: synchronous generation via
// models/{model}:generateContent, long-running video jobs via
// models/{model}:predictLongRunning, and operation polling via GET /{name}.
type HTTPClient struct {
	name       string
	baseURL    string
	httpClient *http.Client

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *Monitor
}

// NewHTTPClient creates a new REST generation transport.
func NewHTTPClient(name, baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewMonitor(),
	}
}

// Name returns the provider's name.
func (c *HTTPClient) Name() string {
	return c.name
}

// Request/response wire shapes.

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	FileData   *fileData   `json:"fileData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []contentPart `json:"parts"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      *content `json:"content"`
		FinishReason string   `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters *predictParams    `json:"parameters,omitempty"`
}

type predictInstance struct {
	Prompt string        `json:"prompt,omitempty"`
	Image  *predictImage `json:"image,omitempty"`
}

type predictImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type predictParams struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

type operationResponse struct {
	Name     string    `json:"name"`
	Done     bool      `json:"done"`
	Error    *apiError `json:"error"`
	Response *struct {
		GenerateVideoResponse *struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
		GeneratedVideos []struct {
			Video struct {
				URI string `json:"uri"`
			} `json:"video"`
		} `json:"generatedVideos"`
		Video *struct {
			URI string `json:"uri"`
		} `json:"video"`
	} `json:"response"`
}

// Generate performs one synchronous generation call.
func (c *HTTPClient) Generate(ctx context.Context, key, model string, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	parts := []contentPart{{Text: req.Prompt}}
	if req.Reference != nil {
		parts = append(parts, contentPart{
			InlineData: &inlineData{MimeType: req.Reference.MimeType, Data: req.Reference.Data},
		})
	}

	body := generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}
	if req.AspectRatio != "" {
		body.GenerationConfig.ImageConfig = &imageConfig{AspectRatio: req.AspectRatio}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	raw, err := c.doJSON(ctx, http.MethodPost, endpoint, key, body)
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("parse generate response: %w", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, &Error{
			Provider: c.name,
			Status:   resp.PromptFeedback.BlockReason,
			Message:  fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason),
		}
	}

	for _, cand := range resp.Candidates {
		if cand.FinishReason != "" && cand.FinishReason != "STOP" && cand.FinishReason != "MAX_TOKENS" {
			return nil, &Error{
				Provider: c.name,
				Status:   cand.FinishReason,
				Message:  fmt.Sprintf("generation stopped: %s", cand.FinishReason),
			}
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("decode inline data: %w", err)
				}
				return &domain.GenerationResult{
					Model:    model,
					MimeType: part.InlineData.MimeType,
					Data:     data,
				}, nil
			}
			if part.FileData != nil && part.FileData.FileURI != "" {
				return &domain.GenerationResult{
					Model:     model,
					MimeType:  part.FileData.MimeType,
					Reference: domain.ResultReference(part.FileData.FileURI),
				}, nil
			}
		}
	}

	return nil, &Error{Provider: c.name, Message: "response contained no generated content"}
}

// SubmitJob starts a long-running generation job and returns its handle.
func (c *HTTPClient) SubmitJob(ctx context.Context, key, model string, req *domain.GenerationRequest) (*domain.OperationHandle, error) {
	instance := predictInstance{Prompt: req.Prompt}
	if req.Reference != nil {
		instance.Image = &predictImage{
			BytesBase64Encoded: req.Reference.Data,
			MimeType:           req.Reference.MimeType,
		}
	}

	body := predictRequest{
		Instances: []predictInstance{instance},
	}
	if req.AspectRatio != "" || req.Resolution != "" {
		body.Parameters = &predictParams{AspectRatio: req.AspectRatio, Resolution: req.Resolution}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:predictLongRunning", c.baseURL, model)
	raw, err := c.doJSON(ctx, http.MethodPost, endpoint, key, body)
	if err != nil {
		return nil, err
	}

	var resp operationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("parse submit response: %w", err)
	}
	if resp.Name == "" {
		return nil, &Error{Provider: c.name, Message: "submit returned no operation name"}
	}

	return c.toHandle(&resp), nil
}

// RefreshJob fetches the current state of a submitted job.
func (c *HTTPClient) RefreshJob(ctx context.Context, key string, handle *domain.OperationHandle) (*domain.OperationHandle, error) {
	endpoint := fmt.Sprintf("%s/v1beta/%s", c.baseURL, strings.TrimPrefix(handle.Name, "/"))
	raw, err := c.doJSON(ctx, http.MethodGet, endpoint, key, nil)
	if err != nil {
		return nil, err
	}

	var resp operationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("parse operation response: %w", err)
	}
	if resp.Name == "" {
		resp.Name = handle.Name
	}

	return c.toHandle(&resp), nil
}

func (c *HTTPClient) toHandle(resp *operationResponse) *domain.OperationHandle {
	handle := &domain.OperationHandle{
		Name: resp.Name,
		Done: resp.Done,
	}
	if resp.Error != nil && resp.Error.Message != "" {
		handle.ErrorMessage = resp.Error.Message
	}
	if resp.Response == nil {
		return handle
	}

	result := &domain.OperationResult{}
	if gv := resp.Response.GenerateVideoResponse; gv != nil && len(gv.GeneratedSamples) > 0 {
		result.VideoURI = gv.GeneratedSamples[0].Video.URI
	}
	if len(resp.Response.GeneratedVideos) > 0 {
		result.DownloadURI = resp.Response.GeneratedVideos[0].Video.URI
	}
	if resp.Response.Video != nil {
		result.FileURI = resp.Response.Video.URI
	}
	handle.Result = result
	return handle
}

// doJSON executes one request against the provider and returns the raw body.
// Non-2xx responses are converted into *Error with the structured code,
// status and message the API returns in its error envelope.
func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint, key string, body any) ([]byte, error) {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			c.recordFailure()
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("provider call: %w", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.Monitor.RecordThrottle(429, resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode == http.StatusForbidden {
		c.Monitor.RecordThrottle(403, "")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recordFailure()
		perr := c.parseError(resp.StatusCode, raw)
		// Some quota failures come back under other status codes with only
		// the message saying so.
		if resp.StatusCode != http.StatusTooManyRequests && c.Monitor.DetectThrottlePattern(perr.Message) {
			c.Monitor.RecordThrottle(429, resp.Header.Get("Retry-After"))
		}
		return nil, perr
	}

	c.Monitor.RecordRequest(latency)
	c.recordSuccess(latency)

	return raw, nil
}

func (c *HTTPClient) parseError(statusCode int, body []byte) *Error {
	var envelope struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		code := envelope.Error.Code
		if code == 0 {
			code = statusCode
		}
		return &Error{
			Provider: c.name,
			Code:     code,
			Status:   envelope.Error.Status,
			Message:  envelope.Error.Message,
		}
	}
	return &Error{
		Provider: c.name,
		Code:     statusCode,
		Message:  strings.TrimSpace(string(body)),
	}
}

// GetHealth returns the provider's health status.
func (c *HTTPClient) GetHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.health
	stats := c.Monitor.GetStats()
	h.MonitorStats = &stats
	return h
}

// IsAvailable checks if the provider is healthy enough to use.
func (c *HTTPClient) IsAvailable() bool {
	status := c.Monitor.CheckStatus()
	return status == StatusHealthy || status == StatusDegraded
}

// Close cleans up resources.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successCount++
	c.requestCount++
	c.totalLatency += latency
	c.health.LastSuccessAt = time.Now()
	c.health.Available = true

	if c.requestCount > 0 {
		c.health.ErrorRate = float64(c.failureCount) / float64(c.requestCount)
	}
	if c.successCount > 0 {
		c.health.Latency = c.totalLatency / time.Duration(c.successCount)
	}
}

func (c *HTTPClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	c.requestCount++
	c.health.LastFailureAt = time.Now()

	if c.requestCount > 0 {
		c.health.ErrorRate = float64(c.failureCount) / float64(c.requestCount)
	}

	if c.health.ErrorRate > 0.5 {
		c.health.Available = false
	}
}
