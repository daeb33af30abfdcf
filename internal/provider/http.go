package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scenepipe/internal/media"
)

// HTTPGenerator calls a JSON generation endpoint.
//
// Request body:  {"job_id","scene_id","stage","model","prompt","params"}
// Response body: {"url","content_type","cost"} on 200/201,
// {"error","code"} otherwise. A code of "content_policy" marks a policy rejection.
type HTTPGenerator struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPGenerator creates an adapter for endpoint.
func NewHTTPGenerator(endpoint, apiKey string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPGenerator{
		Endpoint: strings.TrimRight(endpoint, "/"),
		APIKey:   apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type httpGenerateRequest struct {
	JobID   string         `json:"job_id"`
	SceneID string         `json:"scene_id"`
	Stage   string         `json:"stage"`
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Params  map[string]any `json:"params"`
}

type httpGenerateResponse struct {
	URL         string  `json:"url"`
	ContentType string  `json:"content_type"`
	Cost        float64 `json:"cost"`
	Error       string  `json:"error"`
	Code        string  `json:"code"`
}

// Generate implements Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, req media.Request) (Result, error) {
	bodyBytes, err := json.Marshal(httpGenerateRequest{
		JobID:   req.JobID,
		SceneID: req.SceneID,
		Stage:   string(req.Stage),
		Model:   req.Model,
		Prompt:  req.Prompt,
		Params:  ParamsMap(req.Params),
	})
	if err != nil {
		return Result{}, Errorf(KindInvalidInput, "marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return Result{}, Errorf(KindInvalidInput, "create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", g.APIKey))
	}

	resp, err := g.HTTPClient.Do(httpReq)
	if err != nil {
		return Result{}, Classify(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var out httpGenerateResponse
	_ = json.Unmarshal(respBody, &out)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Result{}, &Error{Kind: kindForStatus(resp.StatusCode, out.Code), Message: fmt.Sprintf("status %d: %s", resp.StatusCode, msg)}
	}

	if out.URL == "" {
		return Result{}, Errorf(KindUnknown, "provider response has no url")
	}

	return Result{URL: out.URL, ContentType: out.ContentType, Cost: out.Cost}, nil
}

func kindForStatus(status int, code string) Kind {
	if code == "content_policy" || status == http.StatusUnavailableForLegalReasons {
		return KindContentPolicy
	}
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindInvalidInput
	}
	return KindUnknown
}

var _ Generator = (*HTTPGenerator)(nil)
