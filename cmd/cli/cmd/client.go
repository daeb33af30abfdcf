package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scenepipe/pkg/api"
)

// errStopStream ends StreamEvents without an error.
var errStopStream = errors.New("stop stream")

// SceneClient handles API calls to the scenepipe controller.
type SceneClient struct {
	BaseURL    string
	HTTPClient *http.Client
	// StreamClient has no overall timeout; event streams stay open for the
	// life of a job.
	StreamClient *http.Client
}

// NewSceneClient creates a new client for the given base URL.
func NewSceneClient(baseURL string) *SceneClient {
	return &SceneClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		StreamClient: &http.Client{},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
	Details    []string
	JobID      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// SubmitJob sends POST /jobs with the given project.
func (c *SceneClient) SubmitJob(project api.ProjectRequest) (*api.SubmitJobResponse, error) {
	var result api.SubmitJobResponse
	if err := c.do(http.MethodPost, "/jobs", project, http.StatusAccepted, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EstimateProject sends POST /estimate.
func (c *SceneClient) EstimateProject(project api.ProjectRequest) (*api.EstimateResponse, error) {
	var result api.EstimateResponse
	if err := c.do(http.MethodPost, "/estimate", project, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id}.
func (c *SceneClient) GetJob(jobID string) (*api.JobStatusResponse, error) {
	var result api.JobStatusResponse
	if err := c.do(http.MethodGet, "/jobs/"+jobID, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StreamEvents reads GET /jobs/{id}/events and calls fn for every event
// until the stream ends, ctx is done or fn returns an error. Returning
// errStopStream from fn ends the stream cleanly.
func (c *SceneClient) StreamEvents(ctx context.Context, jobID string, fn func(api.Event) error) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/jobs/%s/events", c.BaseURL, jobID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Accept", "text/event-stream")

	resp, err := c.StreamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev api.Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return fmt.Errorf("failed to parse event: %w", err)
			}
			data.Reset()
			if err := fn(ev); err != nil {
				if errors.Is(err, errStopStream) {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// "event:" lines repeat the name carried in the payload; comments
		// (":") are keep-alives.
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func (c *SceneClient) do(method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return readAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// readAPIError builds an APIError from a non-success response, keeping the
// raw body when it is not an ErrorResponse.
func readAPIError(resp *http.Response) error {
	respBody, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}

	var er api.ErrorResponse
	if json.Unmarshal(respBody, &er) == nil && er.Error != "" {
		apiErr.Message = er.Error
		apiErr.Details = er.Details
		apiErr.JobID = er.JobID
	}
	return apiErr
}
