package reconstruct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Task status values reported by the provider.
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskSucceeded  = "SUCCEEDED"
	TaskFailed     = "FAILED"
)

// Client 封装外部重建服务的 REST 接口（multi-image-to-3d 任务）。
// 无状态，可在并发任务间共享。
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewClient creates a provider client. An empty apiKey produces a client that
// reports itself unconfigured; the orchestrator short-circuits before any
// network call in that case.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether provider credentials are present.
func (c *Client) Configured() bool { return c.apiKey != "" }

// APIError is a non-2xx response from the provider. The status code lets the
// orchestrator distinguish credential/credit rejections from other failures.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

type createTaskRequest struct {
	ImageURLs       []string `json:"image_urls"`
	AIModel         string   `json:"ai_model"`
	Topology        string   `json:"topology"`
	TargetPolycount int      `json:"target_polycount"`
	ShouldTexture   bool     `json:"should_texture"`
}

type createTaskResponse struct {
	Result string `json:"result"`
}

// TaskStatus is one poll response for a reconstruction task.
type TaskStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	ModelURLs struct {
		GLB string `json:"glb"`
	} `json:"model_urls"`
	TaskError struct {
		Message string `json:"message"`
	} `json:"task_error"`
}

// CreateTask submits the selected image URLs and returns the provider task id.
func (c *Client) CreateTask(ctx context.Context, imageURLs []string) (string, error) {
	body, err := json.Marshal(createTaskRequest{
		ImageURLs:       imageURLs,
		AIModel:         "meshy-4",
		Topology:        "triangle",
		TargetPolycount: 30000,
		ShouldTexture:   true,
	})
	if err != nil {
		return "", fmt.Errorf("encode create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/openapi/v1/multi-image-to-3d", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit reconstruction task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", readAPIError(resp)
	}

	var created createTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	if created.Result == "" {
		return "", fmt.Errorf("provider returned no task id")
	}
	return created.Result, nil
}

// GetTask fetches the current status of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/openapi/v1/multi-image-to-3d/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll reconstruction task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readAPIError(resp)
	}

	var status TaskStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode task status: %w", err)
	}
	return &status, nil
}

// Download streams the finished artifact from the provider-hosted URL.
// Caller closes the reader.
func (c *Client) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download artifact: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp.Body, nil
}

func readAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
