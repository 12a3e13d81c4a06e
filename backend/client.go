// Package backend is the HTTP client for the remote file-processing backend.
// All adaptation of the backend's wire shapes, including the drifted legacy
// log formats, happens here; the track package only ever sees the canonical
// LogEvent shape.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"taskwatch/track"
)

// Client is the processing backend API client. It implements track.JobBackend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Submit creates a job of the given kind on the backend and returns its task ID.
func (c *Client) Submit(ctx context.Context, kind, sourcePath string) (string, error) {
	p, ok := submitPaths[kind]
	if !ok {
		return "", fmt.Errorf("unknown job kind %q", kind)
	}

	respData, err := c.doRequest(ctx, http.MethodPost, c.baseURL+p, map[string]string{"path": sourcePath})
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return "", fmt.Errorf("failed to parse submit response: %w", err)
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("backend accepted the job but returned no task id")
	}
	return resp.TaskID, nil
}

// FetchStatus retrieves the job's current status along with the log events
// observed so far. The backend resends its full log list on every poll; the
// reconciler on the caller's side deduplicates.
func (c *Client) FetchStatus(ctx context.Context, taskID string) (*track.StatusUpdate, error) {
	respData, err := c.doRequest(ctx, http.MethodGet, c.taskURL(taskID, "logs"), nil)
	if err != nil {
		return nil, err
	}
	return normalizeStatus(respData)
}

// FetchResult retrieves the authoritative final log dump and result payload
// for a finished job.
func (c *Client) FetchResult(ctx context.Context, taskID string) (*track.ResultDump, error) {
	logsData, err := c.doRequest(ctx, http.MethodGet, c.taskURL(taskID, "logs"), nil)
	if err != nil {
		return nil, err
	}
	upd, err := normalizeStatus(logsData)
	if err != nil {
		return nil, err
	}

	resultData, err := c.doRequest(ctx, http.MethodGet, c.taskURL(taskID, "result"), nil)
	if err != nil {
		return nil, err
	}
	var resp resultResponse
	if err := json.Unmarshal(resultData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse result response: %w", err)
	}

	return &track.ResultDump{
		FullLogEvents: upd.NewLogEvents,
		Result:        resp.Result,
	}, nil
}

func (c *Client) taskURL(taskID, suffix string) string {
	return fmt.Sprintf("%s/api/task/%s/%s", c.baseURL, url.PathEscape(taskID), suffix)
}

// doRequest performs an HTTP request and returns the response body. Transport
// errors are wrapped with %w so their timeout classification survives.
func (c *Client) doRequest(ctx context.Context, method, reqURL string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
		c.log.Debug("backend request", zap.String("method", method), zap.String("url", reqURL), zap.ByteString("body", jsonData))
	} else {
		c.log.Debug("backend request", zap.String("method", method), zap.String("url", reqURL))
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	c.log.Debug("backend response", zap.Int("status", resp.StatusCode), zap.ByteString("body", respData))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if err := json.Unmarshal(respData, &errResp); err == nil && errResp.Detail != "" {
			return nil, &Error{StatusCode: resp.StatusCode, Message: errResp.Detail}
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: string(respData)}
	}

	return respData, nil
}
