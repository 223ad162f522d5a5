package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/version"
)

// ErrStreamClosed is returned by Stream when the server ends the stream
// before a terminal event.
var ErrStreamClosed = errors.New("client: progress stream closed before job finished")

type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall timeout; progress streams and archive
	// downloads last as long as the job or transfer.
	streamClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamClient: &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", "bp/"+version.Short())
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, respBody any) error {
	req, err := c.newRequest(ctx, method, path, nil, "")
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return parseError(resp)
	}

	if respBody != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(respBody)
	}
	return nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && (errResp.Message != "" || errResp.Code != "") {
		apiErr.Code = errResp.Code
		apiErr.Message = errResp.Message
		apiErr.File = errResp.File
		apiErr.Status = errResp.Status
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

func (c *Client) Ping(ctx context.Context) error {
	var result PingResponse
	if err := c.doJSON(ctx, http.MethodGet, "/ping", &result); err != nil {
		return err
	}
	if !result.Success || result.Ping != "pong" {
		return fmt.Errorf("unexpected ping response %+v", result)
	}
	return nil
}

func (c *Client) Submit(ctx context.Context, jobType string, paths []string) (*UploadResponse, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files to upload")
	}

	// Stream the form through a pipe so large videos are never buffered.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeFiles(writer, paths))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/upload/"+jobType, pr, writer.FormDataContentType())
	if err != nil {
		_ = pr.Close()
		return nil, err
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var result UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func writeFiles(writer *multipart.Writer, paths []string) error {
	for _, path := range paths {
		if err := writeFile(writer, path); err != nil {
			return err
		}
	}
	return writer.Close()
}

func writeFile(writer *multipart.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var result Job
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+jobID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Cancel(ctx context.Context, jobID string) (*CancelResponse, error) {
	var result CancelResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/jobs/"+jobID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Download(ctx context.Context, jobID string) (io.ReadCloser, string, int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/download/"+jobID, nil, "")
	if err != nil {
		return nil, "", 0, err
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, "", 0, err
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		return nil, "", 0, parseError(resp)
	}

	filename := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}

	return resp.Body, filename, resp.ContentLength, nil
}

func (c *Client) Stream(ctx context.Context, jobID string, fn func(Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/progress/"+jobID, nil, "")
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return parseError(resp)
	}

	var (
		id    uint64
		event string
		data  strings.Builder
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()

		if line != "" {
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "id":
				id, _ = strconv.ParseUint(value, 10, 64)
			case "event":
				event = value
			case "data":
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(value)
			}
			continue
		}

		if event != "" && event != "keepalive" && data.Len() > 0 {
			var ev Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return fmt.Errorf("invalid %s event: %w", event, err)
			}
			ev.Kind = event
			if id > 0 {
				ev.Seq = id
			}
			if err := fn(ev); err != nil {
				return err
			}
			if ev.Terminal() {
				return nil
			}
		}
		id, event = 0, ""
		data.Reset()
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return ErrStreamClosed
}

func (c *Client) WaitForJob(ctx context.Context, jobID string, pollInterval time.Duration) (*Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		j, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if j.Finished() {
			return j, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
