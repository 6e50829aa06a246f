// Package client is a typed HTTP client for the clipd API, including polling
// helpers that follow a video or clip to its terminal status.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cliplab/clipd/internal/clip"
	"github.com/cliplab/clipd/internal/timeline"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clipd API: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether the request may succeed if repeated. Client
// errors are permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// Video is the API's view of a video record.
type Video struct {
	ID               string         `json:"id"`
	OriginalFilename string         `json:"original_filename"`
	Size             int64          `json:"size"`
	Duration         float64        `json:"duration,omitempty"`
	Status           string         `json:"status"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Transcript       []clip.Segment `json:"transcript,omitempty"`
}

// Clip is the API's view of a clip record.
type Clip struct {
	ID           string           `json:"id"`
	VideoID      string           `json:"video_id"`
	Status       string           `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Ranges       []timeline.Range `json:"ranges"`
}

// ClipRequest mirrors the server's clip creation payload. Exactly one of the
// three selection fields must be set.
type ClipRequest struct {
	Ranges     []timeline.Range `json:"ranges,omitempty"`
	SegmentIDs []int            `json:"segment_ids,omitempty"`
	WordIDs    []int            `json:"word_ids,omitempty"`
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
}

func New(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger:       logger,
		pollInterval: time.Second,
	}
}

// SetPollInterval overrides the delay between status polls.
func (c *Client) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// UploadVideo sends a local file as a multipart upload and returns the
// created record, still in status uploading.
func (c *Client) UploadVideo(ctx context.Context, path string) (*Video, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/videos", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var video Video
	if err := c.doJSON(req, &video); err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Info("video uploaded", "video_id", video.ID, "filename", video.OriginalFilename)
	}
	return &video, nil
}

func (c *Client) GetVideo(ctx context.Context, id string) (*Video, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos/"+id, nil)
	if err != nil {
		return nil, err
	}
	var video Video
	if err := c.doJSON(req, &video); err != nil {
		return nil, err
	}
	return &video, nil
}

// RequestClip queues a clip against a ready video.
func (c *Client) RequestClip(ctx context.Context, videoID string, cr ClipRequest) (*Clip, error) {
	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("marshal clip request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/videos/"+videoID+"/clips", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out Clip
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetClip(ctx context.Context, id string) (*Clip, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/clips/"+id, nil)
	if err != nil {
		return nil, err
	}
	var out Clip
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadClip writes a ready clip's bytes to w.
func (c *Client) DownloadClip(ctx context.Context, id string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/clips/"+id+"/download", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// WaitForVideo polls until the video reaches ready or error, or ctx is done.
// The terminal record is returned either way; the caller inspects Status.
func (c *Client) WaitForVideo(ctx context.Context, id string) (*Video, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		video, err := c.GetVideo(ctx, id)
		if err != nil {
			return nil, err
		}
		if clip.IsTerminalVideoStatus(video.Status) {
			return video, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForClip polls until the clip reaches ready or error, or ctx is done.
func (c *Client) WaitForClip(ctx context.Context, id string) (*Clip, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		out, err := c.GetClip(ctx, id)
		if err != nil {
			return nil, err
		}
		if clip.IsTerminalClipStatus(out.Status) {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
