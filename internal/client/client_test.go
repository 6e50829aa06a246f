package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.URL, nil)
	c.SetPollInterval(10 * time.Millisecond)
	return c
}

func TestUploadVideo(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/videos" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file.Close()

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Video{
			ID:               "v1",
			OriginalFilename: header.Filename,
			Status:           "uploading",
		})
	}))

	path := filepath.Join(t.TempDir(), "holiday.mp4")
	if err := os.WriteFile(path, []byte("fake video"), 0644); err != nil {
		t.Fatal(err)
	}

	video, err := c.UploadVideo(context.Background(), path)
	if err != nil {
		t.Fatalf("UploadVideo() error = %v", err)
	}
	if video.ID != "v1" || video.OriginalFilename != "holiday.mp4" {
		t.Errorf("video = %+v", video)
	}
}

func TestGetVideo_NotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"video not found","code":"NOT_FOUND"}`))
	}))

	_, err := c.GetVideo(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.IsRetryable() {
		t.Error("404 should not be retryable")
	}
}

func TestAPIError_Retryable(t *testing.T) {
	if !(&APIError{StatusCode: 503}).IsRetryable() {
		t.Error("503 should be retryable")
	}
	if (&APIError{StatusCode: 400}).IsRetryable() {
		t.Error("400 should not be retryable")
	}
}

func TestWaitForVideo(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "transcribing"
		if polls.Add(1) >= 3 {
			status = "ready"
		}
		json.NewEncoder(w).Encode(Video{ID: "v1", Status: status})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	video, err := c.WaitForVideo(ctx, "v1")
	if err != nil {
		t.Fatalf("WaitForVideo() error = %v", err)
	}
	if video.Status != "ready" {
		t.Errorf("status = %s, want ready", video.Status)
	}
	if polls.Load() < 3 {
		t.Errorf("polled %d times, want at least 3", polls.Load())
	}
}

func TestWaitForVideo_TerminalError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Video{ID: "v1", Status: "error", ErrorMessage: "probe failed"})
	}))

	video, err := c.WaitForVideo(context.Background(), "v1")
	if err != nil {
		t.Fatalf("WaitForVideo() error = %v", err)
	}
	if video.Status != "error" || video.ErrorMessage != "probe failed" {
		t.Errorf("video = %+v, want terminal error record", video)
	}
}

func TestWaitForVideo_ContextCancelled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Video{ID: "v1", Status: "processing"})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.WaitForVideo(ctx, "v1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestWaitForClip(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "queued"
		if polls.Add(1) >= 2 {
			status = "ready"
		}
		json.NewEncoder(w).Encode(Clip{ID: "c1", VideoID: "v1", Status: status})
	}))

	out, err := c.WaitForClip(context.Background(), "c1")
	if err != nil {
		t.Fatalf("WaitForClip() error = %v", err)
	}
	if out.Status != "ready" {
		t.Errorf("status = %s, want ready", out.Status)
	}
}

func TestRequestClip(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos/v1/clips" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.WordIDs) != 2 {
			t.Errorf("word_ids = %v", req.WordIDs)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(Clip{ID: "c1", VideoID: "v1", Status: "queued"})
	}))

	out, err := c.RequestClip(context.Background(), "v1", ClipRequest{WordIDs: []int{3, 4}})
	if err != nil {
		t.Fatalf("RequestClip() error = %v", err)
	}
	if out.ID != "c1" || out.Status != "queued" {
		t.Errorf("clip = %+v", out)
	}
}

func TestDownloadClip(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clips/c1/download" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte("clip bytes"))
	}))

	var buf bytes.Buffer
	if err := c.DownloadClip(context.Background(), "c1", &buf); err != nil {
		t.Fatalf("DownloadClip() error = %v", err)
	}
	if buf.String() != "clip bytes" {
		t.Errorf("body = %q", buf.String())
	}
}

func TestDownloadClip_NotReady(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"clip is not ready (status queued)","code":"NOT_READY"}`))
	}))

	err := c.DownloadClip(context.Background(), "c1", &bytes.Buffer{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("error = %v, want 409 APIError", err)
	}
}
