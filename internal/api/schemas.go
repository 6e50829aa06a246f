package api

import (
	"time"

	"github.com/cliplab/clipd/internal/clip"
	"github.com/cliplab/clipd/internal/timeline"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	Pipeline string `json:"pipeline,omitempty"`
}

type VideoResponse struct {
	ID               string         `json:"id"`
	OriginalFilename string         `json:"original_filename"`
	Size             int64          `json:"size"`
	Duration         float64        `json:"duration,omitempty"`
	Status           string         `json:"status"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Transcript       []clip.Segment `json:"transcript,omitempty"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type ClipResponse struct {
	ID           string           `json:"id"`
	VideoID      string           `json:"video_id"`
	Status       string           `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Ranges       []timeline.Range `json:"ranges"`
	CreatedAt    string           `json:"created_at"`
	UpdatedAt    string           `json:"updated_at"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(v *clip.Video) VideoResponse {
	return VideoResponse{
		ID:               v.ID,
		OriginalFilename: v.OriginalFilename,
		Size:             v.Size,
		Duration:         v.Duration,
		Status:           v.Status,
		ErrorMessage:     v.ErrorMessage,
		Transcript:       v.Transcript,
		CreatedAt:        v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        v.UpdatedAt.Format(time.RFC3339),
	}
}

func ClipToResponse(c *clip.Clip) ClipResponse {
	return ClipResponse{
		ID:           c.ID,
		VideoID:      c.VideoID,
		Status:       c.Status,
		ErrorMessage: c.ErrorMessage,
		Ranges:       c.Ranges,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
	}
}
