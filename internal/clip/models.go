// Package clip holds the video/clip domain: the transcript model, both job
// state machines, persistence, and the orchestration that drives uploads
// through transcription and clip assembly.
package clip

import (
	"time"

	"github.com/google/uuid"

	"github.com/cliplab/clipd/internal/timeline"
)

// Video statuses. uploading -> processing -> transcribing -> ready, with
// error reachable from any non-terminal state. ready and error are terminal.
const (
	VideoStatusUploading    = "uploading"
	VideoStatusProcessing   = "processing"
	VideoStatusTranscribing = "transcribing"
	VideoStatusReady        = "ready"
	VideoStatusError        = "error"
)

// Clip statuses. queued -> processing -> ready, with error reachable from
// queued or processing. ready and error are terminal.
const (
	ClipStatusQueued     = "queued"
	ClipStatusProcessing = "processing"
	ClipStatusReady      = "ready"
	ClipStatusError      = "error"
)

// Word is a timed sub-span of a segment. IDs are globally unique across the
// whole transcript, assigned once at construction.
type Word struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// Segment is a contiguous timed span of transcribed speech. IDs are dense in
// encounter order and unique within a video.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Video is an uploaded source video and, once transcription completes, its
// transcript. Mutated only through conditional status transitions.
type Video struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	StoredPath       string    `json:"stored_path"`
	Size             int64     `json:"size"`
	Duration         float64   `json:"duration,omitempty"`
	Status           string    `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	Transcript       []Segment `json:"transcript,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clip is a requested excerpt of a video. Ranges are stored verbatim in the
// order the caller supplied; that order determines the output's segment order.
type Clip struct {
	ID           string           `json:"id"`
	VideoID      string           `json:"video_id"`
	Status       string           `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Ranges       []timeline.Range `json:"ranges"`
	OutputPath   string           `json:"output_path,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

var videoTransitions = map[string][]string{
	VideoStatusUploading:    {VideoStatusProcessing, VideoStatusError},
	VideoStatusProcessing:   {VideoStatusTranscribing, VideoStatusError},
	VideoStatusTranscribing: {VideoStatusReady, VideoStatusError},
	VideoStatusReady:        {},
	VideoStatusError:        {},
}

var clipTransitions = map[string][]string{
	ClipStatusQueued:     {ClipStatusProcessing, ClipStatusError},
	ClipStatusProcessing: {ClipStatusReady, ClipStatusError},
	ClipStatusReady:      {},
	ClipStatusError:      {},
}

// CanTransitionVideo reports whether from -> to is a legal video edge.
func CanTransitionVideo(from, to string) bool {
	for _, next := range videoTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionClip reports whether from -> to is a legal clip edge.
func CanTransitionClip(from, to string) bool {
	for _, next := range clipTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalVideoStatus reports whether a video performs no further work.
func IsTerminalVideoStatus(status string) bool {
	return status == VideoStatusReady || status == VideoStatusError
}

// IsTerminalClipStatus reports whether a clip performs no further work.
func IsTerminalClipStatus(status string) bool {
	return status == ClipStatusReady || status == ClipStatusError
}

// VideoExtensions lists the upload container formats clipd accepts.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

func NewID() string {
	return uuid.NewString()
}
