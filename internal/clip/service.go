package clip

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cliplab/clipd/internal/media"
	"github.com/cliplab/clipd/internal/store"
	"github.com/cliplab/clipd/internal/timeline"
	"github.com/cliplab/clipd/internal/transcribe"
)

// ValidationError marks a request rejected before any record was created.
// The transport maps it to a client error.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ClipRequest is a clip generation request. Exactly one of Ranges,
// SegmentIDs, or WordIDs must be supplied: explicit ranges are stored
// verbatim in caller order, selections are resolved against the transcript
// and merged into chronological ranges. Mixing segment- and word-level
// selections in one request is not supported.
type ClipRequest struct {
	Ranges     []timeline.Range `json:"ranges,omitempty" validate:"omitempty,dive"`
	SegmentIDs []int            `json:"segment_ids,omitempty" validate:"omitempty,dive,min=0"`
	WordIDs    []int            `json:"word_ids,omitempty" validate:"omitempty,dive,min=0"`
}

type Service struct {
	repo     Repository
	uploads  store.BlobStore
	clips    store.BlobStore
	audio    store.BlobStore
	engine   media.Engine
	stt      transcribe.Transcriber
	validate *validator.Validate
	maxBytes int64
	logger   *slog.Logger
	notify   func()
}

type ServiceConfig struct {
	Repository     Repository
	Uploads        store.BlobStore
	Clips          store.BlobStore
	Audio          store.BlobStore
	Engine         media.Engine
	Transcriber    transcribe.Transcriber
	MaxUploadBytes int64
	Logger         *slog.Logger
	// Notify wakes the runner when new work is queued. Optional.
	Notify func()
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:     cfg.Repository,
		uploads:  cfg.Uploads,
		clips:    cfg.Clips,
		audio:    cfg.Audio,
		engine:   cfg.Engine,
		stt:      cfg.Transcriber,
		validate: validator.New(),
		maxBytes: cfg.MaxUploadBytes,
		logger:   cfg.Logger,
		notify:   cfg.Notify,
	}
}

func (s *Service) wake() {
	if s.notify != nil {
		s.notify()
	}
}

// CreateVideo accepts an upload, persists the raw bytes, and creates the
// video record in state uploading. Validation failures leave no record and no
// blob behind.
func (s *Service) CreateVideo(ctx context.Context, filename string, size int64, r io.Reader) (*Video, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !VideoExtensions[ext] {
		return nil, validationErrorf("unsupported file type %q; allowed: .mp4 .mov .avi .mkv .webm", ext)
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, validationErrorf("file too large: %d bytes exceeds limit of %d", size, s.maxBytes)
	}

	id := NewID()
	location, written, err := s.uploads.Put(id+ext, r)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		s.uploads.Remove(location)
		return nil, validationErrorf("file too large: %d bytes exceeds limit of %d", written, s.maxBytes)
	}

	now := time.Now()
	video := &Video{
		ID:               id,
		OriginalFilename: filename,
		StoredPath:       location,
		Size:             written,
		Status:           VideoStatusUploading,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateVideo(ctx, video); err != nil {
		s.uploads.Remove(location)
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("video uploaded", "video_id", id, "filename", filename, "size", written)
	}
	s.wake()
	return video, nil
}

func (s *Service) GetVideo(ctx context.Context, id string) (*Video, error) {
	return s.repo.GetVideo(ctx, id)
}

func (s *Service) ListVideos(ctx context.Context, limit int) ([]*Video, error) {
	return s.repo.ListVideos(ctx, limit)
}

func (s *Service) GetClip(ctx context.Context, id string) (*Clip, error) {
	return s.repo.GetClip(ctx, id)
}

func (s *Service) ListClipsByVideo(ctx context.Context, videoID string) ([]*Clip, error) {
	return s.repo.ListClipsByVideo(ctx, videoID)
}

// RequestClip validates a generation request against the owning video and
// creates the clip record in state queued. No record exists until every check
// passes.
func (s *Service) RequestClip(ctx context.Context, videoID string, req ClipRequest) (*Clip, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationErrorf("invalid clip request: %v", err)
	}

	video, err := s.repo.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, validationErrorf("video %s not found", videoID)
	}
	if video.Status != VideoStatusReady {
		return nil, validationErrorf("video is not ready for clipping (status %s)", video.Status)
	}

	ranges, err := s.resolveRanges(video, req)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c := &Clip{
		ID:        NewID(),
		VideoID:   videoID,
		Status:    ClipStatusQueued,
		Ranges:    ranges,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateClip(ctx, c); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("clip requested", "clip_id", c.ID, "video_id", videoID, "ranges", len(ranges))
	}
	s.wake()
	return c, nil
}

// resolveRanges turns the request into the range list stored on the clip.
// Explicit ranges keep caller order; selections come back chronological from
// the merge engine.
func (s *Service) resolveRanges(video *Video, req ClipRequest) ([]timeline.Range, error) {
	modes := 0
	for _, present := range []bool{len(req.Ranges) > 0, len(req.SegmentIDs) > 0, len(req.WordIDs) > 0} {
		if present {
			modes++
		}
	}
	if modes == 0 {
		return nil, validationErrorf("no ranges or selection supplied")
	}
	if modes > 1 {
		return nil, validationErrorf("supply exactly one of ranges, segment_ids, or word_ids")
	}

	if len(req.Ranges) > 0 {
		for _, r := range req.Ranges {
			if r.Start < 0 {
				return nil, validationErrorf("invalid range: start %.3f is negative", r.Start)
			}
			if r.Start >= r.End {
				return nil, validationErrorf("invalid range: start %.3f must be less than end %.3f", r.Start, r.End)
			}
		}
		return req.Ranges, nil
	}

	var tokens []timeline.Range
	var err error
	if len(req.SegmentIDs) > 0 {
		tokens, err = SegmentIntervals(video.Transcript, req.SegmentIDs)
	} else {
		tokens, err = WordIntervals(video.Transcript, req.WordIDs)
	}
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	merged := timeline.Merge(tokens)
	if len(merged) == 0 {
		return nil, validationErrorf("selection resolves to no ranges")
	}
	return merged, nil
}

// ProcessVideo drives one video from uploading to a terminal state:
// probe -> processing -> audio extraction -> transcribing -> transcript
// stored -> ready. Every step failure lands in error with a message. Each
// transition is conditional; if a step finds the record already advanced it
// stops quietly rather than double-processing.
func (s *Service) ProcessVideo(ctx context.Context, id string) error {
	log := s.logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("video_id", id)

	video, err := s.repo.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	if video == nil || video.Status != VideoStatusUploading {
		return nil
	}

	videoPath, err := s.uploads.Path(video.StoredPath)
	if err != nil {
		return s.failVideo(ctx, id, fmt.Sprintf("stored file unavailable: %v", err))
	}

	duration, err := s.engine.Probe(ctx, videoPath)
	if err != nil {
		return s.failVideo(ctx, id, fmt.Sprintf("failed to probe video: %v", err))
	}

	ok, err := s.repo.MarkVideoProcessing(ctx, id, duration)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	log.Info("video processing", "duration_s", duration)

	audioLocation := id + ".mp3"
	audioPath, err := s.audio.Path(audioLocation)
	if err != nil {
		return s.failVideo(ctx, id, fmt.Sprintf("audio path unavailable: %v", err))
	}
	if err := s.engine.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return s.failVideo(ctx, id, fmt.Sprintf("failed to extract audio: %v", err))
	}
	defer s.audio.Remove(audioLocation)

	if ok, err := s.repo.MarkVideoTranscribing(ctx, id); err != nil || !ok {
		return err
	}
	log.Info("video transcribing")

	raw, err := s.stt.Transcribe(ctx, audioPath)
	if err != nil {
		return s.failVideo(ctx, id, fmt.Sprintf("transcription failed: %v", err))
	}

	transcript := BuildTranscript(raw)
	if ok, err := s.repo.MarkVideoReady(ctx, id, transcript); err != nil || !ok {
		return err
	}
	log.Info("video ready", "segments", len(transcript))
	return nil
}

// ProcessClip drives one clip from queued to a terminal state with exactly
// one assembly invocation.
func (s *Service) ProcessClip(ctx context.Context, id string) error {
	log := s.logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("clip_id", id)

	c, err := s.repo.GetClip(ctx, id)
	if err != nil {
		return err
	}
	if c == nil || c.Status != ClipStatusQueued {
		return nil
	}

	ok, err := s.repo.MarkClipProcessing(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	video, err := s.repo.GetVideo(ctx, c.VideoID)
	if err != nil {
		return err
	}
	if video == nil {
		return s.failClip(ctx, id, "source video no longer exists")
	}

	inputPath, err := s.uploads.Path(video.StoredPath)
	if err != nil {
		return s.failClip(ctx, id, fmt.Sprintf("source file unavailable: %v", err))
	}

	outputLocation := id + ".mp4"
	outputPath, err := s.clips.Path(outputLocation)
	if err != nil {
		return s.failClip(ctx, id, fmt.Sprintf("output path unavailable: %v", err))
	}

	log.Info("clip assembling", "video_id", c.VideoID, "ranges", len(c.Ranges))
	if err := s.engine.Assemble(ctx, inputPath, outputPath, c.Ranges); err != nil {
		return s.failClip(ctx, id, fmt.Sprintf("clip assembly failed: %v", err))
	}

	if ok, err := s.repo.MarkClipReady(ctx, id, outputLocation); err != nil || !ok {
		return err
	}
	log.Info("clip ready", "output", outputLocation)
	return nil
}

func (s *Service) failVideo(ctx context.Context, id, msg string) error {
	if s.logger != nil {
		s.logger.Error("video failed", "video_id", id, "error", msg)
	}
	_, err := s.repo.MarkVideoError(ctx, id, msg)
	return err
}

func (s *Service) failClip(ctx context.Context, id, msg string) error {
	if s.logger != nil {
		s.logger.Error("clip failed", "clip_id", id, "error", msg)
	}
	_, err := s.repo.MarkClipError(ctx, id, msg)
	return err
}
