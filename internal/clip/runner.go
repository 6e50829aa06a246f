package clip

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Runner is the pipeline orchestrator loop. It picks up videos waiting in
// uploading and clips waiting in queued, and drives each to a terminal state
// one at a time. New work wakes it immediately through Kick; a poll interval
// backstops missed wakeups. Status stays queryable throughout because all
// processing happens here, off the request path.
type Runner struct {
	service      *Service
	repo         Repository
	logger       *slog.Logger
	pollInterval time.Duration
	kick         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, repo Repository, logger *slog.Logger) *Runner {
	return &Runner{
		service:      service,
		repo:         repo,
		logger:       logger,
		pollInterval: 2 * time.Second,
		kick:         make(chan struct{}, 1),
	}
}

// Kick wakes the runner without blocking. Safe from any goroutine.
func (r *Runner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("pipeline runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("pipeline runner stopping")
			return
		case <-r.kick:
		case <-ticker.C:
		}
		if r.paused.Load() {
			continue
		}
		// Drain everything pending before sleeping again.
		for r.processNext(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("pipeline runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("pipeline runner resumed")
	r.Kick()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// processNext handles at most one pending job and reports whether it found
// any. Videos take priority over clips: a clip cannot exist without a ready
// video, so draining uploads first keeps the common path short.
func (r *Runner) processNext(ctx context.Context) bool {
	videos, err := r.repo.ListVideosByStatus(ctx, VideoStatusUploading)
	if err != nil {
		r.logger.Error("failed to list pending videos", "error", err)
		return false
	}
	if len(videos) > 0 {
		v := videos[0]
		r.logger.Info("processing video", "video_id", v.ID)
		if err := r.service.ProcessVideo(ctx, v.ID); err != nil {
			r.logger.Error("video processing error", "video_id", v.ID, "error", err)
		}
		return true
	}

	clips, err := r.repo.ListClipsByStatus(ctx, ClipStatusQueued)
	if err != nil {
		r.logger.Error("failed to list queued clips", "error", err)
		return false
	}
	if len(clips) > 0 {
		c := clips[0]
		r.logger.Info("processing clip", "clip_id", c.ID)
		if err := r.service.ProcessClip(ctx, c.ID); err != nil {
			r.logger.Error("clip processing error", "clip_id", c.ID, "error", err)
		}
		return true
	}

	return false
}
