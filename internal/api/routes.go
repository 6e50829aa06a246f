package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cliplab/clipd/internal/clip"
)

// multipartOverhead pads the request-size cap so a file right at the upload
// limit still fits alongside its multipart framing.
const multipartOverhead = 64 << 10

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Post("/videos", uploadVideoHandler(cfg))
	r.Get("/videos", listVideosHandler(cfg))
	r.Get("/videos/{id}", getVideoHandler(cfg))
	r.Get("/videos/{id}/stream", streamVideoHandler(cfg))
	r.Get("/videos/{id}/clips", listClipsHandler(cfg))
	r.Post("/videos/{id}/clips", requestClipHandler(cfg))

	r.Get("/clips/{id}", getClipHandler(cfg))
	r.Get("/clips/{id}/download", downloadClipHandler(cfg))

	return r
}

func writeServiceError(w http.ResponseWriter, err error) {
	var ve *clip.ValidationError
	if errors.As(err, &ve) {
		WriteError(w, http.StatusBadRequest, ve.Reason, "BAD_REQUEST")
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pipeline := ""
		if cfg.Runner != nil {
			pipeline = "running"
			if cfg.Runner.IsPaused() {
				pipeline = "paused"
			}
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  "0.1.0",
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			Pipeline: pipeline,
		})
	}
}

func uploadVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+multipartOverhead)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "multipart field 'file' is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		video, err := cfg.Service.CreateVideo(r.Context(), header.Filename, header.Size, file)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, VideoToResponse(video))
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		videos, err := cfg.Service.ListVideos(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, err := cfg.Service.GetVideo(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if video == nil {
			WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, VideoToResponse(video))
	}
}

func streamVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		video, err := cfg.Service.GetVideo(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if video == nil {
			WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
			return
		}

		path, err := cfg.Uploads.Path(video.StoredPath)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "stored file unavailable", "INTERNAL_ERROR")
			return
		}
		if err := cfg.Playback.ServeFile(w, r, path); err != nil {
			cfg.Logger.Error("stream error", "error", err, "video_id", id)
		}
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		video, err := cfg.Service.GetVideo(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if video == nil {
			WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
			return
		}

		clips, err := cfg.Service.ListClipsByVideo(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{Clips: make([]ClipResponse, len(clips))}
		for i, c := range clips {
			resp.Clips[i] = ClipToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func requestClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		video, err := cfg.Service.GetVideo(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if video == nil {
			WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
			return
		}

		var req clip.ClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		c, err := cfg.Service.RequestClip(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, ClipToResponse(c))
	}
}

func getClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := cfg.Service.GetClip(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if c == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, ClipToResponse(c))
	}
}

func downloadClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		c, err := cfg.Service.GetClip(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if c == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}
		if c.Status != clip.ClipStatusReady {
			WriteError(w, http.StatusConflict,
				fmt.Sprintf("clip is not ready (status %s)", c.Status), "NOT_READY")
			return
		}

		path, err := cfg.Clips.Path(c.OutputPath)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "clip file unavailable", "INTERNAL_ERROR")
			return
		}

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "clip-"+id+".mp4"))
		if err := cfg.Playback.ServeFile(w, r, path); err != nil {
			cfg.Logger.Error("download error", "error", err, "clip_id", id)
		}
	}
}
