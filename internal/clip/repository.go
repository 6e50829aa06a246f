package clip

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository persists videos and clips. Status-changing methods are
// conditional on the current status and report whether the row actually
// advanced, so a duplicate or late invocation can never regress a record.
type Repository interface {
	CreateVideo(ctx context.Context, v *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context, limit int) ([]*Video, error)
	ListVideosByStatus(ctx context.Context, status string) ([]*Video, error)

	MarkVideoProcessing(ctx context.Context, id string, duration float64) (bool, error)
	MarkVideoTranscribing(ctx context.Context, id string) (bool, error)
	MarkVideoReady(ctx context.Context, id string, transcript []Segment) (bool, error)
	MarkVideoError(ctx context.Context, id, errorMsg string) (bool, error)

	CreateClip(ctx context.Context, c *Clip) error
	GetClip(ctx context.Context, id string) (*Clip, error)
	ListClipsByVideo(ctx context.Context, videoID string) ([]*Clip, error)
	ListClipsByStatus(ctx context.Context, status string) ([]*Clip, error)

	MarkClipProcessing(ctx context.Context, id string) (bool, error)
	MarkClipReady(ctx context.Context, id, outputPath string) (bool, error)
	MarkClipError(ctx context.Context, id, errorMsg string) (bool, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateVideo(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (id, original_filename, stored_path, size, duration, status, error_message, transcript, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
	`, v.ID, v.OriginalFilename, v.StoredPath, v.Size, nullFloat(v.Duration), v.Status, nullString(v.ErrorMessage),
		v.CreatedAt.Format(time.RFC3339), v.UpdatedAt.Format(time.RFC3339))
	return err
}

const videoColumns = "id, original_filename, stored_path, size, duration, status, error_message, transcript, created_at, updated_at"

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+videoColumns+" FROM videos WHERE id = ?", id)
	return scanVideo(row)
}

func (r *SQLiteRepository) ListVideos(ctx context.Context, limit int) ([]*Video, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+videoColumns+" FROM videos ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVideos(rows)
}

func (r *SQLiteRepository) ListVideosByStatus(ctx context.Context, status string) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+videoColumns+" FROM videos WHERE status = ? ORDER BY created_at ASC", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVideos(rows)
}

func (r *SQLiteRepository) MarkVideoProcessing(ctx context.Context, id string, duration float64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, duration = ?, updated_at = datetime('now')
		WHERE id = ? AND status = ?
	`, VideoStatusProcessing, duration, id, VideoStatusUploading)
	return advanced(res, err)
}

func (r *SQLiteRepository) MarkVideoTranscribing(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, updated_at = datetime('now')
		WHERE id = ? AND status = ?
	`, VideoStatusTranscribing, id, VideoStatusProcessing)
	return advanced(res, err)
}

func (r *SQLiteRepository) MarkVideoReady(ctx context.Context, id string, transcript []Segment) (bool, error) {
	// An empty transcript is still a transcript; store [] rather than NULL so
	// readers can tell "transcribed, silent" from "never transcribed".
	if transcript == nil {
		transcript = []Segment{}
	}
	data, err := json.Marshal(transcript)
	if err != nil {
		return false, fmt.Errorf("cannot encode transcript: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, transcript = ?, updated_at = datetime('now')
		WHERE id = ? AND status = ?
	`, VideoStatusReady, string(data), id, VideoStatusTranscribing)
	return advanced(res, err)
}

func (r *SQLiteRepository) MarkVideoError(ctx context.Context, id, errorMsg string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, error_message = ?, updated_at = datetime('now')
		WHERE id = ? AND status NOT IN (?, ?)
	`, VideoStatusError, errorMsg, id, VideoStatusReady, VideoStatusError)
	return advanced(res, err)
}

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *Clip) error {
	ranges, err := json.Marshal(c.Ranges)
	if err != nil {
		return fmt.Errorf("cannot encode ranges: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO clips (id, video_id, status, error_message, ranges, output_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.VideoID, c.Status, nullString(c.ErrorMessage), string(ranges), nullString(c.OutputPath),
		c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339))
	return err
}

const clipColumns = "id, video_id, status, error_message, ranges, output_path, created_at, updated_at"

func (r *SQLiteRepository) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+clipColumns+" FROM clips WHERE id = ?", id)
	return scanClip(row)
}

func (r *SQLiteRepository) ListClipsByVideo(ctx context.Context, videoID string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+clipColumns+" FROM clips WHERE video_id = ? ORDER BY created_at DESC", videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

func (r *SQLiteRepository) ListClipsByStatus(ctx context.Context, status string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+clipColumns+" FROM clips WHERE status = ? ORDER BY created_at ASC", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

func (r *SQLiteRepository) MarkClipProcessing(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clips SET status = ?, updated_at = datetime('now')
		WHERE id = ? AND status = ?
	`, ClipStatusProcessing, id, ClipStatusQueued)
	return advanced(res, err)
}

func (r *SQLiteRepository) MarkClipReady(ctx context.Context, id, outputPath string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clips SET status = ?, output_path = ?, updated_at = datetime('now')
		WHERE id = ? AND status = ?
	`, ClipStatusReady, outputPath, id, ClipStatusProcessing)
	return advanced(res, err)
}

func (r *SQLiteRepository) MarkClipError(ctx context.Context, id, errorMsg string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clips SET status = ?, error_message = ?, updated_at = datetime('now')
		WHERE id = ? AND status IN (?, ?)
	`, ClipStatusError, errorMsg, id, ClipStatusQueued, ClipStatusProcessing)
	return advanced(res, err)
}

func advanced(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*Video, error) {
	var v Video
	var duration sql.NullFloat64
	var errorMsg, transcript sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&v.ID, &v.OriginalFilename, &v.StoredPath, &v.Size,
		&duration, &v.Status, &errorMsg, &transcript, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	v.Duration = duration.Float64
	v.ErrorMessage = errorMsg.String
	if transcript.Valid {
		if err := json.Unmarshal([]byte(transcript.String), &v.Transcript); err != nil {
			return nil, fmt.Errorf("cannot decode transcript for video %s: %w", v.ID, err)
		}
		if v.Transcript == nil {
			v.Transcript = []Segment{}
		}
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &v, nil
}

func scanVideos(rows *sql.Rows) ([]*Video, error) {
	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func scanClip(row rowScanner) (*Clip, error) {
	var c Clip
	var errorMsg, outputPath sql.NullString
	var ranges string
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.VideoID, &c.Status, &errorMsg, &ranges, &outputPath, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.ErrorMessage = errorMsg.String
	c.OutputPath = outputPath.String
	if err := json.Unmarshal([]byte(ranges), &c.Ranges); err != nil {
		return nil, fmt.Errorf("cannot decode ranges for clip %s: %w", c.ID, err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

func scanClips(rows *sql.Rows) ([]*Clip, error) {
	var clips []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
