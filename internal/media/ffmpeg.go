// Package media wraps the external ffmpeg/ffprobe binaries used for probing,
// audio extraction, and clip assembly. Every invocation carries a bounded
// timeout and keeps a tail of stderr for diagnostics.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cliplab/clipd/internal/timeline"
)

const maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics

// Engine is the media encode/decode/concatenate collaborator contract.
type Engine interface {
	// Probe returns the container duration in seconds.
	Probe(ctx context.Context, path string) (float64, error)

	// ExtractAudio demuxes the audio track into an mp3 at audioPath.
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error

	// Assemble trims each range from the source independently and joins them
	// in list order into a single playable file at outputPath.
	Assemble(ctx context.Context, inputPath, outputPath string, ranges []timeline.Range) error
}

// Config holds binary paths and per-operation timeouts.
type Config struct {
	FFmpegPath  string // empty = look up "ffmpeg" on PATH
	FFprobePath string // empty = look up "ffprobe" on PATH

	ProbeTimeout    time.Duration
	ExtractTimeout  time.Duration
	AssembleTimeout time.Duration

	Logger *slog.Logger
}

// FFmpeg is the production Engine backed by subprocess invocations.
type FFmpeg struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// NewFFmpeg resolves both binaries up front so a missing install fails fast.
func NewFFmpeg(cfg Config) (*FFmpeg, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("media engine initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)
	}
	return &FFmpeg{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	}
	if err := f.run(ctx, f.ffprobe, args, &stdout); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return 0, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}
	if out.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe output missing format.duration")
	}

	duration, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse duration %q: %w", out.Format.Duration, err)
	}
	return duration, nil
}

func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ExtractTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "2",
		audioPath,
	}
	if err := f.run(ctx, f.ffmpeg, args, nil); err != nil {
		return fmt.Errorf("audio extraction failed: %w", err)
	}
	return nil
}

func (f *FFmpeg) Assemble(ctx context.Context, inputPath, outputPath string, ranges []timeline.Range) error {
	if len(ranges) == 0 {
		return fmt.Errorf("no ranges to assemble")
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.AssembleTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", inputPath,
		"-filter_complex", BuildConcatFilter(ranges),
		"-map", "[outv]",
		"-map", "[outa]",
		"-c:v", "libx264",
		"-c:a", "aac",
		outputPath,
	}
	if err := f.run(ctx, f.ffmpeg, args, nil); err != nil {
		return fmt.Errorf("clip assembly failed: %w", err)
	}
	return nil
}

// BuildConcatFilter renders the trim/atrim + concat filtergraph that cuts each
// range out of the input and joins them in list order. Order is significant:
// it determines the output's segment order, not chronology.
func BuildConcatFilter(ranges []timeline.Range) string {
	var b strings.Builder
	for i, r := range ranges {
		fmt.Fprintf(&b, "[0:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS[v%d];",
			formatSeconds(r.Start), formatSeconds(r.End), i)
		fmt.Fprintf(&b, "[0:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS[a%d];",
			formatSeconds(r.Start), formatSeconds(r.End), i)
	}
	for i := range ranges {
		fmt.Fprintf(&b, "[v%d][a%d]", i, i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[outv][outa]", len(ranges))
	return b.String()
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// run executes a binary, discarding stdout unless a buffer is supplied, and
// surfaces a bounded stderr tail in the returned error.
func (f *FFmpeg) run(ctx context.Context, bin string, args []string, stdout *bytes.Buffer) error {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	if stdout != nil {
		cmd.Stdout = stdout
	}

	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s", elapsed.Round(time.Second))
		}
		tail := truncate(stderrBuf.String(), 512)
		if f.cfg.Logger != nil {
			f.cfg.Logger.Warn("media command failed",
				"bin", bin,
				"duration_ms", elapsed.Milliseconds(),
				"error", err,
				"stderr_tail", tail,
			)
		}
		if tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
		return err
	}

	if f.cfg.Logger != nil {
		f.cfg.Logger.Debug("media command succeeded",
			"bin", bin,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return nil
}

func resolveBinary(preferred, fallback string) (string, error) {
	name := preferred
	if name == "" {
		name = fallback
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("cannot locate %s: %w", fallback, err)
	}
	return path, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last `limit` bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n >= l.limit {
		l.w.Reset()
		p = p[n-l.limit:]
	}
	if over := l.w.Len() + len(p) - l.limit; over > 0 {
		rest := l.w.Bytes()[over:]
		trimmed := make([]byte, len(rest))
		copy(trimmed, rest)
		l.w.Reset()
		l.w.Write(trimmed)
	}
	l.w.Write(p)
	return n, nil
}
