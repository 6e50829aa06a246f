package clip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cliplab/clipd/internal/db"
	"github.com/cliplab/clipd/internal/store"
	"github.com/cliplab/clipd/internal/timeline"
	"github.com/cliplab/clipd/internal/transcribe"
)

type fakeEngine struct {
	probeDuration float64
	probeErr      error
	extractErr    error
	assembleErr   error
	assembled     [][]timeline.Range
}

func (f *fakeEngine) Probe(ctx context.Context, path string) (float64, error) {
	return f.probeDuration, f.probeErr
}

func (f *fakeEngine) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	if f.extractErr != nil {
		return f.extractErr
	}
	return os.WriteFile(audioPath, []byte("audio"), 0644)
}

func (f *fakeEngine) Assemble(ctx context.Context, inputPath, outputPath string, ranges []timeline.Range) error {
	if f.assembleErr != nil {
		return f.assembleErr
	}
	f.assembled = append(f.assembled, ranges)
	return os.WriteFile(outputPath, []byte("clip"), 0644)
}

type fakeTranscriber struct {
	segments []transcribe.Segment
	err      error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) ([]transcribe.Segment, error) {
	return f.segments, f.err
}

type testEnv struct {
	svc    *Service
	repo   Repository
	engine *fakeEngine
	stt    *fakeTranscriber
}

func setupService(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := NewRepository(database.Conn())

	newStore := func(name string) *store.Store {
		s, err := store.New(filepath.Join(t.TempDir(), name))
		if err != nil {
			t.Fatalf("failed to create %s store: %v", name, err)
		}
		return s
	}

	engine := &fakeEngine{probeDuration: 42.5}
	stt := &fakeTranscriber{segments: []transcribe.Segment{
		{Start: 0, End: 1, Text: "hello world", Words: []transcribe.Word{
			{Start: 0, End: 0.4, Word: "hello"},
			{Start: 0.5, End: 0.9, Word: "world"},
		}},
		{Start: 3, End: 4, Text: "done"},
	}}

	svc := NewService(ServiceConfig{
		Repository:     repo,
		Uploads:        newStore("uploads"),
		Clips:          newStore("clips"),
		Audio:          newStore("audio"),
		Engine:         engine,
		Transcriber:    stt,
		MaxUploadBytes: 1024,
	})

	return &testEnv{svc: svc, repo: repo, engine: engine, stt: stt}
}

func uploadTestVideo(t *testing.T, env *testEnv) *Video {
	t.Helper()
	v, err := env.svc.CreateVideo(context.Background(), "holiday.mp4", 16, strings.NewReader("fake video bytes"))
	if err != nil {
		t.Fatalf("CreateVideo() error = %v", err)
	}
	return v
}

func readyTestVideo(t *testing.T, env *testEnv) *Video {
	t.Helper()
	ctx := context.Background()

	v := uploadTestVideo(t, env)
	if err := env.svc.ProcessVideo(ctx, v.ID); err != nil {
		t.Fatalf("ProcessVideo() error = %v", err)
	}
	got, err := env.svc.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got.Status != VideoStatusReady {
		t.Fatalf("video status = %s, want ready (%s)", got.Status, got.ErrorMessage)
	}
	return got
}

func isValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func TestCreateVideo(t *testing.T) {
	env := setupService(t)

	v := uploadTestVideo(t, env)
	if v.Status != VideoStatusUploading {
		t.Errorf("status = %s, want uploading", v.Status)
	}
	if v.Size != 16 {
		t.Errorf("size = %d, want 16", v.Size)
	}

	got, err := env.svc.GetVideo(context.Background(), v.ID)
	if err != nil || got == nil {
		t.Fatalf("GetVideo() = %v, %v", got, err)
	}
	if got.OriginalFilename != "holiday.mp4" {
		t.Errorf("original_filename = %s", got.OriginalFilename)
	}
}

func TestCreateVideo_UnsupportedType(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.CreateVideo(context.Background(), "notes.txt", 4, strings.NewReader("text"))
	if !isValidationError(err) {
		t.Fatalf("CreateVideo() error = %v, want ValidationError", err)
	}

	videos, _ := env.svc.ListVideos(context.Background(), 10)
	if len(videos) != 0 {
		t.Error("no video record should exist after a rejected upload")
	}
}

func TestCreateVideo_TooLarge(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.CreateVideo(context.Background(), "big.mp4", 10240, strings.NewReader("..."))
	if !isValidationError(err) {
		t.Fatalf("CreateVideo() error = %v, want ValidationError", err)
	}
}

func TestProcessVideo_HappyPath(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)

	if v.Duration != 42.5 {
		t.Errorf("duration = %v, want 42.5", v.Duration)
	}
	if len(v.Transcript) != 2 {
		t.Fatalf("transcript has %d segments, want 2", len(v.Transcript))
	}
	if v.Transcript[0].ID != 0 || v.Transcript[1].ID != 1 {
		t.Error("segment ids not dense in encounter order")
	}
	// Second segment had no word timings; they must have been estimated.
	if len(v.Transcript[1].Words) != 1 {
		t.Errorf("estimated words = %d, want 1", len(v.Transcript[1].Words))
	}
	if v.ErrorMessage != "" {
		t.Errorf("unexpected error message %q", v.ErrorMessage)
	}
}

func TestProcessVideo_EmptyTranscriptStillReady(t *testing.T) {
	env := setupService(t)
	env.stt.segments = nil

	v := uploadTestVideo(t, env)
	if err := env.svc.ProcessVideo(context.Background(), v.ID); err != nil {
		t.Fatalf("ProcessVideo() error = %v", err)
	}

	got, _ := env.svc.GetVideo(context.Background(), v.ID)
	if got.Status != VideoStatusReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
	if got.Transcript == nil || len(got.Transcript) != 0 {
		t.Errorf("transcript = %v, want stored empty sequence", got.Transcript)
	}
}

func TestProcessVideo_ProbeFailure(t *testing.T) {
	env := setupService(t)
	env.engine.probeErr = errors.New("moov atom not found")

	v := uploadTestVideo(t, env)
	env.svc.ProcessVideo(context.Background(), v.ID)

	got, _ := env.svc.GetVideo(context.Background(), v.ID)
	if got.Status != VideoStatusError {
		t.Errorf("status = %s, want error", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "moov atom") {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}
}

func TestProcessVideo_TranscriptionFailure(t *testing.T) {
	env := setupService(t)
	env.stt.err = errors.New("transcription service HTTP 503")

	v := uploadTestVideo(t, env)
	env.svc.ProcessVideo(context.Background(), v.ID)

	got, _ := env.svc.GetVideo(context.Background(), v.ID)
	if got.Status != VideoStatusError {
		t.Errorf("status = %s, want error", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("error_message should be populated")
	}
	if got.Transcript != nil {
		t.Error("transcript should be absent after a failed transcription")
	}
}

func TestProcessVideo_Idempotent(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)

	// A duplicate invocation must not regress the terminal record.
	if err := env.svc.ProcessVideo(context.Background(), v.ID); err != nil {
		t.Fatalf("second ProcessVideo() error = %v", err)
	}
	got, _ := env.svc.GetVideo(context.Background(), v.ID)
	if got.Status != VideoStatusReady {
		t.Errorf("status = %s after duplicate processing, want ready", got.Status)
	}
}

func TestRequestClip_ExplicitRanges(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)

	// Caller order is preserved verbatim, even out of chronological order.
	ranges := []timeline.Range{{Start: 30, End: 35}, {Start: 1, End: 2}}
	c, err := env.svc.RequestClip(context.Background(), v.ID, ClipRequest{Ranges: ranges})
	if err != nil {
		t.Fatalf("RequestClip() error = %v", err)
	}
	if c.Status != ClipStatusQueued {
		t.Errorf("status = %s, want queued", c.Status)
	}
	if len(c.Ranges) != 2 || c.Ranges[0].Start != 30 || c.Ranges[1].Start != 1 {
		t.Errorf("ranges = %v, want caller order preserved", c.Ranges)
	}
}

func TestRequestClip_SegmentSelection(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)

	c, err := env.svc.RequestClip(context.Background(), v.ID, ClipRequest{SegmentIDs: []int{1, 0}})
	if err != nil {
		t.Fatalf("RequestClip() error = %v", err)
	}
	// Segments [0,1) and [3,4) are 2s apart: two chronological ranges.
	if len(c.Ranges) != 2 || c.Ranges[0].Start != 0 || c.Ranges[1].Start != 3 {
		t.Errorf("ranges = %v", c.Ranges)
	}
}

func TestRequestClip_WordSelection(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)

	// Words 0 and 1 are 0.1s apart: merged into one range.
	c, err := env.svc.RequestClip(context.Background(), v.ID, ClipRequest{WordIDs: []int{0, 1}})
	if err != nil {
		t.Fatalf("RequestClip() error = %v", err)
	}
	if len(c.Ranges) != 1 {
		t.Fatalf("ranges = %v, want one merged range", c.Ranges)
	}
	if c.Ranges[0].Start != 0 || c.Ranges[0].End != 0.9 {
		t.Errorf("merged range = %v, want [0, 0.9)", c.Ranges[0])
	}
}

func TestRequestClip_TextOnlyTranscriptSelectable(t *testing.T) {
	env := setupService(t)
	// The STT service reported plain text with no timings at all; the stored
	// segment's span comes entirely from estimated word durations.
	env.stt.segments = []transcribe.Segment{{Text: "hello world out there"}}

	v := readyTestVideo(t, env)
	if len(v.Transcript) != 1 || len(v.Transcript[0].Words) != 4 {
		t.Fatalf("transcript = %+v, want one segment with 4 estimated words", v.Transcript)
	}

	c, err := env.svc.RequestClip(context.Background(), v.ID, ClipRequest{SegmentIDs: []int{0}})
	if err != nil {
		t.Fatalf("RequestClip() error = %v", err)
	}
	if len(c.Ranges) != 1 {
		t.Fatalf("ranges = %v, want one", c.Ranges)
	}
	if r := c.Ranges[0]; r.Start >= r.End {
		t.Errorf("selection resolved to degenerate range [%v, %v)", r.Start, r.End)
	}
	if got := c.Ranges[0].End; got < 1.199 || got > 1.201 {
		t.Errorf("range end = %v, want 4 estimated words (1.2s)", got)
	}
}

func TestRequestClip_MixedGranularityRejected(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)

	_, err := env.svc.RequestClip(context.Background(), v.ID, ClipRequest{
		SegmentIDs: []int{0},
		WordIDs:    []int{0},
	})
	if !isValidationError(err) {
		t.Fatalf("mixed selection error = %v, want ValidationError", err)
	}
}

func TestRequestClip_EmptyRequest(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)

	_, err := env.svc.RequestClip(context.Background(), v.ID, ClipRequest{})
	if !isValidationError(err) {
		t.Fatalf("empty request error = %v, want ValidationError", err)
	}

	clips, _ := env.svc.ListClipsByVideo(context.Background(), v.ID)
	if len(clips) != 0 {
		t.Error("no clip record should exist after a rejected request")
	}
}

func TestRequestClip_InvalidRange(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)

	_, err := env.svc.RequestClip(context.Background(), v.ID, ClipRequest{
		Ranges: []timeline.Range{{Start: 5, End: 5}},
	})
	if !isValidationError(err) {
		t.Fatalf("degenerate range error = %v, want ValidationError", err)
	}

	_, err = env.svc.RequestClip(context.Background(), v.ID, ClipRequest{
		Ranges: []timeline.Range{{Start: 7, End: 3}},
	})
	if !isValidationError(err) {
		t.Fatalf("inverted range error = %v, want ValidationError", err)
	}
}

func TestRequestClip_VideoNotReady(t *testing.T) {
	env := setupService(t)
	v := uploadTestVideo(t, env) // still uploading

	_, err := env.svc.RequestClip(context.Background(), v.ID, ClipRequest{
		Ranges: []timeline.Range{{Start: 0, End: 1}},
	})
	if !isValidationError(err) {
		t.Fatalf("not-ready video error = %v, want ValidationError", err)
	}

	clips, _ := env.svc.ListClipsByVideo(context.Background(), v.ID)
	if len(clips) != 0 {
		t.Error("no clip record should exist for a non-ready video")
	}
}

func TestRequestClip_UnknownVideo(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.RequestClip(context.Background(), "missing", ClipRequest{
		Ranges: []timeline.Range{{Start: 0, End: 1}},
	})
	if !isValidationError(err) {
		t.Fatalf("unknown video error = %v, want ValidationError", err)
	}
}

func TestProcessClip_HappyPath(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)
	ctx := context.Background()

	ranges := []timeline.Range{{Start: 3, End: 4}, {Start: 0, End: 1}}
	c, err := env.svc.RequestClip(ctx, v.ID, ClipRequest{Ranges: ranges})
	if err != nil {
		t.Fatalf("RequestClip() error = %v", err)
	}

	if err := env.svc.ProcessClip(ctx, c.ID); err != nil {
		t.Fatalf("ProcessClip() error = %v", err)
	}

	got, _ := env.svc.GetClip(ctx, c.ID)
	if got.Status != ClipStatusReady {
		t.Fatalf("status = %s, want ready (%s)", got.Status, got.ErrorMessage)
	}
	if got.OutputPath == "" {
		t.Error("output_path should be set on ready")
	}

	if len(env.engine.assembled) != 1 {
		t.Fatalf("assembly invoked %d times, want exactly 1", len(env.engine.assembled))
	}
	sent := env.engine.assembled[0]
	if sent[0].Start != 3 || sent[1].Start != 0 {
		t.Errorf("assembly received %v, want stored order", sent)
	}
}

func TestProcessClip_AssemblyFailure(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)
	ctx := context.Background()

	env.engine.assembleErr = errors.New("concat filter failed")

	c, _ := env.svc.RequestClip(ctx, v.ID, ClipRequest{Ranges: []timeline.Range{{Start: 0, End: 1}}})
	env.svc.ProcessClip(ctx, c.ID)

	got, _ := env.svc.GetClip(ctx, c.ID)
	if got.Status != ClipStatusError {
		t.Errorf("status = %s, want error", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "concat filter failed") {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}
}

func TestProcessClip_Idempotent(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)
	ctx := context.Background()

	c, _ := env.svc.RequestClip(ctx, v.ID, ClipRequest{Ranges: []timeline.Range{{Start: 0, End: 1}}})
	env.svc.ProcessClip(ctx, c.ID)
	env.svc.ProcessClip(ctx, c.ID)

	if len(env.engine.assembled) != 1 {
		t.Errorf("assembly invoked %d times after duplicate processing, want 1", len(env.engine.assembled))
	}
	got, _ := env.svc.GetClip(ctx, c.ID)
	if got.Status != ClipStatusReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
}

func TestTerminalRecordsNeverRegress(t *testing.T) {
	env := setupService(t)
	v := readyTestVideo(t, env)
	ctx := context.Background()

	if ok, _ := env.repo.MarkVideoError(ctx, v.ID, "late failure"); ok {
		t.Error("MarkVideoError should not advance a ready video")
	}
	if ok, _ := env.repo.MarkVideoProcessing(ctx, v.ID, 1); ok {
		t.Error("MarkVideoProcessing should not advance a ready video")
	}

	c, _ := env.svc.RequestClip(ctx, v.ID, ClipRequest{Ranges: []timeline.Range{{Start: 0, End: 1}}})
	env.svc.ProcessClip(ctx, c.ID)

	if ok, _ := env.repo.MarkClipError(ctx, c.ID, "late failure"); ok {
		t.Error("MarkClipError should not advance a ready clip")
	}
	if ok, _ := env.repo.MarkClipProcessing(ctx, c.ID); ok {
		t.Error("MarkClipProcessing should not advance a ready clip")
	}
}
