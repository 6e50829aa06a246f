package transcribe

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
)

// wordTolerance widens a segment's span when attaching word timings to it;
// Whisper word boundaries occasionally poke slightly past their segment.
const wordTolerance = 0.1

// OpenAIClient calls the audio/transcriptions endpoint with verbose_json and
// word+segment timestamp granularities.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration, logger *slog.Logger) *OpenAIClient {
	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type verboseResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Words []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Word  string  `json:"word"`
	} `json:"words"`
}

func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("model", c.model); err != nil {
		return nil, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	for _, g := range []string{"word", "segment"} {
		if err := mw.WriteField("timestamp_granularities[]", g); err != nil {
			return nil, err
		}
	}

	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("cannot read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if c.logger != nil {
		c.logger.Info("transcription request", "url", url, "model", c.model)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription service HTTP %d: %s", resp.StatusCode, respBody)
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("cannot parse transcription response: %w", err)
	}

	return mapResponse(vr), nil
}

// mapResponse converts the wire shape into ordered segments, attaching word
// timings to the segment whose span contains them. When the service reports
// text but no segments, the whole text becomes a single untimed-word segment.
func mapResponse(vr verboseResponse) []Segment {
	if len(vr.Segments) == 0 {
		if vr.Text == "" {
			return nil
		}
		return []Segment{{Start: 0, End: 0, Text: vr.Text}}
	}

	segments := make([]Segment, 0, len(vr.Segments))
	for _, s := range vr.Segments {
		seg := Segment{Start: s.Start, End: s.End, Text: s.Text}
		for _, w := range vr.Words {
			if w.Start >= s.Start-wordTolerance && w.End <= s.End+wordTolerance {
				seg.Words = append(seg.Words, Word{Start: w.Start, End: w.End, Word: w.Word})
			}
		}
		segments = append(segments, seg)
	}
	return segments
}
