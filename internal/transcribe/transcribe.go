// Package transcribe talks to an external Whisper-compatible speech-to-text
// service. The service is opaque: given an audio file it returns ordered timed
// segments, optionally with word-level timings. Failures are explicit errors;
// partial results are never accepted.
package transcribe

import "context"

// Segment is a timed span of transcribed speech as returned by the service.
type Segment struct {
	Start float64
	End   float64
	Text  string
	Words []Word // nil when the service returns no word timings
}

// Word is a timed sub-span of a segment.
type Word struct {
	Start float64
	End   float64
	Word  string
}

// Transcriber is a pluggable speech-to-text backend.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]Segment, error)
}
