package clip

import (
	"fmt"
	"strings"

	"github.com/cliplab/clipd/internal/timeline"
	"github.com/cliplab/clipd/internal/transcribe"
)

// estimatedWordSeconds is the assumed per-word duration when a segment has no
// timings of its own to divide.
const estimatedWordSeconds = 0.3

// BuildTranscript converts the transcription collaborator's raw output into
// the stored transcript, assigning dense segment ids and globally unique word
// ids in encounter order. Segments without word timings get estimates by
// dividing the segment evenly across its whitespace-split words, so word-level
// selection works regardless of what the collaborator returned. Zero raw
// segments is a valid empty transcript.
func BuildTranscript(raw []transcribe.Segment) []Segment {
	if len(raw) == 0 {
		return nil
	}

	segments := make([]Segment, 0, len(raw))
	wordID := 0

	for i, rs := range raw {
		seg := Segment{
			ID:    i,
			Start: rs.Start,
			End:   rs.End,
			Text:  strings.TrimSpace(rs.Text),
		}

		if len(rs.Words) > 0 {
			for _, rw := range rs.Words {
				seg.Words = append(seg.Words, Word{
					ID:    wordID,
					Start: rw.Start,
					End:   rw.End,
					Word:  strings.TrimSpace(rw.Word),
				})
				wordID++
			}
		} else {
			seg.Words = estimateWords(seg, &wordID)
			// An untimed segment inherits its span from the estimated words,
			// otherwise selecting it would resolve to a zero-length range.
			if n := len(seg.Words); n > 0 && seg.End <= seg.Start {
				seg.End = seg.Words[n-1].End
			}
		}

		segments = append(segments, seg)
	}

	return segments
}

// estimateWords spreads a segment's duration evenly over its words. When the
// segment itself is untimed (end == start), a fixed per-word duration is
// assumed instead.
func estimateWords(seg Segment, wordID *int) []Word {
	text := strings.Fields(seg.Text)
	if len(text) == 0 {
		return nil
	}

	perWord := (seg.End - seg.Start) / float64(len(text))
	if perWord <= 0 {
		perWord = estimatedWordSeconds
	}

	words := make([]Word, 0, len(text))
	for i, w := range text {
		start := seg.Start + float64(i)*perWord
		words = append(words, Word{
			ID:    *wordID,
			Start: round3(start),
			End:   round3(start + perWord),
			Word:  w,
		})
		*wordID++
	}
	return words
}

func round3(f float64) float64 {
	return float64(int64(f*1000+0.5)) / 1000
}

// SegmentIntervals resolves segment-id selections into token intervals for
// the merge engine. Unknown ids are an error: a stale selection must not
// silently shrink the clip.
func SegmentIntervals(transcript []Segment, segmentIDs []int) ([]timeline.Range, error) {
	byID := make(map[int]Segment, len(transcript))
	for _, s := range transcript {
		byID[s.ID] = s
	}

	ranges := make([]timeline.Range, 0, len(segmentIDs))
	for _, id := range segmentIDs {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown segment id %d", id)
		}
		ranges = append(ranges, timeline.Range{Start: s.Start, End: s.End})
	}
	return ranges, nil
}

// WordIntervals resolves word-id selections into token intervals. Word ids
// are global across the transcript, so a flat scan suffices and duplicate
// (start, word) pairs in different segments cannot collide.
func WordIntervals(transcript []Segment, wordIDs []int) ([]timeline.Range, error) {
	byID := make(map[int]Word)
	for _, s := range transcript {
		for _, w := range s.Words {
			byID[w.ID] = w
		}
	}

	ranges := make([]timeline.Range, 0, len(wordIDs))
	for _, id := range wordIDs {
		w, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown word id %d", id)
		}
		ranges = append(ranges, timeline.Range{Start: w.Start, End: w.End})
	}
	return ranges, nil
}
