package speech

import "strings"

// Speaker labels for segmented turns. The interviewer speaks first, so turns
// alternate starting from the automated side.
const (
	SpeakerAI    = "AI"
	SpeakerHuman = "HUMAN"
)

// turnGapSec is the silence between two words that marks a speaker change.
const turnGapSec = 1.5

// Turn is one contiguous stretch of speech attributed to a single speaker.
type Turn struct {
	Speaker    string
	Text       string
	StartSec   float64
	Confidence float64
}

// Segment splits a word timeline into alternating speaker turns. A pause
// longer than turnGapSec between consecutive words starts a new turn and
// flips the speaker. Turn confidence is the mean of its word confidences.
func Segment(words []Word) []Turn {
	if len(words) == 0 {
		return nil
	}

	var turns []Turn
	speaker := SpeakerAI

	var texts []string
	start := words[0].Start
	confidenceSum := 0.0

	flush := func() {
		turns = append(turns, Turn{
			Speaker:    speaker,
			Text:       strings.Join(texts, " "),
			StartSec:   start,
			Confidence: confidenceSum / float64(len(texts)),
		})
	}

	for i, w := range words {
		if i > 0 && w.Start-words[i-1].End > turnGapSec {
			flush()
			if speaker == SpeakerAI {
				speaker = SpeakerHuman
			} else {
				speaker = SpeakerAI
			}
			texts = texts[:0:0]
			start = w.Start
			confidenceSum = 0
		}
		texts = append(texts, w.Text)
		confidenceSum += w.Confidence
	}
	flush()

	return turns
}
