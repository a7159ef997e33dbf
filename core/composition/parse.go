package composition

import (
	"strconv"
	"strings"
)

// ParseResult is the outcome of a bulk parse.
type ParseResult struct {
	Notes []Note `json:"notes"`
	// Skipped lists tokens whose pitch class or octave could not be read.
	// They are dropped without failing the parse.
	Skipped []string `json:"skipped,omitempty"`
}

// Parse reads whitespace-separated tokens of the form
// <PitchClass><Octave>-<Duration>, e.g. "C#4-eighth" or "A3-1.5".
//
// The octave is the single trailing character of the pitch part. The duration
// is a named duration, a positive beat count (stored as Custom), or quarter
// when missing or unrecognised.
func Parse(text string, ids IDGenerator) ParseResult {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	var res ParseResult
	for _, token := range strings.Fields(text) {
		note, ok := parseToken(token)
		if !ok {
			res.Skipped = append(res.Skipped, token)
			continue
		}
		note.ID = ids.NewID()
		res.Notes = append(res.Notes, note)
	}
	return res
}

func parseToken(token string) (Note, bool) {
	pitchPart, durationPart, _ := strings.Cut(token, "-")
	if len(pitchPart) < 2 {
		return Note{}, false
	}
	name := pitchPart[:len(pitchPart)-1]
	octave, err := strconv.Atoi(pitchPart[len(pitchPart)-1:])
	if err != nil {
		return Note{}, false
	}
	if _, ok := PitchIndex(name); !ok {
		return Note{}, false
	}

	// "C4-1-2" keeps only the first duration field.
	durationPart, _, _ = strings.Cut(durationPart, "-")
	duration, beats := parseDuration(durationPart)
	return Note{Name: name, Octave: octave, Duration: duration, DurationValue: beats}, true
}

func parseDuration(s string) (Duration, float64) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if v > 0 {
			return Custom, resolveBeats(Custom, v)
		}
		return Quarter, 1
	}
	if b, ok := Duration(s).Beats(); ok {
		return Duration(s), b
	}
	return Quarter, 1
}
