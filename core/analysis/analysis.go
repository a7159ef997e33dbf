// Package analysis derives timing, range and chord information from a
// composition. Every function here is pure.
package analysis

import (
	"fmt"
	"math"
	"strings"

	"MusicFlow/core/composition"
)

const (
	// NoChords is reported when no triad is covered by the notes.
	NoChords = "N/A"

	estimatedKey = "C Major (estimated)"
	autoKey      = "Auto"
)

type triad struct {
	name  string
	tones [3]string
}

// Major triads checked by DetectChords, in report order.
var triads = []triad{
	{"C", [3]string{"C", "E", "G"}},
	{"D", [3]string{"D", "F#", "A"}},
	{"E", [3]string{"E", "G#", "B"}},
	{"F", [3]string{"F", "A", "C"}},
	{"G", [3]string{"G", "B", "D"}},
	{"A", [3]string{"A", "C#", "E"}},
}

// TotalBeats sums the beat values of notes; an empty list is 0.
func TotalBeats(notes []composition.Note) float64 {
	var sum float64
	for _, n := range notes {
		sum += n.DurationValue
	}
	return sum
}

// TotalSeconds converts the total beats to seconds at bpm. A non-positive bpm
// yields 0.
func TotalSeconds(notes []composition.Note, bpm int) float64 {
	if bpm <= 0 {
		return 0
	}
	return TotalBeats(notes) * 60 / float64(bpm)
}

// DetectChords reports the major triads whose three pitch classes all occur in
// notes, regardless of octave. It returns [NoChords] when none match.
func DetectChords(notes []composition.Note) []string {
	present := make(map[string]bool, len(notes))
	for _, n := range notes {
		present[n.Name] = true
	}
	var detected []string
	for _, t := range triads {
		if present[t.tones[0]] && present[t.tones[1]] && present[t.tones[2]] {
			detected = append(detected, t.name)
		}
	}
	if len(detected) == 0 {
		return []string{NoChords}
	}
	return detected
}

// OctaveRange returns the lowest and highest octave. ok is false for an empty
// list.
func OctaveRange(notes []composition.Note) (lo, hi int, ok bool) {
	if len(notes) == 0 {
		return 0, 0, false
	}
	lo, hi = notes[0].Octave, notes[0].Octave
	for _, n := range notes[1:] {
		if n.Octave < lo {
			lo = n.Octave
		}
		if n.Octave > hi {
			hi = n.Octave
		}
	}
	return lo, hi, true
}

// FormatTime renders seconds as m:ss, truncating fractions.
func FormatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// Summary is the analysis panel.
type Summary struct {
	Empty          bool     `json:"empty"`
	Range          string   `json:"range"`
	DetectedChords []string `json:"detectedChords"`
	Key            string   `json:"key"`
	TimeSignature  string   `json:"timeSignature"`
	Tempo          string   `json:"tempo"`
	TotalBeats     float64  `json:"totalBeats"`
	TotalSeconds   float64  `json:"totalSeconds"`
	TotalTime      string   `json:"totalTime"`
	Pattern        string   `json:"pattern"`
	Sequence       string   `json:"sequence"`
}

// Analyze builds the analysis panel for notes under settings. With no notes
// only Empty is set.
func Analyze(notes []composition.Note, s composition.Settings) Summary {
	if len(notes) == 0 {
		return Summary{Empty: true}
	}
	lo, hi, _ := OctaveRange(notes)
	key := s.Key
	if key == "" {
		key = estimatedKey
	}
	seconds := TotalSeconds(notes, s.Tempo)

	pitches := make([]string, len(notes))
	for i, n := range notes {
		pitches[i] = n.Pitch()
	}

	return Summary{
		Range:          fmt.Sprintf("%d-%d", lo, hi),
		DetectedChords: DetectChords(notes),
		Key:            key,
		TimeSignature:  s.TimeSignature,
		Tempo:          fmt.Sprintf("%d BPM", s.Tempo),
		TotalBeats:     TotalBeats(notes),
		TotalSeconds:   seconds,
		TotalTime:      FormatTime(seconds),
		Pattern:        s.PatternLabel(),
		Sequence:       strings.Join(pitches, " - "),
	}
}

// Stats is the stats strip above the editor.
type Stats struct {
	Notes    int    `json:"notes"`
	Chords   int    `json:"chords"`
	Duration string `json:"duration"`
	Key      string `json:"key"`
}

// ComputeStats builds the stats strip.
func ComputeStats(notes []composition.Note, chordCount int, s composition.Settings) Stats {
	key := s.Key
	if key == "" {
		key = autoKey
	}
	return Stats{
		Notes:    len(notes),
		Chords:   chordCount,
		Duration: FormatTime(TotalSeconds(notes, s.Tempo)),
		Key:      key,
	}
}
