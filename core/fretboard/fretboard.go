// Package fretboard maps composition notes onto a six-string guitar neck.
package fretboard

import (
	"fmt"

	"MusicFlow/core/composition"
)

// Frets is the number of fretted positions drawn after the open string.
const Frets = 12

// MarkerFrets carry a position dot on the neck.
var MarkerFrets = []int{3, 5, 7, 9, 12}

// StringNote is an open string pitch.
type StringNote struct {
	Name   string `json:"name"`
	Octave int    `json:"octave"`
}

func (s StringNote) String() string {
	return fmt.Sprintf("%s%d", s.Name, s.Octave)
}

// StandardTuning lists the strings from the highest to the lowest.
var StandardTuning = []StringNote{
	{"E", 4}, {"B", 3}, {"G", 3}, {"D", 3}, {"A", 2}, {"E", 2},
}

// Pitch is a sounding pitch class plus octave.
type Pitch struct {
	Name   string `json:"name"`
	Octave int    `json:"octave"`
}

func (p Pitch) String() string {
	return fmt.Sprintf("%s%d", p.Name, p.Octave)
}

// NoteAt returns the pitch sounding on string s at the visual fret with the
// capo on fret capo. Fret 0 is the open string (or the capo position).
func NoteAt(s StringNote, fret, capo int) Pitch {
	base, _ := composition.PitchIndex(s.Name)
	total := base + fret + capo
	return Pitch{
		Name:   composition.PitchClasses[mod12(total)],
		Octave: s.Octave + floorDiv12(total),
	}
}

func mod12(n int) int {
	return ((n % 12) + 12) % 12
}

func floorDiv12(n int) int {
	q := n / 12
	if n%12 != 0 && n < 0 {
		q--
	}
	return q
}

// IsMarker reports whether fret carries a position dot.
func IsMarker(fret int) bool {
	for _, m := range MarkerFrets {
		if m == fret {
			return true
		}
	}
	return false
}
