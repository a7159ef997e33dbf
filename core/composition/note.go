package composition

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPitch is returned when a note name is not one of the twelve
// sharp-spelled pitch classes.
var ErrInvalidPitch = errors.New("invalid pitch class")

// PitchClasses is the chromatic scale starting at C, sharps only.
var PitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var pitchIndex = func() map[string]int {
	m := make(map[string]int, len(PitchClasses))
	for i, name := range PitchClasses {
		m[name] = i
	}
	return m
}()

// PitchIndex returns the position of name in PitchClasses.
func PitchIndex(name string) (int, bool) {
	i, ok := pitchIndex[name]
	return i, ok
}

// Duration names a note length.
type Duration string

const (
	Whole     Duration = "whole"
	Half      Duration = "half"
	Quarter   Duration = "quarter"
	Eighth    Duration = "eighth"
	Sixteenth Duration = "sixteenth"
	Custom    Duration = "custom"
)

// A quarter note is one beat.
var durationBeats = map[Duration]float64{
	Whole:     4,
	Half:      2,
	Quarter:   1,
	Eighth:    0.5,
	Sixteenth: 0.25,
}

// Beats returns the beat count of a named duration. Custom and unknown
// durations report false.
func (d Duration) Beats() (float64, bool) {
	b, ok := durationBeats[d]
	return b, ok
}

// Symbol is the badge glyph for the duration.
func (d Duration) Symbol() string {
	switch d {
	case Whole:
		return "𝅝"
	case Half:
		return "𝅗𝅥"
	case Eighth:
		return "𝅘𝅥𝅮"
	case Sixteenth:
		return "𝅘𝅥𝅯"
	default:
		return "𝅘𝅥"
	}
}

// Note is one entry of the composition.
type Note struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Octave        int      `json:"octave"`
	Duration      Duration `json:"duration"`
	DurationValue float64  `json:"durationValue"`
}

// Pitch is the pitch class followed by the octave, e.g. "C#4".
func (n Note) Pitch() string {
	return fmt.Sprintf("%s%d", n.Name, n.Octave)
}

// Badge is the text shown on a note chip.
func (n Note) Badge() string {
	if n.Duration == Custom {
		return fmt.Sprintf("%s %gb", n.Pitch(), n.DurationValue)
	}
	return n.Pitch() + " " + n.Duration.Symbol()
}

// MIDIKey converts the note to a MIDI key number with C4 = 60.
func (n Note) MIDIKey() int {
	idx, _ := PitchIndex(n.Name)
	return (n.Octave+1)*12 + idx
}

// resolveBeats picks the beat value for a note entered with the given duration
// selector. A custom duration uses custom when it is a positive number, and
// anything that cannot be resolved falls back to one beat.
func resolveBeats(d Duration, custom float64) float64 {
	if d == Custom {
		if custom > 0 && !math.IsNaN(custom) && !math.IsInf(custom, 0) {
			return custom
		}
		return 1
	}
	if b, ok := d.Beats(); ok {
		return b
	}
	return 1
}
