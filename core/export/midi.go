// Package export writes a composition as a Standard MIDI File.
package export

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"MusicFlow/core/composition"
)

const (
	// TicksPerBeat is the file resolution; one beat is a quarter note.
	TicksPerBeat = 960
	// GuitarProgram is the General MIDI program used for the note track.
	GuitarProgram = 25
	Velocity      = 100

	channel = 0
)

// Options configures WriteMIDI.
type Options struct {
	Name string
}

// Meter parses a "n/d" time signature. Anything unreadable is 4/4.
func Meter(ts string) (num, denom uint8) {
	n, d, ok := strings.Cut(strings.TrimSpace(ts), "/")
	if !ok {
		return 4, 4
	}
	nv, err1 := strconv.Atoi(strings.TrimSpace(n))
	dv, err2 := strconv.Atoi(strings.TrimSpace(d))
	if err1 != nil || err2 != nil || nv < 1 || nv > 32 || dv < 1 || dv > 32 || dv&(dv-1) != 0 {
		return 4, 4
	}
	return uint8(nv), uint8(dv)
}

// Ticks converts beats to ticks, rounding to the nearest tick and never
// returning less than one.
func Ticks(beats float64) uint32 {
	t := math.Round(beats * TicksPerBeat)
	if t < 1 {
		return 1
	}
	return uint32(t)
}

// WriteMIDI writes notes one after another on a single guitar track, preceded
// by a tempo track carrying the meter and tempo. Notes whose key falls outside
// the MIDI range become rests. Chord labels are not exported.
func WriteMIDI(w io.Writer, notes []composition.Note, s composition.Settings, opt Options) error {
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(TicksPerBeat)

	num, denom := Meter(s.TimeSignature)
	var tempo smf.Track
	if opt.Name != "" {
		tempo.Add(0, smf.MetaTrackSequenceName(opt.Name))
	}
	tempo.Add(0, smf.MetaMeter(num, denom))
	tempo.Add(0, smf.MetaTempo(float64(composition.ClampTempo(s.Tempo))))
	tempo.Close(0)
	if err := sm.Add(tempo); err != nil {
		return fmt.Errorf("add tempo track: %w", err)
	}

	var track smf.Track
	track.Add(0, midi.ProgramChange(channel, GuitarProgram))
	var rest uint32
	for _, n := range notes {
		length := Ticks(n.DurationValue)
		key := n.MIDIKey()
		if key < 0 || key > 127 {
			rest += length
			continue
		}
		track.Add(rest, midi.NoteOn(channel, uint8(key), Velocity))
		track.Add(length, midi.NoteOff(channel, uint8(key)))
		rest = 0
	}
	track.Close(rest)
	if err := sm.Add(track); err != nil {
		return fmt.Errorf("add note track: %w", err)
	}

	if _, err := sm.WriteTo(w); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}

// MIDIBytes is WriteMIDI into memory.
func MIDIBytes(notes []composition.Note, s composition.Settings, opt Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteMIDI(&buf, notes, s, opt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
