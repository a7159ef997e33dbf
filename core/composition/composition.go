// Package composition holds the note and chord collections of a guitar
// composition together with its settings. It is not safe for concurrent use;
// the owning studio serialises access.
package composition

import (
	"fmt"
	"strings"
)

const (
	MinTempo     = 40
	MaxTempo     = 200
	DefaultTempo = 120

	// CustomPattern selects the free-text picking pattern.
	CustomPattern = "custom"
)

// Settings are the composition-wide parameters.
type Settings struct {
	Tempo         int    `json:"tempo"`
	TimeSignature string `json:"timeSignature"`
	Key           string `json:"key"`
	Capo          int    `json:"capo"`
	Pattern       string `json:"pattern"`
	CustomPattern string `json:"customPattern"`
}

// DefaultSettings returns 120 BPM in 4/4, automatic key, no capo.
func DefaultSettings() Settings {
	return Settings{Tempo: DefaultTempo, TimeSignature: "4/4"}
}

// PatternLabel is the picking pattern as displayed in the analysis panel.
func (s Settings) PatternLabel() string {
	switch s.Pattern {
	case "":
		return "N/A"
	case CustomPattern:
		if s.CustomPattern != "" {
			return s.CustomPattern
		}
		return "Custom Pattern"
	default:
		return s.Pattern
	}
}

// ClampTempo bounds bpm to the supported tempo range.
func ClampTempo(bpm int) int {
	if bpm < MinTempo {
		return MinTempo
	}
	if bpm > MaxTempo {
		return MaxTempo
	}
	return bpm
}

// ChangeKind tells listeners which part of the composition moved.
type ChangeKind string

const (
	NotesChanged    ChangeKind = "notes"
	ChordsChanged   ChangeKind = "chords"
	SettingsChanged ChangeKind = "settings"
)

// Change is published after every mutation.
type Change struct {
	Kind ChangeKind
}

// Listener receives change events synchronously, after the mutation.
type Listener func(Change)

// Composition is the ordered note list, the ordered chord set and settings.
type Composition struct {
	ids       IDGenerator
	notes     []Note
	chords    []string
	settings  Settings
	listeners map[int]Listener
	nextSub   int
}

// New creates an empty composition. A nil ids falls back to UUIDs.
func New(ids IDGenerator) *Composition {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Composition{
		ids:       ids,
		settings:  DefaultSettings(),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers l and returns a function that removes it.
func (c *Composition) Subscribe(l Listener) func() {
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = l
	return func() { delete(c.listeners, id) }
}

func (c *Composition) publish(kind ChangeKind) {
	for _, l := range c.listeners {
		l(Change{Kind: kind})
	}
}

// Notes returns a copy of the note list.
func (c *Composition) Notes() []Note {
	out := make([]Note, len(c.notes))
	copy(out, c.notes)
	return out
}

// Chords returns a copy of the chord list.
func (c *Composition) Chords() []string {
	out := make([]string, len(c.chords))
	copy(out, c.chords)
	return out
}

func (c *Composition) Settings() Settings { return c.settings }

func (c *Composition) NoteCount() int { return len(c.notes) }

func (c *Composition) ChordCount() int { return len(c.chords) }

// IsEmpty reports whether there is nothing to play.
func (c *Composition) IsEmpty() bool {
	return len(c.notes) == 0 && len(c.chords) == 0
}

// AddNote appends a note. custom is only read when duration is Custom; a
// missing or non-positive value means one beat. An empty or unknown duration
// is stored as Quarter.
func (c *Composition) AddNote(name string, octave int, duration Duration, custom float64) (Note, error) {
	if _, ok := PitchIndex(name); !ok {
		return Note{}, fmt.Errorf("%w: %q", ErrInvalidPitch, name)
	}
	if _, known := duration.Beats(); !known && duration != Custom {
		duration = Quarter
	}
	note := Note{
		ID:            c.ids.NewID(),
		Name:          name,
		Octave:        octave,
		Duration:      duration,
		DurationValue: resolveBeats(duration, custom),
	}
	c.notes = append(c.notes, note)
	c.publish(NotesChanged)
	return note, nil
}

// RemoveNote deletes the note with the given id; unknown ids are ignored.
// It reports whether a note was removed.
func (c *Composition) RemoveNote(id string) bool {
	for i, n := range c.notes {
		if n.ID == id {
			c.notes = append(c.notes[:i], c.notes[i+1:]...)
			c.publish(NotesChanged)
			return true
		}
	}
	return false
}

// ClearNotes empties the note list. Chords are kept.
func (c *Composition) ClearNotes() {
	c.notes = nil
	c.publish(NotesChanged)
}

// ParseNotes appends the notes found in text (see Parse).
func (c *Composition) ParseNotes(text string) ParseResult {
	res := Parse(text, c.ids)
	if len(res.Notes) == 0 {
		return res
	}
	c.notes = append(c.notes, res.Notes...)
	c.publish(NotesChanged)
	return res
}

// AddChord appends name unless it is blank or already present (exact,
// case-sensitive match). It reports whether the chord was added.
func (c *Composition) AddChord(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, existing := range c.chords {
		if existing == name {
			return false
		}
	}
	c.chords = append(c.chords, name)
	c.publish(ChordsChanged)
	return true
}

// RemoveChord deletes the chord at index; out-of-range indexes are ignored.
func (c *Composition) RemoveChord(index int) bool {
	if index < 0 || index >= len(c.chords) {
		return false
	}
	c.chords = append(c.chords[:index], c.chords[index+1:]...)
	c.publish(ChordsChanged)
	return true
}

// SetTempo stores bpm clamped to [MinTempo, MaxTempo].
func (c *Composition) SetTempo(bpm int) {
	c.settings.Tempo = ClampTempo(bpm)
	c.publish(SettingsChanged)
}

func (c *Composition) SetTimeSignature(ts string) {
	if ts = strings.TrimSpace(ts); ts == "" {
		ts = "4/4"
	}
	c.settings.TimeSignature = ts
	c.publish(SettingsChanged)
}

// SetKey stores the key label; empty means automatic.
func (c *Composition) SetKey(key string) {
	c.settings.Key = strings.TrimSpace(key)
	c.publish(SettingsChanged)
}

// SetCapo stores the capo fret; negative values are treated as no capo.
func (c *Composition) SetCapo(fret int) {
	if fret < 0 {
		fret = 0
	}
	c.settings.Capo = fret
	c.publish(SettingsChanged)
}

// SetPattern selects a picking pattern. custom is kept only for CustomPattern.
func (c *Composition) SetPattern(pattern, custom string) {
	c.settings.Pattern = strings.TrimSpace(pattern)
	if c.settings.Pattern == CustomPattern {
		c.settings.CustomPattern = custom
	} else {
		c.settings.CustomPattern = ""
	}
	c.publish(SettingsChanged)
}
