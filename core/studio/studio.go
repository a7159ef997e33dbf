// Package studio hosts guitar composition sessions. Each Studio owns one
// composition and one playback engine and serialises every mutation.
package studio

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"MusicFlow/core/analysis"
	"MusicFlow/core/clock"
	"MusicFlow/core/composition"
	"MusicFlow/core/export"
	"MusicFlow/core/playback"
	"MusicFlow/logger"
)

var (
	ErrNotFound     = errors.New("studio not found")
	ErrForbidden    = errors.New("studio belongs to another user")
	ErrClosed       = errors.New("studio closed")
	ErrLimitReached = errors.New("too many open studios")
)

// SettingsPatch updates only the fields that are set.
type SettingsPatch struct {
	Tempo         *int    `json:"tempo,omitempty"`
	TimeSignature *string `json:"timeSignature,omitempty"`
	Key           *string `json:"key,omitempty"`
	Capo          *int    `json:"capo,omitempty"`
	Pattern       *string `json:"pattern,omitempty"`
	CustomPattern *string `json:"customPattern,omitempty"`
}

// Studio is one live composition session.
type Studio struct {
	ID        string
	OwnerID   int64
	CreatedAt time.Time

	clock clock.Clock
	pub   Publisher

	mu          sync.Mutex
	comp        *composition.Composition
	engine      *playback.Engine
	unsubscribe func()
	dirty       bool
	lastActive  time.Time
	closed      bool
}

func newStudio(id string, ownerID int64, cfg Config, pub Publisher) *Studio {
	now := cfg.Clock.Now()
	s := &Studio{
		ID:         id,
		OwnerID:    ownerID,
		CreatedAt:  now,
		clock:      cfg.Clock,
		pub:        pub,
		comp:       composition.New(cfg.NoteIDs),
		lastActive: now,
	}
	s.engine = playback.New(playback.Config{
		Clock:         cfg.Clock,
		GenerateDelay: cfg.GenerateDelay,
		TickInterval:  cfg.TickInterval,
		OnChange:      s.onPlayback,
	})
	s.unsubscribe = s.comp.Subscribe(func(composition.Change) { s.dirty = true })
	return s
}

// mutate runs fn under the studio lock and re-renders once if fn changed
// the composition.
func (s *Studio) mutate(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.lastActive = s.clock.Now()
	fn()
	if s.dirty {
		s.dirty = false
		s.refreshLocked()
	}
	return nil
}

// refreshLocked resets playback for the new content and pushes a fresh view.
func (s *Studio) refreshLocked() {
	notes := s.comp.Notes()
	s.engine.Reset(!s.comp.IsEmpty(), analysis.TotalSeconds(notes, s.comp.Settings().Tempo))
	s.publish(MsgTypeRender, Render(s.ID, s.comp, s.engine.Snapshot()))
}

func (s *Studio) onPlayback(snap playback.Snapshot) {
	s.publish(MsgTypePlayback, snap)
}

func (s *Studio) publish(t MessageType, v interface{}) {
	if s.pub == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("[Studio] 序列化失败", logger.String("studio", s.ID), logger.ErrorField(err))
		return
	}
	s.pub.Publish(s.ID, &WSMessage{Type: t, Data: data})
}

// View renders the current state.
func (s *Studio) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Render(s.ID, s.comp, s.engine.Snapshot())
}

// LastActive is the time of the last mutation or playback command.
func (s *Studio) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Studio) AddNote(name string, octave int, d composition.Duration, custom float64) (composition.Note, error) {
	var (
		note composition.Note
		err  error
	)
	if e := s.mutate(func() { note, err = s.comp.AddNote(name, octave, d, custom) }); e != nil {
		return composition.Note{}, e
	}
	return note, err
}

func (s *Studio) RemoveNote(id string) (bool, error) {
	var removed bool
	err := s.mutate(func() { removed = s.comp.RemoveNote(id) })
	return removed, err
}

// ParseNotes appends the notes found in text. Unreadable tokens are skipped
// and reported in the result.
func (s *Studio) ParseNotes(text string) (composition.ParseResult, error) {
	var res composition.ParseResult
	err := s.mutate(func() { res = s.comp.ParseNotes(text) })
	if err == nil && len(res.Skipped) > 0 {
		logger.Debug("[Studio] 跳过无法解析的音符",
			logger.String("studio", s.ID),
			logger.Strings("tokens", res.Skipped))
	}
	return res, err
}

func (s *Studio) ClearNotes() error {
	return s.mutate(s.comp.ClearNotes)
}

func (s *Studio) AddChord(name string) (bool, error) {
	var added bool
	err := s.mutate(func() { added = s.comp.AddChord(name) })
	return added, err
}

func (s *Studio) RemoveChord(index int) (bool, error) {
	var removed bool
	err := s.mutate(func() { removed = s.comp.RemoveChord(index) })
	return removed, err
}

// UpdateSettings applies p and returns the resulting settings.
func (s *Studio) UpdateSettings(p SettingsPatch) (composition.Settings, error) {
	var out composition.Settings
	err := s.mutate(func() {
		if p.Tempo != nil {
			s.comp.SetTempo(*p.Tempo)
		}
		if p.TimeSignature != nil {
			s.comp.SetTimeSignature(*p.TimeSignature)
		}
		if p.Key != nil {
			s.comp.SetKey(*p.Key)
		}
		if p.Capo != nil {
			s.comp.SetCapo(*p.Capo)
		}
		if p.Pattern != nil {
			custom := ""
			if p.CustomPattern != nil {
				custom = *p.CustomPattern
			}
			s.comp.SetPattern(*p.Pattern, custom)
		}
		out = s.comp.Settings()
	})
	return out, err
}

// Toggle generates, pauses or resumes playback.
func (s *Studio) Toggle() (playback.Snapshot, error) {
	if err := s.touch(); err != nil {
		return playback.Snapshot{}, err
	}
	return s.engine.Toggle()
}

func (s *Studio) Stop() (playback.Snapshot, error) {
	if err := s.touch(); err != nil {
		return playback.Snapshot{}, err
	}
	return s.engine.Stop(), nil
}

func (s *Studio) touch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.lastActive = s.clock.Now()
	return nil
}

// ExportMIDI writes the notes as a standard MIDI file.
func (s *Studio) ExportMIDI() ([]byte, error) {
	s.mu.Lock()
	notes, settings := s.comp.Notes(), s.comp.Settings()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return export.MIDIBytes(notes, settings, export.Options{Name: "MusicFlow " + s.ID})
}

// Close cancels playback timers. Further calls fail with ErrClosed.
func (s *Studio) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.unsubscribe()
	s.mu.Unlock()
	s.engine.Close()
}
