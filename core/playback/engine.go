// Package playback simulates generating and playing a composition. No audio is
// produced: generation is a fixed delay and playing advances a progress clock.
package playback

import (
	"errors"
	"sync"
	"time"

	"MusicFlow/core/analysis"
	"MusicFlow/core/clock"
)

const (
	DefaultGenerateDelay = 1200 * time.Millisecond
	DefaultTickInterval  = 100 * time.Millisecond
)

var (
	// ErrNothingToPlay is returned by Toggle when there are no notes or chords.
	ErrNothingToPlay = errors.New("add some notes or chords first")
	ErrClosed        = errors.New("playback engine closed")
)

type State string

const (
	Idle       State = "idle"
	Ready      State = "ready"
	Generating State = "generating"
	Playing    State = "playing"
	Paused     State = "paused"
	Stopped    State = "stopped"
)

// Snapshot is the playback record shown by the player.
type Snapshot struct {
	State         State   `json:"state"`
	IsPlaying     bool    `json:"isPlaying"`
	HasGenerated  bool    `json:"hasGenerated"`
	CurrentTime   float64 `json:"currentTime"`
	TotalDuration float64 `json:"totalDuration"`
	Progress      float64 `json:"progress"`
	CurrentLabel  string  `json:"currentLabel"`
	TotalLabel    string  `json:"totalLabel"`
}

// Config configures an Engine. Zero values select the real clock and the
// default delays.
type Config struct {
	Clock         clock.Clock
	GenerateDelay time.Duration
	TickInterval  time.Duration
	// OnChange is called after every transition and tick, outside the
	// engine's lock.
	OnChange func(Snapshot)
}

// Engine is the playback state machine of one studio.
type Engine struct {
	clock         clock.Clock
	generateDelay time.Duration
	tick          time.Duration
	onChange      func(Snapshot)

	mu           sync.Mutex
	state        State
	hasContent   bool
	total        float64
	elapsed      time.Duration
	hasGenerated bool
	closed       bool

	// epoch is bumped whenever pending timers are invalidated so that a
	// callback already in flight can tell it is stale.
	epoch     uint64
	generator clock.Timer
	ticker    clock.Timer
}

func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.GenerateDelay <= 0 {
		cfg.GenerateDelay = DefaultGenerateDelay
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Engine{
		clock:         cfg.Clock,
		generateDelay: cfg.GenerateDelay,
		tick:          cfg.TickInterval,
		onChange:      cfg.OnChange,
		state:         Idle,
	}
}

// Reset discards any generated or playing state after the composition
// changed. hasContent tells whether there are notes or chords; total is the
// new duration in seconds.
func (e *Engine) Reset(hasContent bool, total float64) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.cancelTimersLocked()
	e.hasContent = hasContent
	e.total = total
	e.elapsed = 0
	e.hasGenerated = false
	if hasContent {
		e.state = Ready
	} else {
		e.state = Idle
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.emit(snap)
}

// Toggle generates on first use, then alternates between playing and paused.
func (e *Engine) Toggle() (Snapshot, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if !e.hasContent {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, ErrNothingToPlay
	}

	switch {
	case e.state == Generating:
		// already on its way
	case !e.hasGenerated:
		e.startGenerateLocked()
	case e.state == Playing:
		e.pauseLocked(Paused)
	default:
		e.startPlayingLocked()
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.emit(snap)
	return snap, nil
}

// Stop halts playback and rewinds to 0. Stopping while generating abandons
// the generation.
func (e *Engine) Stop() Snapshot {
	e.mu.Lock()
	if e.closed {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap
	}
	switch {
	case e.state == Generating:
		e.cancelTimersLocked()
		e.state = Ready
	case e.hasGenerated:
		e.pauseLocked(Stopped)
		e.elapsed = 0
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.emit(snap)
	return snap
}

// Close cancels pending timers. The engine is unusable afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelTimersLocked()
	e.closed = true
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) startGenerateLocked() {
	e.cancelTimersLocked()
	e.state = Generating
	epoch := e.epoch
	e.generator = e.clock.AfterFunc(e.generateDelay, func() { e.generated(epoch) })
}

func (e *Engine) generated(epoch uint64) {
	e.mu.Lock()
	if e.closed || epoch != e.epoch || e.state != Generating {
		e.mu.Unlock()
		return
	}
	e.generator = nil
	e.hasGenerated = true
	e.state = Stopped
	e.startPlayingLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.emit(snap)
}

// startPlayingLocked does nothing for a zero-length composition, leaving the
// engine generated but stopped.
func (e *Engine) startPlayingLocked() {
	if e.total <= 0 {
		return
	}
	if e.ticker != nil {
		e.ticker.Stop()
	}
	e.epoch++
	epoch := e.epoch
	e.state = Playing
	e.ticker = clock.Every(e.clock, e.tick, func() { e.advance(epoch) })
}

func (e *Engine) advance(epoch uint64) {
	e.mu.Lock()
	if e.closed || epoch != e.epoch || e.state != Playing {
		e.mu.Unlock()
		return
	}
	e.elapsed += e.tick
	if e.elapsed.Seconds() >= e.total {
		e.pauseLocked(Stopped)
		e.elapsed = 0
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.emit(snap)
}

func (e *Engine) pauseLocked(next State) {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	e.epoch++
	e.state = next
}

func (e *Engine) cancelTimersLocked() {
	e.epoch++
	if e.generator != nil {
		e.generator.Stop()
		e.generator = nil
	}
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	current := e.elapsed.Seconds()
	if current > e.total {
		current = e.total
	}
	var progress float64
	if e.total > 0 {
		progress = current / e.total * 100
	}
	return Snapshot{
		State:         e.state,
		IsPlaying:     e.state == Playing,
		HasGenerated:  e.hasGenerated,
		CurrentTime:   current,
		TotalDuration: e.total,
		Progress:      progress,
		CurrentLabel:  analysis.FormatTime(current),
		TotalLabel:    analysis.FormatTime(e.total),
	}
}

func (e *Engine) emit(s Snapshot) {
	if e.onChange != nil {
		e.onChange(s)
	}
}
