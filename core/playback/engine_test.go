package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MusicFlow/core/clock"
)

type recorder struct {
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) { r.snaps = append(r.snaps, s) }

func newTestEngine() (*Engine, *clock.Manual, *recorder) {
	mc := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	e := New(Config{Clock: mc, OnChange: rec.record})
	return e, mc, rec
}

func TestToggleWithoutContent(t *testing.T) {
	e, _, _ := newTestEngine()
	snap, err := e.Toggle()
	assert.ErrorIs(t, err, ErrNothingToPlay)
	assert.Equal(t, Idle, snap.State)
}

func TestGenerateThenPlayUntilStopped(t *testing.T) {
	e, mc, rec := newTestEngine()
	e.Reset(true, 1.0)
	assert.Equal(t, Ready, e.Snapshot().State)

	snap, err := e.Toggle()
	require.NoError(t, err)
	assert.Equal(t, Generating, snap.State)
	assert.False(t, snap.HasGenerated)

	mc.Advance(DefaultGenerateDelay - time.Millisecond)
	assert.Equal(t, Generating, e.Snapshot().State)

	mc.Advance(time.Millisecond)
	snap = e.Snapshot()
	assert.Equal(t, Playing, snap.State)
	assert.True(t, snap.IsPlaying)
	assert.True(t, snap.HasGenerated)

	rec.snaps = nil
	ticks := 0
	for e.Snapshot().State == Playing && ticks < 50 {
		mc.Advance(DefaultTickInterval)
		ticks++
		require.LessOrEqual(t, e.Snapshot().CurrentTime, 1.0)
	}

	assert.Equal(t, 10, ticks)
	snap = e.Snapshot()
	assert.Equal(t, Stopped, snap.State)
	assert.False(t, snap.IsPlaying)
	assert.True(t, snap.HasGenerated)
	assert.Zero(t, snap.CurrentTime)
	assert.Zero(t, mc.Pending(), "ticker is cancelled after stopping")

	require.Len(t, rec.snaps, 10)
	assert.InDelta(t, 0.9, rec.snaps[8].CurrentTime, 1e-9)
	assert.Equal(t, Stopped, rec.snaps[9].State)
}

func TestPauseAndResume(t *testing.T) {
	e, mc, _ := newTestEngine()
	e.Reset(true, 2.0)
	e.Toggle()
	mc.Advance(DefaultGenerateDelay)
	mc.Advance(5 * DefaultTickInterval)

	snap, err := e.Toggle()
	require.NoError(t, err)
	assert.Equal(t, Paused, snap.State)
	assert.InDelta(t, 0.5, snap.CurrentTime, 1e-9)

	mc.Advance(time.Second)
	assert.InDelta(t, 0.5, e.Snapshot().CurrentTime, 1e-9, "paused time does not move")

	snap, _ = e.Toggle()
	assert.Equal(t, Playing, snap.State)
	mc.Advance(3 * DefaultTickInterval)
	assert.InDelta(t, 0.8, e.Snapshot().CurrentTime, 1e-9)
}

func TestStopRewinds(t *testing.T) {
	e, mc, _ := newTestEngine()
	e.Reset(true, 5.0)
	e.Toggle()
	mc.Advance(DefaultGenerateDelay + 7*DefaultTickInterval)

	snap := e.Stop()
	assert.Equal(t, Stopped, snap.State)
	assert.Zero(t, snap.CurrentTime)
	assert.True(t, snap.HasGenerated)
	assert.Zero(t, mc.Pending())

	snap, _ = e.Toggle()
	assert.Equal(t, Playing, snap.State, "a generated composition plays without regenerating")
}

func TestStopWhileGenerating(t *testing.T) {
	e, mc, _ := newTestEngine()
	e.Reset(true, 1.0)
	e.Toggle()

	snap := e.Stop()
	assert.Equal(t, Ready, snap.State)
	mc.Advance(5 * time.Second)
	assert.Equal(t, Ready, e.Snapshot().State)
	assert.False(t, e.Snapshot().HasGenerated)
}

func TestMutationResetsToReady(t *testing.T) {
	for _, name := range []string{"generating", "playing", "paused"} {
		t.Run(name, func(t *testing.T) {
			e, mc, _ := newTestEngine()
			e.Reset(true, 3.0)
			e.Toggle()
			if name != "generating" {
				mc.Advance(DefaultGenerateDelay + 4*DefaultTickInterval)
			}
			if name == "paused" {
				e.Toggle()
			}

			e.Reset(true, 4.0)

			snap := e.Snapshot()
			assert.Equal(t, Ready, snap.State)
			assert.False(t, snap.HasGenerated)
			assert.False(t, snap.IsPlaying)
			assert.Zero(t, snap.CurrentTime)
			assert.Equal(t, 4.0, snap.TotalDuration)

			mc.Advance(10 * time.Second)
			assert.Equal(t, Ready, e.Snapshot().State, "stale timers must not fire")
		})
	}
}

func TestResetWithoutContentIsIdle(t *testing.T) {
	e, _, _ := newTestEngine()
	e.Reset(true, 1)
	e.Reset(false, 0)
	assert.Equal(t, Idle, e.Snapshot().State)
}

func TestZeroLengthCompositionStaysStopped(t *testing.T) {
	e, mc, _ := newTestEngine()
	e.Reset(true, 0) // chords only
	e.Toggle()
	mc.Advance(DefaultGenerateDelay)

	snap := e.Snapshot()
	assert.Equal(t, Stopped, snap.State)
	assert.True(t, snap.HasGenerated)
	assert.Zero(t, mc.Pending())
}

func TestSingleTicker(t *testing.T) {
	e, mc, _ := newTestEngine()
	e.Reset(true, 10)
	e.Toggle()
	mc.Advance(DefaultGenerateDelay)
	e.Toggle()
	e.Toggle()
	e.Toggle()
	e.Toggle()

	assert.Equal(t, 1, mc.Pending())
	mc.Advance(DefaultTickInterval)
	assert.InDelta(t, 0.1, e.Snapshot().CurrentTime, 1e-9)
}

func TestClose(t *testing.T) {
	e, mc, _ := newTestEngine()
	e.Reset(true, 10)
	e.Toggle()
	e.Close()

	assert.Zero(t, mc.Pending())
	_, err := e.Toggle()
	assert.ErrorIs(t, err, ErrClosed)
}
