package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"MusicFlow/core/composition"
)

type noteEvent struct {
	tick uint32
	key  uint8
	on   bool
}

func TestWriteMIDI(t *testing.T) {
	notes := []composition.Note{
		{ID: "1", Name: "C", Octave: 4, Duration: composition.Quarter, DurationValue: 1},
		{ID: "2", Name: "D", Octave: 4, Duration: composition.Half, DurationValue: 2},
		{ID: "3", Name: "E", Octave: 2, Duration: composition.Custom, DurationValue: 0.5},
	}
	s := composition.DefaultSettings()
	s.Tempo = 90
	s.TimeSignature = "3/4"

	data, err := MIDIBytes(notes, s, Options{Name: "test"})
	require.NoError(t, err)

	rd, err := smf.ReadFrom(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rd.Tracks, 2)

	tempos := rd.TempoChanges()
	require.NotEmpty(t, tempos)
	assert.InDelta(t, 90, tempos[0].BPM, 0.01)

	var num, denom uint8
	foundMeter := false
	for _, ev := range rd.Tracks[0] {
		if ev.Message.GetMetaMeter(&num, &denom) {
			foundMeter = true
		}
	}
	require.True(t, foundMeter)
	assert.Equal(t, uint8(3), num)
	assert.Equal(t, uint8(4), denom)

	var events []noteEvent
	var program uint8
	var abs uint32
	for _, ev := range rd.Tracks[1] {
		abs += ev.Delta
		msg := midi.Message(ev.Message)
		var ch, key, vel uint8
		switch {
		case msg.GetProgramChange(&ch, &program):
		case msg.GetNoteOn(&ch, &key, &vel):
			assert.Equal(t, uint8(Velocity), vel)
			events = append(events, noteEvent{abs, key, true})
		case msg.GetNoteOff(&ch, &key, &vel):
			events = append(events, noteEvent{abs, key, false})
		}
	}
	assert.Equal(t, uint8(GuitarProgram), program)
	assert.Equal(t, []noteEvent{
		{0, 60, true}, {960, 60, false},
		{960, 62, true}, {2880, 62, false},
		{2880, 40, true}, {3360, 40, false},
	}, events)
}

func TestWriteMIDIEmpty(t *testing.T) {
	data, err := MIDIBytes(nil, composition.DefaultSettings(), Options{})
	require.NoError(t, err)
	rd, err := smf.ReadFrom(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, rd.Tracks, 2)
}

func TestMeter(t *testing.T) {
	cases := map[string][2]uint8{
		"4/4":  {4, 4},
		"3/4":  {3, 4},
		"6/8":  {6, 8},
		" 5/4": {5, 4},
		"":     {4, 4},
		"7/5":  {4, 4},
		"x/4":  {4, 4},
		"0/4":  {4, 4},
	}
	for in, want := range cases {
		n, d := Meter(in)
		assert.Equal(t, want, [2]uint8{n, d}, in)
	}
}

func TestTicks(t *testing.T) {
	assert.Equal(t, uint32(960), Ticks(1))
	assert.Equal(t, uint32(240), Ticks(0.25))
	assert.Equal(t, uint32(1440), Ticks(1.5))
	assert.Equal(t, uint32(1), Ticks(0.0001))
}
