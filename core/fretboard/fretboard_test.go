package fretboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MusicFlow/core/composition"
)

func TestNoteAt(t *testing.T) {
	tests := []struct {
		s    StringNote
		fret int
		capo int
		want string
	}{
		{StringNote{"E", 2}, 0, 0, "E2"},
		{StringNote{"E", 2}, 5, 0, "A2"},
		{StringNote{"E", 2}, 8, 0, "C3"},
		{StringNote{"B", 3}, 1, 0, "C4"},
		{StringNote{"E", 4}, 12, 0, "E5"},
		{StringNote{"A", 2}, 3, 2, "D3"},
		{StringNote{"G", 3}, 12, 12, "G5"},
		{StringNote{"C", 4}, -1, 0, "B3"},
		{StringNote{"C", 4}, 0, -13, "B2"},
	}
	for _, tt := range tests {
		got := NoteAt(tt.s, tt.fret, tt.capo)
		assert.Equal(t, tt.want, got.String(), "%s fret %d capo %d", tt.s, tt.fret, tt.capo)
	}
}

func TestNoteAtCapoInvariance(t *testing.T) {
	for _, s := range StandardTuning {
		for fret := 0; fret <= Frets; fret++ {
			for capo := 0; capo <= 12; capo++ {
				require.Equal(t, NoteAt(s, fret+capo, 0), NoteAt(s, fret, capo))
			}
		}
	}
}

func TestRender(t *testing.T) {
	notes := []composition.Note{
		{ID: "1", Name: "E", Octave: 2},
		{ID: "2", Name: "C", Octave: 4},
	}
	d := Render(notes, 0)

	require.Len(t, d.Rows, 6)
	assert.False(t, d.Empty)
	assert.Equal(t, "E4", d.Rows[0].String)
	assert.Equal(t, "E2", d.Rows[5].String)

	for _, r := range d.Rows {
		require.Len(t, r.Cells, Frets+1)
		for _, c := range r.Cells {
			assert.Equal(t, IsMarker(c.Fret), c.Marker)
		}
	}

	// E2 only on the open low string; C4 on B3 fret 1, G3 fret 5, D3 fret 10.
	assert.True(t, d.Rows[5].Cells[0].Active)
	assert.Equal(t, "E", d.Rows[5].Cells[0].Label)
	assert.True(t, d.Rows[1].Cells[1].Active)
	assert.True(t, d.Rows[2].Cells[5].Active)
	assert.True(t, d.Rows[3].Cells[10].Active)
	assert.Equal(t, "C", d.Rows[3].Cells[10].Label)
	assert.Equal(t, 4, d.ActiveCount())
}

func TestRenderWithCapo(t *testing.T) {
	notes := []composition.Note{{ID: "1", Name: "F#", Octave: 2}}
	d := Render(notes, 2)
	assert.True(t, d.Rows[5].Cells[0].Active)
	assert.Equal(t, 2, d.Capo)
}

func TestRenderEmpty(t *testing.T) {
	d := Render(nil, 0)
	assert.True(t, d.Empty)
	assert.Zero(t, d.ActiveCount())
	assert.Len(t, d.Rows, 6)
	assert.Equal(t, []int{3, 5, 7, 9, 12}, d.Markers)
}
