package fretboard

import "MusicFlow/core/composition"

// Cell is one fret position on one string.
type Cell struct {
	Fret   int    `json:"fret"`
	Pitch  string `json:"pitch"`
	Active bool   `json:"active"`
	// Label is the pitch class of the matching note, set only when Active.
	Label  string `json:"label,omitempty"`
	Marker bool   `json:"marker"`
}

// Row is one string of the diagram, frets 0..Frets.
type Row struct {
	String string `json:"string"`
	Cells  []Cell `json:"cells"`
}

// Diagram is the rendered neck. Empty is set when there are no notes; the rows
// are still populated so callers can draw a bare neck.
type Diagram struct {
	Capo    int   `json:"capo"`
	Markers []int `json:"markers"`
	Rows    []Row `json:"rows"`
	Empty   bool  `json:"empty"`
}

// Render builds the diagram for notes under the given capo. A cell is active
// when some note has the same pitch class and octave as the cell.
func Render(notes []composition.Note, capo int) Diagram {
	active := make(map[Pitch]struct{}, len(notes))
	for _, n := range notes {
		active[Pitch{Name: n.Name, Octave: n.Octave}] = struct{}{}
	}

	d := Diagram{
		Capo:    capo,
		Markers: append([]int(nil), MarkerFrets...),
		Rows:    make([]Row, 0, len(StandardTuning)),
		Empty:   len(notes) == 0,
	}
	for _, s := range StandardTuning {
		row := Row{String: s.String(), Cells: make([]Cell, 0, Frets+1)}
		for fret := 0; fret <= Frets; fret++ {
			p := NoteAt(s, fret, capo)
			cell := Cell{Fret: fret, Pitch: p.String(), Marker: IsMarker(fret)}
			if _, ok := active[p]; ok {
				cell.Active = true
				cell.Label = p.Name
			}
			row.Cells = append(row.Cells, cell)
		}
		d.Rows = append(d.Rows, row)
	}
	return d
}

// ActiveCount returns the number of active cells across all strings.
func (d Diagram) ActiveCount() int {
	n := 0
	for _, r := range d.Rows {
		for _, c := range r.Cells {
			if c.Active {
				n++
			}
		}
	}
	return n
}
