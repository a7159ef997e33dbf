package studio

import (
	"MusicFlow/core/analysis"
	"MusicFlow/core/composition"
	"MusicFlow/core/fretboard"
	"MusicFlow/core/playback"
)

// View is everything a studio page shows at one instant.
type View struct {
	ID        string               `json:"id"`
	Notes     []composition.Note   `json:"notes"`
	Badges    []string             `json:"badges"`
	Chords    []string             `json:"chords"`
	Settings  composition.Settings `json:"settings"`
	Fretboard fretboard.Diagram    `json:"fretboard"`
	Analysis  analysis.Summary     `json:"analysis"`
	Stats     analysis.Stats       `json:"stats"`
	Playback  playback.Snapshot    `json:"playback"`
	CanPlay   bool                 `json:"canPlay"`
}

// Render derives the view from the composition and the playback snapshot.
// It has no side effects, so calling it twice yields the same view.
func Render(id string, c *composition.Composition, pb playback.Snapshot) View {
	notes := c.Notes()
	settings := c.Settings()

	badges := make([]string, len(notes))
	for i, n := range notes {
		badges[i] = n.Badge()
	}

	return View{
		ID:        id,
		Notes:     notes,
		Badges:    badges,
		Chords:    c.Chords(),
		Settings:  settings,
		Fretboard: fretboard.Render(notes, settings.Capo),
		Analysis:  analysis.Analyze(notes, settings),
		Stats:     analysis.ComputeStats(notes, c.ChordCount(), settings),
		Playback:  pb,
		CanPlay:   !c.IsEmpty(),
	}
}
