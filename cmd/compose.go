package cmd

import (
	"fmt"
	"os"
	"strings"

	"MusicFlow/core/analysis"
	"MusicFlow/core/composition"
	"MusicFlow/core/export"
	"MusicFlow/core/fretboard"
	"MusicFlow/logger"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	composeChords        []string
	composeTempo         int
	composeTimeSignature string
	composeKey           string
	composeCapo          int
	composePattern       string
	composeCustomPattern string
	composeMIDI          string
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle  = lipgloss.NewStyle().Width(16).Align(lipgloss.Left).Foreground(lipgloss.Color("#888888"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")).Bold(true)
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
)

var composeCmd = &cobra.Command{
	Use:   "compose [notes...]",
	Short: "在终端里编排音符并显示指板和分析",
	Long: `按 <音名><八度>-<时值> 的格式输入音符，例如 "E2-half G3 B3-1.5"，
输出指板图、分析面板和统计信息，可选导出 MIDI 文件。`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := composition.New(composition.UUIDGenerator{})
		res := c.ParseNotes(strings.Join(args, " "))
		for _, name := range composeChords {
			c.AddChord(name)
		}
		c.SetTempo(composeTempo)
		c.SetTimeSignature(composeTimeSignature)
		c.SetKey(composeKey)
		c.SetCapo(composeCapo)
		c.SetPattern(composePattern, composeCustomPattern)

		fmt.Fprint(cmd.OutOrStdout(), renderComposition(c, res.Skipped))

		if composeMIDI == "" {
			return nil
		}
		f, err := os.Create(composeMIDI)
		if err != nil {
			return fmt.Errorf("create midi file: %w", err)
		}
		defer f.Close()
		if err := export.WriteMIDI(f, c.Notes(), c.Settings(), export.Options{Name: "MusicFlow"}); err != nil {
			return err
		}
		logger.Info("[Compose] MIDI 已导出", logger.String("file", composeMIDI), logger.Int("notes", len(c.Notes())))
		fmt.Fprintf(cmd.OutOrStdout(), "\nMIDI written to %s\n", composeMIDI)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().StringSliceVarP(&composeChords, "chord", "c", nil, "添加和弦，可重复")
	composeCmd.Flags().IntVarP(&composeTempo, "tempo", "t", composition.DefaultTempo, "速度 (BPM)")
	composeCmd.Flags().StringVar(&composeTimeSignature, "time-signature", "4/4", "拍号")
	composeCmd.Flags().StringVarP(&composeKey, "key", "k", "", "调性，留空为自动")
	composeCmd.Flags().IntVar(&composeCapo, "capo", 0, "变调夹品位")
	composeCmd.Flags().StringVar(&composePattern, "pattern", "", "拨弦方式")
	composeCmd.Flags().StringVar(&composeCustomPattern, "custom-pattern", "", "自定义拨弦方式")
	composeCmd.Flags().StringVarP(&composeMIDI, "midi", "o", "", "导出 MIDI 文件路径")

	composeCmd.Example = `  musicflow compose E2-half A2 D3 G3-eighth B3-eighth E4-whole
  musicflow compose C4 E4 G4 -c C -c Am --capo 2 -o song.mid`
}

// renderComposition 绘制指板、分析面板和统计信息
func renderComposition(c *composition.Composition, skipped []string) string {
	var b strings.Builder
	notes, settings := c.Notes(), c.Settings()

	b.WriteString(titleStyle.Render("Fretboard") + "\n")
	b.WriteString(renderFretboard(fretboard.Render(notes, settings.Capo)))
	b.WriteString("\n")

	b.WriteString(titleStyle.Render("Analysis") + "\n")
	summary := analysis.Analyze(notes, settings)
	if summary.Empty {
		b.WriteString(idleStyle.Render("No notes yet.") + "\n")
	} else {
		rows := [][2]string{
			{"Sequence", summary.Sequence},
			{"Octave range", summary.Range},
			{"Chords", strings.Join(summary.DetectedChords, ", ")},
			{"Key", summary.Key},
			{"Time signature", summary.TimeSignature},
			{"Tempo", summary.Tempo},
			{"Total beats", fmt.Sprintf("%g", summary.TotalBeats)},
			{"Total time", summary.TotalTime},
			{"Pattern", summary.Pattern},
		}
		for _, r := range rows {
			b.WriteString(labelStyle.Render(r[0]) + r[1] + "\n")
		}
	}
	if chords := c.Chords(); len(chords) > 0 {
		b.WriteString(labelStyle.Render("Chord list") + strings.Join(chords, " ") + "\n")
	}
	b.WriteString("\n")

	stats := analysis.ComputeStats(notes, len(c.Chords()), settings)
	b.WriteString(fmt.Sprintf("%d notes • %d chords • %s • %s\n", stats.Notes, stats.Chords, stats.Duration, stats.Key))

	if len(skipped) > 0 {
		b.WriteString(warnStyle.Render("Skipped: "+strings.Join(skipped, " ")) + "\n")
	}
	return b.String()
}

func renderFretboard(d fretboard.Diagram) string {
	var b strings.Builder
	stringStyle := lipgloss.NewStyle().Width(4).Align(lipgloss.Left)

	b.WriteString(stringStyle.Render(""))
	for fret := 0; fret <= fretboard.Frets; fret++ {
		label := fmt.Sprintf("%2d ", fret)
		if fretboard.IsMarker(fret) {
			label = activeStyle.Render(label)
		}
		b.WriteString(label)
	}
	b.WriteString("\n")

	for _, row := range d.Rows {
		b.WriteString(stringStyle.Render(row.String))
		for _, cell := range row.Cells {
			if cell.Active {
				b.WriteString(activeStyle.Render(" ● "))
			} else {
				b.WriteString(idleStyle.Render(" · "))
			}
		}
		b.WriteString("\n")
	}
	if d.Capo > 0 {
		b.WriteString(idleStyle.Render(fmt.Sprintf("capo %d", d.Capo)) + "\n")
	}
	return b.String()
}
