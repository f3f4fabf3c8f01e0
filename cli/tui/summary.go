package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Summary describes a finished offline merge. It is the payload for both
// the rendered (json/table/yaml) and the TUI output.
type Summary struct {
	Output         string `json:"output" yaml:"output"`
	Inputs         int    `json:"inputs" yaml:"inputs"`
	LinesRead      int64  `json:"lines_read" yaml:"lines_read"`
	PairsExtracted int64  `json:"pairs_extracted" yaml:"pairs_extracted"`
	Unique         int    `json:"unique" yaml:"unique"`
	Bytes          int64  `json:"bytes" yaml:"bytes"`
	DurationMs     int64  `json:"duration_ms" yaml:"duration_ms"`
}

// Duplicates is the number of extracted pairs dropped as repeats.
func (s Summary) Duplicates() int64 {
	return max(s.PairsExtracted-int64(s.Unique), 0)
}

// Styled renders the stat boxes for table output.
func (s Summary) Styled() string {
	return RenderSummary(s)
}

// RenderSummary renders s as a row of stat boxes under the output path.
func RenderSummary(s Summary) string {
	var b strings.Builder
	b.WriteString(SuccessStyle.Render("✓ "+s.Output) + "\n\n")

	boxes := []string{
		renderStatBox("Inputs", fmt.Sprintf("%d", s.Inputs), highlightColor),
		renderStatBox("Unique", fmt.Sprintf("%d", s.Unique), successColor),
		renderStatBox("Duplicates", fmt.Sprintf("%d", s.Duplicates()), warningColor),
		renderStatBox("Read", formatBytes(s.Bytes), mutedColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	return b.String()
}

func renderStatBox(label, value string, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(value)
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
