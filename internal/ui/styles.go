package ui

import (
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	secondaryStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	warningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	focusedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	blurStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	panelTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	panelStyle      = lipgloss.NewStyle().Padding(0, 1)
	remoteStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	sentinelStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("111"))
)

type logMsg string

// LogSink carries log records into the log pane shown in verbose mode.
type LogSink struct {
	channel chan logMsg
}

func NewLogSink() *LogSink {
	return &LogSink{channel: make(chan logMsg, 200)}
}

// Handler formats records as text lines for the log pane.
func (sink *LogSink) Handler(level slog.Level) slog.Handler {
	return slog.NewTextHandler(logWriter{channel: sink.channel}, &slog.HandlerOptions{Level: level})
}

type logWriter struct {
	channel chan<- logMsg
}

// Write never blocks; lines are dropped while the pane is behind.
func (writer logWriter) Write(data []byte) (int, error) {
	message := strings.TrimSpace(string(data))
	if message == "" {
		return len(data), nil
	}

	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		select {
		case writer.channel <- logMsg(line):
		default:
		}
	}

	return len(data), nil
}

func listHeight(height int) int {
	if height <= 10 {
		return height
	}
	return height - 8
}

const coverCellAspectRatio = 0.5

func coverRenderSize(panelWidth int, imageWidth, imageHeight int) (int, int) {
	cols := max(panelWidth-2, 12)

	rows := 12
	if imageWidth > 0 && imageHeight > 0 {
		ratio := float64(imageHeight) / float64(imageWidth)
		rows = int(math.Round(float64(cols) * ratio * coverCellAspectRatio))
	}
	return cols, min(max(rows, 6), 24)
}

// pageRenderSize fits a page into the cell box of a panel, never taller
// than maxRows.
func pageRenderSize(panelWidth, maxRows, imageWidth, imageHeight int) (int, int) {
	cols := max(panelWidth-2, 12)
	rows := max(maxRows, 6)
	if imageWidth <= 0 || imageHeight <= 0 {
		return cols, rows
	}

	ratio := float64(imageHeight) / float64(imageWidth)
	needed := int(math.Round(float64(cols) * ratio * coverCellAspectRatio))
	if needed > rows {
		cols = max(int(math.Round(float64(rows)/(ratio*coverCellAspectRatio))), 6)
		return cols, rows
	}
	return cols, max(needed, 1)
}

func blankBlock(rows, cols int) string {
	if rows <= 0 || cols <= 0 {
		return ""
	}

	line := strings.Repeat(" ", cols)
	lines := make([]string, rows)
	for i := range lines {
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func sidePanelWidth(totalWidth int) int {
	if totalWidth <= 40 {
		return totalWidth
	}
	return min(max(totalWidth/3, 28), totalWidth-20)
}

func mainColumnWidth(totalWidth int) int {
	if totalWidth < 80 {
		return max(totalWidth-4, 20)
	}
	return max(totalWidth-sidePanelWidth(totalWidth)-2, 20)
}

func supportsKittyGraphics() bool {
	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "ghostty") || strings.Contains(term, "kitty")
}
