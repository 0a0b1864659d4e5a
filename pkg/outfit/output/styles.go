package output

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/outfit/pkg/outfit/detect"
)

// ANSI 256-color palette.
var (
	colorAccent  = lipgloss.Color("39")
	colorOK      = lipgloss.Color("42")
	colorChanged = lipgloss.Color("214")
	colorBroken  = lipgloss.Color("196")
	colorDim     = lipgloss.Color("245")
	colorText    = lipgloss.Color("255")
)

func boxed(border lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
}

func fg(c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

var (
	headerBox  = boxed(colorAccent).MarginBottom(1)
	summaryBox = boxed(colorDim).MarginTop(1)
	failureBox = boxed(colorBroken)

	strategyStyle = fg(colorAccent).Bold(true)
	bytesStyle    = fg(colorAccent).Bold(true)
	labelStyle    = fg(colorDim)
	dimStyle      = fg(colorDim)
	columnStyle   = fg(colorDim).Bold(true)
	valueStyle    = fg(colorText)
	pathStyle     = fg(colorText)
	okStyle       = fg(colorOK)
	changedStyle  = fg(colorChanged)
	brokenStyle   = fg(colorBroken)
)

// stateStyle colors a detected state: green when managed by a current
// manifest, amber for legacy, red for unrecognised content.
func stateStyle(k detect.Kind) lipgloss.Style {
	switch k {
	case detect.Current:
		return okStyle
	case detect.Legacy:
		return changedStyle
	case detect.Unknown:
		return brokenStyle
	}
	return dimStyle
}
