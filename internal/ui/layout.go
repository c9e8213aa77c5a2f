package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-automation/internal/theme"
)

// Layout splits the terminal into a header line, the content area, and a
// status bar line.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with one-line header and status bar.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the rows left between the header and status bar.
func (l Layout) ContentHeight() int {
	return l.Height - l.HeaderHeight - l.StatusBarHeight
}

// Summary counts provider connections for the header.
type Summary struct {
	Total      int
	Connected  int
	Connecting int
}

func (s Summary) String() string {
	switch {
	case s.Total == 0:
		return "no providers"
	case s.Connecting > 0:
		return fmt.Sprintf("signing in (%d)", s.Connecting)
	default:
		return fmt.Sprintf("%d/%d connected", s.Connected, s.Total)
	}
}

// style picks the header color for the summary: yellow while a sign-in
// runs, green when every provider is connected.
func (s Summary) style() lipgloss.Style {
	st := theme.HeaderStyle
	switch {
	case s.Connecting > 0:
		return st.Foreground(theme.ColorYellow)
	case s.Total > 0 && s.Connected == s.Total:
		return st.Foreground(theme.ColorGreen)
	default:
		return st
	}
}

// RenderHeader renders the title on the left and the connection summary
// on the right.
func (l Layout) RenderHeader(title string, s Summary) string {
	left := theme.HeaderStyle.Render(title)
	right := s.style().Render(s.String())

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		left,
		fill(theme.HeaderStyle, l.Width-lipgloss.Width(left)-lipgloss.Width(right)),
		right,
	)
}

// RenderStatusBar renders the last message on the left and key hints on
// the right. Hints are dropped when both do not fit.
func (l Layout) RenderStatusBar(message, hints string) string {
	if message == "" {
		left := theme.StatusBarStyle.Render(hints)
		return lipgloss.JoinHorizontal(lipgloss.Top, left, fill(theme.StatusBarStyle, l.Width-lipgloss.Width(left)))
	}

	left := theme.StatusBarStyle.Bold(true).Render(message)
	right := theme.StatusBarStyle.Render(hints)
	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return lipgloss.JoinHorizontal(lipgloss.Top, left, fill(theme.StatusBarStyle, l.Width-lipgloss.Width(left)))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, left, fill(theme.StatusBarStyle, gap), right)
}

// RenderContent pads or clips content to the content area height so the
// status bar stays on the last line.
func (l Layout) RenderContent(content string) string {
	h := max(l.ContentHeight(), 0)
	return lipgloss.NewStyle().
		Width(l.ContentWidth()).
		Height(h).
		MaxHeight(h).
		Render(content)
}

// RenderWithFrame stacks header, content, and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		l.RenderContent(content),
		statusBar,
	)
}

// fill renders width blank cells in style's background.
func fill(style lipgloss.Style, width int) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Width(width).
		Background(style.GetBackground()).
		Render("")
}
