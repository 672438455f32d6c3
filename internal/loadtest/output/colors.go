package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used by the console output.
type ColorScheme struct {
	Title  *color.Color
	Border *color.Color
	Label  *color.Color
	Value  *color.Color
	Phase  *color.Color
	Timing *color.Color
	Dim    *color.Color
	Good   *color.Color
	Warn   *color.Color
	Bad    *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:  color.New(color.Bold),
		Border: color.New(color.FgCyan),
		Label:  color.New(color.Bold),
		Value:  color.New(color.FgCyan),
		Phase:  color.New(color.FgMagenta),
		Timing: color.New(color.FgBlue),
		Dim:    color.New(color.Faint),
		Good:   color.New(color.FgGreen),
		Warn:   color.New(color.FgYellow),
		Bad:    color.New(color.FgRed),
	}
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Border, s.Label, s.Value, s.Phase, s.Timing, s.Dim, s.Good, s.Warn, s.Bad}
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ForcedColorScheme returns the default scheme with colors on even when
// the output is not a terminal.
func ForcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

// rateColor picks good/warn/bad for a success ratio.
func (s *ColorScheme) rateColor(rate float64) *color.Color {
	switch {
	case rate >= 0.99:
		return s.Good
	case rate >= 0.95:
		return s.Warn
	default:
		return s.Bad
	}
}

// mark returns a colored ✓ or ✗.
func (s *ColorScheme) mark(ok bool) string {
	if ok {
		return s.Good.Sprint("✓")
	}
	return s.Bad.Sprint("✗")
}
