// Package display renders CLI output for the backup engine: colored
// status lines, progress spinners and tabular listings of backups,
// restores and schedules.
package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color identifies a named terminal color
type Color int

const (
	ColorDefault Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorGray
	ColorBrightRed
	ColorBrightGreen
)

// ColorSystem applies colors to text when the terminal supports them
type ColorSystem interface {
	Colorize(text string, clr Color) string
	Sprintf(clr Color, format string, args ...interface{}) string
	IsColorSupported() bool
}

type colorSystem struct {
	colorSupported bool
	profile        termenv.Profile
	colorMap       map[Color]*color.Color
}

// NewColorSystem creates a color system with terminal detection
func NewColorSystem() ColorSystem {
	cs := &colorSystem{
		colorSupported: detectColorSupport(),
		profile:        termenv.ColorProfile(),
	}
	cs.initializeColorMap()
	return cs
}

// NewPlainColorSystem creates a color system that never emits escapes.
// Listing commands use it when writing to pipes or files.
func NewPlainColorSystem() ColorSystem {
	cs := &colorSystem{colorSupported: false, profile: termenv.Ascii}
	cs.initializeColorMap()
	return cs
}

// detectColorSupport checks if the terminal supports colors
func detectColorSupport() bool {
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return true
}

func (cs *colorSystem) initializeColorMap() {
	cs.colorMap = map[Color]*color.Color{
		ColorRed:         color.New(color.FgRed),
		ColorGreen:       color.New(color.FgGreen),
		ColorYellow:      color.New(color.FgYellow),
		ColorBlue:        color.New(color.FgBlue),
		ColorMagenta:     color.New(color.FgMagenta),
		ColorCyan:        color.New(color.FgCyan),
		ColorGray:        color.New(color.FgHiBlack),
		ColorBrightRed:   color.New(color.FgHiRed),
		ColorBrightGreen: color.New(color.FgHiGreen),
	}
}

// Colorize applies color to text if color is supported
func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.colorSupported {
		return text
	}
	if colorFunc, exists := cs.colorMap[clr]; exists {
		return colorFunc.Sprint(text)
	}
	return text
}

// Sprintf formats text with color using a format string
func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// IsColorSupported returns whether colors are supported
func (cs *colorSystem) IsColorSupported() bool {
	return cs.colorSupported
}
