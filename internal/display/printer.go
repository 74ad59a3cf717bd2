package display

import (
	"fmt"
	"io"
)

// Printer writes status lines with consistent icons and colors
type Printer struct {
	out      io.Writer
	colorSys ColorSystem
}

// NewPrinter creates a printer writing to the given writer
func NewPrinter(out io.Writer, colorSys ColorSystem) *Printer {
	return &Printer{out: out, colorSys: colorSys}
}

// ColorSystem returns the printer's color system
func (p *Printer) ColorSystem() ColorSystem {
	return p.colorSys
}

// Writer returns the printer's underlying writer
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Successf prints a success line
func (p *Printer) Successf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.colorSys.Colorize("✓", ColorGreen), fmt.Sprintf(format, args...))
}

// Warnf prints a warning line
func (p *Printer) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.colorSys.Colorize("⚠", ColorYellow), fmt.Sprintf(format, args...))
}

// Errorf prints an error line
func (p *Printer) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.colorSys.Colorize("✗", ColorBrightRed), fmt.Sprintf(format, args...))
}

// Infof prints an informational line
func (p *Printer) Infof(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.colorSys.Colorize("→", ColorCyan), fmt.Sprintf(format, args...))
}

// Plainf prints an uncolored line
func (p *Printer) Plainf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Spinner creates a spinner bound to the printer's writer
func (p *Printer) Spinner(message string) *Spinner {
	return NewSpinner(message, p.out, p.colorSys)
}
