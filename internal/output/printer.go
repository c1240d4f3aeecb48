// Package output prints operator-facing progress and failure lines. These are
// kept apart from slog so a failure is visually distinct from logging.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// Printer writes tagged lines for lifecycle commands.
type Printer struct {
	out     io.Writer
	errOut  io.Writer
	noColor bool
}

// Option configures a Printer.
type Option func(*Printer)

// WithWriters sets the standard and error writers.
func WithWriters(out, errOut io.Writer) Option {
	return func(p *Printer) {
		p.out = out
		p.errOut = errOut
	}
}

// WithNoColor disables color escapes for this printer.
func WithNoColor(noColor bool) Option {
	return func(p *Printer) {
		p.noColor = noColor
	}
}

// NewPrinter creates a new Printer.
func NewPrinter(opts ...Option) *Printer {
	p := &Printer{
		out:    os.Stdout,
		errOut: os.Stderr,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Printer) paint(attr color.Attribute) *color.Color {
	c := color.New(attr)
	if p.noColor {
		c.DisableColor()
	}
	return c
}

// Info prints a plain progress line.
func (p *Printer) Info(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Success prints a green check line.
func (p *Printer) Success(format string, args ...interface{}) {
	p.paint(color.FgGreen).Fprintf(p.out, "✔ "+format+"\n", args...)
}

// Warn prints a yellow warning line.
func (p *Printer) Warn(format string, args ...interface{}) {
	p.paint(color.FgYellow).Fprintf(p.errOut, "⚠ "+format+"\n", args...)
}

// Fail prints the tagged failure line for err, followed by its remediation when
// one is known.
func (p *Printer) Fail(err error) {
	p.paint(color.FgRed).Fprintf(p.errOut, "✘ FAILED: %v\n", err)
	if fix := domain.RemediationFor(err); fix != "" {
		p.paint(color.FgCyan).Fprintf(p.errOut, "  → %s\n", fix)
	}
}

// Writer returns the standard writer, for commands that stream output.
func (p *Printer) Writer() io.Writer {
	return p.out
}
