// Package console renders tables and diagnostics and reads operator input.
package console

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/ledgerline/bankfeed/internal/apperr"
)

var (
	okPrinter   = color.New(color.FgGreen)
	failPrinter = color.New(color.FgRed, color.Bold)
	warnPrinter = color.New(color.FgYellow)
	hintPrinter = color.New(color.FgCyan)
)

// Printer writes human-readable status lines.
type Printer struct {
	out io.Writer
}

// NewPrinter returns a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	okPrinter.Fprintf(p.out, "[+] "+format+"\n", args...)
}

// Info prints a neutral line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, "[i] "+format+"\n", args...)
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	warnPrinter.Fprintf(p.out, "[!] "+format+"\n", args...)
}

// Failure prints a diagnosis for err followed by remediation hints.
func (p *Printer) Failure(err error) {
	failPrinter.Fprintf(p.out, "[x] %v\n", err)
	for _, h := range apperr.Hints(err) {
		hintPrinter.Fprintf(p.out, "    - %s\n", h)
	}
}
