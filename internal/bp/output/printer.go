package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

type Printer struct {
	out     io.Writer
	errOut  io.Writer
	json    bool
	quiet   bool
	noColor bool
}

type Option func(*Printer)

func WithJSON(json bool) Option {
	return func(p *Printer) {
		p.json = json
	}
}

func WithQuiet(quiet bool) Option {
	return func(p *Printer) {
		p.quiet = quiet
	}
}

func WithNoColor(noColor bool) Option {
	return func(p *Printer) {
		p.noColor = noColor
	}
}

func WithOutput(out io.Writer) Option {
	return func(p *Printer) {
		p.out = out
	}
}

func WithErrOutput(errOut io.Writer) Option {
	return func(p *Printer) {
		p.errOut = errOut
	}
}

func New(opts ...Option) *Printer {
	p := &Printer{
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.noColor {
		color.NoColor = true
	}
	return p
}

var (
	successIcon = color.GreenString("✓")
	errorIcon   = color.RedString("✗")
	warnIcon    = color.YellowString("!")
	infoIcon    = color.CyanString("→")
	indentIcon  = color.HiBlackString("└─")
)

func (p *Printer) Out() io.Writer {
	return p.out
}

func (p *Printer) Printf(format string, args ...any) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, format, args...)
}

func (p *Printer) Success(format string, args ...any) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", successIcon, fmt.Sprintf(format, args...))
}

func (p *Printer) Error(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintf(p.errOut, "%s %s\n", errorIcon, fmt.Sprintf(format, args...))
}

func (p *Printer) Warn(format string, args ...any) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", warnIcon, fmt.Sprintf(format, args...))
}

func (p *Printer) Info(format string, args ...any) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", infoIcon, fmt.Sprintf(format, args...))
}

func (p *Printer) Indent(format string, args ...any) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, "  %s %s\n", indentIcon, fmt.Sprintf(format, args...))
}

func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// JSONLine writes v as one compact line, for event streams.
func (p *Printer) JSONLine(v any) error {
	return json.NewEncoder(p.out).Encode(v)
}

func (p *Printer) Header(title string) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "%s\n", color.New(color.Bold).Sprint(title))
	fmt.Fprintln(p.out)
}

func (p *Printer) KeyValue(key, value string) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, "  %s: %s\n", color.HiBlackString(key), value)
}

// Status renders a job status in its color: green when done, red when
// failed, yellow otherwise.
func Status(status string) string {
	switch status {
	case "DONE":
		return color.GreenString(status)
	case "FAILED":
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}
