package compressor

import (
	"io"

	"github.com/abdul-hamid-achik/batchpress/internal/processor"
	"github.com/rs/zerolog"
)

// lineReporter writes each progress line as plain text: info lines to out,
// error lines to errOut. The server relays both streams line by line.
type lineReporter struct {
	out    zerolog.Logger
	errOut zerolog.Logger
}

var _ processor.Reporter = (*lineReporter)(nil)

func newLineReporter(out, errOut io.Writer) *lineReporter {
	return &lineReporter{
		out:    zerolog.New(plainWriter(out)).Level(zerolog.TraceLevel),
		errOut: zerolog.New(plainWriter(errOut)).Level(zerolog.TraceLevel),
	}
}

func plainWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		PartsOrder: []string{zerolog.MessageFieldName},
	}
}

func (r *lineReporter) Info(msg string) {
	r.out.Info().Msg(msg)
}

func (r *lineReporter) Error(msg string) {
	r.errOut.Error().Msg(msg)
}
