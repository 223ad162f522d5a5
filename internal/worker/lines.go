package worker

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"
)

// maxLine bounds a single forwarded line; longer output is split.
const maxLine = 64 * 1024

// lineWriter turns a byte stream into lines as they complete.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.send(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= maxLine {
		cut := splitPoint(w.buf)
		w.send(w.buf[:cut])
		w.buf = w.buf[cut:]
	}
	return len(p), nil
}

// splitPoint returns where to cut an overlong buf so that no UTF-8 sequence
// is split. Invalid input is cut at maxLine.
func splitPoint(buf []byte) int {
	cut := maxLine
	if len(buf) == cut {
		// Hold back a trailing sequence that is still incomplete.
		start := cut - 1
		for start > cut-utf8.UTFMax && !utf8.RuneStart(buf[start]) {
			start--
		}
		if !utf8.FullRune(buf[start:]) {
			return start
		}
		return cut
	}
	for i := cut; i > cut-utf8.UTFMax; i-- {
		if utf8.RuneStart(buf[i]) {
			return i
		}
	}
	return cut
}
