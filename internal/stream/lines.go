package stream

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// LineReassembler turns arbitrarily split chunks of a byte stream into complete lines.
//
// Bytes are buffered undecoded, so a multi-byte rune split across two chunks is reassembled intact.
// After every Feed the buffer holds exactly the bytes following the last newline seen so far.
type LineReassembler struct {
	buf []byte
}

// Feed appends chunk to the buffer and returns every line completed by it, in arrival order. Lines are
// decoded as UTF-8 with invalid sequences replaced by U+FFFD and trimmed of surrounding whitespace.
// Empty lines are returned as empty strings.
func (l *LineReassembler) Feed(chunk []byte) []string {
	l.buf = append(l.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSpace(lossyUTF8(l.buf[:i])))
		l.buf = l.buf[i+1:]
	}

	// Drop the consumed prefix so a long-lived stream doesn't pin its whole history.
	if len(l.buf) == 0 {
		l.buf = nil
	} else if cap(l.buf) > 2*len(l.buf)+4096 {
		l.buf = append([]byte(nil), l.buf...)
	}
	return lines
}

// Pending returns the unterminated tail currently buffered. It is never emitted as a line.
func (l *LineReassembler) Pending() []byte {
	return l.buf
}

// lossyUTF8 decodes b, replacing invalid sequences with U+FFFD. The decoder substitutes instead of failing,
// so its error is always nil.
func lossyUTF8(b []byte) string {
	s, _ := unicode.UTF8.NewDecoder().Bytes(b)
	return string(s)
}
