package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TransportError is an I/O failure on the radio link itself.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("serial %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// FrameError is a line that arrived intact at the transport level but cannot
// be handed to the decoder (oversized, bad checksum). The line is dropped.
type FrameError struct {
	Line   string
	Reason string
}

func (e *FrameError) Error() string { return "serial frame: " + e.Reason }

const readChunk = 256

// LineReader accumulates bytes from r and hands out newline-terminated lines.
// Each Next call performs at most one Read, so with a port configured with a
// short read timeout it never blocks longer than that timeout.
type LineReader struct {
	r       io.Reader
	maxLine int
	buf     []byte
	chunk   []byte

	// discarding is set while the tail of an overflowed line is still
	// arriving; everything through its newline is dropped.
	discarding bool
}

func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = 4096
	}
	return &LineReader{
		r:       r,
		maxLine: maxLine,
		chunk:   make([]byte, readChunk),
	}
}

// Next returns the next non-empty, whitespace-trimmed line. ok is false when
// no complete line is available yet; that is not an error.
func (lr *LineReader) Next() (line string, ok bool, err error) {
	if line, ok, err := lr.take(); ok || err != nil {
		return line, ok, err
	}

	n, rerr := lr.r.Read(lr.chunk)
	if n > 0 {
		lr.buf = append(lr.buf, lr.chunk[:n]...)
	}
	// tarm/serial reports an expired read timeout as (0, io.EOF).
	if rerr != nil && !errors.Is(rerr, io.EOF) {
		return "", false, &TransportError{Op: "read", Err: rerr}
	}

	if line, ok, err := lr.take(); ok || err != nil {
		return line, ok, err
	}
	if len(lr.buf) > lr.maxLine {
		partial := head(string(lr.buf), 32)
		lr.buf = lr.buf[:0]
		lr.discarding = true
		return "", false, &FrameError{Line: partial, Reason: fmt.Sprintf("line exceeds %d bytes", lr.maxLine)}
	}
	return "", false, nil
}

// Buffered reports how many bytes of an incomplete line are held.
func (lr *LineReader) Buffered() int { return len(lr.buf) }

func (lr *LineReader) take() (string, bool, error) {
	for {
		i := bytes.IndexByte(lr.buf, '\n')
		if lr.discarding {
			if i < 0 {
				lr.buf = lr.buf[:0]
				return "", false, nil
			}
			lr.buf = append(lr.buf[:0], lr.buf[i+1:]...)
			lr.discarding = false
			continue
		}
		if i < 0 {
			return "", false, nil
		}
		raw := string(lr.buf[:i])
		lr.buf = append(lr.buf[:0], lr.buf[i+1:]...)

		if len(raw) > lr.maxLine {
			return "", false, &FrameError{Line: head(raw, 32), Reason: fmt.Sprintf("line exceeds %d bytes", lr.maxLine)}
		}
		line := strings.TrimSpace(strings.ToValidUTF8(raw, "�"))
		if line == "" {
			continue
		}
		return line, true, nil
	}
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
