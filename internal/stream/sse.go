package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EventLedger is the SSE event name the server uses for ledger frames.
const EventLedger = "ledger"

// MaxLineBytes bounds a single line of the event stream.
const MaxLineBytes = 1024 * 1024

// ErrFrameTooLong is returned when a line exceeds MaxLineBytes.
var ErrFrameTooLong = errors.New("event stream line too long")

// Frame is one dispatched server-sent event.
type Frame struct {
	// ID is the most recent id field seen on the stream, which persists
	// across frames that do not set one.
	ID    string
	Event string
	Data  []byte
}

// Reader splits a text/event-stream body into frames.
type Reader struct {
	scanner *bufio.Scanner
	lastID  string
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return &Reader{scanner: scanner}
}

// Next blocks until a frame with data is complete. Comments, keep-alives
// and data-less blocks are skipped. A partial frame at end of stream is
// discarded and io.EOF returned. A line longer than MaxLineBytes fails
// with ErrFrameTooLong.
func (r *Reader) Next() (Frame, error) {
	var (
		event   string
		data    bytes.Buffer
		hasData bool
	)
	for {
		if !r.scanner.Scan() {
			err := r.scanner.Err()
			switch {
			case err == nil:
				return Frame{}, io.EOF
			case errors.Is(err, bufio.ErrTooLong):
				return Frame{}, fmt.Errorf("%w: over %d bytes", ErrFrameTooLong, MaxLineBytes)
			default:
				return Frame{}, err
			}
		}
		line := r.scanner.Text()

		if line == "" {
			if hasData {
				return Frame{ID: r.lastID, Event: event, Data: data.Bytes()}, nil
			}
			event = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			event = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
			}
		}
	}
}
