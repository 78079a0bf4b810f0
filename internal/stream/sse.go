package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const maxLineBytes = 4 << 20

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// EventKind distinguishes payload units from the end-of-stream sentinel.
type EventKind int

const (
	// EventData is a data-bearing unit. Its payload may or may not be valid JSON.
	EventData EventKind = iota
	// EventDone is the upstream "[DONE]" sentinel.
	EventDone
)

// Event is one raw unit read from the upstream.
type Event struct {
	Kind EventKind
	Data []byte
}

// Source yields upstream events in arrival order. Next returns io.EOF when
// the upstream closed the connection.
type Source interface {
	Next() (Event, error)
	Close() error
}

// SSEReader splits an upstream server-sent-event body into events, one per
// non-blank line. "data:" prefixes are stripped and comment lines are
// dropped; any other line is passed on verbatim and fails to parse later.
type SSEReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// NewSSEReader wraps body. Closing the reader closes body.
func NewSSEReader(body io.ReadCloser) *SSEReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &SSEReader{body: body, scanner: scanner}
}

// Next returns the next event.
func (r *SSEReader) Next() (Event, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if bytes.HasPrefix(line, dataPrefix) {
			line = bytes.TrimSpace(line[len(dataPrefix):])
		}
		if bytes.Equal(line, doneMarker) {
			return Event{Kind: EventDone}, nil
		}
		data := make([]byte, len(line))
		copy(data, line)
		return Event{Kind: EventData, Data: data}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read upstream stream: %w", err)
	}
	return Event{}, io.EOF
}

// Close releases the upstream body.
func (r *SSEReader) Close() error {
	return r.body.Close()
}
