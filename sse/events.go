package sse

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Event types written by the stream itself. Publishers choose their own
// types for data events.
const (
	EventTypeConnected = "connected"
	EventTypeError     = "error"
)

// Event is one SSE frame. ID 0 omits the id line and is never used to
// de-duplicate.
type Event struct {
	ID   uint64
	Type string
	Data []byte
}

// WriteTo writes e in text/event-stream framing. Multi-line data is split
// into several data lines.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if e.ID > 0 {
		buf.WriteString("id: ")
		buf.WriteString(strconv.FormatUint(e.ID, 10))
		buf.WriteByte('\n')
	}
	if e.Type != "" {
		fmt.Fprintf(&buf, "event: %s\n", e.Type)
	}
	for _, line := range bytes.Split(e.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.WriteTo(w)
}
