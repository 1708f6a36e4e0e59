package mcp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// sseEvent is one server-sent event.
type sseEvent struct {
	Event string
	ID    string
	Data  []byte
}

// sseReader parses a text/event-stream body. Each line and each event's
// accumulated data are bounded by max.
type sseReader struct {
	r   *bufio.Reader
	max int
}

func newSSEReader(r io.Reader, max int) *sseReader {
	return &sseReader{r: bufio.NewReaderSize(r, 32*1024), max: max}
}

// Next returns the next event that carries data. It returns io.EOF when the
// stream ends cleanly.
func (s *sseReader) Next() (*sseEvent, error) {
	var (
		ev      sseEvent
		data    bytes.Buffer
		hasData bool
	)
	for {
		line, err := readFrame(s.r, s.max)
		if err != nil {
			if errors.Is(err, io.EOF) && hasData {
				ev.Data = bytes.TrimSuffix(data.Bytes(), []byte("\n"))
				return &ev, nil
			}
			return nil, err
		}

		if len(line) == 0 {
			if hasData {
				ev.Data = bytes.TrimSuffix(data.Bytes(), []byte("\n"))
				return &ev, nil
			}
			ev = sseEvent{}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "data":
			if data.Len()+len(value)+1 > s.max {
				return nil, errFrameTooLarge
			}
			data.Write(value)
			data.WriteByte('\n')
			hasData = true
		case "event":
			ev.Event = string(value)
		case "id":
			ev.ID = string(value)
		}
	}
}
