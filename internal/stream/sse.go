// ABOUTME: Minimal Server-Sent Events frame reader for the push stream
// ABOUTME: Joins multi-line data fields and yields one frame per blank line

package stream

import (
	"bufio"
	"io"
	"strings"
)

// maxFrameSize bounds a single SSE line.
const maxFrameSize = 1 << 20

// Frame is one parsed SSE event.
type Frame struct {
	Event string
	Data  string
	ID    string
}

// frameReader reads SSE frames from a stream body.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &frameReader{scanner: scanner}
}

// Next returns the next complete frame. It returns io.EOF when the stream
// ends cleanly; a partial frame at EOF is discarded.
func (r *frameReader) Next() (Frame, error) {
	var frame Frame
	var dataLines []string
	hasContent := false

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		// Empty line signals end of event
		if line == "" {
			if !hasContent {
				continue
			}
			frame.Data = strings.Join(dataLines, "\n")
			if frame.Event == "" {
				frame.Event = "message"
			}
			return frame, nil
		}

		// Comment lines keep proxies from timing out the connection
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			frame.Event = value
			hasContent = true
		case "data":
			dataLines = append(dataLines, value)
			hasContent = true
		case "id":
			frame.ID = value
			hasContent = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
