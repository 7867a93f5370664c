package client

import (
	"bufio"
	"io"
	"strings"
)

// eventFrame is one dispatched Server-Sent Events message.
type eventFrame struct {
	Event string
	Data  string
}

type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// Next returns the next message with a non-empty event name or data.
// Comment lines and unknown fields are ignored.
func (e *eventReader) Next() (eventFrame, error) {
	var frame eventFrame
	var data []string
	for {
		line, err := e.r.ReadString('\n')
		if err != nil {
			return eventFrame{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if frame.Event == "" && len(data) == 0 {
				continue
			}
			frame.Data = strings.Join(data, "\n")
			return frame, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			frame.Event = value
		case "data":
			data = append(data, value)
		}
	}
}
