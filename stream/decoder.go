// Package stream reconstructs framed progress events from an incrementally
// delivered text feed. The wire format is SSE-style: an "event: <name>" line
// names the event, a "data: <json>" line carries its payload, and a blank
// line terminates the frame.
package stream

import (
	"bytes"
	"io"

	"github.com/tidwall/gjson"

	"github.com/smallnest/crewrelay/internal/logger"
)

// Event names understood by the run layer. Anything else is ignored.
const (
	EventPhase      = "phase"
	EventAgentStart = "agent_start"
	EventAgentToken = "agent_token"
	EventAgentDone  = "agent_done"
	EventDone       = "done"
	EventError      = "error"
)

// Event is one decoded frame: the event name in effect when its data line
// arrived, plus the raw JSON payload.
type Event struct {
	Name string
	Data []byte
}

const (
	eventPrefix = "event: "
	dataPrefix  = "data: "
)

// Decoder turns arbitrarily fragmented feed text into Events. Fragment
// boundaries may fall anywhere, including mid-line and mid-rune; the
// incomplete trailing line is buffered until the rest arrives, so decoding
// fragment by fragment yields exactly the events of the whole text.
type Decoder struct {
	remainder []byte
	event     string
}

// NewDecoder returns a decoder with no buffered input.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes one fragment and returns the events completed by it, in
// order. Data lines that are not valid JSON are dropped; the stream is
// never aborted by a bad frame.
func (d *Decoder) Feed(fragment []byte) []Event {
	buf := append(d.remainder, fragment...)

	var events []Event
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		if evt, ok := d.consumeLine(line); ok {
			events = append(events, evt)
		}
	}

	d.remainder = append(d.remainder[:0], buf...)
	return events
}

func (d *Decoder) consumeLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})

	if len(line) == 0 {
		// Frame terminator: the current event name is spent.
		d.event = ""
		return Event{}, false
	}

	if bytes.HasPrefix(line, []byte(eventPrefix)) {
		d.event = string(line[len(eventPrefix):])
		return Event{}, false
	}

	if bytes.HasPrefix(line, []byte(dataPrefix)) {
		payload := line[len(dataPrefix):]
		if !gjson.ValidBytes(payload) {
			logger.Debug("dropping malformed event payload")
			return Event{}, false
		}
		data := make([]byte, len(payload))
		copy(data, payload)
		return Event{Name: d.event, Data: data}, true
	}

	// Unrecognized line; the feed may interleave comments or keepalives.
	return Event{}, false
}

// Decode reads r to EOF, feeding the decoder and invoking fn for each
// event. fn returning false stops the read early with a nil error.
func (d *Decoder) Decode(r io.Reader, fn func(Event) bool) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, evt := range d.Feed(buf[:n]) {
				if !fn(evt) {
					return nil
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
