// Package sse implements an incremental Server-Sent-Events parser. A parser
// instance is single-use per HTTP response: feed it raw chunks as they arrive
// and it yields complete events, holding any trailing partial event until the
// next chunk.
package sse

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// EventTypeMessage is the default SSE event type when no event: line is present.
const EventTypeMessage = "message"

// doneSentinel is the literal payload vendors send to mark end of stream.
const doneSentinel = "[DONE]"

// Event is one parsed SSE event: its type and the raw JSON payload from the
// concatenated data lines. Ephemeral; never persisted.
type Event struct {
	Type string
	Data json.RawMessage
}

// Parser buffers incoming bytes and emits events on complete blank-line
// terminated blocks. Chunk boundaries may fall anywhere, including mid-line.
type Parser struct {
	buf    []byte
	closed bool
	logger *slog.Logger
}

// NewParser creates a parser. The logger receives non-fatal decode warnings;
// nil falls back to the default slog logger.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Feed appends a chunk and returns all events completed by it. After the
// [DONE] sentinel has been seen, further input is ignored.
func (p *Parser) Feed(chunk []byte) []Event {
	if p.closed {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		block, rest, ok := cutBlock(p.buf)
		if !ok {
			break
		}
		p.buf = rest
		if ev, ok := p.parseBlock(block); ok {
			events = append(events, ev)
		}
		if p.closed {
			p.buf = nil
			break
		}
	}
	return events
}

// Flush parses any trailing partial block. Call once when the underlying
// stream ends without a final blank line.
func (p *Parser) Flush() []Event {
	if p.closed || len(p.buf) == 0 {
		return nil
	}
	block := p.buf
	p.buf = nil
	if ev, ok := p.parseBlock(block); ok {
		return []Event{ev}
	}
	return nil
}

// Closed reports whether the [DONE] sentinel terminated the stream.
func (p *Parser) Closed() bool {
	return p.closed
}

// cutBlock splits buf at the first blank line. It scans line-wise so that
// \n and \r\n endings may mix freely within one block.
func cutBlock(buf []byte) (block, rest []byte, ok bool) {
	i := 0
	for {
		nl := bytes.IndexByte(buf[i:], '\n')
		if nl == -1 {
			return nil, buf, false
		}
		end := i + nl
		if len(bytes.TrimSuffix(buf[i:end], []byte("\r"))) == 0 {
			return buf[:i], buf[end+1:], true
		}
		i = end + 1
	}
}

// parseBlock decodes one event block. Invalid JSON payloads are reported as
// decode warnings and skipped; the stream continues.
func (p *Parser) parseBlock(block []byte) (Event, bool) {
	eventType := EventTypeMessage
	var dataLines [][]byte

	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}
		if line[0] == ':' {
			continue
		}
		if v, ok := fieldValue(line, "event"); ok {
			eventType = string(v)
			continue
		}
		if v, ok := fieldValue(line, "data"); ok {
			dataLines = append(dataLines, v)
		}
	}

	if len(dataLines) == 0 {
		return Event{}, false
	}

	data := bytes.Join(dataLines, []byte("\n"))
	if string(bytes.TrimSpace(data)) == doneSentinel {
		p.closed = true
		return Event{}, false
	}
	if !json.Valid(data) {
		p.logger.Warn("skipping SSE event with invalid JSON payload",
			"event", eventType, "bytes", len(data))
		return Event{}, false
	}

	return Event{Type: eventType, Data: json.RawMessage(data)}, true
}

// fieldValue returns the value of an SSE "field: value" line, stripping the
// single optional space after the colon.
func fieldValue(line []byte, field string) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte(field)) {
		return nil, false
	}
	rest := line[len(field):]
	if len(rest) == 0 || rest[0] != ':' {
		return nil, false
	}
	rest = rest[1:]
	if len(rest) > 0 && rest[0] == ' ' {
		rest = rest[1:]
	}
	return rest, true
}
