// Package frame decodes the lines of the push endpoint's event stream.
//
// Each line is empty, "event:<ws><name>" or "data:<ws><json>". The first
// colon separates the line type from its payload. Malformed lines never
// produce errors: they are logged and decode to KindIgnored.
package frame

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"den/internal/ingesterr"
)

const (
	// Delimiter separates the line type from its payload
	Delimiter = ":"
	// KeepAlive is the event name the server sends while idle
	KeepAlive = "keep-alive"

	eventPrefix = "event" + Delimiter
	dataPrefix  = "data" + Delimiter
)

// Kind is the type of a protocol line
type Kind int

const (
	KindOther Kind = iota
	KindEvent
	KindData
	// KindIgnored is a recognised line that carries nothing (keep-alive,
	// empty payload, malformed JSON)
	KindIgnored
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindData:
		return "data"
	case KindIgnored:
		return "ignored"
	default:
		return "other"
	}
}

// Frame is the decoded form of one line
type Frame struct {
	Kind  Kind
	Event string          // set for KindEvent
	Data  json.RawMessage // set for KindData
}

// Parser decodes lines, logging what it drops
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser that logs to logger
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Classify reports whether line is an event line, a data line or neither
func Classify(line string) Kind {
	switch {
	case strings.HasPrefix(line, eventPrefix):
		return KindEvent
	case strings.HasPrefix(line, dataPrefix):
		return KindData
	default:
		return KindOther
	}
}

// DecodeEvent returns the event name carried by line. Empty names and
// keep-alive events yield false.
func (p *Parser) DecodeEvent(line string) (string, bool) {
	_, event, ok := strings.Cut(line, Delimiter)
	if !ok {
		return "", false
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return "", false
	}

	p.logger.Debug("Event", "event", event)
	if event == KeepAlive {
		p.logger.Warn("Keep-alive event")
		return "", false
	}
	return event, true
}

// DecodeData returns the JSON document carried by line. Empty payloads,
// null and {} carry no snapshot and yield false. Payloads that are not
// valid JSON also yield false and are logged.
func (p *Parser) DecodeData(line string) (json.RawMessage, bool) {
	_, payload, ok := strings.Cut(line, Delimiter)
	if !ok {
		return nil, false
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, false
	}

	if !json.Valid([]byte(payload)) {
		p.logger.Error("Error processing data line",
			"line", line,
			"error", ingesterr.Decode("frame.data", errors.New("payload is not valid JSON")))
		return nil, false
	}
	if isEmptyDocument(payload) {
		p.logger.Debug("Empty data payload", "payload", payload)
		return nil, false
	}
	return json.RawMessage(payload), true
}

// isEmptyDocument reports whether payload, already valid JSON, is null or
// an object with no members
func isEmptyDocument(payload string) bool {
	if payload == "null" {
		return true
	}
	inner, ok := strings.CutPrefix(payload, "{")
	if !ok {
		return false
	}
	inner, ok = strings.CutSuffix(inner, "}")
	return ok && strings.TrimSpace(inner) == ""
}

// Decode turns line into a Frame
func (p *Parser) Decode(line string) Frame {
	switch Classify(line) {
	case KindEvent:
		if event, ok := p.DecodeEvent(line); ok {
			return Frame{Kind: KindEvent, Event: event}
		}
		return Frame{Kind: KindIgnored}
	case KindData:
		if doc, ok := p.DecodeData(line); ok {
			return Frame{Kind: KindData, Data: doc}
		}
		return Frame{Kind: KindIgnored}
	default:
		p.logger.Debug("Ignoring line", "line", line)
		return Frame{Kind: KindIgnored}
	}
}

// Process returns the snapshot document carried by line, if any. Event
// lines are decoded only for their log output and never carry a snapshot.
func (p *Parser) Process(line string) (json.RawMessage, bool) {
	frame := p.Decode(line)
	if frame.Kind != KindData {
		return nil, false
	}
	return frame.Data, true
}
