package frame

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"den/internal/logging"
)

func newTestParser() *Parser {
	return NewParser(logging.Discard())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindEvent, Classify("event:"))
	assert.Equal(t, KindOther, Classify("event"))
	assert.Equal(t, KindData, Classify("data:"))
	assert.Equal(t, KindOther, Classify("data"))
	assert.Equal(t, KindOther, Classify(""))
	assert.Equal(t, KindOther, Classify(" event: put"))
}

func TestDecodeEventInvalidLines(t *testing.T) {
	p := newTestParser()
	for _, line := range []string{"", ":", "event:", "event: ", "event:\t "} {
		_, ok := p.DecodeEvent(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestDecodeEventKeepAlive(t *testing.T) {
	p := newTestParser()
	for _, line := range []string{"event: keep-alive", "event:keep-alive", "event:  keep-alive  "} {
		_, ok := p.DecodeEvent(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestDecodeEventValid(t *testing.T) {
	p := newTestParser()

	event, ok := p.DecodeEvent("event: X")
	require.True(t, ok)
	assert.Equal(t, "X", event)

	event, ok = p.DecodeEvent("event:Test event")
	require.True(t, ok)
	assert.Equal(t, "Test event", event)
}

func TestDecodeEventLogsKeepAliveAsWarning(t *testing.T) {
	var buf bytes.Buffer
	p := NewParser(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	p.DecodeEvent("event: keep-alive")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestDecodeDataInvalidLines(t *testing.T) {
	p := newTestParser()
	for _, line := range []string{"", ":", "data:", "data: ", "data: not JSON", "data: {\"a\":", "data: null", "data: {}", "data: { }"} {
		_, ok := p.DecodeData(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestDecodeDataLogsOffendingLine(t *testing.T) {
	var buf bytes.Buffer
	p := NewParser(slog.New(slog.NewTextHandler(&buf, nil)))

	_, ok := p.DecodeData("data: not JSON")

	assert.False(t, ok)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "not JSON")
}

func TestDecodeDataIgnoresEmptyDocumentsQuietly(t *testing.T) {
	var buf bytes.Buffer
	p := NewParser(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	for _, line := range []string{"data: null", "data:null", "data: {}", "data: {  }"} {
		assert.Equal(t, Frame{Kind: KindIgnored}, p.Decode(line), "line %q", line)
	}

	assert.Contains(t, buf.String(), "Empty data payload")
	assert.NotContains(t, buf.String(), "level=ERROR")
	assert.NotContains(t, buf.String(), "level=WARN")
}

func TestDecodeDataRoundTrip(t *testing.T) {
	p := newTestParser()
	docs := []any{
		[]map[string]string{{"key": "val"}},
		map[string]any{"path": "/", "data": map[string]any{"structures": map[string]any{}}},
		"plain string",
		42.5,
		true,
	}

	for _, doc := range docs {
		encoded, err := json.Marshal(doc)
		require.NoError(t, err)

		for _, sep := range []string{"data:", "data: ", "data:\t"} {
			raw, ok := p.DecodeData(sep + string(encoded))
			require.True(t, ok, "doc %s", encoded)
			assert.Equal(t, string(encoded), string(raw))
		}
	}
}

func TestProcessIgnoresNonDataLines(t *testing.T) {
	p := newTestParser()
	lines := []string{
		"", ":", "event:", "event: ", "event: put", "event: keep-alive",
		"id: 5", "retry: 1000", "{\"data\":1}", "DATA: {}", " data: {}",
	}
	for _, line := range lines {
		_, ok := p.Process(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestProcessInvalidDataLines(t *testing.T) {
	p := newTestParser()
	for _, line := range []string{"data:", "data: ", "data: not JSON", "data: null", "data: {}"} {
		_, ok := p.Process(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestProcessValidDataLine(t *testing.T) {
	p := newTestParser()
	expected := `[{"key":"val"}]`

	raw, ok := p.Process("data: " + expected)
	require.True(t, ok)
	assert.JSONEq(t, expected, string(raw))

	raw, ok = p.Process("data:" + expected)
	require.True(t, ok)
	assert.JSONEq(t, expected, string(raw))
}

func TestDecodeFrames(t *testing.T) {
	p := newTestParser()

	assert.Equal(t, Frame{Kind: KindEvent, Event: "put"}, p.Decode("event: put"))
	assert.Equal(t, Frame{Kind: KindIgnored}, p.Decode("event: keep-alive"))
	assert.Equal(t, Frame{Kind: KindIgnored}, p.Decode("data: nope"))
	assert.Equal(t, Frame{Kind: KindIgnored}, p.Decode("hello"))

	f := p.Decode(`data: {"a":1}`)
	assert.Equal(t, KindData, f.Kind)
	assert.JSONEq(t, `{"a":1}`, string(f.Data))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "event", KindEvent.String())
	assert.Equal(t, "data", KindData.String())
	assert.Equal(t, "ignored", KindIgnored.String())
	assert.Equal(t, "other", KindOther.String())
}
