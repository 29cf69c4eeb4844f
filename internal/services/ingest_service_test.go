package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"den/internal/ingesterr"
	"den/internal/logging"
	"den/internal/metrics"
	"den/internal/models"
	"den/internal/stream"
	"den/internal/transform"
)

type write struct {
	points    []models.Point
	precision models.Precision
}

// recordingSink stores every write and fails once failAfter writes succeeded
type recordingSink struct {
	mu        sync.Mutex
	writes    []write
	failAfter int
	err       error
}

func (s *recordingSink) Write(ctx context.Context, points []models.Point, precision models.Precision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && len(s.writes) >= s.failAfter {
		return s.err
	}
	s.writes = append(s.writes, write{points: points, precision: precision})
	return nil
}

// sliceSource replays fixed lines, then io.EOF or err
type sliceSource struct {
	lines  []string
	err    error
	pos    int
	closed int
}

func (s *sliceSource) Next() (string, error) {
	if s.pos >= len(s.lines) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	s.pos++
	return s.lines[s.pos-1], nil
}

func (s *sliceSource) Close() error {
	s.closed++
	return nil
}

func openerFor(src LineSource, err error) Opener {
	return OpenerFunc(func(ctx context.Context, conn stream.Connection) (LineSource, error) {
		if err != nil {
			return nil, err
		}
		return src, nil
	})
}

func newTestService(opener Opener, sink Sink) *IngestService {
	svc := NewIngestService(opener, sink, IngestServiceConfig{
		Connection: stream.Connection{URL: "https://developer-api.nest.com", Token: "TOK"},
	}, logging.Discard(), nil)
	svc.now = func() time.Time { return time.Date(2016, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc
}

func fixtureLines(t *testing.T) []string {
	t.Helper()
	f, err := os.Open("testdata/stream.txt")
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func assertFixtureWrites(t *testing.T, writes []write) {
	t.Helper()
	require.Len(t, writes, 24)
	for i, w := range writes {
		want := transform.StructureMeasurement
		if i%2 == 1 {
			want = transform.ThermostatMeasurement
		}
		require.Len(t, w.points, 1, "write %d", i)
		assert.Equal(t, want, w.points[0].Measurement, "write %d", i)
		assert.Equal(t, models.PrecisionSeconds, w.precision)
	}
}

func TestRunOnceRecordedStream(t *testing.T) {
	src := &sliceSource{lines: fixtureLines(t)}
	sink := &recordingSink{}
	svc := newTestService(openerFor(src, nil), sink)

	err := svc.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, src.closed)
	assertFixtureWrites(t, sink.writes)

	away := []float64{0, 1, 1}
	for i := 0; i < 12; i++ {
		structure := sink.writes[2*i].points[0]
		assert.Equal(t, away[i%3], structure.Fields["is_away"], "snapshot %d", i)
		assert.Equal(t, "sid0", structure.Tags["structure_id"])

		thermostat := sink.writes[2*i+1].points[0]
		assert.Equal(t, "tid0", thermostat.Tags["device_id"])
		assert.Equal(t, float64(35+i), thermostat.Fields["humidity"])
	}
}

func TestRunOnceOverHTTP(t *testing.T) {
	body, err := os.ReadFile("testdata/stream.txt")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write(body)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	m := metrics.New()
	svc := NewIngestService(
		StreamOpener(stream.NewClient(logging.Discard())),
		sink,
		IngestServiceConfig{Connection: stream.Connection{
			URL:      srv.URL,
			Token:    "TOK",
			Timeouts: stream.Timeouts{Connect: 2 * time.Second, Read: 5 * time.Second},
		}},
		logging.Discard(),
		m,
	)

	require.NoError(t, svc.RunOnce(context.Background()))
	assertFixtureWrites(t, sink.writes)
}

func TestRunOnceSkipsBlankAndInvalidLines(t *testing.T) {
	src := &sliceSource{lines: []string{
		"", "   ", ":", "event:", "data:", "data: not JSON", "id: 4",
	}}
	sink := &recordingSink{}

	err := newTestService(openerFor(src, nil), sink).RunOnce(context.Background())

	require.NoError(t, err)
	assert.Empty(t, sink.writes)
}

func TestRunOnceKeepAliveNullDataIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	src := &sliceSource{lines: []string{
		"event: keep-alive", "data: null", "",
		"event: keep-alive", "data: null", "",
		"event: put", "data: {}", "",
	}}
	sink := &recordingSink{}
	m := metrics.New()
	svc := NewIngestService(openerFor(src, nil), sink, IngestServiceConfig{
		Connection: stream.Connection{URL: "https://developer-api.nest.com", Token: "TOK"},
	}, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), m)

	require.NoError(t, svc.RunOnce(context.Background()))

	assert.Empty(t, sink.writes)
	assert.NotContains(t, buf.String(), "level=ERROR")
	assert.NotContains(t, buf.String(), "Invalid data")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("data")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("ignored")))
}

func TestRunOnceSkipsEmptyKinds(t *testing.T) {
	src := &sliceSource{lines: []string{
		`data: {"data":{"devices":{"thermostats":{"t1":{"humidity":40}}}}}`,
	}}
	sink := &recordingSink{}

	err := newTestService(openerFor(src, nil), sink).RunOnce(context.Background())

	require.NoError(t, err)
	require.Len(t, sink.writes, 1)
	assert.Equal(t, transform.ThermostatMeasurement, sink.writes[0].points[0].Measurement)
}

func TestRunOnceOpenErrorPropagates(t *testing.T) {
	openErr := ingesterr.HTTPStatus("stream.open", 503, "503 Service Unavailable")

	err := newTestService(openerFor(nil, openErr), &recordingSink{}).RunOnce(context.Background())

	assert.Same(t, openErr, err)
}

func TestRunOnceReadErrorPropagates(t *testing.T) {
	readErr := ingesterr.Transport("stream.read", ingesterr.CauseReset, errors.New("connection reset by peer"))
	src := &sliceSource{lines: fixtureLines(t)[:5], err: readErr}
	sink := &recordingSink{}

	err := newTestService(openerFor(src, nil), sink).RunOnce(context.Background())

	assert.Equal(t, ingesterr.CauseReset, ingesterr.CauseOf(err))
	assert.Equal(t, 1, src.closed)
	assert.Len(t, sink.writes, 2)
}

func TestRunOnceSinkErrorStopsPipeline(t *testing.T) {
	src := &sliceSource{lines: fixtureLines(t)}
	sink := &recordingSink{failAfter: 3, err: errors.New("400: invalid payload")}

	err := newTestService(openerFor(src, nil), sink).RunOnce(context.Background())

	require.Error(t, err)
	assert.Equal(t, ingesterr.KindSink, ingesterr.KindOf(err))
	assert.True(t, ingesterr.IsRetryable(err))
	assert.Len(t, sink.writes, 3)
	assert.Equal(t, 1, src.closed)
}

func TestRunOnceSinkErrorAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &sliceSource{lines: fixtureLines(t)}
	sink := &recordingSink{err: context.Canceled}
	cancel()

	err := newTestService(openerFor(src, nil), sink).RunOnce(ctx)

	assert.Equal(t, ingesterr.KindCancelled, ingesterr.KindOf(err))
}

func TestRunOnceLogsLifecycleWithoutToken(t *testing.T) {
	var buf bytes.Buffer
	src := &sliceSource{lines: []string{"event: put"}}
	svc := NewIngestService(openerFor(src, nil), &recordingSink{}, IngestServiceConfig{
		Connection: stream.Connection{URL: "https://developer-api.nest.com", Token: "SECRET"},
	}, slog.New(slog.NewTextHandler(&buf, nil)), nil)

	require.NoError(t, svc.RunOnce(context.Background()))

	logs := buf.String()
	assert.Contains(t, logs, "msg=Streaming ")
	assert.Contains(t, logs, `msg="Streaming complete"`)
	assert.Contains(t, logs, "session=")
	assert.NotContains(t, logs, "SECRET")
	assert.Equal(t, 2, strings.Count(logs, "auth=REDACTED"))
}
