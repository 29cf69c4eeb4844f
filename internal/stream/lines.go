package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"den/internal/ingesterr"
)

// Lines yields the stream body one line at a time, without the trailing
// newline. Lines is not safe for concurrent use; Close may be called from
// any goroutine.
type Lines struct {
	// URL is the final URL after redirects, with the token redacted
	URL        string
	StatusCode int

	parent    context.Context
	body      io.ReadCloser
	reader    *bufio.Reader
	cancel    context.CancelFunc
	transport *http.Transport

	readTimeout time.Duration
	idle        *time.Timer
	timedOut    atomic.Bool

	err       error
	closeOnce sync.Once
	closeErr  error
}

func newLines(parent context.Context, resp *http.Response, cancel context.CancelFunc, transport *http.Transport, readTimeout time.Duration) *Lines {
	l := &Lines{
		URL:         RedactURL(resp.Request.URL),
		StatusCode:  resp.StatusCode,
		parent:      parent,
		body:        resp.Body,
		reader:      bufio.NewReader(resp.Body),
		cancel:      cancel,
		transport:   transport,
		readTimeout: readTimeout,
	}
	if readTimeout > 0 {
		l.idle = time.AfterFunc(readTimeout, func() {
			l.timedOut.Store(true)
			cancel()
		})
	}
	return l
}

// Next returns the next line. It returns io.EOF once the server ends the
// stream, and a tagged error when the read fails. After an error every
// further call returns the same error.
func (l *Lines) Next() (string, error) {
	if l.err != nil {
		return "", l.err
	}

	line, err := l.reader.ReadString('\n')
	if err != nil {
		l.err = l.classify(err)
		if errors.Is(l.err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", l.err
	}

	if l.idle != nil {
		l.idle.Reset(l.readTimeout)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (l *Lines) classify(err error) error {
	switch {
	case l.parent.Err() != nil:
		return ingesterr.Cancelled("stream.read", l.parent.Err())
	case l.timedOut.Load():
		return ingesterr.Transport("stream.read", ingesterr.CauseTimeout,
			fmt.Errorf("no data received for %s", l.readTimeout))
	case err == io.EOF:
		return io.EOF
	default:
		return ingesterr.Transport("stream.read", ingesterr.CauseReset, err)
	}
}

// Close releases the connection. It is safe to call more than once.
func (l *Lines) Close() error {
	l.closeOnce.Do(func() {
		if l.idle != nil {
			l.idle.Stop()
		}
		l.cancel()
		l.closeErr = l.body.Close()
		l.transport.CloseIdleConnections()
	})
	return l.closeErr
}
