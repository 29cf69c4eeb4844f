// Package stream opens the long-lived event-stream connection to the push
// endpoint and exposes its body as a lazy sequence of lines.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"den/internal/ingesterr"
)

const maxRedirects = 10

// Timeouts bound connection setup and the idle gap between reads
type Timeouts struct {
	Connect time.Duration
	// Read must exceed the server's keep-alive interval so an idle but
	// healthy stream is not torn down
	Read time.Duration
}

// DefaultTimeouts matches the push endpoint's 10 minute keep-alive cadence
var DefaultTimeouts = Timeouts{
	Connect: 7 * time.Second,
	Read:    601 * time.Second,
}

// Connection is the immutable state of one stream session
type Connection struct {
	URL      string // scheme://host, e.g. https://developer-api.nest.com
	Path     string
	Token    string
	Timeouts Timeouts
}

// Endpoint returns the full request URL of the connection
func (c Connection) Endpoint() (string, error) {
	return APIURL(c.URL, c.Token, c.Path)
}

// Redacted returns the request URL with the token hidden, for logging
func (c Connection) Redacted() string {
	endpoint, err := c.Endpoint()
	if err != nil {
		return c.URL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return c.URL
	}
	return RedactURL(u)
}

// APIURL builds scheme://host/<path>?auth=<token>. Leading and trailing
// slashes of path are ignored; an empty path addresses the root.
func APIURL(base, token, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid API URL %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid API URL %q: missing scheme or host", base)
	}

	u.Path = ""
	if p := strings.Trim(path, "/"); p != "" {
		u.Path = "/" + p
	}
	u.RawQuery = url.Values{"auth": {token}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// Client opens stream sessions
type Client struct {
	logger *slog.Logger

	// newTransport builds the transport of each session
	newTransport func(Timeouts) *http.Transport
}

// NewClient creates a stream client
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		logger:       logger,
		newTransport: defaultTransport,
	}
}

func defaultTransport(t Timeouts) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   t.Connect,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Connect,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          1,
	}
}

// Open issues the streaming GET request for conn. A non-2xx response fails
// immediately; retrying is the caller's job. The returned Lines must be
// closed.
func (c *Client) Open(ctx context.Context, conn Connection) (*Lines, error) {
	endpoint, err := conn.Endpoint()
	if err != nil {
		return nil, ingesterr.Fatal("stream.open", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(sessionCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, ingesterr.Fatal("stream.open", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	transport := c.newTransport(conn.Timeouts)
	httpClient := &http.Client{
		Transport:     transport,
		CheckRedirect: c.logRedirect,
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		transport.CloseIdleConnections()
		return nil, classifyOpenError(ctx, err)
	}

	c.logger.Debug("URL", "status", resp.StatusCode, "url", RedactURL(resp.Request.URL))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		transport.CloseIdleConnections()
		c.logger.Error("HTTPError", "status", resp.StatusCode, "url", RedactURL(resp.Request.URL))
		return nil, ingesterr.HTTPStatus("stream.open", resp.StatusCode, resp.Status)
	}

	return newLines(ctx, resp, cancel, transport, conn.Timeouts.Read), nil
}

// logRedirect logs every hop and keeps net/http's default redirect limit
func (c *Client) logRedirect(req *http.Request, via []*http.Request) error {
	status := 0
	if req.Response != nil {
		status = req.Response.StatusCode
	}
	c.logger.Debug("Redirect", "status", status, "url", RedactURL(via[len(via)-1].URL))

	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

// classifyOpenError maps a failed request to a tagged transport error
func classifyOpenError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ingesterr.Cancelled("stream.open", ctx.Err())
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ingesterr.Transport("stream.open", ingesterr.CauseTimeout, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ingesterr.Transport("stream.open", ingesterr.CauseConnect, err)
	}

	// The peer hung up before a response arrived: during the TLS handshake
	// or right after the request was written.
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return ingesterr.Transport("stream.open", ingesterr.CauseNegotiationReset, err)
	}

	return ingesterr.Transport("stream.open", ingesterr.CauseConnect, err)
}

// RedactURL hides the auth token of u for logging
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	redacted := *u
	q := redacted.Query()
	if q.Has("auth") {
		q.Set("auth", "REDACTED")
		redacted.RawQuery = q.Encode()
	}
	return redacted.String()
}
