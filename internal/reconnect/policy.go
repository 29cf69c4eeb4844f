// Package reconnect keeps the ingestion pipeline running across transient
// failures. A Policy restarts the session after transport and sink errors
// with exponential backoff, and stops on cancellation or any failure it
// cannot classify as transient.
package reconnect

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"den/internal/ingesterr"
	"den/internal/logging"
	"den/internal/metrics"
)

// Config holds the backoff parameters of a Policy
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor in [0, 1). Zero gives a
	// deterministic, strictly growing delay sequence up to MaxInterval.
	Jitter float64
	// StableAfter is how long a session must stream before the backoff
	// returns to InitialInterval. Zero or less never resets it.
	StableAfter time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2,
		Jitter:          0,
		StableAfter:     time.Minute,
	}
}

// Session runs the pipeline once. It returns nil when the stream ended
// normally.
type Session func(ctx context.Context) error

// Policy is the Connecting -> Streaming -> Backoff state machine. It is
// not safe for concurrent use.
type Policy struct {
	backoff     *backoff.ExponentialBackOff
	stableAfter time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a policy. m may be nil.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Policy {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: cfg.Jitter,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxInterval,
	}
	b.Reset()

	return &Policy{
		backoff:     b,
		stableAfter: cfg.StableAfter,
		logger:      logger,
		metrics:     m,
		sleep:       sleepContext,
		now:         time.Now,
	}
}

// Run calls session until ctx is cancelled or session fails with an error
// that is not retryable. Cancellation returns nil; an unrecoverable failure
// is logged at CRITICAL and returned.
func (p *Policy) Run(ctx context.Context, session Session) error {
	for {
		if ctx.Err() != nil {
			p.logger.Info("Stopping", "reason", ctx.Err())
			return nil
		}

		started := p.now()
		err := session(ctx)
		streamed := p.now().Sub(started)

		if ctx.Err() != nil || (err != nil && ingesterr.KindOf(err) == ingesterr.KindCancelled) {
			p.logger.Info("Stopping", "reason", "cancelled")
			return nil
		}

		var reason string
		switch {
		case err == nil:
			p.logger.Warn("Stream closed by server, reconnecting", "streamed", streamed)
			reason = "eof"

		case ingesterr.CauseOf(err) == ingesterr.CauseNegotiationReset:
			p.logger.Warn("Connection reset during negotiation, reconnecting", "error", err)
			p.metrics.ObserveReconnect(ingesterr.CauseNegotiationReset.String(), 0)
			continue

		case ingesterr.IsRetryable(err):
			reason = reasonOf(err)
			p.logger.Error("Stream failed", "reason", reason, "streamed", streamed, "error", err)

		default:
			logging.Critical(p.logger, "Unrecoverable failure", "kind", ingesterr.KindOf(err).String(), "error", err)
			return err
		}

		if p.stableAfter > 0 && streamed >= p.stableAfter {
			p.backoff.Reset()
		}
		delay := p.backoff.NextBackOff()

		p.metrics.ObserveReconnect(reason, delay.Seconds())
		p.logger.Info("Reconnecting", "delay", delay, "reason", reason)

		if err := p.sleep(ctx, delay); err != nil {
			p.logger.Info("Stopping", "reason", "cancelled")
			return nil
		}
	}
}

// reasonOf names a retryable error for logs and metrics
func reasonOf(err error) string {
	if cause := ingesterr.CauseOf(err); cause != ingesterr.CauseNone {
		return cause.String()
	}
	return ingesterr.KindOf(err).String()
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
