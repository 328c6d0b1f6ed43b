package gcompute

import (
	"log/slog"
	"time"
)

// Option configures an Engine during creation.
//
// Example:
//
//	eng, err := gcompute.New(adapter,
//	    gcompute.WithAdmitPerTick(4),
//	    gcompute.WithLogger(logger),
//	)
type Option func(*options)

type options struct {
	logger            *slog.Logger
	clock             func() time.Time
	admitPerTick      int
	pipelineCacheSize int
	stagingIdleBytes  uint64
}

func defaultOptions() options {
	return options{
		clock:            time.Now,
		admitPerTick:     1,
		stagingIdleBytes: 64 << 20,
	}
}

// WithLogger sets the engine's logger, overriding the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock replaces time.Now for MaxFrequency throttling.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithAdmitPerTick sets how many queued start requests a tick admits.
// Values below 1 are treated as 1.
func WithAdmitPerTick(n int) Option {
	return func(o *options) {
		o.admitPerTick = max(n, 1)
	}
}

// WithPipelineCacheSize bounds the number of cached compute pipelines.
// Pipelines used by live requests are never evicted. 0 means unlimited.
func WithPipelineCacheSize(n int) Option {
	return func(o *options) {
		o.pipelineCacheSize = max(n, 0)
	}
}

// WithStagingPoolLimit bounds the bytes of idle staging buffers kept for
// reuse. 0 means unlimited.
func WithStagingPoolLimit(bytes uint64) Option {
	return func(o *options) {
		o.stagingIdleBytes = bytes
	}
}
