package gcompute

import (
	"log/slog"
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.admitPerTick != 1 {
		t.Errorf("admitPerTick = %d, want 1", o.admitPerTick)
	}
	if o.pipelineCacheSize != 0 {
		t.Errorf("pipelineCacheSize = %d, want 0 (unlimited)", o.pipelineCacheSize)
	}
	if o.stagingIdleBytes != 64<<20 {
		t.Errorf("stagingIdleBytes = %d", o.stagingIdleBytes)
	}
	if o.clock == nil || o.logger != nil {
		t.Error("default clock must be set and logger unset")
	}
}

func TestOptions(t *testing.T) {
	fixed := time.Unix(42, 0)
	l := slog.Default()

	o := defaultOptions()
	for _, opt := range []Option{
		WithAdmitPerTick(0),
		WithPipelineCacheSize(-3),
		WithStagingPoolLimit(4096),
		WithClock(func() time.Time { return fixed }),
		WithClock(nil),
		WithLogger(l),
	} {
		opt(&o)
	}

	if o.admitPerTick != 1 {
		t.Errorf("WithAdmitPerTick(0) gave %d, want 1", o.admitPerTick)
	}
	if o.pipelineCacheSize != 0 {
		t.Errorf("WithPipelineCacheSize(-3) gave %d, want 0", o.pipelineCacheSize)
	}
	if o.stagingIdleBytes != 4096 {
		t.Errorf("stagingIdleBytes = %d, want 4096", o.stagingIdleBytes)
	}
	if !o.clock().Equal(fixed) {
		t.Error("WithClock(nil) replaced the clock")
	}
	if o.logger != l {
		t.Error("WithLogger not applied")
	}
}
