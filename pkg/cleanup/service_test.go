package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

type fakeSessionPurger struct {
	calls atomic.Int64
	days  atomic.Int64
}

func (f *fakeSessionPurger) SoftDeleteOldSessions(_ context.Context, retentionDays int) (int64, error) {
	f.calls.Add(1)
	f.days.Store(int64(retentionDays))
	return 2, nil
}

type fakeEventPurger struct {
	calls atomic.Int64
	ttl   atomic.Int64
}

func (f *fakeEventPurger) CleanupOrphanedEvents(_ context.Context, ttl time.Duration) (int64, error) {
	f.calls.Add(1)
	f.ttl.Store(int64(ttl))
	return 1, nil
}

func TestServiceRunsImmediatelyAndOnTicks(t *testing.T) {
	sessions := &fakeSessionPurger{}
	events := &fakeEventPurger{}
	svc := NewService(&config.RetentionConfig{
		SessionRetentionDays: 30,
		EventTTL:             time.Hour,
		CleanupInterval:      20 * time.Millisecond,
	}, sessions, events)

	svc.Start(context.Background())
	time.Sleep(70 * time.Millisecond)
	svc.Stop()

	// One immediate pass plus at least one tick.
	assert.GreaterOrEqual(t, sessions.calls.Load(), int64(2))
	assert.GreaterOrEqual(t, events.calls.Load(), int64(2))
	assert.Equal(t, int64(30), sessions.days.Load())
	assert.Equal(t, int64(time.Hour), events.ttl.Load())
}

func TestServiceStopWithoutStart(t *testing.T) {
	svc := NewService(config.DefaultRetentionConfig(), &fakeSessionPurger{}, &fakeEventPurger{})
	svc.Stop() // must not panic or block
}

func TestServiceDoubleStartIsNoOp(t *testing.T) {
	sessions := &fakeSessionPurger{}
	svc := NewService(&config.RetentionConfig{
		SessionRetentionDays: 1,
		EventTTL:             time.Hour,
		CleanupInterval:      time.Hour,
	}, sessions, &fakeEventPurger{})

	svc.Start(context.Background())
	svc.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	svc.Stop()

	assert.Equal(t, int64(1), sessions.calls.Load())
}
