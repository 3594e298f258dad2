package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// wednesday is a date whose trailing 30-day window holds 22 weekdays.
var wednesday = time.Date(2026, time.October, 14, 9, 15, 0, 0, time.UTC)

func testSettings(p Policy) Settings {
	s := DefaultSettings()
	s.Policy = p
	s.Location = time.UTC
	return s
}

type fixture struct {
	svc    *Service
	store  *MemoryStore
	clock  *fakeClock
	events *recordingPublisher
}

func newFixture(t *testing.T, p Policy) *fixture {
	t.Helper()
	f := &fixture{
		store:  NewMemoryStore(),
		clock:  newFakeClock(wednesday),
		events: &recordingPublisher{},
	}
	svc, err := NewService(f.store, testSettings(p), WithClock(f.clock.Now), WithPublisher(f.events))
	require.NoError(t, err)
	f.svc = svc
	return f
}

// enroll runs the full handshake for token.
func (f *fixture) enroll(t *testing.T, token, name, matric string) Student {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Detect(ctx, token)
	require.NoError(t, err)
	st, err := f.svc.Complete(ctx, Enrollment{IdentityToken: token, Name: name, Matric: matric})
	require.NoError(t, err)
	return st
}
