package attendance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// Event is emitted after a state change in the attendance core.
type Event struct {
	Type          string    `json:"type"`
	IdentityToken string    `json:"fingerprint_id"`
	StudentID     string    `json:"student_id,omitempty"`
	PeriodID      string    `json:"period_id,omitempty"`
	SignInCount   int       `json:"sign_in_count,omitempty"`
	At            time.Time `json:"at"`
}

// Event types.
const (
	EventScanDetected        = "scan.detected"
	EventEnrollmentCompleted = "enrollment.completed"
	EventAttendanceMarked    = "attendance.marked"
)

// Publisher receives events. Delivery is best effort; failures are logged and dropped.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Service wires the enrollment mailbox, the attendance recorder and the eligibility engine
// over one store and one settings value.
type Service struct {
	*Mailbox
	*Recorder
	*Reports

	core *core
}

// Option customizes a Service.
type Option func(*core)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *core) { c.now = now }
}

// WithLogger sets the logger used for operation events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *core) { c.log = l }
}

// WithMetrics records operation counts and latencies.
func WithMetrics(m *Metrics) Option {
	return func(c *core) { c.metrics = m }
}

// WithPublisher forwards domain events.
func WithPublisher(p Publisher) Option {
	return func(c *core) { c.events = p }
}

// NewService builds a service. Settings must be valid.
func NewService(store Store, settings Settings, opts ...Option) (*Service, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	c := &core{
		store: store,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	c.settings.Store(&settings)
	for _, opt := range opts {
		opt(c)
	}
	return &Service{
		Mailbox:  &Mailbox{c},
		Recorder: &Recorder{c},
		Reports:  &Reports{c},
		core:     c,
	}, nil
}

// Settings returns the settings in effect.
func (s *Service) Settings() Settings { return s.core.current() }

// SetSettings replaces the settings for all subsequent operations.
func (s *Service) SetSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.core.settings.Store(&settings)
	s.core.log.Info().
		Str("policy", string(settings.Policy)).
		Int("demo_window", settings.DemoWindow).
		Int("calendar_window_days", settings.CalendarWindowDays).
		Float64("threshold", settings.Threshold).
		Msg("attendance settings updated")
	return nil
}

type core struct {
	store    Store
	settings atomic.Pointer[Settings]
	now      func() time.Time
	log      zerolog.Logger
	metrics  *Metrics
	events   Publisher
}

// current loads the settings once; an operation must not call it twice.
func (c *core) current() Settings { return *c.settings.Load() }

// finish records the outcome of an operation and converts storage failures.
func (c *core) finish(op string, start time.Time, err error, fields func(*zerolog.Event)) error {
	err = storageErr(op, err)
	outcome := outcomeOf(err)
	c.metrics.observe(op, outcome, time.Since(start))

	var evt *zerolog.Event
	switch outcome {
	case outcomeOK:
		evt = c.log.Info()
	case outcomeError:
		evt = c.log.Error().Err(err)
	default:
		evt = c.log.Warn().Err(err)
	}
	evt = evt.Str("op", op).Str("outcome", outcome)
	if fields != nil {
		fields(evt)
	}
	evt.Msg("attendance operation")
	return err
}

func (c *core) publish(ctx context.Context, evt Event) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, evt); err != nil {
		c.log.Warn().Err(err).Str("event", evt.Type).Msg("event publish failed")
	}
}
