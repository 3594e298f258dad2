package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	opDetect   = "detect"
	opPoll     = "poll_next"
	opComplete = "complete"
)

// Mailbox bridges an unattended scan to the registration form an operator submits later.
// Open registrations live in the store, so a poller that misses a cycle loses nothing.
type Mailbox struct {
	c *core
}

// Detect records a scan of an unenrolled finger. Repeated scans of the same token while its
// registration is still open are no-ops. The token is returned as the caller-visible id.
func (m *Mailbox) Detect(ctx context.Context, token string) (string, error) {
	start := time.Now()
	token = strings.TrimSpace(token)
	if token == "" {
		return "", m.c.finish(opDetect, start, invalid(opDetect, FieldIdentityToken, "fingerprint_id is required"), nil)
	}
	at := m.c.now()
	created, err := m.c.store.CreatePending(ctx, token, at)
	err = m.c.finish(opDetect, start, err, func(e *zerolog.Event) {
		e.Str("fingerprint_id", token).Bool("created", created)
	})
	if err != nil {
		return "", err
	}
	if created {
		m.c.publish(ctx, Event{Type: EventScanDetected, IdentityToken: token, At: at})
	}
	return token, nil
}

// PollNext returns the token of the oldest open registration, or "" when none is waiting.
// It never writes.
func (m *Mailbox) PollNext(ctx context.Context) (string, error) {
	start := time.Now()
	p, err := m.c.store.OldestPending(ctx)
	if err != nil {
		return "", m.c.finish(opPoll, start, err, nil)
	}
	m.c.metrics.observe(opPoll, outcomeOK, time.Since(start))
	if p == nil {
		return "", nil
	}
	m.c.log.Debug().Str("op", opPoll).Str("fingerprint_id", p.IdentityToken).Msg("pending registration")
	return p.IdentityToken, nil
}

// Complete turns the open registration for e.IdentityToken into a student.
//
// It fails with ErrNotFound when no registration is open for the token and with ErrConflict
// when the matric or the token already belongs to a student; the returned *Error names the
// colliding field.
func (m *Mailbox) Complete(ctx context.Context, e Enrollment) (Student, error) {
	start := time.Now()
	e.IdentityToken = strings.TrimSpace(e.IdentityToken)
	e.Name = strings.TrimSpace(e.Name)
	e.Matric = strings.TrimSpace(e.Matric)
	if err := e.validate(); err != nil {
		return Student{}, m.c.finish(opComplete, start, err, nil)
	}
	at := m.c.now()
	st, err := m.c.store.CompleteEnrollment(ctx, e, at)
	err = m.c.finish(opComplete, start, err, func(ev *zerolog.Event) {
		ev.Str("fingerprint_id", e.IdentityToken).Str("matric", e.Matric)
	})
	if err != nil {
		return Student{}, err
	}
	m.c.publish(ctx, Event{Type: EventEnrollmentCompleted, IdentityToken: st.IdentityToken, StudentID: st.ID, At: at})
	return st, nil
}

func (e Enrollment) validate() error {
	switch {
	case e.IdentityToken == "":
		return invalid(opComplete, FieldIdentityToken, "fingerprint_id is required")
	case e.Name == "":
		return invalid(opComplete, "name", "name is required")
	case e.Matric == "":
		return invalid(opComplete, FieldMatric, "matric is required")
	}
	return nil
}

func errNoPending(token string) error {
	return notFound(opComplete, FieldIdentityToken, token,
		fmt.Sprintf("no pending registration found for fingerprint ID %q; scan the fingerprint again", token))
}
