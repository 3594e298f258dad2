package queue

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"fingerattend/internal/attendance"
)

// Publisher forwards attendance events onto a queue.
type Publisher struct {
	Q Queue
}

// Publish implements attendance.Publisher.
func (p Publisher) Publish(ctx context.Context, evt attendance.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.Q.Publish(ctx, Message{Type: evt.Type, Body: body})
}

// Audit drains messages and writes one audit log line per attendance event.
// It returns when the channel closes. The number of processed events is returned.
func Audit(messages <-chan Message, log zerolog.Logger) int {
	n := 0
	for msg := range messages {
		var evt attendance.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Warn().Err(err).Str("type", msg.Type).Msg("undecodable event")
			continue
		}
		switch evt.Type {
		case attendance.EventScanDetected, attendance.EventEnrollmentCompleted, attendance.EventAttendanceMarked:
		default:
			log.Debug().Str("type", msg.Type).Msg("ignoring event")
			continue
		}
		n++
		e := log.Info().
			Str("event", evt.Type).
			Str("fingerprint_id", evt.IdentityToken).
			Time("at", evt.At)
		if evt.StudentID != "" {
			e = e.Str("student_id", evt.StudentID)
		}
		if evt.PeriodID != "" {
			e = e.Str("period_id", evt.PeriodID).Int("sign_in_count", evt.SignInCount)
		}
		e.Msg("audit")
	}
	return n
}
