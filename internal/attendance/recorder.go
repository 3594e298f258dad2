package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const opMark = "mark"

// MarkStatus tells a first sign-in of a period apart from a repeat.
type MarkStatus string

const (
	StatusFirst  MarkStatus = "first"
	StatusRepeat MarkStatus = "repeat"
)

// MarkResult is the outcome of one mark.
type MarkResult struct {
	Student Student    `json:"student"`
	Period  Period     `json:"attendance"`
	Status  MarkStatus `json:"status"`
	Message string     `json:"message"`
}

// Recorder turns "student seen now" into a period write according to the active policy.
//
// Under PolicyCalendar all marks of one calendar day merge into one period; the store's
// (student, date) uniqueness makes the merge safe against concurrent marks. Under PolicyDemo
// every mark opens a period on the next synthetic date.
type Recorder struct {
	c *core
}

// Mark records a sign-in for the student owning token.
func (r *Recorder) Mark(ctx context.Context, token string) (MarkResult, error) {
	start := time.Now()
	token = strings.TrimSpace(token)
	settings := r.c.current()

	res, err := r.mark(ctx, settings, token)
	err = r.c.finish(opMark, start, err, func(e *zerolog.Event) {
		e.Str("fingerprint_id", token).Str("policy", string(settings.Policy))
		if err == nil {
			e.Str("period_id", res.Period.ID).Int("sign_in_count", res.Period.SignInCount)
		}
	})
	if err != nil {
		return MarkResult{}, err
	}
	r.c.publish(ctx, Event{
		Type:          EventAttendanceMarked,
		IdentityToken: token,
		StudentID:     res.Student.ID,
		PeriodID:      res.Period.ID,
		SignInCount:   res.Period.SignInCount,
		At:            res.Period.LastSignIn,
	})
	return res, nil
}

func (r *Recorder) mark(ctx context.Context, settings Settings, token string) (MarkResult, error) {
	if token == "" {
		return MarkResult{}, invalid(opMark, FieldIdentityToken, "fingerprint_id is required")
	}
	st, err := r.c.store.StudentByToken(ctx, token)
	if err != nil {
		return MarkResult{}, err
	}
	if st == nil {
		return MarkResult{}, notFound(opMark, FieldIdentityToken, token,
			fmt.Sprintf("student with fingerprint ID %q not found", token))
	}

	now := r.c.now()
	today := settings.Day(now)
	clock := now.In(settings.location()).Format(time.Kitchen)
	res := MarkResult{Student: *st}

	if settings.Policy == PolicyDemo {
		p, err := r.c.store.AppendPeriod(ctx, st.ID, today, now)
		if err != nil {
			return MarkResult{}, err
		}
		periods, err := r.c.store.PeriodsForStudent(ctx, st.ID)
		if err != nil {
			return MarkResult{}, err
		}
		res.Period = p
		res.Status = StatusFirst
		res.Message = fmt.Sprintf("Day %d attendance marked at %s", len(periods), clock)
		return res, nil
	}

	p, err := r.c.store.MergePeriod(ctx, st.ID, today, now)
	if err != nil {
		return MarkResult{}, err
	}
	res.Period = p
	if p.SignInCount == 1 {
		res.Status = StatusFirst
		res.Message = fmt.Sprintf("Attendance marked! First sign-in at %s", clock)
	} else {
		res.Status = StatusRepeat
		res.Message = fmt.Sprintf("Attendance updated! Sign-in #%d at %s", p.SignInCount, clock)
	}
	return res, nil
}
