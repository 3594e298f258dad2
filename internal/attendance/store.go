package attendance

import (
	"context"
	"time"
)

// Store is the persistence capability the attendance core depends on.
//
// Every method is atomic with respect to the uniqueness rules it touches:
// CreatePending never leaves two open registrations for one token, CompleteEnrollment
// never creates a student that collides on matric or token, and the period writers never
// leave two periods for one (student, date).
type Store interface {
	// CreatePending opens a registration for token unless one is already open.
	// created reports whether a new row was written.
	CreatePending(ctx context.Context, token string, at time.Time) (created bool, err error)
	// OldestPending returns the earliest open registration, or nil when there is none.
	OldestPending(ctx context.Context) (*PendingRegistration, error)
	// CompleteEnrollment creates the student and closes the open registration for
	// e.IdentityToken in one step.
	CompleteEnrollment(ctx context.Context, e Enrollment, at time.Time) (Student, error)

	StudentByToken(ctx context.Context, token string) (*Student, error)
	StudentByID(ctx context.Context, id string) (*Student, error)
	ListStudents(ctx context.Context) ([]StudentPeriods, error)
	CountStudents(ctx context.Context) (int, error)

	// MergePeriod appends a sign-in to the student's period on date, creating it if absent.
	MergePeriod(ctx context.Context, studentID string, date, at time.Time) (Period, error)
	// AppendPeriod creates a new single-sign-in period on the first free date at or after
	// max(minDate, latest period date + 1 day).
	AppendPeriod(ctx context.Context, studentID string, minDate, at time.Time) (Period, error)
	PeriodsForStudent(ctx context.Context, studentID string) ([]Period, error)
	PeriodsOn(ctx context.Context, date time.Time) ([]PeriodView, error)
	CountPeriods(ctx context.Context) (int, error)
	// DailyCounts returns the number of periods per date in [from, to], ascending.
	DailyCounts(ctx context.Context, from, to time.Time) ([]DayCount, error)
}
