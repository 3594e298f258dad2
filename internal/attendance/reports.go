package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	opEligibility = "eligibility"
	opQuickStats  = "quick_stats"
	opStudent     = "student"
)

// graphDays is the trailing window reported by GraphData.
const graphDays = 7

// StudentEligibility is one row of the eligibility report.
type StudentEligibility struct {
	Name   string  `json:"name"`
	Matric string  `json:"matric"`
	Image  *string `json:"image,omitempty"`
	Verdict
}

// EligibilityReport covers every enrolled student.
type EligibilityReport struct {
	Policy   Policy               `json:"policy"`
	Students []StudentEligibility `json:"eligibility"`
	Eligible int                  `json:"number_of_eligible_students"`
}

// QuickStats summarizes the whole population.
type QuickStats struct {
	Students   int `json:"number_of_students"`
	Attendance int `json:"number_of_attendance"`
	Eligible   int `json:"number_of_eligible_students"`
}

// StudentDetail is a student with their periods and eligibility.
type StudentDetail struct {
	Student
	Verdict
	Attendances []Period `json:"attendances"`
}

// Reports answers read-only queries over recorded attendance.
type Reports struct {
	c *core
}

func (r *Reports) engine(settings Settings) Engine {
	return Engine{Settings: settings, Today: settings.Day(r.c.now())}
}

// Eligibility scores every student and counts how many are eligible.
func (r *Reports) Eligibility(ctx context.Context) (EligibilityReport, error) {
	start := time.Now()
	settings := r.c.current()
	students, err := r.c.store.ListStudents(ctx)
	if err != nil {
		return EligibilityReport{}, r.c.finish(opEligibility, start, err, nil)
	}

	eng := r.engine(settings)
	possible := eng.PossibleDays()
	rep := EligibilityReport{Policy: settings.Policy, Students: make([]StudentEligibility, 0, len(students))}
	for _, st := range students {
		v := eng.evaluate(st.Periods, possible)
		if v.Eligible {
			rep.Eligible++
		}
		rep.Students = append(rep.Students, StudentEligibility{Name: st.Name, Matric: st.Matric, Image: st.Image, Verdict: v})
	}
	r.c.metrics.observe(opEligibility, outcomeOK, time.Since(start))
	r.c.log.Debug().Str("op", opEligibility).Int("students", len(students)).Int("eligible", rep.Eligible).Msg("eligibility computed")
	return rep, nil
}

// QuickStats counts students, periods and eligible students.
func (r *Reports) QuickStats(ctx context.Context) (QuickStats, error) {
	start := time.Now()
	settings := r.c.current()
	var qs QuickStats
	err := func() error {
		students, err := r.c.store.ListStudents(ctx)
		if err != nil {
			return err
		}
		counts := make([]int, len(students))
		for i, st := range students {
			counts[i] = st.Periods
		}
		qs.Students = len(students)
		qs.Eligible = r.engine(settings).CountEligible(counts)
		qs.Attendance, err = r.c.store.CountPeriods(ctx)
		return err
	}()
	if err != nil {
		return QuickStats{}, r.c.finish(opQuickStats, start, err, nil)
	}
	r.c.metrics.observe(opQuickStats, outcomeOK, time.Since(start))
	return qs, nil
}

// Today is the current calendar date under the active settings.
func (r *Reports) Today() time.Time {
	return r.c.current().Day(r.c.now())
}

// GraphData returns per-day period counts for the trailing week, today included.
func (r *Reports) GraphData(ctx context.Context) ([]DayCount, error) {
	settings := r.c.current()
	today := settings.Day(r.c.now())
	counts, err := r.c.store.DailyCounts(ctx, today.AddDate(0, 0, -(graphDays-1)), today)
	if err != nil {
		return nil, storageErr("graph_data", err)
	}
	if counts == nil {
		counts = []DayCount{}
	}
	return counts, nil
}

// AttendanceOn lists the periods recorded on a calendar date.
func (r *Reports) AttendanceOn(ctx context.Context, date time.Time) ([]PeriodView, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	views, err := r.c.store.PeriodsOn(ctx, day)
	if err != nil {
		return nil, storageErr("attendance_on", err)
	}
	if views == nil {
		views = []PeriodView{}
	}
	return views, nil
}

// StudentByToken returns the detail of the student owning a fingerprint ID.
func (r *Reports) StudentByToken(ctx context.Context, token string) (StudentDetail, error) {
	token = strings.TrimSpace(token)
	return r.detail(ctx, FieldIdentityToken, token, func() (*Student, error) {
		return r.c.store.StudentByToken(ctx, token)
	})
}

// StudentByID returns the detail of a student by id.
func (r *Reports) StudentByID(ctx context.Context, id string) (StudentDetail, error) {
	return r.detail(ctx, "id", id, func() (*Student, error) {
		return r.c.store.StudentByID(ctx, id)
	})
}

func (r *Reports) detail(ctx context.Context, field, value string, find func() (*Student, error)) (StudentDetail, error) {
	start := time.Now()
	settings := r.c.current()
	var d StudentDetail
	err := func() error {
		st, err := find()
		if err != nil {
			return err
		}
		if st == nil {
			return notFound(opStudent, field, value, fmt.Sprintf("student with %s %q not found", field, value))
		}
		periods, err := r.c.store.PeriodsForStudent(ctx, st.ID)
		if err != nil {
			return err
		}
		if periods == nil {
			periods = []Period{}
		}
		d = StudentDetail{Student: *st, Verdict: r.engine(settings).Evaluate(len(periods)), Attendances: periods}
		return nil
	}()
	if err != nil {
		return StudentDetail{}, r.c.finish(opStudent, start, err, func(e *zerolog.Event) {
			e.Str(field, value)
		})
	}
	r.c.metrics.observe(opStudent, outcomeOK, time.Since(start))
	return d, nil
}
