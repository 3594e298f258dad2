package attendance

import "time"

// PendingRegistration is a fingerprint scan waiting for an operator to submit the enrollment form.
type PendingRegistration struct {
	ID            int64     `json:"id"`
	IdentityToken string    `json:"fingerprint_id"`
	Name          *string   `json:"name,omitempty"`
	Matric        *string   `json:"matric,omitempty"`
	Image         *string   `json:"image,omitempty"`
	Completed     bool      `json:"is_completed"`
	CreatedAt     time.Time `json:"created_at"`
}

// Student represents an enrolled student.
type Student struct {
	ID            string    `json:"id"`
	Matric        string    `json:"matric"`
	IdentityToken string    `json:"fingerprint_id"`
	Name          string    `json:"name"`
	Image         *string   `json:"image,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Period is one day of presence for one student.
type Period struct {
	ID          string      `json:"id"`
	StudentID   string      `json:"student_id"`
	Date        time.Time   `json:"attendance_date"`
	FirstSignIn time.Time   `json:"first_sign_in"`
	LastSignIn  time.Time   `json:"last_sign_in"`
	SignInCount int         `json:"sign_in_count"`
	SignIns     []time.Time `json:"all_sign_ins"`
}

// PeriodView joins a period with the student that owns it.
type PeriodView struct {
	Period
	Name   string  `json:"name"`
	Matric string  `json:"matric"`
	Image  *string `json:"image,omitempty"`
}

// StudentPeriods pairs a student with the number of periods recorded for them.
type StudentPeriods struct {
	Student
	Periods int `json:"total_attendances"`
}

// Enrollment carries the operator-submitted form for a pending scan.
type Enrollment struct {
	IdentityToken string
	Name          string
	Matric        string
	Image         *string
}

// DayCount is the number of periods recorded on a date.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"value"`
}
