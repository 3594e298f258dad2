package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Constraint names from the schema in internal/store.
const (
	constraintStudentMatric = "students_matric_key"
	constraintStudentToken  = "students_identity_token_key"
	constraintPeriodDay     = "attendance_periods_student_date_key"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// CreatePending relies on the partial unique index over open registrations, so concurrent
// scans of the same finger collapse into one row.
func (r *Repository) CreatePending(ctx context.Context, token string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_registrations (identity_token, created_at)
		VALUES ($1, $2)
		ON CONFLICT (identity_token) WHERE NOT completed DO NOTHING
	`, token, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// OldestPending returns the first open registration by creation time, then insertion order.
func (r *Repository) OldestPending(ctx context.Context) (*PendingRegistration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, identity_token, name, matric, image, completed, created_at
		FROM pending_registrations
		WHERE NOT completed
		ORDER BY created_at, id
		LIMIT 1
	`)
	var p PendingRegistration
	if err := row.Scan(&p.ID, &p.IdentityToken, &p.Name, &p.Matric, &p.Image, &p.Completed, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// CompleteEnrollment locks the open registration, inserts the student and closes the
// registration in one transaction.
func (r *Repository) CompleteEnrollment(ctx context.Context, e Enrollment, at time.Time) (Student, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Student{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var pendingID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM pending_registrations
		WHERE identity_token = $1 AND NOT completed
		ORDER BY id
		LIMIT 1
		FOR UPDATE
	`, e.IdentityToken).Scan(&pendingID)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, errNoPending(e.IdentityToken)
	}
	if err != nil {
		return Student{}, err
	}

	var matricTaken, tokenTaken bool
	err = tx.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM students WHERE matric = $1),
			EXISTS (SELECT 1 FROM students WHERE identity_token = $2)
	`, e.Matric, e.IdentityToken).Scan(&matricTaken, &tokenTaken)
	if err != nil {
		return Student{}, err
	}
	if matricTaken {
		return Student{}, conflict(opComplete, FieldMatric, e.Matric)
	}
	if tokenTaken {
		return Student{}, conflict(opComplete, FieldIdentityToken, e.IdentityToken)
	}

	st := Student{
		ID:            uuid.NewString(),
		Matric:        e.Matric,
		IdentityToken: e.IdentityToken,
		Name:          e.Name,
		Image:         e.Image,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO students (id, matric, identity_token, name, image, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, st.ID, st.Matric, st.IdentityToken, st.Name, st.Image, at).Scan(&st.CreatedAt)
	switch {
	case isUniqueViolation(err, constraintStudentMatric):
		return Student{}, conflict(opComplete, FieldMatric, e.Matric)
	case isUniqueViolation(err, constraintStudentToken):
		return Student{}, conflict(opComplete, FieldIdentityToken, e.IdentityToken)
	case err != nil:
		return Student{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE pending_registrations
		SET completed = TRUE, name = $2, matric = $3, image = $4
		WHERE id = $1
	`, pendingID, e.Name, e.Matric, e.Image); err != nil {
		return Student{}, err
	}
	if err := tx.Commit(); err != nil {
		return Student{}, err
	}
	return st, nil
}

const studentColumns = `id, matric, identity_token, name, image, created_at`

func scanStudent(row interface{ Scan(...any) error }) (*Student, error) {
	var st Student
	if err := row.Scan(&st.ID, &st.Matric, &st.IdentityToken, &st.Name, &st.Image, &st.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// StudentByToken returns nil when no student owns the token.
func (r *Repository) StudentByToken(ctx context.Context, token string) (*Student, error) {
	return scanStudent(r.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE identity_token = $1`, token))
}

// StudentByID returns nil for an unknown id.
func (r *Repository) StudentByID(ctx context.Context, id string) (*Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return scanStudent(r.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
}

// ListStudents returns every student with their period count.
func (r *Repository) ListStudents(ctx context.Context) ([]StudentPeriods, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.matric, s.identity_token, s.name, s.image, s.created_at, COUNT(p.id)
		FROM students s
		LEFT JOIN attendance_periods p ON p.student_id = s.id
		GROUP BY s.id
		ORDER BY s.matric
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StudentPeriods
	for rows.Next() {
		var sp StudentPeriods
		if err := rows.Scan(&sp.ID, &sp.Matric, &sp.IdentityToken, &sp.Name, &sp.Image, &sp.CreatedAt, &sp.Periods); err != nil {
			return nil, err
		}
		res = append(res, sp)
	}
	return res, rows.Err()
}

// CountStudents returns the number of enrolled students.
func (r *Repository) CountStudents(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n)
	return n, err
}

const periodColumns = `id, student_id, period_date, first_sign_in, last_sign_in, sign_in_count, sign_ins`

func scanPeriod(row interface{ Scan(...any) error }, extra ...any) (Period, error) {
	var (
		p   Period
		raw []byte
	)
	dest := append([]any{&p.ID, &p.StudentID, &p.Date, &p.FirstSignIn, &p.LastSignIn, &p.SignInCount, &raw}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Period{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.SignIns); err != nil {
			return Period{}, err
		}
	}
	return p, nil
}

func signInsJSON(at time.Time) (string, error) {
	b, err := json.Marshal([]time.Time{at.UTC()})
	return string(b), err
}

// MergePeriod upserts on (student_id, period_date); the row lock taken by ON CONFLICT
// serializes concurrent marks for the same day. A mark stamped earlier may commit later, so
// the sequence is re-sorted and first_sign_in lowered on merge.
func (r *Repository) MergePeriod(ctx context.Context, studentID string, date, at time.Time) (Period, error) {
	first, err := signInsJSON(at)
	if err != nil {
		return Period{}, err
	}
	return scanPeriod(r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_periods (id, student_id, period_date, first_sign_in, last_sign_in, sign_in_count, sign_ins)
		VALUES ($1, $2, $3, $4, $4, 1, $5::jsonb)
		ON CONFLICT ON CONSTRAINT `+constraintPeriodDay+` DO UPDATE SET
			first_sign_in = LEAST(attendance_periods.first_sign_in, EXCLUDED.first_sign_in),
			last_sign_in = GREATEST(attendance_periods.last_sign_in, EXCLUDED.last_sign_in),
			sign_in_count = attendance_periods.sign_in_count + 1,
			sign_ins = (
				SELECT jsonb_agg(e.x ORDER BY (e.x #>> '{}')::timestamptz)
				FROM jsonb_array_elements(attendance_periods.sign_ins || EXCLUDED.sign_ins) AS e(x)
			)
		RETURNING `+periodColumns,
		uuid.NewString(), studentID, date, at, first))
}

// AppendPeriod inserts a period on the next synthetic date. Appends for one student are
// serialized by a lock on the student row; a calendar mark racing for the same date makes
// the insert repeat against the new maximum until ctx is done.
func (r *Repository) AppendPeriod(ctx context.Context, studentID string, minDate, at time.Time) (Period, error) {
	first, err := signInsJSON(at)
	if err != nil {
		return Period{}, err
	}
	for {
		p, err := r.appendPeriod(ctx, studentID, minDate, at, first)
		if isUniqueViolation(err, constraintPeriodDay) && ctx.Err() == nil {
			continue
		}
		return p, err
	}
}

func (r *Repository) appendPeriod(ctx context.Context, studentID string, minDate, at time.Time, first string) (Period, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Period{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`SELECT 1 FROM students WHERE id = $1::uuid FOR NO KEY UPDATE`, studentID); err != nil {
		return Period{}, err
	}
	p, err := scanPeriod(tx.QueryRowContext(ctx, `
		INSERT INTO attendance_periods (id, student_id, period_date, first_sign_in, last_sign_in, sign_in_count, sign_ins)
		SELECT $1::uuid, $2::uuid, GREATEST($3::date, COALESCE(MAX(period_date) + 1, $3::date)),
			$4::timestamptz, $4::timestamptz, 1, $5::jsonb
		FROM attendance_periods
		WHERE student_id = $2::uuid
		RETURNING `+periodColumns,
		uuid.NewString(), studentID, minDate, at, first))
	if err != nil {
		return Period{}, err
	}
	return p, tx.Commit()
}

// PeriodsForStudent returns the student's periods ordered by date.
func (r *Repository) PeriodsForStudent(ctx context.Context, studentID string) ([]Period, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+periodColumns+`
		FROM attendance_periods
		WHERE student_id = $1
		ORDER BY period_date
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// PeriodsOn returns every period recorded on date joined with its student.
func (r *Repository) PeriodsOn(ctx context.Context, date time.Time) ([]PeriodView, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.student_id, p.period_date, p.first_sign_in, p.last_sign_in, p.sign_in_count, p.sign_ins,
			s.name, s.matric, s.image
		FROM attendance_periods p
		JOIN students s ON s.id = p.student_id
		WHERE p.period_date = $1
		ORDER BY p.last_sign_in
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PeriodView
	for rows.Next() {
		var v PeriodView
		p, err := scanPeriod(rows, &v.Name, &v.Matric, &v.Image)
		if err != nil {
			return nil, err
		}
		v.Period = p
		res = append(res, v)
	}
	return res, rows.Err()
}

// CountPeriods returns the number of periods across all students.
func (r *Repository) CountPeriods(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_periods`).Scan(&n)
	return n, err
}

// DailyCounts groups periods by date within [from, to].
func (r *Repository) DailyCounts(ctx context.Context, from, to time.Time) ([]DayCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT period_date, COUNT(*)
		FROM attendance_periods
		WHERE period_date BETWEEN $1 AND $2
		GROUP BY period_date
		ORDER BY period_date
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DayCount
	for rows.Next() {
		var (
			d time.Time
			c DayCount
		)
		if err := rows.Scan(&d, &c.Count); err != nil {
			return nil, err
		}
		c.Date = d.Format(dateLayout)
		res = append(res, c)
	}
	return res, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation on constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
