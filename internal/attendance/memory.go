package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. A single mutex makes every method atomic,
// which mirrors the unique constraints of the Postgres schema.
type MemoryStore struct {
	mu       sync.Mutex
	seq      int64
	pending  []*PendingRegistration
	students map[string]*Student
	byToken  map[string]string
	byMatric map[string]string
	periods  map[string][]*Period
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students: make(map[string]*Student),
		byToken:  make(map[string]string),
		byMatric: make(map[string]string),
		periods:  make(map[string][]*Period),
	}
}

func (m *MemoryStore) openPending(token string) *PendingRegistration {
	for _, p := range m.pending {
		if !p.Completed && p.IdentityToken == token {
			return p
		}
	}
	return nil
}

func (m *MemoryStore) CreatePending(ctx context.Context, token string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openPending(token) != nil {
		return false, nil
	}
	m.seq++
	m.pending = append(m.pending, &PendingRegistration{
		ID:            m.seq,
		IdentityToken: token,
		CreatedAt:     at,
	})
	return true, nil
}

func (m *MemoryStore) OldestPending(ctx context.Context) (*PendingRegistration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *PendingRegistration
	for _, p := range m.pending {
		if p.Completed {
			continue
		}
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) ||
			(p.CreatedAt.Equal(oldest.CreatedAt) && p.ID < oldest.ID) {
			oldest = p
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

func (m *MemoryStore) CompleteEnrollment(ctx context.Context, e Enrollment, at time.Time) (Student, error) {
	if err := ctx.Err(); err != nil {
		return Student{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.openPending(e.IdentityToken)
	if p == nil {
		return Student{}, errNoPending(e.IdentityToken)
	}
	if _, ok := m.byMatric[e.Matric]; ok {
		return Student{}, conflict(opComplete, FieldMatric, e.Matric)
	}
	if _, ok := m.byToken[e.IdentityToken]; ok {
		return Student{}, conflict(opComplete, FieldIdentityToken, e.IdentityToken)
	}
	st := &Student{
		ID:            uuid.NewString(),
		Matric:        e.Matric,
		IdentityToken: e.IdentityToken,
		Name:          e.Name,
		Image:         e.Image,
		CreatedAt:     at,
	}
	m.students[st.ID] = st
	m.byToken[st.IdentityToken] = st.ID
	m.byMatric[st.Matric] = st.ID

	name, matric := e.Name, e.Matric
	p.Completed = true
	p.Name = &name
	p.Matric = &matric
	p.Image = e.Image
	return *st, nil
}

func (m *MemoryStore) StudentByToken(ctx context.Context, token string) (*Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, nil
	}
	st := *m.students[id]
	return &st, nil
}

func (m *MemoryStore) StudentByID(ctx context.Context, id string) (*Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryStore) ListStudents(ctx context.Context) ([]StudentPeriods, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StudentPeriods, 0, len(m.students))
	for id, st := range m.students {
		out = append(out, StudentPeriods{Student: *st, Periods: len(m.periods[id])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Matric < out[j].Matric })
	return out, nil
}

func (m *MemoryStore) CountStudents(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.students), nil
}

func (m *MemoryStore) MergePeriod(ctx context.Context, studentID string, date, at time.Time) (Period, error) {
	if err := ctx.Err(); err != nil {
		return Period{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.periods[studentID] {
		if p.Date.Equal(date) {
			if at.After(p.LastSignIn) {
				p.LastSignIn = at
			}
			if at.Before(p.FirstSignIn) {
				p.FirstSignIn = at
			}
			p.SignInCount++
			// A mark stamped earlier can commit later; keep the sequence chronological.
			i := sort.Search(len(p.SignIns), func(i int) bool { return p.SignIns[i].After(at) })
			p.SignIns = append(p.SignIns, time.Time{})
			copy(p.SignIns[i+1:], p.SignIns[i:])
			p.SignIns[i] = at
			return clonePeriod(p), nil
		}
	}
	return m.insertPeriod(studentID, date, at), nil
}

func (m *MemoryStore) AppendPeriod(ctx context.Context, studentID string, minDate, at time.Time) (Period, error) {
	if err := ctx.Err(); err != nil {
		return Period{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	date := minDate
	for _, p := range m.periods[studentID] {
		if next := p.Date.AddDate(0, 0, 1); next.After(date) {
			date = next
		}
	}
	return m.insertPeriod(studentID, date, at), nil
}

// insertPeriod must be called with m.mu held.
func (m *MemoryStore) insertPeriod(studentID string, date, at time.Time) Period {
	p := &Period{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		Date:        date,
		FirstSignIn: at,
		LastSignIn:  at,
		SignInCount: 1,
		SignIns:     []time.Time{at},
	}
	list := append(m.periods[studentID], p)
	sort.Slice(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
	m.periods[studentID] = list
	return clonePeriod(p)
}

func (m *MemoryStore) PeriodsForStudent(ctx context.Context, studentID string) ([]Period, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Period, 0, len(m.periods[studentID]))
	for _, p := range m.periods[studentID] {
		out = append(out, clonePeriod(p))
	}
	return out, nil
}

func (m *MemoryStore) PeriodsOn(ctx context.Context, date time.Time) ([]PeriodView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PeriodView
	for id, list := range m.periods {
		st := m.students[id]
		for _, p := range list {
			if !p.Date.Equal(date) {
				continue
			}
			out = append(out, PeriodView{Period: clonePeriod(p), Name: st.Name, Matric: st.Matric, Image: st.Image})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSignIn.Before(out[j].LastSignIn) })
	return out, nil
}

func (m *MemoryStore) CountPeriods(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, list := range m.periods {
		n += len(list)
	}
	return n, nil
}

func (m *MemoryStore) DailyCounts(ctx context.Context, from, to time.Time) ([]DayCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[time.Time]int)
	for _, list := range m.periods {
		for _, p := range list {
			if p.Date.Before(from) || p.Date.After(to) {
				continue
			}
			counts[p.Date]++
		}
	}
	days := make([]time.Time, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	out := make([]DayCount, 0, len(days))
	for _, d := range days {
		out = append(out, DayCount{Date: d.Format(dateLayout), Count: counts[d]})
	}
	return out, nil
}

func clonePeriod(p *Period) Period {
	cp := *p
	cp.SignIns = append([]time.Time(nil), p.SignIns...)
	return cp
}
