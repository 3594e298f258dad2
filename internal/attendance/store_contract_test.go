package attendance

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fingerattend/internal/store"
)

// newStoreFunc returns an empty store for one test.
type newStoreFunc func(t *testing.T) Store

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

// TestRepository_Contract runs against a real database when TEST_DATABASE_URL is set.
// Every case truncates the schema first, so point it at a scratch database.
func TestRepository_Contract(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		db, err := store.NewDB(ctx, url)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		require.NoError(t, db.Migrate(ctx))
		_, err = db.Client.ExecContext(ctx,
			`TRUNCATE attendance_periods, students, pending_registrations RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return NewRepository(db.Client)
	})
}

var (
	contractDay = time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC)
	contractAt  = time.Date(2026, time.October, 14, 9, 15, 0, 0, time.UTC)
)

func runStoreContract(t *testing.T, newStore newStoreFunc) {
	cases := []struct {
		name string
		run  func(t *testing.T, s Store)
	}{
		{"CreatePendingIsIdempotent", contractCreatePending},
		{"ConcurrentCreatePending", contractConcurrentCreatePending},
		{"OldestPendingOrder", contractOldestPending},
		{"CompleteEnrollment", contractCompleteEnrollment},
		{"ConcurrentCompleteEnrollment", contractConcurrentComplete},
		{"MergePeriodSameDay", contractMergePeriod},
		{"MergePeriodLateEarlierSignIn", contractMergeOutOfOrder},
		{"ConcurrentMergePeriod", contractConcurrentMerge},
		{"AppendPeriodAdvancesDate", contractAppendPeriod},
		{"ConcurrentAppendPeriod", contractConcurrentAppend},
		{"Queries", contractQueries},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.run(t, newStore(t))
		})
	}
}

func contractEnroll(t *testing.T, s Store, token, matric string) Student {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreatePending(ctx, token, contractAt)
	require.NoError(t, err)
	st, err := s.CompleteEnrollment(ctx, Enrollment{IdentityToken: token, Name: "Student " + matric, Matric: matric}, contractAt)
	require.NoError(t, err)
	return st
}

func assertChronological(t *testing.T, p Period) {
	t.Helper()
	require.NotEmpty(t, p.SignIns)
	assert.True(t, sort.SliceIsSorted(p.SignIns, func(i, j int) bool { return p.SignIns[i].Before(p.SignIns[j]) }),
		"sign-ins out of order: %v", p.SignIns)
	assert.True(t, p.FirstSignIn.Equal(p.SignIns[0]), "first %v, sequence starts %v", p.FirstSignIn, p.SignIns[0])
	assert.True(t, p.LastSignIn.Equal(p.SignIns[len(p.SignIns)-1]), "last %v, sequence ends %v", p.LastSignIn, p.SignIns[len(p.SignIns)-1])
}

func contractCreatePending(t *testing.T, s Store) {
	ctx := context.Background()

	created, err := s.CreatePending(ctx, "FP1", contractAt)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreatePending(ctx, "FP1", contractAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)

	p, err := s.OldestPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "FP1", p.IdentityToken)
	assert.False(t, p.Completed)
}

func contractConcurrentCreatePending(t *testing.T, s Store) {
	ctx := context.Background()
	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CreatePending(ctx, "FP-race", contractAt)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)

	// Exactly one registration is open: completing it leaves nothing behind.
	_, err := s.CompleteEnrollment(ctx, Enrollment{IdentityToken: "FP-race", Name: "A", Matric: "M1"}, contractAt)
	require.NoError(t, err)
	p, err := s.OldestPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func contractOldestPending(t *testing.T, s Store) {
	ctx := context.Background()

	p, err := s.OldestPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = s.CreatePending(ctx, "FP-late", contractAt.Add(time.Hour))
	require.NoError(t, err)
	for _, tok := range []string{"FP-b", "FP-a"} {
		_, err = s.CreatePending(ctx, tok, contractAt)
		require.NoError(t, err)
	}

	for _, want := range []string{"FP-b", "FP-a", "FP-late"} {
		p, err := s.OldestPending(ctx)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, want, p.IdentityToken)
		_, err = s.CompleteEnrollment(ctx, Enrollment{IdentityToken: want, Name: "N", Matric: "M-" + want}, contractAt)
		require.NoError(t, err)
	}
}

func contractCompleteEnrollment(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.CompleteEnrollment(ctx, Enrollment{IdentityToken: "FP0", Name: "A", Matric: "M0"}, contractAt)
	assert.ErrorIs(t, err, ErrNotFound)

	img := "a.png"
	_, err = s.CreatePending(ctx, "FP1", contractAt)
	require.NoError(t, err)
	st, err := s.CompleteEnrollment(ctx, Enrollment{IdentityToken: "FP1", Name: "Ada", Matric: "M1", Image: &img}, contractAt)
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	require.NotNil(t, st.Image)
	assert.Equal(t, img, *st.Image)

	_, err = s.CreatePending(ctx, "FP2", contractAt)
	require.NoError(t, err)
	_, err = s.CompleteEnrollment(ctx, Enrollment{IdentityToken: "FP2", Name: "Bola", Matric: "M1"}, contractAt)
	require.ErrorIs(t, err, ErrConflict)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, FieldMatric, ae.Field)

	_, err = s.CreatePending(ctx, "FP1", contractAt)
	require.NoError(t, err)
	_, err = s.CompleteEnrollment(ctx, Enrollment{IdentityToken: "FP1", Name: "Ada", Matric: "M9"}, contractAt)
	require.ErrorIs(t, err, ErrConflict)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, FieldIdentityToken, ae.Field)

	got, err := s.StudentByToken(ctx, "FP1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, st.ID, got.ID)

	got, err = s.StudentByID(ctx, st.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "M1", got.Matric)

	n, err := s.CountStudents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func contractConcurrentComplete(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreatePending(ctx, "FP1", contractAt)
	require.NoError(t, err)

	const n = 8
	var (
		wg                  sync.WaitGroup
		mu                  sync.Mutex
		succeeded, notFound int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CompleteEnrollment(ctx, Enrollment{IdentityToken: "FP1", Name: "A", Matric: fmt.Sprintf("M%d", i)}, contractAt)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, ErrNotFound):
				notFound++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, notFound)

	count, err := s.CountStudents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func contractMergePeriod(t *testing.T, s Store) {
	ctx := context.Background()
	st := contractEnroll(t, s, "FP1", "M1")

	p1, err := s.MergePeriod(ctx, st.ID, contractDay, contractAt)
	require.NoError(t, err)
	assert.Equal(t, 1, p1.SignInCount)

	p2, err := s.MergePeriod(ctx, st.ID, contractDay, contractAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, 2, p2.SignInCount)
	assertChronological(t, p2)

	p3, err := s.MergePeriod(ctx, st.ID, contractDay.AddDate(0, 0, 1), contractAt.Add(24*time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, p1.ID, p3.ID)
	assert.True(t, p3.Date.Equal(contractDay.AddDate(0, 0, 1)))
}

func contractMergeOutOfOrder(t *testing.T, s Store) {
	ctx := context.Background()
	st := contractEnroll(t, s, "FP1", "M1")
	early := contractAt.Add(3 * time.Minute)
	late := contractAt.Add(4 * time.Minute)

	_, err := s.MergePeriod(ctx, st.ID, contractDay, late)
	require.NoError(t, err)
	p, err := s.MergePeriod(ctx, st.ID, contractDay, early)
	require.NoError(t, err)

	assert.Equal(t, 2, p.SignInCount)
	assertChronological(t, p)
	assert.True(t, p.FirstSignIn.Equal(early))
	assert.True(t, p.LastSignIn.Equal(late))
}

func contractConcurrentMerge(t *testing.T, s Store) {
	ctx := context.Background()
	st := contractEnroll(t, s, "FP1", "M1")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.MergePeriod(ctx, st.ID, contractDay, contractAt.Add(time.Duration(n-i)*time.Second))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	periods, err := s.PeriodsForStudent(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, n, periods[0].SignInCount)
	assert.Len(t, periods[0].SignIns, n)
	assertChronological(t, periods[0])
}

func contractAppendPeriod(t *testing.T, s Store) {
	ctx := context.Background()
	st := contractEnroll(t, s, "FP1", "M1")

	a, err := s.AppendPeriod(ctx, st.ID, contractDay, contractAt)
	require.NoError(t, err)
	assert.True(t, a.Date.Equal(contractDay))

	b, err := s.AppendPeriod(ctx, st.ID, contractDay, contractAt)
	require.NoError(t, err)
	assert.True(t, b.Date.Equal(contractDay.AddDate(0, 0, 1)))

	// A later minimum date wins over the synthetic next day.
	c, err := s.AppendPeriod(ctx, st.ID, contractDay.AddDate(0, 0, 5), contractAt)
	require.NoError(t, err)
	assert.True(t, c.Date.Equal(contractDay.AddDate(0, 0, 5)))
}

func contractConcurrentAppend(t *testing.T, s Store) {
	ctx := context.Background()
	st := contractEnroll(t, s, "FP1", "M1")

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendPeriod(ctx, st.ID, contractDay, contractAt)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	periods, err := s.PeriodsForStudent(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, periods, n)
	for i, p := range periods {
		assert.True(t, p.Date.Equal(contractDay.AddDate(0, 0, i)), "period %d on %v", i, p.Date)
	}
}

func contractQueries(t *testing.T, s Store) {
	ctx := context.Background()
	b := contractEnroll(t, s, "FP2", "M2")
	a := contractEnroll(t, s, "FP1", "M1")

	_, err := s.MergePeriod(ctx, a.ID, contractDay, contractAt.Add(time.Minute))
	require.NoError(t, err)
	_, err = s.MergePeriod(ctx, b.ID, contractDay, contractAt)
	require.NoError(t, err)
	_, err = s.MergePeriod(ctx, a.ID, contractDay.AddDate(0, 0, -1), contractAt.Add(-24*time.Hour))
	require.NoError(t, err)

	students, err := s.ListStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "M1", students[0].Matric)
	assert.Equal(t, 2, students[0].Periods)
	assert.Equal(t, 1, students[1].Periods)

	n, err := s.CountPeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	views, err := s.PeriodsOn(ctx, contractDay)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "M2", views[0].Matric)
	assert.Equal(t, "M1", views[1].Matric)

	counts, err := s.DailyCounts(ctx, contractDay.AddDate(0, 0, -6), contractDay)
	require.NoError(t, err)
	assert.Equal(t, []DayCount{{Date: "2026-10-13", Count: 1}, {Date: "2026-10-14", Count: 2}}, counts)

	periods, err := s.PeriodsForStudent(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.True(t, periods[0].Date.Before(periods[1].Date))

	missing, err := s.StudentByID(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, missing)
	missing, err = s.StudentByToken(ctx, "FP-none")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
