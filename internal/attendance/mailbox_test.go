package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPending(t *testing.T, m *MemoryStore, token string) int {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.pending {
		if !p.Completed && p.IdentityToken == token {
			n++
		}
	}
	return n
}

func TestDetect_Idempotent(t *testing.T) {
	f := newFixture(t, PolicyCalendar)
	ctx := context.Background()

	id, err := f.svc.Detect(ctx, "FP1")
	require.NoError(t, err)
	assert.Equal(t, "FP1", id)

	id, err = f.svc.Detect(ctx, "FP1")
	require.NoError(t, err)
	assert.Equal(t, "FP1", id)

	assert.Equal(t, 1, openPending(t, f.store, "FP1"))
	assert.Equal(t, []string{EventScanDetected}, f.events.types())
}

func TestDetect_ConcurrentScansLeaveOneRegistration(t *testing.T) {
	f := newFixture(t, PolicyCalendar)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Detect(ctx, "FP-race")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, openPending(t, f.store, "FP-race"))
}

func TestDetect_RejectsEmptyToken(t *testing.T) {
	f := newFixture(t, PolicyCalendar)
	_, err := f.svc.Detect(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPollNext_OldestFirst(t *testing.T) {
	f := newFixture(t, PolicyCalendar)
	ctx := context.Background()

	id, err := f.svc.PollNext(ctx)
	require.NoError(t, err)
	assert.Empty(t, id, "an empty mailbox is not an error")

	for _, tok := range []string{"FP1", "FP2", "FP3"} {
		_, err := f.svc.Detect(ctx, tok)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	for i := 0; i < 3; i++ {
		id, err := f.svc.PollNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "FP1", id, "polling must not consume the entry")
	}

	_, err = f.svc.Complete(ctx, Enrollment{IdentityToken: "FP1", Name: "A", Matric: "M1"})
	require.NoError(t, err)
	id, err = f.svc.PollNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FP2", id)
}

func TestPollNext_TiesBrokenByInsertionOrder(t *testing.T) {
	f := newFixture(t, PolicyCalendar)
	ctx := context.Background()

	// The clock does not move, so every registration shares a creation time.
	for _, tok := range []string{"FP-b", "FP-a", "FP-c"} {
		_, err := f.svc.Detect(ctx, tok)
		require.NoError(t, err)
	}
	id, err := f.svc.PollNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FP-b", id)
}

func TestComplete_NoPendingRegistration(t *testing.T) {
	f := newFixture(t, PolicyCalendar)

	_, err := f.svc.Complete(context.Background(), Enrollment{IdentityToken: "FP9", Name: "A", Matric: "M1"})
	require.ErrorIs(t, err, ErrNotFound)

	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, FieldIdentityToken, ae.Field)
	assert.Equal(t, "FP9", ae.Value)
}

func TestComplete_ConflictOnMatric(t *testing.T) {
	f := newFixture(t, PolicyCalendar)
	ctx := context.Background()
	f.enroll(t, "FP1", "Ada", "M1")

	_, err := f.svc.Detect(ctx, "FP2")
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, Enrollment{IdentityToken: "FP2", Name: "Bola", Matric: "M1"})
	require.ErrorIs(t, err, ErrConflict)

	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, FieldMatric, ae.Field)
	assert.Contains(t, err.Error(), "M1")

	// The registration stays open so the operator can correct the form.
	id, err := f.svc.PollNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FP2", id)
}

func TestComplete_ConflictOnToken(t *testing.T) {
	f := newFixture(t, PolicyCalendar)
	ctx := context.Background()
	f.enroll(t, "FP1", "Ada", "M1")

	// An enrolled finger scanned again opens a new registration that cannot complete.
	_, err := f.svc.Detect(ctx, "FP1")
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, Enrollment{IdentityToken: "FP1", Name: "Ada", Matric: "M2"})
	require.ErrorIs(t, err, ErrConflict)

	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, FieldIdentityToken, ae.Field)
}

func TestComplete_RetiresRegistrationAndKeepsHistory(t *testing.T) {
	f := newFixture(t, PolicyCalendar)
	ctx := context.Background()
	img := "/uploads/students/a.png"

	_, err := f.svc.Detect(ctx, "FP1")
	require.NoError(t, err)
	st, err := f.svc.Complete(ctx, Enrollment{IdentityToken: "FP1", Name: " Ada ", Matric: "M1", Image: &img})
	require.NoError(t, err)

	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "Ada", st.Name)
	assert.Equal(t, "M1", st.Matric)
	assert.Equal(t, "FP1", st.IdentityToken)
	require.NotNil(t, st.Image)
	assert.Equal(t, img, *st.Image)

	require.Len(t, f.store.pending, 1)
	hist := f.store.pending[0]
	assert.True(t, hist.Completed)
	require.NotNil(t, hist.Matric)
	assert.Equal(t, "M1", *hist.Matric)

	_, err = f.svc.Complete(ctx, Enrollment{IdentityToken: "FP1", Name: "Ada", Matric: "M1"})
	assert.ErrorIs(t, err, ErrNotFound, "a completed registration cannot complete twice")
	assert.Equal(t, []string{EventScanDetected, EventEnrollmentCompleted}, f.events.types())
}

func TestComplete_ValidatesForm(t *testing.T) {
	f := newFixture(t, PolicyCalendar)
	_, err := f.svc.Complete(context.Background(), Enrollment{IdentityToken: "FP1", Name: "", Matric: "M1"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEnrollmentHandshake_EndToEnd(t *testing.T) {
	f := newFixture(t, PolicyCalendar)
	ctx := context.Background()

	_, err := f.svc.Detect(ctx, "FP1")
	require.NoError(t, err)

	id, err := f.svc.PollNext(ctx)
	require.NoError(t, err)
	require.Equal(t, "FP1", id)

	img := "img.png"
	_, err = f.svc.Complete(ctx, Enrollment{IdentityToken: id, Name: "A", Matric: "M1", Image: &img})
	require.NoError(t, err)

	id, err = f.svc.PollNext(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	res, err := f.svc.Mark(ctx, "FP1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Period.SignInCount)
	assert.Equal(t, StatusFirst, res.Status)
}
