package session_test

import (
	"context"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"
	"sanctuary/backend/internal/storage/storagetest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *storage.Service
	broker *session.Broker
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: storagetest.NewService(t),
		clock: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.broker = session.NewBroker(f.store, nil).WithClock(func() time.Time { return f.clock })
	return f
}

func (f *fixture) user(t *testing.T, handle string) *models.User {
	t.Helper()
	u, err := f.store.SaveUserIfNotExists(context.Background(), handle)
	require.NoError(t, err)
	return u
}

func (f *fixture) counselor(t *testing.T, handle string, mutate func(c *models.Counselor)) *models.Counselor {
	t.Helper()
	c := &models.Counselor{ExternalChatHandle: handle, IsApproved: true, Availability: models.AvailabilityAvailable}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, f.store.CreateCounselor(context.Background(), c))
	return c
}

func (f *fixture) reload(t *testing.T, id string) *models.Counselor {
	t.Helper()
	c, err := f.store.GetCounselorByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestCreateSession_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "tg:u")
	c := f.counselor(t, "tg:c", nil)

	sess, err := f.broker.CreateSession(ctx, u.ID, c.ID, true)
	require.NoError(t, err)

	assert.True(t, sess.IsActive)
	assert.Equal(t, c.ID, sess.CounselorID)
	assert.Equal(t, c.ID, sess.CurrentCounselorID)
	assert.True(t, sess.ConsentTimestamp.Equal(f.clock))
	assert.Zero(t, sess.TransferCount)
	assert.Equal(t, models.AvailabilityBusy, f.reload(t, c.ID).Availability)

	f.clock = f.clock.Add(14*time.Minute + 40*time.Second)
	ended, err := f.broker.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	require.NotNil(t, ended.DurationMinutes)
	assert.Equal(t, 15, *ended.DurationMinutes)

	stored := f.reload(t, c.ID)
	assert.Equal(t, models.AvailabilityAvailable, stored.Availability)
	assert.Equal(t, 1, stored.SessionsHandled)
}

func TestCreateSession_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "tg:u")
	c := f.counselor(t, "tg:c", nil)
	pending := f.counselor(t, "tg:p", func(c *models.Counselor) { c.IsApproved = false })
	suspended := f.counselor(t, "tg:s", func(c *models.Counselor) { c.IsSuspended = true })

	_, err := f.broker.CreateSession(ctx, u.ID, c.ID, false)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.broker.CreateSession(ctx, "nobody", c.ID, true)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = f.broker.CreateSession(ctx, u.ID, "nobody", true)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = f.broker.CreateSession(ctx, u.ID, pending.ID, true)
	assert.Equal(t, apperrors.KindUnavailable, apperrors.KindOf(err))

	_, err = f.broker.CreateSession(ctx, u.ID, suspended.ID, true)
	assert.Equal(t, apperrors.KindUnavailable, apperrors.KindOf(err))
}

func TestCreateSession_Exclusivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.user(t, "tg:u1")
	u2 := f.user(t, "tg:u2")
	c1 := f.counselor(t, "tg:c1", nil)
	c2 := f.counselor(t, "tg:c2", nil)

	_, err := f.broker.CreateSession(ctx, u1.ID, c1.ID, true)
	require.NoError(t, err)

	_, err = f.broker.CreateSession(ctx, u1.ID, c2.ID, true)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err), "user already in a session")

	_, err = f.broker.CreateSession(ctx, u2.ID, c1.ID, true)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err), "counselor already in a session")
}

func TestCreateSession_ConcurrentDoubleBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.counselor(t, "tg:c", nil)
	users := []*models.User{f.user(t, "tg:u1"), f.user(t, "tg:u2"), f.user(t, "tg:u3"), f.user(t, "tg:u4")}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := f.broker.CreateSession(ctx, userID, c.ID, true)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperrors.Is(err, apperrors.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, len(users)-1, conflicts)
}

func TestCreateSession_TransferredCounselorIsBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.user(t, "tg:u1")
	u2 := f.user(t, "tg:u2")
	c1 := f.counselor(t, "tg:c1", nil)
	c2 := f.counselor(t, "tg:c2", nil)

	sess, err := f.broker.CreateSession(ctx, u1.ID, c1.ID, true)
	require.NoError(t, err)
	_, err = f.broker.TransferSession(ctx, sess.ID, c1.ID, c2.ID, "handover")
	require.NoError(t, err)

	_, err = f.broker.CreateSession(ctx, u2.ID, c2.ID, true)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	_, err = f.broker.CreateSession(ctx, u2.ID, c1.ID, true)
	assert.NoError(t, err, "the handing-off counselor is free again")
}

func TestEndSession_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "tg:u")
	c := f.counselor(t, "tg:c", nil)
	sess, err := f.broker.CreateSession(ctx, u.ID, c.ID, true)
	require.NoError(t, err)

	f.clock = f.clock.Add(10 * time.Minute)
	first, err := f.broker.EndSession(ctx, sess.ID)
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Hour)
	second, err := f.broker.EndSession(ctx, sess.ID)
	require.NoError(t, err)

	require.NotNil(t, first.EndTime)
	require.NotNil(t, second.EndTime)
	assert.True(t, first.EndTime.Equal(*second.EndTime))
	assert.Equal(t, *first.DurationMinutes, *second.DurationMinutes)
	assert.Equal(t, 1, f.reload(t, c.ID).SessionsHandled, "no second increment")

	_, err = f.broker.EndSession(ctx, "missing")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestEndSession_SuspendedCounselorStaysAway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "tg:u")
	c := f.counselor(t, "tg:c", nil)
	sess, err := f.broker.CreateSession(ctx, u.ID, c.ID, true)
	require.NoError(t, err)

	away := models.AvailabilityAway
	_, err = f.store.UpdateAccess(ctx, c.ID, storage.AccessUpdate{Approved: true, Suspended: true, Availability: &away, ChangedBy: "admin"})
	require.NoError(t, err)

	_, err = f.broker.EndSession(ctx, sess.ID)
	require.NoError(t, err)

	stored := f.reload(t, c.ID)
	assert.Equal(t, models.AvailabilityAway, stored.Availability)
	assert.Equal(t, 1, stored.SessionsHandled)
}

func TestTransferSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "tg:u")
	c1 := f.counselor(t, "tg:c1", nil)
	c2 := f.counselor(t, "tg:c2", nil)
	c3 := f.counselor(t, "tg:c3", func(c *models.Counselor) { c.Availability = models.AvailabilityAway })
	sess, err := f.broker.CreateSession(ctx, u.ID, c1.ID, true)
	require.NoError(t, err)

	_, err = f.broker.TransferSession(ctx, sess.ID, c2.ID, c1.ID, "not mine")
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))

	_, err = f.broker.TransferSession(ctx, sess.ID, c1.ID, c1.ID, "self")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.broker.TransferSession(ctx, sess.ID, c1.ID, c3.ID, "away target")
	assert.Equal(t, apperrors.KindUnavailable, apperrors.KindOf(err))

	_, err = f.broker.TransferSession(ctx, sess.ID, c1.ID, "missing", "ghost")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	moved, err := f.broker.TransferSession(ctx, sess.ID, c1.ID, c2.ID, "shift change")
	require.NoError(t, err)
	assert.Equal(t, c2.ID, moved.CurrentCounselorID)
	assert.Equal(t, c1.ID, moved.CounselorID)
	require.NotNil(t, moved.PreviousCounselorID)
	assert.Equal(t, c1.ID, *moved.PreviousCounselorID)
	assert.Equal(t, 1, moved.TransferCount)
	require.Len(t, moved.Transfers, 1)
	assert.Equal(t, "shift change", moved.Transfers[0].Reason)
	assert.True(t, moved.HasParticipant(c1.ID))

	assert.Equal(t, models.AvailabilityAvailable, f.reload(t, c1.ID).Availability)
	assert.Equal(t, models.AvailabilityBusy, f.reload(t, c2.ID).Availability)

	_, err = f.broker.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.reload(t, c2.ID).SessionsHandled, "the current counselor is credited")
	assert.Equal(t, 0, f.reload(t, c1.ID).SessionsHandled)

	_, err = f.broker.TransferSession(ctx, sess.ID, c2.ID, c1.ID, "too late")
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestRateSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "tg:u")
	other := f.user(t, "tg:other")
	c := f.counselor(t, "tg:c", nil)
	sess, err := f.broker.CreateSession(ctx, u.ID, c.ID, true)
	require.NoError(t, err)

	_, err = f.broker.RateSession(ctx, sess.ID, u.ID, 4)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err), "active session")

	_, err = f.broker.EndSession(ctx, sess.ID)
	require.NoError(t, err)

	for _, score := range []int{0, 6, -1} {
		_, err = f.broker.RateSession(ctx, sess.ID, u.ID, score)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), "score %d", score)
	}

	_, err = f.broker.RateSession(ctx, sess.ID, other.ID, 4)
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))

	rated, err := f.broker.RateSession(ctx, sess.ID, u.ID, 4)
	require.NoError(t, err)
	require.NotNil(t, rated.RatingScore)
	assert.Equal(t, 4, *rated.RatingScore)

	again, err := f.broker.RateSession(ctx, sess.ID, u.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, *again.RatingScore)

	stored := f.reload(t, c.ID)
	assert.Equal(t, 1, stored.RatingCount)
	assert.Equal(t, 4, stored.RatingTotal)
}

func TestTerminateAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.user(t, "tg:u1")
	u2 := f.user(t, "tg:u2")
	c1 := f.counselor(t, "tg:c1", nil)
	c2 := f.counselor(t, "tg:c2", nil)
	c3 := f.counselor(t, "tg:c3", nil)

	s1, err := f.broker.CreateSession(ctx, u1.ID, c1.ID, true)
	require.NoError(t, err)
	_, err = f.broker.TransferSession(ctx, s1.ID, c1.ID, c2.ID, "handover")
	require.NoError(t, err)
	_, err = f.broker.CreateSession(ctx, u2.ID, c3.ID, true)
	require.NoError(t, err)

	n, err := f.broker.TerminateAllForCounselor(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "previously assigned session is ended")

	n, err = f.broker.TerminateAllForCounselor(ctx, c1.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.broker.TerminateAllForUser(ctx, u2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := f.broker.ActiveSessionFor(ctx, u2.ID, models.SenderUser)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestActiveSessionFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "tg:u")
	c := f.counselor(t, "tg:c", nil)
	sess, err := f.broker.CreateSession(ctx, u.ID, c.ID, true)
	require.NoError(t, err)

	byUser, err := f.broker.ActiveSessionFor(ctx, u.ID, models.SenderUser)
	require.NoError(t, err)
	require.NotNil(t, byUser)
	assert.Equal(t, sess.ID, byUser.ID)

	byCounselor, err := f.broker.ActiveSessionFor(ctx, c.ID, models.SenderCounselor)
	require.NoError(t, err)
	require.NotNil(t, byCounselor)
	assert.Equal(t, sess.ID, byCounselor.ID)

	_, err = f.broker.ActiveSessionFor(ctx, c.ID, models.SenderType("admin"))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}
