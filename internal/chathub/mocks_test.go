package chathub_test

import (
	"context"
	"sanctuary/backend/internal/audit"
	"sanctuary/backend/internal/chathub"
	"sanctuary/backend/internal/config"
	"sanctuary/backend/internal/counselor"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"
	"sanctuary/backend/internal/storage/storagetest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// env wires the real services over an in-memory store.
type env struct {
	store      *storage.Service
	sessions   *session.Broker
	counselors *counselor.Registry
	router     *chathub.Router
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := storagetest.NewService(t)
	sessions := session.NewBroker(store, nil)
	return &env{
		store:    store,
		sessions: sessions,
		counselors: counselor.NewRegistry(counselor.RegistryDependencies{
			Store:    store,
			Sessions: sessions,
			Audit:    audit.NewRecorder(store, nil),
		}),
		router: chathub.NewRouter(sessions, store, nil),
	}
}

func (e *env) matcher(queue *storage.WaitingQueue, hub *chathub.Manager) *chathub.Matcher {
	return chathub.NewMatcher(chathub.MatcherDependencies{
		Store:      e.store,
		Sessions:   e.sessions,
		Counselors: e.counselors,
		Queue:      queue,
		Hub:        hub,
		Config:     config.MatchConfig{MaxAttempts: 3, PollInterval: 10 * time.Millisecond},
	})
}

func (e *env) user(t *testing.T, handle string) *models.User {
	t.Helper()
	u, err := e.store.SaveUserIfNotExists(context.Background(), handle)
	require.NoError(t, err)
	return u
}

func (e *env) counselor(t *testing.T, handle string) *models.Counselor {
	t.Helper()
	c := &models.Counselor{ExternalChatHandle: handle, IsApproved: true, Availability: models.AvailabilityAvailable}
	require.NoError(t, e.store.CreateCounselor(context.Background(), c))
	return c
}
