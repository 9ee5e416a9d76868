package memorypersistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/BhavanK18/Whiteboard/internal/domain"
	"github.com/BhavanK18/Whiteboard/internal/repository"
)

func newSession(id, code, name, owner string, createdAt time.Time) *domain.Session {
	return &domain.Session{
		SessionID:    id,
		SessionCode:  code,
		SessionName:  name,
		CreatedBy:    owner,
		Participants: datatypes.JSONSlice[string]{owner},
		BoardData:    domain.EmptyBoard(),
		IsActive:     true,
		ExpiresAt:    createdAt.Add(time.Hour),
		CreatedAt:    createdAt,
	}
}

func TestSessionRepository_UniqueConstraints(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newSession("s1", "AAAAAAAA", "Plan", "alice", now)))

	assert.ErrorIs(t, repo.Create(ctx, newSession("s1", "BBBBBBBB", "Other", "bob", now)), repository.ErrDuplicateEntry, "same id")
	assert.ErrorIs(t, repo.Create(ctx, newSession("s2", "AAAAAAAA", "Other", "bob", now)), repository.ErrDuplicateEntry, "same code")
	assert.ErrorIs(t, repo.Create(ctx, newSession("s2", "BBBBBBBB", "Plan", "alice", now)), repository.ErrDuplicateEntry, "second active name for owner")

	// Same name is fine for a different owner, or once the first is inactive.
	require.NoError(t, repo.Create(ctx, newSession("s2", "BBBBBBBB", "Plan", "bob", now)))
	require.NoError(t, repo.SetActive(ctx, "s1", false))
	require.NoError(t, repo.Create(ctx, newSession("s3", "CCCCCCCC", "Plan", "alice", now)))

	exists, err := repo.IsCodeExists(ctx, "AAAAAAAA")
	require.NoError(t, err)
	assert.True(t, exists, "inactive sessions keep their code")

	// Reactivating s1 would give alice two active "Plan" sessions.
	assert.ErrorIs(t, repo.SetActive(ctx, "s1", true), repository.ErrDuplicateEntry)
}

func TestSessionRepository_FindLatestPrefersActive(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	now := time.Now()

	_, err := repo.FindLatestByNameAndOwner(ctx, "Plan", "alice")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	old := newSession("s1", "AAAAAAAA", "Plan", "alice", now.Add(-2*time.Hour))
	old.IsActive = false
	require.NoError(t, repo.Create(ctx, old))
	newer := newSession("s2", "BBBBBBBB", "Plan", "alice", now.Add(-time.Hour))
	newer.IsActive = false
	require.NoError(t, repo.Create(ctx, newer))

	found, err := repo.FindLatestByNameAndOwner(ctx, "Plan", "alice")
	require.NoError(t, err)
	assert.Equal(t, "s2", found.SessionID, "newest inactive")

	require.NoError(t, repo.SetActive(ctx, "s1", true))
	found, err = repo.FindLatestByNameAndOwner(ctx, "Plan", "alice")
	require.NoError(t, err)
	assert.Equal(t, "s1", found.SessionID, "active wins over newer inactive")
}

func TestSessionRepository_SaveReactivates(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	now := time.Now()

	s := newSession("s1", "AAAAAAAA", "Plan", "alice", now)
	require.NoError(t, repo.Create(ctx, s))
	require.NoError(t, repo.UpdateParticipants(ctx, "s1", []string{"alice", "bob"}))
	require.NoError(t, repo.UpdateBoard(ctx, "s1", datatypes.JSON(`{"elements":[1]}`)))
	require.NoError(t, repo.SetActive(ctx, "s1", false))

	stored, err := repo.FindBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Nil(t, stored.ActiveSlot)

	stored.Reactivate(now, 2*time.Hour)
	require.NoError(t, repo.Save(ctx, stored))

	got, err := repo.FindByCode(ctx, "AAAAAAAA")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, []string{"alice"}, []string(got.Participants))
	assert.JSONEq(t, `{"elements":[],"backgroundColor":"#ffffff"}`, string(got.BoardData))
	assert.Equal(t, stored.ID, got.ID)

	assert.ErrorIs(t, repo.Save(ctx, newSession("missing", "ZZZZZZZZ", "X", "y", now)), repository.ErrSessionNotFound)
}

func TestSessionRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	require.NoError(t, repo.Create(ctx, newSession("s1", "AAAAAAAA", "Plan", "alice", time.Now())))

	got, err := repo.FindBySessionID(ctx, "s1")
	require.NoError(t, err)
	got.Participants[0] = "mallory"
	got.SessionName = "changed"

	again, err := repo.FindBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Participants[0])
	assert.Equal(t, "Plan", again.SessionName)
}

func TestSessionRepository_ListActiveByOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newSession("s1", "AAAAAAAA", "First", "alice", now.Add(-3*time.Hour))))
	require.NoError(t, repo.Create(ctx, newSession("s2", "BBBBBBBB", "Second", "alice", now.Add(-30*time.Minute))))
	require.NoError(t, repo.Create(ctx, newSession("s3", "CCCCCCCC", "Third", "alice", now.Add(-10*time.Minute))))
	require.NoError(t, repo.Create(ctx, newSession("s4", "DDDDDDDD", "Other", "bob", now)))
	require.NoError(t, repo.SetActive(ctx, "s3", false))

	// s1 expired two hours ago; s3 is inactive.
	sessions, err := repo.ListActiveByOwner(ctx, "alice", now)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].SessionID)

	sessions, err = repo.ListActiveByOwner(ctx, "alice", now.Add(-4*time.Hour))
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].SessionID, "newest first")
	assert.Equal(t, "s1", sessions[1].SessionID)

	sessions, err = repo.ListActiveByOwner(ctx, "nobody", now)
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)
}

func TestSessionRepository_CancelledContext(t *testing.T) {
	repo := NewSessionRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, repo.Create(ctx, newSession("s1", "AAAAAAAA", "Plan", "alice", time.Now())), context.Canceled)
	_, err := repo.FindByCode(ctx, "AAAAAAAA")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, repo.SetActive(ctx, "s1", false), context.Canceled)
}
