// Package memorypersistence keeps sessions in process memory. It is used when no
// database is configured; data does not survive a restart.
package memorypersistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/BhavanK18/Whiteboard/internal/domain"
	"github.com/BhavanK18/Whiteboard/internal/repository"
)

// SessionRepository is an in-memory repository.SessionRepository that enforces the
// same unique constraints as the database schemas.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session // keyed by SessionID
	nextID   uint
}

// NewSessionRepository creates an empty store.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*domain.Session)}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.SessionID]; ok {
		return repository.ErrDuplicateEntry
	}
	if r.violatesUnique(session) {
		return repository.ErrDuplicateEntry
	}
	now := time.Now()
	r.nextID++
	session.ID = r.nextID
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.SyncActiveSlot()
	r.sessions[session.SessionID] = clone(session)
	return nil
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sessions[session.SessionID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if r.violatesUnique(session) {
		return repository.ErrDuplicateEntry
	}
	session.ID = existing.ID
	session.UpdatedAt = time.Now()
	session.SyncActiveSlot()
	r.sessions[session.SessionID] = clone(session)
	return nil
}

func (r *SessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return clone(s), nil
}

func (r *SessionRepository) FindByCode(ctx context.Context, code string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.SessionCode == code {
			return clone(s), nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *SessionRepository) FindLatestByNameAndOwner(ctx context.Context, name, owner string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *domain.Session
	for _, s := range r.sessions {
		if s.SessionName != name || s.CreatedBy != owner {
			continue
		}
		if best == nil ||
			(s.IsActive && !best.IsActive) ||
			(s.IsActive == best.IsActive && s.CreatedAt.After(best.CreatedAt)) {
			best = s
		}
	}
	if best == nil {
		return nil, repository.ErrSessionNotFound
	}
	return clone(best), nil
}

func (r *SessionRepository) ListActiveByOwner(ctx context.Context, owner string, now time.Time) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]domain.Session, 0)
	for _, s := range r.sessions {
		if s.CreatedBy == owner && s.IsActive && s.ExpiresAt.After(now) {
			sessions = append(sessions, *clone(s))
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *SessionRepository) IsCodeExists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.SessionCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *SessionRepository) UpdateParticipants(ctx context.Context, sessionID string, participants []string) error {
	return r.update(ctx, sessionID, func(s *domain.Session) {
		s.Participants = append(datatypes.JSONSlice[string]{}, participants...)
	})
}

func (r *SessionRepository) UpdateBoard(ctx context.Context, sessionID string, board datatypes.JSON) error {
	return r.update(ctx, sessionID, func(s *domain.Session) {
		s.BoardData = append(datatypes.JSON{}, board...)
	})
}

func (r *SessionRepository) SetActive(ctx context.Context, sessionID string, active bool) error {
	return r.update(ctx, sessionID, func(s *domain.Session) {
		s.IsActive = active
	})
}

func (r *SessionRepository) update(ctx context.Context, sessionID string, apply func(*domain.Session)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	updated := clone(existing)
	apply(updated)
	if r.violatesUnique(updated) {
		return repository.ErrDuplicateEntry
	}
	updated.UpdatedAt = time.Now()
	updated.SyncActiveSlot()
	r.sessions[sessionID] = updated
	return nil
}

// violatesUnique checks candidate against every other stored session. Callers hold mu.
func (r *SessionRepository) violatesUnique(candidate *domain.Session) bool {
	for id, s := range r.sessions {
		if id == candidate.SessionID {
			continue
		}
		if s.SessionCode == candidate.SessionCode {
			return true
		}
		if candidate.IsActive && s.IsActive &&
			s.SessionName == candidate.SessionName && s.CreatedBy == candidate.CreatedBy {
			return true
		}
	}
	return false
}

func clone(s *domain.Session) *domain.Session {
	c := *s
	c.Participants = append(datatypes.JSONSlice[string](nil), s.Participants...)
	c.BoardData = append(datatypes.JSON(nil), s.BoardData...)
	c.SyncActiveSlot()
	return &c
}
