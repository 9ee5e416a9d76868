package repository

import (
	"context"
	"time"

	"github.com/BhavanK18/Whiteboard/internal/domain"
	"gorm.io/datatypes"
)

// SessionRepository stores session records.
//
// Implementations must enforce uniqueness of SessionID and SessionCode, and allow at
// most one active session per (SessionName, CreatedBy). Violations are reported as
// ErrDuplicateEntry; missing records as ErrSessionNotFound.
type SessionRepository interface {
	// Create inserts a new session.
	Create(ctx context.Context, session *domain.Session) error

	// Save overwrites every column of an existing session (matched by SessionID).
	Save(ctx context.Context, session *domain.Session) error

	// FindBySessionID returns the session regardless of its active/expired state.
	FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error)

	// FindByCode returns the session with the given code regardless of state.
	FindByCode(ctx context.Context, code string) (*domain.Session, error)

	// FindLatestByNameAndOwner returns the active session for (name, owner) if one
	// exists, otherwise the most recently created inactive one.
	FindLatestByNameAndOwner(ctx context.Context, name, owner string) (*domain.Session, error)

	// ListActiveByOwner returns active sessions expiring after now, newest first.
	ListActiveByOwner(ctx context.Context, owner string, now time.Time) ([]domain.Session, error)

	// IsCodeExists reports whether any session (active or not) uses code.
	IsCodeExists(ctx context.Context, code string) (bool, error)

	// UpdateParticipants replaces the participant history.
	UpdateParticipants(ctx context.Context, sessionID string, participants []string) error

	// UpdateBoard replaces the board snapshot wholesale.
	UpdateBoard(ctx context.Context, sessionID string, board datatypes.JSON) error

	// SetActive flips the active flag.
	SetActive(ctx context.Context, sessionID string, active bool) error
}
