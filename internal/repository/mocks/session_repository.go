// Package mocks holds testify mocks for the repository interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/BhavanK18/Whiteboard/internal/domain"
	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"
)

// SessionRepository is a mock of repository.SessionRepository.
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	return sessionArg(args, 0), args.Error(1)
}

func (m *SessionRepository) FindByCode(ctx context.Context, code string) (*domain.Session, error) {
	args := m.Called(ctx, code)
	return sessionArg(args, 0), args.Error(1)
}

func (m *SessionRepository) FindLatestByNameAndOwner(ctx context.Context, name, owner string) (*domain.Session, error) {
	args := m.Called(ctx, name, owner)
	return sessionArg(args, 0), args.Error(1)
}

func (m *SessionRepository) ListActiveByOwner(ctx context.Context, owner string, now time.Time) ([]domain.Session, error) {
	args := m.Called(ctx, owner, now)
	sessions, _ := args.Get(0).([]domain.Session)
	return sessions, args.Error(1)
}

func (m *SessionRepository) IsCodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *SessionRepository) UpdateParticipants(ctx context.Context, sessionID string, participants []string) error {
	args := m.Called(ctx, sessionID, participants)
	return args.Error(0)
}

func (m *SessionRepository) UpdateBoard(ctx context.Context, sessionID string, board datatypes.JSON) error {
	args := m.Called(ctx, sessionID, board)
	return args.Error(0)
}

func (m *SessionRepository) SetActive(ctx context.Context, sessionID string, active bool) error {
	args := m.Called(ctx, sessionID, active)
	return args.Error(0)
}

func sessionArg(args mock.Arguments, i int) *domain.Session {
	if s, ok := args.Get(i).(*domain.Session); ok {
		return s
	}
	return nil
}
