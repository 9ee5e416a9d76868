package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/BhavanK18/Whiteboard/internal/domain"
	"github.com/BhavanK18/Whiteboard/internal/repository"
)

// mysqlDuplicateEntry is the MySQL error number for unique key violations.
const mysqlDuplicateEntry = 1062

// GormSessionRepository is the GORM implementation of repository.SessionRepository.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a GormSessionRepository.
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

// Create inserts a new session row.
func (r *GormSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		if isDuplicateEntry(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create session (code: %s): %w", session.SessionCode, err)
	}
	return nil
}

// Save writes every column of the session.
func (r *GormSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	if session.ID == 0 {
		existing, err := r.FindBySessionID(ctx, session.SessionID)
		if err != nil {
			return err
		}
		session.ID = existing.ID
	}
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		if isDuplicateEntry(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save session %s: %w", session.SessionID, err)
	}
	return nil
}

// FindBySessionID looks a session up by its public id.
func (r *GormSessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by id '%s': %w", sessionID, err)
	}
	return &session, nil
}

// FindByCode looks a session up by its join code.
func (r *GormSessionRepository) FindByCode(ctx context.Context, code string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Where("session_code = ?", code).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by code '%s': %w", code, err)
	}
	return &session, nil
}

// FindLatestByNameAndOwner prefers the active row, then the newest inactive one.
func (r *GormSessionRepository) FindLatestByNameAndOwner(ctx context.Context, name, owner string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).
		Where("session_name = ? AND created_by = ?", name, owner).
		Order("is_active DESC").
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by name '%s' and owner '%s': %w", name, owner, err)
	}
	return &session, nil
}

// ListActiveByOwner returns the owner's live sessions, newest first.
func (r *GormSessionRepository) ListActiveByOwner(ctx context.Context, owner string, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("created_by = ? AND is_active = ? AND expires_at > ?", owner, true, now).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list active sessions for owner '%s': %w", owner, err)
	}
	return sessions, nil
}

// IsCodeExists counts rows using code, active or not.
func (r *GormSessionRepository) IsCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).Where("session_code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count sessions by code '%s': %w", code, err)
	}
	return count > 0, nil
}

// UpdateParticipants replaces the participants column.
func (r *GormSessionRepository) UpdateParticipants(ctx context.Context, sessionID string, participants []string) error {
	return r.updateColumns(ctx, sessionID, map[string]interface{}{
		"participants": datatypes.JSONSlice[string](participants),
	})
}

// UpdateBoard replaces the board snapshot column.
func (r *GormSessionRepository) UpdateBoard(ctx context.Context, sessionID string, board datatypes.JSON) error {
	return r.updateColumns(ctx, sessionID, map[string]interface{}{"board_data": board})
}

// SetActive flips is_active together with the active_slot helper column.
func (r *GormSessionRepository) SetActive(ctx context.Context, sessionID string, active bool) error {
	var slot *bool
	if active {
		slot = &active
	}
	return r.updateColumns(ctx, sessionID, map[string]interface{}{
		"is_active":   active,
		"active_slot": slot,
	})
}

func (r *GormSessionRepository) updateColumns(ctx context.Context, sessionID string, columns map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&domain.Session{}).Where("session_id = ?", sessionID).Updates(columns)
	if result.Error != nil {
		if isDuplicateEntry(result.Error) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: update session %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows when values are unchanged, so confirm the row exists.
		if _, err := r.FindBySessionID(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
