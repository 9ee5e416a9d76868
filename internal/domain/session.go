package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultSessionTTL is how long a session stays joinable after creation or reactivation.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Participant roles reported to clients on create/join.
const (
	RoleOwner       = "owner"
	RoleParticipant = "participant"
	RoleGuest       = "guest"
)

// Session is the durable record of a collaboration room.
type Session struct {
	ID           uint                      `gorm:"primaryKey" json:"-"`
	SessionID    string                    `gorm:"type:varchar(64);uniqueIndex:idx_session_id;not null" json:"sessionId"`
	SessionCode  string                    `gorm:"type:varchar(16);uniqueIndex:idx_session_code;not null" json:"sessionCode"`
	SessionName  string                    `gorm:"type:varchar(191);not null;uniqueIndex:idx_active_name_owner,priority:1" json:"sessionName"`
	CreatedBy    string                    `gorm:"type:varchar(191);not null;index;uniqueIndex:idx_active_name_owner,priority:2" json:"createdBy"`
	Participants datatypes.JSONSlice[string] `gorm:"type:json" json:"participants"`
	BoardData    datatypes.JSON            `gorm:"type:json" json:"boardData"`
	InviteLink   string                    `gorm:"type:varchar(255)" json:"inviteLink"`
	IsActive     bool                      `gorm:"not null;default:true" json:"isActive"`
	ExpiresAt    time.Time                 `gorm:"index;not null" json:"expiresAt"`
	CreatedAt    time.Time                 `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt    time.Time                 `gorm:"autoUpdateTime" json:"-"`

	// ActiveSlot is true while the session is active and NULL otherwise, so the unique
	// index over (session_name, created_by, active_slot) only constrains active rows.
	ActiveSlot *bool `gorm:"uniqueIndex:idx_active_name_owner,priority:3" json:"-"`
}

// BeforeSave keeps ActiveSlot in sync with IsActive.
func (s *Session) BeforeSave(tx *gorm.DB) error {
	s.SyncActiveSlot()
	return nil
}

// SyncActiveSlot derives ActiveSlot from IsActive.
func (s *Session) SyncActiveSlot() {
	if s.IsActive {
		active := true
		s.ActiveSlot = &active
		return
	}
	s.ActiveSlot = nil
}

// IsExpired reports whether the session can no longer be joined or read.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.IsActive || now.After(s.ExpiresAt)
}

// PastExpiry reports whether the expiry timestamp has passed, regardless of IsActive.
func (s *Session) PastExpiry(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// AddParticipant appends name to the participant history unless already present.
// It reports whether the list changed.
func (s *Session) AddParticipant(name string) bool {
	for _, p := range s.Participants {
		if p == name {
			return false
		}
	}
	s.Participants = append(s.Participants, name)
	return true
}

// RoleFor returns the role a user joins with.
// authenticated is false when userName was generated for an anonymous guest.
func (s *Session) RoleFor(userName string, authenticated bool) string {
	switch {
	case userName == s.CreatedBy:
		return RoleOwner
	case authenticated:
		return RoleParticipant
	default:
		return RoleGuest
	}
}

// Reactivate resets an inactive session for reuse by its owner. The code, id and
// owner are kept.
func (s *Session) Reactivate(now time.Time, ttl time.Duration) {
	s.IsActive = true
	s.ExpiresAt = now.Add(ttl)
	s.Participants = datatypes.JSONSlice[string]{s.CreatedBy}
	s.BoardData = EmptyBoard()
	s.SyncActiveSlot()
}

// InviteLinkFor builds the shareable join link for a session code.
func InviteLinkFor(frontendBase, code string) string {
	return strings.TrimRight(frontendBase, "/") + "/join/" + code
}
