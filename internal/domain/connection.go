package domain

import "time"

// Connection is a live participant in a session room. It exists only in memory
// for the lifetime of the underlying transport connection.
type Connection struct {
	ConnectionID string    `json:"socketId"`
	SessionID    string    `json:"-"`
	UserName     string    `json:"userName"`
	JoinedAt     time.Time `json:"joinedAt"`
}
