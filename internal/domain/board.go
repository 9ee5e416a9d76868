package domain

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// emptyBoard is the snapshot a new or reactivated session starts with.
const emptyBoard = `{"elements":[],"backgroundColor":"#ffffff"}`

// EmptyBoard returns a fresh copy of the default board snapshot.
func EmptyBoard() datatypes.JSON {
	return datatypes.JSON(emptyBoard)
}

// IsValidBoard reports whether raw is a well-formed JSON value. The board content
// itself is opaque and never interpreted.
func IsValidBoard(raw []byte) bool {
	return len(raw) > 0 && json.Valid(raw)
}
