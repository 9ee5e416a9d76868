package gormpersistence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateEntry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"translated gorm error", gorm.ErrDuplicatedKey, true},
		{"wrapped gorm error", fmt.Errorf("create: %w", gorm.ErrDuplicatedKey), true},
		{"mysql 1062", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'idx_session_code'"}, true},
		{"wrapped mysql 1062", fmt.Errorf("exec: %w", &mysql.MySQLError{Number: mysqlDuplicateEntry}), true},
		{"other mysql error", &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}, false},
		{"record not found", gorm.ErrRecordNotFound, false},
		{"plain error", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDuplicateEntry(tt.err))
		})
	}
}
