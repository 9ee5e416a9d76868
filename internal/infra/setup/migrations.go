package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/BhavanK18/Whiteboard/internal/domain"
)

// MigrateDB creates or updates the MySQL schema.
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := migrateSessionsTable(db); err != nil {
		return fmt.Errorf("failed to migrate sessions table: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}

func migrateSessionsTable(db *gorm.DB) error {
	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = 'sessions'").
		Scan(&count).Error; err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if count == 0 {
		return createSessionsTable(db)
	}
	return updateSessionsTable(db)
}

// createSessionsTable creates the table with explicit index lengths. active_slot is
// 1 for active rows and NULL otherwise; MySQL unique indexes ignore NULLs, so at
// most one active session exists per (session_name, created_by).
func createSessionsTable(db *gorm.DB) error {
	sql := `
	CREATE TABLE sessions (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		session_code VARCHAR(16) NOT NULL,
		session_name VARCHAR(191) NOT NULL,
		created_by VARCHAR(191) NOT NULL,
		participants JSON,
		board_data JSON,
		invite_link VARCHAR(255),
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		active_slot TINYINT(1) NULL,
		expires_at DATETIME(3) NOT NULL,
		created_at DATETIME(3),
		updated_at DATETIME(3),
		UNIQUE INDEX idx_session_id (session_id),
		UNIQUE INDEX idx_session_code (session_code),
		UNIQUE INDEX idx_active_name_owner (session_name, created_by, active_slot),
		INDEX idx_sessions_created_by (created_by),
		INDEX idx_sessions_expires_at (expires_at),
		INDEX idx_sessions_created_at (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci;
	`
	if err := db.Exec(sql).Error; err != nil {
		logrus.Errorf("Failed to create sessions table: %v", err)
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	logrus.Info("Sessions table created successfully")
	return nil
}

func updateSessionsTable(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.Session{}); err != nil {
		logrus.Errorf("Failed to auto-migrate sessions table: %v", err)
		return fmt.Errorf("failed to migrate session indexes: %w", err)
	}
	// Rows written before active_slot existed.
	if err := db.Exec("UPDATE sessions SET active_slot = 1 WHERE is_active = 1 AND active_slot IS NULL").Error; err != nil {
		logrus.Warnf("Could not backfill active_slot: %v", err)
	}
	logrus.Info("Sessions table schema checked/updated successfully")
	return nil
}
