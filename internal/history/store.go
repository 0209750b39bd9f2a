/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists session runs and per-cue playback records so
// operators can review what a session actually played.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SessionRun is one execution of a cuelist from start to stop.
type SessionRun struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	CuelistName  string `gorm:"index"`
	TotalCues    int
	StartedAt    time.Time
	EndedAt      *time.Time
	TotalSeconds float64
	Outcome      string `gorm:"type:varchar(16)"` // completed | stopped
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CuePlay records one cue activation within a run.
type CuePlay struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	SessionRunID  string `gorm:"type:uuid;index"`
	CueIndex      int
	CueName       string `gorm:"index"`
	StartedAt     time.Time
	EndedAt       *time.Time
	ActualSeconds float64
	CreatedAt     time.Time
}

// Open establishes the sqlite history database and migrates its schema.
func Open(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.AutoMigrate(&SessionRun{}, &CuePlay{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return db, nil
}

// Close releases database resources.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
