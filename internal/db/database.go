// Package db initializes the sqlite database used for request auditing.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jleechanorg/codex-plus/internal/models"
	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the configured sqlite database and runs migrations.
func InitDB(configManager types.ConfigManager) (*gorm.DB, error) {
	dsn := configManager.GetDatabaseConfig().DSN

	if dir := filepath.Dir(dsn); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	if logrus.GetLevel() >= logrus.DebugLevel {
		gormConfig.Logger = logger.Default.LogMode(logger.Warn)
	}

	database, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(&models.RequestLog{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logrus.Debugf("Database initialized at %s", dsn)
	return database, nil
}
