// Package database provides relational store connection management:
// driver selection, pooling, health checks, and retryable transactions.
// This package is internal and should not be imported by external projects.
package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/memchat/config"
)

// Open connects to the configured database and returns a managed pool.
// Supported drivers: sqlite (pure Go), postgres, mysql.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*PoolManager, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	pool := PoolConfig{
		MaxIdleConns:    cfg.MaxIdleConns,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	// An in-memory sqlite database exists per connection: more than one
	// open connection would see disjoint databases.
	if (cfg.Driver == "sqlite" || cfg.Driver == "") &&
		strings.Contains(cfg.DSN, ":memory:") && !strings.Contains(cfg.DSN, "cache=shared") {
		pool.MaxIdleConns = 1
		pool.MaxOpenConns = 1
	}

	return NewPoolManager(db, pool, logger)
}
