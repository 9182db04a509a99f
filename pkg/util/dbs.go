package util

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBOptions 数据库连接参数
type DBOptions struct {
	Driver       string
	DSN          string
	LogLevel     logger.LogLevel
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// InitDatabase 按驱动打开数据库并设置连接池；sqlite 为默认驱动
func InitDatabase(opts DBOptions) (*gorm.DB, error) {
	if opts.LogLevel == 0 {
		opts.LogLevel = logger.Warn
	}
	cfg := &gorm.Config{
		Logger:                                   logger.Default.LogMode(opts.LogLevel),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	}
	db, err := createDatabaseInstance(cfg, opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName(opts.Driver), err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLife)
	}
	return db, nil
}

func driverName(driver string) string {
	if driver == "" {
		return "sqlite"
	}
	return driver
}
