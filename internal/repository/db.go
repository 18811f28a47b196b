package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tablepos/internal/config"
	"tablepos/internal/domain"
)

// ConnectPostgres открывает pgx-соединение с повторами и оборачивает его в gorm
func ConnectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)

	const (
		maxRetries = 10
		retryDelay = 2 * time.Second
		pingTTL    = 5 * time.Second
	)

	var (
		sqlDB *sql.DB
		err   error
	)
	for i := 1; i <= maxRetries; i++ {
		sqlDB, err = sql.Open("pgx", dsn)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, pingTTL)
			err = sqlDB.PingContext(pctx)
			cancel()
			if err == nil {
				break
			}
			_ = sqlDB.Close()
		}
		zap.L().Warn("database not ready", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("db connect canceled: %w", ctx.Err())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("database unreachable after %d attempts: %w", maxRetries, err)
	}

	if cfg.MaxConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConn)
		sqlDB.SetMaxIdleConns(cfg.MaxConn / 2)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	logLevel := logger.Warn
	if cfg.Debug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Migrate создаёт и обновляет схему
func Migrate(db *gorm.DB) error {
	return db.Migrator().AutoMigrate(domain.Tables...)
}
