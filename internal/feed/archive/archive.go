// Package archive keeps an append-only Postgres record of claim awards and
// round resets. Rooms are never rebuilt from it.
package archive

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/tambola-backend/internal/feed"
)

type ClaimAward struct {
	ID          uint      `gorm:"primaryKey"`
	RoomCode    string    `gorm:"size:16;index"`
	ClaimType   string    `gorm:"size:32"`
	Winner      string    `gorm:"size:128"`
	PlayerCode  string    `gorm:"size:16"`
	CalledCount int
	AwardedAt   time.Time `gorm:"index"`
}

type RoundReset struct {
	ID          uint   `gorm:"primaryKey"`
	RoomCode    string `gorm:"size:16;index"`
	CalledCount int
	ResetAt     time.Time `gorm:"index"`
}

type Store struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the archive tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&ClaimAward{}, &RoundReset{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Name() string { return "archive" }

func (s *Store) Record(ctx context.Context, r feed.Result) error {
	row, err := rowFor(r)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowFor(r feed.Result) (any, error) {
	switch r.Kind {
	case feed.ClaimAwarded:
		return &ClaimAward{
			RoomCode:    r.RoomCode,
			ClaimType:   r.ClaimType,
			Winner:      r.Winner,
			PlayerCode:  r.PlayerCode,
			CalledCount: r.Called,
			AwardedAt:   r.At.UTC(),
		}, nil
	case feed.RoundReset:
		return &RoundReset{
			RoomCode:    r.RoomCode,
			CalledCount: r.Called,
			ResetAt:     r.At.UTC(),
		}, nil
	default:
		return nil, fmt.Errorf("archive: unknown result kind %q", r.Kind)
	}
}
