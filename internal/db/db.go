package db

import (
	"time"

	"roomcast/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the Postgres connection with a short retry loop so the
// server survives the database container coming up after it.
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Migrate creates all tables plus the partial unique index that makes
// membership create-or-get race-safe: at most one active RoomUser per
// (room, user) pair, while any number of deactivated rows may pile up.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.RoomUser{},
		&models.Presence{},
		&models.Message{},
		&models.MessageImage{},
		&models.RefreshToken{},
	); err != nil {
		return err
	}
	return gdb.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_room_user
		 ON room_users (room_id, user_id) WHERE is_active AND user_id IS NOT NULL`,
	).Error
}
