package storage

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New connects to Postgres and runs migrations.
func New(dsn string) (*gorm.DB, error) {
	return Open(postgres.Open(dsn))
}

// Open runs migrations against any gorm dialector.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Settlement{}, &User{}); err != nil {
		return nil, err
	}
	return db, nil
}
