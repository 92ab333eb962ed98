package storage

import (
	"fmt"

	"viewing-scheduler-server/config"
	"viewing-scheduler-server/models"

	"github.com/glebarez/sqlite"
	"github.com/kataras/golog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// activeMeetingIndex allows one active meeting per listing and buyer. Both drivers support partial indexes.
const activeMeetingIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_meetings_active_listing_buyer
ON meetings (listing_id, buyer_id)
WHERE status IN ('pending', 'confirmed', 'rescheduled', 'tentative')`

// OpenDatabase connects with the given driver and migrates the schema.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		if dsn == "" {
			return nil, fmt.Errorf("DB_CONNECTION_STRING environment variable is required")
		}
		dialector = postgres.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("error connection to db: %w", err)
	}
	if err := performMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

func performMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Property{},
		&models.Meeting{},
		&models.MeetingStatusLog{},
		&models.UserCalendarCredential{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := db.Exec(activeMeetingIndex).Error; err != nil {
		return fmt.Errorf("create active meeting index: %w", err)
	}
	return nil
}

func InitializeDB(cfg *config.Config) *gorm.DB {
	db, err := OpenDatabase(cfg.DBDriver, cfg.DBConnectionString)
	if err != nil {
		golog.Fatalf("💥 %v", err)
	}
	golog.Infof("🗄️  database ready (%s)", cfg.DBDriver)
	DB = db
	return db
}
