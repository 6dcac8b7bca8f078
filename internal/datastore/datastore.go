// Package datastore opens the storage backend selected in the settings and
// hands out the cache repository built on it.
package datastore

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/datastore/entities"
	"github.com/diitku/diitku-offline/internal/datastore/repository"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
)

// Store is an opened storage backend.
type Store struct {
	Cache repository.CacheRepository
	db    *gorm.DB
}

// Close releases the database connection, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// DB returns the underlying GORM handle, or nil for the memory driver.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Open connects to the configured driver and migrates the cache schema.
func Open(settings conf.StorageSettings, log logger.Logger) (*Store, error) {
	log = log.Module("datastore")

	var dialector gorm.Dialector
	switch settings.Driver {
	case conf.DriverMemory:
		log.Info("using in-memory cache storage")
		return &Store{Cache: repository.NewMemoryCacheRepository()}, nil
	case conf.DriverSQLite:
		dialector = sqlite.Open(sqliteDSN(settings.DSN))
	case conf.DriverMySQL:
		dialector = mysql.Open(settings.DSN)
	default:
		return nil, errors.Newf("unsupported storage driver %q", settings.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gorm_logger.New(gormWriter{log: log}, gorm_logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gorm_logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open %s database: %w", settings.Driver, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	if settings.Driver == conf.DriverSQLite {
		// SQLite allows one writer; serialize to avoid SQLITE_BUSY.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	store := &Store{db: db}
	if err := Migrate(db); err != nil {
		_ = store.Close()
		return nil, err
	}
	store.Cache = repository.NewCacheRepository(db)
	log.Info("cache storage opened", logger.String("driver", settings.Driver))
	return store, nil
}

// Migrate creates or updates the cache tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&entities.CacheBucket{}, &entities.CacheEntry{}); err != nil {
		return errors.New(fmt.Errorf("failed to migrate cache tables: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// sqliteDSN enables foreign keys so bucket deletes cascade.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=ON"
	}
	return dsn + "?_foreign_keys=ON"
}

// gormWriter routes GORM's own log lines into the worker logger.
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn(fmt.Sprintf(format, args...))
}
