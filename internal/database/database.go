package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrStorageUnavailable is returned when the backing file cannot be opened,
// created or migrated.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Connection options. Immediate transactions make a unit of work take the
// write lock up front, so a read-then-write ingest never fails on upgrade.
const dsnOptions = "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"

// Store is the process-wide handle to the node database.
type Store struct {
	db     *gorm.DB
	path   string
	logger *slog.Logger
}

type Option func(*options)

type options struct {
	logger  *slog.Logger
	verbose bool
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithVerbose lets gorm report slow queries and errors.
func WithVerbose(verbose bool) Option {
	return func(o *options) {
		o.verbose = verbose
	}
}

// Open opens or creates the database at dbPath and brings its schema up to date.
func Open(dbPath string, opts ...Option) (*Store, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %w", ErrStorageUnavailable, err)
	}

	logLevel := gormlogger.Silent
	if o.verbose {
		logLevel = gormlogger.Warn
	}

	db, err := gorm.Open(sqlite.Open(dbPath+dsnOptions), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %w", ErrStorageUnavailable, err)
	}

	store := &Store{db: db, path: dbPath, logger: o.logger}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: failed to connect to database: %w", ErrStorageUnavailable, err)
	}

	if err := Migrate(db); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: failed to migrate database: %w", ErrStorageUnavailable, err)
	}

	store.logger.Debug("Database opened", "path", dbPath)

	return store, nil
}

// Begin runs fn as one unit of work. The transaction commits when fn returns
// nil and rolls back when it returns an error or panics.
func (store *Store) Begin(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return store.db.WithContext(ctx).Transaction(fn)
}

func (store *Store) Path() string {
	return store.path
}

func (store *Store) SchemaVersion(ctx context.Context) (SchemaVersion, error) {
	return CurrentSchemaVersion(store.db.WithContext(ctx))
}

// RollbackMigration reverts the latest applied migration and returns its version.
func (store *Store) RollbackMigration(ctx context.Context) (SchemaVersion, error) {
	return Rollback(store.db.WithContext(ctx))
}

func (store *Store) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}

	store.logger.Debug("Closing database", "path", store.path)

	return sqlDB.Close()
}
