// Package gorm_store implements the job queue Store on a relational
// database through gorm. Two backends are supported: postgres for
// server-backed deployments and sqlite for file-backed single-process
// installs. All state transitions run inside transactions.
package gorm_store

import (
	"fmt"
	"strings"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/kaw393939/metavis/internal/config"
	"github.com/kaw393939/metavis/internal/store/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormDbStore implements store.Store over a gorm connection.
type GormDbStore struct {
	db *gorm.DB
}

// New wraps an already-open gorm connection. Used by tests.
func New(db *gorm.DB) *GormDbStore {
	return &GormDbStore{db: db}
}

// Open connects to the database identified by the URI. URIs beginning with
// postgres:// (or postgresql://) use the postgres driver; anything else is
// treated as a sqlite path (":memory:" included).
func Open(uri string) (*GormDbStore, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		dialector = postgres.Open(uri)
	} else {
		dialector = sqlite.Open(uri)
	}
	nowFunc := func() time.Time {
		return time.Now().UTC()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: nowFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &GormDbStore{db: db}, nil
}

// GetDB returns the underlying gorm.DB connection
func (s *GormDbStore) GetDB() *gorm.DB {
	return s.db
}

// Initialize connects using the configured database URI and runs schema
// migration. The returned deferred function closes the connection.
func (s *GormDbStore) Initialize() (func(), error) {
	opened, err := Open(config.DbUri)
	if err != nil {
		return nil, err
	}
	s.db = opened.db
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	logging.Log.WithField("uri", redactUri(config.DbUri)).Info("Job store initialized")

	return func() {
		sqlDB, err := s.db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	}, nil
}

// Migrate creates or updates the jobs and job_dependencies tables.
func (s *GormDbStore) Migrate() error {
	if err := s.db.AutoMigrate(&models.Job{}, &models.JobDependency{}); err != nil {
		return fmt.Errorf("failed to migrate job schema: %w", err)
	}
	return nil
}

// isPostgres reports whether the connection supports row locking hints.
func (s *GormDbStore) isPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

func isValidUUID(u string) bool {
	_, err := uuid.Parse(u)
	return err == nil
}

// redactUri strips credentials from a connection URI before logging.
func redactUri(uri string) string {
	at := strings.LastIndex(uri, "@")
	scheme := strings.Index(uri, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return uri
	}
	return uri[:scheme+3] + "***" + uri[at:]
}
