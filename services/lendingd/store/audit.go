package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AuditEntry is one write call handled by the daemon, successful or not.
type AuditEntry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	RequestID  string    `gorm:"size:64;index"`
	Caller     string    `gorm:"size:42;index"`
	Operation  string    `gorm:"size:64;index"`
	Pool       string    `gorm:"size:64;index"`
	Height     uint64    `gorm:"not null"`
	StatusCode int       `gorm:"not null"`
	ErrorCode  string    `gorm:"size:64"`
	Request    string    `gorm:"type:text"`
	Response   string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// Audit writes AuditEntry rows through gorm.
type Audit struct {
	db *gorm.DB
}

// OpenAudit connects to driver ("postgres" or "sqlite") and migrates the
// schema.
func OpenAudit(driver, dsn string) (*Audit, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	return NewAudit(db)
}

// NewAudit wraps an existing connection and migrates the schema.
func NewAudit(db *gorm.DB) (*Audit, error) {
	if err := db.AutoMigrate(&AuditEntry{}); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return &Audit{db: db}, nil
}

// Record inserts entry, assigning an id and timestamp when absent.
func (a *Audit) Record(ctx context.Context, entry *AuditEntry) error {
	if a == nil {
		return nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return a.db.WithContext(ctx).Create(entry).Error
}

// Recent returns up to limit entries for caller, newest first. An empty caller
// lists every account.
func (a *Audit) Recent(ctx context.Context, caller string, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := a.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if caller != "" {
		query = query.Where("caller = ?", caller)
	}
	var out []AuditEntry
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the SQL connection pool.
func (a *Audit) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
