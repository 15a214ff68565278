// Package postgres stores templates in the transaction_templates table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dvloznov/column-analyzer/internal/templates"
)

// Config holds the connection settings. DSN format:
// "host=localhost user=postgres password=secret dbname=analyzer port=5432 sslmode=disable"
type Config struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool
}

// Open connects and tunes the pool.
func Open(cfg Config) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.LogSQL {
		level = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("Open: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("Open: pool: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// TemplateModel maps a row of transaction_templates.
type TemplateModel struct {
	ID           string                 `gorm:"column:id;primaryKey;type:varchar(64)"`
	Name         string                 `gorm:"column:name;type:varchar(255);not null"`
	BankName     string                 `gorm:"column:bank_name;type:varchar(100);index"`
	Description  string                 `gorm:"column:description;type:text"`
	Identifiers  []string               `gorm:"column:identifiers;serializer:json;type:jsonb"`
	ColumnSchema templates.ColumnSchema `gorm:"column:column_schema;serializer:json;type:jsonb"`
	IsActive     bool                   `gorm:"column:is_active;default:true;index"`
	Priority     int                    `gorm:"column:priority;default:100;index"`
	MatchCount   int64                  `gorm:"column:match_count;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "transaction_templates"
}

func (m *TemplateModel) ToTemplate() templates.Template {
	return templates.Template{
		ID:          m.ID,
		Name:        m.Name,
		BankName:    m.BankName,
		Description: m.Description,
		Identifiers: m.Identifiers,
		Schema:      m.ColumnSchema,
		IsActive:    m.IsActive,
		Priority:    m.Priority,
		MatchCount:  m.MatchCount,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func ModelFrom(t templates.Template) *TemplateModel {
	ids := t.Identifiers
	if ids == nil {
		ids = []string{}
	}
	return &TemplateModel{
		ID:           t.ID,
		Name:         t.Name,
		BankName:     t.BankName,
		Description:  t.Description,
		Identifiers:  ids,
		ColumnSchema: t.Schema,
		IsActive:     t.IsActive,
		Priority:     t.Priority,
		MatchCount:   t.MatchCount,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// TemplateRepo implements templates.Source and templates.MatchRecorder.
type TemplateRepo struct {
	db *gorm.DB
}

func NewTemplateRepo(db *gorm.DB) *TemplateRepo {
	return &TemplateRepo{db: db}
}

// AutoMigrate creates or updates transaction_templates.
func (r *TemplateRepo) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&TemplateModel{}); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	return nil
}

// ListTemplates returns every template in priority order.
func (r *TemplateRepo) ListTemplates(ctx context.Context) ([]templates.Template, error) {
	var rows []TemplateModel
	err := r.db.WithContext(ctx).
		Order("priority ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ListTemplates: %w", err)
	}
	out := make([]templates.Template, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToTemplate())
	}
	return out, nil
}

// Get returns one template by id.
func (r *TemplateRepo) Get(ctx context.Context, id string) (templates.Template, error) {
	var row TemplateModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return templates.Template{}, fmt.Errorf("Get %q: %w", id, templates.ErrNotFound)
	}
	if err != nil {
		return templates.Template{}, fmt.Errorf("Get %q: %w", id, err)
	}
	return row.ToTemplate(), nil
}

// IncrementMatchCount bumps match_count atomically in the database.
func (r *TemplateRepo) IncrementMatchCount(ctx context.Context, templateID string) error {
	res := r.db.WithContext(ctx).
		Model(&TemplateModel{}).
		Where("id = ?", templateID).
		UpdateColumn("match_count", gorm.Expr("match_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("IncrementMatchCount: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("IncrementMatchCount %q: %w", templateID, templates.ErrNotFound)
	}
	return nil
}

// UpsertTemplate inserts t or overwrites the editable columns of an existing
// row. match_count and created_at are left alone on conflict.
func (r *TemplateRepo) UpsertTemplate(ctx context.Context, t templates.Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("UpsertTemplate: %w", err)
	}
	m := ModelFrom(t)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "bank_name", "description", "identifiers",
			"column_schema", "is_active", "priority", "updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("UpsertTemplate: %w", err)
	}
	return nil
}

// Delete removes a template by id.
func (r *TemplateRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&TemplateModel{})
	if res.Error != nil {
		return fmt.Errorf("Delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("Delete %q: %w", id, templates.ErrNotFound)
	}
	return nil
}
