package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nlstn/go-ocdb/internal/filter"
)

var (
	// ErrNotFound is returned when no dataset has the requested id.
	ErrNotFound = errors.New("store: dataset not found")

	// ErrInvalidStatus is returned for an unknown dataset status.
	ErrInvalidStatus = errors.New("store: invalid dataset status")

	// ErrUnsupportedDriver is returned by Open for an unknown driver name.
	ErrUnsupportedDriver = errors.New("store: unsupported database driver")
)

// Schema describes the dataset tables for filter rendering.
var Schema = &filter.SQLSchema{
	Table:               Dataset{}.TableName(),
	KeyColumn:           "id",
	Columns:             map[string]string{"group": "group_name"},
	TextColumn:          filter.SearchTextField,
	MetadataTable:       DatasetMetadata{}.TableName(),
	MetadataForeignKey:  "dataset_id",
	MetadataKeyColumn:   "key",
	MetadataValueColumn: "value",
}

// Open connects to a sqlite or postgres database.
func Open(driver, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	switch driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
}

// FindOptions selects a page of datasets. A nil Filter matches all
// datasets; a Count of zero or less returns all matches from Offset on.
type FindOptions struct {
	Filter filter.Filter
	Offset int
	Count  int
}

// Store reads and writes datasets.
type Store struct {
	db      *gorm.DB
	dialect string
}

// New returns a Store backed by db.
func New(db *gorm.DB) *Store {
	return &Store{db: db, dialect: db.Dialector.Name()}
}

// Migrate creates or updates the dataset tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Dataset{}, &DatasetMetadata{})
}

// Insert stores d. An empty id is replaced by a random UUID and an empty
// status by StatusSubmitted.
func (s *Store) Insert(ctx context.Context, d *Dataset) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = StatusSubmitted
	}
	if !IsValidStatus(d.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, d.Status)
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("store: insert dataset: %w", err)
	}
	return nil
}

// Get returns the dataset with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Dataset, error) {
	var d Dataset
	err := s.db.WithContext(ctx).Preload("Rows").First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get dataset: %w", err)
	}
	return &d, nil
}

// UpdateStatus changes the status of a dataset.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	if !IsValidStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	res := s.db.WithContext(ctx).Model(&Dataset{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("store: update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a dataset and its metadata.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("dataset_id = ?", id).Delete(&DatasetMetadata{}).Error; err != nil {
			return fmt.Errorf("store: delete metadata: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&Dataset{})
		if res.Error != nil {
			return fmt.Errorf("store: delete dataset: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Find returns one page of the datasets matching opts.Filter, ordered by
// creation time, and the total number of matches.
func (s *Store) Find(ctx context.Context, opts FindOptions) ([]Dataset, int64, error) {
	where := s.whereScope(opts.Filter)

	var total int64
	if err := s.db.WithContext(ctx).Model(&Dataset{}).Scopes(where).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("store: count datasets: %w", err)
	}

	q := s.db.WithContext(ctx).Scopes(where).Preload("Rows").Order("created_at, id")
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Count > 0 {
		q = q.Limit(opts.Count)
	}
	datasets := []Dataset{}
	if err := q.Find(&datasets).Error; err != nil {
		return nil, 0, fmt.Errorf("store: find datasets: %w", err)
	}
	return datasets, total, nil
}

// Where renders f for the store's database. It is exposed for diagnostics.
func (s *Store) Where(f filter.Filter) (string, []interface{}) {
	return filter.ToSQL(f, Schema, s.dialect)
}

func (s *Store) whereScope(f filter.Filter) func(*gorm.DB) *gorm.DB {
	cond, args := s.Where(f)
	return func(db *gorm.DB) *gorm.DB {
		if cond == "" {
			return db
		}
		return db.Where(cond, args...)
	}
}
