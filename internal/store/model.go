// Package store persists datasets and their header metadata with GORM and
// evaluates lowered query filters against them.
package store

import (
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Dataset statuses. A dataset starts as submitted and moves forward through
// validation and processing until it is published, or is canceled.
const (
	StatusSubmitted = "submitted"
	StatusValidated = "validated"
	StatusProcessed = "processed"
	StatusPublished = "published"
	StatusCanceled  = "canceled"
)

var validStatuses = map[string]bool{
	StatusSubmitted: true,
	StatusValidated: true,
	StatusProcessed: true,
	StatusPublished: true,
	StatusCanceled:  true,
}

// IsValidStatus reports whether status is a known dataset status.
func IsValidStatus(status string) bool {
	return validStatuses[status]
}

// Dataset is a submitted data file. Header fields other than the columns
// below are kept in Metadata.
type Dataset struct {
	ID           string            `json:"id" gorm:"primaryKey;size:36"`
	SubmissionID *string           `json:"submission_id,omitempty" gorm:"index"`
	Name         string            `json:"name" gorm:"index;not null"`
	Path         string            `json:"path"`
	Status       string            `json:"status" gorm:"index;not null"`
	Group        string            `json:"group,omitempty" gorm:"column:group_name;index"`
	SearchText   string            `json:"-" gorm:"column:search_text"`
	CreatedAt    time.Time         `json:"created_at"`
	Metadata     map[string]string `json:"metadata,omitempty" gorm:"-"`
	Rows         []DatasetMetadata `json:"-" gorm:"foreignKey:DatasetID"`
}

// TableName pins the table name used by filter rendering.
func (Dataset) TableName() string { return "datasets" }

// DatasetMetadata is one header field of a dataset.
type DatasetMetadata struct {
	ID        uint   `gorm:"primaryKey"`
	DatasetID string `gorm:"size:36;index;not null"`
	Key       string `gorm:"index;not null"`
	Value     string
}

func (DatasetMetadata) TableName() string { return "dataset_metadata" }

// BeforeCreate derives the metadata rows and the search text from the
// exported fields.
func (d *Dataset) BeforeCreate(_ *gorm.DB) error {
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d.Rows = d.Rows[:0]
	words := []string{d.Name, d.Path}
	for _, k := range keys {
		d.Rows = append(d.Rows, DatasetMetadata{DatasetID: d.ID, Key: k, Value: d.Metadata[k]})
		words = append(words, d.Metadata[k])
	}
	d.SearchText = strings.Join(words, " ")
	return nil
}

// AfterFind rebuilds Metadata from preloaded rows.
func (d *Dataset) AfterFind(_ *gorm.DB) error {
	if len(d.Rows) == 0 {
		return nil
	}
	d.Metadata = make(map[string]string, len(d.Rows))
	for _, row := range d.Rows {
		d.Metadata[row.Key] = row.Value
	}
	return nil
}
