// Package model contains the entity definitions shared across packages.
package model

import "time"

// DocumentStatus enumerates the lifecycle of a document during ingestion.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Valid reports whether s is one of the four defined statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is an end state of the ingestion lifecycle.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document represents a row in the documents table. ErrorMessage is set only
// while the status is failed; ProcessedAt only once it reaches completed.
type Document struct {
	ID           string         `json:"id"`
	UserID       string         `json:"-"`
	FileName     string         `json:"fileName"`
	ObjectKey    string         `json:"-"`
	FileSize     int64          `json:"fileSize"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	ProcessedAt  *time.Time     `json:"processedAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}
