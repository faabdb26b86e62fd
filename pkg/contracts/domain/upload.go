package domain

import "time"

// UploadStatus is the lifecycle state of an upload batch.
type UploadStatus string

const (
	UploadStatusPending             UploadStatus = "pending"
	UploadStatusProcessing          UploadStatus = "processing"
	UploadStatusCompleted           UploadStatus = "completed"
	UploadStatusCompletedWithErrors UploadStatus = "completed_with_errors"
	UploadStatusFailed              UploadStatus = "failed"
	UploadStatusDeleted             UploadStatus = "deleted"
)

// IsTerminal reports whether the ingestion run for this status has finished.
func (s UploadStatus) IsTerminal() bool {
	switch s {
	case UploadStatusCompleted, UploadStatusCompletedWithErrors, UploadStatusFailed, UploadStatusDeleted:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s UploadStatus) IsValid() bool {
	switch s {
	case UploadStatusPending, UploadStatusProcessing, UploadStatusCompleted,
		UploadStatusCompletedWithErrors, UploadStatusFailed, UploadStatusDeleted:
		return true
	}
	return false
}

// UploadErrorKind classifies an entry of the upload error list.
type UploadErrorKind string

const (
	UploadErrorFormat      UploadErrorKind = "format"
	UploadErrorValidation  UploadErrorKind = "validation"
	UploadErrorPersistence UploadErrorKind = "persistence"
	UploadErrorFatal       UploadErrorKind = "fatal"
)

// UploadFile is the metadata of one file in a batch.
type UploadFile struct {
	Name        string `json:"name"`
	StorageKey  string `json:"storage_key"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type,omitempty"`
}

// UploadError is one file- or record-level failure.
type UploadError struct {
	Kind       UploadErrorKind `json:"kind"`
	File       string          `json:"file,omitempty"`
	ClinicName string          `json:"clinic_name,omitempty"`
	Year       int             `json:"year,omitempty"`
	Month      int             `json:"month,omitempty"`
	Message    string          `json:"message"`
}

// UploadHistory is the durable record of one upload batch. It doubles as the job
// record the worker pool executes.
type UploadHistory struct {
	ID               string        `json:"id" db:"id"`
	UploadedBy       string        `json:"uploaded_by" db:"uploaded_by"`
	Files            []UploadFile  `json:"files" db:"files"`
	Status           UploadStatus  `json:"status" db:"status"`
	Progress         int           `json:"progress" db:"progress"`
	FilesProcessed   int           `json:"files_processed" db:"files_processed"`
	RecordsProcessed int           `json:"records_processed" db:"records_processed"`
	RecordsFailed    int           `json:"records_failed" db:"records_failed"`
	Errors           []UploadError `json:"errors" db:"errors"`
	Warnings         []string      `json:"warnings" db:"warnings"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	StartedAt        *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// HasErrors reports whether any file- or record-level error was recorded.
func (u *UploadHistory) HasErrors() bool {
	return len(u.Errors) > 0
}
