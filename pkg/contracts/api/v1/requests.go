// Package api contains the HTTP request and response contracts of the ingestion API.
// Version v1 represents the current stable API version.
package api

import (
	"time"

	"clinicledger/pkg/contracts/domain"
)

// PageRequest represents common paging parameters
type PageRequest struct {
	Limit  int `json:"limit" query:"limit" validate:"omitempty,min=1,max=200"`
	Offset int `json:"offset" query:"offset" validate:"omitempty,min=0"`
}

// ListUploadsRequest filters the upload history
type ListUploadsRequest struct {
	PageRequest
	Status string `json:"status" query:"status" validate:"omitempty,oneof=pending processing completed completed_with_errors failed deleted"`
}

// ListVersionsRequest filters the version collection
type ListVersionsRequest struct {
	PageRequest
	ClinicID string `json:"clinic_id" query:"clinic_id" validate:"omitempty,uuid"`
	Year     int    `json:"year" query:"year" validate:"omitempty,min=1900,max=2100"`
	Month    int    `json:"month" query:"month" validate:"omitempty,min=1,max=12"`
}

// UploadAcceptedResponse acknowledges an upload; the outcome is reported asynchronously
type UploadAcceptedResponse struct {
	UploadID string              `json:"upload_id"`
	Status   domain.UploadStatus `json:"status"`
	Files    []domain.UploadFile `json:"files"`
}

// UploadListResponse is a page of upload history
type UploadListResponse struct {
	Uploads []*domain.UploadHistory `json:"uploads"`
	Total   int                     `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// VersionListResponse is a page of data versions
type VersionListResponse struct {
	Versions []*domain.DataVersion `json:"versions"`
	Total    int                   `json:"total"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
}

// RollbackResponse reports a completed rollback
type RollbackResponse struct {
	domain.RollbackResult
	RolledBackAt time.Time `json:"rolled_back_at"`
}

// HealthResponse is returned by the health endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}
