package domain

import (
	"fmt"
	"time"
)

// Clinic is one business location. Clinics are never deleted, only deactivated.
type Clinic struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name" validate:"required"`
	Location  string    `json:"location" db:"location"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RecordKey identifies the single live financial record of a clinic month.
type RecordKey struct {
	ClinicID string `json:"clinic_id"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
}

// String renders the key as "<clinic>:<yyyy>-<mm>".
func (k RecordKey) String() string {
	return fmt.Sprintf("%s:%04d-%02d", k.ClinicID, k.Year, k.Month)
}

// FinancialRecord is the live profit-and-loss statement of one clinic month.
// Every write replaces the full row.
type FinancialRecord struct {
	ID        string    `json:"id" db:"id"`
	ClinicID  string    `json:"clinic_id" db:"clinic_id"`
	Year      int       `json:"year" db:"year"`
	Month     int       `json:"month" db:"month"`
	LineItems LineItems `json:"line_items" db:"line_items"`
	Totals    Totals    `json:"totals"`
	UploadID  *string   `json:"upload_id,omitempty" db:"upload_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Key returns the record's uniqueness key.
func (r *FinancialRecord) Key() RecordKey {
	return RecordKey{ClinicID: r.ClinicID, Year: r.Year, Month: r.Month}
}

// VersionReason records which overwrite a snapshot preceded.
type VersionReason string

const (
	VersionReasonIngestion VersionReason = "ingestion"
	VersionReasonRollback  VersionReason = "rollback"
)

// DataVersion is an immutable copy of a financial record taken right before it was overwritten.
type DataVersion struct {
	ID                string        `json:"id" db:"id"`
	ClinicID          string        `json:"clinic_id" db:"clinic_id"`
	Year              int           `json:"year" db:"year"`
	Month             int           `json:"month" db:"month"`
	Version           int           `json:"version" db:"version"`
	PreviousVersionID *string       `json:"previous_version_id,omitempty" db:"previous_version_id"`
	UploadID          *string       `json:"upload_id,omitempty" db:"upload_id"`
	Reason            VersionReason `json:"reason" db:"reason"`
	LineItems         LineItems     `json:"line_items" db:"line_items"`
	Totals            Totals        `json:"totals"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
}

// Key returns the key of the record this version belongs to.
func (v *DataVersion) Key() RecordKey {
	return RecordKey{ClinicID: v.ClinicID, Year: v.Year, Month: v.Month}
}

// RollbackResult describes a completed rollback.
type RollbackResult struct {
	ClinicID   string `json:"clinic_id"`
	ClinicName string `json:"clinic"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Version    int    `json:"version"`
}
