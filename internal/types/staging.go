package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type BatchStatus string

const (
	BatchUploaded          BatchStatus = "uploaded"
	BatchValidating        BatchStatus = "validating"
	BatchValidated         BatchStatus = "validated"
	BatchReviewing         BatchStatus = "reviewing"
	BatchReadyToImport     BatchStatus = "ready_to_import"
	BatchImporting         BatchStatus = "importing"
	BatchImported          BatchStatus = "imported"
	BatchPartiallyImported BatchStatus = "partially_imported"
	BatchFailed            BatchStatus = "failed"
)

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchUploaded, BatchValidating, BatchValidated, BatchReviewing,
		BatchReadyToImport, BatchImporting, BatchImported,
		BatchPartiallyImported, BatchFailed:
		return true
	}
	return false
}

// Terminal reports whether the batch lifecycle ends in this status.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchImported, BatchPartiallyImported, BatchFailed:
		return true
	}
	return false
}

type RecordStatus string

const (
	RecordPending          RecordStatus = "pending"
	RecordValidationFailed RecordStatus = "validation_failed"
	RecordDuplicateFlagged RecordStatus = "duplicate_flagged"
	RecordApproved         RecordStatus = "approved"
	RecordRejected         RecordStatus = "rejected"
	RecordImported         RecordStatus = "imported"
	RecordImportFailed     RecordStatus = "import_failed"
)

func (s RecordStatus) Valid() bool {
	switch s {
	case RecordPending, RecordValidationFailed, RecordDuplicateFlagged,
		RecordApproved, RecordRejected, RecordImported, RecordImportFailed:
		return true
	}
	return false
}

type MatchKind string

const (
	MatchExistingRecord   MatchKind = "existing_record"
	MatchInBatchCandidate MatchKind = "in_batch_candidate"
)

type DuplicateResolution string

const (
	ResolutionUnresolved   DuplicateResolution = "unresolved"
	ResolutionKeepNew      DuplicateResolution = "keep_new"
	ResolutionKeepExisting DuplicateResolution = "keep_existing"
	ResolutionKeepBoth     DuplicateResolution = "keep_both"
	ResolutionDiscardNew   DuplicateResolution = "discard_new"
)

func (r DuplicateResolution) Valid() bool {
	switch r {
	case ResolutionUnresolved, ResolutionKeepNew, ResolutionKeepExisting,
		ResolutionKeepBoth, ResolutionDiscardNew:
		return true
	}
	return false
}

// UploadBatch tracks one uploaded document through the staging lifecycle.
// Counts are derived from staged_record statuses and are only ever written
// by recomputation; Version is the optimistic stamp every mutation must
// present.
type UploadBatch struct {
	ID         uuid.UUID   `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SourceName string      `gorm:"column:source_name;not null" json:"source_name"`
	UploadedBy string      `gorm:"column:uploaded_by;not null" json:"uploaded_by"`
	Status     BatchStatus `gorm:"column:status;not null;index" json:"status"`
	Version    int         `gorm:"column:version;not null;default:1" json:"version"`

	ParseErrors datatypes.JSON `gorm:"column:parse_errors;type:jsonb" json:"parse_errors,omitempty"`

	TotalRecords          int `gorm:"column:total_records;not null;default:0" json:"total_records"`
	CountPending          int `gorm:"column:count_pending;not null;default:0" json:"count_pending"`
	CountValidationFailed int `gorm:"column:count_validation_failed;not null;default:0" json:"count_validation_failed"`
	CountDuplicateFlagged int `gorm:"column:count_duplicate_flagged;not null;default:0" json:"count_duplicate_flagged"`
	CountApproved         int `gorm:"column:count_approved;not null;default:0" json:"count_approved"`
	CountRejected         int `gorm:"column:count_rejected;not null;default:0" json:"count_rejected"`
	CountImported         int `gorm:"column:count_imported;not null;default:0" json:"count_imported"`
	CountImportFailed     int `gorm:"column:count_import_failed;not null;default:0" json:"count_import_failed"`

	CreatedAt         time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null;default:now()" json:"updated_at"`
	ReviewStartedAt   *time.Time `gorm:"column:review_started_at" json:"review_started_at,omitempty"`
	ImportStartedAt   *time.Time `gorm:"column:import_started_at" json:"import_started_at,omitempty"`
	ImportCompletedAt *time.Time `gorm:"column:import_completed_at" json:"import_completed_at,omitempty"`
}

func (UploadBatch) TableName() string { return "upload_batch" }

// StagedRecord is one parsed candidate held for review. Created exactly once
// per candidate at batch creation and never recreated; only Status, the
// review audit fields and ImportError change afterwards.
type StagedRecord struct {
	ID      uuid.UUID    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	BatchID uuid.UUID    `gorm:"type:uuid;not null;index" json:"batch_id"`
	Batch   *UploadBatch `gorm:"constraint:OnDelete:CASCADE;foreignKey:BatchID;references:ID" json:"-"`

	ParseOrder int `gorm:"column:parse_order;not null" json:"parse_order"`
	SourceLine int `gorm:"column:source_line;not null" json:"source_line"`

	Topic         string `gorm:"column:topic;not null" json:"topic"`
	Subtopic      string `gorm:"column:subtopic;not null" json:"subtopic"`
	Difficulty    string `gorm:"column:difficulty;not null" json:"difficulty"`
	Type          string `gorm:"column:type;not null" json:"type"`
	Question      string `gorm:"column:question;not null" json:"question"`
	Answer        string `gorm:"column:answer;not null" json:"answer"`
	NotesForTutor string `gorm:"column:notes_for_tutor" json:"notes_for_tutor,omitempty"`

	AssignedID       string         `gorm:"column:assigned_id;index" json:"assigned_id,omitempty"`
	Status           RecordStatus   `gorm:"column:status;not null;index" json:"status"`
	ValidationErrors datatypes.JSON `gorm:"column:validation_errors;type:jsonb" json:"validation_errors,omitempty"`
	ImportError      string         `gorm:"column:import_error" json:"import_error,omitempty"`

	ReviewedBy  string     `gorm:"column:reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNotes string     `gorm:"column:review_notes" json:"review_notes,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (StagedRecord) TableName() string { return "staged_record" }

// StagingDuplicate records the single best qualifying match for a flagged
// record. MatchKind tags which namespace MatchedRef points into; resolution
// state lives here and is never mirrored onto the matched target.
type StagingDuplicate struct {
	ID             uuid.UUID     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	StagedRecordID uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex" json:"staged_record_id"`
	StagedRecord   *StagedRecord `gorm:"constraint:OnDelete:CASCADE;foreignKey:StagedRecordID;references:ID" json:"-"`

	MatchKind       MatchKind           `gorm:"column:match_kind;not null" json:"match_kind"`
	MatchedRef      string              `gorm:"column:matched_ref;not null" json:"matched_ref"`
	SimilarityScore float64             `gorm:"column:similarity_score;not null" json:"similarity_score"`
	Resolution      DuplicateResolution `gorm:"column:resolution;not null;default:'unresolved'" json:"resolution"`
	ResolutionNotes string              `gorm:"column:resolution_notes" json:"resolution_notes,omitempty"`
	ResolvedBy      string              `gorm:"column:resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time          `gorm:"column:resolved_at" json:"resolved_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (StagingDuplicate) TableName() string { return "staging_duplicate" }

// FieldError is one validation failure on a staged record, stored in order
// inside the record's validation_errors jsonb column.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ParseError is one malformed block in the source document, stored on the
// batch so reviewers can see what was dropped and where.
type ParseError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}
