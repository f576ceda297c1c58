package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/questionbank-backend/internal/ingestion"
	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/repos"
	"github.com/yungbote/questionbank-backend/internal/types"
)

// RecordOutcome is the per-record result of an import run.
type RecordOutcome struct {
	RecordID   uuid.UUID          `json:"record_id"`
	AssignedID string             `json:"assigned_id"`
	Status     types.RecordStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
}

// ImportReport carries the batch after the run plus every attempted
// record's outcome. Records already imported by a previous run are not
// attempted again and do not appear in Outcomes.
type ImportReport struct {
	Batch    *types.UploadBatch `json:"batch"`
	Outcomes []RecordOutcome    `json:"outcomes"`
}

type ImportService interface {
	ImportBatch(ctx context.Context, batchID uuid.UUID, expectedVersion int) (*ImportReport, error)
}

type importService struct {
	db  *gorm.DB
	log *logger.Logger

	batchRepo  repos.UploadBatchRepo
	recordRepo repos.StagedRecordRepo
	qRepo      repos.QuestionRepo
}

func NewImportService(
	db *gorm.DB,
	baseLog *logger.Logger,
	batchRepo repos.UploadBatchRepo,
	recordRepo repos.StagedRecordRepo,
	qRepo repos.QuestionRepo,
) ImportService {
	return &importService{
		db:         db,
		log:        baseLog.With("service", "ImportService"),
		batchRepo:  batchRepo,
		recordRepo: recordRepo,
		qRepo:      qRepo,
	}
}

// ImportBatch commits approved records to the authoritative table. The
// batch-level run is deliberately non-atomic: every record gets its own
// transaction so one failure cannot roll back its siblings. Re-running is
// safe; only records not yet imported are attempted.
func (s *importService) ImportBatch(ctx context.Context, batchID uuid.UUID, expectedVersion int) (*ImportReport, error) {
	batch, err := s.beginImport(ctx, batchID, expectedVersion)
	if err != nil {
		return nil, err
	}
	version := batch.Version

	records, err := s.recordRepo.GetByBatch(ctx, nil, batchID, nil)
	if err != nil {
		return nil, err
	}

	uploadedBy := batch.UploadedBy
	var outcomes []RecordOutcome
	for i := range records {
		rec := &records[i]
		if rec.Status != types.RecordApproved && rec.Status != types.RecordImportFailed {
			continue
		}
		outcome := s.importRecord(ctx, rec, uploadedBy)
		outcomes = append(outcomes, outcome)
	}

	batch, err = s.finishImport(ctx, batchID, version)
	if err != nil {
		return nil, err
	}

	s.log.Info("Batch import finished",
		"batch_id", batchID,
		"attempted", len(outcomes),
		"status", batch.Status)
	return &ImportReport{Batch: batch, Outcomes: outcomes}, nil
}

// beginImport moves the batch to importing under the caller's version
// stamp, serializing concurrent import attempts on the same batch.
func (s *importService) beginImport(ctx context.Context, batchID uuid.UUID, expectedVersion int) (*types.UploadBatch, error) {
	var batch *types.UploadBatch
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = s.batchRepo.GetByID(ctx, tx, batchID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBatchNotFound
			}
			return err
		}
		switch batch.Status {
		case types.BatchReadyToImport, types.BatchPartiallyImported, types.BatchImported:
		default:
			return fmt.Errorf("%w: batch is %s", ErrBatchNotImportable, batch.Status)
		}
		batch.Status = types.BatchImporting
		if batch.ImportStartedAt == nil {
			batch.ImportStartedAt = timePtr(time.Now().UTC())
		}
		ok, err := s.batchRepo.UpdateVersioned(ctx, tx, batch, expectedVersion)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrencyConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// importRecord attempts one isolated insert. An identifier taken by a
// concurrently imported batch triggers exactly one re-assignment before
// the record is marked failed.
func (s *importService) importRecord(ctx context.Context, rec *types.StagedRecord, uploadedBy string) RecordOutcome {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		taken, err := s.identifierTaken(ctx, tx, rec)
		if err != nil {
			return err
		}
		if taken {
			reassigned, err := s.reassign(ctx, tx, rec)
			if err != nil {
				return err
			}
			if !reassigned {
				return fmt.Errorf("identifier %s already claimed and no replacement available", rec.AssignedID)
			}
		}
		question := &types.Question{
			QuestionID:    rec.AssignedID,
			Topic:         rec.Topic,
			Subtopic:      rec.Subtopic,
			Difficulty:    rec.Difficulty,
			Type:          rec.Type,
			Question:      rec.Question,
			Answer:        rec.Answer,
			NotesForTutor: rec.NotesForTutor,
			UploadedBy:    uploadedBy,
		}
		if err := s.qRepo.Create(ctx, tx, question); err != nil {
			return fmt.Errorf("insert %s: %w", rec.AssignedID, err)
		}
		rec.Status = types.RecordImported
		rec.ImportError = ""
		return s.recordRepo.Update(ctx, tx, rec)
	})
	if err != nil {
		s.markImportFailed(ctx, rec, err)
		return RecordOutcome{
			RecordID:   rec.ID,
			AssignedID: rec.AssignedID,
			Status:     types.RecordImportFailed,
			Error:      err.Error(),
		}
	}
	return RecordOutcome{
		RecordID:   rec.ID,
		AssignedID: rec.AssignedID,
		Status:     types.RecordImported,
	}
}

func (s *importService) identifierTaken(ctx context.Context, tx *gorm.DB, rec *types.StagedRecord) (bool, error) {
	exists, err := s.qRepo.ExistsByID(ctx, tx, rec.AssignedID)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	return s.recordRepo.AssignedIDClaimed(ctx, tx, rec.AssignedID, rec.ID)
}

// reassign claims the next free sequence for the record's base id. Bounded
// like the original assignment; returns false when nothing free was found.
func (s *importService) reassign(ctx context.Context, tx *gorm.DB, rec *types.StagedRecord) (bool, error) {
	base := ingestion.BaseID(rec.Topic, rec.Subtopic, rec.Difficulty, rec.Type)
	authMax, err := s.qRepo.MaxSequence(ctx, tx, base)
	if err != nil {
		return false, err
	}
	stagedMax, err := s.recordRepo.MaxAssignedSequence(ctx, tx, base)
	if err != nil {
		return false, err
	}
	seq := authMax + 1
	if stagedMax >= authMax {
		seq = stagedMax + 1
	}
	for attempt := 0; attempt < ingestion.MaxAssignAttempts; attempt++ {
		candidate := ingestion.FormatID(base, seq)
		taken, err := s.qRepo.ExistsByID(ctx, tx, candidate)
		if err != nil {
			return false, err
		}
		if !taken {
			claimed, err := s.recordRepo.AssignedIDClaimed(ctx, tx, candidate, rec.ID)
			if err != nil {
				return false, err
			}
			if !claimed {
				s.log.Warn("Reassigned identifier at import",
					"record_id", rec.ID, "old", rec.AssignedID, "new", candidate)
				rec.AssignedID = candidate
				return true, nil
			}
		}
		seq++
	}
	return false, nil
}

func (s *importService) markImportFailed(ctx context.Context, rec *types.StagedRecord, cause error) {
	rec.Status = types.RecordImportFailed
	rec.ImportError = cause.Error()
	if err := s.recordRepo.Update(ctx, nil, rec); err != nil {
		s.log.Error("Failed to persist import failure", "record_id", rec.ID, "error", err)
	}
}

// finishImport recomputes aggregates and settles the terminal status:
// imported when nothing failed (rejections are not failures),
// partially_imported when some records made it, failed when none did.
func (s *importService) finishImport(ctx context.Context, batchID uuid.UUID, version int) (*types.UploadBatch, error) {
	var batch *types.UploadBatch
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = s.batchRepo.GetByID(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if err := applyCounts(ctx, tx, s.recordRepo, batch); err != nil {
			return err
		}
		switch {
		case batch.CountImportFailed == 0:
			batch.Status = types.BatchImported
		case batch.CountImported > 0:
			batch.Status = types.BatchPartiallyImported
		default:
			batch.Status = types.BatchFailed
		}
		batch.ImportCompletedAt = timePtr(time.Now().UTC())
		ok, err := s.batchRepo.UpdateVersioned(ctx, tx, batch, version)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrencyConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}
