package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/repos"
	"github.com/yungbote/questionbank-backend/internal/types"
)

type ReviewService interface {
	// Review applies approvals and rejections in one atomic step and
	// recomputes the batch aggregates under the caller's version stamp.
	Review(ctx context.Context, batchID uuid.UUID, approveIDs, rejectIDs []uuid.UUID, expectedVersion int, notes string) (*BatchDetail, error)
	ResolveDuplicate(ctx context.Context, dupID uuid.UUID, resolution types.DuplicateResolution, expectedVersion int, notes string) (*BatchDetail, error)
}

type reviewService struct {
	db  *gorm.DB
	log *logger.Logger

	batchRepo  repos.UploadBatchRepo
	recordRepo repos.StagedRecordRepo
	dupRepo    repos.StagingDuplicateRepo
	staging    StagingService
}

func NewReviewService(
	db *gorm.DB,
	baseLog *logger.Logger,
	batchRepo repos.UploadBatchRepo,
	recordRepo repos.StagedRecordRepo,
	dupRepo repos.StagingDuplicateRepo,
	staging StagingService,
) ReviewService {
	return &reviewService{
		db:         db,
		log:        baseLog.With("service", "ReviewService"),
		batchRepo:  batchRepo,
		recordRepo: recordRepo,
		dupRepo:    dupRepo,
		staging:    staging,
	}
}

func (s *reviewService) Review(ctx context.Context, batchID uuid.UUID, approveIDs, rejectIDs []uuid.UUID, expectedVersion int, notes string) (*BatchDetail, error) {
	reviewer := callerEmail(ctx)
	now := time.Now().UTC()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		batch, err := s.batchRepo.GetByID(ctx, tx, batchID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBatchNotFound
			}
			return err
		}
		// A stale stamp is reported as a conflict even when the state
		// check would also fail, so callers know to refetch.
		if batch.Version != expectedVersion {
			return ErrConcurrencyConflict
		}
		if batch.Status != types.BatchValidated && batch.Status != types.BatchReviewing {
			return ErrBatchNotReviewable
		}

		requested := append(append([]uuid.UUID{}, approveIDs...), rejectIDs...)
		records, err := s.recordRepo.GetByIDsInBatch(ctx, tx, batchID, requested)
		if err != nil {
			return err
		}
		if len(records) != len(requested) {
			return ErrRecordNotFound
		}
		byID := make(map[uuid.UUID]*types.StagedRecord, len(records))
		for i := range records {
			byID[records[i].ID] = &records[i]
		}

		for _, id := range approveIDs {
			rec := byID[id]
			if rec.Status != types.RecordPending {
				return fmt.Errorf("%w: record %s is %s, approve requires pending", ErrRecordNotReviewable, id, rec.Status)
			}
			rec.Status = types.RecordApproved
			markReviewed(rec, reviewer, now, notes)
			if err := s.recordRepo.Update(ctx, tx, rec); err != nil {
				return err
			}
		}

		for _, id := range rejectIDs {
			rec := byID[id]
			switch rec.Status {
			case types.RecordPending, types.RecordValidationFailed:
			case types.RecordDuplicateFlagged:
				// Rejecting a flagged record is an implicit discard-new.
				dup, err := s.dupRepo.GetByRecordID(ctx, tx, id)
				if err != nil {
					return err
				}
				dup.Resolution = types.ResolutionDiscardNew
				dup.ResolvedBy = reviewer
				dup.ResolvedAt = timePtr(now)
				dup.ResolutionNotes = notes
				if err := s.dupRepo.Update(ctx, tx, dup); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%w: record %s is %s", ErrRecordNotReviewable, id, rec.Status)
			}
			rec.Status = types.RecordRejected
			markReviewed(rec, reviewer, now, notes)
			if err := s.recordRepo.Update(ctx, tx, rec); err != nil {
				return err
			}
		}

		return s.finishReviewMutation(ctx, tx, batch, expectedVersion, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Batch reviewed",
		"batch_id", batchID,
		"approved", len(approveIDs),
		"rejected", len(rejectIDs),
		"reviewer", reviewer)
	return s.staging.GetBatch(ctx, batchID)
}

func (s *reviewService) ResolveDuplicate(ctx context.Context, dupID uuid.UUID, resolution types.DuplicateResolution, expectedVersion int, notes string) (*BatchDetail, error) {
	if !resolution.Valid() || resolution == types.ResolutionUnresolved {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}
	reviewer := callerEmail(ctx)
	now := time.Now().UTC()

	var batchID uuid.UUID
	err := s.db.Transaction(func(tx *gorm.DB) error {
		dup, err := s.dupRepo.GetByID(ctx, tx, dupID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDuplicateNotFound
			}
			return err
		}
		rec, err := s.recordRepo.GetByID(ctx, tx, dup.StagedRecordID)
		if err != nil {
			return err
		}
		batch, err := s.batchRepo.GetByID(ctx, tx, rec.BatchID)
		if err != nil {
			return err
		}
		batchID = batch.ID
		if batch.Version != expectedVersion {
			return ErrConcurrencyConflict
		}
		if batch.Status != types.BatchValidated && batch.Status != types.BatchReviewing {
			return ErrBatchNotReviewable
		}
		if rec.Status != types.RecordDuplicateFlagged {
			return fmt.Errorf("%w: record %s is %s", ErrRecordNotReviewable, rec.ID, rec.Status)
		}

		dup.Resolution = resolution
		dup.ResolvedBy = reviewer
		dup.ResolvedAt = timePtr(now)
		dup.ResolutionNotes = notes
		if err := s.dupRepo.Update(ctx, tx, dup); err != nil {
			return err
		}

		switch resolution {
		case types.ResolutionKeepNew, types.ResolutionKeepBoth:
			rec.Status = types.RecordApproved
		case types.ResolutionKeepExisting, types.ResolutionDiscardNew:
			rec.Status = types.RecordRejected
		}
		markReviewed(rec, reviewer, now, notes)
		if err := s.recordRepo.Update(ctx, tx, rec); err != nil {
			return err
		}

		return s.finishReviewMutation(ctx, tx, batch, expectedVersion, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Duplicate resolved",
		"duplicate_id", dupID,
		"resolution", resolution,
		"reviewer", reviewer)
	return s.staging.GetBatch(ctx, batchID)
}

// finishReviewMutation recomputes aggregates, advances the batch state
// machine and commits under the version stamp, all inside the caller's
// transaction so batch counters never observably drift from the records.
func (s *reviewService) finishReviewMutation(ctx context.Context, tx *gorm.DB, batch *types.UploadBatch, expectedVersion int, now time.Time) error {
	if err := applyCounts(ctx, tx, s.recordRepo, batch); err != nil {
		return err
	}
	if batch.Status == types.BatchValidated {
		batch.Status = types.BatchReviewing
		batch.ReviewStartedAt = timePtr(now)
	}
	if batch.CountPending == 0 && batch.CountDuplicateFlagged == 0 {
		batch.Status = types.BatchReadyToImport
	}
	ok, err := s.batchRepo.UpdateVersioned(ctx, tx, batch, expectedVersion)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConcurrencyConflict
	}
	return nil
}

func markReviewed(rec *types.StagedRecord, reviewer string, now time.Time, notes string) {
	rec.ReviewedBy = reviewer
	rec.ReviewedAt = timePtr(now)
	if notes != "" {
		rec.ReviewNotes = notes
	}
}
