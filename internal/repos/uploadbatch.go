package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/types"
)

type UploadBatchRepo interface {
	Create(ctx context.Context, tx *gorm.DB, batch *types.UploadBatch) error
	GetByID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (*types.UploadBatch, error)
	List(ctx context.Context, tx *gorm.DB, status *types.BatchStatus, page, pageSize int) ([]types.UploadBatch, int64, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.BatchStatus]int64, error)
	// UpdateVersioned persists batch only if the stored version still equals
	// expectedVersion, bumping version by one. Returns false when the stamp
	// was stale and nothing was written.
	UpdateVersioned(ctx context.Context, tx *gorm.DB, batch *types.UploadBatch, expectedVersion int) (bool, error)
}

type uploadBatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUploadBatchRepo(db *gorm.DB, baseLog *logger.Logger) UploadBatchRepo {
	repoLog := baseLog.With("repo", "UploadBatchRepo")
	return &uploadBatchRepo{db: db, log: repoLog}
}

func (r *uploadBatchRepo) Create(ctx context.Context, tx *gorm.DB, batch *types.UploadBatch) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(batch).Error
}

func (r *uploadBatchRepo) GetByID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (*types.UploadBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var batch types.UploadBatch
	if err := transaction.WithContext(ctx).
		Where("id = ?", batchID).
		First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *uploadBatchRepo) List(ctx context.Context, tx *gorm.DB, status *types.BatchStatus, page, pageSize int) ([]types.UploadBatch, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	query := transaction.WithContext(ctx).Model(&types.UploadBatch{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	var batches []types.UploadBatch
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&batches).Error; err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

func (r *uploadBatchRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.BatchStatus]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status types.BatchStatus
		N      int64
	}
	if err := transaction.WithContext(ctx).
		Model(&types.UploadBatch{}).
		Select("status, count(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[types.BatchStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

func (r *uploadBatchRepo) UpdateVersioned(ctx context.Context, tx *gorm.DB, batch *types.UploadBatch, expectedVersion int) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	updates := map[string]interface{}{
		"status":                  batch.Status,
		"version":                 expectedVersion + 1,
		"parse_errors":            batch.ParseErrors,
		"total_records":           batch.TotalRecords,
		"count_pending":           batch.CountPending,
		"count_validation_failed": batch.CountValidationFailed,
		"count_duplicate_flagged": batch.CountDuplicateFlagged,
		"count_approved":          batch.CountApproved,
		"count_rejected":          batch.CountRejected,
		"count_imported":          batch.CountImported,
		"count_import_failed":     batch.CountImportFailed,
		"review_started_at":       batch.ReviewStartedAt,
		"import_started_at":       batch.ImportStartedAt,
		"import_completed_at":     batch.ImportCompletedAt,
	}
	res := transaction.WithContext(ctx).
		Model(&types.UploadBatch{}).
		Where("id = ? AND version = ?", batch.ID, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	batch.Version = expectedVersion + 1
	return true, nil
}
