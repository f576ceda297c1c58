package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/types"
)

type StagingDuplicateRepo interface {
	Create(ctx context.Context, tx *gorm.DB, dup *types.StagingDuplicate) error
	GetByID(ctx context.Context, tx *gorm.DB, dupID uuid.UUID) (*types.StagingDuplicate, error)
	GetByRecordID(ctx context.Context, tx *gorm.DB, recordID uuid.UUID) (*types.StagingDuplicate, error)
	GetByRecordIDs(ctx context.Context, tx *gorm.DB, recordIDs []uuid.UUID) ([]types.StagingDuplicate, error)
	Update(ctx context.Context, tx *gorm.DB, dup *types.StagingDuplicate) error
}

type stagingDuplicateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStagingDuplicateRepo(db *gorm.DB, baseLog *logger.Logger) StagingDuplicateRepo {
	repoLog := baseLog.With("repo", "StagingDuplicateRepo")
	return &stagingDuplicateRepo{db: db, log: repoLog}
}

func (r *stagingDuplicateRepo) Create(ctx context.Context, tx *gorm.DB, dup *types.StagingDuplicate) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(dup).Error
}

func (r *stagingDuplicateRepo) GetByID(ctx context.Context, tx *gorm.DB, dupID uuid.UUID) (*types.StagingDuplicate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var dup types.StagingDuplicate
	if err := transaction.WithContext(ctx).
		Where("id = ?", dupID).
		First(&dup).Error; err != nil {
		return nil, err
	}
	return &dup, nil
}

func (r *stagingDuplicateRepo) GetByRecordID(ctx context.Context, tx *gorm.DB, recordID uuid.UUID) (*types.StagingDuplicate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var dup types.StagingDuplicate
	if err := transaction.WithContext(ctx).
		Where("staged_record_id = ?", recordID).
		First(&dup).Error; err != nil {
		return nil, err
	}
	return &dup, nil
}

func (r *stagingDuplicateRepo) GetByRecordIDs(ctx context.Context, tx *gorm.DB, recordIDs []uuid.UUID) ([]types.StagingDuplicate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var dups []types.StagingDuplicate
	if len(recordIDs) == 0 {
		return dups, nil
	}
	if err := transaction.WithContext(ctx).
		Where("staged_record_id IN ?", recordIDs).
		Find(&dups).Error; err != nil {
		return nil, err
	}
	return dups, nil
}

func (r *stagingDuplicateRepo) Update(ctx context.Context, tx *gorm.DB, dup *types.StagingDuplicate) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Save(dup).Error
}
