package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/questionbank-backend/internal/ingestion"
	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/types"
)

// claimedStatuses are the record statuses whose assigned ids count as taken
// when allocating or re-verifying an identifier.
var claimedStatuses = []types.RecordStatus{types.RecordApproved, types.RecordImported}

type StagedRecordRepo interface {
	CreateAll(ctx context.Context, tx *gorm.DB, records []*types.StagedRecord) error
	GetByID(ctx context.Context, tx *gorm.DB, recordID uuid.UUID) (*types.StagedRecord, error)
	GetByBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, status *types.RecordStatus) ([]types.StagedRecord, error)
	GetByIDsInBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, recordIDs []uuid.UUID) ([]types.StagedRecord, error)
	Update(ctx context.Context, tx *gorm.DB, record *types.StagedRecord) error
	CountsByStatus(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (map[types.RecordStatus]int, error)
	MaxAssignedSequence(ctx context.Context, tx *gorm.DB, baseID string) (int, error)
	AssignedIDClaimed(ctx context.Context, tx *gorm.DB, assignedID string, excludeRecordID uuid.UUID) (bool, error)
}

type stagedRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStagedRecordRepo(db *gorm.DB, baseLog *logger.Logger) StagedRecordRepo {
	repoLog := baseLog.With("repo", "StagedRecordRepo")
	return &stagedRecordRepo{db: db, log: repoLog}
}

func (r *stagedRecordRepo) CreateAll(ctx context.Context, tx *gorm.DB, records []*types.StagedRecord) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(records) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&records).Error
}

func (r *stagedRecordRepo) GetByID(ctx context.Context, tx *gorm.DB, recordID uuid.UUID) (*types.StagedRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rec types.StagedRecord
	if err := transaction.WithContext(ctx).
		Where("id = ?", recordID).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *stagedRecordRepo) GetByBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, status *types.RecordStatus) ([]types.StagedRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	query := transaction.WithContext(ctx).Where("batch_id = ?", batchID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var records []types.StagedRecord
	if err := query.Order("parse_order ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *stagedRecordRepo) GetByIDsInBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, recordIDs []uuid.UUID) ([]types.StagedRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var records []types.StagedRecord
	if len(recordIDs) == 0 {
		return records, nil
	}
	if err := transaction.WithContext(ctx).
		Where("batch_id = ? AND id IN ?", batchID, recordIDs).
		Order("parse_order ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *stagedRecordRepo) Update(ctx context.Context, tx *gorm.DB, record *types.StagedRecord) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Save(record).Error
}

func (r *stagedRecordRepo) CountsByStatus(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (map[types.RecordStatus]int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status types.RecordStatus
		N      int
	}
	if err := transaction.WithContext(ctx).
		Model(&types.StagedRecord{}).
		Select("status, count(*) AS n").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[types.RecordStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

// MaxAssignedSequence mirrors QuestionRepo.MaxSequence for the staging
// namespace, considering only records whose id is actually claimed.
func (r *stagedRecordRepo) MaxAssignedSequence(ctx context.Context, tx *gorm.DB, baseID string) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []string
	if err := transaction.WithContext(ctx).
		Model(&types.StagedRecord{}).
		Where("assigned_id LIKE ? AND status IN ?", baseID+"-%", claimedStatuses).
		Pluck("assigned_id", &ids).Error; err != nil {
		return 0, err
	}
	max := 0
	for _, id := range ids {
		if seq := ingestion.SequenceOf(id); seq > max {
			max = seq
		}
	}
	return max, nil
}

func (r *stagedRecordRepo) AssignedIDClaimed(ctx context.Context, tx *gorm.DB, assignedID string, excludeRecordID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.StagedRecord{}).
		Where("assigned_id = ? AND status IN ? AND id <> ?", assignedID, claimedStatuses, excludeRecordID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
