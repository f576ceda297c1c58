package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/questionbank-backend/internal/ingestion"
	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/repos"
	"github.com/yungbote/questionbank-backend/internal/requestdata"
	"github.com/yungbote/questionbank-backend/internal/types"
)

// BatchDetail is the full view of one batch: the batch row, its records in
// parse order, and any duplicate flags keyed off those records.
type BatchDetail struct {
	Batch      *types.UploadBatch       `json:"batch"`
	Records    []types.StagedRecord     `json:"records"`
	Duplicates []types.StagingDuplicate `json:"duplicates"`
}

// BatchList is one page of batches plus corpus-wide status aggregates.
type BatchList struct {
	Batches      []types.UploadBatch         `json:"batches"`
	Total        int64                       `json:"total"`
	Page         int                         `json:"page"`
	PageSize     int                         `json:"page_size"`
	StatusCounts map[types.BatchStatus]int64 `json:"status_counts"`
}

// CandidateReport is the dry-run view of one parsed candidate.
type CandidateReport struct {
	Line             int                `json:"line"`
	Topic            string             `json:"topic"`
	Subtopic         string             `json:"subtopic"`
	Difficulty       string             `json:"difficulty"`
	Type             string             `json:"type"`
	Question         string             `json:"question"`
	ValidationErrors []types.FieldError `json:"validation_errors,omitempty"`
}

// DocumentReport is what a dry-run validation returns: everything staging
// would produce, with nothing written.
type DocumentReport struct {
	Candidates  []CandidateReport  `json:"candidates"`
	ParseErrors []types.ParseError `json:"parse_errors"`
	ValidCount  int                `json:"valid_count"`
}

type StagingService interface {
	CreateBatch(ctx context.Context, sourceName, document string) (*BatchDetail, error)
	ValidateDocument(ctx context.Context, document string) (*DocumentReport, error)
	GetBatch(ctx context.Context, batchID uuid.UUID) (*BatchDetail, error)
	ListBatches(ctx context.Context, statusFilter string, page, pageSize int) (*BatchList, error)
	CancelBatch(ctx context.Context, batchID uuid.UUID, expectedVersion int) (*types.UploadBatch, error)
}

type stagingService struct {
	db        *gorm.DB
	log       *logger.Logger
	taxonomy  ingestion.Taxonomy
	threshold float64

	batchRepo  repos.UploadBatchRepo
	recordRepo repos.StagedRecordRepo
	dupRepo    repos.StagingDuplicateRepo
	qRepo      repos.QuestionRepo
}

func NewStagingService(
	db *gorm.DB,
	baseLog *logger.Logger,
	threshold float64,
	batchRepo repos.UploadBatchRepo,
	recordRepo repos.StagedRecordRepo,
	dupRepo repos.StagingDuplicateRepo,
	qRepo repos.QuestionRepo,
) StagingService {
	return &stagingService{
		db:         db,
		log:        baseLog.With("service", "StagingService"),
		taxonomy:   ingestion.DefaultTaxonomy(),
		threshold:  threshold,
		batchRepo:  batchRepo,
		recordRepo: recordRepo,
		dupRepo:    dupRepo,
		qRepo:      qRepo,
	}
}

// CreateBatch runs the whole intake pipeline in one transaction: parse,
// validate, assign identifiers, detect duplicates, stage. The batch comes
// back validated (or failed when the document yields no candidates).
func (s *stagingService) CreateBatch(ctx context.Context, sourceName, document string) (*BatchDetail, error) {
	if strings.TrimSpace(document) == "" {
		return nil, ErrEmptyDocument
	}
	uploadedBy := callerEmail(ctx)

	candidates, parseErrs := ingestion.Parse(document)
	parseErrsJSON, err := json.Marshal(parseErrs)
	if err != nil {
		return nil, fmt.Errorf("marshal parse errors: %w", err)
	}

	var detail *BatchDetail
	err = s.db.Transaction(func(tx *gorm.DB) error {
		batch := &types.UploadBatch{
			SourceName:  sourceName,
			UploadedBy:  uploadedBy,
			Status:      types.BatchValidating,
			Version:     1,
			ParseErrors: parseErrsJSON,
		}
		if err := s.batchRepo.Create(ctx, tx, batch); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		if len(candidates) == 0 {
			batch.Status = types.BatchFailed
			if ok, err := s.batchRepo.UpdateVersioned(ctx, tx, batch, 1); err != nil {
				return err
			} else if !ok {
				return ErrConcurrencyConflict
			}
			detail = &BatchDetail{Batch: batch}
			return nil
		}

		records := s.buildRecords(batch.ID, candidates)
		if err := s.assignIdentifiers(ctx, tx, records); err != nil {
			return err
		}
		duplicates, err := s.detectDuplicates(ctx, tx, records)
		if err != nil {
			return err
		}

		if err := s.recordRepo.CreateAll(ctx, tx, records); err != nil {
			return fmt.Errorf("stage records: %w", err)
		}
		for _, dup := range duplicates {
			if err := s.dupRepo.Create(ctx, tx, dup); err != nil {
				return fmt.Errorf("record duplicate flag: %w", err)
			}
		}

		if err := applyCounts(ctx, tx, s.recordRepo, batch); err != nil {
			return err
		}
		batch.Status = types.BatchValidated
		if ok, err := s.batchRepo.UpdateVersioned(ctx, tx, batch, 1); err != nil {
			return err
		} else if !ok {
			return ErrConcurrencyConflict
		}

		detail = &BatchDetail{Batch: batch}
		for _, r := range records {
			detail.Records = append(detail.Records, *r)
		}
		for _, d := range duplicates {
			detail.Duplicates = append(detail.Duplicates, *d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Batch staged",
		"batch_id", detail.Batch.ID,
		"source", sourceName,
		"records", detail.Batch.TotalRecords,
		"parse_errors", len(parseErrs),
		"status", detail.Batch.Status)
	return detail, nil
}

// ValidateDocument is the read-only half of CreateBatch: same parser, same
// taxonomy, no identifiers, no duplicate lookups, no writes.
func (s *stagingService) ValidateDocument(ctx context.Context, document string) (*DocumentReport, error) {
	if strings.TrimSpace(document) == "" {
		return nil, ErrEmptyDocument
	}
	candidates, parseErrs := ingestion.Parse(document)
	report := &DocumentReport{ParseErrors: parseErrs}
	if report.ParseErrors == nil {
		report.ParseErrors = []types.ParseError{}
	}
	for _, c := range candidates {
		cr := CandidateReport{
			Line:             c.Line,
			Topic:            c.Topic,
			Subtopic:         c.Subtopic,
			Difficulty:       c.Difficulty,
			Type:             c.Type,
			Question:         c.Question,
			ValidationErrors: s.taxonomy.Validate(c),
		}
		if len(cr.ValidationErrors) == 0 {
			report.ValidCount++
		}
		report.Candidates = append(report.Candidates, cr)
	}
	return report, nil
}

func (s *stagingService) GetBatch(ctx context.Context, batchID uuid.UUID) (*BatchDetail, error) {
	batch, err := s.batchRepo.GetByID(ctx, nil, batchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	records, err := s.recordRepo.GetByBatch(ctx, nil, batchID, nil)
	if err != nil {
		return nil, err
	}
	recordIDs := make([]uuid.UUID, len(records))
	for i, r := range records {
		recordIDs[i] = r.ID
	}
	duplicates, err := s.dupRepo.GetByRecordIDs(ctx, nil, recordIDs)
	if err != nil {
		return nil, err
	}
	return &BatchDetail{Batch: batch, Records: records, Duplicates: duplicates}, nil
}

func (s *stagingService) ListBatches(ctx context.Context, statusFilter string, page, pageSize int) (*BatchList, error) {
	var status *types.BatchStatus
	if statusFilter != "" {
		st := types.BatchStatus(statusFilter)
		if !st.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatusFilter, statusFilter)
		}
		status = &st
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	var (
		batches []types.UploadBatch
		total   int64
		counts  map[types.BatchStatus]int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		batches, total, err = s.batchRepo.List(gctx, nil, status, page, pageSize)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = s.batchRepo.CountByStatus(gctx, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &BatchList{
		Batches:      batches,
		Total:        total,
		Page:         page,
		PageSize:     pageSize,
		StatusCounts: counts,
	}, nil
}

// CancelBatch discards a batch before any authoritative write has happened.
// Once importing starts the batch runs to completion.
func (s *stagingService) CancelBatch(ctx context.Context, batchID uuid.UUID, expectedVersion int) (*types.UploadBatch, error) {
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
		if batch.Status == types.BatchImporting || batch.Status.Terminal() {
			return ErrBatchNotCancellable
		}
		batch.Status = types.BatchFailed
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
	s.log.Info("Batch cancelled", "batch_id", batchID)
	return batch, nil
}

// buildRecords turns candidates into staged rows with pre-generated ids so
// in-batch duplicate flags can reference siblings before anything is
// persisted. Invalid candidates are staged too, for reviewer context.
func (s *stagingService) buildRecords(batchID uuid.UUID, candidates []ingestion.Candidate) []*types.StagedRecord {
	records := make([]*types.StagedRecord, 0, len(candidates))
	for i, c := range candidates {
		rec := &types.StagedRecord{
			ID:            uuid.New(),
			BatchID:       batchID,
			ParseOrder:    i + 1,
			SourceLine:    c.Line,
			Topic:         c.Topic,
			Subtopic:      c.Subtopic,
			Difficulty:    c.Difficulty,
			Type:          c.Type,
			Question:      c.Question,
			Answer:        c.Answer,
			NotesForTutor: c.NotesForTutor,
			Status:        types.RecordPending,
		}
		if fieldErrs := s.taxonomy.Validate(c); len(fieldErrs) > 0 {
			rec.Status = types.RecordValidationFailed
			rec.ValidationErrors = mustMarshal(fieldErrs)
		}
		records = append(records, rec)
	}
	return records
}

// assignIdentifiers claims a semantic id for every pending record. A
// per-batch tracker seeded from the two persistent namespaces keeps
// siblings from colliding with each other without extra round trips.
func (s *stagingService) assignIdentifiers(ctx context.Context, tx *gorm.DB, records []*types.StagedRecord) error {
	nextSeq := map[string]int{}
	for _, rec := range records {
		if rec.Status != types.RecordPending {
			continue
		}
		base := ingestion.BaseID(rec.Topic, rec.Subtopic, rec.Difficulty, rec.Type)
		seq, seeded := nextSeq[base]
		if !seeded {
			authMax, err := s.qRepo.MaxSequence(ctx, tx, base)
			if err != nil {
				return fmt.Errorf("seed sequence for %s: %w", base, err)
			}
			stagedMax, err := s.recordRepo.MaxAssignedSequence(ctx, tx, base)
			if err != nil {
				return fmt.Errorf("seed sequence for %s: %w", base, err)
			}
			seq = authMax + 1
			if stagedMax >= authMax {
				seq = stagedMax + 1
			}
		}

		assigned := ""
		for attempt := 0; attempt < ingestion.MaxAssignAttempts; attempt++ {
			candidate := ingestion.FormatID(base, seq)
			exists, err := s.qRepo.ExistsByID(ctx, tx, candidate)
			if err != nil {
				return err
			}
			if !exists {
				claimed, err := s.recordRepo.AssignedIDClaimed(ctx, tx, candidate, rec.ID)
				if err != nil {
					return err
				}
				if !claimed {
					assigned = candidate
					break
				}
			}
			seq++
		}
		if assigned == "" {
			rec.Status = types.RecordValidationFailed
			rec.ValidationErrors = mustMarshal([]types.FieldError{{
				Field:   "assigned_id",
				Message: fmt.Sprintf("identifier space exhausted for %s after %d attempts", base, ingestion.MaxAssignAttempts),
			}})
			continue
		}
		rec.AssignedID = assigned
		nextSeq[base] = seq + 1
	}
	return nil
}

// detectDuplicates flags each still-pending record with at most one match.
// Authoritative matches outrank in-batch ones; the corpus is consulted in a
// single batched query rather than once per record, and the in-batch scan
// walks earlier siblings in parse order so the first best score wins ties.
func (s *stagingService) detectDuplicates(ctx context.Context, tx *gorm.DB, records []*types.StagedRecord) ([]*types.StagingDuplicate, error) {
	var candidates []repos.SimilarityCandidate
	for i, rec := range records {
		if rec.Status != types.RecordPending {
			continue
		}
		candidates = append(candidates, repos.SimilarityCandidate{
			Ordinal:  i,
			Topic:    rec.Topic,
			Question: rec.Question,
		})
	}
	matches, err := s.qRepo.BestSimilar(ctx, tx, candidates, s.threshold)
	if err != nil {
		return nil, fmt.Errorf("similarity lookup: %w", err)
	}

	var flags []*types.StagingDuplicate
	for i, rec := range records {
		if rec.Status != types.RecordPending {
			continue
		}

		if m, ok := matches[i]; ok {
			rec.Status = types.RecordDuplicateFlagged
			flags = append(flags, &types.StagingDuplicate{
				StagedRecordID:  rec.ID,
				MatchKind:       types.MatchExistingRecord,
				MatchedRef:      m.QuestionID,
				SimilarityScore: m.Score,
				Resolution:      types.ResolutionUnresolved,
			})
			continue
		}

		var (
			bestScore float64
			bestRef   uuid.UUID
		)
		for _, earlier := range records[:i] {
			if earlier.Status == types.RecordValidationFailed {
				continue
			}
			score := ingestion.Similarity(rec.Question, earlier.Question)
			if score >= s.threshold && score > bestScore {
				bestScore = score
				bestRef = earlier.ID
			}
		}
		if bestRef != uuid.Nil {
			rec.Status = types.RecordDuplicateFlagged
			flags = append(flags, &types.StagingDuplicate{
				StagedRecordID:  rec.ID,
				MatchKind:       types.MatchInBatchCandidate,
				MatchedRef:      bestRef.String(),
				SimilarityScore: bestScore,
				Resolution:      types.ResolutionUnresolved,
			})
		}
	}
	return flags, nil
}

// applyCounts recomputes the batch aggregates from its records so invariant
// "counts equal the sum of record statuses" holds after every mutation.
func applyCounts(ctx context.Context, tx *gorm.DB, recordRepo repos.StagedRecordRepo, batch *types.UploadBatch) error {
	counts, err := recordRepo.CountsByStatus(ctx, tx, batch.ID)
	if err != nil {
		return fmt.Errorf("recompute counts: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	batch.TotalRecords = total
	batch.CountPending = counts[types.RecordPending]
	batch.CountValidationFailed = counts[types.RecordValidationFailed]
	batch.CountDuplicateFlagged = counts[types.RecordDuplicateFlagged]
	batch.CountApproved = counts[types.RecordApproved]
	batch.CountRejected = counts[types.RecordRejected]
	batch.CountImported = counts[types.RecordImported]
	batch.CountImportFailed = counts[types.RecordImportFailed]
	return nil
}

func callerEmail(ctx context.Context) string {
	if rd := requestdata.GetRequestData(ctx); rd != nil {
		return rd.Email
	}
	return ""
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// FieldError/ParseError slices cannot fail to marshal.
		panic(err)
	}
	return b
}

func timePtr(t time.Time) *time.Time { return &t }
