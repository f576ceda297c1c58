package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/questionbank-backend/internal/repos"
	"github.com/yungbote/questionbank-backend/internal/repos/testutil"
	"github.com/yungbote/questionbank-backend/internal/requestdata"
	"github.com/yungbote/questionbank-backend/internal/services"
	"github.com/yungbote/questionbank-backend/internal/types"
)

type fixture struct {
	tx         *gorm.DB
	staging    services.StagingService
	review     services.ReviewService
	importer   services.ImportService
	recordRepo repos.StagedRecordRepo
	qRepo      repos.QuestionRepo
}

func newFixture(t *testing.T) (*fixture, context.Context) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	batchRepo := repos.NewUploadBatchRepo(tx, log)
	recordRepo := repos.NewStagedRecordRepo(tx, log)
	dupRepo := repos.NewStagingDuplicateRepo(tx, log)
	qRepo := repos.NewQuestionRepo(tx, log)

	staging := services.NewStagingService(tx, log, 0.8, batchRepo, recordRepo, dupRepo, qRepo)
	review := services.NewReviewService(tx, log, batchRepo, recordRepo, dupRepo, staging)
	importer := services.NewImportService(tx, log, batchRepo, recordRepo, qRepo)

	ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{
		Email: "reviewer@test.local",
	})
	return &fixture{
		tx:         tx,
		staging:    staging,
		review:     review,
		importer:   importer,
		recordRepo: recordRepo,
		qRepo:      qRepo,
	}, ctx
}

func questionBlock(q, a string) string {
	return fmt.Sprintf("**Question:** %s\n**Answer:** %s\n", q, a)
}

func docWith(blocks ...string) string {
	var b strings.Builder
	b.WriteString("# Topic: Discounted Cash Flow (DCF)\n")
	b.WriteString("## Subtopic: WACC Calculation\n")
	b.WriteString("### Difficulty: Basic\n")
	b.WriteString("#### Type: GenConcept\n\n")
	for _, block := range blocks {
		b.WriteString(block)
		b.WriteString("\n")
	}
	return b.String()
}

// checkCounts asserts the aggregate-count invariant: batch counters always
// equal the sum of its records' statuses.
func checkCounts(t *testing.T, f *fixture, ctx context.Context, batchID uuid.UUID) {
	t.Helper()
	detail, err := f.staging.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	want := map[types.RecordStatus]int{}
	for _, r := range detail.Records {
		want[r.Status]++
	}
	b := detail.Batch
	got := map[types.RecordStatus]int{
		types.RecordPending:          b.CountPending,
		types.RecordValidationFailed: b.CountValidationFailed,
		types.RecordDuplicateFlagged: b.CountDuplicateFlagged,
		types.RecordApproved:         b.CountApproved,
		types.RecordRejected:         b.CountRejected,
		types.RecordImported:         b.CountImported,
		types.RecordImportFailed:     b.CountImportFailed,
	}
	for status, n := range got {
		if n != want[status] {
			t.Fatalf("count invariant broken for %s: batch says %d, records say %d", status, n, want[status])
		}
	}
	if b.TotalRecords != len(detail.Records) {
		t.Fatalf("total_records %d != %d records", b.TotalRecords, len(detail.Records))
	}
}

func TestCreateBatchScenarioA(t *testing.T) {
	f, ctx := newFixture(t)

	doc := docWith(
		questionBlock("What is WACC?", "Weighted average cost of capital."),
		questionBlock("Why is debt cheaper than equity?", "Interest is tax deductible."),
		questionBlock("What discount rate does a DCF use?", "Usually the WACC."),
		"**Question:** Block missing its answer marker?\n",
	)
	detail, err := f.staging.CreateBatch(ctx, "scenario-a.md", doc)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	if detail.Batch.Status != types.BatchValidated {
		t.Fatalf("expected validated, got %s", detail.Batch.Status)
	}
	if len(detail.Records) != 3 {
		t.Fatalf("expected 3 staged records, got %d", len(detail.Records))
	}
	for _, r := range detail.Records {
		if r.Status != types.RecordPending {
			t.Fatalf("expected pending, got %s", r.Status)
		}
		if r.AssignedID == "" {
			t.Fatalf("pending record missing assigned id")
		}
	}
	if detail.Batch.CountPending != 3 {
		t.Fatalf("expected pending count 3, got %d", detail.Batch.CountPending)
	}
	if !strings.Contains(string(detail.Batch.ParseErrors), "**Answer:**") {
		t.Fatalf("parse error not recorded on batch: %s", detail.Batch.ParseErrors)
	}
	if detail.Batch.UploadedBy != "reviewer@test.local" {
		t.Fatalf("uploader not taken from caller, got %q", detail.Batch.UploadedBy)
	}
	checkCounts(t, f, ctx, detail.Batch.ID)
}

func TestCreateBatchAssignsDistinctSequences(t *testing.T) {
	f, ctx := newFixture(t)

	testutil.SeedQuestion(t, f.tx, "DCF-WACC-B-G-002", "Discounted Cash Flow (DCF)", "Some earlier question?")

	doc := docWith(
		questionBlock("How do you weight the capital components?", "By market value."),
		questionBlock("What tax rate belongs in the WACC formula?", "The marginal rate."),
	)
	detail, err := f.staging.CreateBatch(ctx, "seq.md", doc)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	ids := map[string]bool{}
	for _, r := range detail.Records {
		ids[r.AssignedID] = true
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 distinct ids, got %v", ids)
	}
	// Sequence continues past the authoritative namespace.
	if !ids["DCF-WACC-B-G-003"] || !ids["DCF-WACC-B-G-004"] {
		t.Fatalf("unexpected sequence allocation: %v", ids)
	}
}

func TestCreateBatchStagesInvalidRecords(t *testing.T) {
	f, ctx := newFixture(t)

	doc := "# Topic: Accounting\n## Subtopic: Depreciation\n### Difficulty: Medium\n#### Type: Definition\n" +
		questionBlock("What is depreciation?", "Allocation of cost over useful life.")
	detail, err := f.staging.CreateBatch(ctx, "invalid.md", doc)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if len(detail.Records) != 1 {
		t.Fatalf("invalid candidate must still be staged, got %d records", len(detail.Records))
	}
	rec := detail.Records[0]
	if rec.Status != types.RecordValidationFailed {
		t.Fatalf("expected validation_failed, got %s", rec.Status)
	}
	if !strings.Contains(string(rec.ValidationErrors), "difficulty") {
		t.Fatalf("field error not recorded: %s", rec.ValidationErrors)
	}
	if rec.AssignedID != "" {
		t.Fatalf("invalid record must not claim an identifier")
	}

	// Approval is blocked; rejection is the only way out.
	if _, err := f.review.Review(ctx, detail.Batch.ID, []uuid.UUID{rec.ID}, nil, detail.Batch.Version, ""); !errors.Is(err, services.ErrRecordNotReviewable) {
		t.Fatalf("expected ErrRecordNotReviewable, got %v", err)
	}
	after, err := f.review.Review(ctx, detail.Batch.ID, nil, []uuid.UUID{rec.ID}, detail.Batch.Version, "malformed")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if after.Records[0].Status != types.RecordRejected {
		t.Fatalf("expected rejected, got %s", after.Records[0].Status)
	}
	checkCounts(t, f, ctx, detail.Batch.ID)
}

func TestCreateBatchEmptyDocumentFails(t *testing.T) {
	f, ctx := newFixture(t)
	if _, err := f.staging.CreateBatch(ctx, "empty.md", "   \n"); !errors.Is(err, services.ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	// A non-empty document with no recognizable blocks fails the batch.
	detail, err := f.staging.CreateBatch(ctx, "prose.md", "Just some prose, no markers at all.")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if detail.Batch.Status != types.BatchFailed {
		t.Fatalf("expected failed, got %s", detail.Batch.Status)
	}
}

func TestScenarioBAuthoritativeDuplicate(t *testing.T) {
	f, ctx := newFixture(t)

	text := "What is the weighted average cost of capital?"
	testutil.SeedQuestion(t, f.tx, "DCF-WACC-B-G-001", "Discounted Cash Flow (DCF)", text)

	detail, err := f.staging.CreateBatch(ctx, "dup.md", docWith(questionBlock(text, "An answer.")))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	rec := detail.Records[0]
	if rec.Status != types.RecordDuplicateFlagged {
		t.Fatalf("expected duplicate_flagged, got %s", rec.Status)
	}
	if len(detail.Duplicates) != 1 {
		t.Fatalf("expected 1 duplicate flag, got %d", len(detail.Duplicates))
	}
	dup := detail.Duplicates[0]
	if dup.MatchKind != types.MatchExistingRecord || dup.MatchedRef != "DCF-WACC-B-G-001" {
		t.Fatalf("unexpected match %+v", dup)
	}
	if dup.SimilarityScore != 1.0 {
		t.Fatalf("identical text must score 1.0, got %f", dup.SimilarityScore)
	}
	if dup.Resolution != types.ResolutionUnresolved {
		t.Fatalf("fresh flag must be unresolved")
	}

	// The batch is not importable while the flag is unresolved.
	if _, err := f.importer.ImportBatch(ctx, detail.Batch.ID, detail.Batch.Version); !errors.Is(err, services.ErrBatchNotImportable) {
		t.Fatalf("expected ErrBatchNotImportable, got %v", err)
	}
}

func TestInBatchDuplicatePrefersEarlierSibling(t *testing.T) {
	f, ctx := newFixture(t)

	text := "How do you derive the cost of equity?"
	detail, err := f.staging.CreateBatch(ctx, "inbatch.md", docWith(
		questionBlock(text, "CAPM."),
		questionBlock(text, "Use CAPM with a beta estimate."),
	))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if len(detail.Duplicates) != 1 {
		t.Fatalf("expected exactly one flag, got %d", len(detail.Duplicates))
	}
	first, second := detail.Records[0], detail.Records[1]
	if first.Status != types.RecordPending || second.Status != types.RecordDuplicateFlagged {
		t.Fatalf("later sibling must carry the flag: %s / %s", first.Status, second.Status)
	}
	dup := detail.Duplicates[0]
	if dup.MatchKind != types.MatchInBatchCandidate || dup.MatchedRef != first.ID.String() {
		t.Fatalf("flag must point at the earlier sibling: %+v", dup)
	}
}

func TestScenarioCReviewAndImport(t *testing.T) {
	f, ctx := newFixture(t)

	detail, err := f.staging.CreateBatch(ctx, "scenario-c.md", docWith(
		questionBlock("What is WACC?", "Weighted average cost of capital."),
		questionBlock("Why is debt cheaper than equity?", "Interest is tax deductible."),
		questionBlock("What discount rate does a DCF use?", "Usually the WACC."),
	))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	batch := detail.Batch

	approve := []uuid.UUID{detail.Records[0].ID, detail.Records[1].ID}
	reject := []uuid.UUID{detail.Records[2].ID}
	after, err := f.review.Review(ctx, batch.ID, approve, reject, batch.Version, "")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if after.Batch.Status != types.BatchReadyToImport {
		t.Fatalf("expected ready_to_import, got %s", after.Batch.Status)
	}
	if after.Batch.ReviewStartedAt == nil {
		t.Fatalf("first review must stamp review_started_at")
	}
	if after.Records[0].ReviewedBy != "reviewer@test.local" {
		t.Fatalf("reviewer not recorded")
	}
	checkCounts(t, f, ctx, batch.ID)

	report, err := f.importer.ImportBatch(ctx, batch.ID, after.Batch.Version)
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if report.Batch.Status != types.BatchImported {
		t.Fatalf("rejections are not failures, expected imported, got %s", report.Batch.Status)
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(report.Outcomes))
	}
	for _, o := range report.Outcomes {
		if o.Status != types.RecordImported {
			t.Fatalf("unexpected outcome %+v", o)
		}
		if _, err := f.qRepo.GetByID(ctx, f.tx, o.AssignedID); err != nil {
			t.Fatalf("imported question %s missing: %v", o.AssignedID, err)
		}
	}
	if report.Batch.ImportCompletedAt == nil {
		t.Fatalf("import completion not stamped")
	}
	checkCounts(t, f, ctx, batch.ID)

	// Idempotence: a second run attempts nothing and changes nothing.
	again, err := f.importer.ImportBatch(ctx, batch.ID, report.Batch.Version)
	if err != nil {
		t.Fatalf("second ImportBatch: %v", err)
	}
	if len(again.Outcomes) != 0 {
		t.Fatalf("second run must attempt nothing, got %d outcomes", len(again.Outcomes))
	}
	if again.Batch.Status != types.BatchImported || again.Batch.CountImported != 2 {
		t.Fatalf("second run changed state: %+v", again.Batch)
	}
}

func TestResolveDuplicateTransitions(t *testing.T) {
	f, ctx := newFixture(t)

	text := "What is the weighted average cost of capital?"
	testutil.SeedQuestion(t, f.tx, "DCF-WACC-B-G-001", "Discounted Cash Flow (DCF)", text)

	detail, err := f.staging.CreateBatch(ctx, "resolve.md", docWith(questionBlock(text, "An answer.")))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	dup := detail.Duplicates[0]

	if _, err := f.review.ResolveDuplicate(ctx, dup.ID, types.ResolutionUnresolved, detail.Batch.Version, ""); !errors.Is(err, services.ErrInvalidResolution) {
		t.Fatalf("unresolved is not a resolution, got %v", err)
	}
	if _, err := f.review.ResolveDuplicate(ctx, dup.ID, types.DuplicateResolution("merge"), detail.Batch.Version, ""); !errors.Is(err, services.ErrInvalidResolution) {
		t.Fatalf("unknown resolution must be rejected, got %v", err)
	}

	after, err := f.review.ResolveDuplicate(ctx, dup.ID, types.ResolutionKeepBoth, detail.Batch.Version, "both are useful")
	if err != nil {
		t.Fatalf("ResolveDuplicate: %v", err)
	}
	if after.Records[0].Status != types.RecordApproved {
		t.Fatalf("keep_both must approve the record, got %s", after.Records[0].Status)
	}
	if after.Duplicates[0].Resolution != types.ResolutionKeepBoth || after.Duplicates[0].ResolvedBy != "reviewer@test.local" {
		t.Fatalf("resolution audit missing: %+v", after.Duplicates[0])
	}
	if after.Batch.Status != types.BatchReadyToImport {
		t.Fatalf("resolving the last flag must ready the batch, got %s", after.Batch.Status)
	}
	checkCounts(t, f, ctx, detail.Batch.ID)
}

func TestRejectFlaggedRecordDiscardsNew(t *testing.T) {
	f, ctx := newFixture(t)

	text := "What is the weighted average cost of capital?"
	testutil.SeedQuestion(t, f.tx, "DCF-WACC-B-G-001", "Discounted Cash Flow (DCF)", text)

	detail, err := f.staging.CreateBatch(ctx, "rejectdup.md", docWith(questionBlock(text, "An answer.")))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	rec := detail.Records[0]

	after, err := f.review.Review(ctx, detail.Batch.ID, nil, []uuid.UUID{rec.ID}, detail.Batch.Version, "duplicate of existing")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if after.Records[0].Status != types.RecordRejected {
		t.Fatalf("expected rejected, got %s", after.Records[0].Status)
	}
	if after.Duplicates[0].Resolution != types.ResolutionDiscardNew {
		t.Fatalf("rejecting a flagged record must discard it, got %s", after.Duplicates[0].Resolution)
	}
}

func TestConcurrencyConflictOnStaleVersion(t *testing.T) {
	f, ctx := newFixture(t)

	detail, err := f.staging.CreateBatch(ctx, "conflict.md", docWith(
		questionBlock("What is WACC?", "Weighted average cost of capital."),
	))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	batch := detail.Batch
	rec := detail.Records[0]

	if _, err := f.review.Review(ctx, batch.ID, []uuid.UUID{rec.ID}, nil, batch.Version, ""); err != nil {
		t.Fatalf("Review: %v", err)
	}
	// A second writer still holding the old stamp must be refused.
	if _, err := f.review.Review(ctx, batch.ID, nil, []uuid.UUID{rec.ID}, batch.Version, ""); !errors.Is(err, services.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
}

func TestScenarioDImportCollisionReassigns(t *testing.T) {
	f, ctx := newFixture(t)

	detail, err := f.staging.CreateBatch(ctx, "scenario-d.md", docWith(
		questionBlock("What is WACC?", "Weighted average cost of capital."),
		questionBlock("Why is debt cheaper than equity?", "Interest is tax deductible."),
	))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	batch := detail.Batch
	approve := []uuid.UUID{detail.Records[0].ID, detail.Records[1].ID}
	after, err := f.review.Review(ctx, batch.ID, approve, nil, batch.Version, "")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}

	// Another batch claimed the first record's identifier in the interim.
	takenID := after.Records[0].AssignedID
	testutil.SeedQuestion(t, f.tx, takenID, "Discounted Cash Flow (DCF)", "A question imported elsewhere.")

	report, err := f.importer.ImportBatch(ctx, batch.ID, after.Batch.Version)
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if report.Batch.Status != types.BatchImported {
		t.Fatalf("expected imported after reassignment, got %s", report.Batch.Status)
	}
	var reassigned *services.RecordOutcome
	for i := range report.Outcomes {
		if report.Outcomes[i].RecordID == after.Records[0].ID {
			reassigned = &report.Outcomes[i]
		}
	}
	if reassigned == nil || reassigned.Status != types.RecordImported {
		t.Fatalf("colliding record did not import: %+v", report.Outcomes)
	}
	if reassigned.AssignedID == takenID {
		t.Fatalf("identifier was not reassigned")
	}
	if _, err := f.qRepo.GetByID(ctx, f.tx, reassigned.AssignedID); err != nil {
		t.Fatalf("reassigned question missing: %v", err)
	}
	checkCounts(t, f, ctx, batch.ID)
}

func TestCancelBatchSemantics(t *testing.T) {
	f, ctx := newFixture(t)

	detail, err := f.staging.CreateBatch(ctx, "cancel.md", docWith(
		questionBlock("What is WACC?", "Weighted average cost of capital."),
	))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	batch, err := f.staging.CancelBatch(ctx, detail.Batch.ID, detail.Batch.Version)
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if batch.Status != types.BatchFailed {
		t.Fatalf("expected failed, got %s", batch.Status)
	}
	if _, err := f.staging.CancelBatch(ctx, detail.Batch.ID, batch.Version); !errors.Is(err, services.ErrBatchNotCancellable) {
		t.Fatalf("terminal batch must not be cancellable, got %v", err)
	}
}

func TestListBatchesFilterValidation(t *testing.T) {
	f, ctx := newFixture(t)
	if _, err := f.staging.ListBatches(ctx, "nonsense", 1, 10); !errors.Is(err, services.ErrInvalidStatusFilter) {
		t.Fatalf("expected ErrInvalidStatusFilter, got %v", err)
	}
	list, err := f.staging.ListBatches(ctx, string(types.BatchValidated), 1, 10)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if list.Page != 1 || list.PageSize != 10 {
		t.Fatalf("unexpected paging %d/%d", list.Page, list.PageSize)
	}
}

func TestValidateDocumentIsReadOnly(t *testing.T) {
	f, ctx := newFixture(t)

	report, err := f.staging.ValidateDocument(ctx, docWith(
		questionBlock("What is WACC?", "Weighted average cost of capital."),
		"**Question:** Missing answer?\n",
	))
	if err != nil {
		t.Fatalf("ValidateDocument: %v", err)
	}
	if len(report.Candidates) != 1 || len(report.ParseErrors) != 1 {
		t.Fatalf("unexpected report: %d candidates, %d parse errors", len(report.Candidates), len(report.ParseErrors))
	}
	if report.ValidCount != 1 {
		t.Fatalf("expected 1 valid candidate, got %d", report.ValidCount)
	}

	var batches int64
	if err := f.tx.Model(&types.UploadBatch{}).Count(&batches).Error; err != nil {
		t.Fatalf("count batches: %v", err)
	}
	if batches != 0 {
		t.Fatalf("dry run must not stage anything, found %d batches", batches)
	}
}

// saturatedQuestionRepo reports every candidate identifier as taken, which
// drives the assignment loop all the way to its attempt bound.
type saturatedQuestionRepo struct {
	repos.QuestionRepo
}

func (saturatedQuestionRepo) ExistsByID(context.Context, *gorm.DB, string) (bool, error) {
	return true, nil
}

func TestIdentifierExhaustionFailsRecord(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	batchRepo := repos.NewUploadBatchRepo(tx, log)
	recordRepo := repos.NewStagedRecordRepo(tx, log)
	dupRepo := repos.NewStagingDuplicateRepo(tx, log)
	qRepo := saturatedQuestionRepo{repos.NewQuestionRepo(tx, log)}
	staging := services.NewStagingService(tx, log, 0.8, batchRepo, recordRepo, dupRepo, qRepo)
	ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{
		Email: "reviewer@test.local",
	})

	detail, err := staging.CreateBatch(ctx, "saturated.md", docWith(
		questionBlock("What is WACC?", "Weighted average cost of capital."),
	))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if len(detail.Records) != 1 {
		t.Fatalf("expected 1 staged record, got %d", len(detail.Records))
	}
	rec := detail.Records[0]
	if rec.Status != types.RecordValidationFailed {
		t.Fatalf("expected validation_failed, got %s", rec.Status)
	}
	if rec.AssignedID != "" {
		t.Fatalf("exhausted record must not keep an id, got %q", rec.AssignedID)
	}
	if !strings.Contains(string(rec.ValidationErrors), "assigned_id") ||
		!strings.Contains(string(rec.ValidationErrors), "exhausted") {
		t.Fatalf("exhaustion not recorded as a field error: %s", rec.ValidationErrors)
	}
	if detail.Batch.Status != types.BatchValidated {
		t.Fatalf("expected validated batch, got %s", detail.Batch.Status)
	}
	if detail.Batch.CountPending != 0 || detail.Batch.CountValidationFailed != 1 {
		t.Fatalf("counts: pending=%d validation_failed=%d",
			detail.Batch.CountPending, detail.Batch.CountValidationFailed)
	}
}
