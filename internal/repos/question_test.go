package repos_test

import (
	"context"
	"testing"

	"github.com/yungbote/questionbank-backend/internal/repos"
	"github.com/yungbote/questionbank-backend/internal/repos/testutil"
)

func TestQuestionRepoBestSimilarScopesByTopic(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	repo := repos.NewQuestionRepo(db, log)
	ctx := context.Background()

	testutil.SeedQuestion(t, tx, "DCF-WACC-B-G-001", "DCF", "What is the weighted average cost of capital?")
	testutil.SeedQuestion(t, tx, "DCF-WACC-B-G-002", "DCF", "Walk me through a DCF model step by step.")
	testutil.SeedQuestion(t, tx, "ACC-DEP-B-G-001", "Accounting", "What is the weighted average cost of capital?")

	matches, err := repo.BestSimilar(ctx, tx, []repos.SimilarityCandidate{
		{Ordinal: 0, Topic: "DCF", Question: "What is the weighted average cost of capital?"},
	}, 0.8)
	if err != nil {
		t.Fatalf("BestSimilar: %v", err)
	}
	m, ok := matches[0]
	if !ok {
		t.Fatalf("expected a same-topic match, got %v", matches)
	}
	if m.QuestionID != "DCF-WACC-B-G-001" {
		t.Fatalf("unexpected match %q", m.QuestionID)
	}
	if m.Score != 1.0 {
		t.Fatalf("identical text must score 1.0, got %f", m.Score)
	}
}

func TestQuestionRepoBestSimilarOneRowPerCandidate(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	repo := repos.NewQuestionRepo(db, log)
	ctx := context.Background()

	testutil.SeedQuestion(t, tx, "DCF-WACC-B-G-001", "DCF", "What is the weighted average cost of capital?")
	testutil.SeedQuestion(t, tx, "ACC-DEP-B-G-001", "Accounting", "Explain straight-line depreciation of an asset.")

	matches, err := repo.BestSimilar(ctx, tx, []repos.SimilarityCandidate{
		{Ordinal: 0, Topic: "DCF", Question: "What is the weighted average cost of capital?"},
		{Ordinal: 1, Topic: "DCF", Question: "How do synergies affect a merger model?"},
		{Ordinal: 2, Topic: "Accounting", Question: "Explain straight-line depreciation of an asset."},
	}, 0.8)
	if err != nil {
		t.Fatalf("BestSimilar: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected matches for ordinals 0 and 2 only, got %v", matches)
	}
	if matches[0].QuestionID != "DCF-WACC-B-G-001" {
		t.Fatalf("ordinal 0 matched %q", matches[0].QuestionID)
	}
	if _, ok := matches[1]; ok {
		t.Fatalf("dissimilar candidate must not match, got %v", matches[1])
	}
	if matches[2].QuestionID != "ACC-DEP-B-G-001" {
		t.Fatalf("ordinal 2 matched %q", matches[2].QuestionID)
	}
}

func TestQuestionRepoBestSimilarTieBreaksOnID(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	repo := repos.NewQuestionRepo(db, log)
	ctx := context.Background()

	text := "Explain the concept of terminal value in a DCF."
	testutil.SeedQuestion(t, tx, "DCF-TV-B-G-002", "DCF", text)
	testutil.SeedQuestion(t, tx, "DCF-TV-B-G-001", "DCF", text)

	matches, err := repo.BestSimilar(ctx, tx, []repos.SimilarityCandidate{
		{Ordinal: 0, Topic: "DCF", Question: text},
	}, 0.8)
	if err != nil {
		t.Fatalf("BestSimilar: %v", err)
	}
	if matches[0].QuestionID != "DCF-TV-B-G-001" {
		t.Fatalf("equal scores must pick the smallest id, got %q", matches[0].QuestionID)
	}
}

func TestQuestionRepoBestSimilarEmptyInput(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	repo := repos.NewQuestionRepo(db, log)

	matches, err := repo.BestSimilar(context.Background(), tx, nil, 0.8)
	if err != nil {
		t.Fatalf("BestSimilar: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %v", matches)
	}
}

func TestQuestionRepoMaxSequence(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	repo := repos.NewQuestionRepo(db, log)
	ctx := context.Background()

	if max, err := repo.MaxSequence(ctx, tx, "DCF-WACC-B-G"); err != nil || max != 0 {
		t.Fatalf("empty namespace: max=%d err=%v", max, err)
	}

	testutil.SeedQuestion(t, tx, "DCF-WACC-B-G-001", "DCF", "q1")
	testutil.SeedQuestion(t, tx, "DCF-WACC-B-G-007", "DCF", "q7")
	testutil.SeedQuestion(t, tx, "DCF-WACC-A-G-009", "DCF", "other base")

	max, err := repo.MaxSequence(ctx, tx, "DCF-WACC-B-G")
	if err != nil {
		t.Fatalf("MaxSequence: %v", err)
	}
	if max != 7 {
		t.Fatalf("expected 7, got %d", max)
	}
}
