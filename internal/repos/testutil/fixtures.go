package testutil

import (
	"testing"

	"gorm.io/gorm"

	"github.com/yungbote/questionbank-backend/internal/types"
)

// SeedQuestion inserts one authoritative question inside tx.
func SeedQuestion(tb testing.TB, tx *gorm.DB, id, topic, questionText string) *types.Question {
	tb.Helper()
	q := &types.Question{
		QuestionID: id,
		Topic:      topic,
		Subtopic:   "Seed",
		Difficulty: "Basic",
		Type:       "GenConcept",
		Question:   questionText,
		Answer:     "Seed answer.",
		UploadedBy: "fixtures@test.local",
	}
	if err := tx.Create(q).Error; err != nil {
		tb.Fatalf("seed question: %v", err)
	}
	return q
}

// SeedBatch inserts an empty batch in the given status.
func SeedBatch(tb testing.TB, tx *gorm.DB, status types.BatchStatus) *types.UploadBatch {
	tb.Helper()
	b := &types.UploadBatch{
		SourceName: "fixtures.md",
		UploadedBy: "fixtures@test.local",
		Status:     status,
		Version:    1,
	}
	if err := tx.Create(b).Error; err != nil {
		tb.Fatalf("seed batch: %v", err)
	}
	return b
}
