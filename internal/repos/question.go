package repos

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/questionbank-backend/internal/ingestion"
	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/types"
)

// SimilarityCandidate is one staged question text to match against the
// authoritative corpus. Ordinal is caller-chosen and comes back on the
// match so results can be joined to their candidates.
type SimilarityCandidate struct {
	Ordinal  int
	Topic    string
	Question string
}

// SimilarMatch is the best authoritative match for one candidate.
type SimilarMatch struct {
	Ordinal    int     `gorm:"column:ordinal"`
	QuestionID string  `gorm:"column:question_id"`
	Score      float64 `gorm:"column:score"`
}

type QuestionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, question *types.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, questionID string) (*types.Question, error)
	ExistsByID(ctx context.Context, tx *gorm.DB, questionID string) (bool, error)
	MaxSequence(ctx context.Context, tx *gorm.DB, baseID string) (int, error)
	BestSimilar(ctx context.Context, tx *gorm.DB, candidates []SimilarityCandidate, threshold float64) (map[int]SimilarMatch, error)
}

type questionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuestionRepo(db *gorm.DB, baseLog *logger.Logger) QuestionRepo {
	repoLog := baseLog.With("repo", "QuestionRepo")
	return &questionRepo{db: db, log: repoLog}
}

func (r *questionRepo) Create(ctx context.Context, tx *gorm.DB, question *types.Question) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(question).Error
}

func (r *questionRepo) GetByID(ctx context.Context, tx *gorm.DB, questionID string) (*types.Question, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var q types.Question
	if err := transaction.WithContext(ctx).
		Where("question_id = ?", questionID).
		First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *questionRepo) ExistsByID(ctx context.Context, tx *gorm.DB, questionID string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Question{}).
		Where("question_id = ?", questionID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// MaxSequence returns the highest trailing sequence among authoritative ids
// sharing baseID, 0 when none exist.
func (r *questionRepo) MaxSequence(ctx context.Context, tx *gorm.DB, baseID string) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []string
	if err := transaction.WithContext(ctx).
		Model(&types.Question{}).
		Where("question_id LIKE ?", baseID+"-%").
		Pluck("question_id", &ids).Error; err != nil {
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

// BestSimilar runs the pg_trgm lookup for all candidates in one round trip:
// the candidates go in as a VALUES list, each joined against its own topic
// only. DISTINCT ON keeps the single best match per candidate, with the
// tie-break baked into the ordering: highest score first, then smallest
// question_id.
func (r *questionRepo) BestSimilar(ctx context.Context, tx *gorm.DB, candidates []SimilarityCandidate, threshold float64) (map[int]SimilarMatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	matches := make(map[int]SimilarMatch, len(candidates))
	if len(candidates) == 0 {
		return matches, nil
	}

	var values strings.Builder
	args := make([]interface{}, 0, len(candidates)*3+1)
	for i, c := range candidates {
		if i > 0 {
			values.WriteString(", ")
		}
		values.WriteString("(?::int, ?::text, ?::text)")
		args = append(args, c.Ordinal, c.Topic, c.Question)
	}
	args = append(args, threshold)

	var rows []SimilarMatch
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (c.ordinal)
			c.ordinal AS ordinal,
			q.question_id AS question_id,
			similarity(q.question, c.question) AS score
		FROM (VALUES %s) AS c(ordinal, topic, question)
		JOIN question q ON q.topic = c.topic
		WHERE similarity(q.question, c.question) >= ?
		ORDER BY c.ordinal, score DESC, q.question_id ASC`, values.String())
	if err := transaction.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, m := range rows {
		matches[m.Ordinal] = m
	}
	return matches, nil
}
