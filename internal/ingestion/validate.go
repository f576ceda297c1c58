package ingestion

import (
	"fmt"
	"strings"

	"github.com/yungbote/questionbank-backend/internal/types"
)

// Taxonomy bounds what a candidate may contain. Values mirror the schema of
// the authoritative table; only the duplicate threshold is tunable, so the
// taxonomy is fixed at compile time.
type Taxonomy struct {
	Difficulties   []string
	Types          []string
	MaxTopicLen    int
	MaxSubtopicLen int
	MaxQuestionLen int
	MaxAnswerLen   int
}

func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		Difficulties:   []string{"Basic", "Advanced"},
		Types:          []string{"Definition", "Problem", "GenConcept", "Calculation", "Analysis", "Question"},
		MaxTopicLen:    100,
		MaxSubtopicLen: 100,
		MaxQuestionLen: 5000,
		MaxAnswerLen:   10000,
	}
}

// Validate checks every rule independently and returns the failures in a
// stable order (field by field). An empty slice means the candidate is
// importable as far as its own content goes.
func (t Taxonomy) Validate(c Candidate) []types.FieldError {
	var errs []types.FieldError
	add := func(field, msg string) {
		errs = append(errs, types.FieldError{Field: field, Message: msg})
	}

	errs = append(errs, checkText("topic", c.Topic, t.MaxTopicLen, false)...)
	errs = append(errs, checkText("subtopic", c.Subtopic, t.MaxSubtopicLen, false)...)

	if !contains(t.Difficulties, c.Difficulty) {
		add("difficulty", fmt.Sprintf("invalid difficulty %q, must be one of: %s", c.Difficulty, strings.Join(t.Difficulties, ", ")))
	}
	if !contains(t.Types, c.Type) {
		add("type", fmt.Sprintf("invalid type %q, must be one of: %s", c.Type, strings.Join(t.Types, ", ")))
	}

	errs = append(errs, checkText("question", c.Question, t.MaxQuestionLen, true)...)
	errs = append(errs, checkText("answer", c.Answer, t.MaxAnswerLen, true)...)
	return errs
}

// checkText applies presence, length and control-character rules to one
// field. multiline fields tolerate \n and \t; single-line fields tolerate
// no control characters at all.
func checkText(field, val string, maxLen int, multiline bool) []types.FieldError {
	var errs []types.FieldError
	if strings.TrimSpace(val) == "" {
		errs = append(errs, types.FieldError{Field: field, Message: field + " cannot be empty"})
	}
	if len(val) > maxLen {
		errs = append(errs, types.FieldError{
			Field:   field,
			Message: fmt.Sprintf("%s exceeds %d characters (got %d)", field, maxLen, len(val)),
		})
	}
	for _, r := range val {
		if r == '\n' || r == '\t' {
			if multiline {
				continue
			}
			errs = append(errs, types.FieldError{Field: field, Message: field + " contains a control character"})
			return errs
		}
		if r < 0x20 || r == 0x7f {
			errs = append(errs, types.FieldError{Field: field, Message: field + " contains a control character"})
			return errs
		}
	}
	return errs
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
