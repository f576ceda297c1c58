package ingestion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yungbote/questionbank-backend/internal/types"
)

// Candidate is one raw question block lifted out of a source document,
// with the hierarchical context (topic/subtopic/difficulty/type) that was
// in effect at its starting line. Line is 1-based.
type Candidate struct {
	Topic         string
	Subtopic      string
	Difficulty    string
	Type          string
	Question      string
	Answer        string
	NotesForTutor string
	Line          int
}

var (
	topicRe      = regexp.MustCompile(`^#\s+Topic:\s*(.+)$`)
	subtopicRe   = regexp.MustCompile(`^##\s+(?:Subtopic[^:]*:\s*)?(.+)$`)
	difficultyRe = regexp.MustCompile(`^###\s+Difficulty:\s*(.+)$`)
	typeRe       = regexp.MustCompile(`^####\s+Type:\s*(.+)$`)
	questionRe   = regexp.MustCompile(`^\s*\*\*Question:\*\*\s*(.*)$`)
	answerRe     = regexp.MustCompile(`^\s*\*\*Answer:\*\*\s*(.*)$`)
	notesRe      = regexp.MustCompile(`^\s*\*\*Notes for Tutor:\*\*\s*(.*)$`)
)

const (
	modeNone = iota
	modeAnswer
	modeNotes
)

type openBlock struct {
	cand       Candidate
	answer     []string
	notes      []string
	seenAnswer bool
	mode       int
}

// Parse walks the document line by line. A `**Question:**` line is a block
// boundary; every boundary yields exactly one Candidate or one ParseError,
// so len(candidates)+len(errors) always equals the number of boundaries.
// Enum membership and field lengths are not checked here; that is the
// validator's job.
func Parse(document string) ([]Candidate, []types.ParseError) {
	var (
		candidates []Candidate
		parseErrs  []types.ParseError

		topic, subtopic, difficulty, qtype string
		cur                                *openBlock
	)

	finalize := func() {
		if cur == nil {
			return
		}
		if reason := cur.missing(); reason != "" {
			parseErrs = append(parseErrs, types.ParseError{Line: cur.cand.Line, Reason: reason})
		} else {
			cur.cand.Answer = strings.TrimSpace(strings.Join(cur.answer, "\n"))
			cur.cand.NotesForTutor = strings.TrimSpace(strings.Join(cur.notes, "\n"))
			candidates = append(candidates, cur.cand)
		}
		cur = nil
	}

	for i, line := range strings.Split(document, "\n") {
		lineNo := i + 1
		switch {
		case questionRe.MatchString(line):
			finalize()
			cur = &openBlock{
				cand: Candidate{
					Topic:      topic,
					Subtopic:   subtopic,
					Difficulty: difficulty,
					Type:       qtype,
					Question:   strings.TrimSpace(questionRe.FindStringSubmatch(line)[1]),
					Line:       lineNo,
				},
			}
		case answerRe.MatchString(line):
			if cur != nil {
				if rest := answerRe.FindStringSubmatch(line)[1]; rest != "" {
					cur.answer = append(cur.answer, rest)
				}
				cur.seenAnswer = true
				cur.mode = modeAnswer
			}
		case notesRe.MatchString(line):
			if cur != nil {
				if rest := notesRe.FindStringSubmatch(line)[1]; rest != "" {
					cur.notes = append(cur.notes, rest)
				}
				cur.mode = modeNotes
			}
		case typeRe.MatchString(line):
			qtype = strings.TrimSpace(typeRe.FindStringSubmatch(line)[1])
			stopAccumulating(cur)
		case difficultyRe.MatchString(line):
			difficulty = strings.TrimSpace(difficultyRe.FindStringSubmatch(line)[1])
			stopAccumulating(cur)
		case topicRe.MatchString(line):
			topic = strings.TrimSpace(topicRe.FindStringSubmatch(line)[1])
			stopAccumulating(cur)
		case strings.HasPrefix(line, "##") && subtopicRe.MatchString(line):
			subtopic = strings.TrimSpace(subtopicRe.FindStringSubmatch(line)[1])
			stopAccumulating(cur)
		default:
			if cur != nil {
				switch cur.mode {
				case modeAnswer:
					cur.answer = append(cur.answer, line)
				case modeNotes:
					cur.notes = append(cur.notes, line)
				}
			}
		}
	}
	finalize()
	return candidates, parseErrs
}

// missing returns the reason the block cannot become a candidate, or "".
// Only the first gap is reported; a reviewer fixing the document sees one
// actionable reason per block.
func (b *openBlock) missing() string {
	switch {
	case b.cand.Topic == "":
		return "question block has no preceding '# Topic:' header"
	case b.cand.Subtopic == "":
		return "question block has no preceding '## Subtopic:' header"
	case b.cand.Difficulty == "":
		return "question block has no preceding '### Difficulty:' header"
	case b.cand.Type == "":
		return "question block has no preceding '#### Type:' header"
	case !b.seenAnswer:
		return "question block is missing its '**Answer:**' marker"
	}
	return ""
}

func stopAccumulating(b *openBlock) {
	if b != nil {
		b.mode = modeNone
	}
}

// CountBoundaries reports how many block boundaries Parse would detect.
func CountBoundaries(document string) int {
	n := 0
	for _, line := range strings.Split(document, "\n") {
		if questionRe.MatchString(line) {
			n++
		}
	}
	return n
}

func (c Candidate) String() string {
	return fmt.Sprintf("candidate line %d (%s / %s)", c.Line, c.Topic, c.Subtopic)
}
