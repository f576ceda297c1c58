package ingestion

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxAssignAttempts bounds the collision-retry loop when claiming a
// sequence number for a base identifier. Exhausting it surfaces as a
// validation-class error on the single record, never the whole batch.
const MaxAssignAttempts = 10

const (
	maxTopicCodeLen    = 10
	maxSubtopicCodeLen = 8
)

var typeCodes = map[string]string{
	"GenConcept":  "G",
	"Problem":     "P",
	"Definition":  "D",
	"Calculation": "C",
	"Analysis":    "A",
}

var (
	parenAbbrevRe = regexp.MustCompile(`\(([^)]+)\)`)
	nonAlnumRe    = regexp.MustCompile(`[^A-Za-z0-9]`)
	nonAlnumSpRe  = regexp.MustCompile(`[^A-Za-z0-9\s]`)
	parenChunkRe  = regexp.MustCompile(`\([^)]*\)`)
	spaceRunRe    = regexp.MustCompile(`\s+`)
	seqSuffixRe   = regexp.MustCompile(`-(\d+)$`)
)

var topicStopwords = map[string]bool{
	"the": true, "and": true, "of": true, "for": true, "to": true,
	"in": true, "on": true, "at": true, "by": true,
}

// BaseID derives the sequence-less identifier stem, e.g.
// BaseID("Discounted Cash Flow (DCF)", "WACC Calculation", "Basic", "GenConcept")
// returns "DCF-WACC-B-G". Inputs are assumed validated.
func BaseID(topic, subtopic, difficulty, questionType string) string {
	return fmt.Sprintf("%s-%s-%s-%s",
		normalizeTopic(topic),
		normalizeSubtopic(subtopic),
		strings.ToUpper(difficulty[:1]),
		typeCode(questionType),
	)
}

// FormatID appends the zero-padded sequence: FormatID("DCF-WACC-B-G", 1)
// returns "DCF-WACC-B-G-001".
func FormatID(baseID string, sequence int) string {
	return fmt.Sprintf("%s-%03d", baseID, sequence)
}

// SequenceOf extracts the trailing sequence number from a full identifier,
// or 0 when the identifier carries none.
func SequenceOf(id string) int {
	m := seqSuffixRe.FindStringSubmatch(id)
	if m == nil {
		return 0
	}
	var n int
	fmt.Sscanf(m[1], "%d", &n)
	return n
}

func normalizeTopic(topic string) string {
	// A parenthesized abbreviation wins when it fits: "Discounted Cash
	// Flow (DCF)" -> "DCF".
	if m := parenAbbrevRe.FindStringSubmatch(topic); m != nil {
		abbrev := nonAlnumRe.ReplaceAllString(m[1], "")
		if abbrev != "" && len(abbrev) <= maxTopicCodeLen {
			return strings.ToUpper(abbrev)
		}
	}

	clean := parenChunkRe.ReplaceAllString(topic, "")
	clean = nonAlnumSpRe.ReplaceAllString(clean, "")
	words := strings.Fields(clean)

	significant := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 2 && !topicStopwords[strings.ToLower(w)] {
			significant = append(significant, w)
		}
	}
	if len(significant) == 0 {
		significant = words
	}
	if len(significant) == 0 {
		return "UNKNOWN"
	}
	if len(significant) == 1 {
		return strings.ToUpper(truncate(significant[0], maxTopicCodeLen))
	}

	var b strings.Builder
	for i, w := range significant {
		if i == 4 {
			break
		}
		b.WriteString(strings.ToUpper(w[:1]))
	}
	abbrev := b.String()
	if len(abbrev) < 3 {
		abbrev = strings.ToUpper(truncate(significant[0], 4))
	}
	return truncate(abbrev, maxTopicCodeLen)
}

func normalizeSubtopic(subtopic string) string {
	clean := nonAlnumSpRe.ReplaceAllString(subtopic, "")
	clean = strings.TrimSpace(spaceRunRe.ReplaceAllString(clean, " "))
	words := strings.Fields(clean)

	if len(words) == 0 {
		return "UNKNOWN"
	}
	if len(words) == 1 {
		return strings.ToUpper(truncate(words[0], maxSubtopicCodeLen))
	}

	// An existing all-caps token ("WACC Calculation") is already the code.
	for _, w := range words {
		if len(w) > 1 && w == strings.ToUpper(w) {
			return truncate(w, maxSubtopicCodeLen)
		}
	}

	var b strings.Builder
	for _, w := range words {
		b.WriteString(strings.ToUpper(w[:1]))
	}
	if initials := b.String(); len(initials) <= maxSubtopicCodeLen {
		return initials
	}

	if len(words[0]) <= 4 {
		var c strings.Builder
		c.WriteString(strings.ToUpper(words[0]))
		for _, w := range words[1:] {
			c.WriteString(strings.ToUpper(w[:1]))
		}
		return truncate(c.String(), maxSubtopicCodeLen)
	}

	return strings.ToUpper(truncate(words[0], maxSubtopicCodeLen))
}

func typeCode(questionType string) string {
	if code, ok := typeCodes[questionType]; ok {
		return code
	}
	return "G"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
