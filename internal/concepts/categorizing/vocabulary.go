package categorizing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Tag is one vocabulary entry.
type Tag struct {
	Name     string
	Category string
}

// Vocabulary is the set of known tags, in file order.
type Vocabulary []Tag

// ParseVocabulary reads "tag,category" rows. A first row of exactly
// "tag,category" is treated as a header. Blank tags are skipped.
func ParseVocabulary(r io.Reader) (Vocabulary, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var vocab Vocabulary
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("vocabulary line %d: %w", line, err)
		}
		if line == 1 && len(rec) >= 2 && strings.EqualFold(rec[0], "tag") && strings.EqualFold(rec[1], "category") {
			continue
		}

		name := strings.TrimSpace(rec[0])
		if name == "" {
			continue
		}
		var category string
		if len(rec) > 1 {
			category = strings.TrimSpace(rec[1])
		}
		vocab = append(vocab, Tag{Name: name, Category: category})
	}
	return vocab, nil
}

// LoadVocabulary reads a vocabulary CSV file.
func LoadVocabulary(path string) (Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()
	return ParseVocabulary(f)
}

// Mentioned returns the tags whose name occurs in text, ignoring case.
func (v Vocabulary) Mentioned(text string) []Tag {
	lower := strings.ToLower(text)
	var out []Tag
	for _, t := range v {
		if strings.Contains(lower, strings.ToLower(t.Name)) {
			out = append(out, t)
		}
	}
	return out
}

// Closest returns the tag nearest to name by Levenshtein distance, and
// whether it lies within maxDistance.
func (v Vocabulary) Closest(name string, maxDistance int) (Tag, bool) {
	lower := strings.ToLower(name)
	best, bestDist := Tag{}, -1
	for _, t := range v {
		d := levenshtein.ComputeDistance(lower, strings.ToLower(t.Name))
		if bestDist < 0 || d < bestDist {
			best, bestDist = t, d
		}
	}
	return best, bestDist >= 0 && bestDist <= maxDistance
}

// SplitTags splits an author tag string on newlines and commas.
func SplitTags(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == ',' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
