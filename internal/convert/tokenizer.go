// Package convert orchestrates a conversion run: it tokenizes raw delimited
// records, transforms them against the schema, substitutes dense ids, and
// hands the resulting binary records to the slice writer.
package convert

import (
	"strings"

	"github.com/graphmill/graphmill/pkg/models"
)

// Tokenizer splits one raw input line into field groups and tokens.
// Fields are separated by the field delimiter, tokens inside a field group by
// the token delimiter (repeated values, e.g. neighbor weights).
type Tokenizer struct {
	fieldDelim string
	tokenDelim string
}

// NewTokenizer creates a tokenizer. An empty tokenDelim disables multi-token
// groups: every field group carries exactly one token.
func NewTokenizer(fieldDelim, tokenDelim string) *Tokenizer {
	if fieldDelim == "" {
		fieldDelim = "\t"
	}
	return &Tokenizer{fieldDelim: fieldDelim, tokenDelim: tokenDelim}
}

// Split tokenizes a line. Returns nil for blank lines and '#' comments.
func (t *Tokenizer) Split(line string) models.RawRecord {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == '#' {
		return nil
	}

	fields := strings.Split(line, t.fieldDelim)
	rec := make(models.RawRecord, 0, len(fields))
	for _, f := range fields {
		if t.tokenDelim == "" {
			rec = append(rec, []string{f})
			continue
		}
		rec = append(rec, strings.Split(f, t.tokenDelim))
	}
	return rec
}
