package models

// RawRecord is the tokenized form of one input line: an ordered sequence of
// field groups, each group an ordered sequence of raw text tokens. Multi-token
// groups carry repeated values (e.g. neighbor weights). A RawRecord is produced
// by the tokenizer, consumed immediately by a conversion worker, and not
// retained afterwards.
type RawRecord [][]string

// FieldGroup returns the tokens of field i, or nil if the record has fewer fields.
func (r RawRecord) FieldGroup(i int) []string {
	if i < 0 || i >= len(r) {
		return nil
	}
	return r[i]
}

// BinaryRecord is the canonical fixed-layout encoding of one converted entity:
// a type tag byte followed by the fields in schema order, identifier fields
// already substituted with their dense ids. The producer owns the buffer until
// it is handed to a slice writer.
type BinaryRecord []byte

// DenseID is the compact, zero-based integer identifier assigned to one unique
// raw entity identifier for the lifetime of a conversion run.
type DenseID = uint64
