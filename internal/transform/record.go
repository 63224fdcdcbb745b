package transform

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/graphmill/graphmill/internal/schema"
	"github.com/graphmill/graphmill/pkg/models"
)

// Binary record layout, little-endian:
//
//	[tag u8] then per field in schema order (field 0 is the tag itself):
//	  identifier: [dense u64]
//	  int64:      [count u16][v i64]...
//	  uint8:      [count u16][v u8]...
//	  float32:    [count u16][v f32]...
//	  bytes:      [count u16]([len u32][data])...
//
// Single-valued fields carry count=1; multi-token groups their natural count.

// maxGroupTokens bounds a repeated field group (u16 count prefix).
const maxGroupTokens = math.MaxUint16

// ErrTruncatedRecord marks a binary record that ends before its schema says it should.
var ErrTruncatedRecord = errors.New("truncated binary record")

// ParsedRecord is a raw record validated and parsed against its entity type,
// with raw identifiers still unsubstituted. Parsing is the failure phase:
// a record that parses cleanly encodes without error, so malformed input
// never consumes dense ids.
type ParsedRecord struct {
	tag    uint8
	fields []parsedField
}

type parsedField struct {
	spec   schema.Field
	rawID  []byte
	ints   []int64
	uints  []uint8
	floats []float32
	blobs  [][]byte
}

// Tag returns the entity type tag of the parsed record.
func (pr *ParsedRecord) Tag() uint8 {
	return pr.tag
}

// RawID returns the unsubstituted raw identifier of field idx, or nil if the
// field is not an identifier.
func (pr *ParsedRecord) RawID(idx int) []byte {
	if idx < 0 || idx >= len(pr.fields) {
		return nil
	}
	return pr.fields[idx].rawID
}

// ParseRecord validates a raw record against the entity type and parses every
// field group into its declared type. Errors name the failing field.
func ParseRecord(rec models.RawRecord, et *schema.EntityType) (*ParsedRecord, error) {
	if len(rec) != len(et.Fields) {
		return nil, fmt.Errorf("%w: record has %d field groups, %s type %d declares %d",
			ErrFieldCount, len(rec), et.Kind, et.Tag, len(et.Fields))
	}

	pr := &ParsedRecord{
		tag:    et.Tag,
		fields: make([]parsedField, 0, len(et.Fields)),
	}

	for i, spec := range et.Fields {
		tokens := rec[i]
		pf, err := parseField(tokens, spec, i == 0, et.Tag)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", spec.Name, err)
		}
		pr.fields = append(pr.fields, pf)
	}

	return pr, nil
}

func parseField(tokens []string, spec schema.Field, isTag bool, tag uint8) (parsedField, error) {
	pf := parsedField{spec: spec}

	if len(tokens) == 0 {
		return pf, fmt.Errorf("%w: empty field group", ErrBadValue)
	}
	if len(tokens) > maxGroupTokens {
		return pf, fmt.Errorf("%w: %d tokens exceed the repeated group limit", ErrBadValue, len(tokens))
	}

	if spec.ID {
		if len(tokens) != 1 {
			return pf, fmt.Errorf("%w: got %d tokens", ErrSingleToken, len(tokens))
		}
		if spec.Type == schema.TypeInt64 {
			if _, err := strconv.ParseInt(tokens[0], 10, 64); err != nil {
				return pf, fmt.Errorf("%w: %q is not an int64 identifier", ErrBadValue, tokens[0])
			}
		}
		pf.rawID = []byte(tokens[0])
		return pf, nil
	}

	if isTag {
		// Field 0 is the type tag position: exactly one token, and it must
		// agree with the type the record resolved to.
		if len(tokens) != 1 {
			return pf, fmt.Errorf("%w: type tag field got %d tokens", ErrBadValue, len(tokens))
		}
		v, err := strconv.ParseUint(tokens[0], 10, 8)
		if err != nil {
			return pf, fmt.Errorf("%w: %q is not a uint8 type tag", ErrBadValue, tokens[0])
		}
		if uint8(v) != tag {
			return pf, fmt.Errorf("%w: type tag %d does not match resolved type %d", ErrBadValue, v, tag)
		}
		pf.uints = []uint8{uint8(v)}
		return pf, nil
	}

	switch spec.Type {
	case schema.TypeInt64:
		pf.ints = make([]int64, 0, len(tokens))
		for _, tok := range tokens {
			v, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				return pf, fmt.Errorf("%w: %q is not an int64", ErrBadValue, tok)
			}
			pf.ints = append(pf.ints, v)
		}
	case schema.TypeUint8:
		pf.uints = make([]uint8, 0, len(tokens))
		for _, tok := range tokens {
			v, err := strconv.ParseUint(tok, 10, 8)
			if err != nil {
				return pf, fmt.Errorf("%w: %q is not a uint8", ErrBadValue, tok)
			}
			pf.uints = append(pf.uints, uint8(v))
		}
	case schema.TypeFloat32:
		pf.floats = make([]float32, 0, len(tokens))
		for _, tok := range tokens {
			v, err := strconv.ParseFloat(tok, 32)
			if err != nil {
				return pf, fmt.Errorf("%w: %q is not a float32", ErrBadValue, tok)
			}
			pf.floats = append(pf.floats, float32(v))
		}
	case schema.TypeBytes:
		pf.blobs = make([][]byte, 0, len(tokens))
		for _, tok := range tokens {
			pf.blobs = append(pf.blobs, []byte(tok))
		}
	default:
		return pf, fmt.Errorf("%w: unsupported declared type %s", ErrBadValue, spec.Type)
	}

	return pf, nil
}

// ResolveID maps a raw identifier to its dense id. It must be total.
type ResolveID func(raw []byte) uint64

// EncodeRecord lays out a parsed record as a binary record, substituting every
// identifier field with the dense id resolve returns for its raw bytes.
// The returned buffer is freshly allocated and owned by the caller.
func EncodeRecord(pr *ParsedRecord, resolve ResolveID) models.BinaryRecord {
	buf := make([]byte, 0, encodedSizeHint(pr))
	buf = append(buf, pr.tag)

	var scratch [8]byte
	for i, pf := range pr.fields {
		if i == 0 {
			// The leading tag byte is field 0's encoding.
			continue
		}

		if pf.spec.ID {
			binary.LittleEndian.PutUint64(scratch[:], resolve(pf.rawID))
			buf = append(buf, scratch[:8]...)
			continue
		}

		switch pf.spec.Type {
		case schema.TypeInt64:
			binary.LittleEndian.PutUint16(scratch[:2], uint16(len(pf.ints)))
			buf = append(buf, scratch[:2]...)
			for _, v := range pf.ints {
				binary.LittleEndian.PutUint64(scratch[:], uint64(v))
				buf = append(buf, scratch[:8]...)
			}
		case schema.TypeUint8:
			binary.LittleEndian.PutUint16(scratch[:2], uint16(len(pf.uints)))
			buf = append(buf, scratch[:2]...)
			buf = append(buf, pf.uints...)
		case schema.TypeFloat32:
			binary.LittleEndian.PutUint16(scratch[:2], uint16(len(pf.floats)))
			buf = append(buf, scratch[:2]...)
			for _, v := range pf.floats {
				binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(v))
				buf = append(buf, scratch[:4]...)
			}
		case schema.TypeBytes:
			binary.LittleEndian.PutUint16(scratch[:2], uint16(len(pf.blobs)))
			buf = append(buf, scratch[:2]...)
			for _, b := range pf.blobs {
				binary.LittleEndian.PutUint32(scratch[:4], uint32(len(b)))
				buf = append(buf, scratch[:4]...)
				buf = append(buf, b...)
			}
		}
	}

	return buf
}

func encodedSizeHint(pr *ParsedRecord) int {
	n := 1
	for _, pf := range pr.fields {
		switch {
		case pf.spec.ID:
			n += 8
		case pf.spec.Type == schema.TypeBytes:
			n += 2
			for _, b := range pf.blobs {
				n += 4 + len(b)
			}
		default:
			n += 2 + 8*(len(pf.ints)+len(pf.uints)+len(pf.floats))
		}
	}
	return n
}

// DecodedRecord is the field-by-field reconstruction of a binary record.
type DecodedRecord struct {
	Tag    uint8
	Fields []DecodedField
}

// DecodedField is one reconstructed field; exactly one of the value slices is
// populated, matching the declared type. Identifier fields carry DenseID.
type DecodedField struct {
	Name    string
	Type    schema.FieldType
	ID      bool
	DenseID uint64
	Ints    []int64
	Uints   []uint8
	Floats  []float32
	Blobs   [][]byte
}

// DecodeRecord reconstructs every field of a binary record given its entity
// type. Inverse of EncodeRecord: no information is lost for declared types.
func DecodeRecord(rec models.BinaryRecord, et *schema.EntityType) (*DecodedRecord, error) {
	if len(rec) < 1 {
		return nil, ErrTruncatedRecord
	}
	if rec[0] != et.Tag {
		return nil, fmt.Errorf("record tag %d does not match %s type %d", rec[0], et.Kind, et.Tag)
	}

	dr := &DecodedRecord{
		Tag:    rec[0],
		Fields: make([]DecodedField, 0, len(et.Fields)),
	}
	pos := 1

	for i, spec := range et.Fields {
		df := DecodedField{Name: spec.Name, Type: spec.Type, ID: spec.ID}

		if i == 0 {
			df.Uints = []uint8{dr.Tag}
			dr.Fields = append(dr.Fields, df)
			continue
		}

		if spec.ID {
			if pos+8 > len(rec) {
				return nil, fmt.Errorf("field %q: %w", spec.Name, ErrTruncatedRecord)
			}
			df.DenseID = binary.LittleEndian.Uint64(rec[pos:])
			pos += 8
			dr.Fields = append(dr.Fields, df)
			continue
		}

		if pos+2 > len(rec) {
			return nil, fmt.Errorf("field %q: %w", spec.Name, ErrTruncatedRecord)
		}
		count := int(binary.LittleEndian.Uint16(rec[pos:]))
		pos += 2

		switch spec.Type {
		case schema.TypeInt64:
			if pos+8*count > len(rec) {
				return nil, fmt.Errorf("field %q: %w", spec.Name, ErrTruncatedRecord)
			}
			df.Ints = make([]int64, count)
			for j := 0; j < count; j++ {
				df.Ints[j] = int64(binary.LittleEndian.Uint64(rec[pos:]))
				pos += 8
			}
		case schema.TypeUint8:
			if pos+count > len(rec) {
				return nil, fmt.Errorf("field %q: %w", spec.Name, ErrTruncatedRecord)
			}
			df.Uints = make([]uint8, count)
			copy(df.Uints, rec[pos:pos+count])
			pos += count
		case schema.TypeFloat32:
			if pos+4*count > len(rec) {
				return nil, fmt.Errorf("field %q: %w", spec.Name, ErrTruncatedRecord)
			}
			df.Floats = make([]float32, count)
			for j := 0; j < count; j++ {
				df.Floats[j] = math.Float32frombits(binary.LittleEndian.Uint32(rec[pos:]))
				pos += 4
			}
		case schema.TypeBytes:
			df.Blobs = make([][]byte, count)
			for j := 0; j < count; j++ {
				if pos+4 > len(rec) {
					return nil, fmt.Errorf("field %q: %w", spec.Name, ErrTruncatedRecord)
				}
				l := int(binary.LittleEndian.Uint32(rec[pos:]))
				pos += 4
				if pos+l > len(rec) {
					return nil, fmt.Errorf("field %q: %w", spec.Name, ErrTruncatedRecord)
				}
				df.Blobs[j] = append([]byte(nil), rec[pos:pos+l]...)
				pos += l
			}
		}

		dr.Fields = append(dr.Fields, df)
	}

	if pos != len(rec) {
		return nil, fmt.Errorf("record has %d trailing bytes", len(rec)-pos)
	}

	return dr, nil
}
