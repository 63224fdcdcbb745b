// Package schema holds the static description of vertex and edge types: field
// names, order, declared types, and which fields carry entity identifiers.
// A Schema is loaded once before workers start and is read-only afterwards.
package schema

import (
	"errors"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	gojson "github.com/goccy/go-json"
)

var (
	// ErrUnknownType is returned when a type tag is not declared in the schema.
	ErrUnknownType = errors.New("unknown entity type")
	// ErrUnknownField is returned when a field name or index is not declared.
	ErrUnknownField = errors.New("unknown field")
	// ErrNoIDField is returned when a type declares no identifier field.
	ErrNoIDField = errors.New("entity type has no identifier field")
)

// Kind is the closed set of entity categories.
type Kind uint8

const (
	KindVertex Kind = iota
	KindEdge
)

func (k Kind) String() string {
	switch k {
	case KindVertex:
		return "vertex"
	case KindEdge:
		return "edge"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind converts a category string to a Kind. Unknown categories are an error.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "vertex":
		return KindVertex, nil
	case "edge":
		return KindEdge, nil
	default:
		return 0, fmt.Errorf("unrecognized entity category %q (want vertex or edge)", s)
	}
}

// FieldType is a declared field type.
type FieldType uint8

const (
	TypeInt64 FieldType = iota
	TypeUint8
	TypeFloat32
	TypeBytes
)

func (t FieldType) String() string {
	switch t {
	case TypeInt64:
		return "int64"
	case TypeUint8:
		return "uint8"
	case TypeFloat32:
		return "float32"
	case TypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(t))
	}
}

// ParseFieldType converts a declared type name to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch s {
	case "int64":
		return TypeInt64, nil
	case "uint8":
		return TypeUint8, nil
	case "float32":
		return TypeFloat32, nil
	case "bytes", "string":
		return TypeBytes, nil
	default:
		return 0, fmt.Errorf("unknown field dtype %q", s)
	}
}

// Field is one declared field of an entity type.
type Field struct {
	Name string
	Type FieldType
	ID   bool // field carries an entity identifier (dense-id substituted)
}

// EntityType is the ordered field layout for one vertex or edge type.
type EntityType struct {
	Kind   Kind
	Tag    uint8
	Fields []Field

	idFields []int // indexes of identifier fields, in schema order
	byName   map[string]int
}

// IDFields returns the indexes of identifier fields in schema order.
// For edges the first entry is the source endpoint, the second the destination.
func (et *EntityType) IDFields() []int {
	return et.idFields
}

// PrimaryID returns the index and declared type of the partition-key field:
// the entity identifier for vertices, the source endpoint for edges.
func (et *EntityType) PrimaryID() (int, FieldType) {
	idx := et.idFields[0]
	return idx, et.Fields[idx].Type
}

// FieldIndex returns the position of the named field.
func (et *EntityType) FieldIndex(name string) (int, error) {
	idx, ok := et.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s type %d has no field %q", ErrUnknownField, et.Kind, et.Tag, name)
	}
	return idx, nil
}

// FieldAt returns the declared field at idx.
func (et *EntityType) FieldAt(idx int) (Field, error) {
	if idx < 0 || idx >= len(et.Fields) {
		return Field{}, fmt.Errorf("%w: %s type %d has no field index %d", ErrUnknownField, et.Kind, et.Tag, idx)
	}
	return et.Fields[idx], nil
}

// Schema is the full type catalog for one conversion run.
type Schema struct {
	vertices map[uint8]*EntityType
	edges    map[uint8]*EntityType

	fingerprint uint64
}

// EntityType looks up the field layout for a type tag.
func (s *Schema) EntityType(kind Kind, tag uint8) (*EntityType, error) {
	var et *EntityType
	switch kind {
	case KindVertex:
		et = s.vertices[tag]
	case KindEdge:
		et = s.edges[tag]
	}
	if et == nil {
		return nil, fmt.Errorf("%w: %s type %d", ErrUnknownType, kind, tag)
	}
	return et, nil
}

// FieldIndex returns the position of the named field for a type tag.
func (s *Schema) FieldIndex(kind Kind, tag uint8, name string) (int, error) {
	et, err := s.EntityType(kind, tag)
	if err != nil {
		return 0, err
	}
	return et.FieldIndex(name)
}

// FieldType returns the declared type of the field at idx for a type tag.
func (s *Schema) FieldType(kind Kind, tag uint8, idx int) (FieldType, error) {
	et, err := s.EntityType(kind, tag)
	if err != nil {
		return 0, err
	}
	f, err := et.FieldAt(idx)
	if err != nil {
		return 0, err
	}
	return f.Type, nil
}

// VertexTags returns the declared vertex type tags.
func (s *Schema) VertexTags() []uint8 {
	return tags(s.vertices)
}

// EdgeTags returns the declared edge type tags.
func (s *Schema) EdgeTags() []uint8 {
	return tags(s.edges)
}

func tags(m map[uint8]*EntityType) []uint8 {
	out := make([]uint8, 0, len(m))
	for tag := range m {
		out = append(out, tag)
	}
	return out
}

// Fingerprint is the xxhash64 of the raw schema document. It is recorded in
// the run manifest so slice files can be matched to the schema that produced them.
func (s *Schema) Fingerprint() uint64 {
	return s.fingerprint
}

// schemaDoc is the on-disk JSON shape.
type schemaDoc struct {
	Vertices []entityDoc `json:"vertices"`
	Edges    []entityDoc `json:"edges"`
}

type entityDoc struct {
	Tag    uint8      `json:"tag"`
	Fields []fieldDoc `json:"fields"`
}

type fieldDoc struct {
	Name  string `json:"name"`
	Dtype string `json:"dtype"`
	ID    bool   `json:"id,omitempty"`
}

// Load reads and parses the schema artifact at path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a JSON schema document.
func Parse(data []byte) (*Schema, error) {
	var doc schemaDoc
	if err := gojson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if len(doc.Vertices) == 0 && len(doc.Edges) == 0 {
		return nil, fmt.Errorf("schema declares no vertex or edge types")
	}

	s := &Schema{
		vertices:    make(map[uint8]*EntityType, len(doc.Vertices)),
		edges:       make(map[uint8]*EntityType, len(doc.Edges)),
		fingerprint: xxhash.Sum64(data),
	}

	for _, ed := range doc.Vertices {
		et, err := buildEntityType(KindVertex, ed)
		if err != nil {
			return nil, err
		}
		if _, dup := s.vertices[et.Tag]; dup {
			return nil, fmt.Errorf("duplicate vertex type tag %d", et.Tag)
		}
		s.vertices[et.Tag] = et
	}
	for _, ed := range doc.Edges {
		et, err := buildEntityType(KindEdge, ed)
		if err != nil {
			return nil, err
		}
		if _, dup := s.edges[et.Tag]; dup {
			return nil, fmt.Errorf("duplicate edge type tag %d", et.Tag)
		}
		s.edges[et.Tag] = et
	}

	return s, nil
}

func buildEntityType(kind Kind, doc entityDoc) (*EntityType, error) {
	if len(doc.Fields) < 2 {
		return nil, fmt.Errorf("%s type %d: need at least a type tag field and one entity field", kind, doc.Tag)
	}

	et := &EntityType{
		Kind:   kind,
		Tag:    doc.Tag,
		Fields: make([]Field, 0, len(doc.Fields)),
		byName: make(map[string]int, len(doc.Fields)),
	}

	for i, fd := range doc.Fields {
		ft, err := ParseFieldType(fd.Dtype)
		if err != nil {
			return nil, fmt.Errorf("%s type %d field %q: %w", kind, doc.Tag, fd.Name, err)
		}
		if fd.Name == "" {
			return nil, fmt.Errorf("%s type %d: field %d has no name", kind, doc.Tag, i)
		}
		if _, dup := et.byName[fd.Name]; dup {
			return nil, fmt.Errorf("%s type %d: duplicate field name %q", kind, doc.Tag, fd.Name)
		}
		if fd.ID {
			if ft != TypeInt64 && ft != TypeBytes {
				return nil, fmt.Errorf("%s type %d field %q: identifier fields must be int64 or bytes, got %s",
					kind, doc.Tag, fd.Name, ft)
			}
			et.idFields = append(et.idFields, i)
		}
		et.byName[fd.Name] = i
		et.Fields = append(et.Fields, Field{Name: fd.Name, Type: ft, ID: fd.ID})
	}

	// Field 0 is the type tag in every raw record and must be uint8.
	if et.Fields[0].Type != TypeUint8 || et.Fields[0].ID {
		return nil, fmt.Errorf("%s type %d: field 0 must be the uint8 type tag", kind, doc.Tag)
	}

	if len(et.idFields) == 0 {
		return nil, fmt.Errorf("%s type %d: %w", kind, doc.Tag, ErrNoIDField)
	}
	if kind == KindEdge && len(et.idFields) < 2 {
		return nil, fmt.Errorf("edge type %d: need source and destination identifier fields", doc.Tag)
	}

	return et, nil
}
