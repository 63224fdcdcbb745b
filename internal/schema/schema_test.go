package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "vertices": [
    {"tag": 0, "fields": [
      {"name": "vtype", "dtype": "uint8"},
      {"name": "vertex_id", "dtype": "int64", "id": true},
      {"name": "weight", "dtype": "float32"},
      {"name": "attrs", "dtype": "bytes"}
    ]}
  ],
  "edges": [
    {"tag": 0, "fields": [
      {"name": "etype", "dtype": "uint8"},
      {"name": "src_id", "dtype": "int64", "id": true},
      {"name": "dst_id", "dtype": "int64", "id": true},
      {"name": "weight", "dtype": "uint8"}
    ]},
    {"tag": 1, "fields": [
      {"name": "etype", "dtype": "uint8"},
      {"name": "src_id", "dtype": "bytes", "id": true},
      {"name": "dst_id", "dtype": "bytes", "id": true},
      {"name": "ts", "dtype": "int64"}
    ]}
  ]
}`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(testSchema))
	require.NoError(t, err)

	assert.ElementsMatch(t, []uint8{0}, s.VertexTags())
	assert.ElementsMatch(t, []uint8{0, 1}, s.EdgeTags())
	assert.NotZero(t, s.Fingerprint())

	et, err := s.EntityType(KindEdge, 0)
	require.NoError(t, err)
	assert.Equal(t, KindEdge, et.Kind)
	assert.Len(t, et.Fields, 4)

	idx, ft := et.PrimaryID()
	assert.Equal(t, 1, idx)
	assert.Equal(t, TypeInt64, ft)
	assert.Equal(t, []int{1, 2}, et.IDFields())
}

func TestParse_FingerprintStable(t *testing.T) {
	s1, err := Parse([]byte(testSchema))
	require.NoError(t, err)
	s2, err := Parse([]byte(testSchema))
	require.NoError(t, err)
	assert.Equal(t, s1.Fingerprint(), s2.Fingerprint())
}

func TestLookups(t *testing.T) {
	s, err := Parse([]byte(testSchema))
	require.NoError(t, err)

	idx, err := s.FieldIndex(KindEdge, 0, "dst_id")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	ft, err := s.FieldType(KindEdge, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, TypeUint8, ft)

	_, err = s.FieldIndex(KindEdge, 0, "nope")
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = s.FieldType(KindEdge, 0, 9)
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = s.EntityType(KindEdge, 7)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = s.EntityType(KindVertex, 1)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", `{}`},
		{"garbage", `{"vertices": [`},
		{"no id field", `{"vertices": [{"tag": 0, "fields": [
			{"name": "vtype", "dtype": "uint8"},
			{"name": "weight", "dtype": "float32"}]}]}`},
		{"edge with one endpoint", `{"edges": [{"tag": 0, "fields": [
			{"name": "etype", "dtype": "uint8"},
			{"name": "src_id", "dtype": "int64", "id": true}]}]}`},
		{"float identifier", `{"vertices": [{"tag": 0, "fields": [
			{"name": "vtype", "dtype": "uint8"},
			{"name": "vertex_id", "dtype": "float32", "id": true}]}]}`},
		{"bad dtype", `{"vertices": [{"tag": 0, "fields": [
			{"name": "vtype", "dtype": "uint8"},
			{"name": "vertex_id", "dtype": "int128", "id": true}]}]}`},
		{"field 0 not uint8", `{"vertices": [{"tag": 0, "fields": [
			{"name": "vtype", "dtype": "int64"},
			{"name": "vertex_id", "dtype": "int64", "id": true}]}]}`},
		{"duplicate tag", `{"vertices": [
			{"tag": 0, "fields": [
				{"name": "vtype", "dtype": "uint8"},
				{"name": "vertex_id", "dtype": "int64", "id": true}]},
			{"tag": 0, "fields": [
				{"name": "vtype", "dtype": "uint8"},
				{"name": "vertex_id", "dtype": "int64", "id": true}]}]}`},
		{"duplicate field name", `{"vertices": [{"tag": 0, "fields": [
			{"name": "vtype", "dtype": "uint8"},
			{"name": "vtype", "dtype": "int64", "id": true}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("vertex")
	require.NoError(t, err)
	assert.Equal(t, KindVertex, k)

	k, err = ParseKind("edge")
	require.NoError(t, err)
	assert.Equal(t, KindEdge, k)

	_, err = ParseKind("hyperedge")
	assert.Error(t, err)
	_, err = ParseKind("")
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "vertex", KindVertex.String())
	assert.Equal(t, "edge", KindEdge.String())
}
