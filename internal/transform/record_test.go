package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/internal/schema"
	"github.com/graphmill/graphmill/pkg/models"
)

const testSchema = `{
  "vertices": [
    {"tag": 2, "fields": [
      {"name": "vtype", "dtype": "uint8"},
      {"name": "vertex_id", "dtype": "bytes", "id": true},
      {"name": "weight", "dtype": "float32"},
      {"name": "nbr_weights", "dtype": "float32"},
      {"name": "attrs", "dtype": "bytes"}
    ]}
  ],
  "edges": [
    {"tag": 0, "fields": [
      {"name": "etype", "dtype": "uint8"},
      {"name": "src_id", "dtype": "int64", "id": true},
      {"name": "dst_id", "dtype": "int64", "id": true},
      {"name": "weight", "dtype": "uint8"},
      {"name": "ts", "dtype": "int64"}
    ]}
  ]
}`

func loadTestSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	return s
}

func identityResolve(t *testing.T) (ResolveID, map[string]uint64) {
	t.Helper()
	assigned := make(map[string]uint64)
	return func(raw []byte) uint64 {
		if id, ok := assigned[string(raw)]; ok {
			return id
		}
		id := uint64(len(assigned))
		assigned[string(raw)] = id
		return id
	}, assigned
}

func TestParseEncodeDecode_Edge(t *testing.T) {
	s := loadTestSchema(t)
	et, err := s.EntityType(schema.KindEdge, 0)
	require.NoError(t, err)

	raw := models.RawRecord{
		{"0"},
		{"10"},
		{"20"},
		{"5"},
		{"1699999999"},
	}

	pr, err := ParseRecord(raw, et)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), pr.Tag())
	assert.Equal(t, []byte("10"), pr.RawID(1))
	assert.Equal(t, []byte("20"), pr.RawID(2))
	assert.Nil(t, pr.RawID(3))

	resolve, assigned := identityResolve(t)
	rec := EncodeRecord(pr, resolve)
	require.NotEmpty(t, rec)
	assert.Equal(t, 2, len(assigned))

	dr, err := DecodeRecord(rec, et)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), dr.Tag)
	require.Len(t, dr.Fields, 5)

	assert.Equal(t, []uint8{0}, dr.Fields[0].Uints)
	assert.True(t, dr.Fields[1].ID)
	assert.Equal(t, assigned["10"], dr.Fields[1].DenseID)
	assert.Equal(t, assigned["20"], dr.Fields[2].DenseID)
	assert.Equal(t, []uint8{5}, dr.Fields[3].Uints)
	assert.Equal(t, []int64{1699999999}, dr.Fields[4].Ints)
}

func TestParseEncodeDecode_VertexMultiToken(t *testing.T) {
	s := loadTestSchema(t)
	et, err := s.EntityType(schema.KindVertex, 2)
	require.NoError(t, err)

	raw := models.RawRecord{
		{"2"},
		{"item-77"},
		{"0.5"},
		{"1.5", "2.25", "-0.125"}, // repeated neighbor weights
		{"color=red", "size=xl"},
	}

	pr, err := ParseRecord(raw, et)
	require.NoError(t, err)

	resolve, assigned := identityResolve(t)
	rec := EncodeRecord(pr, resolve)

	dr, err := DecodeRecord(rec, et)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), dr.Tag)
	assert.Equal(t, assigned["item-77"], dr.Fields[1].DenseID)
	assert.Equal(t, []float32{0.5}, dr.Fields[2].Floats)
	assert.Equal(t, []float32{1.5, 2.25, -0.125}, dr.Fields[3].Floats)
	require.Len(t, dr.Fields[4].Blobs, 2)
	assert.Equal(t, []byte("color=red"), dr.Fields[4].Blobs[0])
	assert.Equal(t, []byte("size=xl"), dr.Fields[4].Blobs[1])
}

func TestParseRecord_Errors(t *testing.T) {
	s := loadTestSchema(t)
	et, err := s.EntityType(schema.KindEdge, 0)
	require.NoError(t, err)

	tests := []struct {
		name    string
		raw     models.RawRecord
		wantErr error
		field   string
	}{
		{
			name:    "too few fields",
			raw:     models.RawRecord{{"0"}, {"10"}, {"20"}},
			wantErr: ErrFieldCount,
		},
		{
			name:    "too many fields",
			raw:     models.RawRecord{{"0"}, {"10"}, {"20"}, {"5"}, {"1"}, {"extra"}},
			wantErr: ErrFieldCount,
		},
		{
			name:    "non-numeric identifier",
			raw:     models.RawRecord{{"0"}, {"abc"}, {"20"}, {"5"}, {"1"}},
			wantErr: ErrBadValue,
			field:   "src_id",
		},
		{
			name:    "multi-token identifier",
			raw:     models.RawRecord{{"0"}, {"10", "11"}, {"20"}, {"5"}, {"1"}},
			wantErr: ErrSingleToken,
			field:   "src_id",
		},
		{
			name:    "uint8 overflow",
			raw:     models.RawRecord{{"0"}, {"10"}, {"20"}, {"300"}, {"1"}},
			wantErr: ErrBadValue,
			field:   "weight",
		},
		{
			name:    "empty group",
			raw:     models.RawRecord{{"0"}, {"10"}, {"20"}, {}, {"1"}},
			wantErr: ErrBadValue,
			field:   "weight",
		},
		{
			name:    "tag mismatch",
			raw:     models.RawRecord{{"3"}, {"10"}, {"20"}, {"5"}, {"1"}},
			wantErr: ErrBadValue,
			field:   "etype",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord(tt.raw, et)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.field != "" {
				assert.Contains(t, err.Error(), tt.field, "error must identify the failing field")
			}
		})
	}
}

func TestDecodeRecord_Truncated(t *testing.T) {
	s := loadTestSchema(t)
	et, err := s.EntityType(schema.KindEdge, 0)
	require.NoError(t, err)

	raw := models.RawRecord{{"0"}, {"10"}, {"20"}, {"5"}, {"1"}}
	pr, err := ParseRecord(raw, et)
	require.NoError(t, err)
	resolve, _ := identityResolve(t)
	rec := EncodeRecord(pr, resolve)

	for cut := 1; cut < len(rec); cut++ {
		_, err := DecodeRecord(rec[:cut], et)
		assert.Error(t, err, "cut at %d must not decode", cut)
	}

	_, err = DecodeRecord(nil, et)
	assert.ErrorIs(t, err, ErrTruncatedRecord)

	// Trailing garbage is rejected too.
	_, err = DecodeRecord(append(append(models.BinaryRecord{}, rec...), 0xFF), et)
	assert.Error(t, err)
}

func TestDecodeRecord_WrongType(t *testing.T) {
	s := loadTestSchema(t)
	edge, err := s.EntityType(schema.KindEdge, 0)
	require.NoError(t, err)
	vertex, err := s.EntityType(schema.KindVertex, 2)
	require.NoError(t, err)

	raw := models.RawRecord{{"0"}, {"10"}, {"20"}, {"5"}, {"1"}}
	pr, err := ParseRecord(raw, edge)
	require.NoError(t, err)
	resolve, _ := identityResolve(t)
	rec := EncodeRecord(pr, resolve)

	_, err = DecodeRecord(rec, vertex)
	assert.Error(t, err)
}

func TestEncodeRecord_DistinctPayloads(t *testing.T) {
	s := loadTestSchema(t)
	et, err := s.EntityType(schema.KindEdge, 0)
	require.NoError(t, err)

	resolve, _ := identityResolve(t)

	pr1, err := ParseRecord(models.RawRecord{{"0"}, {"10"}, {"20"}, {"5"}, {"1"}}, et)
	require.NoError(t, err)
	pr2, err := ParseRecord(models.RawRecord{{"0"}, {"10"}, {"30"}, {"7"}, {"1"}}, et)
	require.NoError(t, err)

	rec1 := EncodeRecord(pr1, resolve)
	rec2 := EncodeRecord(pr2, resolve)

	assert.NotEqual(t, rec1, rec2)
	// Same source identifier resolves to the same dense id in both.
	dr1, err := DecodeRecord(rec1, et)
	require.NoError(t, err)
	dr2, err := DecodeRecord(rec2, et)
	require.NoError(t, err)
	assert.Equal(t, dr1.Fields[1].DenseID, dr2.Fields[1].DenseID)
	assert.NotEqual(t, dr1.Fields[2].DenseID, dr2.Fields[2].DenseID)
}
