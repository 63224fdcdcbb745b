package convert

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/internal/idalloc"
	"github.com/graphmill/graphmill/internal/schema"
	"github.com/graphmill/graphmill/internal/transform"
	"github.com/graphmill/graphmill/pkg/models"
)

const testSchema = `{
  "vertices": [
    {"tag": 2, "fields": [
      {"name": "vtype", "dtype": "uint8"},
      {"name": "vertex_id", "dtype": "bytes", "id": true},
      {"name": "weight", "dtype": "float32"}
    ]}
  ],
  "edges": [
    {"tag": 0, "fields": [
      {"name": "etype", "dtype": "uint8"},
      {"name": "src_id", "dtype": "int64", "id": true},
      {"name": "dst_id", "dtype": "int64", "id": true},
      {"name": "weight", "dtype": "uint8"}
    ]}
  ]
}`

func loadTestSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	return s
}

// memWriter collects written records per slice.
type memWriter struct {
	mu     sync.Mutex
	slices map[int][]models.BinaryRecord
	err    error
}

func newMemWriter() *memWriter {
	return &memWriter{slices: make(map[int][]models.BinaryRecord)}
}

func (m *memWriter) Write(sliceID int, rec models.BinaryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.slices[sliceID] = append(m.slices[sliceID], rec)
	return nil
}

func (m *memWriter) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, recs := range m.slices {
		n += len(recs)
	}
	return n
}

func newTestWorker(t *testing.T, kind schema.Kind, alloc *idalloc.Allocator, w SliceWriter, sliceCount int) (*Worker, *Stats) {
	t.Helper()
	stats := &Stats{}
	wk, err := NewWorker(kind, loadTestSchema(t), alloc, w, sliceCount, stats, zerolog.Nop())
	require.NoError(t, err)
	return wk, stats
}

func TestWorker_EdgesSharingSourceLandTogether(t *testing.T) {
	alloc := idalloc.New()
	out := newMemWriter()
	wk, stats := newTestWorker(t, schema.KindEdge, alloc, out, 4)

	require.NoError(t, wk.ConvertRecord(models.RawRecord{{"0"}, {"10"}, {"20"}, {"5"}}))
	require.NoError(t, wk.ConvertRecord(models.RawRecord{{"0"}, {"10"}, {"30"}, {"7"}}))

	// Both edges share source 10, so both land in slice 10 % 4 = 2.
	require.Len(t, out.slices[2], 2)
	assert.Equal(t, 2, out.total())

	sch := loadTestSchema(t)
	et, err := sch.EntityType(schema.KindEdge, 0)
	require.NoError(t, err)

	first, err := transform.DecodeRecord(out.slices[2][0], et)
	require.NoError(t, err)
	second, err := transform.DecodeRecord(out.slices[2][1], et)
	require.NoError(t, err)

	// The shared source id maps to one dense id; the distinct targets do not.
	assert.Equal(t, first.Fields[1].DenseID, second.Fields[1].DenseID)
	assert.NotEqual(t, first.Fields[2].DenseID, second.Fields[2].DenseID)
	assert.NotEqual(t, first.Fields[3].Uints, second.Fields[3].Uints)

	sum := stats.Snapshot()
	assert.Equal(t, uint64(2), sum.Converted)
	assert.Equal(t, uint64(2), sum.Edges)
	assert.Equal(t, uint64(0), sum.Malformed)
	assert.Equal(t, uint64(3), alloc.Len())
}

func TestWorker_MalformedSkippedWithoutAllocating(t *testing.T) {
	alloc := idalloc.New()
	out := newMemWriter()
	wk, stats := newTestWorker(t, schema.KindEdge, alloc, out, 4)

	cases := []models.RawRecord{
		{{"0"}, {"abc"}, {"20"}, {"5"}},          // non-numeric source id
		{{"0"}, {"10"}, {"20"}},                  // missing field
		{{"9"}, {"10"}, {"20"}, {"5"}},           // unknown type tag
		{{"0"}, {"10"}, {"20"}, {"999"}},         // weight out of uint8 range
		{{"0"}, {"10", "11"}, {"20"}, {"5"}},     // multi-token identifier
		{{"x"}, {"10"}, {"20"}, {"5"}},           // non-numeric tag
	}
	for _, rec := range cases {
		require.NoError(t, wk.ConvertRecord(rec))
	}

	sum := stats.Snapshot()
	assert.Equal(t, uint64(len(cases)), sum.Malformed)
	assert.Equal(t, uint64(0), sum.Converted)
	assert.Equal(t, 0, out.total())
	// No malformed record may consume a dense id.
	assert.Equal(t, uint64(0), alloc.Len())
}

func TestWorker_PartialParseFailureAllocatesNothing(t *testing.T) {
	alloc := idalloc.New()
	out := newMemWriter()
	wk, _ := newTestWorker(t, schema.KindEdge, alloc, out, 4)

	// Source id parses, weight does not. The record must be rejected as a
	// whole with no id assigned for the source.
	require.NoError(t, wk.ConvertRecord(models.RawRecord{{"0"}, {"10"}, {"20"}, {"bad"}}))
	assert.Equal(t, uint64(0), alloc.Len())

	// A later valid record still gets dense id 0 for its source.
	require.NoError(t, wk.ConvertRecord(models.RawRecord{{"0"}, {"10"}, {"20"}, {"5"}}))
	id, ok := alloc.Lookup([]byte("10"))
	require.True(t, ok)
	assert.Equal(t, uint64(0), id)
}

func TestWorker_VertexPartitionByBytesID(t *testing.T) {
	alloc := idalloc.New()
	out := newMemWriter()
	wk, stats := newTestWorker(t, schema.KindVertex, alloc, out, 8)

	ids := []string{"user-a", "user-b", "user-c", "user-d"}
	for _, id := range ids {
		rec := models.RawRecord{{"2"}, {id}, {"1.5"}}
		require.NoError(t, wk.ConvertRecord(rec))

		want, err := transform.ComputeSliceID(id, schema.TypeBytes, 8)
		require.NoError(t, err)
		got := out.slices[want]
		require.NotEmpty(t, got, "record for %q missing from slice %d", id, want)
	}

	sum := stats.Snapshot()
	assert.Equal(t, uint64(4), sum.Vertices)
	assert.Equal(t, uint64(4), alloc.Len())
}

func TestWorker_WriterErrorIsFatal(t *testing.T) {
	alloc := idalloc.New()
	out := newMemWriter()
	out.err = assert.AnError
	wk, _ := newTestWorker(t, schema.KindEdge, alloc, out, 4)

	err := wk.ConvertRecord(models.RawRecord{{"0"}, {"10"}, {"20"}, {"5"}})
	require.ErrorIs(t, err, assert.AnError)
}

func TestNewWorker_MissingCollaborators(t *testing.T) {
	sch := loadTestSchema(t)
	alloc := idalloc.New()
	out := newMemWriter()
	stats := &Stats{}

	_, err := NewWorker(schema.KindEdge, nil, alloc, out, 4, stats, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = NewWorker(schema.KindEdge, sch, nil, out, 4, stats, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = NewWorker(schema.KindEdge, sch, alloc, nil, 4, stats, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = NewWorker(schema.KindEdge, sch, alloc, out, 4, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = NewWorker(schema.KindEdge, sch, alloc, out, 0, stats, zerolog.Nop())
	assert.Error(t, err)
}
