package convert

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/graphmill/graphmill/internal/idalloc"
	"github.com/graphmill/graphmill/internal/schema"
	"github.com/graphmill/graphmill/internal/transform"
	"github.com/graphmill/graphmill/pkg/models"
)

// SliceWriter receives converted records. Write must be safe to call
// concurrently for different slice ids; same-slice concurrency is the
// writer's responsibility.
type SliceWriter interface {
	Write(sliceID int, rec models.BinaryRecord) error
}

// ErrNotInitialized is returned when a worker is constructed without its
// shared collaborators. This is a run-level precondition, checked once
// before any record is processed.
var ErrNotInitialized = errors.New("conversion pipeline not initialized")

// Worker converts the raw records of one input shard. Each worker owns its
// scratch state; the schema is read-only and the allocator and writer are the
// only shared structures.
type Worker struct {
	kind       schema.Kind
	sch        *schema.Schema
	alloc      *idalloc.Allocator
	writer     SliceWriter
	sliceCount int
	stats      *Stats
	logger     zerolog.Logger
}

// NewWorker creates a worker for one entity kind. It fails fast if any shared
// collaborator is missing rather than failing on every record.
func NewWorker(kind schema.Kind, sch *schema.Schema, alloc *idalloc.Allocator, writer SliceWriter, sliceCount int, stats *Stats, logger zerolog.Logger) (*Worker, error) {
	if sch == nil {
		return nil, fmt.Errorf("%w: schema is nil", ErrNotInitialized)
	}
	if alloc == nil {
		return nil, fmt.Errorf("%w: id allocator is nil", ErrNotInitialized)
	}
	if writer == nil {
		return nil, fmt.Errorf("%w: slice writer is nil", ErrNotInitialized)
	}
	if stats == nil {
		return nil, fmt.Errorf("%w: stats is nil", ErrNotInitialized)
	}
	if sliceCount <= 0 {
		return nil, fmt.Errorf("slice count must be positive, got %d", sliceCount)
	}
	return &Worker{
		kind:       kind,
		sch:        sch,
		alloc:      alloc,
		writer:     writer,
		sliceCount: sliceCount,
		stats:      stats,
		logger:     logger.With().Str("component", "convert-worker").Stringer("kind", kind).Logger(),
	}, nil
}

// ConvertRecord runs one raw record through the conversion state machine.
// Per-record recoverable failures (unknown type tag, malformed values, field
// count mismatch) skip the record, bump the malformed counter, and return
// nil. A non-nil error is fatal for the run (broken output target).
func (w *Worker) ConvertRecord(rec models.RawRecord) error {
	w.stats.Lines.Add(1)

	// Resolve the entity type from the fixed tag position.
	tagGroup := rec.FieldGroup(0)
	if len(tagGroup) != 1 {
		w.skip(rec, fmt.Errorf("type tag field has %d tokens", len(tagGroup)))
		return nil
	}
	tag, err := strconv.ParseUint(tagGroup[0], 10, 8)
	if err != nil {
		w.skip(rec, fmt.Errorf("%q is not a uint8 type tag", tagGroup[0]))
		return nil
	}
	et, err := w.sch.EntityType(w.kind, uint8(tag))
	if err != nil {
		w.skip(rec, err)
		return nil
	}

	// Locate the partition key: the entity identifier for vertices, the
	// source endpoint for edges.
	idIdx, idType := et.PrimaryID()
	idGroup := rec.FieldGroup(idIdx)
	if len(idGroup) != 1 {
		w.skip(rec, fmt.Errorf("identifier field %q has %d tokens", et.Fields[idIdx].Name, len(idGroup)))
		return nil
	}

	sliceID, err := transform.ComputeSliceID(idGroup[0], idType, w.sliceCount)
	if err != nil {
		w.skip(rec, err)
		return nil
	}

	// Parse before allocating: a record that fails here must not consume
	// dense ids or reach any slice.
	pr, err := transform.ParseRecord(rec, et)
	if err != nil {
		w.skip(rec, err)
		return nil
	}

	bin := transform.EncodeRecord(pr, w.alloc.GetOrAssign)

	if err := w.writer.Write(sliceID, bin); err != nil {
		return fmt.Errorf("failed to emit record to slice %d: %w", sliceID, err)
	}

	w.stats.Converted.Add(1)
	switch w.kind {
	case schema.KindVertex:
		w.stats.Vertices.Add(1)
	case schema.KindEdge:
		w.stats.Edges.Add(1)
	}
	return nil
}

func (w *Worker) skip(rec models.RawRecord, reason error) {
	w.stats.Malformed.Add(1)
	w.logger.Debug().
		Err(reason).
		Int("fields", len(rec)).
		Msg("Skipping malformed record")
}
