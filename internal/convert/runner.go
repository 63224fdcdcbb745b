package convert

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/internal/idalloc"
	"github.com/graphmill/graphmill/internal/logger"
	"github.com/graphmill/graphmill/internal/schema"
)

// Input is one source file to convert, labeled with the entity kind its
// records describe.
type Input struct {
	Kind schema.Kind
	Path string
}

// Runner drives a conversion run: it fans the input files out over a bounded
// worker pool and aggregates the shared run statistics. The allocator and
// slice writer are shared across all workers.
type Runner struct {
	cfg    config.ConvertConfig
	sch    *schema.Schema
	alloc  *idalloc.Allocator
	writer SliceWriter
	stats  *Stats
	tok    *Tokenizer
	log    zerolog.Logger
}

// NewRunner wires a runner from an already-validated configuration.
func NewRunner(cfg config.ConvertConfig, sch *schema.Schema, alloc *idalloc.Allocator, writer SliceWriter) (*Runner, error) {
	if sch == nil {
		return nil, fmt.Errorf("%w: schema is nil", ErrNotInitialized)
	}
	if alloc == nil {
		return nil, fmt.Errorf("%w: id allocator is nil", ErrNotInitialized)
	}
	if writer == nil {
		return nil, fmt.Errorf("%w: slice writer is nil", ErrNotInitialized)
	}
	return &Runner{
		cfg:    cfg,
		sch:    sch,
		alloc:  alloc,
		writer: writer,
		stats:  &Stats{},
		tok:    NewTokenizer(cfg.FieldDelim, cfg.TokenDelim),
		log:    logger.Get("convert"),
	}, nil
}

// Stats exposes the live run counters.
func (r *Runner) Stats() *Stats {
	return r.stats
}

// Run converts all inputs and blocks until every file is drained or the first
// fatal error cancels the run. Malformed records are counted, not fatal.
func (r *Runner) Run(ctx context.Context, inputs []Input) (Summary, error) {
	if len(inputs) == 0 {
		return Summary{}, fmt.Errorf("no input files")
	}

	start := time.Now()
	r.log.Info().
		Int("inputs", len(inputs)).
		Int("workers", r.cfg.Workers).
		Int("slices", r.cfg.SliceCount).
		Msg("Starting conversion run")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for _, in := range inputs {
		in := in
		g.Go(func() error {
			return r.convertFile(ctx, in)
		})
	}

	if err := g.Wait(); err != nil {
		return r.stats.Snapshot(), err
	}

	sum := r.stats.Snapshot()
	r.log.Info().
		Uint64("lines", sum.Lines).
		Uint64("converted", sum.Converted).
		Uint64("malformed", sum.Malformed).
		Uint64("unique_ids", r.alloc.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("Conversion run complete")
	return sum, nil
}

func (r *Runner) convertFile(ctx context.Context, in Input) error {
	w, err := NewWorker(in.Kind, r.sch, r.alloc, r.writer, r.cfg.SliceCount, r.stats, r.log)
	if err != nil {
		return err
	}

	f, err := os.Open(in.Path)
	if err != nil {
		return fmt.Errorf("failed to open input %s: %w", in.Path, err)
	}
	defer f.Close()

	r.log.Debug().Str("path", in.Path).Stringer("kind", in.Kind).Msg("Converting input file")

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), int(r.cfg.MaxLineSize))

	var lineNo uint64
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		lineNo++

		rec := r.tok.Split(sc.Text())
		if rec == nil {
			continue
		}
		if err := w.ConvertRecord(rec); err != nil {
			return fmt.Errorf("%s:%d: %w", in.Path, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read input %s: %w", in.Path, err)
	}
	return nil
}
