package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/internal/convert"
	"github.com/graphmill/graphmill/internal/idalloc"
	"github.com/graphmill/graphmill/internal/logger"
	"github.com/graphmill/graphmill/internal/manifest"
	"github.com/graphmill/graphmill/internal/schema"
	"github.com/graphmill/graphmill/internal/shutdown"
	"github.com/graphmill/graphmill/internal/sliceio"
	"github.com/graphmill/graphmill/internal/storage"
)

// Version is set at build time
var Version = "dev"

// DictionaryFileName is the dense-id dictionary written next to the segments.
const DictionaryFileName = "dictionary.bin"

type fileList []string

func (f *fileList) String() string {
	return strings.Join(*f, ",")
}

func (f *fileList) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func main() {
	var (
		vertexFiles fileList
		edgeFiles   fileList
		schemaPath  string
		outDir      string
		showVersion bool
	)
	flag.Var(&vertexFiles, "vertices", "Vertex input file (repeatable)")
	flag.Var(&edgeFiles, "edges", "Edge input file (repeatable)")
	flag.StringVar(&schemaPath, "schema", "", "Schema artifact path (overrides config)")
	flag.StringVar(&outDir, "out", "", "Output directory (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("graphmill", Version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if schemaPath != "" {
		cfg.Schema.Path = schemaPath
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	if len(vertexFiles) == 0 && len(edgeFiles) == 0 {
		fmt.Fprintln(os.Stderr, "No input files: pass at least one -vertices or -edges")
		os.Exit(1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", Version).Msg("Starting graphmill")

	if err := run(cfg, vertexFiles, edgeFiles); err != nil {
		log.Error().Err(err).Msg("Conversion run failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, vertexFiles, edgeFiles []string) error {
	sch, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	log.Info().
		Str("path", cfg.Schema.Path).
		Int("vertex_types", len(sch.VertexTags())).
		Int("edge_types", len(sch.EdgeTags())).
		Msg("Loaded schema")

	backend, err := storage.New(cfg.Storage, logger.Get("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0o700); err != nil {
		backend.Close()
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	writer, err := sliceio.NewWriter(sliceio.WriterConfig{
		Dir:           cfg.Output.Dir,
		SliceCount:    cfg.Convert.SliceCount,
		Compression:   cfg.Output.Compression,
		MaxRecordSize: cfg.Convert.MaxRecordSize,
		Logger:        logger.Get("sliceio"),
	})
	if err != nil {
		backend.Close()
		return fmt.Errorf("failed to open segment writer: %w", err)
	}

	coord := shutdown.New(30*time.Second, logger.Get("shutdown"))
	coord.Register("segment-writer", writer, shutdown.PrioritySegments)
	coord.Register("storage", backend, shutdown.PriorityStorage)
	defer coord.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		coord.WaitForSignal()
		cancel()
	}()

	alloc := idalloc.New()
	runner, err := convert.NewRunner(cfg.Convert, sch, alloc, writer)
	if err != nil {
		return err
	}

	var inputs []convert.Input
	for _, p := range vertexFiles {
		inputs = append(inputs, convert.Input{Kind: schema.KindVertex, Path: p})
	}
	for _, p := range edgeFiles {
		inputs = append(inputs, convert.Input{Kind: schema.KindEdge, Path: p})
	}

	sum, err := runner.Run(ctx, inputs)
	if err != nil {
		return err
	}
	// Workers are drained; the run is only done once the signal listener can
	// no longer interrupt artifact publication.
	coord.Trigger()

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close segments: %w", err)
	}

	dictPath := filepath.Join(cfg.Output.Dir, DictionaryFileName)
	if err := writeDictionary(alloc, dictPath); err != nil {
		return err
	}

	m := manifest.New()
	m.SliceCount = cfg.Convert.SliceCount
	m.Compression = cfg.Output.Compression
	m.FieldDelim = cfg.Convert.FieldDelim
	m.TokenDelim = cfg.Convert.TokenDelim
	m.SchemaFingerprint = sch.Fingerprint()
	m.Records = sum.Converted
	m.Vertices = sum.Vertices
	m.Edges = sum.Edges
	m.Malformed = sum.Malformed
	m.UniqueIDs = alloc.Len()

	records := writer.RecordCounts()
	bytes := writer.ByteCounts()
	for sliceID, segPath := range writer.Paths() {
		if segPath == "" {
			continue
		}
		m.Segments = append(m.Segments, manifest.Segment{
			SliceID: sliceID,
			Path:    filepath.Base(segPath),
			Records: records[sliceID],
			Bytes:   bytes[sliceID],
		})
	}

	manifestPath, err := m.WriteFile(cfg.Output.Dir)
	if err != nil {
		return err
	}

	if err := publish(context.Background(), backend, cfg.Output.Prefix, m, dictPath, manifestPath, writer.Paths()); err != nil {
		return err
	}

	log.Info().
		Str("run_id", m.RunID).
		Uint64("records", m.Records).
		Uint64("malformed", m.Malformed).
		Uint64("unique_ids", m.UniqueIDs).
		Int("segments", len(m.Segments)).
		Msg("Run complete")
	return nil
}

func writeDictionary(alloc *idalloc.Allocator, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dictionary: %w", err)
	}
	if err := alloc.Snapshot(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write dictionary: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close dictionary: %w", err)
	}
	return nil
}

// publish uploads the segments, dictionary, and manifest under
// prefix/<run-id>/. The manifest goes last so a run is only visible once all
// of its artifacts are in place.
func publish(ctx context.Context, backend storage.Backend, prefix string, m *manifest.Manifest, dictPath, manifestPath string, segPaths []string) error {
	if backend.Type() == "local" {
		// Artifacts are already on the local filesystem in the output
		// directory; copying them into the backend's base path again
		// buys nothing.
		return nil
	}

	keyFor := func(name string) string {
		return path.Join(prefix, m.RunID, name)
	}

	upload := func(localPath string) error {
		f, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("failed to open %s for upload: %w", localPath, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", localPath, err)
		}
		key := keyFor(filepath.Base(localPath))
		if err := backend.WriteReader(ctx, key, f, info.Size()); err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		return nil
	}

	for _, segPath := range segPaths {
		if segPath == "" {
			continue
		}
		if err := upload(segPath); err != nil {
			return err
		}
	}
	if err := upload(dictPath); err != nil {
		return err
	}
	if err := upload(manifestPath); err != nil {
		return err
	}

	log.Info().
		Str("backend", backend.Type()).
		Str("prefix", keyFor("")).
		Msg("Published run artifacts")
	return nil
}
