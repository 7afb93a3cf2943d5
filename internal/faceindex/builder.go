package faceindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/logger"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

// PortraitSource lists stored documents and serves their portraits.
type PortraitSource interface {
	ListAll(ctx context.Context, pageSize int) ([]record.DocumentRecord, error)
	DownloadPortrait(ctx context.Context, doc record.DocumentRecord) (*upload.CapturedImage, error)
}

// BuildOptions configures a Build run.
type BuildOptions struct {
	Workers      int
	SaveInterval int
	PageSize     int
	// Rebuild re-embeds documents that are already indexed.
	Rebuild bool
	// Start, if set, receives the number of documents to process before any work begins.
	Start func(toProcess int)
	// Progress is called once per document to process, from any worker.
	Progress func()
	Logger   *zap.Logger
}

// BuildStats summarizes a Build run.
type BuildStats struct {
	Documents  int // documents listed by the source
	ToProcess  int
	Indexed    int
	Skipped    int // no portrait or already indexed
	NoFace     int
	Failed     int
	Pruned     int // index entries of documents that no longer exist
	TotalFaces int // index size after the run
}

// Builder fills an Index from the portraits of stored documents.
type Builder struct {
	source   PortraitSource
	embedder Embedder
	index    *Index
}

// NewBuilder creates a builder.
func NewBuilder(source PortraitSource, embedder Embedder, index *Index) *Builder {
	return &Builder{source: source, embedder: embedder, index: index}
}

// Build indexes every document that has a portrait and is not indexed yet, and prunes
// entries of documents that are gone. The index is saved every SaveInterval documents
// and once at the end. It can be interrupted and resumed.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (BuildStats, error) {
	if opts.Workers <= 0 {
		opts.Workers = constants.WorkerPoolSize
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = constants.IndexSaveInterval
	}
	if opts.PageSize <= 0 {
		opts.PageSize = constants.DefaultHandlerPageSize
	}
	if opts.Progress == nil {
		opts.Progress = func() {}
	}
	log := logger.OrNop(opts.Logger)

	var stats BuildStats

	docs, err := b.source.ListAll(ctx, opts.PageSize)
	if err != nil {
		return stats, fmt.Errorf("list documents: %w", err)
	}
	stats.Documents = len(docs)

	alive := make(map[int64]bool, len(docs))
	var todo []record.DocumentRecord
	for _, d := range docs {
		alive[d.ID] = true
		if !d.HasFacePhoto || (!opts.Rebuild && b.index.Has(d.ID)) {
			stats.Skipped++
			continue
		}
		todo = append(todo, d)
	}
	for _, id := range b.index.IDs() {
		if !alive[id] && b.index.Remove(id) {
			stats.Pruned++
		}
	}
	stats.ToProcess = len(todo)
	log.Info("building face index",
		zap.Int("documents", stats.Documents),
		zap.Int("to_process", stats.ToProcess),
		zap.Int("pruned", stats.Pruned))
	if opts.Start != nil {
		opts.Start(stats.ToProcess)
	}

	var mu sync.Mutex
	var saveErr error
	done := 0

	sem := make(chan struct{}, opts.Workers)
	var wg sync.WaitGroup

	for _, doc := range todo {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(d record.DocumentRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer opts.Progress()

			outcome := b.indexOne(ctx, d)
			if outcome != nil && !errors.Is(outcome, ErrNoFace) {
				log.Warn("indexing portrait failed", zap.Int64("id", d.ID), zap.Error(outcome))
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome == nil:
				stats.Indexed++
			case errors.Is(outcome, ErrNoFace):
				stats.NoFace++
			default:
				stats.Failed++
			}
			done++
			if done%opts.SaveInterval == 0 {
				if err := b.index.Save(); err != nil && saveErr == nil {
					saveErr = err
				}
			}
		}(doc)
	}
	wg.Wait()

	stats.TotalFaces = b.index.Count()
	if err := b.index.Save(); err != nil {
		return stats, fmt.Errorf("save face index: %w", err)
	}
	if saveErr != nil {
		return stats, fmt.Errorf("save face index: %w", saveErr)
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (b *Builder) indexOne(ctx context.Context, doc record.DocumentRecord) error {
	img, err := b.source.DownloadPortrait(ctx, doc)
	if err != nil {
		return err
	}
	resp, err := b.embedder.ComputeFaceEmbeddings(ctx, img)
	if err != nil {
		return err
	}
	best, ok := resp.Best()
	if !ok {
		return ErrNoFace
	}
	return b.index.Add(Entry{
		DocumentID: doc.ID,
		Embedding:  best.Embedding,
		DetScore:   best.DetScore,
		Model:      resp.Model,
		IndexedAt:  time.Now().UTC(),
	})
}
