package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/okral/codechat/internal/models"
	"github.com/okral/codechat/internal/types"
	"github.com/okral/codechat/pkg/extract"
	"github.com/okral/codechat/pkg/splitter"
)

type IngestConfig struct {
	ChunkSize         int
	ChunkOverlap      int
	ParallelThreshold int
	EmbedWidth        int
	WriteBatchSize    int
}

// Ingestor turns uploaded files into embedded chunk rows.
type Ingestor struct {
	config   IngestConfig
	splitter splitter.Splitter
	embedder types.EmbeddingProvider
	store    types.VectorStore
	log      *zap.Logger
}

type IngestResult struct {
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunkCount"`
}

func NewIngestor(config IngestConfig, embedder types.EmbeddingProvider, store types.VectorStore, log *zap.Logger) *Ingestor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.ParallelThreshold == 0 {
		config.ParallelThreshold = 10 * 1024
	}
	if config.EmbedWidth == 0 {
		config.EmbedWidth = 32
	}
	if config.WriteBatchSize == 0 {
		config.WriteBatchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Ingestor{
		config: config,
		splitter: splitter.NewWithConfig(splitter.SplitterConfig{
			ChunkSize:    config.ChunkSize,
			ChunkOverlap: config.ChunkOverlap,
		}),
		embedder: embedder,
		store:    store,
		log:      log,
	}
}

// Ingest chunks, embeds and stores one file. A filename already present in
// the session is rejected with ErrDuplicateDocument.
func (in *Ingestor) Ingest(ctx context.Context, sessionID, filename string, data []byte) (*IngestResult, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", models.ErrInvalidInput)
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", models.ErrInvalidInput)
	}

	text, err := extract.Text(data, filename)
	if err != nil {
		return nil, err
	}

	pieces := in.splitter.Split(text)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: file %q contains no usable text", models.ErrInvalidInput, filename)
	}

	exists, err := in.store.HasDocument(ctx, sessionID, filename)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %q already uploaded in this session", models.ErrDuplicateDocument, filename)
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			SessionID: sessionID,
			Content:   piece,
			Metadata: models.ChunkMetadata{
				Filename:    filename,
				ChunkIndex:  i,
				TotalChunks: len(pieces),
			},
		}
	}

	if len(data) < in.config.ParallelThreshold {
		err = in.ingestSequential(ctx, chunks)
	} else {
		err = in.ingestParallel(ctx, chunks)
	}
	if err != nil {
		return nil, err
	}

	in.log.Info("ingested document",
		zap.String("filename", filename),
		zap.String("session", sessionID),
		zap.Int("chunks", len(chunks)))

	return &IngestResult{Filename: filename, ChunkCount: len(chunks)}, nil
}

func (in *Ingestor) ingestSequential(ctx context.Context, chunks []models.Chunk) error {
	for i := range chunks {
		embedding, err := in.embedder.Embed(ctx, chunks[i].Content)
		if err != nil {
			return err
		}
		chunks[i].Embedding = embedding
	}
	return in.store.InsertChunks(ctx, chunks)
}

// ingestParallel embeds and flushes one window of rows at a time, so a
// failure partway through leaves earlier windows committed.
func (in *Ingestor) ingestParallel(ctx context.Context, chunks []models.Chunk) error {
	for start := 0; start < len(chunks); start += in.config.WriteBatchSize {
		end := start + in.config.WriteBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		window := chunks[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(in.config.EmbedWidth)
		for i := range window {
			i := i
			g.Go(func() error {
				embedding, err := in.embedder.Embed(gctx, window[i].Content)
				if err != nil {
					return err
				}
				window[i].Embedding = embedding
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if err := in.store.InsertChunks(ctx, window); err != nil {
			return err
		}
	}
	return nil
}

// ListDocuments reports every filename ingested in the session.
func (in *Ingestor) ListDocuments(ctx context.Context, sessionID string) ([]models.DocumentInfo, error) {
	return in.store.ListDocuments(ctx, sessionID)
}

// DeleteDocument removes one uploaded file from the session.
func (in *Ingestor) DeleteDocument(ctx context.Context, sessionID, filename string) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("%w: filename is required", models.ErrInvalidInput)
	}
	return in.store.DeleteDocument(ctx, sessionID, filename)
}

// DeleteAll wipes the whole chunk table.
func (in *Ingestor) DeleteAll(ctx context.Context) error {
	return in.store.DeleteAll(ctx)
}
