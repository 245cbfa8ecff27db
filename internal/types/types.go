package types

import (
	"context"

	"github.com/okral/codechat/internal/models"
)

// EmbeddingProvider converts text into fixed-dimension unit vectors. The
// backing model is loaded lazily on first use and cached for the process
// lifetime.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// VectorStore persists chunks and answers nearest-neighbor queries. Search is
// always filtered by session so one caller's documents never leak into
// another's answers.
type VectorStore interface {
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	HasDocument(ctx context.Context, sessionID, filename string) (bool, error)
	SimilaritySearch(ctx context.Context, embedding []float32, sessionID string, topK int) ([]models.RetrievalResult, error)
	ListDocuments(ctx context.Context, sessionID string) ([]models.DocumentInfo, error)
	DeleteDocument(ctx context.Context, sessionID, filename string) error
	DeleteAll(ctx context.Context) error
}

// ConversationStore persists chat turns. Recent returns at most limit
// messages for the chat, oldest first.
type ConversationStore interface {
	Recent(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	Append(ctx context.Context, msg *models.Message) error
}

// Token is one fragment of a streaming completion. The fragment channel is
// finite and closed after the final token; it cannot be restarted.
type Token struct {
	Content string
	Err     error
}

// LanguageModel generates grounded answers, either whole or as a token
// stream.
type LanguageModel interface {
	Complete(ctx context.Context, turns []models.Turn) (string, error)
	Stream(ctx context.Context, turns []models.Turn) <-chan Token
}
