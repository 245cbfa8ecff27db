package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/okral/codechat/internal/models"
	"github.com/okral/codechat/internal/types"
)

const (
	// NoDocumentsAnswer is returned without calling the model when the
	// session has nothing to retrieve from.
	NoDocumentsAnswer = "No relevant documents found. Please upload a file first."

	// RefusalAnswer is what the model is instructed to say when the
	// retrieved context does not cover the question.
	RefusalAnswer = "The information is not available in the provided context. Please upload a file first."

	snippetLength = 200
)

type QueryConfig struct {
	TopK         int
	HistoryLimit int
}

// Querier answers questions grounded in the session's uploaded files.
type Querier struct {
	config   QueryConfig
	embedder types.EmbeddingProvider
	store    types.VectorStore
	history  types.ConversationStore
	model    types.LanguageModel
	log      *zap.Logger
}

func NewQuerier(config QueryConfig, embedder types.EmbeddingProvider, store types.VectorStore, history types.ConversationStore, model types.LanguageModel, log *zap.Logger) *Querier {
	if config.TopK == 0 {
		config.TopK = 5
	}
	if config.HistoryLimit == 0 {
		config.HistoryLimit = 10
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Querier{
		config:   config,
		embedder: embedder,
		store:    store,
		history:  history,
		model:    model,
		log:      log,
	}
}

// prompt is a fully assembled model request plus the citations that back it.
type prompt struct {
	turns   []models.Turn
	sources []models.Source
}

// prepare embeds the question, retrieves scoped context and builds the model
// request. A nil prompt with no error means the session has no matching
// documents and the caller should answer with NoDocumentsAnswer.
func (q *Querier) prepare(ctx context.Context, question, sessionID, chatID string) (*prompt, error) {
	embedding, err := q.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	results, err := q.store.SimilaritySearch(ctx, embedding, sessionID, q.config.TopK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	// every retrieved chunk gets a source preview; only the citation list
	// shown to the model deduplicates by filename
	var contextParts []string
	sources := make([]models.Source, 0, len(results))
	var citations []string
	seen := make(map[string]bool)
	for i, r := range results {
		contextParts = append(contextParts, fmt.Sprintf("[Source %d]: %s", i+1, r.Chunk.Content))
		sources = append(sources, models.Source{
			Filename:   r.Chunk.Metadata.Filename,
			Snippet:    snippet(r.Chunk.Content),
			Similarity: r.Similarity,
		})

		filename := r.Chunk.Metadata.Filename
		if filename == "" || seen[filename] {
			continue
		}
		seen[filename] = true
		citations = append(citations, fmt.Sprintf("Source %d: %s", len(citations)+1, filename))
	}

	system := fmt.Sprintf(`You are a helpful assistant that answers questions about the user's uploaded code files.

Answer using ONLY the provided context. If the context does not contain the information needed to answer, reply exactly: %q

Rules:
- Wrap any code in your answer in <code> tags, never in markdown fences.
- Do not use LaTeX notation.
- When you use information from the context, cite it by source number.

Available sources:
%s`, RefusalAnswer, strings.Join(citations, "\n"))

	turns := []models.Turn{{Role: models.RoleSystem, Content: system}}

	recent, err := q.history.Recent(ctx, chatID, q.config.HistoryLimit)
	if err != nil {
		return nil, err
	}
	for _, msg := range recent {
		turns = append(turns, models.Turn{Role: msg.Role, Content: msg.Content})
	}

	turns = append(turns, models.Turn{
		Role:    models.RoleUser,
		Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", strings.Join(contextParts, "\n\n"), question),
	})

	return &prompt{turns: turns, sources: sources}, nil
}

// Query runs the full pipeline and blocks for the complete answer.
func (q *Querier) Query(ctx context.Context, question, sessionID, chatID string) (string, []models.Source, error) {
	if strings.TrimSpace(question) == "" {
		return "", nil, fmt.Errorf("%w: question is required", models.ErrInvalidInput)
	}

	p, err := q.prepare(ctx, question, sessionID, chatID)
	if err != nil {
		return "", nil, err
	}
	if p == nil {
		return NoDocumentsAnswer, nil, nil
	}

	answer, err := q.model.Complete(ctx, p.turns)
	if err != nil {
		return "", nil, err
	}

	return answer, p.sources, nil
}

func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetLength {
		return content
	}
	return string(runes[:snippetLength]) + "..."
}
