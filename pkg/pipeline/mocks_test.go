package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/okral/codechat/internal/models"
	"github.com/okral/codechat/internal/types"
)

// stubEmbedder produces deterministic unit vectors and can be told to fail
// after a number of calls.
type stubEmbedder struct {
	mu        sync.Mutex
	calls     int
	failAfter int
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failAfter > 0 && e.calls > e.failAfter {
		return nil, fmt.Errorf("%w: embedder down", models.ErrModelUnavailable)
	}
	var sum int
	for _, r := range text {
		sum += int(r)
	}
	v := make([]float32, 4)
	v[sum%4] = 1
	return v, nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *stubEmbedder) Dimension() int { return 4 }

// memStore is an in-memory types.VectorStore. Inserted batches stay separate
// so tests can assert how writes were grouped.
type memStore struct {
	mu               sync.Mutex
	batches          [][]models.Chunk
	results          []models.RetrievalResult
	insertErr        error
	failAfterBatches int
	hasErr           error
}

func (s *memStore) InsertChunks(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil && (s.failAfterBatches == 0 || len(s.batches) >= s.failAfterBatches) {
		return s.insertErr
	}
	batch := make([]models.Chunk, len(chunks))
	copy(batch, chunks)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *memStore) all() []models.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Chunk
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *memStore) HasDocument(_ context.Context, sessionID, filename string) (bool, error) {
	if s.hasErr != nil {
		return false, s.hasErr
	}
	for _, c := range s.all() {
		if c.SessionID == sessionID && c.Metadata.Filename == filename {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) SimilaritySearch(_ context.Context, _ []float32, sessionID string, topK int) ([]models.RetrievalResult, error) {
	var out []models.RetrievalResult
	for _, r := range s.results {
		if r.Chunk.SessionID == sessionID {
			out = append(out, r)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *memStore) ListDocuments(_ context.Context, sessionID string) ([]models.DocumentInfo, error) {
	counts := make(map[string]int)
	var order []string
	for _, c := range s.all() {
		if c.SessionID != sessionID {
			continue
		}
		if counts[c.Metadata.Filename] == 0 {
			order = append(order, c.Metadata.Filename)
		}
		counts[c.Metadata.Filename]++
	}
	var docs []models.DocumentInfo
	for _, name := range order {
		docs = append(docs, models.DocumentInfo{Filename: name, ChunkCount: counts[name]})
	}
	return docs, nil
}

func (s *memStore) DeleteDocument(_ context.Context, sessionID, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept [][]models.Chunk
	for _, b := range s.batches {
		var batch []models.Chunk
		for _, c := range b {
			if c.SessionID == sessionID && c.Metadata.Filename == filename {
				continue
			}
			batch = append(batch, c)
		}
		if len(batch) > 0 {
			kept = append(kept, batch)
		}
	}
	s.batches = kept
	return nil
}

func (s *memStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = nil
	return nil
}

// memHistory is an in-memory types.ConversationStore.
type memHistory struct {
	mu        sync.Mutex
	messages  []models.Message
	appendErr error
	failOn    int
}

func (h *memHistory) Append(_ context.Context, msg *models.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.appendErr != nil && len(h.messages) >= h.failOn {
		return h.appendErr
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("m%d", len(h.messages))
	}
	h.messages = append(h.messages, *msg)
	return nil
}

func (h *memHistory) Recent(_ context.Context, chatID string, limit int) ([]models.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.Message
	for _, m := range h.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *memHistory) stored() []models.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// scriptedModel replays canned fragments and records the turns it was given.
type scriptedModel struct {
	mu        sync.Mutex
	answer    string
	fragments []string
	err       error
	calls     int
	lastTurns []models.Turn
}

func (m *scriptedModel) Complete(_ context.Context, turns []models.Turn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastTurns = turns
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func (m *scriptedModel) Stream(_ context.Context, turns []models.Turn) <-chan types.Token {
	m.mu.Lock()
	m.calls++
	m.lastTurns = turns
	m.mu.Unlock()

	out := make(chan types.Token)
	go func() {
		defer close(out)
		if m.err != nil {
			out <- types.Token{Err: m.err}
			return
		}
		for _, f := range m.fragments {
			out <- types.Token{Content: f}
		}
	}()
	return out
}

var _ types.EmbeddingProvider = (*stubEmbedder)(nil)
var _ types.VectorStore = (*memStore)(nil)
var _ types.ConversationStore = (*memHistory)(nil)
var _ types.LanguageModel = (*scriptedModel)(nil)
