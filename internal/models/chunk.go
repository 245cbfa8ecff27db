package models

import "time"

// ChunkMetadata locates a chunk inside its source document.
type ChunkMetadata struct {
	Filename    string `json:"filename"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

// Chunk is a bounded slice of a document's text together with its embedding.
// Chunks are immutable once stored; they belong to exactly one session.
type Chunk struct {
	ID        string
	SessionID string
	Content   string
	Embedding []float32
	Metadata  ChunkMetadata
}

// RetrievalResult pairs a retrieved chunk with its cosine similarity to the
// query. It is ephemeral and never persisted.
type RetrievalResult struct {
	Chunk      Chunk
	Similarity float32
}

// Source is the attribution preview returned alongside an answer.
type Source struct {
	Filename   string  `json:"filename"`
	Snippet    string  `json:"snippet"`
	Similarity float32 `json:"similarity"`
}

// DocumentInfo summarizes one ingested file within a session.
type DocumentInfo struct {
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one persisted conversation turn. The pipeline only ever reads
// the most recent turns of a chat and appends new ones.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is a prompt-level message handed to the language model.
type Turn struct {
	Role    string
	Content string
}
