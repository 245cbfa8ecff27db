package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okral/codechat/internal/models"
)

func collect(events <-chan Event) []Event {
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func chunkText(events []Event) string {
	var buf strings.Builder
	for _, e := range events {
		if e.Type == EventChunk {
			buf.WriteString(e.Content)
		}
	}
	return buf.String()
}

func newTestOrchestrator(store *memStore, history *memHistory, model *scriptedModel) *Orchestrator {
	querier := newTestQuerier(store, history, model)
	return NewOrchestrator(querier, history, model, nil)
}

func TestStreamQueryHappyPath(t *testing.T) {
	store := &memStore{results: []models.RetrievalResult{
		retrieved("s1", "main.go", "func main() { run() }", 0.88),
	}}
	history := &memHistory{}
	model := &scriptedModel{fragments: []string{"main calls ", "run. ", "[Source 1]"}}
	o := newTestOrchestrator(store, history, model)

	events := collect(o.StreamQuery(context.Background(), StreamRequest{
		Question: "what does main do?", SessionID: "s1", ChatID: "c1",
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventUserSaved, events[0].Type)
	require.NotNil(t, events[0].Message)
	assert.NotEmpty(t, events[0].Message.ID)
	assert.Equal(t, models.RoleUser, events[0].Message.Role)
	assert.Equal(t, "what does main do?", events[0].Message.Content)

	final := events[len(events)-1]
	assert.Equal(t, EventDone, final.Type)
	require.Len(t, final.Sources, 1)
	assert.Equal(t, "main.go", final.Sources[0].Filename)
	require.NotNil(t, final.Message)
	assert.Equal(t, models.RoleAssistant, final.Message.Role)
	assert.Equal(t, "main calls run. [Source 1]", final.Message.Content)
	assert.Equal(t, final.Sources, final.Message.Sources)

	assert.Equal(t, "main calls run. [Source 1]", chunkText(events))

	stored := history.stored()
	require.Len(t, stored, 2)
	assert.Equal(t, models.RoleUser, stored[0].Role)
	assert.Equal(t, "what does main do?", stored[0].Content)
	assert.Equal(t, models.RoleAssistant, stored[1].Role)
	assert.Equal(t, "main calls run. [Source 1]", stored[1].Content)
	assert.Equal(t, "main.go", stored[1].Sources[0].Filename)
}

func TestStreamQueryWithoutDocuments(t *testing.T) {
	history := &memHistory{}
	model := &scriptedModel{}
	o := newTestOrchestrator(&memStore{}, history, model)

	events := collect(o.StreamQuery(context.Background(), StreamRequest{
		Question: "anything there?", SessionID: "s1", ChatID: "c1",
	}))

	assert.Equal(t, EventUserSaved, events[0].Type)
	assert.Equal(t, EventDone, events[len(events)-1].Type)
	assert.Equal(t, 0, model.calls)

	// the fixed answer is still delivered incrementally
	var chunks int
	for _, e := range events {
		if e.Type == EventChunk {
			chunks++
		}
	}
	assert.Greater(t, chunks, 1)
	assert.Equal(t, NoDocumentsAnswer, chunkText(events))

	stored := history.stored()
	require.Len(t, stored, 2)
	assert.Equal(t, NoDocumentsAnswer, stored[1].Content)
	assert.Empty(t, stored[1].Sources)

	final := events[len(events)-1]
	require.NotNil(t, final.Message)
	assert.Equal(t, NoDocumentsAnswer, final.Message.Content)
}

func TestStreamQueryHistoryExcludesCurrentQuestion(t *testing.T) {
	store := &memStore{results: []models.RetrievalResult{
		retrieved("s1", "main.go", "func main() { run() }", 0.88),
	}}
	history := &memHistory{}
	require.NoError(t, history.Append(context.Background(), &models.Message{
		ChatID: "c1", Role: models.RoleUser, Content: "earlier question",
	}))

	model := &scriptedModel{fragments: []string{"ok"}}
	o := newTestOrchestrator(store, history, model)

	collect(o.StreamQuery(context.Background(), StreamRequest{
		Question: "what does main do?", SessionID: "s1", ChatID: "c1",
	}))

	// system + one prior history turn + the context/question turn
	require.Len(t, model.lastTurns, 3)
	assert.Equal(t, "earlier question", model.lastTurns[1].Content)
	assert.NotEqual(t, "what does main do?", model.lastTurns[1].Content)

	// the question was still persisted after retrieval
	stored := history.stored()
	require.Len(t, stored, 3)
	assert.Equal(t, "what does main do?", stored[1].Content)
}

func TestStreamQueryExplainMode(t *testing.T) {
	history := &memHistory{}
	model := &scriptedModel{fragments: []string{"This loop ", "sums the slice."}}
	o := newTestOrchestrator(&memStore{}, history, model)

	events := collect(o.StreamQuery(context.Background(), StreamRequest{
		Question:  "for _, v := range xs { sum += v }",
		SessionID: "s1",
		ChatID:    "c1",
		Mode:      ModeExplain,
		Language:  "go",
	}))

	assert.Equal(t, "This loop sums the slice.", chunkText(events))
	assert.Equal(t, EventDone, events[len(events)-1].Type)
	assert.Empty(t, events[len(events)-1].Sources)

	require.Len(t, model.lastTurns, 2)
	assert.Contains(t, model.lastTurns[1].Content, "explain this go code")
	assert.Contains(t, model.lastTurns[1].Content, "sum += v")
}

func TestStreamQueryModelError(t *testing.T) {
	store := &memStore{results: []models.RetrievalResult{
		retrieved("s1", "a.go", "content", 0.8),
	}}
	history := &memHistory{}
	model := &scriptedModel{err: errors.New("connection reset")}
	o := newTestOrchestrator(store, history, model)

	events := collect(o.StreamQuery(context.Background(), StreamRequest{
		Question: "why?", SessionID: "s1", ChatID: "c1",
	}))

	final := events[len(events)-1]
	assert.Equal(t, EventError, final.Type)
	assert.Contains(t, final.Error, "connection reset")

	// the user message stays, no assistant message is written
	stored := history.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, models.RoleUser, stored[0].Role)
}

func TestStreamQueryPersistFailure(t *testing.T) {
	history := &memHistory{appendErr: errors.New("messages table gone"), failOn: 0}
	o := newTestOrchestrator(&memStore{}, history, &scriptedModel{})

	events := collect(o.StreamQuery(context.Background(), StreamRequest{
		Question: "hello?", SessionID: "s1", ChatID: "c1",
	}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Error, "messages table gone")
}

func TestStreamQueryRejectsEmptyQuestion(t *testing.T) {
	o := newTestOrchestrator(&memStore{}, &memHistory{}, &scriptedModel{})

	events := collect(o.StreamQuery(context.Background(), StreamRequest{
		Question: "  ", SessionID: "s1", ChatID: "c1",
	}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
}
