package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/okral/codechat/internal/models"
	"github.com/okral/codechat/internal/types"
)

type EventType string

const (
	EventUserSaved EventType = "user_saved"
	EventChunk     EventType = "chunk"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

type Event struct {
	Type    EventType       `json:"type"`
	Content string          `json:"content,omitempty"`
	Sources []models.Source `json:"sources,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type StreamMode string

const (
	ModeRAG     StreamMode = "rag"
	ModeExplain StreamMode = "explain"
)

type StreamRequest struct {
	Question  string
	SessionID string
	ChatID    string
	Mode      StreamMode
	Language  string
}

// Fixed answers go out word by word so the client renders them the same way
// as model output.
const simulatedWordDelay = 30 * time.Millisecond

// Orchestrator drives a question through retrieval and the model, emitting
// incremental events for live delivery.
type Orchestrator struct {
	querier *Querier
	history types.ConversationStore
	model   types.LanguageModel
	log     *zap.Logger
}

func NewOrchestrator(querier *Querier, history types.ConversationStore, model types.LanguageModel, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{querier: querier, history: history, model: model, log: log}
}

// StreamQuery answers req over a channel of events. The channel is closed
// once the exchange is persisted or a terminal error is emitted.
func (o *Orchestrator) StreamQuery(ctx context.Context, req StreamRequest) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)
		if err := o.run(ctx, req, events); err != nil {
			o.log.Error("stream failed", zap.Error(err), zap.String("chat", req.ChatID))
			o.emit(ctx, events, Event{Type: EventError, Error: err.Error()})
		}
	}()

	return events
}

func (o *Orchestrator) run(ctx context.Context, req StreamRequest, events chan<- Event) error {
	if strings.TrimSpace(req.Question) == "" {
		return fmt.Errorf("%w: question is required", models.ErrInvalidInput)
	}
	if req.Mode == "" {
		req.Mode = ModeRAG
	}

	// retrieval reads history before the question is persisted, so the
	// current question never shows up twice in the prompt
	var p *prompt
	if req.Mode != ModeExplain {
		var err error
		p, err = o.querier.prepare(ctx, req.Question, req.SessionID, req.ChatID)
		if err != nil {
			return err
		}
	}

	userMsg := &models.Message{
		SessionID: req.SessionID,
		ChatID:    req.ChatID,
		Role:      models.RoleUser,
		Content:   req.Question,
	}
	if err := o.history.Append(ctx, userMsg); err != nil {
		return err
	}
	if !o.emit(ctx, events, Event{Type: EventUserSaved, Message: userMsg}) {
		return ctx.Err()
	}

	var answer string
	var sources []models.Source
	var err error

	switch {
	case req.Mode == ModeExplain:
		answer, err = o.streamModel(ctx, explainTurns(req), events)
	case p == nil:
		answer = NoDocumentsAnswer
		err = o.simulate(ctx, NoDocumentsAnswer, events)
	default:
		sources = p.sources
		answer, err = o.streamModel(ctx, p.turns, events)
	}
	if err != nil {
		return err
	}

	assistantMsg := &models.Message{
		SessionID: req.SessionID,
		ChatID:    req.ChatID,
		Role:      models.RoleAssistant,
		Content:   answer,
		Sources:   sources,
	}
	if err := o.history.Append(ctx, assistantMsg); err != nil {
		return err
	}

	o.emit(ctx, events, Event{Type: EventDone, Message: assistantMsg, Sources: sources})
	return nil
}

func (o *Orchestrator) streamModel(ctx context.Context, turns []models.Turn, events chan<- Event) (string, error) {
	var buf strings.Builder
	for token := range o.model.Stream(ctx, turns) {
		if token.Err != nil {
			return "", token.Err
		}
		buf.WriteString(token.Content)
		if !o.emit(ctx, events, Event{Type: EventChunk, Content: token.Content}) {
			return "", ctx.Err()
		}
	}
	return buf.String(), nil
}

// simulate plays a fixed answer back word by word at a steady pace.
func (o *Orchestrator) simulate(ctx context.Context, text string, events chan<- Event) error {
	limiter := rate.NewLimiter(rate.Every(simulatedWordDelay), 1)
	words := strings.Fields(text)
	for i, word := range words {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if i < len(words)-1 {
			word += " "
		}
		if !o.emit(ctx, events, Event{Type: EventChunk, Content: word}) {
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func explainTurns(req StreamRequest) []models.Turn {
	language := req.Language
	if language == "" {
		language = "code"
	}
	return []models.Turn{
		{
			Role:    models.RoleSystem,
			Content: "You are a patient programming tutor. Explain code clearly and concisely for someone still learning. Wrap any code in <code> tags and avoid LaTeX notation.",
		},
		{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("Please explain this %s code in simple terms:\n\n```%s\n%s\n```", language, language, req.Question),
		},
	}
}
