package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/okral/codechat/internal/models"
)

type MessageStoreConfig struct {
	TableName string
}

// MessageStore persists chat messages in Postgres. It shares the pool with
// the vector store so both live in the same database.
type MessageStore struct {
	config MessageStoreConfig
	pool   *pgxpool.Pool
	log    *zap.Logger
}

func NewWithPool(pool *pgxpool.Pool, config MessageStoreConfig, log *zap.Logger) (*MessageStore, error) {
	if config.TableName == "" {
		config.TableName = "messages"
	}
	if log == nil {
		log = zap.NewNop()
	}

	ms := &MessageStore{config: config, pool: pool, log: log}

	if err := ms.initialize(); err != nil {
		return nil, err
	}

	return ms, nil
}

func (ms *MessageStore) initialize() error {
	ctx := context.Background()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sources JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`, ms.config.TableName)

	_, err := ms.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("%w: create messages table: %v", models.ErrStore, err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_chat_created_idx
		ON %s (chat_id, created_at)`,
		ms.config.TableName, ms.config.TableName)

	_, err = ms.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("%w: create messages index: %v", models.ErrStore, err)
	}

	return nil
}

// Append stores a message, assigning an ID and timestamp when missing.
func (ms *MessageStore) Append(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var sources []byte
	if len(msg.Sources) > 0 {
		var err error
		sources, err = json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, session_id, chat_id, role, content, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ms.config.TableName)

	_, err := ms.pool.Exec(ctx, stmt,
		msg.ID, msg.SessionID, msg.ChatID, msg.Role, msg.Content, sources, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: append message: %v", models.ErrStore, err)
	}

	return nil
}

// Recent returns the latest limit messages of the chat, oldest first.
func (ms *MessageStore) Recent(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf(`
		SELECT id, session_id, chat_id, role, content, sources, created_at
		FROM %s
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		ms.config.TableName)

	rows, err := ms.pool.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var sources []byte
		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.ChatID, &msg.Role, &msg.Content, &sources, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", models.ErrStore, err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &msg.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load history: %v", models.ErrStore, err)
	}

	// query returned newest first, callers want chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
