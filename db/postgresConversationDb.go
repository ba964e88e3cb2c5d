package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"coursebot/models"

	_ "github.com/lib/pq"
)

// PostgresConversationRepository archives conversation history in Postgres.
// Concurrent appends for the same conversation are serialized by the
// database itself.
type PostgresConversationRepository struct {
	db *sql.DB
}

func NewPostgresConversationRepository(databaseURL string) (*PostgresConversationRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &PostgresConversationRepository{db: db}
	if err := repo.ensureSchema(); err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *PostgresConversationRepository) ensureSchema() error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS coursebot`,
		`CREATE TABLE IF NOT EXISTS coursebot.messages (
			id SERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls JSONB,
			tool_call_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx
			ON coursebot.messages (conversation_id, id)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	return nil
}

func (r *PostgresConversationRepository) Append(conversationID string, msg models.Message) error {
	var toolCalls interface{}
	if len(msg.ToolCalls) > 0 {
		encoded, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to encode tool calls: %w", err)
		}
		toolCalls = string(encoded)
	}

	var toolCallID interface{}
	if msg.ToolCallID != "" {
		toolCallID = msg.ToolCallID
	}

	query := `
		INSERT INTO coursebot.messages (conversation_id, role, content, tool_calls, tool_call_id)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.Exec(query, conversationID, msg.Role, msg.Content, toolCalls, toolCallID); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

func (r *PostgresConversationRepository) Window(conversationID string, n int) ([]models.Message, error) {
	if n <= 0 {
		return r.History(conversationID)
	}

	query := `
		SELECT role, content, tool_calls, tool_call_id FROM (
			SELECT id, role, content, tool_calls, tool_call_id
			FROM coursebot.messages
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent ORDER BY id ASC`

	rows, err := r.db.Query(query, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read window: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *PostgresConversationRepository) History(conversationID string) ([]models.Message, error) {
	query := `
		SELECT role, content, tool_calls, tool_call_id
		FROM coursebot.messages
		WHERE conversation_id = $1
		ORDER BY id ASC`

	rows, err := r.db.Query(query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message

	for rows.Next() {
		var msg models.Message
		var toolCalls, toolCallID sql.NullString

		if err := rows.Scan(&msg.Role, &msg.Content, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		if toolCallID.Valid {
			msg.ToolCallID = toolCallID.String
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

func (r *PostgresConversationRepository) Close() error {
	return r.db.Close()
}
