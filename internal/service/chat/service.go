// Package chat manages conversations and their append-only message
// histories, with the same owner isolation as the task service.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"todochat/internal/apperr"
	"todochat/internal/models"
)

const contentMaxLen = 5000

// Service handles conversation and message persistence.
type Service struct {
	db *sql.DB
}

// NewService builds a new chat service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateConversation inserts a new conversation for the owner.
func (s *Service) CreateConversation(ctx context.Context, ownerID string) (*models.Conversation, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
		ownerID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	return &models.Conversation{ID: id, OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}, nil
}

// ListConversations returns the owner's conversations, most recently
// active first.
func (s *Service) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// GetConversation returns the conversation if the owner holds it.
// Someone else's conversation reports apperr.ErrNotFound.
func (s *Service) GetConversation(ctx context.Context, conversationID int64, ownerID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`,
		conversationID, ownerID,
	).Scan(&conv.ID, &conv.OwnerID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// AppendMessage stores a message and bumps the conversation's
// updated_at in one transaction. Either both writes land or neither
// does; no observer ever sees a message without the recency bump.
func (s *Service) AppendMessage(ctx context.Context, conversationID int64, ownerID string, role models.Role, content string) (*models.Message, error) {
	if !role.Valid() {
		return nil, apperr.Validation("role", "must be 'user' or 'assistant'")
	}
	if content == "" {
		return nil, apperr.Validation("content", "cannot be empty")
	}
	if len([]rune(content)) > contentMaxLen {
		return nil, apperr.Validation("content", fmt.Sprintf("must be %d characters or less", contentMaxLen))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ? AND user_id = ?)`,
		conversationID, ownerID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("verify conversation: %w", err)
	}
	if !exists {
		return nil, apperr.ErrNotFound
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, ownerID, role, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID,
	); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}

	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		OwnerID:        ownerID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

// ListMessages returns the conversation's messages in chronological
// order. Fails with apperr.ErrNotFound when the conversation is
// missing or owned by someone else.
func (s *Service) ListMessages(ctx context.Context, conversationID int64, ownerID string) ([]models.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.OwnerID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
