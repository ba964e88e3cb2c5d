package db

import (
	"sync"

	"coursebot/models"
)

// ConversationRepository owns per-conversation message history. Storage is
// append-only; reads are either the full history or a window of the most
// recent n messages.
type ConversationRepository interface {
	Append(conversationID string, msg models.Message) error
	Window(conversationID string, n int) ([]models.Message, error)
	History(conversationID string) ([]models.Message, error)
}

type conversation struct {
	mu       sync.Mutex
	messages []models.Message
}

// InMemoryConversationRepository keeps one lock per conversation id so that
// concurrent turns on the same conversation are serialized while turns on
// different conversations do not contend.
type InMemoryConversationRepository struct {
	mu            sync.Mutex
	conversations map[string]*conversation
}

func NewInMemoryConversationRepository() *InMemoryConversationRepository {
	return &InMemoryConversationRepository{
		conversations: make(map[string]*conversation),
	}
}

func (r *InMemoryConversationRepository) get(conversationID string) *conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[conversationID]
	if !ok {
		c = &conversation{}
		r.conversations[conversationID] = c
	}
	return c
}

func (r *InMemoryConversationRepository) Append(conversationID string, msg models.Message) error {
	c := r.get(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msg)
	return nil
}

func (r *InMemoryConversationRepository) Window(conversationID string, n int) ([]models.Message, error) {
	c := r.get(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}

	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (r *InMemoryConversationRepository) History(conversationID string) ([]models.Message, error) {
	c := r.get(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out, nil
}
