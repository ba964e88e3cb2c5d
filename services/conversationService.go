package services

import (
	"fmt"
	"log"

	"coursebot/db"
	"coursebot/models"
)

const SystemPrompt = "You are a task-oriented assistant.\n" +
	"Use tools when they help, and don't guess if a tool can answer.\n" +
	"Tools:\n" +
	"- Weather questions -> get_weather\n" +
	"- Office hours / grading policy / rubric / percentages -> kb_search\n" +
	"- If user provides scores -> calculate_grade\n" +
	"- Live facts / current roles -> web_lookup\n" +
	"If the user asks you to guess or says 'without tools', do NOT guess.\n" +
	"If the user asks for a calculation, finish it and include the final value.\n" +
	"If a request is unsafe, refuse briefly.\n"

// ConversationService wraps the repository with the windowed-read rule: the
// model only ever sees the system preamble plus the most recent window of
// stored messages. Storage itself is unbounded.
type ConversationService struct {
	repo   db.ConversationRepository
	window int
}

func NewConversationService(repo db.ConversationRepository, window int) *ConversationService {
	if window <= 0 {
		window = 12
	}
	return &ConversationService{repo: repo, window: window}
}

func (s *ConversationService) AppendUserMessage(conversationID, content string) error {
	if err := s.repo.Append(conversationID, models.Message{Role: models.RoleUser, Content: content}); err != nil {
		log.Printf("[ERROR] Failed to append user message for conversation %s: %v", conversationID, err)
		return fmt.Errorf("failed to append user message: %w", err)
	}
	return nil
}

func (s *ConversationService) AppendAssistantMessage(conversationID, content string) error {
	if err := s.repo.Append(conversationID, models.Message{Role: models.RoleAssistant, Content: content}); err != nil {
		log.Printf("[ERROR] Failed to append assistant message for conversation %s: %v", conversationID, err)
		return fmt.Errorf("failed to append assistant message: %w", err)
	}
	return nil
}

// PromptMessages assembles the model context: one synthesized system message
// followed by the windowed history. extraSystem, when non-empty, is appended
// to the preamble (used for retrieved user facts).
func (s *ConversationService) PromptMessages(conversationID, extraSystem string) ([]models.Message, error) {
	window, err := s.repo.Window(conversationID, s.window)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation window: %w", err)
	}

	system := SystemPrompt
	if extraSystem != "" {
		system += "\n" + extraSystem
	}

	messages := make([]models.Message, 0, len(window)+1)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: system})
	messages = append(messages, window...)
	return messages, nil
}

func (s *ConversationService) History(conversationID string) ([]models.Message, error) {
	return s.repo.History(conversationID)
}

func (s *ConversationService) Window() int {
	return s.window
}
