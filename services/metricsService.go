package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"coursebot/models"
)

// MetricsService appends one JSON line per completed turn to
// <logDir>/metrics.jsonl. A failed write never fails the turn; the caller
// logs and moves on.
type MetricsService struct {
	mu   sync.Mutex
	path string
}

func NewMetricsService(logDir string) *MetricsService {
	return &MetricsService{path: filepath.Join(logDir, "metrics.jsonl")}
}

func (s *MetricsService) Record(rec models.MetricsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode metrics record: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open metrics log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write metrics record: %w", err)
	}

	return nil
}

func (s *MetricsService) Path() string {
	return s.path
}
