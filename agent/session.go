package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/patchwork/llmwire"
)

// Session holds everything that persists across turns: the conversation, the
// active model and provider, and cumulative usage. Model changes take effect
// on the next turn; an in-flight turn keeps the model it started with.
type Session struct {
	ID           string
	Conversation *Conversation

	mu       sync.RWMutex
	model    string
	provider string
	usage    llmwire.Usage
	created  time.Time
}

// NewSession creates a session with a fresh conversation.
func NewSession(model, provider string) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Conversation: NewConversation(),
		model:        model,
		provider:     provider,
		created:      time.Now().UTC(),
	}
}

// Model returns the active model ID.
func (s *Session) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Provider returns the active provider name, which may be empty when routing
// is left to the model catalog.
func (s *Session) Provider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// SetModel switches the model and provider. The conversation is preserved;
// the change applies from the next turn.
func (s *Session) SetModel(model, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
	s.provider = provider
}

// Usage returns the cumulative token usage for the session.
func (s *Session) Usage() llmwire.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage
}

func (s *Session) addUsage(u llmwire.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = s.usage.Add(u)
}

// ClearConversation drops the history but keeps the session identity and
// model selection.
func (s *Session) ClearConversation() {
	s.Conversation.Clear()
}

// sessionFile is the persisted shape of a session.
type sessionFile struct {
	Version  int               `json:"version"`
	ID       string            `json:"id"`
	Model    string            `json:"model"`
	Provider string            `json:"provider,omitempty"`
	Created  time.Time         `json:"created"`
	SavedAt  time.Time         `json:"saved_at"`
	Usage    llmwire.Usage     `json:"usage"`
	Messages []llmwire.Message `json:"messages"`
}

// Save writes the session to path as JSON, creating parent directories.
func (s *Session) Save(path string) error {
	s.mu.RLock()
	file := sessionFile{
		Version:  1,
		ID:       s.ID,
		Model:    s.model,
		Provider: s.provider,
		Created:  s.created,
		SavedAt:  time.Now().UTC(),
		Usage:    s.usage,
		Messages: s.Conversation.Messages(),
	}
	s.mu.RUnlock()

	// Compact marshalling keeps raw tool-call arguments byte-identical
	// across save and load.
	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadSession restores a session previously written by Save.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	if file.ID == "" {
		return nil, fmt.Errorf("session file has no id")
	}
	return &Session{
		ID:           file.ID,
		Conversation: &Conversation{messages: file.Messages},
		model:        file.Model,
		provider:     file.Provider,
		usage:        file.Usage,
		created:      file.Created,
	}, nil
}
