package chat

import (
	"context"
	"fmt"
	"sync"
)

// DefaultSystemInstruction is used whenever a SessionConfig has none.
const DefaultSystemInstruction = `You are a friendly, concise assistant in a chat app.
You can play music, open web pages, and generate images with the provided tools.
When the user asks for a song, call play_music. When they ask to search the web
in their browser, call open_google_search. When they ask about Reach Security,
call open_reach_security. When they ask for a picture, call generate_image with a
detailed prompt.`

// DefaultModel is the model of a fresh session.
const DefaultModel = "gemini-2.5-flash"

// SessionConfig is the immutable configuration of one remote conversation.
type SessionConfig struct {
	Model             string `json:"model" yaml:"model"`
	SystemInstruction string `json:"system_instruction,omitzero" yaml:"system_instruction,omitempty"`
	UseSearch         bool   `json:"use_search,omitzero" yaml:"use_search,omitempty"`
}

// normalized fills defaults. The system instruction is never empty.
func (c SessionConfig) normalized() SessionConfig {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.SystemInstruction == "" {
		c.SystemInstruction = DefaultSystemInstruction
	}
	return c
}

// Session binds a SessionConfig to its remote conversation. The
// conversation is created on first use.
type Session struct {
	config SessionConfig
	remote Remote
	tools  []ToolSpec

	mu   sync.Mutex
	conv Conversation
}

// Config returns the session config.
func (s *Session) Config() SessionConfig {
	return s.config
}

// Conversation returns the remote conversation, creating it if needed.
// Creation is retried on the next call after a failure.
func (s *Session) Conversation(ctx context.Context) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv != nil {
		return s.conv, nil
	}
	if s.remote == nil {
		return nil, fmt.Errorf("chat: no remote for model %s", s.config.Model)
	}
	conv, err := s.remote.NewConversation(ctx, s.config, s.tools)
	if err != nil {
		return nil, fmt.Errorf("chat: start conversation with %s: %w", s.config.Model, err)
	}
	s.conv = conv
	return conv, nil
}

// SessionManager holds the active Session and replaces it wholesale.
type SessionManager struct {
	remote Remote
	tools  []ToolSpec

	mu      sync.RWMutex
	current *Session
}

// NewSessionManager creates a manager with no active session.
func NewSessionManager(remote Remote, tools []ToolSpec) *SessionManager {
	return &SessionManager{remote: remote, tools: tools}
}

// Reset replaces the active session with a new one bound to cfg. It cannot
// fail; remote errors surface on the next send.
func (m *SessionManager) Reset(cfg SessionConfig) *Session {
	s := &Session{
		config: cfg.normalized(),
		remote: m.remote,
		tools:  m.tools,
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return s
}

// Current returns the active session, or nil before the first Reset.
func (m *SessionManager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}
