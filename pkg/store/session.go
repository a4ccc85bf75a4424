package store

import (
	"time"
)

// Message is one turn of the conversation log
type Message struct {
	ID      int    `json:"id"`
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session represents the state of one document Q&A conversation
type Session struct {
	ID string `json:"id"`

	// Document currently indexed for this session
	DocumentFingerprint string `json:"document_fingerprint,omitempty"`
	DocumentName        string `json:"document_name,omitempty"`
	FileID              string `json:"file_id,omitempty"`

	// Remote handles. VectorStoreID and ThreadID are created and released as a pair.
	VectorStoreID string `json:"vector_store_id,omitempty"`
	ThreadID      string `json:"thread_id,omitempty"`
	AssistantID   string `json:"assistant_id,omitempty"`

	// SharedHandles marks a pair injected from configuration. Those are never deleted remotely.
	SharedHandles bool `json:"shared_handles,omitempty"`

	Messages []Message `json:"messages"`

	Busy      bool      `json:"busy"`
	BusySince time.Time `json:"busy_since,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ready reports whether questions can be asked.
func (s *Session) Ready() bool {
	return s.ThreadID != "" && s.VectorStoreID != ""
}

// Append adds a turn to the log; the id is the position in the log.
func (s *Session) Append(role, content string) Message {
	msg := Message{
		ID:      len(s.Messages),
		Role:    role,
		Content: content,
	}
	s.Messages = append(s.Messages, msg)
	return msg
}

// ClearDocument forgets the document and its handle pair.
func (s *Session) ClearDocument() {
	s.DocumentFingerprint = ""
	s.DocumentName = ""
	s.FileID = ""
	s.VectorStoreID = ""
	s.ThreadID = ""
	s.SharedHandles = false
}

// History returns a copy of the log.
func (s *Session) History() []Message {
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Clone returns a deep copy so stored sessions are never mutated through a shared pointer.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = s.History()
	return &cp
}
