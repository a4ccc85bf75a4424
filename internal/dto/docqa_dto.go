package dto

import (
	"time"
)

type CreateSessionResponse struct {
	SessionId string          `json:"session_id"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Status    *StatusResponse `json:"status"`
}

// StatusResponse drives the status panel and the enabled state of the input widgets.
type StatusResponse struct {
	SessionId        string `json:"session_id"`
	DocumentName     string `json:"document_name,omitempty"`
	Fingerprint      string `json:"fingerprint,omitempty"`
	VectorStoreReady bool   `json:"vector_store_ready"`
	ThreadReady      bool   `json:"thread_ready"`
	AssistantReady   bool   `json:"assistant_ready"`
	SharedHandles    bool   `json:"shared_handles"`
	Ready            bool   `json:"ready"`
	Busy             bool   `json:"busy"`
	MessageCount     int    `json:"message_count"`
}

type DocumentResponse struct {
	Fingerprint   string          `json:"fingerprint"`
	Name          string          `json:"name"`
	VectorStoreId string          `json:"vector_store_id"`
	ThreadId      string          `json:"thread_id"`
	Reused        bool            `json:"reused"`
	Status        *StatusResponse `json:"status"`
}

type AskRequest struct {
	Question string `json:"question" validate:"required,max=4000"`
	Speak    bool   `json:"speak"`
}

type SpeechRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}

type MessageDTO struct {
	Id      int    `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AskResponse struct {
	Question    string       `json:"question"`
	Transcript  string       `json:"transcript,omitempty"` // voice questions only
	Answer      string       `json:"answer"`
	Failed      bool         `json:"failed"`
	Error       string       `json:"error,omitempty"`
	Messages    []MessageDTO `json:"messages"`
	Audio       string       `json:"audio,omitempty"` // base64
	AudioFormat string       `json:"audio_format,omitempty"`
	AudioError  string       `json:"audio_error,omitempty"`
}
