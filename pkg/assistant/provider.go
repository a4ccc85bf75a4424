package assistant

import (
	"context"
	"errors"
)

// ErrNotFound is wrapped by delete calls when the remote resource is already gone.
var ErrNotFound = errors.New("remote resource not found")

// JobStatus is the provider-agnostic status of a remote asynchronous job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ThreadMessage represents a message fetched from a remote thread
type ThreadMessage struct {
	ID    string
	Role  string // "user", "assistant"
	RunID string
	Text  string
}

// Index defines the contract for the hosted document index and conversation backend
type Index interface {
	CreateVectorStore(ctx context.Context, name string) (string, error)
	DeleteVectorStore(ctx context.Context, vectorStoreID string) error

	// UploadFile stores the raw document and returns its file id
	UploadFile(ctx context.Context, filename string, content []byte) (string, error)
	DeleteFile(ctx context.Context, fileID string) error

	// AttachFile starts indexing fileID into the vector store; poll FileStatus until terminal
	AttachFile(ctx context.Context, vectorStoreID, fileID string) error
	FileStatus(ctx context.Context, vectorStoreID, fileID string) (JobStatus, error)

	// CreateThread creates a conversation bound to the vector store
	CreateThread(ctx context.Context, vectorStoreID string) (string, error)
	DeleteThread(ctx context.Context, threadID string) error

	// StartRun posts the question on the thread and starts the assistant; returns the run id
	StartRun(ctx context.Context, threadID, assistantID, question string) (string, error)
	RunStatus(ctx context.Context, threadID, runID string) (JobStatus, error)

	// ListMessages returns the thread messages, newest first. runID may be empty.
	ListMessages(ctx context.Context, threadID, runID string) ([]ThreadMessage, error)
}

// Speech defines the contract for transcription and synthesis
type Speech interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
