package docqa

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyDocument       = errors.New("document is empty")
	ErrEmptyQuestion       = errors.New("question is empty")
	ErrNotReady            = errors.New("no document has been indexed for this session")
	ErrBusy                = errors.New("session is busy with another request")
	ErrRemoteCallFailed    = errors.New("remote call failed")
)

// RemoteCallError wraps a failed call to the hosted API
type RemoteCallError struct {
	Op  string
	Err error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteCallError) Unwrap() []error {
	return []error{ErrRemoteCallFailed, e.Err}
}

func remoteErr(op string, err error) error {
	return &RemoteCallError{Op: op, Err: err}
}
