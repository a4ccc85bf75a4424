package docqa

import (
	"context"
	"strings"

	"ai-docqa-be/pkg/assistant"
	"ai-docqa-be/pkg/poller"
	"ai-docqa-be/pkg/store"
)

// NoAnswerText is returned when a run completes without an assistant message.
const NoAnswerText = "I couldn't generate a response based on the documents."

func toPollStatus(s assistant.JobStatus) poller.Status {
	switch s {
	case assistant.JobSucceeded:
		return poller.StatusSucceeded
	case assistant.JobFailed:
		return poller.StatusFailed
	default:
		return poller.StatusPending
	}
}

// runJob is one question being answered on a thread.
type runJob struct {
	remote   assistant.Index
	threadID string
	runID    string
}

func (j *runJob) Status(ctx context.Context) (poller.Status, error) {
	st, err := j.remote.RunStatus(ctx, j.threadID, j.runID)
	if err != nil {
		return poller.StatusPending, remoteErr("get run status", err)
	}
	return toPollStatus(st), nil
}

// Result picks the newest assistant message produced by the run.
func (j *runJob) Result(ctx context.Context) (string, error) {
	msgs, err := j.remote.ListMessages(ctx, j.threadID, j.runID)
	if err != nil {
		return "", remoteErr("list messages", err)
	}
	for _, m := range msgs {
		if m.Role != store.RoleAssistant {
			continue
		}
		if m.RunID != "" && m.RunID != j.runID {
			continue
		}
		if text := strings.TrimSpace(m.Text); text != "" {
			return text, nil
		}
	}
	return NoAnswerText, nil
}

// indexJob waits for an attached file to be chunked and embedded.
type indexJob struct {
	remote        assistant.Index
	vectorStoreID string
	fileID        string
}

func (j *indexJob) Status(ctx context.Context) (poller.Status, error) {
	st, err := j.remote.FileStatus(ctx, j.vectorStoreID, j.fileID)
	if err != nil {
		return poller.StatusPending, remoteErr("get file status", err)
	}
	return toPollStatus(st), nil
}

func (j *indexJob) Result(ctx context.Context) (string, error) {
	return j.fileID, nil
}
