package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ai-docqa-be/pkg/assistant"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Config holds the knobs of the hosted provider
type Config struct {
	APIKey          string
	BaseURL         string // optional, for proxies and tests
	TranscribeModel string
	SpeechModel     string
	Voice           string
	Language        string
	MaxRetries      int
	RequestTimeout  time.Duration
}

type OpenAIProvider struct {
	client sdk.Client
	cfg    Config
}

// Ensure OpenAIProvider implements both contracts
var (
	_ assistant.Index  = &OpenAIProvider{}
	_ assistant.Speech = &OpenAIProvider{}
)

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = string(sdk.AudioModelWhisper1)
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = string(sdk.SpeechModelTTS1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(sdk.AudioSpeechNewParamsVoiceAlloy)
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.RequestTimeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client: sdk.NewClient(opts...),
		cfg:    cfg,
	}
}

// --- Index ---

func (p *OpenAIProvider) CreateVectorStore(ctx context.Context, name string) (string, error) {
	vs, err := p.client.VectorStores.New(ctx, sdk.VectorStoreNewParams{
		Name: sdk.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}
	return vs.ID, nil
}

func (p *OpenAIProvider) DeleteVectorStore(ctx context.Context, vectorStoreID string) error {
	if _, err := p.client.VectorStores.Delete(ctx, vectorStoreID); err != nil {
		return fmt.Errorf("delete vector store %s: %w", vectorStoreID, notFound(err))
	}
	return nil
}

func (p *OpenAIProvider) UploadFile(ctx context.Context, filename string, content []byte) (string, error) {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	file, err := p.client.Files.New(ctx, sdk.FileNewParams{
		File:    sdk.File(bytes.NewReader(content), filename, contentType),
		Purpose: sdk.FilePurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("upload file %s: %w", filename, err)
	}
	return file.ID, nil
}

func (p *OpenAIProvider) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := p.client.Files.Delete(ctx, fileID); err != nil {
		return fmt.Errorf("delete file %s: %w", fileID, notFound(err))
	}
	return nil
}

func (p *OpenAIProvider) AttachFile(ctx context.Context, vectorStoreID, fileID string) error {
	_, err := p.client.VectorStores.Files.New(ctx, vectorStoreID, sdk.VectorStoreFileNewParams{
		FileID: fileID,
	})
	if err != nil {
		return fmt.Errorf("attach file %s to %s: %w", fileID, vectorStoreID, err)
	}
	return nil
}

func (p *OpenAIProvider) FileStatus(ctx context.Context, vectorStoreID, fileID string) (assistant.JobStatus, error) {
	f, err := p.client.VectorStores.Files.Get(ctx, vectorStoreID, fileID)
	if err != nil {
		return assistant.JobPending, fmt.Errorf("get vector store file %s: %w", fileID, err)
	}
	switch f.Status {
	case sdk.VectorStoreFileStatusCompleted:
		return assistant.JobSucceeded, nil
	case sdk.VectorStoreFileStatusFailed, sdk.VectorStoreFileStatusCancelled:
		return assistant.JobFailed, nil
	default:
		return assistant.JobPending, nil
	}
}

func (p *OpenAIProvider) CreateThread(ctx context.Context, vectorStoreID string) (string, error) {
	thread, err := p.client.Beta.Threads.New(ctx, sdk.BetaThreadNewParams{
		ToolResources: sdk.BetaThreadNewParamsToolResources{
			FileSearch: sdk.BetaThreadNewParamsToolResourcesFileSearch{
				VectorStoreIDs: []string{vectorStoreID},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

func (p *OpenAIProvider) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := p.client.Beta.Threads.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, notFound(err))
	}
	return nil
}

// notFound tags a 404 with assistant.ErrNotFound, keeping the API error in the chain.
func notFound(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return errors.Join(assistant.ErrNotFound, err)
	}
	return err
}

func (p *OpenAIProvider) StartRun(ctx context.Context, threadID, assistantID, question string) (string, error) {
	_, err := p.client.Beta.Threads.Messages.New(ctx, threadID, sdk.BetaThreadMessageNewParams{
		Role: sdk.BetaThreadMessageNewParamsRoleUser,
		Content: sdk.BetaThreadMessageNewParamsContentUnion{
			OfString: sdk.String(question),
		},
	})
	if err != nil {
		return "", fmt.Errorf("post question: %w", err)
	}

	run, err := p.client.Beta.Threads.Runs.New(ctx, threadID, sdk.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return run.ID, nil
}

func (p *OpenAIProvider) RunStatus(ctx context.Context, threadID, runID string) (assistant.JobStatus, error) {
	run, err := p.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return assistant.JobPending, fmt.Errorf("get run %s: %w", runID, err)
	}
	return mapRunStatus(run.Status), nil
}

// mapRunStatus folds the remote run lifecycle into pending/succeeded/failed.
// requires_action is terminal here: the assistant has no function tools we could satisfy.
func mapRunStatus(status sdk.RunStatus) assistant.JobStatus {
	switch status {
	case sdk.RunStatusCompleted:
		return assistant.JobSucceeded
	case sdk.RunStatusFailed,
		sdk.RunStatusCancelled,
		sdk.RunStatusExpired,
		sdk.RunStatusIncomplete,
		sdk.RunStatusRequiresAction:
		return assistant.JobFailed
	default:
		return assistant.JobPending
	}
}

func (p *OpenAIProvider) ListMessages(ctx context.Context, threadID, runID string) ([]assistant.ThreadMessage, error) {
	params := sdk.BetaThreadMessageListParams{
		Order: sdk.BetaThreadMessageListParamsOrderDesc,
	}
	if runID != "" {
		params.RunID = sdk.String(runID)
	}

	page, err := p.client.Beta.Threads.Messages.List(ctx, threadID, params)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]assistant.ThreadMessage, 0, len(page.Data))
	for _, m := range page.Data {
		var text strings.Builder
		for _, c := range m.Content {
			if c.Type == "text" {
				text.WriteString(c.Text.Value)
			}
		}
		out = append(out, assistant.ThreadMessage{
			ID:    m.ID,
			Role:  string(m.Role),
			RunID: m.RunID,
			Text:  text.String(),
		})
	}
	return out, nil
}

// --- Speech ---

func (p *OpenAIProvider) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "audio/wav"
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, sdk.AudioTranscriptionNewParams{
		File:     sdk.File(bytes.NewReader(audio), filename, contentType),
		Model:    sdk.AudioModel(p.cfg.TranscribeModel),
		Language: sdk.String(p.cfg.Language),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.client.Audio.Speech.New(ctx, sdk.AudioSpeechNewParams{
		Input:          text,
		Model:          sdk.SpeechModel(p.cfg.SpeechModel),
		Voice:          sdk.AudioSpeechNewParamsVoice(p.cfg.Voice),
		ResponseFormat: sdk.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech body: %w", err)
	}
	return audio, nil
}

// VerifyAssistant checks the configured assistant exists and returns the model it runs on.
func (p *OpenAIProvider) VerifyAssistant(ctx context.Context, assistantID string) (string, error) {
	a, err := p.client.Beta.Assistants.Get(ctx, assistantID)
	if err != nil {
		return "", fmt.Errorf("get assistant %s: %w", assistantID, err)
	}
	return a.Model, nil
}
