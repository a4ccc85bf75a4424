package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"ai-docqa-be/internal/dto"
	"ai-docqa-be/internal/mapper"
	"ai-docqa-be/internal/metrics"
	"ai-docqa-be/internal/pkg/logger"
	"ai-docqa-be/internal/pkg/serverutils"
	"ai-docqa-be/internal/repository/contract"
	"ai-docqa-be/pkg/assistant"
	"ai-docqa-be/pkg/docqa"
	"ai-docqa-be/pkg/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("ai-docqa-be/internal/service")

// DefaultReleaseWait outlasts the index and answer poll ceilings.
const DefaultReleaseWait = 3 * time.Minute

type IDocQAService interface {
	CreateSession(ctx context.Context) (*dto.CreateSessionResponse, error)
	Status(ctx context.Context, sessionId string) (*dto.StatusResponse, error)
	SubmitDocument(ctx context.Context, sessionId, filename string, content []byte) (*dto.DocumentResponse, error)
	Ask(ctx context.Context, sessionId string, req *dto.AskRequest) (*dto.AskResponse, error)
	AskByVoice(ctx context.Context, sessionId, filename string, audio []byte, speak bool) (*dto.AskResponse, error)
	Speak(ctx context.Context, text string) ([]byte, error)
	Reset(ctx context.Context, sessionId string) (*dto.StatusResponse, error)
	History(ctx context.Context, sessionId string) ([]dto.MessageDTO, error)
	ReleaseExpired(s *store.Session)
}

type docQAService struct {
	controller *docqa.Controller
	speech     assistant.Speech
	repo       contract.SessionRepository
	tokens     *serverutils.SessionTokens
	mapper     *mapper.SessionMapper
	metrics    *metrics.Metrics
	logger     logger.ILogger

	loads       singleflight.Group
	releaseWait time.Duration

	mu       sync.Mutex
	inflight map[string]bool
}

func NewDocQAService(
	controller *docqa.Controller,
	speech assistant.Speech,
	repo contract.SessionRepository,
	tokens *serverutils.SessionTokens,
	m *metrics.Metrics,
	log logger.ILogger,
) IDocQAService {
	return &docQAService{
		controller:  controller,
		speech:      speech,
		repo:        repo,
		tokens:      tokens,
		mapper:      mapper.NewSessionMapper(),
		metrics:     m,
		logger:      log,
		releaseWait: DefaultReleaseWait,
		inflight:    make(map[string]bool),
	}
}

func (s *docQAService) CreateSession(ctx context.Context) (*dto.CreateSessionResponse, error) {
	id := uuid.NewString()
	session := s.controller.NewSession(ctx, id)
	if err := s.repo.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save new session: %w", err)
	}

	token, expiresAt, err := s.tokens.Issue(id)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	s.logger.Info("DocQAService", "Session created", map[string]interface{}{
		"session_id": id,
		"shared":     session.SharedHandles,
	})

	return &dto.CreateSessionResponse{
		SessionId: id,
		Token:     token,
		ExpiresAt: expiresAt,
		Status:    s.mapper.ToStatus(session),
	}, nil
}

func (s *docQAService) Status(ctx context.Context, sessionId string) (*dto.StatusResponse, error) {
	session, err := s.load(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	return s.mapper.ToStatus(session), nil
}

func (s *docQAService) History(ctx context.Context, sessionId string) ([]dto.MessageDTO, error) {
	session, err := s.load(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	return s.mapper.ToMessages(session.History()), nil
}

func (s *docQAService) SubmitDocument(ctx context.Context, sessionId, filename string, content []byte) (*dto.DocumentResponse, error) {
	ctx, span := tracer.Start(ctx, "DocQAService.SubmitDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionId),
		attribute.String("document.name", filename),
		attribute.Int("document.size", len(content)),
	)

	// validation errors must not take the session lock
	if err := docqa.ValidateDocument(filename, content); err != nil {
		return nil, err
	}

	var res *dto.DocumentResponse
	err := s.mutate(ctx, sessionId, func(session *store.Session) error {
		h, err := s.controller.SubmitDocument(ctx, session, content, filename)
		if err != nil {
			return err
		}
		res = s.mapper.ToDocument(h, session)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("document.reused", res.Reused))
	return res, nil
}

func (s *docQAService) Ask(ctx context.Context, sessionId string, req *dto.AskRequest) (*dto.AskResponse, error) {
	ctx, span := tracer.Start(ctx, "DocQAService.Ask")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionId))

	res, err := s.ask(ctx, sessionId, req.Question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res.Failed {
		span.SetStatus(codes.Error, res.Error)
	}

	if req.Speak && !res.Failed {
		s.attachSpeech(ctx, res)
	}
	return res, nil
}

func (s *docQAService) AskByVoice(ctx context.Context, sessionId, filename string, audio []byte, speak bool) (*dto.AskResponse, error) {
	ctx, span := tracer.Start(ctx, "DocQAService.AskByVoice")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionId))

	if err := docqa.ValidateAudio(filename, audio); err != nil {
		return nil, err
	}

	// refuse early so a busy or empty session does not pay for a transcription
	session, err := s.load(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if !session.Ready() {
		return nil, docqa.ErrNotReady
	}
	if s.isInflight(sessionId) {
		return nil, docqa.ErrBusy
	}

	transcript, err := s.speech.Transcribe(ctx, filename, audio)
	if err != nil {
		span.RecordError(err)
		return nil, &docqa.RemoteCallError{Op: "transcribe audio", Err: err}
	}
	if transcript == "" {
		return nil, fmt.Errorf("nothing was recognised in the recording: %w", docqa.ErrEmptyQuestion)
	}

	res, err := s.ask(ctx, sessionId, transcript)
	if err != nil {
		return nil, err
	}
	res.Transcript = transcript

	if speak && !res.Failed {
		s.attachSpeech(ctx, res)
	}
	return res, nil
}

func (s *docQAService) ask(ctx context.Context, sessionId, question string) (*dto.AskResponse, error) {
	var res *dto.AskResponse
	err := s.mutate(ctx, sessionId, func(session *store.Session) error {
		answer, err := s.controller.Ask(ctx, session, question)
		if err != nil {
			return err
		}
		res = s.mapper.ToAnswer(answer)
		return nil
	})
	return res, err
}

func (s *docQAService) Speak(ctx context.Context, text string) ([]byte, error) {
	audio, err := s.speech.Synthesize(ctx, text)
	if err != nil {
		return nil, &docqa.RemoteCallError{Op: "synthesize speech", Err: err}
	}
	return audio, nil
}

// attachSpeech adds the spoken answer. A synthesis failure keeps the text answer.
func (s *docQAService) attachSpeech(ctx context.Context, res *dto.AskResponse) {
	audio, err := s.speech.Synthesize(ctx, res.Answer)
	if err != nil {
		s.logger.Warn("DocQAService", "Speech synthesis failed", map[string]interface{}{"error": err.Error()})
		res.AudioError = "speech synthesis failed"
		return
	}
	res.Audio = base64.StdEncoding.EncodeToString(audio)
	res.AudioFormat = "mp3"
}

func (s *docQAService) Reset(ctx context.Context, sessionId string) (*dto.StatusResponse, error) {
	var res *dto.StatusResponse
	err := s.mutate(ctx, sessionId, func(session *store.Session) error {
		if err := s.controller.Reset(ctx, session); err != nil {
			return err
		}
		res = s.mapper.ToStatus(session)
		return nil
	})
	return res, err
}

// ReleaseExpired frees the remote resources of a session the store has evicted.
// A turn still running at expiry saves the session back when it finishes, so the
// release waits for it and leaves a session that came back alone.
func (s *docQAService) ReleaseExpired(session *store.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.releaseWait)
	defer cancel()

	if !s.waitEnter(ctx, session.ID) {
		s.controller.Abandon(ctx, session)
		s.expired(session.ID)
		return
	}
	defer s.leave(session.ID)

	if _, err := s.repo.Get(ctx, session.ID); err == nil {
		s.logger.Info("DocQAService", "Session was saved again after expiry", map[string]interface{}{
			"session_id": session.ID,
		})
		return
	}

	if err := s.controller.Release(ctx, session); err != nil {
		s.logger.Warn("DocQAService", "Could not release expired session", map[string]interface{}{
			"session_id": session.ID,
			"error":      err.Error(),
		})
		s.controller.Abandon(ctx, session)
	}
	s.expired(session.ID)
}

func (s *docQAService) expired(sessionId string) {
	s.controller.Forget(sessionId)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}
	s.logger.Info("DocQAService", "Session expired", map[string]interface{}{"session_id": sessionId})
}

// mutate runs fn on a freshly loaded session and saves the result.
// Only one mutation per session runs at a time on this instance; others get ErrBusy.
func (s *docQAService) mutate(ctx context.Context, sessionId string, fn func(*store.Session) error) error {
	if !s.enter(sessionId) {
		return docqa.ErrBusy
	}
	defer s.leave(sessionId)

	session, err := s.repo.Get(ctx, sessionId)
	if err != nil {
		return err
	}

	fnErr := fn(session)

	// state changes (cleared handles, appended turns) are kept even when fn fails
	if err := s.repo.Save(context.WithoutCancel(ctx), session); err != nil {
		s.logger.Error("DocQAService", "Failed to save session", map[string]interface{}{
			"session_id": sessionId,
			"error":      err.Error(),
		})
		if fnErr == nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	return fnErr
}

// load deduplicates concurrent reads of one session (status panels poll aggressively).
func (s *docQAService) load(ctx context.Context, sessionId string) (*store.Session, error) {
	v, err, _ := s.loads.Do(sessionId, func() (interface{}, error) {
		return s.repo.Get(ctx, sessionId)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Session).Clone(), nil
}

func (s *docQAService) enter(sessionId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[sessionId] {
		return false
	}
	s.inflight[sessionId] = true
	return true
}

// waitEnter blocks until no mutation holds the session or ctx ends.
func (s *docQAService) waitEnter(ctx context.Context, sessionId string) bool {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for !s.enter(sessionId) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

func (s *docQAService) leave(sessionId string) {
	s.mu.Lock()
	delete(s.inflight, sessionId)
	s.mu.Unlock()
}

func (s *docQAService) isInflight(sessionId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[sessionId]
}
