package docqa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ai-docqa-be/internal/pkg/logger"
	"ai-docqa-be/pkg/assistant"
	"ai-docqa-be/pkg/events"
	"ai-docqa-be/pkg/poller"
	"ai-docqa-be/pkg/store"
)

const (
	module = "DocQA"

	// FailedAnswerText keeps the log paired when a question could not be answered.
	FailedAnswerText = "[assistant failed to answer]"

	DefaultBusyStaleAfter = 5 * time.Minute
)

// SessionSaver persists intermediate session states so other requests see busy=true.
type SessionSaver interface {
	Save(ctx context.Context, session *store.Session) error
}

// DocumentHandle describes the indexed document a session can be asked about.
type DocumentHandle struct {
	Fingerprint   string `json:"fingerprint"`
	Name          string `json:"name"`
	FileID        string `json:"file_id,omitempty"`
	VectorStoreID string `json:"vector_store_id"`
	ThreadID      string `json:"thread_id"`
	Reused        bool   `json:"reused"`
}

// Answer is the outcome of one question turn. Failed answers still carry the sentinel text.
type Answer struct {
	Question string
	Text     string
	Failed   bool
	Err      error
	Messages []store.Message // the user and assistant turns appended
}

type Controller struct {
	remote      assistant.Index
	poller      *poller.Poller
	indexPoller *poller.Poller
	assistantID string

	sharedVectorStoreID string
	sharedThreadID      string

	saver      SessionSaver
	publisher  events.Publisher
	logger     logger.ILogger
	now        func() time.Time
	staleAfter time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Controller)

func WithSaver(s SessionSaver) Option {
	return func(c *Controller) { c.saver = s }
}

func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

func WithLogger(l logger.ILogger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithIndexPoller sets the poller used while a document is being indexed.
func WithIndexPoller(p *poller.Poller) Option {
	return func(c *Controller) { c.indexPoller = p }
}

// WithSharedHandles seeds new sessions with a pre-provisioned pair that is never deleted.
func WithSharedHandles(vectorStoreID, threadID string) Option {
	return func(c *Controller) {
		c.sharedVectorStoreID = vectorStoreID
		c.sharedThreadID = threadID
	}
}

func WithBusyStaleAfter(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(remote assistant.Index, p *poller.Poller, assistantID string, opts ...Option) *Controller {
	c := &Controller{
		remote:      remote,
		poller:      p,
		assistantID: assistantID,
		logger:      logger.NewNopLogger(),
		now:         time.Now,
		staleAfter:  DefaultBusyStaleAfter,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.poller == nil {
		c.poller = poller.New(poller.DefaultInterval, poller.DefaultCeiling)
	}
	if c.indexPoller == nil {
		c.indexPoller = c.poller
	}
	return c
}

// NewSession returns an empty session, already bound to the shared pair when one is configured.
func (c *Controller) NewSession(ctx context.Context, id string) *store.Session {
	now := c.now()
	s := &store.Session{
		ID:          id,
		AssistantID: c.assistantID,
		Messages:    []store.Message{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if c.sharedVectorStoreID != "" && c.sharedThreadID != "" {
		s.VectorStoreID = c.sharedVectorStoreID
		s.ThreadID = c.sharedThreadID
		s.SharedHandles = true
	}
	c.publish(ctx, events.SessionCreated, s.ID, map[string]interface{}{
		"ready":  s.Ready(),
		"shared": s.SharedHandles,
	})
	return s
}

// SubmitDocument makes content the document the session answers from.
// Re-submitting the same bytes is a no-op that issues no remote call.
func (c *Controller) SubmitDocument(ctx context.Context, s *store.Session, content []byte, filename string) (DocumentHandle, error) {
	if err := ValidateDocument(filename, content); err != nil {
		return DocumentHandle{}, err
	}

	unlock, err := c.claim(s)
	if err != nil {
		return DocumentHandle{}, err
	}
	defer unlock()

	fingerprint := Fingerprint(content)
	if fingerprint == s.DocumentFingerprint && s.Ready() {
		c.publish(ctx, events.DocumentReused, s.ID, map[string]interface{}{"fingerprint": fingerprint})
		h := handleOf(s)
		h.Reused = true
		return h, nil
	}

	c.markBusy(ctx, s)
	defer c.markIdle(ctx, s)

	// Only one vector store may be alive per session, so the old one goes first.
	c.releasePair(ctx, s)
	s.ClearDocument()

	h, err := c.createPair(ctx, s, content, filename)
	if err != nil {
		c.logger.Error(module, "Document indexing failed", map[string]interface{}{
			"session_id": s.ID,
			"filename":   filename,
			"error":      err.Error(),
		})
		c.publish(ctx, events.DocumentFailed, s.ID, map[string]interface{}{
			"filename": filename,
			"error":    err.Error(),
		})
		return DocumentHandle{}, err
	}

	h.Fingerprint = fingerprint
	s.DocumentFingerprint = fingerprint
	s.DocumentName = filename
	s.FileID = h.FileID
	s.VectorStoreID = h.VectorStoreID
	s.ThreadID = h.ThreadID
	s.AssistantID = c.assistantID
	s.SharedHandles = false
	s.Messages = []store.Message{}

	c.logger.Info(module, "Document indexed", map[string]interface{}{
		"session_id":      s.ID,
		"filename":        filename,
		"vector_store_id": h.VectorStoreID,
		"thread_id":       h.ThreadID,
	})
	c.publish(ctx, events.DocumentIndexed, s.ID, map[string]interface{}{
		"filename":        filename,
		"fingerprint":     fingerprint,
		"vector_store_id": h.VectorStoreID,
		"thread_id":       h.ThreadID,
	})
	return h, nil
}

// createPair runs the remote sequence. Anything it created is rolled back when a later step fails.
func (c *Controller) createPair(ctx context.Context, s *store.Session, content []byte, filename string) (DocumentHandle, error) {
	var h DocumentHandle
	rollback := func() {
		if h.FileID != "" {
			c.bestEffort(ctx, s.ID, "delete file", func(ctx context.Context) error {
				return c.remote.DeleteFile(ctx, h.FileID)
			})
		}
		if h.VectorStoreID != "" {
			c.deleteVectorStore(ctx, s.ID, h.VectorStoreID)
		}
	}

	vsID, err := c.remote.CreateVectorStore(ctx, "docqa-"+s.ID)
	if err != nil {
		return DocumentHandle{}, remoteErr("create vector store", err)
	}
	h.VectorStoreID = vsID

	fileID, err := c.remote.UploadFile(ctx, filename, content)
	if err != nil {
		rollback()
		return DocumentHandle{}, remoteErr("upload file", err)
	}
	h.FileID = fileID

	if err := c.remote.AttachFile(ctx, vsID, fileID); err != nil {
		rollback()
		return DocumentHandle{}, remoteErr("attach file", err)
	}

	job := &indexJob{remote: c.remote, vectorStoreID: vsID, fileID: fileID}
	if _, err := poller.Run[string](ctx, c.indexPoller, "index_file", job); err != nil {
		rollback()
		return DocumentHandle{}, remoteErr("index file", err)
	}

	threadID, err := c.remote.CreateThread(ctx, vsID)
	if err != nil {
		rollback()
		return DocumentHandle{}, remoteErr("create thread", err)
	}
	h.ThreadID = threadID
	h.Name = filename

	return h, nil
}

// Ask posts question on the session thread and appends exactly one answer turn.
// Remote failures are folded into a failed Answer; only precondition violations return an error.
func (c *Controller) Ask(ctx context.Context, s *store.Session, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}

	unlock, err := c.claim(s)
	if err != nil {
		return Answer{}, err
	}
	defer unlock()

	if !s.Ready() {
		return Answer{}, ErrNotReady
	}

	c.markBusy(ctx, s)
	defer c.markIdle(ctx, s)

	userMsg := s.Append(store.RoleUser, question)

	text, err := c.answer(ctx, s, question)
	if err != nil {
		reply := s.Append(store.RoleAssistant, FailedAnswerText)
		c.logger.Error(module, "Question failed", map[string]interface{}{
			"session_id": s.ID,
			"thread_id":  s.ThreadID,
			"error":      err.Error(),
		})
		c.publish(ctx, events.QuestionFailed, s.ID, map[string]interface{}{
			"message_id": reply.ID,
			"error":      err.Error(),
			"timed_out":  errors.Is(err, poller.ErrTimeout),
		})
		return Answer{
			Question: question,
			Text:     FailedAnswerText,
			Failed:   true,
			Err:      err,
			Messages: []store.Message{userMsg, reply},
		}, nil
	}

	reply := s.Append(store.RoleAssistant, text)
	c.publish(ctx, events.QuestionAnswered, s.ID, map[string]interface{}{
		"message_id": reply.ID,
	})
	return Answer{
		Question: question,
		Text:     text,
		Messages: []store.Message{userMsg, reply},
	}, nil
}

func (c *Controller) answer(ctx context.Context, s *store.Session, question string) (string, error) {
	assistantID := s.AssistantID
	if assistantID == "" {
		assistantID = c.assistantID
	}

	runID, err := c.remote.StartRun(ctx, s.ThreadID, assistantID, question)
	if err != nil {
		return "", remoteErr("start run", err)
	}

	job := &runJob{remote: c.remote, threadID: s.ThreadID, runID: runID}
	return poller.Run[string](ctx, c.poller, "answer", job)
}

// Reset releases the remote pair and returns the session to its empty state.
// Remote failures are only logged; the error is ErrBusy when another action holds the session.
func (c *Controller) Reset(ctx context.Context, s *store.Session) error {
	unlock, err := c.claimLock(s.ID)
	if err != nil {
		return err
	}
	defer unlock()

	c.clear(ctx, s)
	c.checkpoint(ctx, s)

	c.logger.Info(module, "Session reset", map[string]interface{}{"session_id": s.ID})
	c.publish(ctx, events.SessionReset, s.ID, nil)
	return nil
}

// Release frees the remote pair of a session that is going away. Unlike Reset it never
// saves the session, so an evicted session is not written back to the store.
func (c *Controller) Release(ctx context.Context, s *store.Session) error {
	unlock, err := c.claimLock(s.ID)
	if err != nil {
		return err
	}
	defer unlock()

	c.clear(ctx, s)
	c.logger.Info(module, "Session released", map[string]interface{}{"session_id": s.ID})
	return nil
}

// Abandon hands the vector store of a session that could not be released in place to the
// orphan collector. The thread and file ids ride along for operators.
func (c *Controller) Abandon(ctx context.Context, s *store.Session) {
	if s.SharedHandles || s.VectorStoreID == "" {
		return
	}
	c.logger.Warn(module, "Session abandoned with live resources", map[string]interface{}{
		"session_id":      s.ID,
		"vector_store_id": s.VectorStoreID,
	})
	c.publish(ctx, events.VectorStoreOrphaned, s.ID, map[string]interface{}{
		"vector_store_id": s.VectorStoreID,
		"thread_id":       s.ThreadID,
		"file_id":         s.FileID,
	})
}

func (c *Controller) clear(ctx context.Context, s *store.Session) {
	c.releasePair(ctx, s)
	s.ClearDocument()
	s.Messages = []store.Message{}
	s.Busy = false
	s.BusySince = time.Time{}
	s.UpdatedAt = c.now()
}

// Handle returns the current document handle, if any.
func (c *Controller) Handle(s *store.Session) (DocumentHandle, bool) {
	if !s.Ready() {
		return DocumentHandle{}, false
	}
	return handleOf(s), true
}

func handleOf(s *store.Session) DocumentHandle {
	return DocumentHandle{
		Fingerprint:   s.DocumentFingerprint,
		Name:          s.DocumentName,
		FileID:        s.FileID,
		VectorStoreID: s.VectorStoreID,
		ThreadID:      s.ThreadID,
	}
}

// releasePair deletes the session's own thread, vector store and file. Shared handles are only dropped.
func (c *Controller) releasePair(ctx context.Context, s *store.Session) {
	if s.SharedHandles {
		return
	}
	if s.ThreadID != "" {
		threadID := s.ThreadID
		c.bestEffort(ctx, s.ID, "delete thread", func(ctx context.Context) error {
			return c.remote.DeleteThread(ctx, threadID)
		})
	}
	if s.VectorStoreID != "" {
		c.deleteVectorStore(ctx, s.ID, s.VectorStoreID)
	}
	if s.FileID != "" {
		fileID := s.FileID
		c.bestEffort(ctx, s.ID, "delete file", func(ctx context.Context) error {
			return c.remote.DeleteFile(ctx, fileID)
		})
	}
}

func (c *Controller) deleteVectorStore(ctx context.Context, sessionID, vectorStoreID string) {
	ok := c.bestEffort(ctx, sessionID, "delete vector store", func(ctx context.Context) error {
		return c.remote.DeleteVectorStore(ctx, vectorStoreID)
	})
	if !ok {
		c.publish(ctx, events.VectorStoreOrphaned, sessionID, map[string]interface{}{
			"vector_store_id": vectorStoreID,
		})
	}
}

// bestEffort runs a cleanup call that must never block the user. It survives a cancelled request.
func (c *Controller) bestEffort(ctx context.Context, sessionID, op string, fn func(context.Context) error) bool {
	err := fn(context.WithoutCancel(ctx))
	if errors.Is(err, assistant.ErrNotFound) {
		// already gone remotely
		return true
	}
	if err != nil {
		c.logger.Warn(module, "Best-effort "+op+" failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return false
	}
	return true
}

// claim takes the in-process lock and rejects sessions another instance has marked busy.
func (c *Controller) claim(s *store.Session) (func(), error) {
	unlock, err := c.claimLock(s.ID)
	if err != nil {
		return nil, err
	}
	if s.Busy {
		// a flag without a start time cannot be aged, so it stays busy
		if s.BusySince.IsZero() || c.now().Sub(s.BusySince) < c.staleAfter {
			unlock()
			return nil, ErrBusy
		}
		c.logger.Warn(module, "Clearing stale busy flag", map[string]interface{}{
			"session_id": s.ID,
			"busy_since": s.BusySince,
		})
		s.Busy = false
		s.BusySince = time.Time{}
	}
	return unlock, nil
}

func (c *Controller) claimLock(sessionID string) (func(), error) {
	c.mu.Lock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionID] = l
	}
	c.mu.Unlock()

	if !l.TryLock() {
		return nil, ErrBusy
	}
	return l.Unlock, nil
}

// Forget drops the lock entry of a session that no longer exists.
func (c *Controller) Forget(sessionID string) {
	c.mu.Lock()
	delete(c.locks, sessionID)
	c.mu.Unlock()
}

func (c *Controller) markBusy(ctx context.Context, s *store.Session) {
	s.Busy = true
	s.BusySince = c.now()
	s.UpdatedAt = s.BusySince
	c.checkpoint(ctx, s)
	c.publish(ctx, events.SessionBusy, s.ID, nil)
}

func (c *Controller) markIdle(ctx context.Context, s *store.Session) {
	s.Busy = false
	s.BusySince = time.Time{}
	s.UpdatedAt = c.now()
	c.checkpoint(ctx, s)
	c.publish(ctx, events.SessionIdle, s.ID, map[string]interface{}{
		"ready":    s.Ready(),
		"messages": len(s.Messages),
	})
}

func (c *Controller) checkpoint(ctx context.Context, s *store.Session) {
	if c.saver == nil {
		return
	}
	if err := c.saver.Save(context.WithoutCancel(ctx), s); err != nil {
		c.logger.Warn(module, "Failed to checkpoint session", map[string]interface{}{
			"session_id": s.ID,
			"error":      err.Error(),
		})
	}
}

func (c *Controller) publish(ctx context.Context, eventType, sessionID string, data map[string]interface{}) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(context.WithoutCancel(ctx), events.New(eventType, sessionID, data)); err != nil {
		c.logger.Error(module, "Failed to publish "+eventType+" event", map[string]interface{}{"error": err.Error()})
	}
}
