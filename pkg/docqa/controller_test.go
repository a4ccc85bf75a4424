package docqa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-docqa-be/pkg/assistant"
	"ai-docqa-be/pkg/events"
	"ai-docqa-be/pkg/poller"
	"ai-docqa-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op string
	id string
}

type fakeRemote struct {
	mu    sync.Mutex
	calls []call
	seq   int

	fail         map[string]error
	fileStatuses []assistant.JobStatus
	runStatuses  []assistant.JobStatus
	answer       string
	noAnswer     bool

	// when set, StartRun signals started and waits for release
	started chan struct{}
	release chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		fail:   make(map[string]error),
		answer: "Refunds are accepted within 30 days of purchase.",
	}
}

func (f *fakeRemote) record(op, prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[op]; err != nil {
		f.calls = append(f.calls, call{op: op + "!", id: ""})
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("%s-%d", prefix, f.seq)
	f.calls = append(f.calls, call{op: op, id: id})
	return id, nil
}

func (f *fakeRemote) recordID(op, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[op]; err != nil {
		f.calls = append(f.calls, call{op: op + "!", id: id})
		return err
	}
	f.calls = append(f.calls, call{op: op, id: id})
	return nil
}

func (f *fakeRemote) setFail(op string, err error) {
	f.mu.Lock()
	f.fail[op] = err
	f.mu.Unlock()
}

func (f *fakeRemote) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRemote) count(op string) int {
	n := 0
	for _, c := range f.snapshot() {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeRemote) CreateVectorStore(ctx context.Context, name string) (string, error) {
	return f.record("create_vs", "vs")
}

func (f *fakeRemote) DeleteVectorStore(ctx context.Context, id string) error {
	return f.recordID("delete_vs", id)
}

func (f *fakeRemote) UploadFile(ctx context.Context, filename string, content []byte) (string, error) {
	return f.record("upload", "file")
}

func (f *fakeRemote) DeleteFile(ctx context.Context, id string) error {
	return f.recordID("delete_file", id)
}

func (f *fakeRemote) AttachFile(ctx context.Context, vs, file string) error {
	return f.recordID("attach", vs+"/"+file)
}

func (f *fakeRemote) FileStatus(ctx context.Context, vs, file string) (assistant.JobStatus, error) {
	if err := f.recordID("file_status", file); err != nil {
		return assistant.JobPending, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return next(&f.fileStatuses), nil
}

func (f *fakeRemote) CreateThread(ctx context.Context, vs string) (string, error) {
	return f.record("create_thread", "thread")
}

func (f *fakeRemote) DeleteThread(ctx context.Context, id string) error {
	return f.recordID("delete_thread", id)
}

func (f *fakeRemote) StartRun(ctx context.Context, thread, assistantID, question string) (string, error) {
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return f.record("start_run", "run")
}

func (f *fakeRemote) RunStatus(ctx context.Context, thread, run string) (assistant.JobStatus, error) {
	if err := f.recordID("run_status", run); err != nil {
		return assistant.JobPending, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return next(&f.runStatuses), nil
}

func (f *fakeRemote) ListMessages(ctx context.Context, thread, run string) ([]assistant.ThreadMessage, error) {
	if err := f.recordID("list_messages", run); err != nil {
		return nil, err
	}
	if f.noAnswer {
		return []assistant.ThreadMessage{{ID: "msg-q", Role: "user", RunID: run, Text: "question"}}, nil
	}
	return []assistant.ThreadMessage{
		{ID: "msg-a", Role: "assistant", RunID: run, Text: f.answer},
		{ID: "msg-q", Role: "user", Text: "question"},
	}, nil
}

// next pops a scripted status; an empty script means succeeded, the last entry repeats.
func next(script *[]assistant.JobStatus) assistant.JobStatus {
	if len(*script) == 0 {
		return assistant.JobSucceeded
	}
	s := (*script)[0]
	if len(*script) > 1 {
		*script = (*script)[1:]
	}
	return s
}

type eventLog struct {
	mu    sync.Mutex
	types []string
}

func (l *eventLog) Publish(ctx context.Context, e events.Event) error {
	l.mu.Lock()
	l.types = append(l.types, e.EventType())
	l.mu.Unlock()
	return nil
}

func (l *eventLog) has(t string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, x := range l.types {
		if x == t {
			return true
		}
	}
	return false
}

type savedStates struct {
	mu   sync.Mutex
	busy []bool
}

func (s *savedStates) Save(ctx context.Context, session *store.Session) error {
	s.mu.Lock()
	s.busy = append(s.busy, session.Busy)
	s.mu.Unlock()
	return nil
}

type fixture struct {
	remote *fakeRemote
	clock  *poller.FakeClock
	events *eventLog
	ctrl   *Controller
	trans  [][2]poller.State
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		remote: newFakeRemote(),
		clock:  poller.NewFakeClock(time.Unix(1_700_000_000, 0)),
		events: &eventLog{},
	}
	p := poller.New(200*time.Millisecond, 60*time.Second,
		poller.WithClock(f.clock),
		poller.WithObserver(func(name string, from, to poller.State) {
			if name == "answer" {
				f.trans = append(f.trans, [2]poller.State{from, to})
			}
		}),
	)
	opts = append([]Option{WithPublisher(f.events), WithNow(f.clock.Now)}, opts...)
	f.ctrl = NewController(f.remote, p, "asst-1", opts...)
	return f
}

func (f *fixture) session(ctx context.Context) *store.Session {
	return f.ctrl.NewSession(ctx, "sess-1")
}

func TestSubmitDocument_IndexesAndBindsPair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)

	h, err := f.ctrl.SubmitDocument(ctx, s, []byte("Refunds within 30 days"), "policy.pdf")

	require.NoError(t, err)
	assert.True(t, s.Ready())
	assert.Equal(t, h.VectorStoreID, s.VectorStoreID)
	assert.Equal(t, h.ThreadID, s.ThreadID)
	assert.Equal(t, Fingerprint([]byte("Refunds within 30 days")), s.DocumentFingerprint)
	assert.Equal(t, "asst-1", s.AssistantID)
	assert.False(t, s.Busy)
	assert.False(t, h.Reused)
	assert.True(t, f.events.has(events.DocumentIndexed))

	ops := []string{}
	for _, c := range f.remote.snapshot() {
		ops = append(ops, c.op)
	}
	assert.Equal(t, []string{"create_vs", "upload", "attach", "file_status", "create_thread"}, ops)
}

func TestSubmitDocument_SameBytesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)

	first, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc A"), "a.txt")
	require.NoError(t, err)
	before := len(f.remote.snapshot())

	again, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc A"), "a.txt")

	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, first.VectorStoreID, again.VectorStoreID)
	assert.Equal(t, first.ThreadID, again.ThreadID)
	assert.Len(t, f.remote.snapshot(), before)
}

func TestSubmitDocument_NewDocumentReplacesPair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)

	a, err := f.ctrl.SubmitDocument(ctx, s, []byte("document A"), "a.pdf")
	require.NoError(t, err)
	_, err = f.ctrl.SubmitDocument(ctx, s, []byte("document A"), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, 0, f.remote.count("delete_vs"))
	assert.Equal(t, 1, f.remote.count("create_vs"))

	_, err = f.ctrl.Ask(ctx, s, "what is it about?")
	require.NoError(t, err)
	require.Len(t, s.Messages, 2)

	b, err := f.ctrl.SubmitDocument(ctx, s, []byte("document B"), "b.docx")
	require.NoError(t, err)

	assert.NotEqual(t, a.VectorStoreID, b.VectorStoreID)
	assert.Equal(t, b.VectorStoreID, s.VectorStoreID)
	assert.Empty(t, s.Messages)

	calls := f.remote.snapshot()
	deleteAt, createAt := -1, -1
	for i, c := range calls {
		if c.op == "delete_vs" && c.id == a.VectorStoreID {
			deleteAt = i
		}
		if c.op == "create_vs" && c.id == b.VectorStoreID {
			createAt = i
		}
	}
	require.NotEqual(t, -1, deleteAt)
	assert.Less(t, deleteAt, createAt)
	assert.Equal(t, 1, f.remote.count("delete_thread"))
	assert.Equal(t, 1, f.remote.count("delete_file"))
}

func TestSubmitDocument_AtMostOneLiveVectorStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)

	for i := 0; i < 5; i++ {
		_, err := f.ctrl.SubmitDocument(ctx, s, []byte(fmt.Sprintf("document %d", i)), "doc.txt")
		require.NoError(t, err)
	}

	live := map[string]bool{}
	creates := 0
	var lastOp string
	for _, c := range f.remote.snapshot() {
		switch c.op {
		case "create_vs":
			if creates > 0 {
				assert.Equal(t, "delete_vs", lastOp, "create #%d not preceded by a delete", creates)
			}
			creates++
			live[c.id] = true
			lastOp = c.op
		case "delete_vs":
			delete(live, c.id)
			lastOp = c.op
		}
		assert.LessOrEqual(t, len(live), 1)
	}
	assert.Equal(t, 5, creates)
	assert.Equal(t, 4, f.remote.count("delete_vs"))
	assert.True(t, live[s.VectorStoreID])
}

func TestSubmitDocument_RejectsBeforeAnyRemoteCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)

	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("data"), "image.png")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = f.ctrl.SubmitDocument(ctx, s, nil, "empty.pdf")
	assert.ErrorIs(t, err, ErrEmptyDocument)

	assert.Empty(t, f.remote.snapshot())
	assert.False(t, s.Ready())
}

func TestSubmitDocument_FailureRollsBackNewResources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)
	f.remote.setFail("create_thread", errors.New("503 service unavailable"))

	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.pdf")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteCallFailed)
	var rce *RemoteCallError
	require.ErrorAs(t, err, &rce)
	assert.Equal(t, "create thread", rce.Op)

	assert.False(t, s.Ready())
	assert.Empty(t, s.DocumentFingerprint)
	assert.False(t, s.Busy)
	assert.Equal(t, 1, f.remote.count("delete_vs"))
	assert.Equal(t, 1, f.remote.count("delete_file"))
	assert.True(t, f.events.has(events.DocumentFailed))
}

func TestSubmitDocument_FailureKeepsMessageLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)

	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc A"), "a.pdf")
	require.NoError(t, err)
	_, err = f.ctrl.Ask(ctx, s, "hello?")
	require.NoError(t, err)

	f.remote.setFail("upload", errors.New("timeout"))
	_, err = f.ctrl.SubmitDocument(ctx, s, []byte("doc B"), "b.pdf")

	require.Error(t, err)
	assert.Len(t, s.Messages, 2)
	assert.False(t, s.Ready())
	assert.Empty(t, s.DocumentFingerprint)
}

func TestSubmitDocument_IndexingFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)
	f.remote.fileStatuses = []assistant.JobStatus{assistant.JobPending, assistant.JobFailed}

	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.pdf")

	assert.ErrorIs(t, err, poller.ErrJobFailed)
	assert.ErrorIs(t, err, ErrRemoteCallFailed)
	assert.False(t, s.Ready())
	assert.Equal(t, 1, f.remote.count("delete_vs"))
}

func TestSubmitDocument_FailedDeleteIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)

	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc A"), "a.pdf")
	require.NoError(t, err)

	f.remote.setFail("delete_vs", errors.New("503 service unavailable"))
	h, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc B"), "b.pdf")

	require.NoError(t, err)
	assert.Equal(t, h.VectorStoreID, s.VectorStoreID)
	assert.True(t, f.events.has(events.VectorStoreOrphaned))
}

func TestSubmitDocument_AlreadyDeletedIsNotAnOrphan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)

	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc A"), "a.pdf")
	require.NoError(t, err)

	f.remote.setFail("delete_vs", fmt.Errorf("delete vector store: %w", assistant.ErrNotFound))
	_, err = f.ctrl.SubmitDocument(ctx, s, []byte("doc B"), "b.pdf")

	require.NoError(t, err)
	assert.False(t, f.events.has(events.VectorStoreOrphaned))
}

func TestAsk_NotReady(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)

	_, err := f.ctrl.Ask(ctx, s, "anything?")

	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, s.Messages)
	assert.Empty(t, f.remote.snapshot())
}

func TestAsk_EmptyQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)

	_, err := f.ctrl.Ask(ctx, s, "   ")

	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAsk_RefundPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)
	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("Refunds within 30 days"), "policy.txt")
	require.NoError(t, err)
	f.remote.runStatuses = []assistant.JobStatus{assistant.JobPending, assistant.JobSucceeded}

	answer, err := f.ctrl.Ask(ctx, s, "What is the refund policy?")

	require.NoError(t, err)
	assert.False(t, answer.Failed)
	assert.Equal(t, "Refunds are accepted within 30 days of purchase.", answer.Text)

	require.Len(t, s.Messages, 2)
	assert.Equal(t, store.Message{ID: 0, Role: store.RoleUser, Content: "What is the refund policy?"}, s.Messages[0])
	assert.Equal(t, store.Message{ID: 1, Role: store.RoleAssistant, Content: answer.Text}, s.Messages[1])

	require.NotEmpty(t, f.trans)
	assert.Equal(t, [2]poller.State{poller.StateSubmitted, poller.StateRunning}, f.trans[0])
	assert.Equal(t, [2]poller.State{poller.StateRunning, poller.StateCompleted}, f.trans[len(f.trans)-1])
	assert.True(t, f.events.has(events.QuestionAnswered))
}

func TestAsk_NoAssistantMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)
	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)
	f.remote.noAnswer = true

	answer, err := f.ctrl.Ask(ctx, s, "anything?")

	require.NoError(t, err)
	assert.Equal(t, NoAnswerText, answer.Text)
}

func TestAsk_FailuresAppendSentinel(t *testing.T) {
	tests := []struct {
		name    string
		arrange func(f *fakeRemote)
		wantErr error
	}{
		{
			name:    "run failed",
			arrange: func(r *fakeRemote) { r.runStatuses = []assistant.JobStatus{assistant.JobFailed} },
			wantErr: poller.ErrJobFailed,
		},
		{
			name:    "run never finishes",
			arrange: func(r *fakeRemote) { r.runStatuses = []assistant.JobStatus{assistant.JobPending} },
			wantErr: poller.ErrTimeout,
		},
		{
			name:    "start run rejected",
			arrange: func(r *fakeRemote) { r.setFail("start_run", errors.New("rate limited")) },
			wantErr: ErrRemoteCallFailed,
		},
		{
			name:    "status call errors",
			arrange: func(r *fakeRemote) { r.setFail("run_status", errors.New("connection reset")) },
			wantErr: ErrRemoteCallFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			s := f.session(ctx)
			_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
			require.NoError(t, err)
			tt.arrange(f.remote)

			answer, err := f.ctrl.Ask(ctx, s, "question?")

			require.NoError(t, err)
			assert.True(t, answer.Failed)
			assert.ErrorIs(t, answer.Err, tt.wantErr)
			assert.Equal(t, FailedAnswerText, answer.Text)
			require.Len(t, s.Messages, 2)
			assert.Equal(t, store.RoleAssistant, s.Messages[1].Role)
			assert.Equal(t, FailedAnswerText, s.Messages[1].Content)
			assert.False(t, s.Busy)
			assert.True(t, f.events.has(events.QuestionFailed))
		})
	}
}

func TestAsk_TimeoutIsBounded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)
	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)
	f.remote.runStatuses = []assistant.JobStatus{assistant.JobPending}

	start := f.clock.Now()
	answer, err := f.ctrl.Ask(ctx, s, "question?")

	require.NoError(t, err)
	assert.ErrorIs(t, answer.Err, poller.ErrTimeout)
	elapsed := f.clock.Now().Sub(start)
	assert.LessOrEqual(t, elapsed, 60*time.Second+200*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 60*time.Second)
}

func TestAsk_BusySessionIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)
	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)

	s.Busy = true
	s.BusySince = f.clock.Now()

	_, err = f.ctrl.Ask(ctx, s, "question?")

	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, s.Messages)
	assert.True(t, s.Busy)
}

func TestAsk_StaleBusyFlagIsCleared(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithBusyStaleAfter(time.Minute))
	s := f.session(ctx)
	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)

	s.Busy = true
	s.BusySince = f.clock.Now().Add(-2 * time.Minute)

	answer, err := f.ctrl.Ask(ctx, s, "question?")

	require.NoError(t, err)
	assert.False(t, answer.Failed)
	assert.False(t, s.Busy)
}

func TestAsk_BusyFlagWithoutStartTimeIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithBusyStaleAfter(time.Minute))
	s := f.session(ctx)
	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)

	s.Busy = true
	s.BusySince = time.Time{}

	_, err = f.ctrl.Ask(ctx, s, "question?")

	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, s.Messages)
	assert.True(t, s.Busy)
	assert.Equal(t, 0, f.remote.count("start_run"))
}

func TestAsk_ConcurrentActionIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)
	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)

	f.remote.started = make(chan struct{})
	f.remote.release = make(chan struct{})

	var wg sync.WaitGroup
	var first Answer
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = f.ctrl.Ask(ctx, s, "first?")
	}()
	<-f.remote.started

	_, err = f.ctrl.Ask(ctx, s, "second?")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.ctrl.SubmitDocument(ctx, s, []byte("other doc"), "other.txt")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, f.ctrl.Reset(ctx, s), ErrBusy)

	close(f.remote.release)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.False(t, first.Failed)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "first?", s.Messages[0].Content)
}

func TestAsk_LogStaysPaired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)
	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		if i == 2 {
			f.remote.setFail("start_run", errors.New("boom"))
		} else {
			f.remote.setFail("start_run", nil)
		}
		before := len(s.Messages)
		_, err := f.ctrl.Ask(ctx, s, fmt.Sprintf("question %d?", i))
		require.NoError(t, err)
		assert.Equal(t, before+2, len(s.Messages))
	}
	for i, m := range s.Messages {
		assert.Equal(t, i, m.ID)
		if i%2 == 0 {
			assert.Equal(t, store.RoleUser, m.Role)
		} else {
			assert.Equal(t, store.RoleAssistant, m.Role)
		}
	}
}

func TestBusyIsCheckpointed(t *testing.T) {
	ctx := context.Background()
	saver := &savedStates{}
	f := newFixture(t, WithSaver(saver))
	s := f.session(ctx)

	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)
	_, err = f.ctrl.Ask(ctx, s, "question?")
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false, true, false}, saver.busy)
}

func TestReset_ReleasesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)
	h, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)
	_, err = f.ctrl.Ask(ctx, s, "question?")
	require.NoError(t, err)
	f.remote.setFail("delete_vs", errors.New("gone"))

	require.NoError(t, f.ctrl.Reset(ctx, s))

	assert.False(t, s.Ready())
	assert.Empty(t, s.DocumentFingerprint)
	assert.Empty(t, s.Messages)
	assert.False(t, s.Busy)
	assert.Equal(t, 1, f.remote.count("delete_thread"))
	assert.Equal(t, 1, f.remote.count("delete_vs!"))
	assert.Equal(t, 1, f.remote.count("delete_file"))
	assert.True(t, f.events.has(events.SessionReset))

	// the same document can be indexed again after a reset
	h2, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)
	assert.False(t, h2.Reused)
	assert.NotEqual(t, h.VectorStoreID, h2.VectorStoreID)
}

func TestSharedHandlesAreNeverDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithSharedHandles("vs-shared", "thread-shared"))
	s := f.session(ctx)
	require.True(t, s.Ready())
	assert.True(t, s.SharedHandles)

	_, err := f.ctrl.Ask(ctx, s, "question?")
	require.NoError(t, err)

	_, err = f.ctrl.SubmitDocument(ctx, s, []byte("own doc"), "own.pdf")
	require.NoError(t, err)
	assert.False(t, s.SharedHandles)

	for _, c := range f.remote.snapshot() {
		if strings.HasPrefix(c.op, "delete") {
			assert.NotContains(t, c.id, "shared")
		}
	}

	require.NoError(t, f.ctrl.Reset(ctx, s))
	assert.Equal(t, 1, f.remote.count("delete_vs"))
}

func TestRelease_DoesNotSaveSession(t *testing.T) {
	ctx := context.Background()
	saver := &savedStates{}
	f := newFixture(t, WithSaver(saver))
	s := f.session(ctx)
	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)
	saves := len(saver.busy)

	require.NoError(t, f.ctrl.Release(ctx, s))

	assert.Len(t, saver.busy, saves)
	assert.False(t, s.Ready())
	assert.Equal(t, 1, f.remote.count("delete_thread"))
	assert.Equal(t, 1, f.remote.count("delete_vs"))
	assert.Equal(t, 1, f.remote.count("delete_file"))
	assert.False(t, f.events.has(events.SessionReset))
}

func TestAbandon_PublishesOrphan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(ctx)
	_, err := f.ctrl.SubmitDocument(ctx, s, []byte("doc"), "doc.txt")
	require.NoError(t, err)

	f.ctrl.Abandon(ctx, s)

	assert.True(t, f.events.has(events.VectorStoreOrphaned))
	assert.Equal(t, 0, f.remote.count("delete_vs"))
}

func TestAbandon_SkipsSharedHandles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithSharedHandles("vs-shared", "thread-shared"))
	s := f.session(ctx)

	f.ctrl.Abandon(ctx, s)

	assert.False(t, f.events.has(events.VectorStoreOrphaned))
}
