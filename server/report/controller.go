// Package report coordinates document normalization, inference calls and
// transcript persistence for one active analysis session.
package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/ashaai/navigator/internal/filestore"
	"github.com/ashaai/navigator/plugin/docnorm"
	"github.com/ashaai/navigator/plugin/inference"
	"github.com/ashaai/navigator/plugin/speech"
	"github.com/ashaai/navigator/server/internal/observability"
	"github.com/ashaai/navigator/store"
)

const (
	titleMaxLen   = 50
	summaryMaxLen = 200

	ingestionFailureText = "Could not read the document. Try a clearer photo or a different file."
)

// Options configures a Controller.
type Options struct {
	// Workers bounds concurrent analysis turns across sessions.
	Workers int
	// Synthesizer, when set, is halted on Clear and LoadFromHistory.
	Synthesizer speech.Synthesizer
	// Recognizer, when set, enables capturing a spoken question.
	Recognizer speech.Recognizer
	Logger     *slog.Logger
}

// Controller drives the analysis state machine over the active session slot.
// State transitions are applied atomically per slot; a response arriving
// after the slot moved on (Clear, LoadFromHistory, a new document) is
// persisted but never applied to the now-irrelevant slot.
type Controller struct {
	store      *store.Store
	files      *filestore.Manager
	normalizer *docnorm.Normalizer
	engine     inference.Engine
	synth      speech.Synthesizer
	recognizer speech.Recognizer
	logger     *slog.Logger
	workers    *semaphore.Weighted

	mu   sync.Mutex
	slot slot
}

// slot is the active session. generation increments on every slot
// replacement so in-flight turns can detect staleness.
type slot struct {
	generation   uint64
	sessionID    int32
	uid          string
	title        string
	summary      string
	documentPath string
	documentKind docnorm.Kind
	createdTs    int64
	messages     []store.ChatMessage
	state        State
	inFlight     bool
}

// turn is the working copy of one analysis turn, carried outside the lock.
type turn struct {
	generation   uint64
	sessionID    int32
	uid          string
	title        string
	documentPath string
	documentKind docnorm.Kind
	createdTs    int64
	messages     []store.ChatMessage
}

// NewController creates a Controller.
func NewController(st *store.Store, files *filestore.Manager, normalizer *docnorm.Normalizer, engine inference.Engine, opts *Options) *Controller {
	if opts == nil {
		opts = &Options{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:      st,
		files:      files,
		normalizer: normalizer,
		engine:     engine,
		synth:      opts.Synthesizer,
		recognizer: opts.Recognizer,
		logger:     logger,
		workers:    semaphore.NewWeighted(int64(workers)),
	}
}

// State returns the current state of the active slot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot.state
}

// Messages returns a copy of the active transcript.
func (c *Controller) Messages() []store.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.ChatMessage, len(c.slot.messages))
	copy(out, c.slot.messages)
	return out
}

// ActiveSessionID returns the persisted id of the active session, or zero.
func (c *Controller) ActiveSessionID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot.sessionID
}

// AnalyzeNewDocument ingests the document, runs the first analysis turn and
// persists the resulting session. The user message is appended before the
// inference call; on failure it is kept and an assistant message carrying
// the classified user-facing text is appended.
func (c *Controller) AnalyzeNewDocument(ctx context.Context, handle *docnorm.Handle, question string) error {
	now := time.Now().Unix()

	c.mu.Lock()
	if c.slot.inFlight {
		c.mu.Unlock()
		return ErrAnalysisInProgress
	}
	if c.synth != nil {
		c.synth.Stop()
	}
	c.slot = slot{
		generation:   c.slot.generation + 1,
		uid:          shortuuid.New(),
		title:        deriveTitle(question),
		documentKind: handle.Kind(),
		createdTs:    now,
		messages: []store.ChatMessage{
			{Role: store.MessageRoleUser, Content: question, CreatedTs: now},
		},
		state:    State{Phase: PhaseAnalyzing},
		inFlight: true,
	}
	t := c.snapshotTurn()
	c.mu.Unlock()

	reqCtx := observability.NewRequestContext(c.logger, "analyze_document", 0)
	ctx = observability.WithRequestContext(ctx, reqCtx)
	reqCtx.Info("analysis turn started",
		slog.String(observability.LogFieldDocumentKind, string(t.documentKind)))

	if err := c.workers.Acquire(ctx, 1); err != nil {
		c.failTurn(ctx, t, ingestionFailureText, false)
		return err
	}
	defer c.workers.Release(1)

	// The durable copy is made first and all decoding happens from it; the
	// original transient handle is never read again.
	path, err := c.files.SaveDurableCopy(handle.Reader, handle.ContentType)
	if err != nil {
		reqCtx.Error("failed to save durable copy", err)
		c.failTurn(ctx, t, ingestionFailureText, false)
		return err
	}
	t.documentPath = path
	c.withSlot(t.generation, func(s *slot) { s.documentPath = path })

	frames, err := c.normalizer.NormalizeFile(ctx, path)
	if err != nil {
		reqCtx.Error("failed to normalize document", err)
		// The durable copy exists, so the failed attempt stays recoverable.
		c.failTurn(ctx, t, ingestionFailureText, true)
		return err
	}

	reqCtx.Info("document normalized", slog.Int(observability.LogFieldPageCount, len(frames)))

	response, err := c.engine.AnalyzeDocument(ctx, &inference.Request{
		Frames:      frames,
		Instruction: inference.ReportAnalysisInstruction(question),
	})
	docnorm.ReleaseAll(frames)
	if err != nil {
		f := inference.AsFailure(err)
		reqCtx.Error("inference call failed", f,
			slog.String("failure_kind", f.Kind.String()),
			slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
		c.failTurn(ctx, t, f.UserMessage(), true)
		return f
	}

	reqCtx.Info("analysis turn complete",
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return c.completeTurn(ctx, t, response)
}

// SendFollowUp runs one follow-up turn on the active session. The durable
// copy is re-normalized; the prior transcript rides along role-tagged for
// continuity; the persisted session is updated, never re-inserted.
func (c *Controller) SendFollowUp(ctx context.Context, question string) error {
	now := time.Now().Unix()

	c.mu.Lock()
	if c.slot.inFlight {
		c.mu.Unlock()
		return ErrAnalysisInProgress
	}
	if c.slot.documentPath == "" {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	history := transcriptToHistory(c.slot.messages)
	c.slot.messages = append(c.slot.messages, store.ChatMessage{
		Role: store.MessageRoleUser, Content: question, CreatedTs: now,
	})
	c.slot.state = State{Phase: PhaseAnalyzing}
	c.slot.inFlight = true
	t := c.snapshotTurn()
	c.mu.Unlock()

	reqCtx := observability.NewRequestContext(c.logger, "follow_up", t.sessionID)
	ctx = observability.WithRequestContext(ctx, reqCtx)

	if err := c.workers.Acquire(ctx, 1); err != nil {
		c.failTurn(ctx, t, ingestionFailureText, false)
		return err
	}
	defer c.workers.Release(1)

	frames, err := c.normalizer.NormalizeFile(ctx, t.documentPath)
	if err != nil {
		reqCtx.Error("failed to re-normalize durable copy", err)
		c.failTurn(ctx, t, ingestionFailureText, true)
		return err
	}

	response, err := c.engine.AnalyzeDocument(ctx, &inference.Request{
		Frames:      frames,
		Instruction: inference.ReportAnalysisInstruction(question),
		History:     history,
	})
	docnorm.ReleaseAll(frames)
	if err != nil {
		f := inference.AsFailure(err)
		reqCtx.Error("inference call failed", f,
			slog.String("failure_kind", f.Kind.String()))
		c.failTurn(ctx, t, f.UserMessage(), true)
		return f
	}

	reqCtx.Info("follow-up turn complete",
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return c.completeTurn(ctx, t, response)
}

// SendTextFollowUp runs one text-only follow-up turn on the active session.
// The document frames are not re-sent; the role-tagged transcript alone
// carries the context, so the turn skips normalization entirely.
func (c *Controller) SendTextFollowUp(ctx context.Context, question string) error {
	now := time.Now().Unix()

	c.mu.Lock()
	if c.slot.inFlight {
		c.mu.Unlock()
		return ErrAnalysisInProgress
	}
	if c.slot.documentPath == "" {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	history := transcriptToHistory(c.slot.messages)
	c.slot.messages = append(c.slot.messages, store.ChatMessage{
		Role: store.MessageRoleUser, Content: question, CreatedTs: now,
	})
	c.slot.state = State{Phase: PhaseAnalyzing}
	c.slot.inFlight = true
	t := c.snapshotTurn()
	c.mu.Unlock()

	reqCtx := observability.NewRequestContext(c.logger, "text_follow_up", t.sessionID)
	ctx = observability.WithRequestContext(ctx, reqCtx)

	if err := c.workers.Acquire(ctx, 1); err != nil {
		c.failTurn(ctx, t, ingestionFailureText, false)
		return err
	}
	defer c.workers.Release(1)

	chat := make([]inference.Message, 0, len(history)+2)
	chat = append(chat, inference.SystemMessage(inference.SystemPrompt()))
	chat = append(chat, history...)
	chat = append(chat, inference.UserMessage(question))

	response, err := c.engine.Chat(ctx, chat)
	if err != nil {
		f := inference.AsFailure(err)
		reqCtx.Error("chat call failed", f,
			slog.String("failure_kind", f.Kind.String()))
		c.failTurn(ctx, t, f.UserMessage(), true)
		return f
	}

	reqCtx.Info("text follow-up turn complete",
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return c.completeTurn(ctx, t, response)
}

// LoadFromHistory loads a persisted session into the active slot. Read-only
// and idempotent: no store mutation, repeated calls yield identical state.
func (c *Controller) LoadFromHistory(ctx context.Context, id int32) error {
	session, err := c.store.GetReportSession(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot.inFlight {
		return ErrAnalysisInProgress
	}
	if c.synth != nil {
		c.synth.Stop()
	}

	state := State{Phase: PhaseIdle}
	if last, ok := session.LastAssistantMessage(); ok {
		state = State{Phase: PhaseSuccess, LastResponse: last.Content}
	}

	messages := make([]store.ChatMessage, len(session.Messages))
	copy(messages, session.Messages)

	c.slot = slot{
		generation:   c.slot.generation + 1,
		sessionID:    session.ID,
		uid:          session.UID,
		title:        session.Title,
		summary:      session.Summary,
		documentPath: session.DocumentPath,
		documentKind: docnorm.Kind(session.DocumentKind),
		createdTs:    session.CreatedTs,
		messages:     messages,
		state:        state,
	}
	return nil
}

// Clear empties the active slot and halts pending speech playback. An
// in-flight inference call is not cancelled; its result will be persisted
// but discarded as stale for the slot.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.synth != nil {
		c.synth.Stop()
	}
	c.slot = slot{
		generation: c.slot.generation + 1,
		state:      State{Phase: PhaseIdle},
	}
}

// DeleteByID permanently removes a persisted session and its durable
// document copy. If id is the active session, the slot is detached from the
// deleted record so no later turn can write to it; the caller is expected
// to Clear or start a new session.
func (c *Controller) DeleteByID(ctx context.Context, id int32) error {
	session, err := c.store.GetReportSession(ctx, id)
	if err != nil {
		return err
	}

	if err := c.store.DeleteReportSession(ctx, &store.DeleteReportSession{ID: id}); err != nil {
		return err
	}

	if err := c.files.Remove(session.DocumentPath); err != nil {
		c.logger.Warn("failed to remove durable copy",
			slog.String("path", session.DocumentPath),
			slog.String("error", err.Error()))
	}

	c.mu.Lock()
	if c.slot.sessionID == id {
		c.slot.sessionID = 0
		c.slot.documentPath = ""
	}
	c.mu.Unlock()
	return nil
}

// ListHistory lists persisted sessions ordered by recency descending.
func (c *Controller) ListHistory(ctx context.Context) ([]*store.ReportSession, error) {
	return c.store.ListReportSessions(ctx, &store.FindReportSession{})
}

// GetSession fetches one persisted session.
func (c *Controller) GetSession(ctx context.Context, id int32) (*store.ReportSession, error) {
	return c.store.GetReportSession(ctx, id)
}

// CaptureQuestion listens on the recognizer until the utterance's final
// transcript arrives and returns its text, ready to feed into a follow-up.
// Partial updates are discarded.
func (c *Controller) CaptureQuestion(ctx context.Context) (string, error) {
	if c.recognizer == nil {
		return "", ErrSpeechUnavailable
	}

	stream, err := c.recognizer.Start(ctx)
	if err != nil {
		return "", err
	}
	defer c.recognizer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case tr, ok := <-stream:
			if !ok {
				return "", errors.New("recognition ended without a final transcript")
			}
			if tr.Err != "" {
				return "", errors.Errorf("recognition failed: %s", tr.Err)
			}
			if tr.Final {
				return tr.Text, nil
			}
		}
	}
}

// SpeakLastResponse speaks the latest successful response, when a
// synthesizer is configured.
func (c *Controller) SpeakLastResponse(ctx context.Context) error {
	if c.synth == nil {
		return nil
	}
	c.mu.Lock()
	state := c.slot.state
	c.mu.Unlock()
	if state.Phase != PhaseSuccess || state.LastResponse == "" {
		return nil
	}
	return c.synth.Speak(ctx, state.LastResponse)
}

// snapshotTurn captures the slot as a working turn. Caller holds c.mu.
func (c *Controller) snapshotTurn() turn {
	messages := make([]store.ChatMessage, len(c.slot.messages))
	copy(messages, c.slot.messages)
	return turn{
		generation:   c.slot.generation,
		sessionID:    c.slot.sessionID,
		uid:          c.slot.uid,
		title:        c.slot.title,
		documentPath: c.slot.documentPath,
		documentKind: c.slot.documentKind,
		createdTs:    c.slot.createdTs,
		messages:     messages,
	}
}

// withSlot applies fn to the slot only when the generation still matches.
func (c *Controller) withSlot(generation uint64, fn func(*slot)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot.generation != generation {
		return false
	}
	fn(&c.slot)
	return true
}

// completeTurn appends the assistant response, applies Success to the slot
// unless the turn went stale, and persists the session.
func (c *Controller) completeTurn(ctx context.Context, t turn, response string) error {
	now := time.Now().Unix()
	t.messages = append(t.messages, store.ChatMessage{
		Role: store.MessageRoleAssistant, Content: response, CreatedTs: now,
	})
	summary := truncateRunes(response, summaryMaxLen)

	applied := c.withSlot(t.generation, func(s *slot) {
		s.messages = t.messages
		s.summary = summary
		s.state = State{Phase: PhaseSuccess, LastResponse: response}
		s.inFlight = false
	})
	if !applied {
		c.logger.Info("discarding stale analysis result for slot", slog.Int64("session_id", int64(t.sessionID)))
	}

	return c.persistTurn(ctx, t, summary, now, applied)
}

// failTurn appends an assistant message carrying the user-facing failure
// text, applies Error to the slot unless stale, and persists when a durable
// copy exists.
func (c *Controller) failTurn(ctx context.Context, t turn, userText string, persist bool) {
	now := time.Now().Unix()
	t.messages = append(t.messages, store.ChatMessage{
		Role: store.MessageRoleAssistant, Content: userText, CreatedTs: now,
	})
	summary := truncateRunes(userText, summaryMaxLen)

	applied := c.withSlot(t.generation, func(s *slot) {
		s.messages = t.messages
		s.summary = summary
		s.state = State{Phase: PhaseError, Message: userText}
		s.inFlight = false
	})

	if !persist {
		return
	}
	if err := c.persistTurn(ctx, t, summary, now, applied); err != nil {
		c.logger.Error("failed to persist failed turn", slog.String("error", err.Error()))
	}
}

// persistTurn writes the turn to the history store: update when the session
// already has an id, insert otherwise. Store failures never roll back the
// in-memory transcript.
func (c *Controller) persistTurn(ctx context.Context, t turn, summary string, updatedTs int64, applied bool) error {
	if t.sessionID != 0 {
		_, err := c.store.UpdateReportSession(ctx, &store.UpdateReportSession{
			ID:        t.sessionID,
			Summary:   &summary,
			Messages:  t.messages,
			UpdatedTs: &updatedTs,
		})
		if err != nil {
			c.logPersistFailure(ctx, "failed to update session", err, t.sessionID)
			return &PersistenceError{Err: err}
		}
		return nil
	}

	created, err := c.store.CreateReportSession(ctx, &store.ReportSession{
		UID:          t.uid,
		Title:        t.title,
		DocumentPath: t.documentPath,
		DocumentKind: string(t.documentKind),
		Summary:      summary,
		Messages:     t.messages,
		CreatedTs:    t.createdTs,
		UpdatedTs:    updatedTs,
	})
	if err != nil {
		c.logPersistFailure(ctx, "failed to create session", err, 0)
		return &PersistenceError{Err: err}
	}
	if applied {
		c.withSlot(t.generation, func(s *slot) { s.sessionID = created.ID })
	}
	return nil
}

// logPersistFailure logs with the turn's request context when available so
// the failure carries the request id.
func (c *Controller) logPersistFailure(ctx context.Context, msg string, err error, sessionID int32) {
	if reqCtx, ok := observability.FromContext(ctx); ok {
		reqCtx.Error(msg, err, slog.Int64(observability.LogFieldSessionID, int64(sessionID)))
		return
	}
	c.logger.Error(msg,
		slog.Int64(observability.LogFieldSessionID, int64(sessionID)),
		slog.String("error", err.Error()))
}

// deriveTitle truncates the question for the session title.
func deriveTitle(question string) string {
	runes := []rune(question)
	if len(runes) <= titleMaxLen {
		return question
	}
	return string(runes[:titleMaxLen-3]) + "..."
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// transcriptToHistory converts stored transcript messages to role-tagged
// inference messages.
func transcriptToHistory(messages []store.ChatMessage) []inference.Message {
	history := make([]inference.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == store.MessageRoleAssistant {
			history = append(history, inference.AssistantMessage(m.Content))
		} else {
			history = append(history, inference.UserMessage(m.Content))
		}
	}
	return history
}
