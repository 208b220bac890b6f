package report

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashaai/navigator/internal/filestore"
	"github.com/ashaai/navigator/internal/profile"
	"github.com/ashaai/navigator/plugin/docnorm"
	"github.com/ashaai/navigator/plugin/inference"
	"github.com/ashaai/navigator/plugin/speech"
	"github.com/ashaai/navigator/store"
	"github.com/ashaai/navigator/store/db/sqlite"
)

type fixture struct {
	controller *Controller
	store      *store.Store
	files      *filestore.Manager
	engine     *inference.MockEngine
	synth      *speech.MockSynthesizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := &profile.Profile{Mode: "dev", Driver: "sqlite", Data: t.TempDir()}
	p.DSN = filepath.Join(p.Data, "test.db")

	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	files, err := filestore.New(p.Data)
	require.NoError(t, err)

	engine := inference.NewMockEngine()
	synth := speech.NewMockSynthesizer()
	controller := NewController(st, files, docnorm.New(files, nil), engine, &Options{
		Workers:     2,
		Synthesizer: synth,
	})

	return &fixture{controller: controller, store: st, files: files, engine: engine, synth: synth}
}

func imageHandle(t *testing.T) *docnorm.Handle {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &docnorm.Handle{Reader: &buf, ContentType: "image/png", Size: int64(buf.Len())}
}

func TestAnalyzeNewDocumentSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.AnalyzeFunc = func(ctx context.Context, req *inference.Request) (string, error) {
		return "The report shows normal values.", nil
	}

	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "summarize"))

	state := f.controller.State()
	require.Equal(t, PhaseSuccess, state.Phase)
	require.Equal(t, "The report shows normal values.", state.LastResponse)

	messages := f.controller.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, store.MessageRoleUser, messages[0].Role)
	require.Equal(t, "summarize", messages[0].Content)
	require.Equal(t, store.MessageRoleAssistant, messages[1].Role)

	// One inference call carrying exactly one frame for a single image.
	require.Equal(t, 1, f.engine.AnalyzeCallCount())
	require.Equal(t, []int{1}, f.engine.FrameCounts)

	// Persisted with derived title and summary.
	id := f.controller.ActiveSessionID()
	require.NotZero(t, id)
	persisted, err := f.store.GetReportSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "summarize", persisted.Title)
	require.Equal(t, "The report shows normal values.", persisted.Summary)
	require.Len(t, persisted.Messages, 2)
	require.NotEmpty(t, persisted.DocumentPath)
	require.Equal(t, "IMAGE", persisted.DocumentKind)
}

func TestAnalyzeNewDocumentTitleTruncation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	question := strings.Repeat("q", 80)
	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), question))

	persisted, err := f.store.GetReportSession(ctx, f.controller.ActiveSessionID())
	require.NoError(t, err)
	require.Equal(t, 50, len([]rune(persisted.Title)))
	require.True(t, strings.HasSuffix(persisted.Title, "..."))
}

func TestAnalyzeNewDocumentSummaryTruncation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	long := strings.Repeat("r", 500)
	f.engine.AnalyzeFunc = func(ctx context.Context, req *inference.Request) (string, error) {
		return long, nil
	}

	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "explain"))

	persisted, err := f.store.GetReportSession(ctx, f.controller.ActiveSessionID())
	require.NoError(t, err)
	require.Equal(t, 200, len([]rune(persisted.Summary)))
	require.Equal(t, long, persisted.Messages[1].Content)
}

func TestAnalyzeNewDocumentQuotaFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	quota := &inference.Failure{Kind: inference.FailureQuota}
	f.engine.AnalyzeFunc = func(ctx context.Context, req *inference.Request) (string, error) {
		return "", quota
	}

	err := f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "summarize")
	require.ErrorIs(t, err, quota)

	state := f.controller.State()
	require.Equal(t, PhaseError, state.Phase)
	require.Contains(t, state.Message, "quota")

	// The user's question is retained and followed by the quota guidance.
	messages := f.controller.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "summarize", messages[0].Content)
	require.Equal(t, quota.UserMessage(), messages[1].Content)

	// The failed attempt is persisted because a durable copy was made.
	list, err := f.store.ListReportSessions(ctx, &store.FindReportSession{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Messages, 2)
}

func TestAnalyzeNewDocumentIngestionError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	handle := &docnorm.Handle{Reader: strings.NewReader("not an image"), ContentType: "image/jpeg"}
	err := f.controller.AnalyzeNewDocument(ctx, handle, "summarize")
	require.Error(t, err)
	require.True(t, docnorm.IsIngestionError(err))

	// Ingestion failures abort the turn before any inference call.
	require.Equal(t, 0, f.engine.AnalyzeCallCount())
	require.Equal(t, PhaseError, f.controller.State().Phase)

	messages := f.controller.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, store.MessageRoleAssistant, messages[1].Role)
	require.NotEmpty(t, messages[1].Content)
}

func TestSendFollowUpTranscriptLaw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "summarize"))

	// After k follow-ups the persisted transcript has exactly 2 + 2k messages.
	const k = 3
	for i := 0; i < k; i++ {
		require.NoError(t, f.controller.SendFollowUp(ctx, "and then?"))
	}

	persisted, err := f.store.GetReportSession(ctx, f.controller.ActiveSessionID())
	require.NoError(t, err)
	require.Len(t, persisted.Messages, 2+2*k)

	// Chronological user/assistant alternation.
	for i, m := range persisted.Messages {
		expected := store.MessageRoleUser
		if i%2 == 1 {
			expected = store.MessageRoleAssistant
		}
		require.Equal(t, expected, m.Role)
	}

	// Follow-ups carry the prior transcript role-tagged.
	require.Equal(t, 1+k, f.engine.AnalyzeCallCount())
	require.Len(t, f.engine.AnalyzeCalls[1].History, 2)
	require.Equal(t, "user", f.engine.AnalyzeCalls[1].History[0].Role)
	require.Equal(t, "assistant", f.engine.AnalyzeCalls[1].History[1].Role)

	// Still a single persisted session: updates, not inserts.
	list, err := f.store.ListReportSessions(ctx, &store.FindReportSession{})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestSendTextFollowUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.AnalyzeFunc = func(ctx context.Context, req *inference.Request) (string, error) {
		return "initial analysis", nil
	}
	f.engine.ChatFunc = func(ctx context.Context, messages []inference.Message) (string, error) {
		return "chat answer", nil
	}

	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "summarize"))
	require.NoError(t, f.controller.SendTextFollowUp(ctx, "what about the glucose value?"))

	// Text-only turns go through Chat; the document is never re-normalized.
	require.Equal(t, 1, f.engine.AnalyzeCallCount())
	require.Len(t, f.engine.ChatCalls, 1)

	chat := f.engine.ChatCalls[0]
	require.Len(t, chat, 4)
	require.Equal(t, "system", chat[0].Role)
	require.NotEmpty(t, chat[0].Content)
	require.Equal(t, "user", chat[1].Role)
	require.Equal(t, "summarize", chat[1].Content)
	require.Equal(t, "assistant", chat[2].Role)
	require.Equal(t, "initial analysis", chat[2].Content)
	require.Equal(t, "user", chat[3].Role)
	require.Equal(t, "what about the glucose value?", chat[3].Content)

	// The turn appends a user/assistant pair and updates the same record.
	persisted, err := f.store.GetReportSession(ctx, f.controller.ActiveSessionID())
	require.NoError(t, err)
	require.Len(t, persisted.Messages, 4)
	require.Equal(t, "chat answer", persisted.Messages[3].Content)

	require.Equal(t, PhaseSuccess, f.controller.State().Phase)
	require.Equal(t, "chat answer", f.controller.State().LastResponse)
}

func TestSendTextFollowUpWithoutSession(t *testing.T) {
	f := newFixture(t)
	err := f.controller.SendTextFollowUp(context.Background(), "anything")
	require.ErrorIs(t, err, ErrNoActiveSession)
}

func TestSendTextFollowUpFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	timeout := &inference.Failure{Kind: inference.FailureTimeout}
	f.engine.ChatFunc = func(ctx context.Context, messages []inference.Message) (string, error) {
		return "", timeout
	}

	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "summarize"))
	err := f.controller.SendTextFollowUp(ctx, "and then?")
	require.ErrorIs(t, err, timeout)

	// The failed turn is recorded like any other.
	require.Equal(t, PhaseError, f.controller.State().Phase)
	messages := f.controller.Messages()
	require.Len(t, messages, 4)
	require.Equal(t, timeout.UserMessage(), messages[3].Content)
}

func TestSendFollowUpWithoutSession(t *testing.T) {
	f := newFixture(t)
	err := f.controller.SendFollowUp(context.Background(), "anything")
	require.ErrorIs(t, err, ErrNoActiveSession)
}

func TestLoadFromHistoryIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.AnalyzeFunc = func(ctx context.Context, req *inference.Request) (string, error) {
		return "analysis text", nil
	}

	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "summarize"))
	id := f.controller.ActiveSessionID()
	f.controller.Clear()

	require.NoError(t, f.controller.LoadFromHistory(ctx, id))
	firstMessages := f.controller.Messages()
	firstState := f.controller.State()

	require.NoError(t, f.controller.LoadFromHistory(ctx, id))
	require.Equal(t, firstMessages, f.controller.Messages())
	require.Equal(t, firstState, f.controller.State())

	require.Equal(t, PhaseSuccess, firstState.Phase)
	require.Equal(t, "analysis text", firstState.LastResponse)
	require.Equal(t, id, f.controller.ActiveSessionID())

	// No store mutation: the record is untouched.
	persisted, err := f.store.GetReportSession(ctx, id)
	require.NoError(t, err)
	require.Len(t, persisted.Messages, 2)
}

func TestLoadFromHistoryNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.controller.LoadFromHistory(context.Background(), 999)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "summarize"))
	stops := f.synth.StopCount()

	f.controller.Clear()
	require.Equal(t, PhaseIdle, f.controller.State().Phase)
	require.Empty(t, f.controller.Messages())
	require.Zero(t, f.controller.ActiveSessionID())
	require.Greater(t, f.synth.StopCount(), stops)
}

func TestDeleteActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "summarize"))
	id := f.controller.ActiveSessionID()
	persisted, err := f.store.GetReportSession(ctx, id)
	require.NoError(t, err)

	require.NoError(t, f.controller.DeleteByID(ctx, id))

	// The durable copy is removed along with the record.
	_, err = f.store.GetReportSession(ctx, id)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
	require.NoFileExists(t, persisted.DocumentPath)

	// A follow-up on the detached slot must not write to the deleted id.
	err = f.controller.SendFollowUp(ctx, "more")
	require.ErrorIs(t, err, ErrNoActiveSession)

	// Starting a new session explicitly works and gets a fresh id.
	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "new doc"))
	require.NotZero(t, f.controller.ActiveSessionID())
	require.NotEqual(t, id, f.controller.ActiveSessionID())
}

func TestConcurrentAnalyzeRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.engine.AnalyzeFunc = func(ctx context.Context, req *inference.Request) (string, error) {
		close(started)
		<-release
		return "slow response", nil
	}

	done := make(chan error, 1)
	go func() {
		done <- f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "first")
	}()
	<-started

	// At most one Analyzing operation per session at a time.
	require.Equal(t, PhaseAnalyzing, f.controller.State().Phase)
	err := f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "second")
	require.ErrorIs(t, err, ErrAnalysisInProgress)
	err = f.controller.SendFollowUp(ctx, "second")
	require.ErrorIs(t, err, ErrAnalysisInProgress)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, PhaseSuccess, f.controller.State().Phase)
}

func TestStaleResponseDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.engine.AnalyzeFunc = func(ctx context.Context, req *inference.Request) (string, error) {
		close(started)
		<-release
		return "late response", nil
	}

	done := make(chan error, 1)
	go func() {
		done <- f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "question")
	}()
	<-started

	// The slot moves on while the call is in flight.
	f.controller.Clear()

	close(release)
	require.NoError(t, <-done)

	// The late response is not applied to the now-irrelevant slot.
	require.Equal(t, PhaseIdle, f.controller.State().Phase)
	require.Empty(t, f.controller.Messages())

	// Store-first: the completed result is still persisted.
	list, err := f.store.ListReportSessions(ctx, &store.FindReportSession{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "late response", list[0].Messages[1].Content)
}

func TestCaptureQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	recognizer := speech.NewMockRecognizer(
		speech.Transcript{Text: "what is"},
		speech.Transcript{Text: "what is my cholesterol", Final: true},
	)
	controller := NewController(f.store, f.files, docnorm.New(f.files, nil), f.engine, &Options{
		Workers:    2,
		Recognizer: recognizer,
	})

	// Partial updates are skipped; the final transcript becomes the question.
	question, err := controller.CaptureQuestion(ctx)
	require.NoError(t, err)
	require.Equal(t, "what is my cholesterol", question)
	require.False(t, recognizer.Active())
}

func TestCaptureQuestionUnavailable(t *testing.T) {
	f := newFixture(t)
	_, err := f.controller.CaptureQuestion(context.Background())
	require.ErrorIs(t, err, ErrSpeechUnavailable)
}

func TestCaptureQuestionRecognitionError(t *testing.T) {
	f := newFixture(t)

	recognizer := speech.NewMockRecognizer(
		speech.Transcript{Err: "microphone busy"},
	)
	controller := NewController(f.store, f.files, docnorm.New(f.files, nil), f.engine, &Options{
		Workers:    2,
		Recognizer: recognizer,
	})

	_, err := controller.CaptureQuestion(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "microphone busy")
}

func TestSpeakLastResponse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.AnalyzeFunc = func(ctx context.Context, req *inference.Request) (string, error) {
		return "spoken text", nil
	}

	// Nothing to speak while idle.
	require.NoError(t, f.controller.SpeakLastResponse(ctx))
	require.Empty(t, f.synth.Spoken)

	require.NoError(t, f.controller.AnalyzeNewDocument(ctx, imageHandle(t), "read this"))
	require.NoError(t, f.controller.SpeakLastResponse(ctx))
	require.Equal(t, []string{"spoken text"}, f.synth.Spoken)
}
