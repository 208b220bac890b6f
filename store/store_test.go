package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/stretchr/testify/require"

	"github.com/ashaai/navigator/internal/profile"
	"github.com/ashaai/navigator/store"
	"github.com/ashaai/navigator/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		Data:   t.TempDir(),
	}
	p.DSN = filepath.Join(p.Data, "test.db")

	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)

	s := store.New(driver, p)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newSession(title string, ts int64) *store.ReportSession {
	return &store.ReportSession{
		UID:          shortuuid.New(),
		Title:        title,
		DocumentPath: "/data/reports/report_" + title + ".jpg",
		DocumentKind: "IMAGE",
		Messages: []store.ChatMessage{
			{Role: store.MessageRoleUser, Content: "question", CreatedTs: ts},
			{Role: store.MessageRoleAssistant, Content: "answer", CreatedTs: ts},
		},
		CreatedTs: ts,
		UpdatedTs: ts,
	}
}

func TestCreateAndGetReportSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateReportSession(ctx, newSession("blood test", time.Now().Unix()))
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := s.GetReportSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "blood test", got.Title)
	require.Equal(t, created.UID, got.UID)
	require.Len(t, got.Messages, 2)
	require.Equal(t, store.MessageRoleUser, got.Messages[0].Role)
	require.Equal(t, store.MessageRoleAssistant, got.Messages[1].Role)
}

func TestGetReportSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetReportSession(context.Background(), 12345)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestListReportSessionsRecencyOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Sessions created at t1 < t2 < t3 list as t3, t2, t1.
	base := time.Now().Unix()
	for i, title := range []string{"t1", "t2", "t3"} {
		_, err := s.CreateReportSession(ctx, newSession(title, base+int64(i)))
		require.NoError(t, err)
	}

	list, err := s.ListReportSessions(ctx, &store.FindReportSession{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "t3", list[0].Title)
	require.Equal(t, "t2", list[1].Title)
	require.Equal(t, "t1", list[2].Title)
}

func TestListReportSessionsTieBreakOnID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Same updated_ts: higher insertion id wins.
	ts := time.Now().Unix()
	for i := 0; i < 3; i++ {
		_, err := s.CreateReportSession(ctx, newSession(fmt.Sprintf("s%d", i), ts))
		require.NoError(t, err)
	}

	list, err := s.ListReportSessions(ctx, &store.FindReportSession{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Greater(t, list[0].ID, list[1].ID)
	require.Greater(t, list[1].ID, list[2].ID)
}

func TestUpdateReportSessionTranscript(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateReportSession(ctx, newSession("scan", time.Now().Unix()))
	require.NoError(t, err)

	appended := append(created.Messages,
		store.ChatMessage{Role: store.MessageRoleUser, Content: "follow-up", CreatedTs: time.Now().Unix()},
		store.ChatMessage{Role: store.MessageRoleAssistant, Content: "reply", CreatedTs: time.Now().Unix()},
	)
	summary := "reply"
	updatedTs := time.Now().Unix() + 10

	updated, err := s.UpdateReportSession(ctx, &store.UpdateReportSession{
		ID:        created.ID,
		Summary:   &summary,
		Messages:  appended,
		UpdatedTs: &updatedTs,
	})
	require.NoError(t, err)
	require.Len(t, updated.Messages, 4)
	require.Equal(t, "reply", updated.Summary)
	require.Equal(t, updatedTs, updated.UpdatedTs)

	// The document path never changes on update.
	require.Equal(t, created.DocumentPath, updated.DocumentPath)
}

func TestUpdateReportSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	title := "x"
	_, err := s.UpdateReportSession(context.Background(), &store.UpdateReportSession{
		ID:    999,
		Title: &title,
	})
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestDeleteReportSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateReportSession(ctx, newSession("to delete", time.Now().Unix()))
	require.NoError(t, err)

	require.NoError(t, s.DeleteReportSession(ctx, &store.DeleteReportSession{ID: created.ID}))

	_, err = s.GetReportSession(ctx, created.ID)
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	err = s.DeleteReportSession(ctx, &store.DeleteReportSession{ID: created.ID})
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestWatchNotifiesOnMutation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	watch := s.Watch()

	created, err := s.CreateReportSession(ctx, newSession("watched", time.Now().Unix()))
	require.NoError(t, err)

	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("expected watch signal after create")
	}

	require.NoError(t, s.DeleteReportSession(ctx, &store.DeleteReportSession{ID: created.ID}))
	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("expected watch signal after delete")
	}
}

func TestLastAssistantMessage(t *testing.T) {
	session := &store.ReportSession{
		Messages: []store.ChatMessage{
			{Role: store.MessageRoleUser, Content: "q1"},
			{Role: store.MessageRoleAssistant, Content: "a1"},
			{Role: store.MessageRoleUser, Content: "q2"},
			{Role: store.MessageRoleAssistant, Content: "a2"},
		},
	}
	last, ok := session.LastAssistantMessage()
	require.True(t, ok)
	require.Equal(t, "a2", last.Content)

	empty := &store.ReportSession{
		Messages: []store.ChatMessage{{Role: store.MessageRoleUser, Content: "q"}},
	}
	_, ok = empty.LastAssistantMessage()
	require.False(t, ok)
}
