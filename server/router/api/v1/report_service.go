package v1

import (
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ashaai/navigator/plugin/docnorm"
	"github.com/ashaai/navigator/plugin/inference"
	"github.com/ashaai/navigator/server/report"
	"github.com/ashaai/navigator/store"
)

// ReportSessionResponse is the wire shape of one analysis session. The path
// of the durable document copy stays server-side.
type ReportSessionResponse struct {
	ID           int32               `json:"id"`
	UID          string              `json:"uid"`
	Title        string              `json:"title"`
	DocumentKind string              `json:"documentKind"`
	Summary      string              `json:"summary"`
	Messages     []store.ChatMessage `json:"messages"`
	CreatedTs    int64               `json:"createdTs"`
	UpdatedTs    int64               `json:"updatedTs"`
}

// ReportSessionListItem is the wire shape of one history list entry.
type ReportSessionListItem struct {
	ID           int32  `json:"id"`
	UID          string `json:"uid"`
	Title        string `json:"title"`
	DocumentKind string `json:"documentKind"`
	Summary      string `json:"summary"`
	UpdatedTs    int64  `json:"updatedTs"`
}

// FollowUpRequest carries one follow-up question for an existing session.
// TextOnly skips re-sending the document frames; the transcript alone
// carries the context.
type FollowUpRequest struct {
	Question string `json:"question"`
	TextOnly bool   `json:"textOnly"`
}

// AnalyzeReport runs the first analysis turn on an uploaded document.
// POST /api/v1/reports/analyze (multipart: file, question)
func (s *APIV1Service) AnalyzeReport(c echo.Context) error {
	question := c.FormValue("question")
	if question == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "question is required"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file is required"})
	}
	file, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read uploaded file"})
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(fileHeader.Filename))
	}

	handle := &docnorm.Handle{
		Reader:      file,
		ContentType: contentType,
		Size:        fileHeader.Size,
	}
	if err := s.Controller.AnalyzeNewDocument(c.Request().Context(), handle, question); err != nil {
		return s.turnError(c, err)
	}
	return s.respondActiveSession(c, http.StatusCreated)
}

// SendFollowUp runs one follow-up turn on an existing session, loading it
// into the active slot first when needed.
// POST /api/v1/reports/:id/messages
func (s *APIV1Service) SendFollowUp(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session id"})
	}

	var req FollowUpRequest
	if err := c.Bind(&req); err != nil || req.Question == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "question is required"})
	}

	ctx := c.Request().Context()
	if s.Controller.ActiveSessionID() != id {
		if err := s.Controller.LoadFromHistory(ctx, id); err != nil {
			return s.turnError(c, err)
		}
	}
	sendFollowUp := s.Controller.SendFollowUp
	if req.TextOnly {
		sendFollowUp = s.Controller.SendTextFollowUp
	}
	if err := sendFollowUp(ctx, req.Question); err != nil {
		return s.turnError(c, err)
	}
	return s.respondActiveSession(c, http.StatusOK)
}

// ListReportSessions lists persisted sessions, most recently updated first.
// GET /api/v1/reports
func (s *APIV1Service) ListReportSessions(c echo.Context) error {
	sessions, err := s.Controller.ListHistory(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
	}
	items := make([]*ReportSessionListItem, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, &ReportSessionListItem{
			ID:           session.ID,
			UID:          session.UID,
			Title:        session.Title,
			DocumentKind: session.DocumentKind,
			Summary:      session.Summary,
			UpdatedTs:    session.UpdatedTs,
		})
	}
	return c.JSON(http.StatusOK, items)
}

// GetReportSession fetches one session with its full transcript.
// GET /api/v1/reports/:id
func (s *APIV1Service) GetReportSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session id"})
	}
	session, err := s.Controller.GetSession(c.Request().Context(), id)
	if err != nil {
		return s.turnError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

// DeleteReportSession permanently removes a session and its document copy.
// DELETE /api/v1/reports/:id
func (s *APIV1Service) DeleteReportSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session id"})
	}
	wasActive := s.Controller.ActiveSessionID() == id
	if err := s.Controller.DeleteByID(c.Request().Context(), id); err != nil {
		return s.turnError(c, err)
	}
	if wasActive {
		s.Controller.Clear()
	}
	return c.NoContent(http.StatusNoContent)
}

// respondActiveSession returns the persisted state of the active session.
func (s *APIV1Service) respondActiveSession(c echo.Context, status int) error {
	id := s.Controller.ActiveSessionID()
	if id == 0 {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session was not persisted"})
	}
	session, err := s.Controller.GetSession(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
	}
	return c.JSON(status, toSessionResponse(session))
}

// turnError maps controller and pipeline errors onto HTTP statuses. Failed
// inference turns still carry the classified user-facing guidance.
func (s *APIV1Service) turnError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, report.ErrAnalysisInProgress):
		return c.JSON(http.StatusConflict, map[string]string{"error": "an analysis is already in progress"})
	case errors.Is(err, report.ErrNoActiveSession):
		return c.JSON(http.StatusConflict, map[string]string{"error": "no active session"})
	case docnorm.IsIngestionError(err):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "could not read the document"})
	}

	var failure *inference.Failure
	if errors.As(err, &failure) {
		status := http.StatusBadGateway
		switch failure.Kind {
		case inference.FailureQuota:
			status = http.StatusTooManyRequests
		case inference.FailureTimeout:
			status = http.StatusGatewayTimeout
		case inference.FailurePayloadTooLarge:
			status = http.StatusRequestEntityTooLarge
		}
		return c.JSON(status, map[string]string{"error": failure.UserMessage()})
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func sessionID(c echo.Context) (int32, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return int32(id), nil
}

func toSessionResponse(session *store.ReportSession) *ReportSessionResponse {
	return &ReportSessionResponse{
		ID:           session.ID,
		UID:          session.UID,
		Title:        session.Title,
		DocumentKind: session.DocumentKind,
		Summary:      session.Summary,
		Messages:     session.Messages,
		CreatedTs:    session.CreatedTs,
		UpdatedTs:    session.UpdatedTs,
	}
}
