package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/ashaai/navigator/internal/profile"
	"github.com/ashaai/navigator/server/middleware"
	"github.com/ashaai/navigator/server/report"
	"github.com/ashaai/navigator/store"
)

// APIV1Service exposes the report analysis surface over HTTP.
type APIV1Service struct {
	Profile    *profile.Profile
	Store      *store.Store
	Controller *report.Controller

	limiter *middleware.RateLimiter
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, controller *report.Controller) *APIV1Service {
	return &APIV1Service{
		Profile:    profile,
		Store:      store,
		Controller: controller,
		limiter:    middleware.NewRateLimiter(profile.AIRequestsPerMinute, 2*profile.AIRequestsPerMinute),
	}
}

// Register mounts the v1 routes on the given Echo instance.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	g := echoServer.Group("/api/v1")

	g.GET("/reports", s.ListReportSessions)
	g.GET("/reports/:id", s.GetReportSession)
	g.DELETE("/reports/:id", s.DeleteReportSession)

	// Analysis turns call out to the vision model, so they carry the
	// per-client rate limit.
	limited := s.limiter.Middleware()
	g.POST("/reports/analyze", s.AnalyzeReport, limited)
	g.POST("/reports/:id/messages", s.SendFollowUp, limited)
}
