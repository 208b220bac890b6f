package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// ReportSession model related methods.
	CreateReportSession(ctx context.Context, create *ReportSession) (*ReportSession, error)
	ListReportSessions(ctx context.Context, find *FindReportSession) ([]*ReportSession, error)
	UpdateReportSession(ctx context.Context, update *UpdateReportSession) (*ReportSession, error)
	DeleteReportSession(ctx context.Context, delete *DeleteReportSession) error
}
