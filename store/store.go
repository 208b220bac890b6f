package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/ashaai/navigator/internal/profile"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("report session not found")

// recordLockCount is the number of stripes used to serialize writes per
// record id. Writes to distinct ids do not block each other (modulo stripe
// collisions).
const recordLockCount = 64

// Store provides database access to report sessions. Writes to the same
// record id are serialized; listings can be observed reactively via Watch.
type Store struct {
	profile *profile.Profile
	driver  Driver

	recordLocks [recordLockCount]sync.Mutex

	watchMu  sync.Mutex
	watchers []chan struct{}
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) lockFor(id int32) *sync.Mutex {
	return &s.recordLocks[uint32(id)%recordLockCount]
}

// CreateReportSession inserts a new session and assigns its id.
func (s *Store) CreateReportSession(ctx context.Context, create *ReportSession) (*ReportSession, error) {
	created, err := s.driver.CreateReportSession(ctx, create)
	if err != nil {
		return nil, err
	}
	s.notify()
	return created, nil
}

// GetReportSession fetches one session by id, or ErrSessionNotFound.
func (s *Store) GetReportSession(ctx context.Context, id int32) (*ReportSession, error) {
	list, err := s.driver.ListReportSessions(ctx, &FindReportSession{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrSessionNotFound
	}
	return list[0], nil
}

// ListReportSessions lists sessions ordered by recency descending
// (insertion id descending on ties).
func (s *Store) ListReportSessions(ctx context.Context, find *FindReportSession) ([]*ReportSession, error) {
	return s.driver.ListReportSessions(ctx, find)
}

// UpdateReportSession updates an existing session record.
func (s *Store) UpdateReportSession(ctx context.Context, update *UpdateReportSession) (*ReportSession, error) {
	mu := s.lockFor(update.ID)
	mu.Lock()
	defer mu.Unlock()

	updated, err := s.driver.UpdateReportSession(ctx, update)
	if err != nil {
		return nil, err
	}
	s.notify()
	return updated, nil
}

// DeleteReportSession permanently removes a session record.
func (s *Store) DeleteReportSession(ctx context.Context, delete *DeleteReportSession) error {
	mu := s.lockFor(delete.ID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.driver.DeleteReportSession(ctx, delete); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Watch returns a channel that receives a signal after every mutation, so a
// listing can be refreshed reactively. The channel is buffered; a slow
// consumer sees coalesced signals rather than blocking writers.
func (s *Store) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.watchMu.Lock()
	s.watchers = append(s.watchers, ch)
	s.watchMu.Unlock()
	return ch
}

func (s *Store) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
