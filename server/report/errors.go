package report

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAnalysisInProgress is returned when a turn is requested while the
	// active slot is still Analyzing. Turns within one session are strictly
	// ordered; a new turn may start only after the prior one resolved.
	ErrAnalysisInProgress = errors.New("analysis already in progress")

	// ErrNoActiveSession is returned when a follow-up is requested without
	// an active session holding a durable document copy.
	ErrNoActiveSession = errors.New("no active session with a document")

	// ErrSpeechUnavailable is returned when a speech operation is requested
	// and no recognizer was configured.
	ErrSpeechUnavailable = errors.New("no speech recognizer configured")
)

// PersistenceError marks a history store failure. The in-memory transcript
// is intact; remediation is retrying the store operation, not the analysis.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist session: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
