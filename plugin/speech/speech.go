// Package speech defines the capability driver interfaces for speech capture
// and synthesis. The engines themselves are external collaborators; this
// package only fixes their contract and ships a mock for tests.
package speech

import "context"

// Transcript is one recognition update. Partial updates stream first and a
// final update closes the utterance.
type Transcript struct {
	Text  string
	Final bool
	Err   string
}

// Recognizer captures speech and emits a live partial-then-final text stream.
type Recognizer interface {
	// Start begins capture. The returned channel delivers partial updates
	// followed by a final one, then closes.
	Start(ctx context.Context) (<-chan Transcript, error)

	// Stop halts capture. The stream channel is closed after any pending
	// final update.
	Stop()

	// Active reports whether capture is in progress.
	Active() bool
}

// Synthesizer speaks text to completion and can be interrupted.
type Synthesizer interface {
	// Speak synthesizes the text, blocking until playback completes or the
	// context is cancelled.
	Speak(ctx context.Context, text string) error

	// Stop halts any pending playback.
	Stop()
}
