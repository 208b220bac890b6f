package report

// Phase is the analysis phase of the active session slot.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAnalyzing
	PhaseSuccess
	PhaseError
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseSuccess:
		return "success"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the transient analysis state of the active slot. It is never
// persisted; Analyzing always resolves to Success or Error.
type State struct {
	Phase Phase
	// LastResponse holds the latest assistant text when Phase is Success.
	LastResponse string
	// Message holds the user-facing failure text when Phase is Error.
	Message string
}
