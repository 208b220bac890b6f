package store

// MessageRole identifies the speaker of a transcript message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "USER"
	MessageRoleAssistant MessageRole = "ASSISTANT"
)

// ChatMessage is one transcript entry. Transcripts are append-only in
// chronological order.
type ChatMessage struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedTs int64       `json:"createdTs"`
}

// ReportSession is one document-analysis conversation thread.
type ReportSession struct {
	ID  int32
	UID string
	// Title is derived from the first question, truncated.
	Title string
	// DocumentPath points at the durable local copy of the uploaded document.
	// Once set it is immutable.
	DocumentPath string
	// DocumentKind is IMAGE or PDF.
	DocumentKind string
	// Summary is derived from the latest assistant message, truncated.
	Summary   string
	Messages  []ChatMessage
	CreatedTs int64
	UpdatedTs int64
}

// LastAssistantMessage returns the most recent assistant message, if any.
func (s *ReportSession) LastAssistantMessage() (ChatMessage, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == MessageRoleAssistant {
			return s.Messages[i], true
		}
	}
	return ChatMessage{}, false
}

type FindReportSession struct {
	ID    *int32
	UID   *string
	Limit *int
}

type UpdateReportSession struct {
	ID      int32
	Title   *string
	Summary *string
	// Messages replaces the stored transcript when non-nil.
	Messages  []ChatMessage
	UpdatedTs *int64
}

type DeleteReportSession struct {
	ID int32
}
