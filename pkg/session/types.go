// Package session implements the real-time conversation session manager for
// the tutoring client: the duplex message channel to the conversation
// backend, the typed server-event model, the append-only message/feedback
// timeline, and the supervising session state machine that gates recording
// and playback.
package session

import (
	"time"
)

// Role identifies who authored a timeline message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Severity grades a language mistake.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityCritical Severity = "critical"
)

// Mistake is one correction inside a feedback record. Pure value type.
type Mistake struct {
	Category            string   `json:"category"`
	Type                string   `json:"type"`
	Error               string   `json:"error"`
	Correction          string   `json:"correction"`
	Explanation         string   `json:"explanation"`
	Severity            Severity `json:"severity"`
	LanguageFeatureTags []string `json:"language_feature_tags,omitempty"`
}

// Feedback is the server's analysis of one user message. It is derived
// entirely from server events and only ever replaced, never merged.
type Feedback struct {
	MessageID       string    `json:"message_id"`
	OriginalMessage string    `json:"original_message"`
	Mistakes        []Mistake `json:"mistakes"`
	HasMistakes     bool      `json:"has_mistakes"`
	Timestamp       time.Time `json:"timestamp"`
}

// ConversationMessage is one entry in the ordered conversation timeline.
// The ID is assigned by the server and is absent until acknowledged.
// Content is immutable once set; the only later mutation is feedback
// attachment, and only for user messages.
type ConversationMessage struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Feedback  *Feedback `json:"feedback,omitempty"`
}

// LessonProgress tracks turns toward a lesson requirement. Each progress
// event replaces the previous value wholesale.
type LessonProgress struct {
	Turns          int    `json:"turns"`
	Required       int    `json:"required"`
	CanComplete    bool   `json:"can_complete"`
	LessonID       string `json:"lesson_id,omitempty"`
	CustomLessonID string `json:"custom_lesson_id,omitempty"`
	ProgressID     string `json:"progress_id,omitempty"`
}

// VADSettings configures how eagerly the backend decides the user has
// finished speaking.
type VADSettings struct {
	Type              string  `json:"type"`
	Eagerness         string  `json:"eagerness,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// DefaultVADSettings returns the default voice-activity-detection settings.
func DefaultVADSettings() VADSettings {
	return VADSettings{
		Type:      "semantic",
		Eagerness: "medium",
	}
}

// SessionContext describes one conversation session. ConversationID starts
// absent and is set exactly once by the first conversation.created event;
// AdoptConversationID is the only update path and is idempotent.
type SessionContext struct {
	ConversationID string      `json:"conversation_id,omitempty"`
	Language       string      `json:"language"`
	Level          string      `json:"level"`
	Context        string      `json:"context,omitempty"`
	VAD            VADSettings `json:"vad_settings"`
}

// AdoptConversationID records the server-assigned conversation identifier.
// The first id wins: adopting the same id again is a no-op, and a different
// id is rejected so feedback and audio that already reference the original
// id stay consistent. Returns whether the id was adopted and whether the
// call conflicted with an earlier id.
func (c *SessionContext) AdoptConversationID(id string) (adopted, conflict bool) {
	if id == "" {
		return false, false
	}
	if c.ConversationID == "" {
		c.ConversationID = id
		return true, false
	}
	if c.ConversationID == id {
		return false, false
	}
	return false, true
}
