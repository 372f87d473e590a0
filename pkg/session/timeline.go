package session

import (
	"log/slog"
	"sync"
	"time"
)

// Timeline is the ordered, append-only record of one conversation: the
// message list, the feedback index and the current lesson progress.
//
// Mutations happen on the session's single dispatch goroutine in event
// arrival order; the mutex exists so UI snapshots can read concurrently.
type Timeline struct {
	logger *slog.Logger

	mu       sync.RWMutex
	messages []ConversationMessage
	feedback []Feedback
	progress *LessonProgress

	now func() time.Time
}

// NewTimeline creates an empty timeline.
func NewTimeline(logger *slog.Logger) *Timeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timeline{
		logger: logger.With("component", "timeline"),
		now:    time.Now,
	}
}

// AppendUserMessage appends a user message with the server-assigned id.
// A message with the same id and role already on the timeline suppresses
// the duplicate; the timeline keeps exactly one message per user id.
// Returns whether a message was appended.
func (t *Timeline) AppendUserMessage(id, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id != "" {
		for _, m := range t.messages {
			if m.Role == RoleUser && m.ID == id {
				t.logger.Debug("duplicate user transcription suppressed", "id", id)
				return false
			}
		}
	}

	t.messages = append(t.messages, ConversationMessage{
		ID:        id,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: t.now(),
	})
	return true
}

// AppendAssistantMessage appends an assistant message. Assistant transcripts
// carry no id; arrival order defines their position.
func (t *Timeline) AppendAssistantMessage(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = append(t.messages, ConversationMessage{
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: t.now(),
	})
}

// AttachFeedback attaches feedback to the matching user message and appends
// it to the feedback list. Feedback with no matching user message, or whose
// message already carries feedback, is dropped silently — at most one
// feedback record per message id, and assistant messages never receive
// feedback. Returns whether the feedback was attached.
func (t *Timeline) AttachFeedback(fb Feedback) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.messages {
		m := &t.messages[i]
		if m.Role != RoleUser || m.ID != fb.MessageID {
			continue
		}
		if m.Feedback != nil {
			t.logger.Debug("feedback already attached, dropping", "message_id", fb.MessageID)
			return false
		}
		cp := fb
		m.Feedback = &cp
		t.feedback = append(t.feedback, fb)
		return true
	}

	t.logger.Debug("feedback for unknown message dropped", "message_id", fb.MessageID)
	return false
}

// SetProgress replaces the lesson progress wholesale.
func (t *Timeline) SetProgress(p LessonProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = &p
}

// Messages returns a copy of the message list in timeline order.
func (t *Timeline) Messages() []ConversationMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ConversationMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// FeedbackList returns a copy of all attached feedback in arrival order.
func (t *Timeline) FeedbackList() []Feedback {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Feedback, len(t.feedback))
	copy(out, t.feedback)
	return out
}

// Progress returns the current lesson progress, or nil when none has been
// reported yet.
func (t *Timeline) Progress() *LessonProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.progress == nil {
		return nil
	}
	cp := *t.progress
	return &cp
}

// Len returns the number of messages on the timeline.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
