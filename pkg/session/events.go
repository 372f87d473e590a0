package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Wire event type tags sent by the conversation backend.
const (
	EventTypeConversationCreated = "conversation.created"
	EventTypeSessionCreated      = "session.created"
	EventTypeFeedbackGenerated   = "feedback.generated"
	EventTypeUserTranscription   = "conversation.item.input_audio_transcription.completed"
	EventTypeAssistantTranscript = "response.audio_transcript.done"
	EventTypeSpeechStarted       = "input_audio_buffer.speech_started"
	EventTypeAudioDelta          = "response.audio.delta"
	EventTypeLessonProgress      = "lesson.progress"
	EventTypeSuggestion          = "suggestion.available"
	EventTypeError               = "error"
)

// Event is one server event, decoded into its concrete variant. Every wire
// type has its own Go type; anything unrecognized decodes to UnknownEvent
// rather than failing or being silently swallowed by a string switch.
type Event interface {
	EventType() string
}

// ConversationCreated carries the server-assigned conversation identifier.
type ConversationCreated struct {
	ID string
}

func (ConversationCreated) EventType() string { return EventTypeConversationCreated }

// SessionCreated acknowledges channel setup. The client ignores it.
type SessionCreated struct{}

func (SessionCreated) EventType() string { return EventTypeSessionCreated }

// UserTranscription is the completed transcription of one user utterance.
type UserTranscription struct {
	ItemID     string
	Transcript string
}

func (UserTranscription) EventType() string { return EventTypeUserTranscription }

// AssistantTranscript is the full transcript of one assistant response.
// There is no id correlation; arrival order defines timeline position.
type AssistantTranscript struct {
	Transcript string
}

func (AssistantTranscript) EventType() string { return EventTypeAssistantTranscript }

// FeedbackGenerated carries language feedback for a prior user message.
type FeedbackGenerated struct {
	Feedback Feedback
}

func (FeedbackGenerated) EventType() string { return EventTypeFeedbackGenerated }

// SpeechStarted signals barge-in: the user began speaking while synthesized
// audio may still be playing.
type SpeechStarted struct{}

func (SpeechStarted) EventType() string { return EventTypeSpeechStarted }

// AudioDelta carries one decoded PCM16 frame of synthesized speech.
type AudioDelta struct {
	PCM []byte
}

func (AudioDelta) EventType() string { return EventTypeAudioDelta }

// LessonProgressEvent replaces the session's lesson progress wholesale.
type LessonProgressEvent struct {
	Progress LessonProgress
}

func (LessonProgressEvent) EventType() string { return EventTypeLessonProgress }

// SuggestionAvailable notifies the UI that a reply suggestion is ready.
// It has no timeline effect.
type SuggestionAvailable struct {
	Suggestion string
}

func (SuggestionAvailable) EventType() string { return EventTypeSuggestion }

// ServerError is an error reported by the backend. It does not by itself
// close the channel.
type ServerError struct {
	Code    string
	Message string
}

func (ServerError) EventType() string { return EventTypeError }

// UnknownEvent preserves an unrecognized event for logging. It is ignored
// by the dispatcher.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) EventType() string { return e.Type }

// ParseEvent decodes one inbound wire message into its event variant.
// A malformed payload returns an error; the caller drops that single event
// and continues.
func ParseEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("session: malformed event: %w", err)
	}

	switch head.Type {
	case EventTypeConversationCreated:
		var p struct {
			ID             string `json:"id"`
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("session: malformed %s: %w", head.Type, err)
		}
		id := p.ID
		if id == "" {
			id = p.ConversationID
		}
		return ConversationCreated{ID: id}, nil

	case EventTypeSessionCreated:
		return SessionCreated{}, nil

	case EventTypeUserTranscription:
		var p struct {
			ItemID     string `json:"item_id"`
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("session: malformed %s: %w", head.Type, err)
		}
		return UserTranscription{ItemID: p.ItemID, Transcript: p.Transcript}, nil

	case EventTypeAssistantTranscript:
		var p struct {
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("session: malformed %s: %w", head.Type, err)
		}
		return AssistantTranscript{Transcript: p.Transcript}, nil

	case EventTypeFeedbackGenerated:
		var fb Feedback
		if err := json.Unmarshal(data, &fb); err != nil {
			return nil, fmt.Errorf("session: malformed %s: %w", head.Type, err)
		}
		return FeedbackGenerated{Feedback: fb}, nil

	case EventTypeSpeechStarted:
		return SpeechStarted{}, nil

	case EventTypeAudioDelta:
		var p struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("session: malformed %s: %w", head.Type, err)
		}
		pcm, err := base64.StdEncoding.DecodeString(p.Delta)
		if err != nil {
			return nil, fmt.Errorf("session: bad audio delta: %w", err)
		}
		return AudioDelta{PCM: pcm}, nil

	case EventTypeLessonProgress:
		var p LessonProgress
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("session: malformed %s: %w", head.Type, err)
		}
		return LessonProgressEvent{Progress: p}, nil

	case EventTypeSuggestion:
		var p struct {
			Suggestion string `json:"suggestion"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("session: malformed %s: %w", head.Type, err)
		}
		return SuggestionAvailable{Suggestion: p.Suggestion}, nil

	case EventTypeError:
		var p struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Error   *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("session: malformed %s: %w", head.Type, err)
		}
		// Accept both flat and nested error shapes.
		if p.Error != nil {
			return ServerError{Code: p.Error.Code, Message: p.Error.Message}, nil
		}
		return ServerError{Code: p.Code, Message: p.Message}, nil

	default:
		return UnknownEvent{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
