package session

import (
	"encoding/base64"
	"testing"
)

func TestParseEvent(t *testing.T) {
	t.Run("conversation created", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"type":"conversation.created","id":"conv-1"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		cc, ok := ev.(ConversationCreated)
		if !ok {
			t.Fatalf("expected ConversationCreated, got %T", ev)
		}
		if cc.ID != "conv-1" {
			t.Errorf("expected id conv-1, got %q", cc.ID)
		}
	})

	t.Run("conversation created with conversation_id key", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"type":"conversation.created","conversation_id":"conv-2"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cc := ev.(ConversationCreated); cc.ID != "conv-2" {
			t.Errorf("expected id conv-2, got %q", cc.ID)
		}
	})

	t.Run("user transcription", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"item-5","transcript":"hola"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ut, ok := ev.(UserTranscription)
		if !ok {
			t.Fatalf("expected UserTranscription, got %T", ev)
		}
		if ut.ItemID != "item-5" || ut.Transcript != "hola" {
			t.Errorf("unexpected payload: %+v", ut)
		}
	})

	t.Run("assistant transcript", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"type":"response.audio_transcript.done","transcript":"muy bien"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		at := ev.(AssistantTranscript)
		if at.Transcript != "muy bien" {
			t.Errorf("expected transcript, got %q", at.Transcript)
		}
	})

	t.Run("feedback", func(t *testing.T) {
		raw := `{"type":"feedback.generated","message_id":"item-5","original_message":"yo es","has_mistakes":true,"mistakes":[{"category":"grammar","error":"yo es","correction":"yo soy","severity":"moderate"}]}`
		ev, err := ParseEvent([]byte(raw))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		fg := ev.(FeedbackGenerated)
		if fg.Feedback.MessageID != "item-5" {
			t.Errorf("expected message id item-5, got %q", fg.Feedback.MessageID)
		}
		if len(fg.Feedback.Mistakes) != 1 || fg.Feedback.Mistakes[0].Severity != SeverityModerate {
			t.Errorf("unexpected mistakes: %+v", fg.Feedback.Mistakes)
		}
	})

	t.Run("speech started", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"type":"input_audio_buffer.speech_started"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := ev.(SpeechStarted); !ok {
			t.Fatalf("expected SpeechStarted, got %T", ev)
		}
	})

	t.Run("audio delta decodes base64", func(t *testing.T) {
		pcm := []byte{0x01, 0x02, 0x03, 0x04}
		raw := `{"type":"response.audio.delta","delta":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
		ev, err := ParseEvent([]byte(raw))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ad := ev.(AudioDelta)
		if len(ad.PCM) != 4 || ad.PCM[0] != 0x01 {
			t.Errorf("unexpected pcm: %v", ad.PCM)
		}
	})

	t.Run("audio delta with bad base64 fails", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"type":"response.audio.delta","delta":"!!!not-base64!!!"}`))
		if err == nil {
			t.Fatal("expected error for invalid base64")
		}
	})

	t.Run("lesson progress", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"type":"lesson.progress","turns":3,"required":5,"can_complete":false}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lp := ev.(LessonProgressEvent)
		if lp.Progress.Turns != 3 || lp.Progress.Required != 5 || lp.Progress.CanComplete {
			t.Errorf("unexpected progress: %+v", lp.Progress)
		}
	})

	t.Run("suggestion", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"type":"suggestion.available","suggestion":"try asking about the weather"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sg := ev.(SuggestionAvailable)
		if sg.Suggestion == "" {
			t.Error("expected suggestion text")
		}
	})

	t.Run("flat error shape", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"type":"error","code":"rate_limited","message":"slow down"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		se := ev.(ServerError)
		if se.Code != "rate_limited" || se.Message != "slow down" {
			t.Errorf("unexpected error event: %+v", se)
		}
	})

	t.Run("nested error shape", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"type":"error","error":{"code":"internal","message":"boom"}}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		se := ev.(ServerError)
		if se.Code != "internal" || se.Message != "boom" {
			t.Errorf("unexpected error event: %+v", se)
		}
	})

	t.Run("unknown type is preserved not rejected", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"type":"future.event","payload":42}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ue, ok := ev.(UnknownEvent)
		if !ok {
			t.Fatalf("expected UnknownEvent, got %T", ev)
		}
		if ue.Type != "future.event" {
			t.Errorf("expected type preserved, got %q", ue.Type)
		}
	})

	t.Run("malformed json fails", func(t *testing.T) {
		if _, err := ParseEvent([]byte(`{not json`)); err == nil {
			t.Fatal("expected error for malformed payload")
		}
	})
}

func TestAdoptConversationID(t *testing.T) {
	t.Run("first id wins", func(t *testing.T) {
		var sc SessionContext
		adopted, conflict := sc.AdoptConversationID("conv-1")
		if !adopted || conflict {
			t.Fatalf("expected adoption, got adopted=%v conflict=%v", adopted, conflict)
		}
		if sc.ConversationID != "conv-1" {
			t.Errorf("expected conv-1, got %q", sc.ConversationID)
		}
	})

	t.Run("same id is a no-op", func(t *testing.T) {
		sc := SessionContext{ConversationID: "conv-1"}
		adopted, conflict := sc.AdoptConversationID("conv-1")
		if adopted || conflict {
			t.Errorf("expected no-op, got adopted=%v conflict=%v", adopted, conflict)
		}
	})

	t.Run("different id is rejected", func(t *testing.T) {
		sc := SessionContext{ConversationID: "conv-1"}
		adopted, conflict := sc.AdoptConversationID("conv-2")
		if adopted || !conflict {
			t.Errorf("expected conflict, got adopted=%v conflict=%v", adopted, conflict)
		}
		if sc.ConversationID != "conv-1" {
			t.Errorf("original id must stand, got %q", sc.ConversationID)
		}
	})

	t.Run("empty id ignored", func(t *testing.T) {
		var sc SessionContext
		adopted, conflict := sc.AdoptConversationID("")
		if adopted || conflict {
			t.Errorf("expected ignore, got adopted=%v conflict=%v", adopted, conflict)
		}
	})
}
