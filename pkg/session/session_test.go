package session

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/linguakit/go-linguakit/pkg/audioio"
)

func base64Of(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// failingSource refuses to start, standing in for a missing microphone.
type failingSource struct {
	audioio.Source
}

func (f *failingSource) Start(ctx context.Context) error {
	return errors.New("no capture device")
}

// failingSink refuses to start, standing in for a missing speaker.
type failingSink struct {
	audioio.Sink
}

func (f *failingSink) Start(ctx context.Context) error {
	return errors.New("no playback device")
}

func newSessionFixture(t *testing.T, opts ...Option) (*Session, *MockChannel, *audioio.MockSource, *audioio.MockSink) {
	t.Helper()

	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock

	source := audioio.NewMockSource(cfg, nil)
	sink := audioio.NewMockSink(cfg, nil)
	ch := NewMockChannel()

	base := []Option{
		WithLanguage("es"),
		WithLevel("B1"),
		WithSource(source),
		WithSink(sink),
		WithChannelFactory(func(params InitParams) Channel { return ch }),
	}
	s, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(s.End)
	return s, ch, source, sink
}

func startedSession(t *testing.T, opts ...Option) (*Session, *MockChannel, *audioio.MockSource, *audioio.MockSink) {
	t.Helper()
	s, ch, source, sink := newSessionFixture(t, opts...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return s, ch, source, sink
}

func TestNewValidation(t *testing.T) {
	t.Run("requires server url or channel factory", func(t *testing.T) {
		if _, err := New(WithLanguage("es")); err != ErrMissingServerURL {
			t.Errorf("expected ErrMissingServerURL, got %v", err)
		}
	})

	t.Run("requires language for a new conversation", func(t *testing.T) {
		_, err := New(WithServerURL("wss://example.com"))
		if err != ErrMissingLanguage {
			t.Errorf("expected ErrMissingLanguage, got %v", err)
		}
	})

	t.Run("resume skips the language requirement", func(t *testing.T) {
		_, err := New(WithServerURL("wss://example.com"), WithConversationID("conv-1"))
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestSessionStart(t *testing.T) {
	t.Run("happy path reaches ready-idle", func(t *testing.T) {
		s, ch, _, _ := startedSession(t)
		if s.State() != StateReadyIdle {
			t.Errorf("expected ready-idle, got %v", s.State())
		}
		if !ch.IsOpen() {
			t.Error("channel should be open")
		}
	})

	t.Run("device failure ends the session", func(t *testing.T) {
		cfg := audioio.DefaultConfig()
		cfg.Backend = audioio.BackendMock
		s, err := New(
			WithLanguage("es"),
			WithSource(&failingSource{Source: audioio.NewMockSource(cfg, nil)}),
			WithSink(audioio.NewMockSink(cfg, nil)),
			WithChannelFactory(func(InitParams) Channel { return NewMockChannel() }),
		)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		err = s.Start(context.Background())
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("expected ErrDeviceUnavailable, got %v", err)
		}
		if s.State() != StateEnded {
			t.Errorf("device failure is fatal, expected ended, got %v", s.State())
		}
	})

	t.Run("sink failure releases the already-acquired source", func(t *testing.T) {
		cfg := audioio.DefaultConfig()
		cfg.Backend = audioio.BackendMock
		source := audioio.NewMockSource(cfg, nil)
		s, err := New(
			WithLanguage("es"),
			WithSource(source),
			WithSink(&failingSink{Sink: audioio.NewMockSink(cfg, nil)}),
			WithChannelFactory(func(InitParams) Channel { return NewMockChannel() }),
		)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		err = s.Start(context.Background())
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
		}
		if source.Stats().Running {
			t.Error("partially acquired source must be stopped")
		}
		// Closed, not just stopped: a closed mock refuses to restart.
		if err := source.Start(context.Background()); err == nil {
			t.Error("partially acquired source must be closed")
		}
	})

	t.Run("connect failure parks in awaiting-ready", func(t *testing.T) {
		s, ch, _, _ := newSessionFixture(t)
		ch.ConnectErr = NewConnectionError("dial failed", errors.New("refused"), true)

		err := s.Start(context.Background())
		if err == nil {
			t.Fatal("expected connect error")
		}
		if !IsRetryable(err) {
			t.Error("connect failure should be retryable")
		}
		if s.State() != StateAwaitingReady {
			t.Errorf("expected awaiting-ready, got %v", s.State())
		}
		// Recording must stay gated while the channel is down.
		if err := s.StartRecording(); err != ErrInvalidState {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("reconnect uses a fresh channel and unparks", func(t *testing.T) {
		s, _, _, _ := newSessionFixture(t)

		broken := NewMockChannel()
		broken.ConnectErr = NewConnectionError("dial failed", nil, true)
		fresh := NewMockChannel()
		attempts := 0
		s.cfg.ChannelFactory = func(InitParams) Channel {
			attempts++
			if attempts == 1 {
				return broken
			}
			return fresh
		}

		if err := s.Start(context.Background()); err == nil {
			t.Fatal("expected first connect to fail")
		}
		if err := s.Reconnect(context.Background()); err != nil {
			t.Fatalf("reconnect failed: %v", err)
		}
		if s.State() != StateReadyIdle {
			t.Errorf("expected ready-idle after reconnect, got %v", s.State())
		}
		if attempts != 2 {
			t.Errorf("expected a fresh channel per attempt, got %d attempts", attempts)
		}
	})

	t.Run("double start rejected", func(t *testing.T) {
		s, _, _, _ := startedSession(t)
		if err := s.Start(context.Background()); err != ErrInvalidState {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})
}

func TestRecordingLifecycle(t *testing.T) {
	t.Run("record mute unmute save", func(t *testing.T) {
		s, _, source, _ := startedSession(t)

		if err := s.StartRecording(); err != nil {
			t.Fatalf("StartRecording failed: %v", err)
		}
		if s.State() != StateRecording {
			t.Fatalf("expected recording, got %v", s.State())
		}

		if err := s.Mute(); err != nil {
			t.Fatalf("Mute failed: %v", err)
		}
		if s.State() != StateMuted {
			t.Fatalf("expected muted, got %v", s.State())
		}
		if !source.Stats().Paused {
			t.Error("mute must pause capture, not release the device")
		}

		if err := s.Unmute(); err != nil {
			t.Fatalf("Unmute failed: %v", err)
		}
		if s.State() != StateRecording {
			t.Fatalf("expected recording after unmute, got %v", s.State())
		}
		// The device must not be re-acquired across mute cycles.
		if got := source.StartCount(); got != 1 {
			t.Errorf("expected 1 device acquisition, got %d", got)
		}

		if err := s.Save(context.Background()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if s.State() != StateEnded {
			t.Errorf("expected ended, got %v", s.State())
		}
	})

	t.Run("mute only valid while recording", func(t *testing.T) {
		s, _, _, _ := startedSession(t)
		if err := s.Mute(); err != ErrInvalidState {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("unmute only valid while muted", func(t *testing.T) {
		s, _, _, _ := startedSession(t)
		if err := s.Unmute(); err != ErrInvalidState {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("save only valid while recording or muted", func(t *testing.T) {
		s, _, _, _ := startedSession(t)
		if err := s.Save(context.Background()); err != ErrInvalidState {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})
}

func TestDispatch(t *testing.T) {
	t.Run("conversation id first writer wins", func(t *testing.T) {
		s, ch, _, _ := startedSession(t)

		ch.SimulateEvent(map[string]any{"type": "conversation.created", "id": "conv-1"})
		if s.ConversationID() != "conv-1" {
			t.Fatalf("expected conv-1, got %q", s.ConversationID())
		}
		ch.SimulateEvent(map[string]any{"type": "conversation.created", "id": "conv-2"})
		if s.ConversationID() != "conv-1" {
			t.Errorf("first id must stand, got %q", s.ConversationID())
		}
	})

	t.Run("transcriptions land on the timeline in order", func(t *testing.T) {
		s, ch, _, _ := startedSession(t)

		ch.SimulateEvent(map[string]any{
			"type": EventTypeUserTranscription, "item_id": "u1", "transcript": "hola",
		})
		ch.SimulateEvent(map[string]any{
			"type": EventTypeAssistantTranscript, "transcript": "¡hola!",
		})
		// Duplicate user transcription is suppressed.
		ch.SimulateEvent(map[string]any{
			"type": EventTypeUserTranscription, "item_id": "u1", "transcript": "hola",
		})

		msgs := s.Timeline().Messages()
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
			t.Errorf("unexpected order: %v %v", msgs[0].Role, msgs[1].Role)
		}
	})

	t.Run("feedback attaches and notifies", func(t *testing.T) {
		s, ch, _, _ := startedSession(t)

		var mu sync.Mutex
		var notes []Notification
		s.OnNotify(func(n Notification) {
			mu.Lock()
			notes = append(notes, n)
			mu.Unlock()
		})

		ch.SimulateEvent(map[string]any{
			"type": EventTypeUserTranscription, "item_id": "u1", "transcript": "yo es",
		})
		ch.SimulateEvent(map[string]any{
			"type": EventTypeFeedbackGenerated, "message_id": "u1",
			"original_message": "yo es", "has_mistakes": true,
		})
		// Feedback for an unknown message is dropped with no notification.
		ch.SimulateEvent(map[string]any{
			"type": EventTypeFeedbackGenerated, "message_id": "missing",
		})

		mu.Lock()
		defer mu.Unlock()
		if len(notes) != 1 || notes[0].Kind != NotifyFeedback {
			t.Errorf("expected one feedback notification, got %+v", notes)
		}
		if len(s.Timeline().FeedbackList()) != 1 {
			t.Errorf("expected 1 attached feedback, got %d", len(s.Timeline().FeedbackList()))
		}
	})

	t.Run("audio deltas feed playback and barge-in flushes", func(t *testing.T) {
		s, ch, _, sink := startedSession(t)

		pcm := make([]byte, 960) // one 20ms frame at 24kHz
		ch.SimulateEvent(map[string]any{
			"type": EventTypeAudioDelta, "delta": base64Of(pcm),
		})
		if len(sink.Written()) != 1 {
			t.Fatalf("expected 1 frame written, got %d", len(sink.Written()))
		}

		// Queue another, then barge in: the queued frame never plays.
		ch.SimulateEvent(map[string]any{
			"type": EventTypeAudioDelta, "delta": base64Of(pcm),
		})
		ch.SimulateEvent(map[string]any{"type": EventTypeSpeechStarted})

		if sink.ClearCount() == 0 {
			t.Error("barge-in must clear the device buffer")
		}
		if len(sink.Written()) != 1 {
			t.Errorf("flushed frame must not reach the sink, got %d writes", len(sink.Written()))
		}
		_ = s
	})

	t.Run("progress replaces wholesale", func(t *testing.T) {
		s, ch, _, _ := startedSession(t)
		ch.SimulateEvent(map[string]any{"type": EventTypeLessonProgress, "turns": 1, "required": 5})
		ch.SimulateEvent(map[string]any{"type": EventTypeLessonProgress, "turns": 2, "required": 5})
		if p := s.Timeline().Progress(); p == nil || p.Turns != 2 {
			t.Errorf("expected turns=2, got %+v", p)
		}
	})

	t.Run("server error fills the error slot without closing", func(t *testing.T) {
		s, ch, _, _ := startedSession(t)
		ch.SimulateEvent(map[string]any{"type": "error", "code": "x", "message": "boom"})

		if s.LastError() == nil {
			t.Fatal("expected last error to be set")
		}
		if !ch.IsOpen() {
			t.Error("server error event must not close the channel")
		}
		if s.State() != StateReadyIdle {
			t.Errorf("state must be unaffected, got %v", s.State())
		}
	})

	t.Run("unknown and malformed events are dropped", func(t *testing.T) {
		s, ch, _, _ := startedSession(t)
		ch.SimulateEvent(map[string]any{"type": "future.thing"})
		ch.SimulateRaw([]byte(`{broken`))
		if s.Timeline().Len() != 0 {
			t.Error("dropped events must not touch the timeline")
		}
		if s.State() != StateReadyIdle {
			t.Errorf("dropped events must not change state, got %v", s.State())
		}
	})
}

func TestConnectionLoss(t *testing.T) {
	t.Run("mid-recording loss parks and preserves the timeline", func(t *testing.T) {
		s, ch, _, _ := startedSession(t)

		ch.SimulateEvent(map[string]any{
			"type": EventTypeUserTranscription, "item_id": "u1", "transcript": "hola",
		})
		if err := s.StartRecording(); err != nil {
			t.Fatalf("StartRecording failed: %v", err)
		}

		var mu sync.Mutex
		var notes []Notification
		s.OnNotify(func(n Notification) {
			mu.Lock()
			notes = append(notes, n)
			mu.Unlock()
		})

		ch.SimulateClose(NewConnectionError("read failed", errors.New("reset"), true))

		if s.State() != StateAwaitingReady {
			t.Errorf("expected awaiting-ready, got %v", s.State())
		}
		if s.Timeline().Len() != 1 {
			t.Error("timeline must survive connection loss")
		}
		mu.Lock()
		if len(notes) != 1 || notes[0].Kind != NotifyConnectionLost {
			t.Errorf("expected connection-lost notification, got %+v", notes)
		}
		mu.Unlock()

		if err := s.StartRecording(); err != ErrInvalidState {
			t.Errorf("recording must be gated until reconnect, got %v", err)
		}
	})

	t.Run("loss while muted unpauses the source for the next recording", func(t *testing.T) {
		s, _, source, _ := newSessionFixture(t)

		first := NewMockChannel()
		second := NewMockChannel()
		attempts := 0
		s.cfg.ChannelFactory = func(InitParams) Channel {
			attempts++
			if attempts == 1 {
				return first
			}
			return second
		}

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if err := s.StartRecording(); err != nil {
			t.Fatalf("StartRecording failed: %v", err)
		}
		if err := s.Mute(); err != nil {
			t.Fatalf("Mute failed: %v", err)
		}

		first.SimulateClose(NewConnectionError("read failed", errors.New("reset"), true))

		if s.State() != StateAwaitingReady {
			t.Fatalf("expected awaiting-ready, got %v", s.State())
		}
		if source.Stats().Paused {
			t.Error("parked session must not keep the source paused")
		}

		if err := s.Reconnect(context.Background()); err != nil {
			t.Fatalf("Reconnect failed: %v", err)
		}
		if err := s.StartRecording(); err != nil {
			t.Fatalf("StartRecording after reconnect failed: %v", err)
		}
		if source.Stats().Paused {
			t.Error("recording must have an unpaused source")
		}
		// The full mute cycle must work again.
		if err := s.Mute(); err != nil {
			t.Errorf("Mute after reconnect failed: %v", err)
		}
		if err := s.Unmute(); err != nil {
			t.Errorf("Unmute after reconnect failed: %v", err)
		}
	})

	t.Run("loss after end is ignored", func(t *testing.T) {
		s, ch, _, _ := startedSession(t)
		s.End()
		ch.SimulateClose(errors.New("late"))
		if s.State() != StateEnded {
			t.Errorf("expected ended, got %v", s.State())
		}
	})
}

func TestSave(t *testing.T) {
	t.Run("closes channel and calls completion", func(t *testing.T) {
		var gotID string
		var gotProgress *LessonProgress
		s, ch, _, _ := startedSession(t, WithCompleteFunc(
			func(ctx context.Context, id string, p *LessonProgress) error {
				gotID = id
				gotProgress = p
				return nil
			}))

		ch.SimulateEvent(map[string]any{"type": "conversation.created", "id": "conv-1"})
		ch.SimulateEvent(map[string]any{"type": EventTypeLessonProgress, "turns": 5, "required": 5, "can_complete": true})
		if err := s.StartRecording(); err != nil {
			t.Fatalf("StartRecording failed: %v", err)
		}

		if err := s.Save(context.Background()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if s.State() != StateEnded {
			t.Errorf("expected ended, got %v", s.State())
		}
		if ch.State() != ChannelClosed {
			t.Error("save must close the channel")
		}
		if gotID != "conv-1" {
			t.Errorf("completion called with %q", gotID)
		}
		if gotProgress == nil || !gotProgress.CanComplete {
			t.Errorf("completion should see final progress, got %+v", gotProgress)
		}
	})

	t.Run("completion failure still ends the session", func(t *testing.T) {
		wantErr := errors.New("api down")
		s, ch, _, _ := startedSession(t, WithCompleteFunc(
			func(context.Context, string, *LessonProgress) error { return wantErr }))

		ch.SimulateEvent(map[string]any{"type": "conversation.created", "id": "conv-1"})
		if err := s.StartRecording(); err != nil {
			t.Fatalf("StartRecording failed: %v", err)
		}

		if err := s.Save(context.Background()); !errors.Is(err, wantErr) {
			t.Errorf("expected completion error surfaced, got %v", err)
		}
		if s.State() != StateEnded {
			t.Errorf("session must still end, got %v", s.State())
		}
	})

	t.Run("channel loss during save is not a failure", func(t *testing.T) {
		var s *Session
		var ch *MockChannel
		// A close arriving mid-teardown must not regress the state machine.
		s, ch, _, _ = startedSession(t, WithCompleteFunc(
			func(context.Context, string, *LessonProgress) error {
				ch.SimulateClose(errors.New("remote closed during teardown"))
				return nil
			}))

		ch.SimulateEvent(map[string]any{"type": "conversation.created", "id": "conv-1"})
		if err := s.StartRecording(); err != nil {
			t.Fatalf("StartRecording failed: %v", err)
		}

		if err := s.Save(context.Background()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if s.State() != StateEnded {
			t.Errorf("expected ended, got %v", s.State())
		}
	})
}

func TestEnd(t *testing.T) {
	s, ch, source, _ := startedSession(t)

	s.End()
	if s.State() != StateEnded {
		t.Fatalf("expected ended, got %v", s.State())
	}
	if ch.State() != ChannelClosed {
		t.Error("end must close the channel")
	}
	if source.Stats().Running {
		t.Error("end must release the capture device")
	}

	// Idempotent.
	s.End()
	if s.State() != StateEnded {
		t.Errorf("expected ended, got %v", s.State())
	}

	if err := s.Start(context.Background()); err != ErrSessionEnded {
		t.Errorf("ended sessions are terminal, got %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	s, ch, _, _ := startedSession(t)
	ch.SimulateEvent(map[string]any{"type": "conversation.created", "id": "conv-1"})
	ch.SimulateEvent(map[string]any{
		"type": EventTypeUserTranscription, "item_id": "u1", "transcript": "hola",
	})

	snap := s.Snapshot()
	if snap.State != "ready-idle" {
		t.Errorf("expected ready-idle, got %q", snap.State)
	}
	if snap.ConversationID != "conv-1" {
		t.Errorf("expected conv-1, got %q", snap.ConversationID)
	}
	if len(snap.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(snap.Messages))
	}
	if snap.ChannelState != "open" {
		t.Errorf("expected open channel, got %q", snap.ChannelState)
	}
}
