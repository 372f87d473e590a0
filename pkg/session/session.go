package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linguakit/go-linguakit/pkg/audioio"
	"github.com/linguakit/go-linguakit/pkg/playback"
)

// State is the lifecycle state of a conversation session.
type State int

const (
	// StateSetup is the initial state before Start.
	StateSetup State = iota

	// StateAwaitingReady means devices are held but the channel is not open.
	StateAwaitingReady

	// StateReadyIdle means the channel is open and recording may begin.
	StateReadyIdle

	// StateRecording means captured audio is streaming to the backend.
	StateRecording

	// StateMuted means capture is suspended without releasing the device.
	StateMuted

	// StateSaving means teardown and completion are in progress.
	StateSaving

	// StateEnded is terminal. A new conversation needs a new session.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateAwaitingReady:
		return "awaiting-ready"
	case StateReadyIdle:
		return "ready-idle"
	case StateRecording:
		return "recording"
	case StateMuted:
		return "muted"
	case StateSaving:
		return "saving"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// NotificationKind classifies UI notifications emitted by the session.
type NotificationKind string

const (
	NotifySuggestion     NotificationKind = "suggestion"
	NotifyFeedback       NotificationKind = "feedback"
	NotifyConnectionLost NotificationKind = "connection-lost"
)

// Notification is a transient UI signal with no timeline effect.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Message string           `json:"message"`
}

// Snapshot is a point-in-time view of the session for dashboards.
type Snapshot struct {
	ID             string                `json:"id"`
	State          string                `json:"state"`
	ConversationID string                `json:"conversation_id,omitempty"`
	Language       string                `json:"language"`
	Level          string                `json:"level,omitempty"`
	ChannelState   string                `json:"channel_state"`
	Messages       []ConversationMessage `json:"messages"`
	Feedback       []Feedback            `json:"feedback"`
	Progress       *LessonProgress       `json:"progress,omitempty"`
	Playback       *playback.Stats       `json:"playback,omitempty"`
	LastError      string                `json:"last_error,omitempty"`
}

// Session supervises one tutoring conversation: the audio devices, the
// message channel, event dispatch into the timeline and the recording state
// machine. Recording is gated on the channel actually being open, never on
// elapsed time.
type Session struct {
	id     string
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	state   State
	sctx    SessionContext
	lastErr error

	// chMu guards channel separately from mu: sendFrame runs on the capture
	// goroutine inside the encoder's lock and must never contend with state
	// transitions that hold mu while disarming the encoder.
	chMu    sync.RWMutex
	channel Channel

	source    audioio.Source
	sink      audioio.Sink
	encoder   *audioio.FrameEncoder
	sequencer *playback.Sequencer
	timeline  *Timeline

	captureCancel context.CancelFunc
	captureDone   chan struct{}

	onNotify      func(Notification)
	onStateChange func(State)
}

// New creates a session in the setup state.
func New(opts ...Option) (*Session, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		id:     uuid.New().String(),
		cfg:    cfg,
		logger: cfg.Logger.With("component", "session"),
		state:  StateSetup,
		sctx: SessionContext{
			ConversationID: cfg.ConversationID,
			Language:       cfg.Language,
			Level:          cfg.Level,
			Context:        cfg.Context,
			VAD:            cfg.VAD,
		},
	}
	s.timeline = NewTimeline(cfg.Logger)
	s.encoder = audioio.NewFrameEncoder(cfg.Audio, s.sendFrame)
	return s, nil
}

// ID returns the session instance identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Timeline returns the conversation timeline.
func (s *Session) Timeline() *Timeline {
	return s.timeline
}

// ConversationID returns the adopted conversation id, or "" before the
// backend assigns one.
func (s *Session) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sctx.ConversationID
}

// LastError returns the most recent session-level error.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// OnNotify sets the UI notification callback. Call before Start.
func (s *Session) OnNotify(fn func(Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotify = fn
}

// OnStateChange sets the state transition callback. Call before Start.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// Start acquires the audio devices and opens the message channel.
//
// Device acquisition failure is fatal: partial acquisitions are released and
// the session ends with ErrDeviceUnavailable. A channel connect failure is
// not fatal — the session parks in the awaiting-ready state holding its
// devices, and Reconnect may be called to try again.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateSetup {
		st := s.state
		s.mu.Unlock()
		if st == StateEnded {
			return ErrSessionEnded
		}
		return ErrInvalidState
	}
	s.mu.Unlock()

	if err := s.acquireDevices(ctx); err != nil {
		s.logger.Error("device acquisition failed", "error", err)
		s.releaseDevices()
		s.setState(StateEnded)
		s.setLastErr(err)
		return err
	}

	s.setState(StateAwaitingReady)

	if err := s.connect(ctx); err != nil {
		// Devices stay held; the session is parked until Reconnect or End.
		s.logger.Warn("channel connect failed, awaiting retry", "error", err)
		s.setLastErr(err)
		return err
	}

	s.setState(StateReadyIdle)
	s.startCaptureLoop()

	s.logger.Info("session ready",
		"session_id", s.id,
		"language", s.cfg.Language,
		"resume", s.cfg.ConversationID != "")

	return nil
}

// Reconnect retries the channel connection from the awaiting-ready state.
// Each attempt uses a fresh channel instance.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateAwaitingReady {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.setLastErr(err)
		return err
	}

	s.setState(StateReadyIdle)
	s.startCaptureLoop()
	return nil
}

// StartRecording begins streaming captured audio to the backend. Only
// allowed once the channel is open; there is no time-based readiness.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReadyIdle {
		return ErrInvalidState
	}
	if ch := s.currentChannel(); ch == nil || !ch.IsOpen() {
		return ErrNotConnected
	}

	s.encoder.Arm()
	s.transitionLocked(StateRecording)
	return nil
}

// Mute suspends streaming without releasing the capture device. Audio
// produced while muted is discarded, not queued.
func (s *Session) Mute() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return ErrInvalidState
	}

	s.encoder.Disarm()
	if err := s.source.Pause(); err != nil {
		s.logger.Warn("pause failed", "error", err)
	}
	s.transitionLocked(StateMuted)
	return nil
}

// Unmute resumes streaming. The device is not re-acquired.
func (s *Session) Unmute() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateMuted {
		return ErrInvalidState
	}

	if err := s.source.Resume(); err != nil {
		s.logger.Warn("resume failed", "error", err)
	}
	s.encoder.Arm()
	s.transitionLocked(StateRecording)
	return nil
}

// Save ends the conversation cleanly: capture stops, queued playback is
// discarded, the channel closes, and the conversation is marked complete on
// the backend. A completion failure is surfaced but the session still ends —
// the conversation content is already persisted server-side.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRecording && s.state != StateMuted {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.encoder.Disarm()
	s.transitionLocked(StateSaving)
	convID := s.sctx.ConversationID
	progress := s.timeline.Progress()
	s.mu.Unlock()
	channel := s.currentChannel()

	s.stopCaptureLoop()
	if s.sequencer != nil {
		s.sequencer.Flush()
	}
	if channel != nil {
		if err := channel.Close(); err != nil {
			s.logger.Warn("channel close failed", "error", err)
		}
	}

	var completeErr error
	if s.cfg.Complete != nil && convID != "" {
		if err := s.cfg.Complete(ctx, convID, progress); err != nil {
			s.logger.Error("completion call failed", "error", err, "conversation_id", convID)
			s.setLastErr(err)
			completeErr = err
		}
	}

	s.releaseDevices()
	s.setState(StateEnded)

	s.logger.Info("session saved", "conversation_id", convID, "messages", s.timeline.Len())
	return completeErr
}

// End tears the session down from any state without marking the
// conversation complete. Idempotent.
func (s *Session) End() {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.encoder.Disarm()
	s.transitionLocked(StateEnded)
	s.mu.Unlock()
	channel := s.currentChannel()

	s.stopCaptureLoop()
	if s.sequencer != nil {
		s.sequencer.Flush()
	}
	if channel != nil {
		channel.Close()
	}
	s.releaseDevices()

	s.logger.Info("session ended", "session_id", s.id)
}

// Snapshot returns a point-in-time view for the dashboard.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		ID:             s.id,
		State:          s.state.String(),
		ConversationID: s.sctx.ConversationID,
		Language:       s.sctx.Language,
		Level:          s.sctx.Level,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	if ch := s.currentChannel(); ch != nil {
		snap.ChannelState = ch.State().String()
	} else {
		snap.ChannelState = ChannelDisconnected.String()
	}

	s.mu.RLock()
	seq := s.sequencer
	s.mu.RUnlock()
	if seq != nil {
		stats := seq.Stats()
		snap.Playback = &stats
	}

	snap.Messages = s.timeline.Messages()
	snap.Feedback = s.timeline.FeedbackList()
	snap.Progress = s.timeline.Progress()
	return snap
}

// acquireDevices opens the capture source and playback sink. On any failure
// the caller releases whatever was acquired.
func (s *Session) acquireDevices(ctx context.Context) error {
	var err error

	source := s.cfg.Source
	if source == nil {
		source, err = audioio.NewSource(s.cfg.Audio, s.cfg.Logger)
		if err != nil {
			return errors.Join(ErrDeviceUnavailable, err)
		}
	}
	if err := source.Start(ctx); err != nil {
		source.Close()
		return errors.Join(ErrDeviceUnavailable, err)
	}

	sink := s.cfg.Sink
	if sink == nil {
		sink, err = audioio.NewSink(s.cfg.Audio, s.cfg.Logger)
		if err != nil {
			source.Stop()
			source.Close()
			return errors.Join(ErrDeviceUnavailable, err)
		}
	}
	if err := sink.Start(ctx); err != nil {
		source.Stop()
		source.Close()
		sink.Close()
		return errors.Join(ErrDeviceUnavailable, err)
	}

	s.mu.Lock()
	s.source = source
	s.sink = sink
	s.sequencer = playback.New(sink, s.cfg.Logger)
	s.mu.Unlock()

	return nil
}

// releaseDevices stops and closes the audio devices.
func (s *Session) releaseDevices() {
	s.mu.Lock()
	source, sink := s.source, s.sink
	s.source, s.sink = nil, nil
	s.mu.Unlock()

	if source != nil {
		source.Stop()
		source.Close()
	}
	if sink != nil {
		sink.Stop()
		sink.Close()
	}
}

// connect builds a fresh channel, wires the callbacks and dials.
func (s *Session) connect(ctx context.Context) error {
	s.mu.RLock()
	params := InitParams{
		ConversationID: s.sctx.ConversationID,
		Language:       s.sctx.Language,
		Level:          s.sctx.Level,
		Context:        s.sctx.Context,
		CurriculumID:   s.cfg.CurriculumID,
		VAD:            s.sctx.VAD,
	}
	s.mu.RUnlock()

	var ch Channel
	if s.cfg.ChannelFactory != nil {
		ch = s.cfg.ChannelFactory(params)
	} else {
		ws := NewWSChannel(s.cfg.ServerURL, params, s.cfg.Logger)
		if s.cfg.DialTimeout > 0 {
			ws.dialTimeout = s.cfg.DialTimeout
		}
		ch = ws
	}

	ch.OnEvent(s.dispatchRaw)
	ch.OnClosed(s.handleChannelClosed)

	if err := ch.Connect(ctx); err != nil {
		return err
	}

	s.chMu.Lock()
	s.channel = ch
	s.chMu.Unlock()
	return nil
}

// currentChannel returns the active channel, if any.
func (s *Session) currentChannel() Channel {
	s.chMu.RLock()
	defer s.chMu.RUnlock()
	return s.channel
}

// startCaptureLoop pumps capture chunks into the frame encoder. The encoder
// discards everything while disarmed, so the loop runs for the whole life
// of the connection.
func (s *Session) startCaptureLoop() {
	s.mu.Lock()
	if s.captureDone != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.captureCancel = cancel
	s.captureDone = done
	source := s.source
	s.mu.Unlock()

	go func() {
		defer close(done)
		for {
			chunk, err := source.Read(ctx)
			if err != nil {
				return
			}
			s.encoder.Push(chunk.Samples, chunk.SampleRate)
		}
	}()
}

// stopCaptureLoop cancels the capture pump and waits for it to exit.
func (s *Session) stopCaptureLoop() {
	s.mu.Lock()
	cancel := s.captureCancel
	done := s.captureDone
	s.captureCancel = nil
	s.captureDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Second):
			s.logger.Warn("capture loop did not exit in time")
		}
	}
}

// sendFrame is the encoder's frame callback. Frames race the channel going
// away; those are dropped, never queued.
func (s *Session) sendFrame(pcm []byte) {
	ch := s.currentChannel()
	if ch == nil || !ch.IsOpen() {
		return
	}
	if err := ch.SendAudio(pcm); err != nil {
		s.logger.Debug("frame dropped", "error", err)
	}
}

// dispatchRaw handles one inbound payload on the channel's read goroutine.
// Events are applied in arrival order; a malformed event is dropped without
// affecting the stream.
func (s *Session) dispatchRaw(data []byte) {
	ev, err := ParseEvent(data)
	if err != nil {
		s.logger.Warn("dropping malformed event", "error", err)
		return
	}
	s.dispatch(ev)
}

// dispatch applies one decoded event.
func (s *Session) dispatch(ev Event) {
	switch e := ev.(type) {
	case ConversationCreated:
		s.mu.Lock()
		adopted, conflict := s.sctx.AdoptConversationID(e.ID)
		s.mu.Unlock()
		if conflict {
			s.logger.Warn("conflicting conversation id ignored", "id", e.ID)
		} else if adopted {
			s.logger.Info("conversation created", "conversation_id", e.ID)
		}

	case SessionCreated:
		s.logger.Debug("session created by backend")

	case UserTranscription:
		if s.timeline.AppendUserMessage(e.ItemID, e.Transcript) {
			s.logger.Debug("user message", "id", e.ItemID)
		}

	case AssistantTranscript:
		s.timeline.AppendAssistantMessage(e.Transcript)

	case FeedbackGenerated:
		if s.timeline.AttachFeedback(e.Feedback) {
			s.notify(Notification{Kind: NotifyFeedback, Message: e.Feedback.MessageID})
		}

	case SpeechStarted:
		// Barge-in: discard queued assistant audio before the next delta
		// can arrive. Synchronous on the dispatch goroutine.
		if s.sequencer != nil {
			s.sequencer.Flush()
		}

	case AudioDelta:
		if s.sequencer != nil {
			s.sequencer.Enqueue(e.PCM)
		}

	case LessonProgressEvent:
		s.timeline.SetProgress(e.Progress)

	case SuggestionAvailable:
		s.notify(Notification{Kind: NotifySuggestion, Message: e.Suggestion})

	case ServerError:
		err := &ServerReportedError{Code: e.Code, Message: e.Message}
		s.logger.Error("server error", "code", e.Code, "message", e.Message)
		s.setLastErr(err)

	case UnknownEvent:
		s.logger.Debug("ignoring unknown event", "type", e.Type)
	}
}

// handleChannelClosed reacts to unexpected connection loss. Teardown-phase
// closes are expected and ignored. Otherwise the session disarms capture,
// keeps its devices and timeline, and parks awaiting a reconnect.
func (s *Session) handleChannelClosed(err error) {
	s.mu.Lock()
	if s.state == StateSaving || s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.encoder.Disarm()
	// The muted state does not survive the park: unpause the source here or
	// a post-reconnect recording would stream nothing, with no way to Unmute.
	if s.state == StateMuted && s.source != nil {
		if rerr := s.source.Resume(); rerr != nil {
			s.logger.Warn("resume after connection loss failed", "error", rerr)
		}
	}
	if err != nil {
		s.lastErr = err
	}
	s.transitionLocked(StateAwaitingReady)
	s.mu.Unlock()

	if s.sequencer != nil {
		s.sequencer.Flush()
	}

	s.logger.Warn("connection lost", "error", err)
	s.notify(Notification{Kind: NotifyConnectionLost, Message: "connection lost"})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.transitionLocked(st)
	s.mu.Unlock()
}

// transitionLocked changes state and fires the callback. Caller holds mu.
func (s *Session) transitionLocked(st State) {
	if s.state == st {
		return
	}
	old := s.state
	s.state = st
	s.logger.Debug("state transition", "from", old.String(), "to", st.String())
	if s.onStateChange != nil {
		fn := s.onStateChange
		go fn(st)
	}
}

func (s *Session) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) notify(n Notification) {
	s.mu.RLock()
	fn := s.onNotify
	s.mu.RUnlock()
	if fn != nil {
		fn(n)
	}
}
