package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/linguakit/go-linguakit/pkg/audioio"
)

// CompleteFunc marks a conversation complete on the backend after the
// channel is torn down. The session calls it exactly once, during Save.
type CompleteFunc func(ctx context.Context, conversationID string, progress *LessonProgress) error

// Config holds session configuration.
type Config struct {
	// ServerURL is the conversation backend websocket endpoint.
	// Required unless ChannelFactory is set.
	ServerURL string

	// Language is the target language for a new conversation.
	// Required unless resuming via ConversationID.
	Language string

	// Level is the learner's proficiency level.
	Level string

	// Context is free-form scenario context for the tutor.
	Context string

	// CurriculumID selects a curriculum lesson, if any.
	CurriculumID string

	// ConversationID resumes an existing conversation when set.
	ConversationID string

	// VAD configures backend turn detection.
	VAD VADSettings

	// Audio configures the capture and playback devices.
	Audio audioio.Config

	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// Source overrides device acquisition for capture. Tests inject mocks
	// here; when nil the audioio factory picks a backend.
	Source audioio.Source

	// Sink overrides device acquisition for playback.
	Sink audioio.Sink

	// ChannelFactory constructs the message channel for one connection
	// attempt. Defaults to a websocket channel against ServerURL.
	ChannelFactory func(params InitParams) Channel

	// Complete is called during Save to mark the conversation complete.
	// Optional; when nil Save skips the completion call.
	Complete CompleteFunc
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		VAD:         DefaultVADSettings(),
		Audio:       audioio.DefaultConfig(),
		DialTimeout: 10 * time.Second,
		Logger:      slog.Default(),
	}
}

// Option configures a session.
type Option func(*Config)

// WithServerURL sets the conversation backend endpoint.
func WithServerURL(url string) Option {
	return func(c *Config) { c.ServerURL = url }
}

// WithLanguage sets the target language.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithLevel sets the learner's proficiency level.
func WithLevel(level string) Option {
	return func(c *Config) { c.Level = level }
}

// WithContext sets the scenario context.
func WithContext(context string) Option {
	return func(c *Config) { c.Context = context }
}

// WithCurriculumID selects a curriculum lesson.
func WithCurriculumID(id string) Option {
	return func(c *Config) { c.CurriculumID = id }
}

// WithConversationID resumes an existing conversation.
func WithConversationID(id string) Option {
	return func(c *Config) { c.ConversationID = id }
}

// WithVAD sets voice-activity-detection settings.
func WithVAD(vad VADSettings) Option {
	return func(c *Config) { c.VAD = vad }
}

// WithAudioConfig sets the audio device configuration.
func WithAudioConfig(cfg audioio.Config) Option {
	return func(c *Config) { c.Audio = cfg }
}

// WithDialTimeout bounds the websocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) { c.DialTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithSource injects a capture source.
func WithSource(src audioio.Source) Option {
	return func(c *Config) { c.Source = src }
}

// WithSink injects a playback sink.
func WithSink(snk audioio.Sink) Option {
	return func(c *Config) { c.Sink = snk }
}

// WithChannelFactory injects the message channel constructor.
func WithChannelFactory(fn func(params InitParams) Channel) Option {
	return func(c *Config) { c.ChannelFactory = fn }
}

// WithCompleteFunc sets the conversation completion hook.
func WithCompleteFunc(fn CompleteFunc) Option {
	return func(c *Config) { c.Complete = fn }
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ServerURL == "" && c.ChannelFactory == nil {
		return ErrMissingServerURL
	}
	if c.Language == "" && c.ConversationID == "" {
		return ErrMissingLanguage
	}
	return nil
}
