package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ChannelState is the lifecycle state of the duplex message channel.
type ChannelState int

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelDisconnected:
		return "disconnected"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InitParams is everything the channel sends in its one init message after
// opening: either an existing conversation id (resume) or the
// language/level/context of a new session, plus current VAD settings.
type InitParams struct {
	ConversationID string
	Language       string
	Level          string
	Context        string
	CurriculumID   string
	VAD            VADSettings
}

// Channel is one duplex message channel per conversation. Instances are
// single-use: once closed they stay closed, and a retry constructs a new
// instance. Implementations deliver inbound payloads in arrival order on a
// single goroutine and never interpret them beyond connection-level errors.
type Channel interface {
	// Connect dials the backend and sends exactly one init message.
	Connect(ctx context.Context) error

	// Close tears the channel down. Closing an already-closed channel is a
	// no-op. Buffered outbound sends are dropped, not retried.
	Close() error

	// State returns the current lifecycle state.
	State() ChannelState

	// IsOpen reports whether application messages can be sent.
	IsOpen() bool

	// SendAudio transmits one PCM16 frame as a transport-encoded append
	// message. Returns ErrNotConnected when the channel is not open.
	SendAudio(pcm []byte) error

	// OnEvent sets the callback receiving each inbound payload.
	// Call before Connect.
	OnEvent(fn func(data []byte))

	// OnClosed sets the callback fired once when the channel leaves the
	// open state for any reason other than a local Close.
	OnClosed(fn func(err error))
}

// Outbound wire messages.

type initMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Language       string      `json:"language,omitempty"`
	Level          string      `json:"level,omitempty"`
	Context        string      `json:"context,omitempty"`
	CurriculumID   string      `json:"curriculum_id,omitempty"`
	VADSettings    VADSettings `json:"vad_settings"`
}

type audioAppendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// newInitMessage builds the init payload: the resume path wins when a
// conversation id exists, otherwise the new-session parameters are sent.
func newInitMessage(p InitParams) initMessage {
	msg := initMessage{
		Type:        "init",
		VADSettings: p.VAD,
	}
	if p.ConversationID != "" {
		msg.ConversationID = p.ConversationID
		return msg
	}
	msg.Language = p.Language
	msg.Level = p.Level
	msg.Context = p.Context
	msg.CurriculumID = p.CurriculumID
	return msg
}

// WSChannel implements Channel over a gorilla websocket connection.
type WSChannel struct {
	url    string
	params InitParams
	logger *slog.Logger

	dialTimeout time.Duration

	mu        sync.RWMutex
	state     ChannelState
	conn      *websocket.Conn
	cancelCtx context.CancelFunc
	onEvent   func(data []byte)
	onClosed  func(err error)

	// writeMu serializes writes to the connection.
	writeMu sync.Mutex

	closedOnce sync.Once

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

// NewWSChannel creates a websocket channel for one conversation.
func NewWSChannel(url string, params InitParams, logger *slog.Logger) *WSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSChannel{
		url:         url,
		params:      params,
		logger:      logger.With("component", "channel"),
		dialTimeout: 10 * time.Second,
		state:       ChannelDisconnected,
	}
}

// Connect establishes the websocket connection and sends the init message.
// A failed connect leaves the channel closed; construct a new instance to
// retry.
func (c *WSChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case ChannelConnecting, ChannelOpen:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case ChannelClosed:
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.state = ChannelConnecting
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.dialTimeout,
	}

	c.logger.Info("connecting to conversation backend", "url", c.url)

	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = ChannelClosed
		c.mu.Unlock()
		if resp != nil {
			return NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return NewConnectionError("dial failed", err, true)
	}

	// The init message is sent exactly once, before any other traffic.
	init := newInitMessage(c.params)
	data, err := json.Marshal(init)
	if err != nil {
		conn.Close()
		c.mu.Lock()
		c.state = ChannelClosed
		c.mu.Unlock()
		return fmt.Errorf("session: marshal init failed: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		c.mu.Lock()
		c.state = ChannelClosed
		c.mu.Unlock()
		return NewConnectionError("init send failed", err, true)
	}
	c.messagesSent.Add(1)

	msgCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.state = ChannelOpen
	c.cancelCtx = cancel
	c.mu.Unlock()

	go c.readLoop(msgCtx)

	c.logger.Info("channel open", "resume", init.ConversationID != "")

	return nil
}

// Close tears down the channel. Idempotent.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == ChannelClosed {
		return nil
	}

	if c.cancelCtx != nil {
		c.cancelCtx()
	}

	if c.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		c.conn.Close()
		c.conn = nil
	}

	c.state = ChannelClosed
	// A local close never fires onClosed; mark it consumed.
	c.closedOnce.Do(func() {})
	c.logger.Info("channel closed")

	return nil
}

// State returns the current channel state.
func (c *WSChannel) State() ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsOpen returns true when the channel can carry application messages.
func (c *WSChannel) IsOpen() bool {
	return c.State() == ChannelOpen
}

// SendAudio transmits one PCM16 frame, base64-encoded inside the JSON
// append envelope. Sends on a non-open channel are dropped with an error —
// this channel is not guaranteed-delivery and keeps no retry queue.
func (c *WSChannel) SendAudio(pcm []byte) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != ChannelOpen || conn == nil {
		return ErrNotConnected
	}

	msg := audioAppendMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: marshal audio failed: %w", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return NewConnectionError("send audio failed", err, true)
	}

	c.messagesSent.Add(1)
	return nil
}

// OnEvent sets the inbound payload callback.
func (c *WSChannel) OnEvent(fn func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

// OnClosed sets the unexpected-close callback.
func (c *WSChannel) OnClosed(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// readLoop delivers inbound messages in arrival order on this single
// goroutine. It exits when the connection drops or the channel is closed.
func (c *WSChannel) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		fn := c.onEvent
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("connection closed by server")
				c.transitionClosed(nil)
				return
			}
			// A locally closed channel also surfaces a read error; that one
			// is not reported.
			if c.State() == ChannelClosed {
				return
			}
			c.logger.Error("read error", "error", err)
			c.transitionClosed(NewConnectionError("read failed", err, true))
			return
		}

		c.messagesReceived.Add(1)

		if fn != nil {
			fn(data)
		}
	}
}

// transitionClosed moves to the terminal state after a remote close or read
// failure and fires onClosed exactly once.
func (c *WSChannel) transitionClosed(err error) {
	c.mu.Lock()
	if c.state == ChannelClosed {
		c.mu.Unlock()
		return
	}
	c.state = ChannelClosed
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	fn := c.onClosed
	c.mu.Unlock()

	c.closedOnce.Do(func() {
		if fn != nil {
			fn(err)
		}
	})
}

// Stats returns message counters for the dashboard.
func (c *WSChannel) Stats() (sent, received int64) {
	return c.messagesSent.Load(), c.messagesReceived.Load()
}

// Ensure WSChannel implements Channel.
var _ Channel = (*WSChannel)(nil)
