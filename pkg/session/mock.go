package session

import (
	"context"
	"encoding/json"
	"sync"
)

// MockChannel is a test double for Channel. It records outbound traffic and
// lets tests inject server events and connection loss.
type MockChannel struct {
	// ConnectErr, when set, makes Connect fail.
	ConnectErr error

	// SendErr, when set, makes SendAudio fail.
	SendErr error

	mu        sync.Mutex
	state     ChannelState
	sentAudio [][]byte
	onEvent   func(data []byte)
	onClosed  func(err error)
	closed    bool
}

// NewMockChannel creates a mock channel in the disconnected state.
func NewMockChannel() *MockChannel {
	return &MockChannel{state: ChannelDisconnected}
}

// Connect transitions to open, or fails with ConnectErr.
func (m *MockChannel) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == ChannelClosed {
		return ErrChannelClosed
	}
	if m.state == ChannelOpen {
		return ErrAlreadyConnected
	}
	if m.ConnectErr != nil {
		m.state = ChannelClosed
		return m.ConnectErr
	}
	m.state = ChannelOpen
	return nil
}

// Close transitions to the terminal state. Idempotent.
func (m *MockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = ChannelClosed
	m.closed = true
	return nil
}

// State returns the current state.
func (m *MockChannel) State() ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOpen reports whether the mock is open.
func (m *MockChannel) IsOpen() bool {
	return m.State() == ChannelOpen
}

// SendAudio records the frame, or fails with SendErr.
func (m *MockChannel) SendAudio(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ChannelOpen {
		return ErrNotConnected
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	m.sentAudio = append(m.sentAudio, cp)
	return nil
}

// OnEvent sets the inbound payload callback.
func (m *MockChannel) OnEvent(fn func(data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

// OnClosed sets the unexpected-close callback.
func (m *MockChannel) OnClosed(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClosed = fn
}

// SentAudio returns all frames passed to SendAudio.
func (m *MockChannel) SentAudio() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sentAudio))
	copy(out, m.sentAudio)
	return out
}

// SimulateRaw delivers a raw inbound payload to the event callback, as the
// read loop would.
func (m *MockChannel) SimulateRaw(data []byte) {
	m.mu.Lock()
	fn := m.onEvent
	m.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// SimulateEvent marshals v and delivers it as an inbound payload.
func (m *MockChannel) SimulateEvent(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	m.SimulateRaw(data)
}

// SimulateClose simulates an unexpected connection loss: the state moves to
// closed and the close callback fires. A locally closed channel stays silent.
func (m *MockChannel) SimulateClose(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state = ChannelClosed
	fn := m.onClosed
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Ensure MockChannel implements Channel.
var _ Channel = (*MockChannel)(nil)
