package audioio

import (
	"sync"
)

// Full-scale factors for float to PCM16 conversion. Negative samples scale
// by 32768 and positive by 32767 so that -1.0 and 1.0 both land exactly on
// the int16 range boundaries. The conversation backend expects this exact
// mapping; do not symmetrize it.
const (
	negFullScale = 32768
	posFullScale = 32767
)

// FloatToPCM16 converts one float sample to a signed 16-bit sample.
// The input is clamped to [-1, 1] first.
func FloatToPCM16(s float32) int16 {
	if s < -1 {
		s = -1
	} else if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * negFullScale)
	}
	return int16(s * posFullScale)
}

// EncodeSamples converts float samples to PCM16.
func EncodeSamples(src []float32) []int16 {
	dst := make([]int16, len(src))
	for i, s := range src {
		dst[i] = FloatToPCM16(s)
	}
	return dst
}

// FrameEncoder turns captured float samples into fixed-size PCM16 frames at
// the wire sample rate. Frames are emitted through the callback only while
// the encoder is armed; while disarmed (muted) incoming samples are
// discarded outright so muting never builds a backlog.
//
// Push is called from the capture goroutine and Arm/Disarm from the session,
// so the armed flag and carry buffer are mutex-guarded. The hot path does a
// single conversion pass and reuses the carry buffer between calls.
type FrameEncoder struct {
	cfg     Config
	onFrame func(pcm []byte)

	mu    sync.Mutex
	armed bool
	carry []int16
}

// NewFrameEncoder creates a frame encoder. onFrame receives each completed
// frame as little-endian PCM16 bytes and must not retain the slice beyond
// the call unless it copies.
func NewFrameEncoder(cfg Config, onFrame func(pcm []byte)) *FrameEncoder {
	return &FrameEncoder{
		cfg:     cfg,
		onFrame: onFrame,
		carry:   make([]int16, 0, cfg.BufferSize()*2),
	}
}

// Arm enables frame emission.
func (e *FrameEncoder) Arm() {
	e.mu.Lock()
	e.armed = true
	e.mu.Unlock()
}

// Disarm disables frame emission and drops any partial frame. Samples
// pushed while disarmed are discarded, not buffered.
func (e *FrameEncoder) Disarm() {
	e.mu.Lock()
	e.armed = false
	e.carry = e.carry[:0]
	e.mu.Unlock()
}

// Armed reports whether the encoder is currently emitting frames.
func (e *FrameEncoder) Armed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed
}

// Push consumes captured float samples at the given native rate. Completed
// frames are emitted synchronously via the onFrame callback.
func (e *FrameEncoder) Push(samples []float32, nativeRate int) {
	if len(samples) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.armed {
		return
	}

	pcm := EncodeSamples(samples)
	if nativeRate != e.cfg.SampleRate {
		pcm = Resample(pcm, nativeRate, e.cfg.SampleRate)
	}

	e.carry = append(e.carry, pcm...)

	frameSize := e.cfg.BufferSize() * e.cfg.Channels
	for len(e.carry) >= frameSize {
		frame := SamplesToBytes(e.carry[:frameSize])
		e.carry = e.carry[:copy(e.carry, e.carry[frameSize:])]
		if e.onFrame != nil {
			e.onFrame(frame)
		}
	}
}
