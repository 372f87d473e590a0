package audioio

import (
	"context"
	"io"
)

// CaptureChunk is a block of captured audio as delivered by the device:
// floating-point samples in [-1, 1] at the device's native sample rate.
type CaptureChunk struct {
	// Samples contains float samples, interleaved when Channels > 1.
	Samples []float32

	// SampleRate is the native rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// Duration returns the duration of this chunk.
func (c *CaptureChunk) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start acquires the device and begins audio capture.
	// After calling Start, chunks will be available via Read or Stream.
	Start(ctx context.Context) error

	// Pause suspends capture without releasing the device.
	// Chunks stop flowing until Resume is called.
	Pause() error

	// Resume continues capture after Pause. The device is not re-acquired.
	Resume() error

	// Stop halts audio capture and releases the device.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next capture chunk, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (CaptureChunk, error)

	// Stream returns a channel that receives capture chunks.
	// The channel is closed when the source is stopped.
	Stream() <-chan CaptureChunk

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// ChunksRead is the total number of chunks read.
	ChunksRead int64 `json:"chunks_read"`

	// SamplesRead is the total number of samples read.
	SamplesRead int64 `json:"samples_read"`

	// Overruns is the number of buffer overruns (dropped audio).
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Paused indicates if capture is suspended.
	Paused bool `json:"paused"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
