// Package playback provides the gapless playback queue for synthesized
// speech. Frames are played strictly in arrival order: the next frame starts
// only once the previous one has finished, and a barge-in flush discards the
// whole queue synchronously.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/linguakit/go-linguakit/pkg/audioio"
)

// State is the sequencer playback state.
type State int

const (
	// StateIdle means nothing is queued or playing.
	StateIdle State = iota
	// StatePlaying means a frame is currently being played.
	StatePlaying
)

func (s State) String() string {
	if s == StatePlaying {
		return "playing"
	}
	return "idle"
}

// Stats tracks sequencer activity.
type Stats struct {
	FramesPlayed  int64 `json:"frames_played"`
	FramesDropped int64 `json:"frames_dropped"`
	WriteErrors   int64 `json:"write_errors"`
	Flushes       int64 `json:"flushes"`
}

// Sequencer buffers inbound PCM frames and plays them back-to-back through
// an audioio.Sink. All operations are safe for concurrent use; Flush is
// synchronous and atomic with respect to Enqueue.
type Sequencer struct {
	sink   audioio.Sink
	cfg    audioio.Config
	logger *slog.Logger

	mu    sync.Mutex
	queue [][]byte
	state State
	gen   uint64
	timer *time.Timer
	stats Stats

	// afterFunc schedules the frame-complete callback. Tests replace it to
	// drive completion deterministically.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates a sequencer playing through the given sink.
func New(sink audioio.Sink, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		sink:      sink,
		cfg:       sink.Config(),
		logger:    logger.With("component", "playback"),
		afterFunc: time.AfterFunc,
	}
}

// Enqueue appends a PCM16 frame to the buffer. If the sequencer is idle the
// frame begins playing immediately.
func (s *Sequencer) Enqueue(frame []byte) {
	if len(frame) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, frame)
	if s.state == StateIdle {
		s.state = StatePlaying
		s.startNextLocked()
	}
}

// Flush stops any in-progress playback immediately, discards all buffered
// frames and transitions to idle. It is the barge-in path: by the time Flush
// returns, no pre-flush frame will ever play.
func (s *Sequencer) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Invalidate any in-flight completion callback.
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	s.stats.FramesDropped += int64(len(s.queue))
	s.stats.Flushes++
	s.queue = nil
	s.state = StateIdle

	if err := s.sink.Clear(); err != nil {
		s.logger.Warn("sink clear failed", "error", err)
	}
}

// State returns the current playback state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of sequencer statistics.
func (s *Sequencer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// startNextLocked pops frames until one is successfully written to the sink
// or the queue empties. A frame that fails to write is skipped, never
// allowed to stall the queue. Caller holds s.mu.
func (s *Sequencer) startNextLocked() {
	for len(s.queue) > 0 {
		frame := s.queue[0]
		s.queue = s.queue[1:]

		chunk := audioio.AudioChunk{
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
		}
		chunk.FromBytes(frame, s.cfg.SampleRate, s.cfg.Channels)

		if err := s.sink.Write(context.Background(), chunk); err != nil {
			s.stats.WriteErrors++
			s.logger.Warn("frame write failed, skipping", "error", err)
			continue
		}

		s.stats.FramesPlayed++
		gen := s.gen
		s.timer = s.afterFunc(s.frameDuration(frame), func() {
			s.frameDone(gen)
		})
		return
	}

	s.state = StateIdle
}

// frameDone advances to the next frame when the previous one finishes.
// Completions from before a flush are ignored.
func (s *Sequencer) frameDone(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != StatePlaying {
		return
	}
	s.startNextLocked()
}

func (s *Sequencer) frameDuration(frame []byte) time.Duration {
	samples := len(frame) / 2 / s.cfg.Channels
	if s.cfg.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(s.cfg.SampleRate)
}
