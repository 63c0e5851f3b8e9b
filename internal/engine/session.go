package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mfalcone/glimpse/internal/audio"
	"github.com/mfalcone/glimpse/internal/media"
	"github.com/mfalcone/glimpse/internal/model"
)

// Mode selects which task set a session runs.
type Mode string

const (
	ModeCamera Mode = "camera"
	ModeScreen Mode = "screen"
	ModeNone   Mode = "none"
)

// ParseMode validates a client-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCamera, ModeScreen, ModeNone:
		return Mode(s), nil
	case "":
		return ModeCamera, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected camera|screen|none)", s)
	}
}

// TextSentinel ends the text-input task without ending the session.
const TextSentinel = "q"

var errSessionStopped = errors.New("session is not running")

// Session is one live model conversation: an exclusively-owned channel
// plus the concurrent task set pumping data through it. Tasks hold only a
// non-owning reference back to the session; none of them ever blocks on
// another task's completion.
type Session struct {
	ID   string
	Mode Mode

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	channel  model.Channel
	frames   *media.FrameQueue
	capture  audio.CaptureSource
	playback audio.PlaybackSink

	textIn     chan string
	audioOut   chan []byte
	playbackIn chan []byte

	mu            sync.Mutex
	transcript    []string
	receivedAudio [][]byte
	runErr        error

	cleanupOnce sync.Once
}

func newSession(mode Mode, channel model.Channel, frames *media.FrameQueue) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		Mode:       mode,
		channel:    channel,
		frames:     frames,
		done:       make(chan struct{}),
		textIn:     make(chan string, 16),
		audioOut:   make(chan []byte, 64),
		playbackIn: make(chan []byte, 256),
	}
	s.running.Store(true)
	return s
}

// Running reports whether the session is still live. The flag is flipped
// by Stop and by the engine itself when a task hits a fatal fault.
func (s *Session) Running() bool { return s.running.Load() }

// Done is closed once every task has unwound and cleanup has run.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the fatal error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Say enqueues operator text for the text-input task. It never blocks:
// a saturated queue is rejected instead.
func (s *Session) Say(text string) error {
	if !s.running.Load() {
		return errSessionStopped
	}
	select {
	case s.textIn <- text:
		return nil
	default:
		return fmt.Errorf("text queue is full")
	}
}

// Transcript returns a copy of the text fragments received so far, in
// emission order.
func (s *Session) Transcript() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// ReceivedAudio returns the buffered model audio concatenated into one
// PCM stream.
func (s *Session) ReceivedAudio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, chunk := range s.receivedAudio {
		n += len(chunk)
	}
	out := make([]byte, 0, n)
	for _, chunk := range s.receivedAudio {
		out = append(out, chunk...)
	}
	return out
}

// AudioChunkCount reports how many audio payloads have been received.
func (s *Session) AudioChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receivedAudio)
}

func (s *Session) appendText(text string) {
	s.mu.Lock()
	s.transcript = append(s.transcript, text)
	s.mu.Unlock()
}

func (s *Session) appendAudio(chunk []byte) {
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.mu.Lock()
	s.receivedAudio = append(s.receivedAudio, buf)
	s.mu.Unlock()
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	if s.runErr == nil {
		s.runErr = err
	}
	s.mu.Unlock()
}

// cleanup releases the channel and any device handles. It runs exactly
// once per session no matter which path ended it, and never panics.
func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		if s.channel != nil {
			_ = s.channel.Close()
		}
		if s.capture != nil {
			s.capture.Stop()
		}
		if s.playback != nil {
			s.playback.Stop()
		}
	})
}
