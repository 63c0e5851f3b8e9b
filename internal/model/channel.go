package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/mfalcone/glimpse/internal/media"
)

// ErrChannelClosed is returned by Receive and the send methods once the
// underlying stream has ended. Callers should treat it as session-fatal.
var ErrChannelClosed = errors.New("model channel closed")

// EventKind discriminates the variants of a server event.
type EventKind string

const (
	KindAudioChunk   EventKind = "audio_chunk"
	KindTextFragment EventKind = "text_fragment"
	KindToolCall     EventKind = "tool_call"
)

// Event is the closed union of everything the model can stream back.
// Exactly one payload field is meaningful, selected by Kind; the dynamic
// provider response shape is decoded into this once at the boundary.
type Event struct {
	Kind     EventKind
	Audio    []byte
	Text     string
	ToolName string
}

// ConnectConfig is the fixed connection descriptor for a live session.
// These are deployment constants, not per-session parameters.
type ConnectConfig struct {
	Model           string
	MaxOutputTokens int32
	Temperature     float32
	VoiceName       string
	EnableSearch    bool
}

// Channel is one bidirectional streaming connection to the model service.
// A Channel is owned by exactly one session: created when the session
// starts and closed when it stops, never shared.
type Channel interface {
	// SendText submits operator text as a complete user turn.
	SendText(ctx context.Context, text string) error

	// SendMedia streams an encoded frame or audio chunk as realtime input.
	SendMedia(ctx context.Context, payload media.Payload) error

	// Receive blocks for the next server event. It returns ErrChannelClosed
	// (possibly wrapped) when the stream ends.
	Receive() (Event, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Opener establishes channels. The engine holds an Opener so tests can
// substitute a scripted implementation for the real service.
type Opener interface {
	Open(ctx context.Context, cfg ConnectConfig) (Channel, error)
}

// OpenError wraps a failure to establish the remote connection. It is
// fatal to the attempted session and is never retried automatically.
type OpenError struct {
	Err error
}

func (e *OpenError) Error() string { return fmt.Sprintf("model channel open: %v", e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }
