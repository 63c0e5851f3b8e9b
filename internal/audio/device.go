package audio

import (
	"context"
	"errors"
)

// ErrNoDevice is returned when no capture/playback hardware is available
// in this build or on this host. The engine treats it as a degraded
// capability, not a session-fatal fault.
var ErrNoDevice = errors.New("audio device unavailable")

// CaptureSource reads fixed-size PCM16LE chunks from a microphone. The
// chunk channel is closed when capture stops.
type CaptureSource interface {
	Start(ctx context.Context) error
	Chunks() <-chan []byte
	Stop()
}

// PlaybackSink renders PCM16LE audio locally. Write never blocks; a full
// device buffer drops the chunk.
type PlaybackSink interface {
	Start(ctx context.Context) error
	Write(chunk []byte) error
	Stop()
}

// DeviceProvider opens device handles for a session. Each session gets
// fresh handles so cleanup can release them unconditionally.
type DeviceProvider interface {
	OpenCapture() (CaptureSource, error)
	OpenPlayback() (PlaybackSink, error)
}
