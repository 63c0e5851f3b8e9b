// Package engine drives one live model conversation at a time: it owns
// the model channel and the concurrent tasks that stream frames, audio
// and text through it until the session is stopped.
package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mfalcone/glimpse/internal/audio"
	"github.com/mfalcone/glimpse/internal/media"
	"github.com/mfalcone/glimpse/internal/model"
	"github.com/mfalcone/glimpse/internal/observability"
)

const sendRetryBackoff = 100 * time.Millisecond

// Options configures an Engine.
type Options struct {
	Connect          model.ConnectConfig
	FrameWaitTimeout time.Duration
	StopJoinTimeout  time.Duration
	MicEnabled       bool
	PlaybackEnabled  bool
}

// Engine starts and stops sessions. It holds no per-session state itself;
// everything mutable lives on the Session.
type Engine struct {
	opener  model.Opener
	devices audio.DeviceProvider
	opts    Options
	metrics *observability.Metrics
}

// New builds an engine. devices may be nil when no audio hardware is
// available; audio tasks are then skipped and the session degrades to
// text/video only.
func New(opener model.Opener, devices audio.DeviceProvider, opts Options, metrics *observability.Metrics) *Engine {
	if opts.FrameWaitTimeout <= 0 {
		opts.FrameWaitTimeout = time.Second
	}
	if opts.StopJoinTimeout <= 0 {
		opts.StopJoinTimeout = 2 * time.Second
	}
	return &Engine{opener: opener, devices: devices, opts: opts, metrics: metrics}
}

// Start opens a channel and spawns the task set for mode. The channel
// open is synchronous: its failure is fatal to the attempted session and
// is returned directly with no retry. On success Start returns
// immediately while the tasks keep running on their own context.
func (e *Engine) Start(ctx context.Context, mode Mode, frames *media.FrameQueue) (*Session, error) {
	channel, err := e.opener.Open(ctx, e.opts.Connect)
	if err != nil {
		return nil, err
	}

	if frames != nil {
		// Stale frames from a previous session must never reach this one.
		frames.Reset()
	}

	s := newSession(mode, channel, frames)

	// The session outlives the request that started it.
	sctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	g, gctx := errgroup.WithContext(sctx)

	g.Go(func() error { return e.textTask(gctx, s) })
	g.Go(func() error { return e.receiveTask(gctx, s) })

	if mode == ModeCamera && frames != nil {
		g.Go(func() error { return e.mediaTask(gctx, s) })
	}

	if e.opts.MicEnabled && e.devices != nil {
		capture, err := e.devices.OpenCapture()
		if err == nil {
			err = capture.Start(gctx)
		}
		if err != nil {
			// Device faults degrade capability; the session continues.
			log.Printf("session %s: audio capture unavailable: %v", s.ID, err)
			e.metrics.SessionEvents.WithLabelValues("capture_unavailable").Inc()
		} else {
			s.capture = capture
			g.Go(func() error { return e.captureTask(gctx, s) })
			g.Go(func() error { return e.audioSendTask(gctx, s) })
		}
	}

	if e.opts.PlaybackEnabled && e.devices != nil {
		playback, err := e.devices.OpenPlayback()
		if err == nil {
			err = playback.Start(gctx)
		}
		if err != nil {
			log.Printf("session %s: audio playback unavailable: %v", s.ID, err)
			e.metrics.SessionEvents.WithLabelValues("playback_unavailable").Inc()
		} else {
			s.playback = playback
			g.Go(func() error { return e.playbackTask(gctx, s) })
		}
	}

	e.metrics.SessionActive.Set(1)
	e.metrics.SessionEvents.WithLabelValues("started").Inc()

	go func() {
		err := g.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("session %s: ended with error: %v", s.ID, err)
			s.setErr(err)
			e.metrics.SessionEvents.WithLabelValues("ended_error").Inc()
		}
		s.running.Store(false)
		s.cleanup()
		// The gauge clears on every exit path, not only Stop.
		e.metrics.SessionActive.Set(0)
		close(s.done)
	}()

	log.Printf("session %s: started in %s mode", s.ID, mode)
	return s, nil
}

// Stop ends a session: it flips the running flag, cancels every task and
// waits a bounded interval for them to unwind. Tasks observe cancellation
// at their next suspension point; a task stuck past the join window is
// abandoned rather than blocking the caller. Calling Stop on an already
// stopped session is a no-op.
func (e *Engine) Stop(s *Session) {
	if s == nil {
		return
	}
	wasRunning := s.running.Swap(false)
	if s.cancel != nil {
		s.cancel()
	}
	// Closing the channel unblocks a receive task parked in Receive,
	// which has no other cancellation point.
	if s.channel != nil {
		_ = s.channel.Close()
	}

	select {
	case <-s.done:
	case <-time.After(e.opts.StopJoinTimeout):
		log.Printf("session %s: tasks did not unwind within %v, abandoning", s.ID, e.opts.StopJoinTimeout)
		s.cleanup()
	}

	if wasRunning {
		e.metrics.SessionActive.Set(0)
		e.metrics.SessionEvents.WithLabelValues("stopped").Inc()
		log.Printf("session %s: stopped", s.ID)
	}
}

// textTask forwards operator text as user turns. The sentinel ends just
// this task; the rest of the session keeps running.
func (e *Engine) textTask(ctx context.Context, s *Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-s.textIn:
			if !ok {
				return nil
			}
			if text == TextSentinel {
				return nil
			}
			if text == "" {
				text = "."
			}
			if err := s.channel.SendText(ctx, text); err != nil {
				if errors.Is(err, model.ErrChannelClosed) {
					e.metrics.ChannelErrors.WithLabelValues("send_text").Inc()
					return err
				}
				log.Printf("session %s: text send failed: %v", s.ID, err)
				e.metrics.ChannelErrors.WithLabelValues("send_text").Inc()
			}
		}
	}
}

// mediaTask pulls frames from the hand-off queue, encodes them and sends
// them as realtime input. An empty queue is steady state, not an error:
// the wait times out and the task retries without ever stalling the rest
// of the engine.
func (e *Engine) mediaTask(ctx context.Context, s *Session) error {
	for {
		if ctx.Err() != nil || !s.running.Load() {
			return nil
		}
		frame, ok := s.frames.Next(ctx, e.opts.FrameWaitTimeout)
		if !ok {
			continue
		}

		start := time.Now()
		payload, err := media.EncodeFrame(frame.Image)
		e.metrics.ObserveFrameEncodeLatency(time.Since(start))
		if err != nil {
			// One bad frame is not session-fatal.
			log.Printf("session %s: frame encode failed: %v", s.ID, err)
			continue
		}

		if err := s.channel.SendMedia(ctx, payload); err != nil {
			e.metrics.ChannelErrors.WithLabelValues("send_media").Inc()
			if errors.Is(err, model.ErrChannelClosed) {
				return err
			}
			log.Printf("session %s: frame send failed: %v", s.ID, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sendRetryBackoff):
			}
			continue
		}
		e.metrics.FramesSent.Inc()
	}
}

// captureTask moves microphone chunks onto the outbound audio queue.
// The queue never blocks the device: a full queue drops the chunk.
func (e *Engine) captureTask(ctx context.Context, s *Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-s.capture.Chunks():
			if !ok {
				// Device ended; only this direction is lost.
				log.Printf("session %s: audio capture stream ended", s.ID)
				return nil
			}
			select {
			case s.audioOut <- chunk:
			default:
				e.metrics.AudioChunksDropped.Inc()
			}
		}
	}
}

// audioSendTask drains the outbound audio queue over the channel. Video
// and audio deliberately use separate queues so backpressure on one
// media type never throttles the other.
func (e *Engine) audioSendTask(ctx context.Context, s *Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-s.audioOut:
			err := s.channel.SendMedia(ctx, media.PCMPayload(chunk, audio.CaptureSampleRate))
			if err != nil {
				e.metrics.ChannelErrors.WithLabelValues("send_audio").Inc()
				if errors.Is(err, model.ErrChannelClosed) {
					return err
				}
				log.Printf("session %s: audio send failed: %v", s.ID, err)
				continue
			}
			e.metrics.AudioChunksSent.Inc()
		}
	}
}

// receiveTask drains the channel's event stream into the session buffers
// and the playback queue. Channel closure ends the task; during an
// orderly stop that is expected and not reported as a fault.
func (e *Engine) receiveTask(ctx context.Context, s *Session) error {
	for {
		evt, err := s.channel.Receive()
		if err != nil {
			if ctx.Err() != nil || !s.running.Load() {
				return nil
			}
			e.metrics.ChannelErrors.WithLabelValues("receive").Inc()
			return err
		}

		switch evt.Kind {
		case model.KindAudioChunk:
			s.appendAudio(evt.Audio)
			e.metrics.ReceiveEvents.WithLabelValues("audio").Inc()
			select {
			case s.playbackIn <- evt.Audio:
			default:
				// Playback lagging; drop rather than stall receive.
			}
		case model.KindTextFragment:
			s.appendText(evt.Text)
			e.metrics.ReceiveEvents.WithLabelValues("text").Inc()
		case model.KindToolCall:
			log.Printf("session %s: tool call: %s", s.ID, evt.ToolName)
			e.metrics.ReceiveEvents.WithLabelValues("tool_call").Inc()
		}
	}
}

// playbackTask writes received audio to the local sink.
func (e *Engine) playbackTask(ctx context.Context, s *Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-s.playbackIn:
			if err := s.playback.Write(chunk); err != nil {
				log.Printf("session %s: playback write failed: %v", s.ID, err)
				continue
			}
			e.metrics.AudioChunksPlayed.Inc()
		}
	}
}
