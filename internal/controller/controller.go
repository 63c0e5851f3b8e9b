// Package controller holds the process-wide session state machine. It
// owns at most one engine session at a time and serializes every
// start/pause/resume/stop request under a single mutex.
package controller

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/mfalcone/glimpse/internal/engine"
	"github.com/mfalcone/glimpse/internal/media"
	"github.com/mfalcone/glimpse/internal/observability"
)

// State is the control-plane view of the session lifecycle.
type State string

const (
	StateStopped State = "stopped"
	StatePaused  State = "paused"
	StateRunning State = "running"
)

var (
	ErrSessionRunning = errors.New("a session is already running")
	ErrNoSession      = errors.New("no session running")
	ErrNotPaused      = errors.New("no paused session")
)

// FrameSource produces raw frames from a local capture device. It is an
// optional collaborator; without one, frames arrive over the upload
// endpoint.
type FrameSource interface {
	Start(ctx context.Context) error
	Frames() <-chan media.Frame
	Stop()
}

// Controller drives the engine from control-plane requests. All mutable
// state lives behind one mutex; the cooperative session tasks never call
// back into the controller.
type Controller struct {
	engine  *engine.Engine
	frames  *media.FrameQueue
	metrics *observability.Metrics
	source  FrameSource

	mu           sync.Mutex
	state        State
	mode         engine.Mode
	session      *engine.Session
	generation   uint64
	latestFrame  []byte
	sourceCancel context.CancelFunc
}

func New(eng *engine.Engine, frames *media.FrameQueue, metrics *observability.Metrics) *Controller {
	return &Controller{
		engine:  eng,
		frames:  frames,
		metrics: metrics,
		state:   StateStopped,
		mode:    engine.ModeNone,
	}
}

// AttachSource plugs in a local frame producer. Must be called before the
// first Start.
func (c *Controller) AttachSource(src FrameSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = src
}

// Start opens a new session in the given mode. It fails if a session is
// already running; a paused session is discarded and replaced, matching
// the reference behavior where start from pause begins a fresh
// conversation.
func (c *Controller) Start(mode engine.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning {
		if c.mode == mode {
			return fmt.Errorf("%w in %s mode", ErrSessionRunning, c.mode)
		}
		return fmt.Errorf("another session is running in %s mode: %w", c.mode, ErrSessionRunning)
	}

	return c.startLocked(mode)
}

// startLocked opens the channel and transitions to running. Callers hold
// the mutex.
func (c *Controller) startLocked(mode engine.Mode) error {
	var frames *media.FrameQueue
	if mode == engine.ModeCamera {
		frames = c.frames
	}

	s, err := c.engine.Start(context.Background(), mode, frames)
	if err != nil {
		// A failed open leaves the controller exactly where it was:
		// stopped, with no session and no tasks.
		c.state = StateStopped
		c.mode = engine.ModeNone
		c.session = nil
		return err
	}

	c.generation++
	gen := c.generation
	c.session = s
	c.state = StateRunning
	c.mode = mode
	c.latestFrame = nil

	if c.source != nil && mode != engine.ModeNone {
		srcCtx, cancel := context.WithCancel(context.Background())
		c.sourceCancel = cancel
		go c.pumpSource(srcCtx, gen)
	}

	// Revert to stopped if the session dies on its own (remote closure,
	// fatal task fault) rather than via Stop.
	go func() {
		<-s.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation != gen || c.state != StateRunning {
			return
		}
		log.Printf("session %s: ended outside of control plane, reverting to stopped", s.ID)
		c.metrics.SessionEvents.WithLabelValues("ended_unexpected").Inc()
		c.stopSourceLocked()
		c.session = nil
		c.state = StateStopped
		c.mode = engine.ModeNone
	}()

	return nil
}

// Pause suspends the conversation. The engine session is wound down but
// the controller remembers the mode so Resume can pick it back up.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StateRunning || c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	s := c.session
	c.generation++
	c.session = nil
	c.state = StatePaused
	c.stopSourceLocked()
	c.mu.Unlock()

	// Stop joins tasks with a bounded timeout; keep it off the lock.
	c.engine.Stop(s)
	return nil
}

// Resume starts a fresh session in the mode remembered at Pause time.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return ErrNotPaused
	}
	return c.startLocked(c.mode)
}

// Stop ends the active or paused session and discards its mode.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return ErrNoSession
	}
	s := c.session
	c.generation++
	c.session = nil
	c.state = StateStopped
	c.mode = engine.ModeNone
	c.latestFrame = nil
	c.stopSourceLocked()
	c.mu.Unlock()

	if s != nil {
		c.engine.Stop(s)
	}
	return nil
}

// Status reports the current lifecycle state and mode.
func (c *Controller) Status() (State, engine.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.mode
}

// Say forwards operator text to the active session.
func (c *Controller) Say(text string) error {
	c.mu.Lock()
	s := c.session
	running := c.state == StateRunning
	c.mu.Unlock()
	if !running || s == nil {
		return ErrNoSession
	}
	return s.Say(text)
}

// Transcript returns the active/most recent session transcript.
func (c *Controller) Transcript() ([]string, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, ErrNoSession
	}
	return s.Transcript(), nil
}

// ReceivedAudio returns the buffered model audio for the active session.
func (c *Controller) ReceivedAudio() ([]byte, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, ErrNoSession
	}
	return s.ReceivedAudio(), nil
}

// SubmitFrame accepts one uploaded frame while a session is running: the
// raw image goes into the hand-off queue for the engine and the encoded
// bytes become the latest viewer frame. Enqueueing from an HTTP handler
// goroutine is safe; the queue is the designated cross-boundary object.
func (c *Controller) SubmitFrame(img image.Image, encoded []byte) error {
	c.mu.Lock()
	running := c.state == StateRunning
	mode := c.mode
	c.mu.Unlock()
	if !running {
		return ErrNoSession
	}

	if mode == engine.ModeCamera {
		if evicted := c.frames.Put(media.Frame{Image: img, CapturedAt: time.Now()}); evicted {
			c.metrics.FramesDropped.Inc()
		}
	}

	c.mu.Lock()
	c.latestFrame = encoded
	c.mu.Unlock()
	return nil
}

// LatestFrame returns the most recent viewer frame as encoded JPEG bytes.
func (c *Controller) LatestFrame() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.latestFrame) == 0 {
		return nil, false
	}
	out := make([]byte, len(c.latestFrame))
	copy(out, c.latestFrame)
	return out, true
}

// pumpSource moves frames from an attached local source into the hand-off
// queue and refreshes the viewer frame.
func (c *Controller) pumpSource(ctx context.Context, gen uint64) {
	if err := c.source.Start(ctx); err != nil {
		log.Printf("frame source unavailable: %v", err)
		return
	}
	defer c.source.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.source.Frames():
			if !ok {
				return
			}
			c.mu.Lock()
			live := c.generation == gen && c.state == StateRunning
			mode := c.mode
			c.mu.Unlock()
			if !live {
				return
			}

			if mode == engine.ModeCamera {
				if evicted := c.frames.Put(frame); evicted {
					c.metrics.FramesDropped.Inc()
				}
			}
			if payload, err := media.EncodeFrame(frame.Image); err == nil {
				c.mu.Lock()
				if c.generation == gen {
					c.latestFrame = payload.Data
				}
				c.mu.Unlock()
			}
		}
	}
}

func (c *Controller) stopSourceLocked() {
	if c.sourceCancel != nil {
		c.sourceCancel()
		c.sourceCancel = nil
	}
}
