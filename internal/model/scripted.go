package model

import (
	"context"
	"sync"

	"github.com/mfalcone/glimpse/internal/media"
)

// ScriptedOpener hands out channels that replay a fixed event script.
// It doubles as the fallback provider when no API key is configured and
// as the test double for the engine.
type ScriptedOpener struct {
	mu      sync.Mutex
	script  []Event
	openErr error
	opened  []*ScriptedChannel
}

func NewScriptedOpener(script ...Event) *ScriptedOpener {
	return &ScriptedOpener{script: script}
}

// FailOpen makes every subsequent Open return the given error wrapped in
// an OpenError.
func (o *ScriptedOpener) FailOpen(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openErr = err
}

func (o *ScriptedOpener) Open(_ context.Context, _ ConnectConfig) (Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, &OpenError{Err: o.openErr}
	}
	ch := &ScriptedChannel{
		events: make(chan Event, len(o.script)+1),
		done:   make(chan struct{}),
	}
	for _, evt := range o.script {
		ch.events <- evt
	}
	o.opened = append(o.opened, ch)
	return ch, nil
}

// Opened returns every channel handed out so far, in order.
func (o *ScriptedOpener) Opened() []*ScriptedChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*ScriptedChannel, len(o.opened))
	copy(out, o.opened)
	return out
}

// ScriptedChannel records sends and replays scripted events. Once the
// script is drained, Receive blocks until the channel is closed or more
// events are pushed with Emit.
type ScriptedChannel struct {
	events chan Event
	done   chan struct{}

	mu         sync.Mutex
	closed     bool
	sentTexts  []string
	sentMedia  []media.Payload
	sendErr    error
	closeCalls int
}

// Emit appends a live event to the replay stream.
func (c *ScriptedChannel) Emit(evt Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.events <- evt:
	case <-c.done:
	}
}

// FailSends makes subsequent sends return err.
func (c *ScriptedChannel) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *ScriptedChannel) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sentTexts = append(c.sentTexts, text)
	return nil
}

func (c *ScriptedChannel) SendMedia(ctx context.Context, payload media.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sentMedia = append(c.sentMedia, payload)
	return nil
}

func (c *ScriptedChannel) Receive() (Event, error) {
	select {
	case evt := <-c.events:
		return evt, nil
	case <-c.done:
		// Drain any events raced in before close so scripted sequences
		// are delivered completely.
		select {
		case evt := <-c.events:
			return evt, nil
		default:
			return Event{}, ErrChannelClosed
		}
	}
}

func (c *ScriptedChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

func (c *ScriptedChannel) SentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sentTexts))
	copy(out, c.sentTexts)
	return out
}

func (c *ScriptedChannel) SentMedia() []media.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.Payload, len(c.sentMedia))
	copy(out, c.sentMedia)
	return out
}

func (c *ScriptedChannel) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

func (c *ScriptedChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
