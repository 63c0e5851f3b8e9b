//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	captureFramesPerBuffer  = 1600 // 100ms at 16kHz
	playbackFramesPerBuffer = 960  // 40ms at 24kHz
)

// PortAudioProvider opens real microphone and speaker streams. It is
// compiled in only with the portaudio build tag since it needs cgo and
// host audio libraries.
type PortAudioProvider struct {
	initOnce sync.Once
	initErr  error
}

func NewDeviceProvider() (DeviceProvider, error) {
	p := &PortAudioProvider{}
	p.initOnce.Do(func() {
		p.initErr = portaudio.Initialize()
	})
	if p.initErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, p.initErr)
	}
	return p, nil
}

func (p *PortAudioProvider) OpenCapture() (CaptureSource, error) {
	return &paCapture{out: make(chan []byte, 100)}, nil
}

func (p *PortAudioProvider) OpenPlayback() (PlaybackSink, error) {
	return &paPlayback{in: make(chan []byte, 500)}, nil
}

type paCapture struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	out     chan []byte
	running bool
	dropped uint64
}

func (c *paCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	in := make([]int16, captureFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(CaptureSampleRate), captureFramesPerBuffer, in)
	if err != nil {
		return fmt.Errorf("%w: open input stream: %v", ErrNoDevice, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: start input stream: %v", ErrNoDevice, err)
	}

	c.mu.Lock()
	c.stream = stream
	c.running = true
	c.mu.Unlock()

	go c.loop(ctx, in)
	return nil
}

func (c *paCapture) loop(ctx context.Context, in []int16) {
	defer close(c.out)
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		default:
		}

		c.mu.Lock()
		stream := c.stream
		running := c.running
		c.mu.Unlock()
		if !running || stream == nil {
			return
		}

		if err := stream.Read(); err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		chunk := make([]byte, len(in)*2)
		for i, s := range in {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(s))
		}

		select {
		case c.out <- chunk:
		default:
			c.mu.Lock()
			c.dropped++
			dropped := c.dropped
			c.mu.Unlock()
			if dropped%100 == 1 {
				log.Printf("audio capture: dropping chunks, consumer behind (dropped=%d)", dropped)
			}
		}
	}
}

func (c *paCapture) Chunks() <-chan []byte { return c.out }

func (c *paCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		_ = c.stream.Stop()
		_ = c.stream.Close()
		c.stream = nil
	}
	c.running = false
}

type paPlayback struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	in      chan []byte
	running bool
}

func (p *paPlayback) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	out := make([]int16, playbackFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(PlaybackSampleRate), playbackFramesPerBuffer, out)
	if err != nil {
		return fmt.Errorf("%w: open output stream: %v", ErrNoDevice, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: start output stream: %v", ErrNoDevice, err)
	}

	p.mu.Lock()
	p.stream = stream
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx, out)
	return nil
}

func (p *paPlayback) loop(ctx context.Context, out []int16) {
	buffer := make([]byte, 0, playbackFramesPerBuffer*4)
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return
		case chunk, ok := <-p.in:
			if !ok {
				return
			}
			buffer = append(buffer, chunk...)
			for len(buffer) >= len(out)*2 {
				for i := 0; i < len(out); i++ {
					out[i] = int16(binary.LittleEndian.Uint16(buffer[i*2:]))
				}
				p.mu.Lock()
				if p.stream != nil {
					_ = p.stream.Write()
				}
				p.mu.Unlock()
				buffer = buffer[len(out)*2:]
			}
		}
	}
}

func (p *paPlayback) Write(chunk []byte) error {
	select {
	case p.in <- chunk:
		return nil
	default:
		return fmt.Errorf("playback buffer full")
	}
}

func (p *paPlayback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		_ = p.stream.Stop()
		_ = p.stream.Close()
		p.stream = nil
	}
	p.running = false
}
