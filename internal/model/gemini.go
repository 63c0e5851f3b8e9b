package model

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/mfalcone/glimpse/internal/media"
)

// GeminiOpener connects to the Gemini Live API.
type GeminiOpener struct {
	APIKey     string
	APIVersion string
}

func NewGeminiOpener(apiKey string) *GeminiOpener {
	return &GeminiOpener{APIKey: apiKey, APIVersion: "v1alpha"}
}

func (o *GeminiOpener) Open(ctx context.Context, cfg ConnectConfig) (Channel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      o.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: o.APIVersion},
	})
	if err != nil {
		return nil, &OpenError{Err: err}
	}

	connect := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio, genai.ModalityText},
		MaxOutputTokens:    cfg.MaxOutputTokens,
		Temperature:        genai.Ptr(cfg.Temperature),
	}
	if cfg.VoiceName != "" {
		connect.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.VoiceName},
			},
		}
	}
	if cfg.EnableSearch {
		connect.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	session, err := client.Live.Connect(ctx, cfg.Model, connect)
	if err != nil {
		return nil, &OpenError{Err: err}
	}
	return &geminiChannel{session: session, pending: make([]Event, 0, 4)}, nil
}

type geminiChannel struct {
	session *genai.Session

	mu     sync.Mutex
	closed bool

	// pending holds events decoded from a server message that carried more
	// than one part; Receive drains it before touching the wire again.
	pending []Event
}

func (c *geminiChannel) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrChannelClosed
	}
	err := c.session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: text}},
		}},
		TurnComplete: genai.Ptr(true),
	})
	if err != nil {
		return fmt.Errorf("send text turn: %w", err)
	}
	return nil
}

func (c *geminiChannel) SendMedia(ctx context.Context, payload media.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrChannelClosed
	}
	err := c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: payload.Data, MIMEType: payload.MIMEType},
	})
	if err != nil {
		return fmt.Errorf("send realtime media: %w", err)
	}
	return nil
}

func (c *geminiChannel) Receive() (Event, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		evt := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		return evt, nil
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Event{}, ErrChannelClosed
	}

	for {
		msg, err := c.session.Receive()
		if err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrChannelClosed, err)
		}
		events := decodeServerMessage(msg)
		if len(events) == 0 {
			continue
		}
		c.mu.Lock()
		c.pending = append(c.pending, events[1:]...)
		c.mu.Unlock()
		return events[0], nil
	}
}

func (c *geminiChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.session.Close()
}

func (c *geminiChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// decodeServerMessage flattens one wire message into the closed Event
// union. Unknown or empty parts are dropped here so the engine never has
// to guess on optional fields.
func decodeServerMessage(msg *genai.LiveServerMessage) []Event {
	if msg == nil {
		return nil
	}
	var events []Event
	if sc := msg.ServerContent; sc != nil && sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				events = append(events, Event{Kind: KindAudioChunk, Audio: part.InlineData.Data})
			}
			if part.Text != "" {
				events = append(events, Event{Kind: KindTextFragment, Text: part.Text})
			}
		}
	}
	if tc := msg.ToolCall; tc != nil {
		for _, call := range tc.FunctionCalls {
			if call == nil || call.Name == "" {
				continue
			}
			events = append(events, Event{Kind: KindToolCall, ToolName: call.Name})
		}
	}
	return events
}
