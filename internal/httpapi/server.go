// Package httpapi exposes the control plane: session lifecycle, frame
// upload and the viewer endpoints, all under the flat JSON envelope the
// bundled web client expects.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mfalcone/glimpse/internal/audio"
	"github.com/mfalcone/glimpse/internal/config"
	"github.com/mfalcone/glimpse/internal/controller"
	"github.com/mfalcone/glimpse/internal/engine"
	"github.com/mfalcone/glimpse/internal/media"
	"github.com/mfalcone/glimpse/internal/model"
	"github.com/mfalcone/glimpse/internal/observability"
)

const (
	maxUploadBytes  = 8 << 20
	framePushPeriod = 100 * time.Millisecond
	wsWriteDeadline = 5 * time.Second
)

type Server struct {
	cfg      config.Config
	ctrl     *controller.Controller
	metrics  *observability.Metrics
	limiter  *rateLimiter
	upgrader websocket.Upgrader
}

func New(cfg config.Config, ctrl *controller.Controller, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		metrics: metrics,
		limiter: newRateLimiter(cfg.RateLimitInterval),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers get the frame stream unless
				// explicitly opened up. Non-browser clients omit Origin
				// and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/start", s.limited("start", s.handleStart))
	r.Post("/pause", s.limited("pause", s.handlePause))
	r.Post("/resume", s.limited("resume", s.handleResume))
	r.Post("/stop", s.limited("stop", s.handleStop))

	r.Get("/status", s.handleStatus)
	r.Post("/say", s.handleSay)
	r.Get("/transcript", s.handleTranscript)
	r.Get("/audio", s.handleAudio)

	// Viewer endpoints stay responsive regardless of how often the
	// control buttons are mashed, so no limiter here.
	r.Get("/frame", s.handleFrame)
	r.Post("/upload_frame", s.handleUploadFrame)
	r.Get("/ws/frames", s.handleFrameWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// limited wraps a lifecycle handler with the per-endpoint interval check.
func (s *Server) limited(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(endpoint) {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded, try again shortly")
			return
		}
		next(w, r)
	}
}

type startRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil {
		// An empty body means the default mode; malformed JSON does not.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	mode, err := engine.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ctrl.Start(mode); err != nil {
		if errors.Is(err, controller.ErrSessionRunning) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		var openErr *model.OpenError
		if errors.As(err, &openErr) {
			respondError(w, http.StatusInternalServerError, "could not reach the model backend")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(w, "session started in "+string(mode)+" mode")
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Pause(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondSuccess(w, "session paused")
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Resume(); err != nil {
		if errors.Is(err, controller.ErrNotPaused) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(w, "session resumed")
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondSuccess(w, "session stopped")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state, mode := s.ctrl.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"status": string(state),
		"mode":   string(mode),
	})
}

type sayRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSay(w http.ResponseWriter, r *http.Request) {
	var req sayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.ctrl.Say(req.Text); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondSuccess(w, "text queued")
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	lines, err := s.ctrl.Transcript()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"transcript": lines,
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, _ *http.Request) {
	pcm, err := s.ctrl.ReceivedAudio()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(pcm) == 0 {
		respondError(w, http.StatusNotFound, "no audio received yet")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	if err := audio.WriteWAVPCM16(w, pcm, audio.PlaybackSampleRate); err != nil {
		log.Printf("audio response write failed: %v", err)
	}
}

// handleFrame serves the latest viewer frame. It never queues behind the
// limiter: a browser polling it must get a frame or a clean error.
func (s *Server) handleFrame(w http.ResponseWriter, _ *http.Request) {
	jpeg, ok := s.ctrl.LatestFrame()
	if !ok {
		respondError(w, http.StatusInternalServerError, "no frame available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(jpeg)
}

func (s *Server) handleUploadFrame(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "expected multipart form upload")
		return
	}
	file, _, err := r.FormFile("frame")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing frame field")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not read frame")
		return
	}
	img, err := media.DecodeJPEG(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "frame is not a decodable image")
		return
	}

	if err := s.ctrl.SubmitFrame(img, raw); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondSuccess(w, "frame accepted")
}

// handleFrameWS pushes the latest viewer frame over a websocket at a
// fixed cadence, skipping pushes while the frame is unchanged.
func (s *Server) handleFrameWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("frame websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain client messages so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(framePushPeriod)
	defer ticker.Stop()

	// LatestFrame hands back a fresh copy, so holding on to it is safe.
	var last []byte
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			jpeg, ok := s.ctrl.LatestFrame()
			if !ok || bytes.Equal(jpeg, last) {
				continue
			}
			last = jpeg
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.BinaryMessage, jpeg); err != nil {
				return
			}
		}
	}
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondSuccess(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusOK, envelope{Status: "success", Message: message})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, envelope{Status: "error", Message: message})
}
