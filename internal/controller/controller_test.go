package controller

import (
	"errors"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/mfalcone/glimpse/internal/engine"
	"github.com/mfalcone/glimpse/internal/media"
	"github.com/mfalcone/glimpse/internal/model"
	"github.com/mfalcone/glimpse/internal/observability"
)

// Each test registers into its own namespace so promauto never sees the
// same collector twice.
func testMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("glimpse_test_ctrl_%d", time.Now().UnixNano()))
}

func newTestController(t *testing.T) (*Controller, *model.ScriptedOpener, *media.FrameQueue) {
	t.Helper()
	opener := model.NewScriptedOpener()
	metrics := testMetrics()
	eng := engine.New(opener, nil, engine.Options{
		FrameWaitTimeout: 20 * time.Millisecond,
		StopJoinTimeout:  time.Second,
	}, metrics)
	frames := media.NewFrameQueue(5)
	return New(eng, frames, metrics), opener, frames
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestLifecycleTransitions(t *testing.T) {
	c, _, _ := newTestController(t)

	if state, mode := c.Status(); state != StateStopped || mode != engine.ModeNone {
		t.Fatalf("initial status = %s/%s, want stopped/none", state, mode)
	}

	if err := c.Start(engine.ModeCamera); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state, mode := c.Status(); state != StateRunning || mode != engine.ModeCamera {
		t.Fatalf("after start: %s/%s, want running/camera", state, mode)
	}

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if state, mode := c.Status(); state != StatePaused || mode != engine.ModeCamera {
		t.Fatalf("after pause: %s/%s, want paused/camera", state, mode)
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if state, _ := c.Status(); state != StateRunning {
		t.Fatalf("after resume: %s, want running", state)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if state, mode := c.Status(); state != StateStopped || mode != engine.ModeNone {
		t.Fatalf("after stop: %s/%s, want stopped/none", state, mode)
	}
}

func TestStartRejectedWhileRunning(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.Start(engine.ModeCamera); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(engine.ModeCamera); !errors.Is(err, ErrSessionRunning) {
		t.Fatalf("second start same mode: err = %v, want ErrSessionRunning", err)
	}
	if err := c.Start(engine.ModeScreen); !errors.Is(err, ErrSessionRunning) {
		t.Fatalf("second start other mode: err = %v, want ErrSessionRunning", err)
	}
}

func TestStartFromPausedReplacesSession(t *testing.T) {
	c, opener, _ := newTestController(t)
	if err := c.Start(engine.ModeCamera); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if err := c.Start(engine.ModeScreen); err != nil {
		t.Fatalf("Start from paused: %v", err)
	}
	defer c.Stop()

	if state, mode := c.Status(); state != StateRunning || mode != engine.ModeScreen {
		t.Fatalf("status = %s/%s, want running/screen", state, mode)
	}
	if got := len(opener.Opened()); got != 2 {
		t.Fatalf("opened channels = %d, want 2", got)
	}
}

func TestPauseResumeStopRequireMatchingState(t *testing.T) {
	c, _, _ := newTestController(t)

	if err := c.Pause(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Pause while stopped: err = %v, want ErrNoSession", err)
	}
	if err := c.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("Resume while stopped: err = %v, want ErrNotPaused", err)
	}
	if err := c.Stop(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Stop while stopped: err = %v, want ErrNoSession", err)
	}

	if err := c.Start(engine.ModeCamera); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()
	if err := c.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("Resume while running: err = %v, want ErrNotPaused", err)
	}
}

func TestFailedOpenLeavesControllerStopped(t *testing.T) {
	c, opener, _ := newTestController(t)
	opener.FailOpen(errors.New("backend unreachable"))

	err := c.Start(engine.ModeCamera)
	if err == nil {
		t.Fatal("Start succeeded despite open failure")
	}
	var openErr *model.OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("err = %v, want *model.OpenError", err)
	}
	if state, mode := c.Status(); state != StateStopped || mode != engine.ModeNone {
		t.Fatalf("status after failed open = %s/%s, want stopped/none", state, mode)
	}
}

func TestResumeStartsFreshChannel(t *testing.T) {
	c, opener, _ := newTestController(t)
	if err := c.Start(engine.ModeCamera); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !opener.Opened()[0].Closed() {
		t.Fatal("pause did not close the first channel")
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	defer c.Stop()
	if got := len(opener.Opened()); got != 2 {
		t.Fatalf("opened channels = %d, want 2", got)
	}
}

func TestSayRequiresRunningSession(t *testing.T) {
	c, opener, _ := newTestController(t)
	if err := c.Say("hello"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Say while stopped: err = %v, want ErrNoSession", err)
	}

	if err := c.Start(engine.ModeNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()
	if err := c.Say("hello"); err != nil {
		t.Fatalf("Say while running: %v", err)
	}
	ch := opener.Opened()[0]
	waitFor(t, time.Second, func() bool { return len(ch.SentTexts()) == 1 }, "text turn")
}

func TestSubmitFrameOnlyWhileRunning(t *testing.T) {
	c, _, frames := newTestController(t)
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	if err := c.SubmitFrame(img, []byte{0xff, 0xd8}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("SubmitFrame while stopped: err = %v, want ErrNoSession", err)
	}

	if err := c.Start(engine.ModeCamera); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.SubmitFrame(img, []byte{0xff, 0xd8}); err != nil {
		t.Fatalf("SubmitFrame while running: %v", err)
	}

	got, ok := c.LatestFrame()
	if !ok || len(got) != 2 {
		t.Fatalf("LatestFrame = %v/%v, want the submitted bytes", got, ok)
	}
	// The engine's media task may have already consumed the frame, so
	// only assert it is not stuck above capacity.
	if frames.Len() > 1 {
		t.Fatalf("frame queue length = %d after one submit", frames.Len())
	}
}

func TestLatestFrameEmptyBeforeAnySubmit(t *testing.T) {
	c, _, _ := newTestController(t)
	if _, ok := c.LatestFrame(); ok {
		t.Fatal("LatestFrame reported a frame before any submit")
	}
}

func TestStopClearsLatestFrame(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.Start(engine.ModeCamera); err != nil {
		t.Fatalf("Start: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	if err := c.SubmitFrame(img, []byte{1, 2, 3}); err != nil {
		t.Fatalf("SubmitFrame: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := c.LatestFrame(); ok {
		t.Fatal("LatestFrame survived Stop")
	}
}

func TestRemoteClosureRevertsToStopped(t *testing.T) {
	c, opener, _ := newTestController(t)
	if err := c.Start(engine.ModeNone); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The backend hanging up must not leave the controller claiming a
	// live session.
	opener.Opened()[0].Close()

	waitFor(t, 2*time.Second, func() bool {
		state, _ := c.Status()
		return state == StateStopped
	}, "controller to revert to stopped")
}

func TestTranscriptFollowsActiveSession(t *testing.T) {
	c, opener, _ := newTestController(t)
	if _, err := c.Transcript(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Transcript while stopped: err = %v, want ErrNoSession", err)
	}

	if err := c.Start(engine.ModeNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	opener.Opened()[0].Emit(model.Event{Kind: model.KindTextFragment, Text: "hi"})
	waitFor(t, time.Second, func() bool {
		lines, err := c.Transcript()
		return err == nil && len(lines) == 1 && lines[0] == "hi"
	}, "transcript entry")
}
