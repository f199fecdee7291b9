package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/icr-ctl/scrubcam/internal/camera"
	"github.com/icr-ctl/scrubcam/internal/config"
	"github.com/icr-ctl/scrubcam/internal/logger"
	"github.com/icr-ctl/scrubcam/internal/vision"
)

// The fakes below share an event list so tests can assert the relative order
// of side effects across collaborators.

type fakeSource struct {
	frames  int
	clk     *clock.Mock
	advance time.Duration
	err     error
}

func (s *fakeSource) NextFrame(ctx context.Context, f *camera.Frame) error {
	if s.frames == 0 {
		if s.err != nil {
			return s.err
		}
		return context.Canceled
	}
	s.frames--
	if s.clk != nil && s.advance > 0 {
		s.clk.Add(s.advance)
	}
	f.Load([]byte("jpeg"), time.Now())
	return nil
}

type fakeDetector struct {
	events     *[]string
	lboxes     []vision.Detection
	clk        *clock.Mock
	inferDelay time.Duration
	saveErr    error
}

func (d *fakeDetector) Infer(frame []byte) error {
	if d.clk != nil && d.inferDelay > 0 {
		d.clk.Add(d.inferDelay)
	}
	*d.events = append(*d.events, "infer")
	return nil
}

func (d *fakeDetector) LabeledBoxes() []vision.Detection { return d.lboxes }

func (d *fakeDetector) PrintReport() {
	*d.events = append(*d.events, "report")
}

func (d *fakeDetector) SaveCurrentFrame(frameOverride []byte, lboxes []vision.Detection) error {
	if d.saveErr != nil {
		return d.saveErr
	}
	*d.events = append(*d.events, "save")
	return nil
}

type fakeCollector struct {
	events       *[]string
	heartbeatErr error
}

func (c *fakeCollector) SendHeartbeat() error {
	if c.heartbeatErr != nil {
		return c.heartbeatErr
	}
	*c.events = append(*c.events, "heartbeat")
	return nil
}

func (c *fakeCollector) SendImageAndBoxes(frame []byte, lboxes []vision.Detection) error {
	*c.events = append(*c.events, "send")
	return nil
}

func (c *fakeCollector) Close() error {
	*c.events = append(*c.events, "close")
	return nil
}

type fakeDisplay struct{ events *[]string }

func (d *fakeDisplay) Update(frame []byte, lboxes []vision.Detection) error {
	*d.events = append(*d.events, "display")
	return nil
}

type fakeRadio struct{ events *[]string }

func (r *fakeRadio) Send(text string) error {
	*r.events = append(*r.events, "radio:"+text)
	return nil
}

type fakeSightings struct {
	events *[]string
	times  []time.Time
}

func (s *fakeSightings) Append(t time.Time, topClass string) error {
	s.times = append(s.times, t)
	*s.events = append(*s.events, "log:"+topClass)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Record:              true,
		RecordConfThreshold: 0.6,
		FilterClasses:       []string{"deer", "fox"},
	}
}

func count(events []string, name string) int {
	n := 0
	for _, e := range events {
		if e == name {
			n++
		}
	}
	return n
}

func TestRun_FilterMatch_SideEffectOrder(t *testing.T) {
	var events []string
	clk := clock.NewMock()
	lboxes := []vision.Detection{
		{ClassName: "deer", Confidence: 0.8},
		{ClassName: "bird", Confidence: 0.3},
	}

	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 1},
		Detector:  &fakeDetector{events: &events, lboxes: lboxes},
		Collector: &fakeCollector{events: &events},
		Display:   &fakeDisplay{events: &events},
		Radio:     &fakeRadio{events: &events},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clk,
	})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	expected := []string{"infer", "report", "display", "send", "save", "radio:Top-1: deer", "log:deer", "close"}
	if !reflect.DeepEqual(events, expected) {
		t.Errorf("events = %v, expected %v", events, expected)
	}
}

func TestRun_NoFilterMatch_LogOnly(t *testing.T) {
	var events []string
	lboxes := []vision.Detection{{ClassName: "bird", Confidence: 0.9}}

	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 1},
		Detector:  &fakeDetector{events: &events, lboxes: lboxes},
		Collector: &fakeCollector{events: &events},
		Radio:     &fakeRadio{events: &events},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clock.NewMock(),
	})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if count(events, "log:bird") != 1 {
		t.Errorf("expected exactly one sighting entry, events = %v", events)
	}
	for _, e := range events {
		if e == "send" || e == "save" || e == "radio:Top-1: bird" {
			t.Errorf("unexpected dispatch side effect %q without a filter match", e)
		}
	}
}

func TestRun_EmptyDetections_NoSideEffects(t *testing.T) {
	var events []string

	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 3},
		Detector:  &fakeDetector{events: &events},
		Collector: &fakeCollector{events: &events},
		Radio:     &fakeRadio{events: &events},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clock.NewMock(),
	})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, e := range events {
		if e != "infer" && e != "report" && e != "close" {
			t.Errorf("unexpected side effect %q for empty detections", e)
		}
	}
}

func TestRun_RecordingDisabled_NoSideEffects(t *testing.T) {
	var events []string
	cfg := testConfig()
	cfg.Record = false
	lboxes := []vision.Detection{{ClassName: "deer", Confidence: 0.99}}

	loop := New(cfg, Deps{
		Source:    &fakeSource{frames: 1},
		Detector:  &fakeDetector{events: &events, lboxes: lboxes},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clock.NewMock(),
	})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, e := range events {
		if e != "infer" && e != "report" {
			t.Errorf("unexpected side effect %q with recording disabled", e)
		}
	}
}

func TestRun_CancellationClosesCollector(t *testing.T) {
	var events []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 0},
		Detector:  &fakeDetector{events: &events},
		Collector: &fakeCollector{events: &events},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clock.NewMock(),
	})

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run should return nil on cancellation, got %v", err)
	}
	if count(events, "close") != 1 {
		t.Errorf("collector should be closed exactly once, events = %v", events)
	}
}

func TestRun_CaptureFailurePropagates(t *testing.T) {
	var events []string

	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 0, err: fmt.Errorf("device fault")},
		Detector:  &fakeDetector{events: &events},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clock.NewMock(),
	})

	err := loop.Run(context.Background())
	if err == nil || err.Error() != "capture: device fault" {
		t.Errorf("Run = %v, expected wrapped capture fault", err)
	}
}

func TestRun_SaveFailurePropagates(t *testing.T) {
	var events []string
	lboxes := []vision.Detection{{ClassName: "deer", Confidence: 0.8}}
	saveErr := errors.New("disk full")

	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 1},
		Detector:  &fakeDetector{events: &events, lboxes: lboxes, saveErr: saveErr},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clock.NewMock(),
	})

	err := loop.Run(context.Background())
	if err == nil || !errors.Is(err, saveErr) {
		t.Errorf("Run = %v, expected wrapped save failure", err)
	}
	if count(events, "log:deer") != 0 {
		t.Error("no sighting entry should follow a failed save")
	}
}

func TestRun_HeartbeatCadence(t *testing.T) {
	var events []string
	clk := clock.NewMock()

	// 10 seconds pass while waiting for each frame; a heartbeat must fire
	// on every cycle whose start is >=15s after the previous beat.
	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 4, clk: clk, advance: 10 * time.Second},
		Detector:  &fakeDetector{events: &events},
		Collector: &fakeCollector{events: &events},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clk,
	})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// t=10 not due, t=20 beat, t=30 not due (10s since beat), t=40 beat.
	if got := count(events, "heartbeat"); got != 2 {
		t.Errorf("heartbeats = %d, expected 2; events = %v", got, events)
	}
}

func TestRun_HeartbeatSurvivesSlowInference(t *testing.T) {
	var events []string
	clk := clock.NewMock()

	// Each inference call takes 20 seconds. The cycle-start check must still
	// fire a heartbeat on every cycle after the first.
	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 3},
		Detector:  &fakeDetector{events: &events, clk: clk, inferDelay: 20 * time.Second},
		Collector: &fakeCollector{events: &events},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clk,
	})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := count(events, "heartbeat"); got != 2 {
		t.Errorf("heartbeats = %d, expected 2; events = %v", got, events)
	}
}

func TestRun_HeartbeatFailurePropagates(t *testing.T) {
	var events []string
	clk := clock.NewMock()
	hbErr := errors.New("connection reset")

	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 2, clk: clk, advance: 20 * time.Second},
		Detector:  &fakeDetector{events: &events},
		Collector: &fakeCollector{events: &events, heartbeatErr: hbErr},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clk,
	})

	err := loop.Run(context.Background())
	if err == nil || !errors.Is(err, hbErr) {
		t.Errorf("Run = %v, expected wrapped heartbeat failure", err)
	}
}

func TestRun_NoOptionalCollaborators(t *testing.T) {
	var events []string
	lboxes := []vision.Detection{{ClassName: "deer", Confidence: 0.8}}

	// Collector, display and radio absent: a filter match still persists the
	// frame and appends a sighting entry.
	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 1},
		Detector:  &fakeDetector{events: &events, lboxes: lboxes},
		Sightings: &fakeSightings{events: &events},
		Logger:    logger.New(""),
		Clock:     clock.NewMock(),
	})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	expected := []string{"infer", "report", "save", "log:deer"}
	if !reflect.DeepEqual(events, expected) {
		t.Errorf("events = %v, expected %v", events, expected)
	}
}

func TestRun_SightingTimestampFromClock(t *testing.T) {
	var events []string
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 13, 37, 9, 0, time.UTC))
	sightings := &fakeSightings{events: &events}
	lboxes := []vision.Detection{{ClassName: "bird", Confidence: 0.9}}

	loop := New(testConfig(), Deps{
		Source:    &fakeSource{frames: 1},
		Detector:  &fakeDetector{events: &events, lboxes: lboxes},
		Sightings: sightings,
		Logger:    logger.New(""),
		Clock:     clk,
	})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sightings.times) != 1 || !sightings.times[0].Equal(clk.Now()) {
		t.Errorf("sighting timestamps = %v, expected the cycle's clock time", sightings.times)
	}
}
