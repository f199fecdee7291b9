// Package dispatch contains the control loop of the field camera: capture a
// frame, run inference, decide what the detections warrant, and drive the
// collaborators that persist, transmit and alert on the result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/icr-ctl/scrubcam/internal/camera"
	"github.com/icr-ctl/scrubcam/internal/config"
	"github.com/icr-ctl/scrubcam/internal/logger"
	"github.com/icr-ctl/scrubcam/internal/vision"
)

// FrameSource produces the infinite sequence of captured frames.
type FrameSource interface {
	NextFrame(ctx context.Context, f *camera.Frame) error
}

// Detector runs inference and persists frames.
type Detector interface {
	Infer(frame []byte) error
	LabeledBoxes() []vision.Detection
	PrintReport()
	SaveCurrentFrame(frameOverride []byte, lboxes []vision.Detection) error
}

// Collector is the remote-server link.
type Collector interface {
	SendHeartbeat() error
	SendImageAndBoxes(frame []byte, lboxes []vision.Detection) error
	Close() error
}

// Display is the optional on-device preview.
type Display interface {
	Update(frame []byte, lboxes []vision.Detection) error
}

// Radio is the optional low-bandwidth alert channel.
type Radio interface {
	Send(text string) error
}

// Sightings appends to the durable sighting log.
type Sightings interface {
	Append(t time.Time, topClass string) error
}

// Deps are the collaborators the loop drives. Collector, Display and Radio
// are optional: leave them nil when the corresponding feature is off. A nil
// Clock selects the wall clock.
type Deps struct {
	Source    FrameSource
	Detector  Detector
	Collector Collector
	Display   Display
	Radio     Radio
	Sightings Sightings
	Logger    *logger.Logger
	Clock     clock.Clock
}

// Loop owns the capture device and executes one synchronous cycle per frame.
type Loop struct {
	policy    Policy
	source    FrameSource
	detector  Detector
	collector Collector
	display   Display
	radio     Radio
	sightings Sightings
	heartbeat *Heartbeat
	clk       clock.Clock
	logger    *logger.Logger
}

// New builds the loop from the immutable configuration and its collaborators.
func New(cfg *config.Config, deps Deps) *Loop {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		policy: Policy{
			Record:        cfg.Record,
			ConfThreshold: cfg.RecordConfThreshold,
			FilterClasses: cfg.FilterClasses,
		},
		source:    deps.Source,
		detector:  deps.Detector,
		collector: deps.Collector,
		display:   deps.Display,
		radio:     deps.Radio,
		sightings: deps.Sightings,
		heartbeat: NewHeartbeat(clk),
		clk:       clk,
		logger:    deps.Logger,
	}
}

// Run drives the loop until ctx is cancelled. Cancellation is the normal way
// to stop: it closes the collector link and returns nil. Any collaborator
// failure aborts the run with its error; there is no retry.
func (l *Loop) Run(ctx context.Context) error {
	frame := &camera.Frame{}

	for {
		if ctx.Err() != nil {
			return l.shutdown()
		}

		if err := l.source.NextFrame(ctx, frame); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return l.shutdown()
			}
			return fmt.Errorf("capture: %w", err)
		}

		// Checked at cycle start so a slow inference call cannot starve
		// the collector of heartbeats.
		if l.collector != nil && l.heartbeat.Due() {
			if err := l.collector.SendHeartbeat(); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
			l.heartbeat.Reset()
		}

		if err := l.detector.Infer(frame.Bytes()); err != nil {
			return fmt.Errorf("inference: %w", err)
		}
		lboxes := l.detector.LabeledBoxes()
		l.detector.PrintReport()

		if l.display != nil {
			if err := l.display.Update(frame.Bytes(), lboxes); err != nil {
				return fmt.Errorf("display: %w", err)
			}
		}

		if err := l.dispatch(frame, lboxes); err != nil {
			return err
		}

		frame.Reset()
	}
}

// dispatch executes the side effects the verdict calls for, in fixed order:
// network send, frame persistence, radio alert, sighting-log append.
func (l *Loop) dispatch(frame *camera.Frame, lboxes []vision.Detection) error {
	verdict := Decide(lboxes, l.policy)
	if verdict == NoAction {
		return nil
	}

	if verdict == LogAndDispatch {
		if l.collector != nil {
			if err := l.collector.SendImageAndBoxes(frame.Bytes(), lboxes); err != nil {
				return fmt.Errorf("image send: %w", err)
			}
		}
		if err := l.detector.SaveCurrentFrame(frame.Bytes(), lboxes); err != nil {
			return fmt.Errorf("frame save: %w", err)
		}
		if l.radio != nil {
			if err := l.radio.Send("Top-1: " + lboxes[0].ClassName); err != nil {
				return fmt.Errorf("radio send: %w", err)
			}
		}
	}

	if err := l.sightings.Append(l.clk.Now(), lboxes[0].ClassName); err != nil {
		return fmt.Errorf("sighting log: %w", err)
	}
	return nil
}

// shutdown performs the orderly stop after a cancellation signal.
func (l *Loop) shutdown() error {
	l.logger.Warning("Interrupt received, shutting down")
	if l.collector != nil {
		if err := l.collector.Close(); err != nil {
			l.logger.Error("Failed to close collector connection: %v", err)
		}
	}
	return nil
}
