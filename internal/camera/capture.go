package camera

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/icr-ctl/scrubcam/internal/config"
	"github.com/icr-ctl/scrubcam/internal/logger"
)

// Capture owns the capture device and produces an infinite sequence of JPEG
// frames with blocking pull semantics. It is not safe for concurrent use; the
// dispatch loop is its only caller.
type Capture struct {
	vc       *gocv.VideoCapture
	mat      gocv.Mat
	rotated  gocv.Mat
	rotation int
	logger   *logger.Logger
}

// Open opens the capture device and applies the configured resolution. The
// configured rotation is applied per frame.
func Open(cfg *config.Config, log *logger.Logger) (*Capture, error) {
	vc, err := gocv.OpenVideoCapture(cfg.CameraDeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %d: %w", cfg.CameraDeviceID, err)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.CameraResolution[0]))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.CameraResolution[1]))

	log.Info("Capture device %d opened at %dx%d, rotation %d",
		cfg.CameraDeviceID, cfg.CameraResolution[0], cfg.CameraResolution[1], cfg.CameraRotation)

	return &Capture{
		vc:       vc,
		mat:      gocv.NewMat(),
		rotated:  gocv.NewMat(),
		rotation: cfg.CameraRotation,
		logger:   log,
	}, nil
}

// NextFrame blocks until the next frame is available and loads it into f as
// JPEG. It returns the context's error if cancellation arrives first.
func (c *Capture) NextFrame(ctx context.Context, f *Frame) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if ok := c.vc.Read(&c.mat); !ok {
			return fmt.Errorf("capture device closed")
		}
		if c.mat.Empty() {
			continue
		}

		out := &c.mat
		if flag, rotate := rotateFlag(c.rotation); rotate {
			gocv.Rotate(c.mat, &c.rotated, flag)
			out = &c.rotated
		}

		buf, err := gocv.IMEncode(".jpg", *out)
		if err != nil {
			return fmt.Errorf("failed to encode frame: %w", err)
		}
		f.Load(buf.GetBytes(), time.Now())
		buf.Close()
		return nil
	}
}

// Close releases the capture device and its working buffers.
func (c *Capture) Close() error {
	c.mat.Close()
	c.rotated.Close()
	return c.vc.Close()
}

func rotateFlag(degrees int) (gocv.RotateFlag, bool) {
	switch degrees {
	case 90:
		return gocv.Rotate90Clockwise, true
	case 180:
		return gocv.Rotate180Clockwise, true
	case 270:
		return gocv.Rotate90CounterClockwise, true
	default:
		return 0, false
	}
}
