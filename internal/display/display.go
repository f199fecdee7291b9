// Package display renders the on-device preview of the current frame with its
// detections drawn on top. It is only constructed when the device is not
// running headless.
package display

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/icr-ctl/scrubcam/internal/logger"
	"github.com/icr-ctl/scrubcam/internal/vision"
)

var boxColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}

// Display owns the preview window.
type Display struct {
	window *gocv.Window
	logger *logger.Logger
}

// New opens the preview window.
func New(log *logger.Logger) *Display {
	return &Display{
		window: gocv.NewWindow("ScrubCam"),
		logger: log,
	}
}

// Update draws the labeled boxes onto the frame and shows it.
func (d *Display) Update(frame []byte, lboxes []vision.Detection) error {
	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	defer mat.Close()

	for _, lbox := range lboxes {
		rect := image.Rect(lbox.Box.X, lbox.Box.Y, lbox.Box.X+lbox.Box.Width, lbox.Box.Y+lbox.Box.Height)
		if err := gocv.Rectangle(&mat, rect, boxColor, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s (%.2f)", lbox.ClassName, lbox.Confidence)
		pt := image.Pt(lbox.Box.X, lbox.Box.Y-5)
		if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, boxColor, 1); err != nil {
			return fmt.Errorf("failed to draw label: %w", err)
		}
	}

	d.window.IMShow(mat)
	d.window.WaitKey(1)
	return nil
}

// Close destroys the preview window.
func (d *Display) Close() error {
	return d.window.Close()
}
