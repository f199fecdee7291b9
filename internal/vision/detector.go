package vision

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gocv.io/x/gocv"

	"github.com/icr-ctl/scrubcam/internal/config"
	"github.com/icr-ctl/scrubcam/internal/logger"
)

// DetectionThreshold is the base confidence below which the network's raw
// outputs are discarded entirely. The recording gate applies its own, stricter
// threshold on top of this.
const DetectionThreshold = 0.5

// reportLimit caps how many detections PrintReport logs per frame.
const reportLimit = 3

// FrameRecorder receives a record of every frame the detector persists.
type FrameRecorder interface {
	RecordFrame(path string, takenAt time.Time, lboxes []Detection) (int64, error)
}

// Detector runs object-detection inference on encoded frames. Infer populates
// internal state; LabeledBoxes returns the result of the most recent call,
// ordered by descending confidence.
type Detector struct {
	net       gocv.Net
	classes   []string
	recordDir string
	recorder  FrameRecorder
	logger    *logger.Logger

	lboxes    []Detection
	lastFrame []byte
}

// NewDetector loads the DNN model, its graph config and the class label file
// named by the configuration.
func NewDetector(cfg *config.Config, log *logger.Logger) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if _, err := os.Stat(cfg.ModelConfigPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model config file not found: %s", cfg.ModelConfigPath)
	}

	classes, err := readClasses(cfg.ClassesPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ModelConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", cfg.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		return nil, fmt.Errorf("failed to set network backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		return nil, fmt.Errorf("failed to set network target: %w", err)
	}

	log.Info("Detection network initialized with %d classes", len(classes))

	return &Detector{
		net:       net,
		classes:   classes,
		recordDir: cfg.RecordDir,
		logger:    log,
	}, nil
}

// AttachRecorder makes the detector record every persisted frame with r.
func (d *Detector) AttachRecorder(r FrameRecorder) {
	d.recorder = r
}

// Infer runs the network on one encoded frame and stores the resulting
// labeled boxes, ordered by descending confidence.
func (d *Detector) Infer(frame []byte) error {
	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return fmt.Errorf("decoded frame is empty")
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	d.lboxes = d.lboxes[:0]

	outputReshaped := output.Reshape(1, output.Total()/7)
	defer outputReshaped.Close()
	for i := 0; i < outputReshaped.Rows(); i++ {
		confidence := float64(outputReshaped.GetFloatAt(i, 2))
		if confidence <= DetectionThreshold {
			continue
		}

		classID := int(outputReshaped.GetFloatAt(i, 1))
		x := int(outputReshaped.GetFloatAt(i, 3) * float32(mat.Cols()))
		y := int(outputReshaped.GetFloatAt(i, 4) * float32(mat.Rows()))
		width := int(outputReshaped.GetFloatAt(i, 5)*float32(mat.Cols())) - x
		height := int(outputReshaped.GetFloatAt(i, 6)*float32(mat.Rows())) - y

		d.lboxes = append(d.lboxes, Detection{
			ClassName:  d.classLabel(classID),
			Confidence: confidence,
			Box:        Box{X: x, Y: y, Width: width, Height: height},
		})
	}

	SortByConfidence(d.lboxes)

	d.lastFrame = append(d.lastFrame[:0], frame...)
	return nil
}

// LabeledBoxes returns the detections from the most recent Infer call.
func (d *Detector) LabeledBoxes() []Detection {
	return d.lboxes
}

// PrintReport logs a human-readable summary of the current detections.
func (d *Detector) PrintReport() {
	if len(d.lboxes) == 0 {
		d.logger.Info("No detections")
		return
	}
	for i, lbox := range d.lboxes {
		if i >= reportLimit {
			break
		}
		d.logger.Info("Detected %s (%.2f)", lbox.ClassName, lbox.Confidence)
	}
}

// SaveCurrentFrame writes a frame to the record directory as a timestamped
// JPEG and, when a recorder is attached, records it together with its labeled
// boxes. A nil frameOverride persists the frame from the most recent Infer.
func (d *Detector) SaveCurrentFrame(frameOverride []byte, lboxes []Detection) error {
	frame := frameOverride
	if frame == nil {
		frame = d.lastFrame
	}
	if len(frame) == 0 {
		return fmt.Errorf("no frame to save")
	}

	if err := os.MkdirAll(d.recordDir, 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	takenAt := time.Now()
	topClass := "none"
	if len(lboxes) > 0 {
		topClass = lboxes[0].ClassName
	}
	filename := fmt.Sprintf("%s_%s.jpg", takenAt.Format("2006-01-02_15-04-05"), topClass)
	fullpath := filepath.Join(d.recordDir, filename)

	if err := os.WriteFile(fullpath, frame, 0644); err != nil {
		return fmt.Errorf("failed to save frame %s: %w", filename, err)
	}
	d.logger.Info("Saved frame %s", filename)

	if d.recorder != nil {
		if _, err := d.recorder.RecordFrame(fullpath, takenAt, lboxes); err != nil {
			return fmt.Errorf("failed to archive frame %s: %w", filename, err)
		}
	}
	return nil
}

// Close releases the network.
func (d *Detector) Close() error {
	return d.net.Close()
}

func (d *Detector) classLabel(classID int) string {
	// SSD class ids are 1-based indexes into the label file.
	if classID >= 1 && classID <= len(d.classes) {
		return d.classes[classID-1]
	}
	return fmt.Sprintf("class_%d", classID)
}

// SortByConfidence orders lboxes by descending confidence in place, so that
// index 0 is the top detection.
func SortByConfidence(lboxes []Detection) {
	sort.SliceStable(lboxes, func(i, j int) bool {
		return lboxes[i].Confidence > lboxes[j].Confidence
	})
}

// readClasses loads class labels from a text file, one label per line.
func readClasses(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open classes file: %w", err)
	}
	defer file.Close()

	var classes []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			classes = append(classes, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read classes file: %w", err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("classes file %s is empty", path)
	}
	return classes, nil
}
