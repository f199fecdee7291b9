package vision

// Box is a detection bounding box in pixel coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection represents one detected object in a frame: a labeled box.
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// ClassNames returns the set of class names present across all detections.
func ClassNames(lboxes []Detection) map[string]bool {
	names := make(map[string]bool, len(lboxes))
	for _, lbox := range lboxes {
		names[lbox.ClassName] = true
	}
	return names
}
