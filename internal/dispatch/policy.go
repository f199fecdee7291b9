package dispatch

import "github.com/icr-ctl/scrubcam/internal/vision"

// Verdict is the decision the loop takes for one cycle's detections.
type Verdict int

const (
	// NoAction: nothing qualifies this cycle.
	NoAction Verdict = iota
	// LogOnly: append a sighting entry, no transmission or persistence.
	LogOnly
	// LogAndDispatch: transmit, persist and radio-alert, then append a
	// sighting entry.
	LogAndDispatch
)

func (v Verdict) String() string {
	switch v {
	case NoAction:
		return "NoAction"
	case LogOnly:
		return "LogOnly"
	case LogAndDispatch:
		return "LogAndDispatch"
	}
	return "Unknown"
}

// Policy is the subset of the configuration the decision depends on.
type Policy struct {
	Record        bool
	ConfThreshold float64
	FilterClasses []string
}

// Decide maps one cycle's detections to a verdict. Pure: no side effects, no
// clock, no I/O.
//
// The recording gate is a strict greater-than on the top detection's
// confidence. Filter-class matching is a case-sensitive exact match against
// any detection in the sequence, not just the top one.
func Decide(lboxes []vision.Detection, p Policy) Verdict {
	if len(lboxes) == 0 {
		return NoAction
	}
	if !p.Record || lboxes[0].Confidence <= p.ConfThreshold {
		return NoAction
	}

	detected := vision.ClassNames(lboxes)
	for _, class := range p.FilterClasses {
		if detected[class] {
			return LogAndDispatch
		}
	}
	return LogOnly
}
