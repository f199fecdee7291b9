package camera

import (
	"bytes"
	"time"
)

// Frame is one encoded image captured from the device's sensor. The buffer is
// reused cycle to cycle: Reset between cycles, refill on the next capture.
// Collaborators that need to keep the image past the cycle must copy Bytes.
type Frame struct {
	buf     bytes.Buffer
	takenAt time.Time
}

// Load replaces the frame contents with data captured at t.
func (f *Frame) Load(data []byte, t time.Time) {
	f.buf.Reset()
	f.buf.Write(data)
	f.takenAt = t
}

// Bytes returns the encoded image. The slice is only valid until the next
// Load or Reset.
func (f *Frame) Bytes() []byte {
	return f.buf.Bytes()
}

// TakenAt returns the capture timestamp of the current contents.
func (f *Frame) TakenAt() time.Time {
	return f.takenAt
}

// Len returns the size of the encoded image in bytes.
func (f *Frame) Len() int {
	return f.buf.Len()
}

// Reset empties the frame for reuse without releasing its storage.
func (f *Frame) Reset() {
	f.buf.Reset()
	f.takenAt = time.Time{}
}
