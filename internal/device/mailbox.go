package device

import (
	"sync"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// LiveFrame is one tracked update from the sensor bridge.
type LiveFrame struct {
	// Timestamp in milliseconds.
	Timestamp       float64
	CameraTransform xmath.Mat4
	Projection      xmath.Mat4
	LightIntensity  float64
}

// Image is an encoded passthrough image.
type Image struct {
	// Data is the base64-encoded JPEG.
	Data   string
	Width  int
	Height int
}

// Mailbox is the single-slot handoff between the bridge goroutine and the
// scheduler. Writers overwrite; the reader takes the latest. There is no
// backpressure.
type Mailbox struct {
	mu        sync.Mutex
	frame     LiveFrame
	frameSeq  uint64
	image     Image
	imageSeq  uint64
	readFrame uint64
	readImage uint64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// PutFrame overwrites the pose slot. Safe from any goroutine.
func (m *Mailbox) PutFrame(f LiveFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = f
	m.frameSeq++
}

// PutImage overwrites the image slot. Safe from any goroutine.
func (m *Mailbox) PutImage(img Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = img
	m.imageSeq++
}

// Take returns the latest frame and whether it is new since the previous
// Take, plus the image only if one arrived since the previous Take.
func (m *Mailbox) Take() (LiveFrame, bool, *Image) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := m.frameSeq != m.readFrame
	m.readFrame = m.frameSeq

	var img *Image
	if m.imageSeq != m.readImage {
		cp := m.image
		img = &cp
		m.readImage = m.imageSeq
	}
	return m.frame, fresh && m.frameSeq > 0, img
}

// Pending reports whether an unread frame is waiting.
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameSeq != m.readFrame
}
