package bridge

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
)

// DefaultVideoFrameSkip encodes one camera image every four updates.
const DefaultVideoFrameSkip = 4

// DefaultJPEGQuality is the encoder quality for passthrough images.
const DefaultJPEGQuality = 75

// ErrEmptyImage is returned for zero-sized images or viewports.
var ErrEmptyImage = errors.New("empty image or viewport")

// FrameProcessor throttles and encodes passthrough images. The throttle is
// a plain update counter: an image is encoded when the counter is a
// multiple of the skip factor and camera access was requested.
//
// Not safe for concurrent use; the coordinator calls ShouldProcess from its
// update loop only. Encode is a pure function and may run anywhere.
type FrameProcessor struct {
	skip    int
	quality int
	counter int
}

// NewFrameProcessor creates a processor. skip < 1 uses the default.
func NewFrameProcessor(skip int) *FrameProcessor {
	if skip < 1 {
		skip = DefaultVideoFrameSkip
	}
	return &FrameProcessor{skip: skip, quality: DefaultJPEGQuality}
}

// ShouldProcess counts one update and reports whether its image should be
// encoded.
func (p *FrameProcessor) ShouldProcess(cameraAccess bool) bool {
	p.counter++
	return cameraAccess && p.counter%p.skip == 0
}

// Encode center-crops img to the viewport aspect, halves its resolution and
// returns it as base64 JPEG.
func (p *FrameProcessor) Encode(img image.Image, viewportW, viewportH int) (device.Image, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 || viewportW <= 0 || viewportH <= 0 {
		return device.Image{}, ErrEmptyImage
	}

	crop := CenterCrop(b, float64(viewportW)/float64(viewportH))
	w, h := crop.Dx()/2, crop.Dy()/2
	if w == 0 || h == 0 {
		return device.Image{}, ErrEmptyImage
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.quality}); err != nil {
		return device.Image{}, fmt.Errorf("jpeg encode: %w", err)
	}
	return device.Image{
		Data:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:  w,
		Height: h,
	}, nil
}

// CenterCrop returns the largest centered rectangle inside b with the given
// width/height aspect.
func CenterCrop(b image.Rectangle, aspect float64) image.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	if w/h > aspect {
		nw := int(h * aspect)
		x0 := b.Min.X + (b.Dx()-nw)/2
		return image.Rect(x0, b.Min.Y, x0+nw, b.Max.Y)
	}
	nh := int(w / aspect)
	y0 := b.Min.Y + (b.Dy()-nh)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+nh)
}
