package docnorm

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
)

const jpegQuality = 85

// Frame is one normalized raster image derived from a source document page.
// A frame is ephemeral: it is owned by the caller for the duration of one
// inference call and must be released immediately after.
type Frame struct {
	Width  int
	Height int

	img image.Image
}

func newFrame(img image.Image) *Frame {
	bounds := img.Bounds()
	return &Frame{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		img:    img,
	}
}

// Released reports whether the pixel buffer has been dropped.
func (f *Frame) Released() bool {
	return f.img == nil
}

// Release drops the pixel buffer. Safe to call more than once.
func (f *Frame) Release() {
	f.img = nil
}

// JPEG encodes the frame for transport to the inference collaborator.
func (f *Frame) JPEG() ([]byte, error) {
	if f.img == nil {
		return nil, errors.New("frame already released")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.Wrap(err, "failed to encode frame")
	}
	return buf.Bytes(), nil
}

// ReleaseAll releases every frame in the slice.
func ReleaseAll(frames []*Frame) {
	for _, f := range frames {
		f.Release()
	}
}
