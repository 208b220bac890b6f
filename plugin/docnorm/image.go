package docnorm

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
)

func decodeImage(r io.Reader) (*Frame, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(ErrUndecodable, "failed to decode image: %v", err)
	}
	return newFrame(scaleDown(img)), nil
}

func decodeImageFile(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrUndecodable, "failed to open image: %v", err)
	}
	defer f.Close()
	return decodeImage(f)
}

// scaleDown resizes the image so the longer side equals MaxDim, preserving
// aspect ratio, using Catmull-Rom filtering for text readability. Images
// already within bounds are returned unchanged.
func scaleDown(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= MaxDim && h <= MaxDim {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = MaxDim
		nh = h * MaxDim / w
	} else {
		nh = MaxDim
		nw = w * MaxDim / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)
	return dst
}
