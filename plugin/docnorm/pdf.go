package docnorm

import (
	"image"

	"github.com/gen2brain/go-fitz"
)

// pageRenderer abstracts the PDF rendering backend so normalization logic can
// be tested without MuPDF.
type pageRenderer interface {
	NumPages() int
	RenderPage(index int) (image.Image, error)
	Close() error
}

// openRenderer is swapped out in tests.
var openRenderer = func(path string) (pageRenderer, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &fitzRenderer{doc: doc}, nil
}

type fitzRenderer struct {
	doc *fitz.Document
}

func (r *fitzRenderer) NumPages() int {
	return r.doc.NumPage()
}

func (r *fitzRenderer) RenderPage(index int) (image.Image, error) {
	return r.doc.Image(index)
}

func (r *fitzRenderer) Close() error {
	return r.doc.Close()
}
