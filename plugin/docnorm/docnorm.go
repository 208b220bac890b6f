// Package docnorm turns an uploaded medical document into a bounded, ordered
// sequence of raster frames suitable for vision inference. Single images are
// decoded and capped at MaxDim on the longer side; PDFs are rendered page by
// page up to MaxPages at native resolution.
package docnorm

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ashaai/navigator/internal/filestore"
)

const (
	// MaxPages caps the multi-page expansion of a document.
	MaxPages = 10
	// MaxDim caps the longer side of a single-image frame.
	MaxDim = 768
)

// Ingestion errors abort the analysis turn before any inference call.
var (
	// ErrNoPages indicates the document contains zero renderable pages.
	ErrNoPages = errors.New("document has no pages")
	// ErrUndecodable indicates the document or one of its pages could not be decoded.
	ErrUndecodable = errors.New("undecodable document")
)

// IsIngestionError reports whether the error originates from document ingestion.
func IsIngestionError(err error) bool {
	return errors.Is(err, ErrNoPages) || errors.Is(err, ErrUndecodable)
}

// Kind describes the content kind of a source document.
type Kind string

const (
	KindImage Kind = "IMAGE"
	KindPDF   Kind = "PDF"
)

// KindForContentType derives the document kind from a declared content type.
func KindForContentType(contentType string) Kind {
	if strings.Contains(contentType, "pdf") {
		return KindPDF
	}
	return KindImage
}

// KindForPath derives the document kind from a file path extension.
func KindForPath(path string) Kind {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return KindPDF
	}
	return KindImage
}

// Handle is an opaque reference to source document content.
type Handle struct {
	Reader      io.Reader
	ContentType string
	Size        int64
}

// Kind returns the content kind declared by the handle.
func (h *Handle) Kind() Kind {
	return KindForContentType(h.ContentType)
}

// Normalizer converts document handles and durable copies into frames.
type Normalizer struct {
	files  *filestore.Manager
	logger *slog.Logger
}

// New creates a Normalizer using the given file manager for scoped temp copies.
func New(files *filestore.Manager, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{files: files, logger: logger}
}

// Normalize reads the handle and emits at most MaxPages frames in page order.
// Any temporary copy made to decode is removed before Normalize returns, on
// both success and failure paths. On any page failure the whole normalization
// aborts and no partial frame set is returned.
func (n *Normalizer) Normalize(ctx context.Context, handle *Handle) ([]*Frame, error) {
	switch handle.Kind() {
	case KindPDF:
		// The page renderer works on a file path, so spill the handle to a
		// scoped temp copy first.
		path, cleanup, err := n.files.TempCopy(handle.Reader, "pdf")
		if err != nil {
			return nil, err
		}
		defer cleanup()
		return n.renderPDF(ctx, path)
	default:
		frame, err := decodeImage(handle.Reader)
		if err != nil {
			return nil, err
		}
		return []*Frame{frame}, nil
	}
}

// NormalizeFile re-normalizes a durable document copy. Follow-up turns use
// this instead of the original transient handle.
func (n *Normalizer) NormalizeFile(ctx context.Context, path string) ([]*Frame, error) {
	if KindForPath(path) == KindPDF {
		return n.renderPDF(ctx, path)
	}
	frame, err := decodeImageFile(path)
	if err != nil {
		return nil, err
	}
	return []*Frame{frame}, nil
}

func (n *Normalizer) renderPDF(ctx context.Context, path string) ([]*Frame, error) {
	renderer, err := openRenderer(path)
	if err != nil {
		return nil, errors.Wrapf(ErrUndecodable, "failed to open document: %v", err)
	}
	defer renderer.Close()

	pageCount := renderer.NumPages()
	if pageCount == 0 {
		return nil, ErrNoPages
	}

	total := pageCount
	if total > MaxPages {
		total = MaxPages
	}

	frames := make([]*Frame, 0, total)
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			ReleaseAll(frames)
			return nil, ctx.Err()
		default:
		}

		img, err := renderer.RenderPage(i)
		if err != nil {
			// No partial frame sets: release what was rendered and abort.
			ReleaseAll(frames)
			return nil, errors.Wrapf(ErrUndecodable, "failed to render page %d: %v", i, err)
		}
		frames = append(frames, newFrame(img))
	}

	n.logger.Debug("normalized document",
		slog.String("path", path),
		slog.Int("total_pages", pageCount),
		slog.Int("rendered_pages", len(frames)))
	return frames, nil
}
