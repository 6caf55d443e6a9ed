// Package render turns an uploaded document into model-ready pages. PDF
// documents are split into per-page text payloads; single images pass
// through as one image page.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	pdflib "github.com/ledongthuc/pdf"

	"github.com/billscan/billscan/internal/llm"
	"github.com/billscan/billscan/internal/logger"
)

var (
	// ErrTooManyPages means the document exceeds the configured page cap.
	ErrTooManyPages = errors.New("document exceeds page limit")

	// ErrTooLarge means the raw payload exceeds the configured byte cap.
	ErrTooLarge = errors.New("document exceeds size limit")

	// ErrUnreadable means the payload was recognized but could not be
	// decoded into any pages.
	ErrUnreadable = errors.New("document could not be read")

	// ErrUnsupported means the payload is neither a PDF nor a supported
	// image format.
	ErrUnsupported = errors.New("unsupported document format")
)

// Limits bounds what a single document may contain.
type Limits struct {
	MaxPages int
	MaxBytes int64
}

var supportedImageMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// Render sniffs the payload format and produces the page sequence for
// extraction. Page numbers are 1-based and contiguous.
func Render(data []byte, limits Limits) ([]llm.Page, error) {
	if len(data) == 0 {
		return nil, ErrUnreadable
	}
	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		return nil, fmt.Errorf("%w: %s > %s", ErrTooLarge,
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(limits.MaxBytes)))
	}

	mime := DetectMIME(data)
	switch {
	case mime == "application/pdf":
		return renderPDF(data, limits)
	case supportedImageMIME[mime]:
		logger.Debug("rendering single image page",
			"mime", mime, "size", humanize.IBytes(uint64(len(data))))
		return []llm.Page{{Number: 1, MIME: mime, Data: data}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mime)
	}
}

// DetectMIME sniffs the payload's content type. http.DetectContentType
// does not know PDF, so the magic header is checked first.
func DetectMIME(data []byte) string {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return "application/pdf"
	}
	mime := http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

func renderPDF(data []byte, limits Limits) ([]llm.Page, error) {
	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrUnreadable)
	}
	if limits.MaxPages > 0 && numPages > limits.MaxPages {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPages, numPages, limits.MaxPages)
	}

	pages := make([]llm.Page, 0, numPages)
	readable := 0
	for i := 1; i <= numPages; i++ {
		text := ""
		page := reader.Page(i)
		if !page.V.IsNull() {
			if extracted, err := page.GetPlainText(nil); err == nil {
				text = strings.TrimSpace(extracted)
			}
		}
		if text != "" {
			readable++
		}
		// Unreadable pages still occupy their slot so numbering stays
		// document-wide.
		pages = append(pages, llm.Page{Number: i, Text: text})
	}

	if readable == 0 {
		return nil, fmt.Errorf("%w: no extractable text in %d pages", ErrUnreadable, numPages)
	}

	logger.Debug("rendered pdf",
		"pages", numPages,
		"readable", readable,
		"size", humanize.IBytes(uint64(len(data))))
	return pages, nil
}
