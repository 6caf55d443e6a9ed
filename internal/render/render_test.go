package render

import (
	"errors"
	"testing"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestRender_ImagePassthrough(t *testing.T) {
	pages, err := Render(pngHeader, Limits{MaxPages: 10, MaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	page := pages[0]
	if page.Number != 1 || page.MIME != "image/png" || !page.IsImage() {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestRender_UnsupportedFormat(t *testing.T) {
	_, err := Render([]byte("just some plain text"), Limits{})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestRender_EmptyPayload(t *testing.T) {
	_, err := Render(nil, Limits{})
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
}

func TestRender_SizeCap(t *testing.T) {
	big := make([]byte, 256)
	copy(big, pngHeader)
	_, err := Render(big, Limits{MaxBytes: 100})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestRender_CorruptPDF(t *testing.T) {
	_, err := Render([]byte("%PDF-1.7 but nothing else"), Limits{})
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
}

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf magic", []byte("%PDF-1.4\n"), "application/pdf"},
		{"png", pngHeader, "image/png"},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0}, "image/jpeg"},
		{"text", []byte("hello world"), "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMIME(tt.data); got != tt.want {
				t.Errorf("DetectMIME = %q, want %q", got, tt.want)
			}
		})
	}
}
