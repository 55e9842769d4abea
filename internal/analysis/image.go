package analysis

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// renderPDF renders the first page of a PDF as an image
func renderPDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEIC checks the ftyp box brand used by iPhone photos
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// mediaType normalizes the declared content type, sniffing the bytes when nothing useful was declared
func mediaType(data []byte, contentType string) string {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if isHEIC(data) || strings.Contains(mt, "heic") || strings.Contains(mt, "heif") {
		return "image/heic"
	}
	if mt == "" || mt == "application/octet-stream" {
		return http.DetectContentType(data)
	}
	return mt
}

// preparePNG converts a receipt upload (PDF, HEIC, JPEG, GIF or PNG) into PNG bytes,
// the single format every analyzer backend is sent.
func preparePNG(data []byte, contentType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)

	switch mt := mediaType(data, contentType); mt {
	case "image/png":
		return data, nil
	case "application/pdf":
		img, err = renderPDF(data)
	case "image/heic":
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("unsupported image format %q (supported: JPEG, PNG, GIF, HEIC, PDF): %w", mt, err)
		}
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
