package document

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"math"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp" // Register BMP decoder
	"golang.org/x/image/draw"
)

const jpegQuality = 85

// checkPDF makes sure the PDF can be opened and has at least one page
func checkPDF(pdfData []byte) error {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return fmt.Errorf("PDF has no pages")
	}
	return nil
}

// heicToJPEG decodes HEIC/HEIF data (common on iPhones) and re-encodes it as JPEG
func heicToJPEG(imageData []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	return encodeJPEG(img)
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files carry an ftyp box at offset 4 with a HEIC-related brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// scaleFor returns the linear scale factor that brings an image of size bytes
// down to roughly maxSize bytes, clamped to [0.1, 1]
func scaleFor(size, maxSize int) float64 {
	if size <= 0 {
		return 1
	}
	scale := math.Sqrt(float64(maxSize) / float64(size))
	return math.Max(0.1, math.Min(scale, 1))
}

// compressImage downscales an image and re-encodes it as JPEG
func compressImage(imageData []byte, maxSize int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, BMP, HEIC, HEIF: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	scale := scaleFor(len(imageData), maxSize)
	bounds := src.Bounds()
	width := max(1, int(float64(bounds.Dx())*scale))
	height := max(1, int(float64(bounds.Dy())*scale))

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	return encodeJPEG(dst)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
