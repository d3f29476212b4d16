package document

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zombor/invoice-tracker/internal/apperror"
)

const (
	// DefaultMaxImageSize is the largest image sent to the provider as-is.
	// Larger images are downscaled and re-encoded as JPEG.
	DefaultMaxImageSize = 4 << 20 // 4MB

	// DefaultMaxPDFSize bounds PDF uploads, which are never re-encoded
	DefaultMaxPDFSize = 10 << 20 // 10MB
)

// FileType is the transport tag of a prepared document
type FileType string

const (
	FileTypeJPEG FileType = "jpeg"
	FileTypePNG  FileType = "png"
	FileTypeBMP  FileType = "bmp"
	FileTypePDF  FileType = "pdf"
)

var (
	imageExtensions = []string{"jpg", "jpeg", "png", "bmp"}
	heicExtensions  = []string{"heic", "heif"}
	pdfExtension    = "pdf"
)

// Info describes a document on disk without reading its content
type Info struct {
	Path string   `json:"path"`
	Type FileType `json:"file_type"`
	Size int64    `json:"size"`
	Name string   `json:"name"`
}

// Payload is a validated, size-bounded document ready for the OCR provider.
// Type and Size describe the content that is sent, not the source file.
type Payload struct {
	Info
	// Base64 is the standard base64 encoding of the (possibly converted) content
	Base64 string
	// Converted is set when the content was re-encoded (HEIC or oversize image)
	Converted bool
}

// IsPDF reports whether the payload must be submitted as a PDF
func (p *Payload) IsPDF() bool {
	return p.Type == FileTypePDF
}

// SupportedExtensions returns every accepted file extension, lower case without dot
func SupportedExtensions() []string {
	exts := make([]string, 0, len(imageExtensions)+len(heicExtensions)+1)
	exts = append(exts, imageExtensions...)
	exts = append(exts, heicExtensions...)
	return append(exts, pdfExtension)
}

// DetectType maps a path's extension to its transport type.
// HEIC/HEIF files report as JPEG since they are converted before upload.
func DetectType(path string) (FileType, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return "", apperror.Newf(apperror.KindFileInvalid, "cannot determine file extension: %s", path)
	}

	switch ext {
	case "jpg", "jpeg", "heic", "heif":
		return FileTypeJPEG, nil
	case "png":
		return FileTypePNG, nil
	case "bmp":
		return FileTypeBMP, nil
	case "pdf":
		return FileTypePDF, nil
	}
	return "", apperror.Newf(apperror.KindFileInvalid,
		"unsupported file type: %s. Supported: %s", ext, strings.Join(SupportedExtensions(), ", "))
}

// FileInfo validates the extension and stats the file
func FileInfo(path string) (*Info, error) {
	fileType, err := DetectType(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFileInvalid, "reading file info", err)
	}
	if stat.IsDir() {
		return nil, apperror.Newf(apperror.KindFileInvalid, "not a regular file: %s", path)
	}

	return &Info{
		Path: path,
		Type: fileType,
		Size: stat.Size(),
		Name: filepath.Base(path),
	}, nil
}

func isHEICPath(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, e := range heicExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Preparer turns a path into an encoded Payload
type Preparer struct {
	maxImageSize int
	maxPDFSize   int
}

// NewPreparer creates a Preparer with the default size limits
func NewPreparer() *Preparer {
	return NewPreparerWithLimits(DefaultMaxImageSize, DefaultMaxPDFSize)
}

// NewPreparerWithLimits creates a Preparer with custom size limits in bytes
func NewPreparerWithLimits(maxImageSize, maxPDFSize int) *Preparer {
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	if maxPDFSize <= 0 {
		maxPDFSize = DefaultMaxPDFSize
	}
	return &Preparer{
		maxImageSize: maxImageSize,
		maxPDFSize:   maxPDFSize,
	}
}

// Prepare validates, converts and encodes the document at path
func (p *Preparer) Prepare(path string) (*Payload, error) {
	info, err := FileInfo(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFileInvalid, "reading file", err)
	}

	converted := false
	switch {
	case info.Type == FileTypePDF:
		if len(data) > p.maxPDFSize {
			return nil, apperror.Newf(apperror.KindFileInvalid,
				"PDF is too large: %d bytes, maximum is %d", len(data), p.maxPDFSize)
		}
		if err := checkPDF(data); err != nil {
			return nil, apperror.Wrap(apperror.KindFileInvalid, "invalid PDF", err)
		}
	case isHEICPath(path) || isHEICFormat(data):
		data, err = heicToJPEG(data)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindFileInvalid, "converting HEIC image", err)
		}
		info.Type = FileTypeJPEG
		converted = true
	}

	if info.Type != FileTypePDF && len(data) > p.maxImageSize {
		data, err = compressImage(data, p.maxImageSize)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindFileInvalid, "compressing image", err)
		}
		if len(data) > p.maxImageSize {
			return nil, apperror.Newf(apperror.KindFileInvalid,
				"image is still too large after compression: %d bytes, maximum is %d", len(data), p.maxImageSize)
		}
		info.Type = FileTypeJPEG
		converted = true
	}
	info.Size = int64(len(data))

	return &Payload{
		Info:      *info,
		Base64:    base64.StdEncoding.EncodeToString(data),
		Converted: converted,
	}, nil
}

// String is used in log lines
func (p *Payload) String() string {
	return fmt.Sprintf("%s (%s, %d bytes)", p.Name, p.Type, p.Size)
}
