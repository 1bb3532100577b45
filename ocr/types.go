package ocr

import "context"

// ImageFormat identifies the content type of a crop handed to an engine.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "image/png"
	ImageFormatJPEG ImageFormat = "image/jpeg"
	ImageFormatTIFF ImageFormat = "image/tiff"
)

// Input is one key crop submitted for recognition.
type Input struct {
	// ID is echoed back in Result.InputID.
	ID string
	// Image holds the encoded crop.
	Image  []byte
	Format ImageFormat
	// PageIndex is the 1-based page the crop was cut from.
	PageIndex int
	// DPI of the source render; zero means unknown.
	DPI       int
	Languages []string
	// Variables are engine settings keyed by the engine's own names, such as
	// tessedit_char_whitelist for Tesseract. Engines ignore names they do not
	// know.
	Variables map[string]string
}

// Result is the text an engine read from one crop.
type Result struct {
	InputID   string
	PlainText string
	// Confidence is the mean word confidence in [0,1], zero when unknown.
	Confidence float64
}

// Engine reads text from a single crop.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}
