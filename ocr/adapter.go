package ocr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InputOption mutates an Input built by InputFromFile.
type InputOption func(*Input)

// WithLanguages sets the trained-data languages, e.g. "eng".
func WithLanguages(langs ...string) InputOption {
	return func(in *Input) { in.Languages = append([]string(nil), langs...) }
}

// WithDPI records the render resolution of the crop.
func WithDPI(dpi int) InputOption {
	return func(in *Input) { in.DPI = dpi }
}

// WithVariables replaces all engine variables with a copy of vars.
func WithVariables(vars map[string]string) InputOption {
	return func(in *Input) {
		if len(vars) == 0 {
			in.Variables = nil
			return
		}
		in.Variables = make(map[string]string, len(vars))
		for k, v := range vars {
			in.Variables[k] = v
		}
	}
}

// FormatForPath infers the content type from the file extension.
func FormatForPath(path string) ImageFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return ImageFormatJPEG
	case ".tif", ".tiff":
		return ImageFormatTIFF
	default:
		return ImageFormatPNG
	}
}

// InputFromFile loads the crop for page from disk. The ID is "page-N".
func InputFromFile(path string, page int, opts ...InputOption) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("read crop: %w", err)
	}
	in := Input{
		ID:        fmt.Sprintf("page-%d", page),
		Image:     data,
		Format:    FormatForPath(path),
		PageIndex: page,
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}
