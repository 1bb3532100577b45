// Package ocr defines the abstraction layer for plugging OCR engines (for
// example, Tesseract) into key extraction. The interfaces are intentionally
// small so engines can be backed by native libraries, local binaries, or
// deterministic fakes in tests.
package ocr
