package pipeline

import (
	"github.com/wudi/scansort/config"
	"github.com/wudi/scansort/geo"
	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/keys"
	"github.com/wudi/scansort/pdfwrite"
)

// RunConfig is the immutable parameter set of one run. Use the With methods
// to derive a modified copy.
type RunConfig struct {
	Source         string
	Root           string
	DPI            int
	Format         imageio.Format
	Region         *geo.CropRegion
	Workers        int
	FallbackPolicy keys.FallbackPolicy
	// CropPolicy is "skip" (default) or "fail".
	CropPolicy  string
	Languages   []string
	DigitsOnly  bool
	Snapshot    bool
	XLSX        bool
	Force       bool
	Compression pdfwrite.Compression
	// SelectDivisor scales the preview shown to a region selector.
	SelectDivisor int
}

// FromConfig derives a RunConfig from the file configuration.
func FromConfig(cfg config.Config, source string) RunConfig {
	region := cfg.CropBox
	s := cfg.Settings
	rc := RunConfig{
		Source:         source,
		Root:           s.OutputDir,
		DPI:            s.DPI,
		Format:         cfg.Format(),
		Region:         &region,
		Workers:        s.RenderWorkers,
		FallbackPolicy: cfg.Policy(),
		CropPolicy:     s.OnCropError,
		Languages:      append([]string(nil), s.Languages...),
		DigitsOnly:     s.DigitsWhitelist,
		Snapshot:       s.CreateDictJSON,
		XLSX:           s.CreateXLSX,
		SelectDivisor:  s.CropSelectDivisor,
	}
	if rc.Format == imageio.FormatJPEG {
		rc.Compression = pdfwrite.DCT
	}
	return rc
}

func (c RunConfig) clone() RunConfig {
	c.Languages = append([]string(nil), c.Languages...)
	if c.Region != nil {
		r := *c.Region
		c.Region = &r
	}
	return c
}

// WithRegion returns a copy using region.
func (c RunConfig) WithRegion(region geo.CropRegion) RunConfig {
	c = c.clone()
	c.Region = &region
	return c
}

// WithSource returns a copy reading from src.
func (c RunConfig) WithSource(src string) RunConfig {
	c = c.clone()
	c.Source = src
	return c
}

// WithForce returns a copy that re-renders every page when force is set.
func (c RunConfig) WithForce(force bool) RunConfig {
	c = c.clone()
	c.Force = force
	return c
}
