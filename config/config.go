// Package config loads and saves the scansort YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wudi/scansort/geo"
	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/keys"
	"github.com/wudi/scansort/lookup"
	"github.com/wudi/scansort/workdir"
)

// DefaultFile is the configuration file used when none is given.
const DefaultFile = "scansort.yml"

// Environment overrides.
const (
	EnvOutputDir = "SCANSORT_OUTPUT_DIR"
	EnvDPI       = "SCANSORT_DPI"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Settings holds the general options.
type Settings struct {
	DPI               int      `yaml:"dpi"`
	ImageType         string   `yaml:"image_type"`
	CreateDictJSON    bool     `yaml:"create_dict_json"`
	CreateXLSX        bool     `yaml:"create_xlsx"`
	CropSelectDivisor int      `yaml:"crop_select_divisor"`
	RenderWorkers     int      `yaml:"render_workers"`
	PopplerPath       string   `yaml:"poppler_path"`
	TessdataPrefix    string   `yaml:"tessdata_prefix"`
	Languages         []string `yaml:"languages"`
	DigitsWhitelist   bool     `yaml:"digits_whitelist"`
	FallbackPolicy    string   `yaml:"fallback_policy"`
	OnCropError       string   `yaml:"on_crop_error"`
	OutputDir         string   `yaml:"output_dir"`
}

// Config is the whole file.
type Config struct {
	Settings Settings       `yaml:"settings"`
	CropBox  geo.CropRegion `yaml:"crop_box"`
	Lookup   lookup.Config  `yaml:"lookup,omitempty"`
}

// Default returns the configuration written on first start.
func Default() Config {
	return Config{
		Settings: Settings{
			DPI:               200,
			ImageType:         string(imageio.FormatPNG),
			CropSelectDivisor: 3,
			RenderWorkers:     4,
			Languages:         []string{"eng"},
			DigitsWhitelist:   true,
			FallbackPolicy:    string(keys.FallbackDistinct),
			OnCropError:       "skip",
			OutputDir:         "./pdf_sorter_out",
		},
		CropBox: geo.CropRegion{StartX: 0, StartY: 0, EndX: 100, EndY: 100},
	}
}

// Load reads path. A missing file is created with defaults. Fields absent
// from the file keep their default values. Environment overrides are
// applied last.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultFile
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := Save(path, cfg); err != nil {
			return Config{}, err
		}
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Settings.OutputDir = v
	}
	if v := os.Getenv(EnvDPI); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvDPI, v)
		}
		c.Settings.DPI = dpi
	}
	return nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return workdir.WriteFileAtomic(path, data)
}

// Validate checks every field that has a constrained domain.
func (c Config) Validate() error {
	var errs []error
	s := c.Settings
	if s.DPI < 30 || s.DPI > 1200 {
		errs = append(errs, fmt.Errorf("settings.dpi %d out of range 30..1200", s.DPI))
	}
	if _, err := imageio.ParseFormat(s.ImageType); err != nil {
		errs = append(errs, fmt.Errorf("settings.image_type: %v", err))
	}
	if s.CropSelectDivisor < 1 {
		errs = append(errs, fmt.Errorf("settings.crop_select_divisor must be >= 1"))
	}
	if s.RenderWorkers < 1 {
		errs = append(errs, fmt.Errorf("settings.render_workers must be >= 1"))
	}
	if _, err := keys.ParsePolicy(s.FallbackPolicy); err != nil {
		errs = append(errs, fmt.Errorf("settings.fallback_policy: %v", err))
	}
	switch strings.ToLower(s.OnCropError) {
	case "skip", "fail", "":
	default:
		errs = append(errs, fmt.Errorf("settings.on_crop_error must be skip or fail, got %q", s.OnCropError))
	}
	if strings.TrimSpace(s.OutputDir) == "" {
		errs = append(errs, fmt.Errorf("settings.output_dir is empty"))
	}
	if err := c.CropBox.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("crop_box: %v", err))
	}
	switch c.Lookup.Driver {
	case "":
	case "sql", "sqlite", "sqlite3":
		if c.Lookup.DSN == "" {
			errs = append(errs, fmt.Errorf("lookup.dsn is required for the sql driver"))
		}
	case "script", "js":
		if c.Lookup.Script == "" {
			errs = append(errs, fmt.Errorf("lookup.script is required for the script driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("lookup.driver %q unknown", c.Lookup.Driver))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// SetRegion stores region as the crop box and saves the file.
func SetRegion(path string, region geo.CropRegion) error {
	if err := region.Validate(); err != nil {
		return err
	}
	if path == "" {
		path = DefaultFile
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}
	cfg.CropBox = region
	return Save(path, cfg)
}

// Format returns the configured page image format.
func (c Config) Format() imageio.Format {
	f, err := imageio.ParseFormat(c.Settings.ImageType)
	if err != nil {
		return imageio.FormatPNG
	}
	return f
}

// Policy returns the configured fallback policy.
func (c Config) Policy() keys.FallbackPolicy {
	p, err := keys.ParsePolicy(c.Settings.FallbackPolicy)
	if err != nil {
		return keys.FallbackDistinct
	}
	return p
}
