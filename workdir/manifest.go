package workdir

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/wudi/scansort/geo"
)

// Manifest records the parameters that produced the artifacts currently on
// disk. Stages compare it with their own parameters to decide whether an
// existing artifact can be kept.
type Manifest struct {
	RunID          string          `json:"run_id"`
	Source         string          `json:"source,omitempty"`
	SourceDigest   string          `json:"source_digest,omitempty"`
	DPI            int             `json:"dpi,omitempty"`
	Format         string          `json:"format,omitempty"`
	Pages          int             `json:"pages,omitempty"`
	Region         *geo.CropRegion `json:"region,omitempty"`
	OCREngine      string          `json:"ocr_engine,omitempty"`
	FallbackPolicy string          `json:"fallback_policy,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{RunID: uuid.NewString()}, nil
	}
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if m.RunID == "" {
		m.RunID = uuid.NewString()
	}
	return m, nil
}

// SaveManifest stamps and atomically writes m.
func (d Dir) SaveManifest(m Manifest) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(d.File(ManifestFile), data)
}

// UpdateManifest applies fn to the current manifest and saves the result.
func (d Dir) UpdateManifest(fn func(*Manifest)) error {
	m, err := d.Manifest()
	if err != nil {
		return err
	}
	fn(&m)
	return d.SaveManifest(m)
}

// Digest returns the hex blake2b-256 digest of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it
// into place.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
