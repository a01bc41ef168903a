package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const MarkerSuffix = ".uploaded"

// Marker proves an artifact was reconciled. Its presence is the only authority.
type Marker struct {
	UploadedAt   time.Time `json:"uploadedAt"`
	OriginalPath string    `json:"originalPath"`
	UploadResult any       `json:"uploadResult"`
	Path         string    `json:"path,omitempty"`
}

// MarkerStore keeps markers as side-car files keyed by the artifact's file name.
type MarkerStore struct {
	dir string
}

func NewMarkerStore(dir string) *MarkerStore {
	return &MarkerStore{dir: dir}
}

func (s *MarkerStore) Dir() string { return s.dir }

func (s *MarkerStore) path(artifactName string) string {
	return filepath.Join(s.dir, filepath.Base(artifactName)+MarkerSuffix)
}

// Exists reports whether artifactName has been reconciled.
func (s *MarkerStore) Exists(artifactName string) (bool, error) {
	_, err := os.Stat(s.path(artifactName))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("artifact: stat marker: %w", err)
}

// Write records a successful reconciliation of artifactName.
func (s *MarkerStore) Write(artifactName string, m Marker) error {
	if m.UploadedAt.IsZero() {
		m.UploadedAt = time.Now().UTC()
	}
	return writeJSONAtomic(s.path(artifactName), m)
}

// Read returns the stored marker for artifactName.
func (s *MarkerStore) Read(artifactName string) (Marker, error) {
	data, err := os.ReadFile(s.path(artifactName))
	if err != nil {
		return Marker{}, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, fmt.Errorf("artifact: decode marker: %w", err)
	}
	return m, nil
}
