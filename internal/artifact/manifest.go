package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ManifestGlob matches egress manifests; platform egress ids start with EG_.
const ManifestGlob = "EG_*.json"

type ManifestFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Location string `json:"location,omitempty"`
}

// EgressManifest is the on-disk record of a recording job, written next to the
// recordings so a separate process can join them by room.
type EgressManifest struct {
	EgressID  string         `json:"egress_id"`
	SessionID string         `json:"session_id,omitempty"`
	RoomName  string         `json:"room_name"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Files     []ManifestFile `json:"files"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// LocalName is the recording's file name inside the recordings directory.
func (m EgressManifest) LocalName() string {
	if len(m.Files) == 0 {
		return ""
	}
	return filepath.Base(strings.TrimPrefix(m.Files[0].Filename, "recordings/"))
}

func ManifestPath(dir, egressID string) string {
	return filepath.Join(dir, SanitizeManifestID(egressID)+".json")
}

// SanitizeManifestID keeps egress ids usable as file names while preserving the EG_ prefix.
func SanitizeManifestID(id string) string {
	return strings.NewReplacer("/", "", "\\", "", "..", "").Replace(strings.TrimSpace(id))
}

func WriteManifest(dir string, m EgressManifest) error {
	if m.EgressID == "" {
		return fmt.Errorf("%w: manifest without egress id", ErrInvalidArtifact)
	}
	return writeJSONAtomic(ManifestPath(dir, m.EgressID), m)
}

func ReadManifest(path string) (EgressManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EgressManifest{}, err
	}
	var m EgressManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return EgressManifest{}, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, filepath.Base(path), err)
	}
	return m, nil
}

// ListManifests returns every readable manifest in dir, newest first.
func ListManifests(dir string) ([]EgressManifest, error) {
	paths, err := filepath.Glob(filepath.Join(dir, ManifestGlob))
	if err != nil {
		return nil, err
	}
	out := make([]EgressManifest, 0, len(paths))
	for _, p := range paths {
		m, err := ReadManifest(p)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
