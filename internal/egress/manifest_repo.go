package egress

import (
	"context"
	"errors"
	"os"

	"callflow/internal/artifact"
)

// ManifestRepo keeps jobs as manifest files next to the recordings so the
// directory sweep can join recordings to conversations by room.
type ManifestRepo struct {
	dir string
}

func NewManifestRepo(dir string) *ManifestRepo {
	return &ManifestRepo{dir: dir}
}

func (r *ManifestRepo) Save(_ context.Context, j Job) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	m := artifact.EgressManifest{
		EgressID:  j.EgressID,
		SessionID: j.SessionID,
		RoomName:  j.RoomName,
		Status:    j.Status.String(),
		Error:     j.Error,
		Files:     make([]artifact.ManifestFile, 0, len(j.Files)),
		UpdatedAt: j.UpdatedAt,
	}
	for _, f := range j.Files {
		m.Files = append(m.Files, artifact.ManifestFile{Filename: f.Filename, Size: f.Size, Location: f.Location})
	}
	return artifact.WriteManifest(r.dir, m)
}

func (r *ManifestRepo) Get(_ context.Context, egressID string) (Job, error) {
	m, err := artifact.ReadManifest(artifact.ManifestPath(r.dir, egressID))
	if errors.Is(err, os.ErrNotExist) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return jobFromManifest(m), nil
}

func jobFromManifest(m artifact.EgressManifest) Job {
	j := Job{
		EgressID:  m.EgressID,
		SessionID: m.SessionID,
		RoomName:  m.RoomName,
		Status:    ParseStatus(m.Status),
		Error:     m.Error,
		UpdatedAt: m.UpdatedAt,
	}
	for _, f := range m.Files {
		j.Files = append(j.Files, File{Filename: f.Filename, Size: f.Size, Location: f.Location})
	}
	return j
}
