package egress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"callflow/internal/artifact"
)

func TestMemoryRepo(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()

	if _, err := r.Get(ctx, "EG_x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	j := Job{EgressID: "EG_1", Status: StatusComplete, Files: []File{{Filename: "a.ogg", Size: 3}}}
	if err := r.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	j.Files[0].Size = 99

	got, err := r.Get(ctx, "EG_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Files[0].Size != 3 {
		t.Fatalf("stored job aliased caller slice")
	}
	if err := r.Save(ctx, Job{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestManifestRepoRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := NewManifestRepo(dir)

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	j := Job{
		EgressID:  "EG_abc",
		SessionID: "s1",
		RoomName:  "number-_14155550100",
		Status:    StatusComplete,
		UpdatedAt: now,
		Files:     []File{{Filename: "recordings/recording_c_v_s1.ogg", Size: 1024}},
	}
	if err := r.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "EG_abc.json")); err != nil {
		t.Fatalf("manifest not written: %v", err)
	}

	got, err := r.Get(ctx, "EG_abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusComplete || got.RoomName != j.RoomName || len(got.Files) != 1 {
		t.Fatalf("got %+v", got)
	}

	ms, err := artifact.ListManifests(dir)
	if err != nil || len(ms) != 1 || ms[0].LocalName() != "recording_c_v_s1.ogg" {
		t.Fatalf("manifests = %+v err=%v", ms, err)
	}

	if _, err := r.Get(ctx, "EG_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type brokenRepo struct{}

func (brokenRepo) Save(context.Context, Job) error { return errors.New("down") }
func (brokenRepo) Get(context.Context, string) (Job, error) {
	return Job{}, errors.New("down")
}

func TestTeeWritesEverywhere(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemoryRepo(), NewMemoryRepo()
	tee := Tee{a, brokenRepo{}, b}

	if err := tee.Save(ctx, Job{EgressID: "EG_1"}); err == nil {
		t.Fatalf("expected joined error")
	}
	if _, err := b.Get(ctx, "EG_1"); err != nil {
		t.Fatalf("later repo not written: %v", err)
	}
	if _, err := tee.Get(ctx, "EG_1"); err != nil {
		t.Fatalf("tee get: %v", err)
	}
}
