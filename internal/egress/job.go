package egress

import (
	"path/filepath"
	"time"

	"callflow/internal/telephony"
)

type File struct {
	Filename string        `json:"filename"`
	Size     int64         `json:"size"`
	Location string        `json:"location,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// LocalName is the file's base name, which is how it appears in the
// recordings directory regardless of the recorder's mount point.
func (f File) LocalName() string {
	if f.Filename == "" {
		return ""
	}
	return filepath.Base(f.Filename)
}

// Job is one call's recording.
type Job struct {
	EgressID   string    `json:"egress_id"`
	SessionID  string    `json:"session_id,omitempty"`
	RoomName   string    `json:"room_name"`
	TargetPath string    `json:"target_path,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Files      []File    `json:"files"`
}

// Observe applies a platform report. Once the job is terminal nothing changes
// and Observe returns false.
func (j *Job) Observe(info telephony.RecordingInfo, now time.Time) bool {
	if j.Status.IsTerminal() {
		return false
	}
	st := ParseStatus(info.Status)
	if st == StatusUnknown {
		return false
	}
	j.Status = st
	if j.RoomName == "" {
		j.RoomName = info.RoomName
	}
	if !info.StartedAt.IsZero() {
		j.StartedAt = info.StartedAt
	}
	if !info.EndedAt.IsZero() {
		j.EndedAt = info.EndedAt
	}
	j.Error = info.Error
	if len(info.Files) > 0 {
		j.Files = j.Files[:0]
		for _, f := range info.Files {
			j.Files = append(j.Files, File{Filename: f.Filename, Size: f.Size, Location: f.Location, Duration: f.Duration})
		}
	}
	j.UpdatedAt = now.UTC()
	return true
}

// FirstFile is the recording the CRM gets; later files are ignored.
func (j Job) FirstFile() (File, bool) {
	if len(j.Files) == 0 {
		return File{}, false
	}
	return j.Files[0], true
}

func (j Job) clone() Job {
	out := j
	out.Files = append([]File(nil), j.Files...)
	return out
}
