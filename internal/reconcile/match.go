package reconcile

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"callflow/internal/artifact"
	"callflow/internal/egress"
)

// matcher joins a conversation dump to the recording and lead files written by
// other processes for the same call.
type matcher struct {
	recordingsDir string
	leadsDir      string
	log           *slog.Logger
}

type recordingMatch struct {
	path string
	via  string
	// vetoed is set when the call's egress is known to have produced no usable
	// recording: it failed, or completed without result files.
	vetoed bool
	// unsettled is set when the call has an egress whose outcome is not yet
	// known: no manifest, or a manifest that is not terminal.
	unsettled bool
}

func (m matcher) recording(name string, conv artifact.Conversation) recordingMatch {
	egressID := conv.Metadata.CampaignMetadata.EgressID
	var (
		man      artifact.EgressManifest
		haveMan  bool
		terminal bool
	)
	if egressID != "" {
		var err error
		man, err = artifact.ReadManifest(artifact.ManifestPath(m.recordingsDir, egressID))
		if err == nil {
			haveMan = true
			st := egress.ParseStatus(man.Status)
			terminal = st.IsTerminal()
			if terminal && st != egress.StatusComplete {
				return recordingMatch{vetoed: true, via: "manifest_status"}
			}
			// COMPLETE without result files has nothing to upload; a file on
			// disk for this call is partial or orphaned.
			if st == egress.StatusComplete && len(man.Files) == 0 {
				return recordingMatch{vetoed: true, via: "manifest_no_files"}
			}
		}
	}

	files, _ := filepath.Glob(filepath.Join(m.recordingsDir, "*"+artifact.RecordingExt))

	if key, ok := artifact.ParseKey(name); ok {
		for _, f := range files {
			if rk, ok := artifact.ParseKey(f); ok && rk == key {
				return recordingMatch{path: f, via: "filename"}
			}
		}
	} else if mk := conv.Key().Sanitized(); mk.SessionID != "" {
		best, bestScore := "", 0
		for _, f := range files {
			rk, ok := artifact.ParseKey(f)
			if !ok || rk.SessionID != mk.SessionID {
				continue
			}
			if s := mk.Score(rk); s > bestScore {
				best, bestScore = f, s
			}
		}
		if best != "" {
			return recordingMatch{path: best, via: "metadata"}
		}
	}

	if p := m.byRoom(conv); p != "" {
		return recordingMatch{path: p, via: "room"}
	}
	if haveMan {
		if p := m.existing(man.LocalName()); p != "" {
			return recordingMatch{path: p, via: "egress_id"}
		}
	}
	return recordingMatch{unsettled: egressID != "" && !terminal}
}

// byRoom joins through egress manifests on the room the dispatch rule creates
// for the caller's number. Manifests tagged with another session are ignored.
func (m matcher) byRoom(conv artifact.Conversation) string {
	room := artifact.RoomNameForNumber(callerPhone(conv))
	if room == "" {
		return ""
	}
	manifests, err := artifact.ListManifests(m.recordingsDir)
	if err != nil {
		return ""
	}
	for _, man := range manifests {
		if man.RoomName != room {
			continue
		}
		if man.SessionID != "" && man.SessionID != conv.Key().SessionID {
			continue
		}
		st := egress.ParseStatus(man.Status)
		if st.IsTerminal() && st != egress.StatusComplete {
			continue
		}
		if p := m.existing(man.LocalName()); p != "" {
			return p
		}
	}
	return ""
}

func (m matcher) existing(localName string) string {
	if localName == "" {
		return ""
	}
	p := filepath.Join(m.recordingsDir, localName)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// lead finds the lead file for the dump: exact filename key first, then the
// best identity match among lead files' own metadata.
func (m matcher) lead(name string, conv artifact.Conversation) (artifact.Lead, string, bool) {
	if m.leadsDir == "" {
		return artifact.Lead{}, "", false
	}
	files, _ := filepath.Glob(filepath.Join(m.leadsDir, "*.json"))

	if key, ok := artifact.ParseKey(name); ok {
		for _, f := range files {
			if lk, ok := artifact.ParseKey(f); ok && lk == key {
				l, err := artifact.ReadLead(f)
				if err != nil {
					m.log.Warn("matching lead file unreadable", "file", filepath.Base(f), "err", err)
					return artifact.Lead{}, "", false
				}
				return l, f, true
			}
		}
	}

	ck := conv.Key()
	if ck.SessionID == "" {
		return artifact.Lead{}, "", false
	}
	var (
		best      artifact.Lead
		bestPath  string
		bestScore int
	)
	for _, f := range files {
		l, err := artifact.ReadLead(f)
		if err != nil {
			if !errors.Is(err, artifact.ErrInvalidArtifact) {
				m.log.Debug("lead file unreadable", "file", filepath.Base(f), "err", err)
			}
			continue
		}
		lk := l.Metadata.Key()
		if lk.SessionID != ck.SessionID {
			continue
		}
		if s := ck.Score(lk); s > bestScore {
			best, bestPath, bestScore = l, f, s
		}
	}
	return best, bestPath, bestPath != ""
}
