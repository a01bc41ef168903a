package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const leadMetadataField = "campaign_metadata"

// Lead is a captured lead record plus the identity of the call that produced it.
type Lead struct {
	Fields   map[string]any
	Metadata CampaignMetadata
}

// ReadLead loads a lead file. The campaign_metadata block is split out of Fields.
func ReadLead(path string) (Lead, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lead{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Lead{}, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, filepath.Base(path), err)
	}

	var meta CampaignMetadata
	if raw, ok := fields[leadMetadataField]; ok {
		b, _ := json.Marshal(raw)
		_ = json.Unmarshal(b, &meta)
		delete(fields, leadMetadataField)
	}
	return Lead{Fields: fields, Metadata: meta}, nil
}

// WriteLead stores l in dir under its key-derived name and returns the path.
func WriteLead(dir string, l Lead) (string, error) {
	k := l.Metadata.Key()
	if !k.Complete() {
		return "", fmt.Errorf("%w: lead without campaign identity", ErrInvalidArtifact)
	}
	doc := make(map[string]any, len(l.Fields)+1)
	for k, v := range l.Fields {
		doc[k] = v
	}
	doc[leadMetadataField] = l.Metadata

	path := filepath.Join(dir, LeadFileName(k))
	if err := writeJSONAtomic(path, doc); err != nil {
		return "", err
	}
	return path, nil
}
