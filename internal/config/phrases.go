package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultHangupPhrases are matched against lowercased caller speech.
var DefaultHangupPhrases = []string{
	"hang up",
	"hangup",
	"goodbye",
	"good bye",
	"bye bye",
	"end the call",
	"end this call",
	"disconnect the call",
	"cut the call",
	"that's all",
	"that is all",
	"no, that's all",
	"thank you, bye",
}

type phrasesFile struct {
	HangupPhrases []string `yaml:"hangup_phrases"`
}

// LoadPhrases reads a YAML document of the form:
//
//	hangup_phrases:
//	  - hang up
//	  - goodbye
//
// Unknown keys are rejected so that typos surface at startup.
func LoadPhrases(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open phrases file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var doc phrasesFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: decode phrases file %s: %w", path, err)
	}

	out := make([]string, 0, len(doc.HangupPhrases))
	seen := make(map[string]struct{}, len(doc.HangupPhrases))
	for _, p := range doc.HangupPhrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errors.New("config: phrases file lists no hangup_phrases")
	}
	return out, nil
}
