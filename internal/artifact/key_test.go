package artifact

import "testing"

func TestParseKey(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
		want Key
	}{
		{"transcript_session_C1_V1_S1.json", true, Key{"C1", "V1", "S1"}},
		{"/var/rec/recording_C1_V1_S1.ogg", true, Key{"C1", "V1", "S1"}},
		{"lead_C1_V1_S1.json", true, Key{"C1", "V1", "S1"}},
		{"transcript_session_2025-10-17T10-54-36.988248.json", false, Key{}},
		{"a_b_c.json", false, Key{}},
		{"x__V1_S1.json", false, Key{}},
	}
	for _, tc := range cases {
		got, ok := ParseKey(tc.name)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%s: expected %+v/%v, got %+v/%v", tc.name, tc.want, tc.ok, got, ok)
		}
	}
}

func TestFileNamesRoundTripThroughParseKey(t *testing.T) {
	k := Key{CampaignID: "camp_1", VoiceAgentID: "agent.2", SessionID: "0b7e-11"}
	for _, name := range []string{ConversationFileName(k), RecordingFileName(k), LeadFileName(k)} {
		got, ok := ParseKey(name)
		if !ok {
			t.Fatalf("%s: expected key", name)
		}
		if got != k.Sanitized() {
			t.Fatalf("%s: expected %+v, got %+v", name, k.Sanitized(), got)
		}
	}
}

func TestKeyScore(t *testing.T) {
	a := Key{"C1", "V1", "S1"}
	if a.Score(a) != 3 {
		t.Fatalf("expected full score")
	}
	if a.Score(Key{"C1", "V2", "S1"}) != 2 {
		t.Fatalf("expected partial score")
	}
	if (Key{}).Score(Key{}) != 0 {
		t.Fatalf("empty keys must not match")
	}
}
