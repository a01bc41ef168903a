package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeRecording(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording_c1_v1_s1.ogg")
	if err := os.WriteFile(path, []byte("OggS-data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestUploadRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "OggS-data" {
			t.Fatalf("body = %q", data)
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "audio/ogg" {
			t.Fatalf("part content type = %q", ct)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"url":"https://cdn/x.ogg","size":9,"originalName":"recording_c1_v1_s1.ogg"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	up, err := c.UploadRecording(context.Background(), writeRecording(t))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if up.URL != "https://cdn/x.ogg" || up.Size != 9 {
		t.Fatalf("upload = %+v", up)
	}
}

func TestUploadRecordingRejected(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"success false": {http.StatusOK, `{"success":false,"message":"bad file"}`},
		"missing url":   {http.StatusOK, `{"success":true,"data":{}}`},
		"server error":  {http.StatusBadGateway, `oops`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, _ := NewClient(Options{BaseURL: srv.URL})
			if _, err := c.UploadRecording(context.Background(), writeRecording(t)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestUploadRecordingMissingFile(t *testing.T) {
	c, _ := NewClient(Options{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.UploadRecording(context.Background(), filepath.Join(t.TempDir(), "nope.ogg")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSubmitCallData(t *testing.T) {
	var got CallData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/call-data" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{BaseURL: srv.URL})
	err := c.SubmitCallData(context.Background(), CallData{CampaignID: "c1", VoiceAgentID: "v1", Lead: map[string]any{}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.CampaignID != "c1" || got.Lead == nil {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSubmitCallDataFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"duplicate"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{BaseURL: srv.URL})
	err := c.SubmitCallData(context.Background(), CallData{})
	if !errors.Is(err, ErrSubmitRejected) {
		t.Fatalf("err = %v, want ErrSubmitRejected", err)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	c, _ = NewClient(Options{BaseURL: bad.URL})
	var se *StatusError
	if err := c.SubmitCallData(context.Background(), CallData{}); !errors.As(err, &se) || se.StatusCode != 500 {
		t.Fatalf("err = %v, want StatusError 500", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatalf("expected error")
	}
}
