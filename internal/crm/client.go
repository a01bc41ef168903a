package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrUploadRejected is returned when the CRM answers without a usable URL.
	ErrUploadRejected = errors.New("crm: upload rejected")
	// ErrSubmitRejected is returned when the CRM reports success=false.
	ErrSubmitRejected = errors.New("crm: call data rejected")
)

type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	HTTPClient     *http.Client
}

// Client talks to the CRM upload and call-data endpoints.
type Client struct {
	baseURL        string
	http           *http.Client
	requestTimeout time.Duration
	uploadTimeout  time.Duration
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("crm: base url is required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 120 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:        base,
		http:           opts.HTTPClient,
		requestTimeout: opts.RequestTimeout,
		uploadTimeout:  opts.UploadTimeout,
	}, nil
}

// RecordingUpload is what the CRM returns for a stored recording.
type RecordingUpload struct {
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	OriginalName string `json:"originalName"`
}

type uploadResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    RecordingUpload `json:"data"`
}

// UploadRecording posts the file at path as multipart field "file".
func (c *Client) UploadRecording(ctx context.Context, path string) (RecordingUpload, error) {
	f, err := os.Open(path)
	if err != nil {
		return RecordingUpload{}, fmt.Errorf("crm: open recording: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(path)))
	h.Set("Content-Type", "audio/ogg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return RecordingUpload{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return RecordingUpload{}, fmt.Errorf("crm: read recording: %w", err)
	}
	if err := mw.Close(); err != nil {
		return RecordingUpload{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return RecordingUpload{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return RecordingUpload{}, err
	}
	if !out.Success || out.Data.URL == "" {
		msg := out.Message
		if msg == "" {
			msg = "no url in response"
		}
		return RecordingUpload{}, fmt.Errorf("%w: %s", ErrUploadRejected, msg)
	}
	if out.Data.OriginalName == "" {
		out.Data.OriginalName = filepath.Base(path)
	}
	return out.Data, nil
}

type submitResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// SubmitCallData posts the call record. A 2xx without an explicit
// success=false counts as accepted.
func (c *Client) SubmitCallData(ctx context.Context, data CallData) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("crm: encode call data: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call-data", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var out submitResponse
	if err := c.do(req, &out); err != nil {
		return err
	}
	if out.Success != nil && !*out.Success {
		return fmt.Errorf("%w: %s", ErrSubmitRejected, out.Message)
	}
	return nil
}

// StatusError is a non-2xx CRM response.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm: %s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm: %s: %w", req.URL.Path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("crm: read %s response: %w", req.URL.Path, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &StatusError{Path: req.URL.Path, StatusCode: res.StatusCode, Body: snippet}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("crm: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
