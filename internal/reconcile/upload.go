package reconcile

import (
	"context"
	"log/slog"

	"callflow/internal/artifact"
	"callflow/internal/crm"
	"callflow/internal/metrics"
)

// CRM is the subset of *crm.Client the reconcilers use.
type CRM interface {
	UploadRecording(ctx context.Context, path string) (crm.RecordingUpload, error)
	SubmitCallData(ctx context.Context, data crm.CallData) error
}

// UploadResult is stored in the marker file.
type UploadResult struct {
	Path           string               `json:"path"`
	CallID         string               `json:"callId"`
	Recording      *crm.RecordingUpload `json:"recording,omitempty"`
	RecordingFile  string               `json:"recordingFile,omitempty"`
	RecordingError string               `json:"recordingError,omitempty"`
	LeadMerged     bool                 `json:"leadMerged"`
	EgressResult   string               `json:"egressResult,omitempty"`
}

type uploader struct {
	crm     CRM
	log     *slog.Logger
	metrics *metrics.Metrics
	path    string
}

// upload sends the recording (when given) and then the call data. A failed
// recording upload still submits call data without a recording URL. Only a
// rejected identity or a failed call-data submission is an error.
func (u uploader) upload(ctx context.Context, conv artifact.Conversation, recordingPath string, opts crm.BuildOptions) (UploadResult, error) {
	res := UploadResult{Path: u.path, RecordingFile: recordingPath}

	// Identity problems must surface before any network call.
	if _, err := crm.BuildCallData(conv, opts); err != nil {
		return res, err
	}

	if recordingPath != "" {
		rec, err := u.crm.UploadRecording(ctx, recordingPath)
		u.metrics.Upload(u.path, "recording", err)
		if err != nil {
			u.log.Warn("recording upload failed; sending call data without it", "file", recordingPath, "err", err)
			res.RecordingError = err.Error()
		} else {
			res.Recording = &rec
			opts.Recording = &rec
		}
	}

	data, err := crm.BuildCallData(conv, opts)
	if err != nil {
		return res, err
	}
	res.CallID = data.CallDetails.CallID
	res.LeadMerged = len(opts.Lead) > 0

	err = u.crm.SubmitCallData(ctx, data)
	u.metrics.Upload(u.path, "call_data", err)
	if err != nil {
		return res, err
	}
	u.log.Info("call data submitted", "call_id", res.CallID, "recording", res.Recording != nil)
	return res, nil
}
