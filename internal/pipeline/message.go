package pipeline

import (
	"opal/internal/jobs"
	"opal/internal/services"
	"opal/internal/stage"
)

// Request asks the coordinator to start one item. Options, when omitted,
// fall back to the job's stored options.
type Request struct {
	TenantID      string        `json:"tenant_id"`
	JobID         string        `json:"job_id"`
	ItemID        string        `json:"item_id"`
	CorrelationID string        `json:"correlation_id"`
	Options       *jobs.Options `json:"processing_options,omitempty"`
}

// Message travels between transformation stages. Each optional path is set
// at most once, by the stage that produced it.
type Message struct {
	JobID             string       `json:"job_id"`
	ItemID            string       `json:"item_id"`
	TenantID          string       `json:"tenant_id"`
	CorrelationID     string       `json:"correlation_id"`
	RawBlobPath       string       `json:"raw_blob_path"`
	ProcessingOptions jobs.Options `json:"processing_options"`
	BackgroundRemoved *string      `json:"bg_removed_blob_path"`
	Scene             *string      `json:"scene_blob_path"`
}

// ExportNotice is the payload sent to the exports queue after finalization.
type ExportNotice struct {
	TenantID      string `json:"tenant_id"`
	JobID         string `json:"job_id"`
	ItemID        string `json:"item_id"`
	CorrelationID string `json:"correlation_id"`
}

// DecodeRequest parses a coordinator request.
func DecodeRequest(body []byte) (Request, error) {
	var req Request
	if err := stage.Decode(string(StageCoordinator), body, &req); err != nil {
		return Request{}, err
	}
	if err := stage.Require(string(StageCoordinator), map[string]string{"item_id": req.ItemID}); err != nil {
		return Request{}, err
	}
	return req, nil
}

type wireMessage struct {
	Message
	ProcessingOptions *jobs.Options `json:"processing_options"`
}

// DecodeMessage parses a stage message. Every identifier, the raw path, and
// the options snapshot are required.
func DecodeMessage(stageName string, body []byte) (Message, error) {
	var wire wireMessage
	if err := stage.Decode(stageName, body, &wire); err != nil {
		return Message{}, err
	}
	if err := stage.Require(stageName, map[string]string{
		"job_id":        wire.JobID,
		"item_id":       wire.ItemID,
		"tenant_id":     wire.TenantID,
		"raw_blob_path": wire.RawBlobPath,
	}); err != nil {
		return Message{}, err
	}
	if wire.ProcessingOptions == nil {
		return Message{}, services.Wrap(services.ErrPoison, stageName, "decode message", "missing required field(s): processing_options", nil)
	}
	msg := wire.Message
	msg.ProcessingOptions = *wire.ProcessingOptions
	return msg, nil
}

// DecodeExport parses an export notice.
func DecodeExport(body []byte) (ExportNotice, error) {
	var notice ExportNotice
	if err := stage.Decode(string(StageExport), body, &notice); err != nil {
		return ExportNotice{}, err
	}
	if err := stage.Require(string(StageExport), map[string]string{"item_id": notice.ItemID}); err != nil {
		return ExportNotice{}, err
	}
	return notice, nil
}

// BestInput returns the most recently produced path: scene, then
// background-removed, then raw. fromRaw reports the last case.
func (m Message) BestInput() (path string, fromRaw bool) {
	if set(m.Scene) {
		return *m.Scene, false
	}
	if set(m.BackgroundRemoved) {
		return *m.BackgroundRemoved, false
	}
	return m.RawBlobPath, true
}

// Produced returns the path stage s recorded, if any.
func (m Message) Produced(s Stage) (string, bool) {
	switch s {
	case StageBackground:
		if set(m.BackgroundRemoved) {
			return *m.BackgroundRemoved, true
		}
	case StageScene:
		if set(m.Scene) {
			return *m.Scene, true
		}
	}
	return "", false
}

// withProduced returns a copy of m with stage s's path set.
func (m Message) withProduced(s Stage, path string) Message {
	switch s {
	case StageBackground:
		m.BackgroundRemoved = &path
	case StageScene:
		m.Scene = &path
	}
	return m
}

func (m Message) notice() ExportNotice {
	return ExportNotice{
		TenantID:      m.TenantID,
		JobID:         m.JobID,
		ItemID:        m.ItemID,
		CorrelationID: m.CorrelationID,
	}
}

func set(p *string) bool {
	return p != nil && *p != ""
}
