package models

import (
	"time"
)

// Submission is one normalized form webhook event. Everything except
// Processed is fixed at creation.
type Submission struct {
	ID         string         `json:"id" bson:"submission_id"`
	ProjectID  string         `json:"project_id" bson:"project_id"`
	FormID     string         `json:"form_id" bson:"form_id"`
	EntryID    string         `json:"entry_id" bson:"entry_id"`
	ReceivedAt time.Time      `json:"received_at" bson:"received_at"`
	Data       map[string]any `json:"data" bson:"data"`
	Files      []FileRecord   `json:"files" bson:"files"`
	Processed  bool           `json:"processed" bson:"processed"`

	// Request metadata
	Format    string `json:"format" bson:"format"`
	IPAddress string `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
}

// HasFiles reports whether at least one attachment was offloaded.
func (s *Submission) HasFiles() bool {
	return len(s.Files) > 0
}

// CloneData deep-copies a payload field map. Nested maps and slices produced
// by the parsers are copied too, so the copy shares nothing with data.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = cloneValue(v)
	}
	return cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		cp := make([]any, len(t))
		for i, item := range t {
			cp[i] = cloneValue(item)
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// FileRecord describes one attachment placed in object storage.
type FileRecord struct {
	FieldName    string    `json:"field_name" bson:"field_name"`
	OriginalName string    `json:"original_name" bson:"original_name"`
	StoragePath  string    `json:"storage_path" bson:"storage_path"`
	Size         int64     `json:"size" bson:"size"`
	ContentType  string    `json:"content_type" bson:"content_type"`
	UploadTime   time.Time `json:"upload_time" bson:"upload_time"`
	Strategy     string    `json:"strategy" bson:"strategy"`
	SignedURL    string    `json:"signed_url,omitempty" bson:"-"`
}

// File delivery strategies
const (
	StrategyDirect = "direct"
	StrategyRemote = "remote"
)

// Record is the wire shape handed to pollers by get-unprocessed.
type Record struct {
	ID         string         `json:"id" bson:"submission_id"`
	FormID     string         `json:"form_id" bson:"form_id"`
	EntryID    string         `json:"entry_id" bson:"entry_id"`
	ReceivedAt time.Time      `json:"received_at" bson:"received_at"`
	Data       map[string]any `json:"data" bson:"data"`
	HasFiles   bool           `json:"has_files" bson:"has_files"`
	Files      []FileRecord   `json:"files,omitempty" bson:"files,omitempty"`
}

// NewRecord builds the poller view of s. File signed URLs are left to the caller.
func NewRecord(s Submission) Record {
	rec := Record{
		ID:         s.ID,
		FormID:     s.FormID,
		EntryID:    s.EntryID,
		ReceivedAt: s.ReceivedAt,
		Data:       s.Data,
		HasFiles:   s.HasFiles(),
	}
	if len(s.Files) > 0 {
		rec.Files = append([]FileRecord(nil), s.Files...)
	}
	return rec
}

// FormStats aggregates per-form counters.
type FormStats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
}

// Stats summarises the submission store.
type Stats struct {
	Total       int                  `json:"total_submissions"`
	Processed   int                  `json:"processed"`
	Unprocessed int                  `json:"unprocessed"`
	Forms       map[string]FormStats `json:"forms"`
	Oldest      *time.Time           `json:"oldest"`
	Newest      *time.Time           `json:"newest"`
}

// SubmissionNotice is published after a submission is stored so that sync
// workers can pull without waiting for their next poll.
type SubmissionNotice struct {
	SubmissionID  string    `json:"submission_id"`
	FormID        string    `json:"form_id"`
	ReceivedAt    time.Time `json:"received_at"`
	FilesUploaded int       `json:"files_uploaded"`
}

// SyncedRecord is a record persisted by the sync worker.
type SyncedRecord struct {
	Record   `bson:",inline"`
	SyncedAt time.Time `json:"synced_at" bson:"synced_at"`
	Status   string    `json:"status" bson:"status"`
}

// SyncStatus represents the possible states of a synced record
type SyncStatus string

const (
	SyncStatusStored    SyncStatus = "stored"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusRetrying  SyncStatus = "retrying"
	SyncStatusProcessed SyncStatus = "processed"
)
