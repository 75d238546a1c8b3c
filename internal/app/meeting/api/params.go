package api

import (
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/persistence"
)

// Form parameter names of the upload request
const (
	PrmFile            = "file"
	PrmSubjectName     = "subjectName"
	PrmSubjectCategory = "subjectCategory"
	PrmMeetingDate     = "meetingDate"
	PrmAttendees       = "attendees"
	PrmEmail           = "email"
)

// UploadResult - upload method response in JSON
type UploadResult struct {
	RecordingID string `json:"recordingId"`
	Status      string `json:"status"`
}

// StatusResult - status polling response in JSON
type StatusResult struct {
	ID                  string                        `json:"id"`
	Status              string                        `json:"status"`
	OriginalFileName    string                        `json:"originalFileName"`
	FileSizeBytes       int64                         `json:"fileSizeBytes"`
	SubjectName         string                        `json:"subjectName"`
	SubjectCategory     string                        `json:"subjectCategory"`
	ProcessingStartedAt *time.Time                    `json:"processingStartedAt,omitempty"`
	ProcessingEndedAt   *time.Time                    `json:"processingEndedAt,omitempty"`
	Errors              []persistence.ProcessingError `json:"errors"`
}

// TranscriptUpdate - edited transcript request body
type TranscriptUpdate struct {
	Transcript string `json:"transcript"`
}

// SyncResult - CRM sync response in JSON
type SyncResult struct {
	RecordingID       string `json:"recordingId"`
	SyncStatus        string `json:"syncStatus"`
	ExternalRecordRef string `json:"externalRecordRef,omitempty"`
}
