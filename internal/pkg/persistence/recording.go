package persistence

import "time"

// Media kind values
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// External sync status values
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncFailed  = "failed"
)

// Field keys for partial updates
const (
	FlStatus             = "status"
	FlRawTranscript      = "rawTranscript"
	FlEditedTranscript   = "editedTranscript"
	FlDurationSec        = "durationSeconds"
	FlLanguage           = "language"
	FlSentiment          = "sentiment"
	FlInsights           = "insights"
	FlActionItems        = "actionItems"
	FlExternalSyncStatus = "externalSyncStatus"
	FlExternalRecordRef  = "externalRecordRef"
	FlArtifacts          = "artifacts"
	FlProcessingStarted  = "processingStartedAt"
	FlProcessingEnded    = "processingEndedAt"
	FlUpdatedAt          = "updatedAt"
)

type (
	// Attendee is an optional meeting participant entry
	Attendee struct {
		Name  string `bson:"name" json:"name"`
		Email string `bson:"email,omitempty" json:"email,omitempty"`
	}

	// SentimentDistribution keeps percentages per polarity
	SentimentDistribution struct {
		Positive float64 `bson:"positive" json:"positive"`
		Negative float64 `bson:"negative" json:"negative"`
		Neutral  float64 `bson:"neutral" json:"neutral"`
	}

	// SentimentIndicator is one phrase that influenced the classification
	SentimentIndicator struct {
		Label    string `bson:"label" json:"label"`
		Polarity string `bson:"polarity" json:"polarity"`
		Context  string `bson:"context,omitempty" json:"context,omitempty"`
	}

	// Sentiment is the analysis provider classification result
	Sentiment struct {
		Overall      string                `bson:"overall" json:"overall"`
		Score        float64               `bson:"score" json:"score"`
		Distribution SentimentDistribution `bson:"distribution" json:"distribution"`
		Indicators   []SentimentIndicator  `bson:"indicators,omitempty" json:"indicators,omitempty"`
	}

	// Insight is one extracted key point
	Insight struct {
		Text       string  `bson:"text" json:"text"`
		Category   string  `bson:"category,omitempty" json:"category,omitempty"`
		Confidence float64 `bson:"confidence,omitempty" json:"confidence,omitempty"`
		Importance string  `bson:"importance,omitempty" json:"importance,omitempty"`
	}

	// ActionItem is one extracted followup task
	ActionItem struct {
		Text     string `bson:"text" json:"text"`
		Priority string `bson:"priority,omitempty" json:"priority,omitempty"`
		Assignee string `bson:"assignee,omitempty" json:"assignee,omitempty"`
		DueDate  string `bson:"dueDate,omitempty" json:"dueDate,omitempty"`
	}

	// ProcessingError is one append-only pipeline failure record
	ProcessingError struct {
		Message string    `bson:"message" json:"message"`
		At      time.Time `bson:"at" json:"at"`
	}

	// Artifact is a generated document stored in the media store
	Artifact struct {
		Kind        string    `bson:"kind" json:"kind"`
		Reference   string    `bson:"reference" json:"reference"`
		Title       string    `bson:"title,omitempty" json:"title,omitempty"`
		GeneratedAt time.Time `bson:"generatedAt" json:"generatedAt"`
	}

	// Recording is the central entity: one uploaded meeting file and all its
	// derived data
	Recording struct {
		ID               string `bson:"ID" json:"id"`
		OriginalFileName string `bson:"originalFileName" json:"originalFileName"`
		FileReference    string `bson:"fileReference" json:"fileReference"`
		FileSizeBytes    int64  `bson:"fileSizeBytes" json:"fileSizeBytes"`
		MediaKind        string `bson:"mediaKind" json:"mediaKind"`
		MimeType         string `bson:"mimeType,omitempty" json:"mimeType,omitempty"`

		MeetingDate     time.Time  `bson:"meetingDate" json:"meetingDate"`
		SubjectName     string     `bson:"subjectName" json:"subjectName"`
		SubjectCategory string     `bson:"subjectCategory" json:"subjectCategory"`
		Attendees       []Attendee `bson:"attendees,omitempty" json:"attendees,omitempty"`
		NotifyEmail     string     `bson:"notifyEmail,omitempty" json:"-"`

		DurationSeconds  float64 `bson:"durationSeconds" json:"durationSeconds"`
		Language         string  `bson:"language,omitempty" json:"language,omitempty"`
		RawTranscript    string  `bson:"rawTranscript,omitempty" json:"rawTranscript,omitempty"`
		EditedTranscript string  `bson:"editedTranscript,omitempty" json:"editedTranscript,omitempty"`

		Status      string       `bson:"status" json:"status"`
		Sentiment   Sentiment    `bson:"sentiment,omitempty" json:"sentiment"`
		Insights    []Insight    `bson:"insights,omitempty" json:"insights"`
		ActionItems []ActionItem `bson:"actionItems,omitempty" json:"actionItems"`

		ExternalSyncStatus string     `bson:"externalSyncStatus,omitempty" json:"externalSyncStatus,omitempty"`
		ExternalRecordRef  string     `bson:"externalRecordRef,omitempty" json:"externalRecordRef,omitempty"`
		Artifacts          []Artifact `bson:"artifacts,omitempty" json:"artifacts,omitempty"`

		ProcessingStartedAt *time.Time        `bson:"processingStartedAt,omitempty" json:"processingStartedAt,omitempty"`
		ProcessingEndedAt   *time.Time        `bson:"processingEndedAt,omitempty" json:"processingEndedAt,omitempty"`
		ProcessingErrors    []ProcessingError `bson:"processingErrors,omitempty" json:"processingErrors,omitempty"`

		CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
		UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
	}
)

// Transcript returns the text downstream operations must use: the user edited
// version when present, the raw one otherwise
func (r *Recording) Transcript() string {
	if r.EditedTranscript != "" {
		return r.EditedTranscript
	}
	return r.RawTranscript
}
