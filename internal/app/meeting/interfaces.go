package meeting

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/persistence"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/status"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/transcriber"
)

// RecordStore keeps recordings and supports atomic partial updates
type RecordStore interface {
	Insert(r *persistence.Recording) error
	Get(id string) (*persistence.Recording, error)
	List() ([]persistence.Recording, error)
	Delete(id string) error
	Update(id string, fields map[string]interface{}) error
	UpdateWhereStatus(id string, from []status.Status, fields map[string]interface{},
		procErrs ...persistence.ProcessingError) error
	AppendError(id string, msg string) error
	FindDuplicate(fileName, subjectName, subjectCategory string,
		meetingDate time.Time, windowStart time.Time) (*persistence.Recording, error)
}

// FileStorage persists raw uploads and generated documents
type FileStorage interface {
	Save(folder, name string, reader io.Reader) (string, int64, error)
	Open(reference string) (*os.File, error)
	Delete(reference string) error
}

// Transcriber converts audio to text with metadata
type Transcriber interface {
	Transcribe(ctx context.Context, fileName string, audio io.Reader, languageHint string) (*transcriber.Result, error)
}

// Analyzer extracts sentiment, insights and action items from a transcript
type Analyzer interface {
	AnalyzeSentiment(ctx context.Context, text string) (*persistence.Sentiment, error)
	ExtractInsights(ctx context.Context, text string) ([]persistence.Insight, []persistence.ActionItem, error)
}

// Extractor pulls an audio-only track out of a video file
type Extractor interface {
	Extract(ctx context.Context, videoFile string) (string, error)
}

// Notifier informs the uploader about a terminal pipeline state
type Notifier interface {
	Notify(id, address, status string)
}

// CRMSyncer pushes a completed recording to the external CRM
type CRMSyncer interface {
	Sync(ctx context.Context, payload map[string]interface{}) (string, error)
}

// CRMMapper translates a recording to the CRM payload
type CRMMapper interface {
	Map(r *persistence.Recording) map[string]interface{}
}

// PipelineRunner drives a recording through transcription and analysis
type PipelineRunner interface {
	Start(id string, tmpFile string)
	Reanalyze(id string) error
}
