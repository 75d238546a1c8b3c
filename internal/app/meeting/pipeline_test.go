package meeting

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/errs"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/persistence"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/status"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/transcriber"
	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	lock sync.Mutex
	recs map[string]*persistence.Recording
}

func newFakeStore(recs ...*persistence.Recording) *fakeStore {
	res := &fakeStore{recs: make(map[string]*persistence.Recording)}
	for _, r := range recs {
		res.recs[r.ID] = r
	}
	return res
}

func (s *fakeStore) Insert(r *persistence.Recording) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.recs[r.ID] = r
	return nil
}

func (s *fakeStore) Get(id string) (*persistence.Recording, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	r, found := s.recs[id]
	if !found {
		return nil, errs.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) List() ([]persistence.Recording, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := make([]persistence.Recording, 0, len(s.recs))
	for _, r := range s.recs {
		res = append(res, *r)
	}
	return res, nil
}

func (s *fakeStore) Delete(id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, found := s.recs[id]; !found {
		return errs.ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

func (s *fakeStore) Update(id string, fields map[string]interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	r, found := s.recs[id]
	if !found {
		return errs.ErrNotFound
	}
	applyFields(r, fields)
	return nil
}

func (s *fakeStore) UpdateWhereStatus(id string, from []status.Status,
	fields map[string]interface{}, procErrs ...persistence.ProcessingError) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	r, found := s.recs[id]
	if !found {
		return errs.ErrNotFound
	}
	matched := false
	for _, st := range from {
		if status.From(r.Status) == st {
			matched = true
			break
		}
	}
	if !matched {
		return errs.NewPrecondition("wrong status %s of %s", r.Status, id)
	}
	applyFields(r, fields)
	r.ProcessingErrors = append(r.ProcessingErrors, procErrs...)
	return nil
}

func (s *fakeStore) AppendError(id string, msg string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	r, found := s.recs[id]
	if !found {
		return errs.ErrNotFound
	}
	r.ProcessingErrors = append(r.ProcessingErrors,
		persistence.ProcessingError{Message: msg, At: time.Now()})
	return nil
}

func (s *fakeStore) FindDuplicate(fileName, subjectName, subjectCategory string,
	meetingDate time.Time, windowStart time.Time) (*persistence.Recording, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, r := range s.recs {
		if r.OriginalFileName == fileName && r.SubjectName == subjectName &&
			r.SubjectCategory == subjectCategory && r.MeetingDate.Equal(meetingDate) {
			cp := *r
			return &cp, nil
		}
		if r.OriginalFileName == fileName && r.CreatedAt.After(windowStart) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func applyFields(r *persistence.Recording, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case persistence.FlStatus:
			r.Status = v.(string)
		case persistence.FlRawTranscript:
			r.RawTranscript = v.(string)
		case persistence.FlEditedTranscript:
			r.EditedTranscript = v.(string)
		case persistence.FlDurationSec:
			r.DurationSeconds = v.(float64)
		case persistence.FlLanguage:
			r.Language = v.(string)
		case persistence.FlSentiment:
			r.Sentiment = *v.(*persistence.Sentiment)
		case persistence.FlInsights:
			r.Insights = v.([]persistence.Insight)
		case persistence.FlActionItems:
			r.ActionItems = v.([]persistence.ActionItem)
		case persistence.FlExternalSyncStatus:
			r.ExternalSyncStatus = v.(string)
		case persistence.FlExternalRecordRef:
			r.ExternalRecordRef = v.(string)
		case persistence.FlProcessingStarted:
			t := v.(time.Time)
			r.ProcessingStartedAt = &t
		case persistence.FlProcessingEnded:
			t := v.(time.Time)
			r.ProcessingEndedAt = &t
		}
	}
}

type fakeStorage struct {
	dir string
}

func (s *fakeStorage) Save(folder, name string, reader io.Reader) (string, int64, error) {
	reference := filepath.Join(folder, name)
	fp := filepath.Join(s.dir, reference)
	if err := os.MkdirAll(filepath.Dir(fp), 0755); err != nil {
		return "", 0, err
	}
	f, err := os.Create(fp)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	n, err := io.Copy(f, reader)
	return reference, n, err
}

func (s *fakeStorage) Open(reference string) (*os.File, error) {
	return os.Open(filepath.Join(s.dir, reference))
}

func (s *fakeStorage) Delete(reference string) error {
	err := os.Remove(filepath.Join(s.dir, reference))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type fakeTranscriber struct {
	lock     sync.Mutex
	attempts int
	results  []func() (*transcriber.Result, error)
	gotName  string
	gotBody  string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, fileName string,
	audio io.Reader, languageHint string) (*transcriber.Result, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.gotName = fileName
	bt, _ := io.ReadAll(audio)
	f.gotBody = string(bt)
	i := f.attempts
	f.attempts++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]()
}

func transcribeOK(text string) func() (*transcriber.Result, error) {
	return func() (*transcriber.Result, error) {
		return &transcriber.Result{Text: text, DurationSeconds: 42.5, Language: "en"}, nil
	}
}

func transcribeFail(retryable bool) func() (*transcriber.Result, error) {
	return func() (*transcriber.Result, error) {
		return nil, errs.NewProvider("transcribe", retryable, errs.ErrNotFound)
	}
}

type fakeAnalyzer struct {
	sentErr error
	insErr  error
}

func (f *fakeAnalyzer) AnalyzeSentiment(ctx context.Context, text string) (*persistence.Sentiment, error) {
	if f.sentErr != nil {
		return nil, f.sentErr
	}
	return &persistence.Sentiment{Overall: "positive", Score: 0.7}, nil
}

func (f *fakeAnalyzer) ExtractInsights(ctx context.Context, text string) ([]persistence.Insight,
	[]persistence.ActionItem, error) {
	if f.insErr != nil {
		return nil, nil, f.insErr
	}
	return []persistence.Insight{{Text: "key point"}},
		[]persistence.ActionItem{{Text: "send samples"}}, nil
}

type fakeExtractor struct {
	tmpDir   string
	gotVideo string
	fail     bool
}

func (f *fakeExtractor) Extract(ctx context.Context, videoFile string) (string, error) {
	f.gotVideo = videoFile
	if f.fail {
		return "", errs.ErrNotFound
	}
	out := filepath.Join(f.tmpDir, "extracted.mp3")
	if err := os.WriteFile(out, []byte("extracted audio"), 0644); err != nil {
		return "", err
	}
	return out, nil
}

type fakeNotifier struct {
	lock sync.Mutex
	got  []string
}

func (f *fakeNotifier) Notify(id, address, status string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.got = append(f.got, status)
}

type pipelineTestData struct {
	store       *fakeStore
	storage     *fakeStorage
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
	extractor   *fakeExtractor
	pipeline    *Pipeline
}

func initPipelineTest(t *testing.T, rec *persistence.Recording,
	results ...func() (*transcriber.Result, error)) *pipelineTestData {
	d := &pipelineTestData{}
	d.store = newFakeStore(rec)
	d.storage = &fakeStorage{dir: t.TempDir()}
	if len(results) == 0 {
		results = []func() (*transcriber.Result, error){transcribeOK("hi doc")}
	}
	d.transcriber = &fakeTranscriber{results: results}
	d.analyzer = &fakeAnalyzer{}
	d.extractor = &fakeExtractor{tmpDir: t.TempDir()}

	var err error
	d.pipeline, err = NewPipeline(d.store, d.storage, d.transcriber, d.analyzer, d.extractor)
	assert.Nil(t, err)
	d.pipeline.backoffProvider = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, transcriptionRetries)
	}

	_, _, err = d.storage.Save("uploads", rec.ID+".mp3", strings.NewReader("audio body"))
	assert.Nil(t, err)
	return d
}

func pendingRecording(id string) *persistence.Recording {
	return &persistence.Recording{ID: id, OriginalFileName: "visit.mp3",
		FileReference: filepath.Join("uploads", id+".mp3"),
		MediaKind:     persistence.KindAudio,
		SubjectName:   "Dr. Smith", SubjectCategory: "doctor",
		Status:    status.Name(status.Pending),
		CreatedAt: time.Now()}
}

func TestNewPipeline_Fails(t *testing.T) {
	st := newFakeStore()
	fs := &fakeStorage{}
	tr := &fakeTranscriber{}
	an := &fakeAnalyzer{}
	ex := &fakeExtractor{}
	_, err := NewPipeline(nil, fs, tr, an, ex)
	assert.NotNil(t, err)
	_, err = NewPipeline(st, nil, tr, an, ex)
	assert.NotNil(t, err)
	_, err = NewPipeline(st, fs, nil, an, ex)
	assert.NotNil(t, err)
	_, err = NewPipeline(st, fs, tr, nil, ex)
	assert.NotNil(t, err)
	_, err = NewPipeline(st, fs, tr, an, nil)
	assert.NotNil(t, err)
}

func TestRun_Completes(t *testing.T) {
	rec := pendingRecording("id1")
	d := initPipelineTest(t, rec)

	d.pipeline.run("id1", "")

	r, err := d.store.Get("id1")
	assert.Nil(t, err)
	assert.Equal(t, status.Name(status.Completed), r.Status)
	assert.Equal(t, "hi doc", r.RawTranscript)
	assert.Equal(t, 42.5, r.DurationSeconds)
	assert.Equal(t, "en", r.Language)
	assert.Equal(t, "positive", r.Sentiment.Overall)
	assert.Equal(t, 1, len(r.Insights))
	assert.Equal(t, 1, len(r.ActionItems))
	assert.NotNil(t, r.ProcessingStartedAt)
	assert.NotNil(t, r.ProcessingEndedAt)
	assert.Equal(t, 0, len(r.ProcessingErrors))
	assert.Equal(t, 1, d.transcriber.attempts)
	assert.Equal(t, "id1.mp3", d.transcriber.gotName)
}

func TestRun_RetriesThenCompletes(t *testing.T) {
	rec := pendingRecording("id1")
	d := initPipelineTest(t, rec,
		transcribeFail(true), transcribeFail(true), transcribeOK("hi doc"))

	d.pipeline.run("id1", "")

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.Completed), r.Status)
	assert.Equal(t, "hi doc", r.RawTranscript)
	assert.Equal(t, 3, d.transcriber.attempts)
	assert.Equal(t, 2, len(r.ProcessingErrors))
}

func TestRun_RetryableExhausted(t *testing.T) {
	rec := pendingRecording("id1")
	d := initPipelineTest(t, rec, transcribeFail(true))

	d.pipeline.run("id1", "")

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.RetryableFailed), r.Status)
	assert.Equal(t, 3, d.transcriber.attempts)
	assert.Equal(t, 3, len(r.ProcessingErrors))
	assert.NotNil(t, r.ProcessingEndedAt)
	assert.Equal(t, "", r.RawTranscript)
}

func TestRun_PermanentFailure(t *testing.T) {
	rec := pendingRecording("id1")
	d := initPipelineTest(t, rec, transcribeFail(false))

	d.pipeline.run("id1", "")

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.Failed), r.Status)
	assert.Equal(t, 1, d.transcriber.attempts)
	assert.Equal(t, 1, len(r.ProcessingErrors))
}

func TestRun_AnalysisFailureKeepsTranscript(t *testing.T) {
	rec := pendingRecording("id1")
	d := initPipelineTest(t, rec)
	d.analyzer.sentErr = errs.NewProvider("sentiment", false, errs.ErrNotFound)

	d.pipeline.run("id1", "")

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.Failed), r.Status)
	assert.Equal(t, "hi doc", r.RawTranscript)
	assert.Equal(t, 1, len(r.ProcessingErrors))
}

func TestRun_SkipsWhenProcessing(t *testing.T) {
	rec := pendingRecording("id1")
	rec.Status = status.Name(status.Processing)
	d := initPipelineTest(t, rec)

	d.pipeline.run("id1", "")

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.Processing), r.Status)
	assert.Equal(t, 0, d.transcriber.attempts)
}

func TestRun_RetriesFromFailedStatus(t *testing.T) {
	rec := pendingRecording("id1")
	rec.Status = status.Name(status.RetryableFailed)
	d := initPipelineTest(t, rec)

	d.pipeline.run("id1", "")

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.Completed), r.Status)
}

func TestRun_RemovesTmpFile(t *testing.T) {
	rec := pendingRecording("id1")
	d := initPipelineTest(t, rec)
	tmpFile := filepath.Join(t.TempDir(), "id1.mp3")
	assert.Nil(t, os.WriteFile(tmpFile, []byte("audio"), 0644))

	d.pipeline.run("id1", tmpFile)

	_, err := os.Stat(tmpFile)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_ExtractsAudioFromVideo(t *testing.T) {
	rec := pendingRecording("id1")
	rec.MediaKind = persistence.KindVideo
	rec.FileReference = filepath.Join("uploads", "id1.mp4")
	d := initPipelineTest(t, rec)
	_, _, err := d.storage.Save("uploads", "id1.mp4", strings.NewReader("video body"))
	assert.Nil(t, err)

	d.pipeline.run("id1", "")

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.Completed), r.Status)
	assert.Contains(t, d.extractor.gotVideo, "id1.mp4")
	assert.Equal(t, "extracted.mp3", d.transcriber.gotName)
	assert.Equal(t, "extracted audio", d.transcriber.gotBody)
	_, err = os.Stat(filepath.Join(d.extractor.tmpDir, "extracted.mp3"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_FailsOnExtractFailure(t *testing.T) {
	rec := pendingRecording("id1")
	rec.MediaKind = persistence.KindVideo
	rec.FileReference = filepath.Join("uploads", "id1.mp4")
	d := initPipelineTest(t, rec)
	_, _, err := d.storage.Save("uploads", "id1.mp4", strings.NewReader("video body"))
	assert.Nil(t, err)
	d.extractor.fail = true

	d.pipeline.run("id1", "")

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.Failed), r.Status)
	assert.Equal(t, 1, len(r.ProcessingErrors))
	assert.Equal(t, 0, d.transcriber.attempts)
}

func TestRun_EmitsEvents(t *testing.T) {
	rec := pendingRecording("id1")
	d := initPipelineTest(t, rec)
	events := make(chan StatusEvent, 10)
	d.pipeline.Events = events

	d.pipeline.run("id1", "")

	close(events)
	var got []string
	for ev := range events {
		assert.Equal(t, "id1", ev.ID)
		got = append(got, ev.Status)
	}
	assert.Equal(t, []string{"processing", "completed"}, got)
}

func TestRun_Notifies(t *testing.T) {
	rec := pendingRecording("id1")
	rec.NotifyEmail = "a@a.a"
	d := initPipelineTest(t, rec)
	notifier := &fakeNotifier{}
	d.pipeline.Notifier = notifier

	d.pipeline.run("id1", "")

	assert.Equal(t, []string{"completed"}, notifier.got)
}

func TestReanalyze(t *testing.T) {
	rec := pendingRecording("id1")
	rec.Status = status.Name(status.Completed)
	rec.RawTranscript = "hi doc"
	d := initPipelineTest(t, rec)

	err := d.pipeline.Reanalyze("id1")
	assert.Nil(t, err)

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.Completed), r.Status)
	assert.Equal(t, "positive", r.Sentiment.Overall)
	assert.Equal(t, 1, len(r.Insights))
}

func TestReanalyze_PromotesFailed(t *testing.T) {
	rec := pendingRecording("id1")
	rec.Status = status.Name(status.Failed)
	rec.RawTranscript = "hi doc"
	d := initPipelineTest(t, rec)

	err := d.pipeline.Reanalyze("id1")
	assert.Nil(t, err)

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.Completed), r.Status)
	assert.NotNil(t, r.ProcessingEndedAt)
}

func TestReanalyze_KeepsEditedStatus(t *testing.T) {
	rec := pendingRecording("id1")
	rec.Status = status.Name(status.Edited)
	rec.RawTranscript = "hi doc"
	rec.EditedTranscript = "edited text"
	d := initPipelineTest(t, rec)

	err := d.pipeline.Reanalyze("id1")
	assert.Nil(t, err)

	r, _ := d.store.Get("id1")
	assert.Equal(t, status.Name(status.Edited), r.Status)
}

func TestReanalyze_FailsOnNoTranscript(t *testing.T) {
	rec := pendingRecording("id1")
	rec.Status = status.Name(status.Failed)
	d := initPipelineTest(t, rec)

	err := d.pipeline.Reanalyze("id1")
	assert.NotNil(t, err)
	assert.True(t, errs.IsPrecondition(err))
}

func TestReanalyze_FailsOnUnknownID(t *testing.T) {
	d := initPipelineTest(t, pendingRecording("id1"))
	err := d.pipeline.Reanalyze("none")
	assert.NotNil(t, err)
}

func TestReanalyze_FailsOnProviderFailure(t *testing.T) {
	rec := pendingRecording("id1")
	rec.Status = status.Name(status.Completed)
	rec.RawTranscript = "hi doc"
	d := initPipelineTest(t, rec)
	d.analyzer.insErr = errs.NewProvider("insights", false, errs.ErrNotFound)

	err := d.pipeline.Reanalyze("id1")
	assert.NotNil(t, err)

	r, _ := d.store.Get("id1")
	assert.Equal(t, 1, len(r.ProcessingErrors))
}
