package meeting

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/errs"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/metrics"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/persistence"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/status"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/transcriber"
	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// StatusEvent is emitted on every status transition of a recording
type StatusEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

const transcriptionRetries = 2 // additional attempts after the first one

// Pipeline drives one recording from upload through transcription and
// analysis to a terminal state. Each recording runs on its own goroutine,
// errors never reach the request that scheduled the run - they are persisted
// on the recording and discoverable over the status interface
type Pipeline struct {
	records     RecordStore
	storage     FileStorage
	transcriber Transcriber
	analyzer    Analyzer
	extractor   Extractor

	// optional collaborators
	Notifier Notifier
	Events   chan<- StatusEvent

	TranscriptionTimeout time.Duration
	AnalysisTimeout      time.Duration

	backoffProvider func() backoff.BackOff
	runCounter      *prometheus.CounterVec
}

// NewPipeline creates Pipeline instance
func NewPipeline(records RecordStore, storage FileStorage, tr Transcriber,
	an Analyzer, ex Extractor) (*Pipeline, error) {
	if records == nil {
		return nil, errors.New("No record store provided")
	}
	if storage == nil {
		return nil, errors.New("No file storage provided")
	}
	if tr == nil {
		return nil, errors.New("No transcriber provided")
	}
	if an == nil {
		return nil, errors.New("No analyzer provided")
	}
	if ex == nil {
		return nil, errors.New("No audio extractor provided")
	}
	p := &Pipeline{records: records, storage: storage, transcriber: tr,
		analyzer: an, extractor: ex,
		TranscriptionTimeout: 5 * time.Minute, AnalysisTimeout: 2 * time.Minute,
		backoffProvider: newTranscriptionBackoff}
	p.runCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting", Subsystem: "pipeline",
		Name: "runs_total", Help: "Pipeline runs by final status"}, []string{"result"})
	if err := metrics.Register(p.runCounter); err != nil {
		return nil, errors.Wrap(err, "Can't register metrics")
	}
	return p, nil
}

func newTranscriptionBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	return backoff.WithMaxRetries(bo, transcriptionRetries)
}

// Start schedules the pipeline for the recording and returns immediately.
// tmpFile is the local temp copy of the upload, removed when the run exits
func (p *Pipeline) Start(id string, tmpFile string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				cmdapp.Log.Errorf("Pipeline panic for %s: %v", id, r)
			}
		}()
		p.run(id, tmpFile)
	}()
}

func (p *Pipeline) run(id string, tmpFile string) {
	defer removeIfExists(tmpFile)

	text, err := p.runTranscription(id)
	if err != nil {
		return
	}
	p.runAnalysis(id, text)
}

// runTranscription moves the recording to processing, retrieves the stored
// media, extracts audio from video, invokes the provider with bounded retry
// and persists the transcript. Every temp file is removed before return
func (p *Pipeline) runTranscription(id string) (string, error) {
	rec, err := p.records.Get(id)
	if err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Can't load recording "+id))
		return "", err
	}

	now := time.Now()
	err = p.records.UpdateWhereStatus(id,
		[]status.Status{status.Pending, status.Failed, status.RetryableFailed},
		map[string]interface{}{persistence.FlStatus: status.Name(status.Processing),
			persistence.FlProcessingStarted: now})
	if err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Can't start processing "+id))
		return "", err
	}
	p.emit(id, status.Processing)

	audioRef, tmpAudio, err := p.prepareAudio(rec)
	if tmpAudio != "" {
		defer removeIfExists(tmpAudio)
	}
	if err != nil {
		cmdapp.LogIf(p.records.AppendError(id, err.Error()))
		p.failTranscription(rec, err)
		return "", err
	}

	// attempt errors are already appended inside the retry loop
	res, err := p.transcribeWithRetry(rec, audioRef, tmpAudio)
	if err != nil {
		p.failTranscription(rec, err)
		return "", err
	}

	err = p.records.UpdateWhereStatus(id, []status.Status{status.Processing},
		map[string]interface{}{persistence.FlRawTranscript: res.Text,
			persistence.FlDurationSec: res.DurationSeconds,
			persistence.FlLanguage:    res.Language})
	if err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Can't save transcript for "+id))
		cmdapp.LogIf(p.records.AppendError(id, err.Error()))
		p.failTranscription(rec, err)
		return "", err
	}
	cmdapp.Log.Infof("Transcribed %s: %.1fs of audio", id, res.DurationSeconds)
	return res.Text, nil
}

// prepareAudio returns either the stored reference to use directly (audio
// upload) or a local temp file with the extracted track (video upload)
func (p *Pipeline) prepareAudio(rec *persistence.Recording) (string, string, error) {
	if rec.MediaKind != persistence.KindVideo {
		return rec.FileReference, "", nil
	}
	f, err := p.storage.Open(rec.FileReference)
	if err != nil {
		return "", "", errs.NewStorage(err)
	}
	videoPath := f.Name()
	_ = f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), p.TranscriptionTimeout)
	defer cancel()
	tmpAudio, err := p.extractor.Extract(ctx, videoPath)
	if err != nil {
		return "", "", errs.NewProvider("extract-audio", false, err)
	}
	return "", tmpAudio, nil
}

func (p *Pipeline) transcribeWithRetry(rec *persistence.Recording, audioRef, tmpAudio string) (*transcriber.Result, error) {
	var res *transcriber.Result
	op := func() error {
		reader, name, err := p.openAudio(audioRef, tmpAudio)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer reader.Close()

		ctx, cancel := context.WithTimeout(context.Background(), p.TranscriptionTimeout)
		defer cancel()
		r, err := p.transcriber.Transcribe(ctx, name, reader, rec.Language)
		if err != nil {
			cmdapp.LogIf(p.records.AppendError(rec.ID, err.Error()))
			if errs.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		res = r
		return nil
	}
	err := backoff.Retry(op, p.backoffProvider())
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) openAudio(audioRef, tmpAudio string) (io.ReadCloser, string, error) {
	if tmpAudio != "" {
		f, err := os.Open(tmpAudio)
		if err != nil {
			return nil, "", errs.NewStorage(err)
		}
		return f, filepath.Base(tmpAudio), nil
	}
	f, err := p.storage.Open(audioRef)
	if err != nil {
		return nil, "", errs.NewStorage(err)
	}
	return f, filepath.Base(audioRef), nil
}

// failTranscription closes the run with failed or retryable_failed. The raw
// file stays in the store so an explicit retry can reprocess it
func (p *Pipeline) failTranscription(rec *persistence.Recording, cause error) {
	st := status.Failed
	if errs.IsRetryable(cause) {
		st = status.RetryableFailed
	}
	p.finish(rec, st)
}

// runAnalysis invokes sentiment classification and insight extraction
// concurrently and persists both in one atomic update, so a reader never
// observes one without the other. Analysis failure keeps the transcript -
// completed work is not rolled back
func (p *Pipeline) runAnalysis(id, text string) {
	rec, err := p.records.Get(id)
	if err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Can't load recording "+id))
		return
	}
	if text == "" {
		err := errs.NewPrecondition("no transcript for analysis of %s", id)
		cmdapp.Log.Error(err)
		cmdapp.LogIf(p.records.AppendError(id, err.Error()))
		p.finish(rec, status.Failed)
		return
	}

	sent, insights, actionItems, err := p.analyze(text)
	if err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Analysis failed for "+id))
		cmdapp.LogIf(p.records.AppendError(id, err.Error()))
		p.finish(rec, status.Failed)
		return
	}

	err = p.records.UpdateWhereStatus(id, []status.Status{status.Processing},
		map[string]interface{}{persistence.FlStatus: status.Name(status.Completed),
			persistence.FlSentiment:       sent,
			persistence.FlInsights:        insights,
			persistence.FlActionItems:     actionItems,
			persistence.FlProcessingEnded: time.Now()})
	if err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Can't complete "+id))
		cmdapp.LogIf(p.records.AppendError(id, err.Error()))
		p.finish(rec, status.Failed)
		return
	}
	p.runCounter.WithLabelValues(status.Name(status.Completed)).Inc()
	p.emit(id, status.Completed)
	p.notify(rec, status.Completed)
	cmdapp.Log.Infof("Completed %s", id)
}

// analyze runs both provider calls concurrently, both must succeed
func (p *Pipeline) analyze(text string) (*persistence.Sentiment,
	[]persistence.Insight, []persistence.ActionItem, error) {
	var (
		sent        *persistence.Sentiment
		insights    []persistence.Insight
		actionItems []persistence.ActionItem
		sentErr     error
		insErr      error
	)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.AnalysisTimeout)
		defer cancel()
		sent, sentErr = p.analyzer.AnalyzeSentiment(ctx, text)
	}()
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.AnalysisTimeout)
		defer cancel()
		insights, actionItems, insErr = p.analyzer.ExtractInsights(ctx, text)
	}()
	wg.Wait()
	if sentErr != nil {
		return nil, nil, nil, sentErr
	}
	if insErr != nil {
		return nil, nil, nil, insErr
	}
	return sent, insights, actionItems, nil
}

// Reanalyze re-runs the analysis step over the current transcript, preferring
// the user edited version. Synchronous - the caller waits for the result
func (p *Pipeline) Reanalyze(id string) error {
	rec, err := p.records.Get(id)
	if err != nil {
		return err
	}
	text := rec.Transcript()
	if text == "" {
		return errs.NewPrecondition("no transcript to reanalyze for %s", id)
	}

	sent, insights, actionItems, err := p.analyze(text)
	if err != nil {
		cmdapp.LogIf(p.records.AppendError(id, err.Error()))
		return err
	}

	fields := map[string]interface{}{persistence.FlSentiment: sent,
		persistence.FlInsights:    insights,
		persistence.FlActionItems: actionItems}
	// a failed recording with a transcript becomes completed again,
	// completed or edited never regress
	if status.From(rec.Status) == status.Failed {
		fields[persistence.FlStatus] = status.Name(status.Completed)
		fields[persistence.FlProcessingEnded] = time.Now()
	}
	err = p.records.Update(id, fields)
	if err != nil {
		return err
	}
	if st, ok := fields[persistence.FlStatus]; ok {
		p.emit(id, status.From(st.(string)))
	}
	cmdapp.Log.Infof("Reanalyzed %s", id)
	return nil
}

// finish closes the run in the given failure or terminal state
func (p *Pipeline) finish(rec *persistence.Recording, st status.Status) {
	err := p.records.UpdateWhereStatus(rec.ID, []status.Status{status.Processing},
		map[string]interface{}{persistence.FlStatus: status.Name(st),
			persistence.FlProcessingEnded: time.Now()})
	if err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Can't finish "+rec.ID))
		return
	}
	p.runCounter.WithLabelValues(status.Name(st)).Inc()
	p.emit(rec.ID, st)
	p.notify(rec, st)
}

func (p *Pipeline) emit(id string, st status.Status) {
	if p.Events == nil {
		return
	}
	select {
	case p.Events <- StatusEvent{ID: id, Status: status.Name(st)}:
	default:
		cmdapp.Log.Warnf("Dropping status event for %s", id)
	}
}

func (p *Pipeline) notify(rec *persistence.Recording, st status.Status) {
	if p.Notifier == nil {
		return
	}
	p.Notifier.Notify(rec.ID, rec.NotifyEmail, status.Name(st))
}

func removeIfExists(file string) {
	if file == "" {
		return
	}
	err := os.Remove(file)
	if err != nil && !os.IsNotExist(err) {
		cmdapp.Log.Error(errors.Wrap(err, "Can't remove tmp file "+file))
	}
}
