package meeting

import (
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/app/meeting/api"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/errs"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/metrics"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/persistence"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/saver"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/status"
	"github.com/badoux/checkmail"
	"github.com/facebookgo/grace/gracehttp"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heptiolabs/healthcheck"
)

type serviceMetric struct {
	uploadResponseDur prometheus.ObserverVec
	uploadRequestSize prometheus.ObserverVec

	statusResponseDur prometheus.ObserverVec
}

// ServiceData keeps data required for service work
type ServiceData struct {
	Storage  FileStorage
	Records  RecordStore
	Pipeline PipelineRunner
	Syncer   CRMSyncer
	Mapper   CRMMapper
	Hub      *EventHub

	TmpDir       string
	MaxSizeBytes int64
	DedupeWindow time.Duration

	Port    int
	Health  healthcheck.Handler
	metrics serviceMetric
}

// StartWebServer starts the HTTP service and listens for the requests
func StartWebServer(data *ServiceData) error {
	cmdapp.Log.Infof("Starting HTTP service at %d", data.Port)
	r := NewRouter(data)

	portStr := strconv.Itoa(data.Port)
	srv := http.Server{
		Addr:              ":" + portStr,
		WriteTimeout:      15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       180 * time.Second,
		Handler:           r,
	}

	w := cmdapp.Log.Writer()
	defer w.Close()
	l := log.New(w, "", 0)
	gracehttp.SetLogger(l)

	return gracehttp.Serve(&srv)
}

// NewRouter creates the router for HTTP service
func NewRouter(data *ServiceData) *mux.Router {
	initMetrics(data)
	router := mux.NewRouter().StrictSlash(true)
	uh := promhttp.InstrumentHandlerDuration(data.metrics.uploadResponseDur,
		promhttp.InstrumentHandlerRequestSize(data.metrics.uploadRequestSize, uploadHandler{data: data}))
	sh := promhttp.InstrumentHandlerDuration(data.metrics.statusResponseDur, statusHandler{data: data})
	router.Methods("POST").Path("/upload").Handler(uh)
	router.Methods("GET").Path("/upload/status/{id}").Handler(sh)
	router.Methods("GET").Path("/recordings").Handler(listHandler{data: data})
	router.Methods("GET").Path("/recordings/{id}").Handler(getHandler{data: data})
	router.Methods("DELETE").Path("/recordings/{id}").Handler(deleteHandler{data: data})
	router.Methods("POST").Path("/recordings/{id}/retry").Handler(retryHandler{data: data})
	router.Methods("POST").Path("/recordings/{id}/reanalyze").Handler(reanalyzeHandler{data: data})
	router.Methods("PUT").Path("/recordings/{id}/transcript").Handler(transcriptHandler{data: data})
	router.Methods("POST").Path("/recordings/{id}/sync").Handler(syncHandler{data: data})
	router.Methods("GET").Path("/recordings/{id}/artifacts/{name}").Handler(artifactHandler{data: data})
	if data.Hub != nil {
		router.Handle("/subscribe", webSocketHandler{data: data})
	}
	router.Methods("GET").Path("/metrics").Handler(promhttp.Handler())
	if data.Health != nil {
		router.Methods("GET").Path("/live").HandlerFunc(data.Health.LiveEndpoint)
		router.Methods("GET").Path("/ready").HandlerFunc(data.Health.ReadyEndpoint)
	}
	return router
}

func initMetrics(data *ServiceData) {
	if data.metrics.uploadResponseDur != nil {
		return
	}
	namespace := "meeting_service"
	data.metrics.uploadResponseDur = newDurMetric(namespace, "upload_durations_seconds", "Upload request durations")
	data.metrics.statusResponseDur = newDurMetric(namespace, "status_durations_seconds", "Status request durations")
	sm := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace,
		Name: "upload_request_size_bytes", Help: "Upload request sizes",
		Buckets: prometheus.ExponentialBuckets(1024, 8, 8)}, nil)
	cmdapp.LogIf(metrics.Register(sm))
	data.metrics.uploadRequestSize = sm
}

func newDurMetric(namespace, name, help string) prometheus.ObserverVec {
	m := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace,
		Name: name, Help: help}, nil)
	cmdapp.LogIf(metrics.Register(m))
	return m
}

var (
	audioExtensions = map[string]bool{".mp3": true, ".wav": true, ".m4a": true}
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true}
)

func mediaKindFor(ext string) (string, error) {
	if audioExtensions[ext] {
		return persistence.KindAudio, nil
	}
	if videoExtensions[ext] {
		return persistence.KindVideo, nil
	}
	return "", errs.NewValidation("wrong file extension: %s", ext)
}

type uploadHandler struct {
	data *ServiceData
}

func (h uploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cmdapp.Log.Infof("Saving file from %s", r.Host)

	if h.data.MaxSizeBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.data.MaxSizeBytes)
	}
	err := r.ParseMultipartForm(32 << 20)
	if err != nil {
		http.Error(w, "Can't parse MultipartForm", http.StatusBadRequest)
		cmdapp.Log.Error(errors.Wrap(err, "Can't parse MultipartForm"))
		return
	}
	defer cleanFiles(r.MultipartForm)

	prm, err := takeUploadParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		cmdapp.Log.Error(err)
		return
	}

	file, handler, err := r.FormFile(api.PrmFile)
	if err != nil {
		http.Error(w, "No file", http.StatusBadRequest)
		cmdapp.Log.Error(errors.Wrap(err, "no form param file"))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(handler.Filename))
	kind, err := mediaKindFor(ext)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		cmdapp.Log.Error(err)
		return
	}

	existing, err := h.data.Records.FindDuplicate(handler.Filename, prm.subjectName,
		prm.subjectCategory, prm.meetingDate, time.Now().Add(-h.data.dedupeWindow()))
	if err != nil {
		http.Error(w, "Can't check duplicates", http.StatusInternalServerError)
		cmdapp.Log.Error(err)
		return
	}
	if existing != nil {
		cmdapp.Log.Infof("Duplicate submission of '%s', returning %s", handler.Filename, existing.ID)
		writeJSON(w, http.StatusOK, &api.UploadResult{RecordingID: existing.ID, Status: existing.Status})
		return
	}

	id := uuid.New().String()
	tmpFile, err := h.saveTmp(id+ext, file)
	if err != nil {
		http.Error(w, "Can't save file", http.StatusInternalServerError)
		cmdapp.Log.Error(err)
		return
	}

	reference, size, err := h.saveToStorage(id+ext, tmpFile)
	if err != nil {
		removeIfExists(tmpFile)
		http.Error(w, "Can't save file", http.StatusInternalServerError)
		cmdapp.Log.Error(err)
		return
	}

	now := time.Now()
	rec := persistence.Recording{ID: id,
		OriginalFileName: handler.Filename, FileReference: reference,
		FileSizeBytes: size, MediaKind: kind,
		MimeType:    handler.Header.Get("Content-Type"),
		MeetingDate: prm.meetingDate, SubjectName: prm.subjectName,
		SubjectCategory: prm.subjectCategory, Attendees: prm.attendees,
		NotifyEmail: prm.email,
		Status:      status.Name(status.Pending), CreatedAt: now, UpdatedAt: now}
	err = h.data.Records.Insert(&rec)
	if err != nil {
		removeIfExists(tmpFile)
		cmdapp.LogIf(h.data.Storage.Delete(reference))
		http.Error(w, "Can't save recording to DB", http.StatusInternalServerError)
		cmdapp.Log.Error(err)
		return
	}

	// upload is accepted, processing continues without the caller
	h.data.Pipeline.Start(id, tmpFile)

	writeJSON(w, http.StatusCreated, &api.UploadResult{RecordingID: id, Status: rec.Status})
}

func (h uploadHandler) saveTmp(name string, file multipart.File) (string, error) {
	tmpFile := filepath.Join(h.data.TmpDir, name)
	f, err := os.Create(tmpFile)
	if err != nil {
		return "", errors.Wrap(err, "Can't create tmp file "+tmpFile)
	}
	defer f.Close()
	_, err = io.Copy(f, file)
	if err != nil {
		removeIfExists(tmpFile)
		return "", errors.Wrap(err, "Can't write tmp file "+tmpFile)
	}
	return tmpFile, nil
}

func (h uploadHandler) saveToStorage(name, tmpFile string) (string, int64, error) {
	f, err := os.Open(tmpFile)
	if err != nil {
		return "", 0, errors.Wrap(err, "Can't read tmp file "+tmpFile)
	}
	defer f.Close()
	return h.data.Storage.Save(saver.UploadFolder, name, f)
}

type uploadParams struct {
	subjectName     string
	subjectCategory string
	meetingDate     time.Time
	attendees       []persistence.Attendee
	email           string
}

func takeUploadParams(r *http.Request) (*uploadParams, error) {
	res := uploadParams{}
	res.subjectName = strings.TrimSpace(r.FormValue(api.PrmSubjectName))
	res.subjectCategory = strings.TrimSpace(r.FormValue(api.PrmSubjectCategory))
	dateStr := strings.TrimSpace(r.FormValue(api.PrmMeetingDate))
	for _, p := range []struct{ name, v string }{
		{api.PrmSubjectName, res.subjectName},
		{api.PrmSubjectCategory, res.subjectCategory},
		{api.PrmMeetingDate, dateStr}} {
		if p.v == "" {
			return nil, errs.NewValidation("no required parameter '%s'", p.name)
		}
	}
	var err error
	res.meetingDate, err = time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		return nil, errs.NewValidation("wrong date '%s', expected YYYY-MM-DD", dateStr)
	}

	res.email = strings.TrimSpace(r.FormValue(api.PrmEmail))
	if res.email != "" {
		if err := checkmail.ValidateFormat(res.email); err != nil {
			return nil, errs.NewValidation("wrong email '%s'", res.email)
		}
	}

	attStr := r.FormValue(api.PrmAttendees)
	if attStr != "" {
		if err := json.Unmarshal([]byte(attStr), &res.attendees); err != nil {
			return nil, errs.NewValidation("wrong attendees list")
		}
		for _, a := range res.attendees {
			if a.Email != "" {
				if err := checkmail.ValidateFormat(a.Email); err != nil {
					return nil, errs.NewValidation("wrong attendee email '%s'", a.Email)
				}
			}
		}
	}
	return &res, nil
}

func cleanFiles(f *multipart.Form) {
	if f != nil {
		cmdapp.LogIf(f.RemoveAll())
	}
}

type statusHandler struct {
	data *ServiceData
}

func (h statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.data.Records.Get(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	res := api.StatusResult{ID: rec.ID, Status: rec.Status,
		OriginalFileName: rec.OriginalFileName, FileSizeBytes: rec.FileSizeBytes,
		SubjectName: rec.SubjectName, SubjectCategory: rec.SubjectCategory,
		ProcessingStartedAt: rec.ProcessingStartedAt,
		ProcessingEndedAt:   rec.ProcessingEndedAt,
		Errors:              rec.ProcessingErrors}
	if res.Errors == nil {
		res.Errors = make([]persistence.ProcessingError, 0)
	}
	writeJSON(w, http.StatusOK, &res)
}

type listHandler struct {
	data *ServiceData
}

func (h listHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	recs, err := h.data.Records.List()
	if err != nil {
		http.Error(w, "Can't list recordings", http.StatusInternalServerError)
		cmdapp.Log.Error(err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type getHandler struct {
	data *ServiceData
}

func (h getHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.data.Records.Get(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type deleteHandler struct {
	data *ServiceData
}

func (h deleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.data.Records.Get(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	cmdapp.LogIf(h.data.Storage.Delete(rec.FileReference))
	for _, a := range rec.Artifacts {
		cmdapp.LogIf(h.data.Storage.Delete(a.Reference))
	}
	if err := h.data.Records.Delete(id); err != nil {
		writeError(w, id, err)
		return
	}
	cmdapp.Log.Infof("Deleted recording %s", id)
	w.WriteHeader(http.StatusNoContent)
}

type retryHandler struct {
	data *ServiceData
}

func (h retryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.data.Records.Get(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	if !status.CanRetry(status.From(rec.Status)) {
		http.Error(w, "Recording is not retryable in status "+rec.Status, http.StatusBadRequest)
		cmdapp.Log.Errorf("Not retryable %s in status %s", id, rec.Status)
		return
	}
	cmdapp.Log.Infof("Retrying %s", id)
	h.data.Pipeline.Start(id, "")
	writeJSON(w, http.StatusOK, &api.UploadResult{RecordingID: id, Status: rec.Status})
}

type reanalyzeHandler struct {
	data *ServiceData
}

func (h reanalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.data.Pipeline.Reanalyze(id); err != nil {
		writeError(w, id, err)
		return
	}
	rec, err := h.data.Records.Get(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type transcriptHandler struct {
	data *ServiceData
}

func (h transcriptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var input api.TranscriptUpdate
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Can't parse request", http.StatusBadRequest)
		cmdapp.Log.Error(err)
		return
	}
	if strings.TrimSpace(input.Transcript) == "" {
		http.Error(w, "No transcript", http.StatusBadRequest)
		return
	}
	rec, err := h.data.Records.Get(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	fields := map[string]interface{}{persistence.FlEditedTranscript: input.Transcript}
	if status.From(rec.Status) == status.Completed {
		fields[persistence.FlStatus] = status.Name(status.Edited)
	}
	if err := h.data.Records.Update(id, fields); err != nil {
		writeError(w, id, err)
		return
	}
	rec, err = h.data.Records.Get(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type syncHandler struct {
	data *ServiceData
}

func (h syncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.data.Records.Get(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	st := status.From(rec.Status)
	if st != status.Completed && st != status.Edited {
		http.Error(w, "Recording is not completed", http.StatusBadRequest)
		cmdapp.Log.Errorf("Can't sync %s in status %s", id, rec.Status)
		return
	}
	ref, err := h.data.Syncer.Sync(r.Context(), h.data.Mapper.Map(rec))
	if err != nil {
		cmdapp.LogIf(h.data.Records.Update(id,
			map[string]interface{}{persistence.FlExternalSyncStatus: persistence.SyncFailed}))
		http.Error(w, "Can't sync to CRM", http.StatusBadGateway)
		cmdapp.Log.Error(err)
		return
	}
	err = h.data.Records.Update(id,
		map[string]interface{}{persistence.FlExternalSyncStatus: persistence.SyncSynced,
			persistence.FlExternalRecordRef: ref})
	if err != nil {
		writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.SyncResult{RecordingID: id,
		SyncStatus: persistence.SyncSynced, ExternalRecordRef: ref})
}

type artifactHandler struct {
	data *ServiceData
}

func (h artifactHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	name := mux.Vars(r)["name"]
	rec, err := h.data.Records.Get(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	var ref string
	for _, a := range rec.Artifacts {
		if filepath.Base(a.Reference) == name {
			ref = a.Reference
			break
		}
	}
	if ref == "" {
		http.Error(w, "Unknown artifact: "+name, http.StatusNotFound)
		return
	}
	file, err := h.data.Storage.Open(ref)
	if err != nil {
		http.Error(w, "Can't open artifact", http.StatusNotFound)
		cmdapp.Log.Error(err)
		return
	}
	defer file.Close()
	fileInfo, err := file.Stat()
	if err != nil {
		http.Error(w, "Can't open artifact", http.StatusNotFound)
		cmdapp.Log.Error(err)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+fileInfo.Name())
	http.ServeContent(w, r, fileInfo.Name(), fileInfo.ModTime(), file)
}

func (data *ServiceData) dedupeWindow() time.Duration {
	if data.DedupeWindow > 0 {
		return data.DedupeWindow
	}
	return 2 * time.Minute
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(data); err != nil {
		cmdapp.Log.Error(err)
	}
}

// writeError maps domain errors to HTTP status codes
func writeError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, errs.ErrNotFound) {
		http.Error(w, "Unknown ID: "+id, http.StatusNotFound)
		cmdapp.Log.Errorf("ID not found %s", id)
		return
	}
	if errs.IsPrecondition(err) || errs.IsValidation(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		cmdapp.Log.Error(err)
		return
	}
	http.Error(w, "Service error", http.StatusInternalServerError)
	cmdapp.Log.Error(err)
}
