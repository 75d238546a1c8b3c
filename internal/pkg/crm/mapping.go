package crm

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/persistence"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// FieldMap keeps the recording field -> CRM field translation table
type FieldMap struct {
	Fields   map[string]string `yaml:"fields"`
	Defaults map[string]string `yaml:"defaults"`
}

// FileMapping loads the CRM field mapping from a yaml file and reloads it on
// file change
type FileMapping struct {
	file    string
	m       sync.RWMutex
	current *FieldMap
	watcher *fsnotify.Watcher
}

// NewFileMapping creates FileMapping instance from dir containing crm.mapping.yml
func NewFileMapping(path string) (*FileMapping, error) {
	cmdapp.Log.Infof("Init CRM mapping from: %s", path)
	if path == "" {
		return nil, errors.New("No CRM mapping path provided")
	}
	return newFileMapping(filepath.Join(path, "crm.mapping.yml"))
}

func newFileMapping(file string) (*FileMapping, error) {
	f := FileMapping{file: file}
	fm, err := readMapping(file)
	if err != nil {
		return nil, err
	}
	f.current = fm

	f.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "Can't init mapping watcher")
	}
	err = f.watcher.Add(file)
	if err != nil {
		return nil, errors.Wrap(err, "Can't watch mapping file "+file)
	}
	go f.watch()
	return &f, nil
}

// Map translates the completed recording to the CRM payload
func (f *FileMapping) Map(r *persistence.Recording) map[string]interface{} {
	f.m.RLock()
	defer f.m.RUnlock()

	values := map[string]interface{}{
		"id":              r.ID,
		"subjectName":     r.SubjectName,
		"subjectCategory": r.SubjectCategory,
		"meetingDate":     r.MeetingDate.Format("2006-01-02"),
		"durationSeconds": r.DurationSeconds,
		"transcript":      r.Transcript(),
		"sentiment":       r.Sentiment.Overall,
		"sentimentScore":  r.Sentiment.Score,
		"fileName":        r.OriginalFileName,
	}
	res := make(map[string]interface{})
	for from, to := range f.current.Fields {
		if v, ok := values[from]; ok {
			res[to] = v
		}
	}
	for k, v := range f.current.Defaults {
		res[k] = v
	}
	return res
}

// Close stops the file watcher
func (f *FileMapping) Close() error {
	return f.watcher.Close()
}

func (f *FileMapping) watch() {
	for {
		select {
		case e, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fm, err := readMapping(f.file)
			if err != nil {
				cmdapp.Log.Error(errors.Wrap(err, "Can't reload CRM mapping"))
				continue
			}
			f.m.Lock()
			f.current = fm
			f.m.Unlock()
			cmdapp.Log.Infof("CRM mapping reloaded from: %s", f.file)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			cmdapp.Log.Error(err)
		}
	}
}

func readMapping(file string) (*FieldMap, error) {
	fl, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open mapping file "+file)
	}
	defer fl.Close()
	var res FieldMap
	d := yaml.NewDecoder(fl)
	err = d.Decode(&res)
	if err != nil {
		return nil, errors.Wrap(err, "Can't decode mapping file "+file)
	}
	if len(res.Fields) == 0 {
		return nil, errors.New("Empty fields map in " + file)
	}
	for from := range res.Fields {
		if strings.TrimSpace(from) == "" {
			return nil, errors.New("Empty field name in " + file)
		}
	}
	return &res, nil
}
