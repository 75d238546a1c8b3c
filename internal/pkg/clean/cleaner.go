package clean

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/pkg/errors"
)

// OldFileCleaner removes stale files from the tmp working dir. The pipeline
// deletes its own temp files on every exit path, the cleaner is a backstop
// for files orphaned by a process crash
type OldFileCleaner struct {
	dir    string
	maxAge time.Duration
}

// NewOldFileCleaner creates OldFileCleaner instance
func NewOldFileCleaner(dir string, maxAge time.Duration) (*OldFileCleaner, error) {
	if dir == "" {
		return nil, errors.New("No tmp dir provided")
	}
	if maxAge <= 0 {
		return nil, errors.New("Wrong max age for cleaner")
	}
	return &OldFileCleaner{dir: dir, maxAge: maxAge}, nil
}

// Clean removes files older than maxAge
func (c *OldFileCleaner) Clean() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return errors.Wrap(err, "Can't read dir "+c.dir)
	}
	deadline := time.Now().Add(-c.maxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			cmdapp.Log.Warn(err)
			continue
		}
		if info.ModTime().After(deadline) {
			continue
		}
		fp := filepath.Join(c.dir, e.Name())
		cmdapp.Log.Infof("Removing old tmp file: %s", fp)
		if err := os.Remove(fp); err != nil {
			cmdapp.Log.Error(errors.Wrap(err, "Can't remove "+fp))
		}
	}
	return nil
}
