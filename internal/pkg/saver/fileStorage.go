package saver

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/pkg/errors"
)

// Logical storage folders. Raw uploads and generated documents never share
// a folder, keys are append-only per folder
const (
	UploadFolder   = "uploads"
	DocumentFolder = "documents"
)

// WriterCloser keeps Writer interface and close function
type WriterCloser interface {
	io.Writer
	Close() error
}

// OpenFileFunc declares function to open file by name and return Writer
type OpenFileFunc func(fileName string) (WriterCloser, error)

// LocalFileStorage persists media files on local disk. A stored object is
// addressed by its reference - the path relative to StoragePath
type LocalFileStorage struct {
	StoragePath  string
	OpenFileFunc OpenFileFunc
}

// NewLocalFileStorage creates LocalFileStorage instance and prepares folders
func NewLocalFileStorage(storagePath string) (*LocalFileStorage, error) {
	if storagePath == "" {
		return nil, errors.New("No storage path provided")
	}
	for _, d := range []string{UploadFolder, DocumentFolder} {
		err := os.MkdirAll(filepath.Join(storagePath, d), os.ModePerm)
		if err != nil {
			return nil, errors.Wrap(err, "Can't init storage dir "+d)
		}
	}
	f := LocalFileStorage{StoragePath: storagePath, OpenFileFunc: openFile}
	return &f, nil
}

// Save stores the content and returns its reference and size
func (fs *LocalFileStorage) Save(folder, name string, reader io.Reader) (string, int64, error) {
	reference := filepath.Join(folder, name)
	fileName := filepath.Join(fs.StoragePath, reference)
	f, err := fs.OpenFileFunc(fileName)
	if err != nil {
		return "", 0, errors.Wrap(err, "Can't create file "+fileName)
	}
	defer f.Close()
	savedBytes, err := io.Copy(f, reader)
	if err != nil {
		return "", 0, errors.Wrap(err, "Can't save file "+fileName)
	}
	cmdapp.Log.Infof("Saved file %s. Size = %d b", fileName, savedBytes)
	return reference, savedBytes, nil
}

// Open returns the stored file for reading
func (fs *LocalFileStorage) Open(reference string) (*os.File, error) {
	fileName, err := fs.resolve(reference)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open file "+fileName)
	}
	return f, nil
}

// Delete removes the stored file. Missing file is not an error
func (fs *LocalFileStorage) Delete(reference string) error {
	fileName, err := fs.resolve(reference)
	if err != nil {
		return err
	}
	err = os.Remove(fileName)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "Can't delete file "+fileName)
	}
	return nil
}

// HealthyFunc returns liveness check function for the storage dir
func (fs *LocalFileStorage) HealthyFunc() func() error {
	return func() error {
		probe := filepath.Join(fs.StoragePath, ".probe")
		f, err := os.OpenFile(probe, os.O_WRONLY|os.O_CREATE, 0666)
		if err != nil {
			return err
		}
		_ = f.Close()
		return os.Remove(probe)
	}
}

// resolve maps a reference to a file path, rejecting escapes from the storage root
func (fs *LocalFileStorage) resolve(reference string) (string, error) {
	cleaned := filepath.Clean(reference)
	if cleaned == "" || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", errors.New("Wrong file reference " + reference)
	}
	return filepath.Join(fs.StoragePath, cleaned), nil
}

func openFile(fileName string) (WriterCloser, error) {
	return os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
}
