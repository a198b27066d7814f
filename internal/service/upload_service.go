package service

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// SmartPrefix marks uploads that feed a smart mix.
const SmartPrefix = "smart_"

var ErrInvalidFilename = errors.New("invalid filename")

// UploadService stores incoming audio flat under one directory
type UploadService struct {
	dir string
}

func NewUploadService(dir string) *UploadService {
	return &UploadService{dir: dir}
}

func (s *UploadService) Dir() string {
	return s.dir
}

// SafeName reduces a client supplied file name to its base name and
// rejects anything that would escape the directory.
func SafeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", errors.Wrapf(ErrInvalidFilename, "%q", name)
	}
	return name, nil
}

// Save writes body to <dir>/<prefix><filename> and returns the path.
// An existing upload with the same name is replaced.
func (s *UploadService) Save(filename, prefix string, body io.Reader) (string, error) {
	name, err := SafeName(filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create upload directory")
	}

	path := filepath.Join(s.dir, prefix+name)
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", errors.Wrap(err, "failed to create upload")
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "failed to write upload")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "failed to write upload")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "failed to store upload")
	}
	return path, nil
}
