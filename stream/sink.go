package stream

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Sink is the byte sink an archive writes into. A sink either borrows a
// caller supplied writer, which the caller keeps responsible for, or
// owns a file opened here, which Close closes.
type Sink struct {
	w    io.Writer
	file *os.File

	owned bool

	finalPath string
	tmpPath   string
}

func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

func CreateSink(path string) (*Sink, error) {

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to create sink file : %s", err.Error())
	}

	return &Sink{
		w:     file,
		file:  file,
		owned: true,
	}, nil
}

// CreateSinkAtomic writes into a uniquely named temp file next to path
// and renames it over path on Close. An aborted or failed sink leaves
// path untouched.
func CreateSinkAtomic(path string) (*Sink, error) {

	tmpPath := filepath.Join(filepath.Dir(path), filepath.Base(path)+"."+uuid.NewString()+".tmp")

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to create temp sink file : %s", err.Error())
	}

	return &Sink{
		w:         file,
		file:      file,
		owned:     true,
		finalPath: path,
		tmpPath:   tmpPath,
	}, nil
}

func (s *Sink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *Sink) Close() error {
	if s.owned == false || s.file == nil {
		return nil
	}

	file := s.file
	s.file = nil

	closeErr := file.Close()
	if closeErr != nil {
		if s.tmpPath != "" {
			os.Remove(s.tmpPath)
		}
		return closeErr
	}

	if s.tmpPath != "" {
		renameErr := os.Rename(s.tmpPath, s.finalPath)
		if renameErr != nil {
			os.Remove(s.tmpPath)
			return fmt.Errorf("unable to publish sink file : %s", renameErr.Error())
		}
		s.tmpPath = ""
	}

	return nil
}

// Abort drops an owned sink without publishing anything. Borrowed sinks
// are left alone.
func (s *Sink) Abort() error {
	if s.owned == false || s.file == nil {
		return nil
	}

	file := s.file
	s.file = nil

	closeErr := file.Close()

	if s.tmpPath != "" {
		os.Remove(s.tmpPath)
		s.tmpPath = ""
	}

	return closeErr
}
