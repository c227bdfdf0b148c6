package stream

import (
	"fmt"
	"io"
	"os"
)

// Source is the byte source an archive reads from, borrowing a caller
// supplied reader or owning a file opened here.
type Source struct {
	r    io.Reader
	file *os.File

	owned bool
}

func NewSource(r io.Reader) *Source {
	return &Source{r: r}
}

func OpenSource(path string) (*Source, error) {

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open source file : %s", err.Error())
	}

	return &Source{
		r:     file,
		file:  file,
		owned: true,
	}, nil
}

func (s *Source) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *Source) Close() error {
	if s.owned == false || s.file == nil {
		return nil
	}

	file := s.file
	s.file = nil

	return file.Close()
}
