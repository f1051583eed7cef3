package storage

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Journal records accepted commands, one per line, so state can be rebuilt
// by replaying them from a checkpoint.
type Journal interface {
	// Append writes line and returns its 1-based sequence number.
	Append(line string) (uint64, error)
	Seq() uint64
	Close() error
}

type NopJournal struct {
	mu  sync.Mutex
	seq uint64
}

func NewNopJournal() *NopJournal { return &NopJournal{} }

func (j *NopJournal) Append(_ string) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	return j.seq, nil
}

func (j *NopJournal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

func (j *NopJournal) Close() error { return nil }

type FileJournal struct {
	mu  sync.Mutex
	f   *os.File
	seq uint64
}

// NewFileJournal opens path for appending, continuing the sequence of any
// entries already in the file.
func NewFileJournal(path string) (*FileJournal, error) {
	existing, err := ReadJournal(path)
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %q", path)
	}
	return &FileJournal{f: f, seq: uint64(len(existing))}, nil
}

func (j *FileJournal) Append(line string) (uint64, error) {
	if strings.TrimSpace(line) == "" || strings.ContainsAny(line, "\r\n") {
		return 0, errors.Errorf("journal entry must be a single line: %q", line)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := fmt.Fprintln(j.f, line); err != nil {
		return 0, errors.Wrap(err, "append journal")
	}
	if err := j.f.Sync(); err != nil {
		return 0, errors.Wrap(err, "sync journal")
	}
	j.seq++
	return j.seq, nil
}

func (j *FileJournal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// ReadJournal returns every non-empty entry in path, oldest first.
func ReadJournal(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read journal %q", path)
	}
	return lines, nil
}

var (
	_ Journal = (*NopJournal)(nil)
	_ Journal = (*FileJournal)(nil)
)
