package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "cadence/pkg/logx"
)

// fileStore appends runs to <prefix>.runs.jsonl and keeps the newest
// retention records per job in memory. Once the file holds twice the
// retained records it is rewritten from memory (write tmp, rename).
type fileStore struct {
	log       logx.Logger
	path      string
	retention int
	open      func(path string) (*os.File, error)

	mu     sync.Mutex
	f      *os.File // nil after a failed reopen; the next append retries
	closed bool
	lines  int
	runs   map[string]*runRing
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

// runRing holds the newest records of one job in a fixed-size ring.
type runRing struct {
	buf  []RunRecord
	head int // oldest record once buf is full
}

func (r *runRing) push(rec RunRecord, size int) {
	if len(r.buf) < size {
		r.buf = append(r.buf, rec)
		return
	}
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
}

// newest returns the i-th newest record, 0 being the latest.
func (r *runRing) newest(i int) RunRecord {
	n := len(r.buf)
	return r.buf[(r.head-1-i+2*n)%n]
}

// each visits records oldest first.
func (r *runRing) each(fn func(RunRecord) error) error {
	for i := range r.buf {
		if err := fn(r.buf[(r.head+i)%len(r.buf)]); err != nil {
			return err
		}
	}
	return nil
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		path:      filepath.Join(dir, base+".runs.jsonl"),
		retention: cfg.Retention,
		open:      openAppend,
		runs:      map[string]*runRing{},
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := s.open(s.path)
	if err != nil {
		return nil, err
	}
	if err := terminateLine(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	s.f = f
	log.Debug("storage opened", logx.String("path", s.path), logx.Int("records", s.lines))
	return s, nil
}

// replay loads the journal, skipping lines that do not decode (a torn
// final write after a crash).
func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Job == "" {
			continue
		}
		s.lines++
		s.keepLocked(r)
	}
	return sc.Err()
}

// terminateLine appends a newline when the file ends mid-line, so the next
// record does not merge with a torn one.
func terminateLine(f *os.File) error {
	fi, err := f.Stat()
	if err != nil || fi.Size() == 0 {
		return err
	}
	rf, err := os.Open(f.Name())
	if err != nil {
		return err
	}
	defer rf.Close()
	last := make([]byte, 1)
	if _, err := rf.ReadAt(last, fi.Size()-1); err != nil {
		return err
	}
	if last[0] != '\n' {
		_, err = f.Write([]byte{'\n'})
	}
	return err
}

func (s *fileStore) keepLocked(r RunRecord) {
	rr := s.runs[r.Job]
	if rr == nil {
		rr = &runRing{}
		s.runs[r.Job] = rr
	}
	rr.push(r, s.retention)
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if s.f == nil {
		f, err := s.open(s.path)
		if err != nil {
			return fmt.Errorf("reopen run journal: %w", err)
		}
		if err := terminateLine(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("reopen run journal: %w", err)
		}
		s.f = f
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.lines++
	s.keepLocked(r)

	if s.lines >= 2*s.retained() {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("run journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) retained() int {
	n := 0
	for _, rr := range s.runs {
		n += len(rr.buf)
	}
	return max(n, s.retention)
}

func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	n := 0
	for _, rr := range s.runs {
		err := rr.each(func(r RunRecord) error {
			n++
			return enc.Encode(r)
		})
		if err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	// The old handle points at the replaced inode; never write through it.
	_ = s.f.Close()
	s.f = nil
	s.lines = n
	nf, err := s.open(s.path)
	if err != nil {
		return err
	}
	s.f = nf
	s.log.Debug("run journal compacted", logx.Int("records", n))
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, job string, limit int) ([]RunRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}
	rr := s.runs[job]
	if rr == nil || limit <= 0 {
		return []RunRecord{}, nil
	}
	limit = min(limit, len(rr.buf))
	out := make([]RunRecord, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, rr.newest(i))
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
