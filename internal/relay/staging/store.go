package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/formrelay/upload-relay/internal/relay/domain"
	"github.com/formrelay/upload-relay/internal/relay/metrics"
)

const maxEncodedNameLen = 180

// Store writes uploads into a staging directory and tracks which staged
// files are still held by a live request.
type Store struct {
	dir     string
	gate    *semaphore.Weighted // nil when unbounded
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// NewStore creates the staging directory if needed. maxStaged <= 0 means
// no limit on concurrently staged files.
func NewStore(dir string, maxStaged int, m *metrics.Metrics) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	s := &Store{
		dir:     dir,
		metrics: m,
		now:     time.Now,
		active:  make(map[string]struct{}),
	}
	if maxStaged > 0 {
		s.gate = semaphore.NewWeighted(int64(maxStaged))
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

// Stage copies r into a new uniquely named file and returns a handle that
// must be released. On error nothing is left on disk.
func (s *Store) Stage(ctx context.Context, originalName string, r io.Reader) (*domain.StagedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.IOError{Op: "stage upload", Err: err}
	}
	if s.gate != nil {
		if err := s.gate.Acquire(ctx, 1); err != nil {
			return nil, &domain.IOError{Op: "wait for staging slot", Err: err}
		}
	}

	f, path, err := s.create(originalName)
	if err != nil {
		s.releaseSlot()
		return nil, &domain.IOError{Op: "create staged file", Path: path, Err: err}
	}

	written, err := io.Copy(f, ctxReader{ctx: ctx, r: r})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		s.releaseSlot()
		if isTooLarge(err) {
			return nil, fmt.Errorf("stage %s: %w", originalName, domain.ErrUploadTooLarge)
		}
		return nil, &domain.IOError{Op: "write staged file", Path: path, Err: err}
	}

	s.mu.Lock()
	s.active[path] = struct{}{}
	s.mu.Unlock()
	s.metrics.FileStaged()

	var once sync.Once
	var releaseErr error
	release := func() error {
		once.Do(func() {
			if err := os.Remove(path); err != nil {
				releaseErr = &domain.IOError{Op: "unlink staged file", Path: path, Err: err}
			}
			s.mu.Lock()
			delete(s.active, path)
			s.mu.Unlock()
			s.releaseSlot()
			s.metrics.FileReleased(releaseErr)
		})
		return releaseErr
	}

	return domain.NewStagedFile(path, originalName, written, release), nil
}

// create opens a new file named <unix-millis>-<escaped name>. When that name
// is taken a random suffix is added instead of overwriting.
func (s *Store) create(originalName string) (*os.File, string, error) {
	encoded := encodeName(originalName)
	millis := s.now().UnixMilli()

	path := filepath.Join(s.dir, fmt.Sprintf("%d-%s", millis, encoded))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err == nil || !errors.Is(err, os.ErrExist) {
		return f, path, err
	}

	path = filepath.Join(s.dir, fmt.Sprintf("%d-%s-%s", millis, uuid.NewString()[:8], encoded))
	f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	return f, path, err
}

func (s *Store) releaseSlot() {
	if s.gate != nil {
		s.gate.Release(1)
	}
}

// Held reports whether path belongs to a request that has not released it.
func (s *Store) Held(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[path]
	return ok
}

// HeldCount is the number of staged files live requests still hold.
func (s *Store) HeldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Sweep removes files older than maxAge that no live request holds.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	removed, err := sweepDir(s.dir, s.now().Add(-maxAge), s.Held)
	s.metrics.FilesSwept(removed)
	return removed, err
}

// SweepDir is Sweep for a directory with no live requests, used by the
// one-shot worker command.
func SweepDir(dir string, maxAge time.Duration) (int, error) {
	return sweepDir(dir, time.Now().Add(-maxAge), func(string) bool { return false })
}

func sweepDir(dir string, cutoff time.Time, held func(string) bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if held(path) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func encodeName(name string) string {
	if name == "" {
		name = "upload"
	}
	encoded := url.QueryEscape(name)
	if len(encoded) > maxEncodedNameLen {
		encoded = encoded[len(encoded)-maxEncodedNameLen:]
	}
	return encoded
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.Is(err, domain.ErrUploadTooLarge) || errors.As(err, &maxErr)
}
