package service

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formrelay/upload-relay/internal/relay/domain"
	"github.com/formrelay/upload-relay/internal/relay/staging"
)

type fakeForwarder struct {
	calls    []domain.ForwardPayload
	paths    []string
	err      error
	duringFn func()
}

func (f *fakeForwarder) Forward(_ context.Context, path string, p domain.ForwardPayload) (domain.ForwardResult, error) {
	f.calls = append(f.calls, p)
	f.paths = append(f.paths, path)
	if f.duringFn != nil {
		f.duringFn()
	}
	if f.err != nil {
		return domain.ForwardResult{ErrorDetail: f.err.Error()}, f.err
	}
	status := 200
	return domain.ForwardResult{Success: true, RemoteStatus: &status}, nil
}

func newStore(t *testing.T) *staging.Store {
	t.Helper()
	s, err := staging.NewStore(t.TempDir(), 0, nil)
	require.NoError(t, err)
	return s
}

func TestMemoryPath_ForwardsBytesVerbatim(t *testing.T) {
	fwd := &fakeForwarder{}
	content := []byte{0x68, 0x65, 0x6c, 0x6c, 0x6f, 0x00, 0x01, 0x02, 0x03, 0x04}

	err := NewMemoryPath(fwd).Handle(context.Background(), domain.UploadRequest{
		ProjectID: "p1",
		File:      &domain.BufferedFile{OriginalName: "hello.bin", Bytes: content, SizeBytes: int64(len(content))},
	})
	require.NoError(t, err)

	require.Len(t, fwd.calls, 1)
	assert.Equal(t, domain.PathMemory, fwd.paths[0])
	assert.Equal(t, "p1", fwd.calls[0].ProjectID)
	assert.Equal(t, content, fwd.calls[0].FileField)
	assert.Equal(t, domain.EncodingRaw, fwd.calls[0].Encoding)
}

func TestMemoryPath_MissingFile(t *testing.T) {
	fwd := &fakeForwarder{}

	err := NewMemoryPath(fwd).Handle(context.Background(), domain.UploadRequest{ProjectID: "p1"})

	assert.ErrorIs(t, err, domain.ErrMissingFile)
	assert.Empty(t, fwd.calls)
}

func TestMemoryPath_ForwardFailure(t *testing.T) {
	fwd := &fakeForwarder{err: &domain.ForwardError{Status: 503}}

	err := NewMemoryPath(fwd).Handle(context.Background(), domain.UploadRequest{
		ProjectID: "p1",
		File:      &domain.BufferedFile{OriginalName: "a", Bytes: []byte("a"), SizeBytes: 1},
	})

	var fwdErr *domain.ForwardError
	assert.ErrorAs(t, err, &fwdErr)
}

func TestDiskPath_ForwardsBase64AndCleansUp(t *testing.T) {
	store := newStore(t)
	content := []byte("hello.bin!")
	staged, err := store.Stage(context.Background(), "hello.bin", strings.NewReader(string(content)))
	require.NoError(t, err)

	fwd := &fakeForwarder{duringFn: func() {
		assert.FileExists(t, staged.StoredPath, "file is still staged while forwarding")
	}}

	err = NewDiskPath(fwd).Handle(context.Background(), domain.UploadRequest{ProjectID: "p1", File: staged})
	require.NoError(t, err)

	require.Len(t, fwd.calls, 1)
	assert.Equal(t, domain.PathDisk, fwd.paths[0])
	assert.Equal(t, base64.StdEncoding.EncodeToString(content), string(fwd.calls[0].FileField))
	assert.Equal(t, domain.EncodingBase64, fwd.calls[0].Encoding)
	assert.NoFileExists(t, staged.StoredPath)
	assert.False(t, store.Held(staged.StoredPath))
}

func TestDiskPath_CleansUpOnForwardFailure(t *testing.T) {
	store := newStore(t)
	staged, err := store.Stage(context.Background(), "hello.bin", strings.NewReader("0123456789"))
	require.NoError(t, err)

	fwd := &fakeForwarder{err: &domain.ForwardError{Err: errors.New("connection refused")}}
	err = NewDiskPath(fwd).Handle(context.Background(), domain.UploadRequest{ProjectID: "p1", File: staged})

	var fwdErr *domain.ForwardError
	require.ErrorAs(t, err, &fwdErr)
	assert.NoFileExists(t, staged.StoredPath)
}

func TestDiskPath_CleansUpOnReadFailure(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/1-vanished.bin"
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	released := 0
	staged := domain.NewStagedFile(path, "vanished.bin", 1, func() error {
		released++
		return os.Remove(path)
	})
	// turn the staged file into a directory entry that cannot be read as a file
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o700))

	fwd := &fakeForwarder{}
	err := NewDiskPath(fwd).Handle(context.Background(), domain.UploadRequest{ProjectID: "p1", File: staged})

	var ioErr *domain.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read staged file", ioErr.Op)
	assert.Empty(t, fwd.calls, "nothing is forwarded when the read fails")
	assert.Equal(t, 1, released)
	assert.NoDirExists(t, path)
}

func TestDiskPath_CancelledRequestSkipsReadAndCleansUp(t *testing.T) {
	store := newStore(t)
	staged, err := store.Stage(context.Background(), "hello.bin", strings.NewReader("0123456789"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fwd := &fakeForwarder{}
	err = NewDiskPath(fwd).Handle(ctx, domain.UploadRequest{ProjectID: "p1", File: staged})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.ClassIO, domain.Classify(err))
	assert.Empty(t, fwd.calls)
	assert.NoFileExists(t, staged.StoredPath)
}

func TestDiskPath_UnlinkFailureDoesNotChangeResult(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/1-a.bin"
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o600))

	staged := domain.NewStagedFile(path, "a.bin", 1, func() error {
		return &domain.IOError{Op: "unlink staged file", Path: path, Err: os.ErrPermission}
	})

	err := NewDiskPath(&fakeForwarder{}).Handle(context.Background(), domain.UploadRequest{ProjectID: "p1", File: staged})
	assert.NoError(t, err)
}

func TestDiskPath_MissingFile(t *testing.T) {
	fwd := &fakeForwarder{}

	err := NewDiskPath(fwd).Handle(context.Background(), domain.UploadRequest{ProjectID: "p1"})

	assert.ErrorIs(t, err, domain.ErrMissingFile)
	assert.Empty(t, fwd.calls)
}

func TestPaths_RejectWrongHandle(t *testing.T) {
	fwd := &fakeForwarder{}

	err := NewDiskPath(fwd).Handle(context.Background(), domain.UploadRequest{
		File: &domain.BufferedFile{OriginalName: "a"},
	})
	assert.Error(t, err)

	err = NewMemoryPath(fwd).Handle(context.Background(), domain.UploadRequest{
		File: domain.NewStagedFile("/nope", "a", 0, nil),
	})
	assert.Error(t, err)
	assert.Empty(t, fwd.calls)
}
