package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/formrelay/upload-relay/internal/relay/domain"
)

// MemoryPath relays uploads that were buffered in memory. It touches no files.
type MemoryPath struct {
	forwarder Forwarder
}

func NewMemoryPath(f Forwarder) *MemoryPath {
	return &MemoryPath{forwarder: f}
}

// Handle forwards the buffered bytes verbatim.
func (p *MemoryPath) Handle(ctx context.Context, req domain.UploadRequest) error {
	logger := NewLogger(ctx)

	if req.File == nil {
		return domain.ErrMissingFile
	}
	file, ok := req.File.(*domain.BufferedFile)
	if !ok {
		return fmt.Errorf("memory path: unexpected file handle %T", req.File)
	}

	logger.LogInfof("ingest_memory", "project_id=%s file=%q size=%d", req.ProjectID, file.OriginalName, file.SizeBytes)

	_, err := p.forwarder.Forward(ctx, domain.PathMemory, domain.ForwardPayload{
		ProjectID: req.ProjectID,
		FileName:  file.OriginalName,
		FileField: file.Bytes,
		Encoding:  domain.EncodingRaw,
	})
	return err
}

// DiskPath relays uploads staged on disk. The staged file is released on
// every return path, including read failures.
type DiskPath struct {
	forwarder Forwarder
}

func NewDiskPath(f Forwarder) *DiskPath {
	return &DiskPath{forwarder: f}
}

// Handle reads the staged file, base64-encodes it and forwards it. Unlink
// failures are logged and never change the returned error.
func (p *DiskPath) Handle(ctx context.Context, req domain.UploadRequest) error {
	logger := NewLogger(ctx)

	if req.File == nil {
		return domain.ErrMissingFile
	}
	staged, ok := req.File.(*domain.StagedFile)
	if !ok {
		return fmt.Errorf("disk path: unexpected file handle %T", req.File)
	}
	defer func() {
		if err := staged.Release(); err != nil {
			logger.LogWarnf("cleanup", "error deleting temporary file: %v", err)
			return
		}
		logger.LogInfof("cleanup", "temporary file deleted path=%s", staged.StoredPath)
	}()

	logger.LogInfof("ingest_disk", "project_id=%s file=%q stored=%s size=%d",
		req.ProjectID, staged.OriginalName, staged.StoredPath, staged.SizeBytes)

	if err := ctx.Err(); err != nil {
		return &domain.IOError{Op: "read staged file", Path: staged.StoredPath, Err: err}
	}
	data, err := os.ReadFile(staged.StoredPath)
	if err != nil {
		return &domain.IOError{Op: "read staged file", Path: staged.StoredPath, Err: err}
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(encoded, data)

	_, err = p.forwarder.Forward(ctx, domain.PathDisk, domain.ForwardPayload{
		ProjectID: req.ProjectID,
		FileName:  staged.OriginalName,
		FileField: encoded,
		Encoding:  domain.EncodingBase64,
	})
	return err
}
