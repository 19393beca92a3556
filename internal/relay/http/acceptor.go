package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/formrelay/upload-relay/internal/relay/domain"
	"github.com/formrelay/upload-relay/internal/relay/staging"
)

const (
	projectIDField = "projectId"
	fileField      = "file"

	// maxTextFieldBytes bounds non-file form fields.
	maxTextFieldBytes = 1 << 20
)

// Mode selects how the acceptor captures the file part.
type Mode int

const (
	ModeMemory Mode = iota
	ModeDisk
)

// Acceptor turns a multipart request into a domain.UploadRequest. It reads
// the body as a stream, so the file is held once: in memory for ModeMemory,
// in the staging directory for ModeDisk.
type Acceptor struct {
	store    *staging.Store
	maxBytes int64 // zero: unbounded
}

func NewAcceptor(store *staging.Store, maxBytes int64) *Acceptor {
	return &Acceptor{store: store, maxBytes: maxBytes}
}

// Accept decodes r. A request without a file part, or one that is not
// multipart at all, fails with domain.ErrMissingFile. When Accept fails
// after staging a file, the file has already been released.
func (a *Acceptor) Accept(w http.ResponseWriter, r *http.Request, mode Mode) (domain.UploadRequest, error) {
	var body *limitedBody
	if a.maxBytes > 0 {
		if r.ContentLength > a.maxBytes {
			return domain.UploadRequest{}, fmt.Errorf("content length %d: %w", r.ContentLength, domain.ErrUploadTooLarge)
		}
		body = &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, a.maxBytes)}
		r.Body = body
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return domain.UploadRequest{}, fmt.Errorf("%w: %v", domain.ErrMissingFile, err)
	}

	var req domain.UploadRequest
	fail := func(err error) (domain.UploadRequest, error) {
		if staged, ok := req.File.(*domain.StagedFile); ok {
			_ = staged.Release()
		}
		if body != nil && body.tripped && !errors.Is(err, domain.ErrUploadTooLarge) {
			err = fmt.Errorf("%w: %v", domain.ErrUploadTooLarge, err)
		}
		return domain.UploadRequest{}, err
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(readError("read multipart", err))
		}

		switch {
		case part.FormName() == projectIDField && part.FileName() == "":
			value, err := readTextField(part)
			if err != nil {
				part.Close()
				return fail(err)
			}
			req.ProjectID = value

		case part.FormName() == fileField && part.FileName() != "" && req.File == nil:
			file, err := a.capture(r.Context(), part, mode)
			if err != nil {
				part.Close()
				return fail(err)
			}
			req.File = file
		}

		// Close drains whatever the case above did not consume, including
		// extra file parts: only the first one is relayed.
		if err := part.Close(); err != nil {
			return fail(readError("read multipart", err))
		}
	}

	if req.File == nil {
		return req, domain.ErrMissingFile
	}
	return req, nil
}

func (a *Acceptor) capture(ctx context.Context, part *multipart.Part, mode Mode) (domain.FileHandle, error) {
	name := part.FileName()

	if mode == ModeDisk {
		staged, err := a.store.Stage(ctx, name, part)
		if err != nil {
			return nil, err
		}
		return staged, nil
	}

	data, err := io.ReadAll(part)
	if err != nil {
		return nil, readError("read upload", err)
	}
	return &domain.BufferedFile{OriginalName: name, Bytes: data, SizeBytes: int64(len(data))}, nil
}

func readTextField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxTextFieldBytes+1))
	if err != nil {
		return "", readError("read form field", err)
	}
	if len(data) > maxTextFieldBytes {
		return "", fmt.Errorf("field %s: %w", part.FormName(), domain.ErrUploadTooLarge)
	}
	return string(data), nil
}

func readError(op string, err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%s: %w", op, domain.ErrUploadTooLarge)
	}
	return &domain.IOError{Op: op, Err: err}
}

// limitedBody remembers that the size limit was hit. mime/multipart replaces
// the *http.MaxBytesError with a header parse error when the limit falls
// inside part headers.
type limitedBody struct {
	io.ReadCloser
	tripped bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var maxErr *http.MaxBytesError
	if err != nil && errors.As(err, &maxErr) {
		b.tripped = true
	}
	return n, err
}
