package service

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/formrelay/upload-relay/internal/relay/domain"
	"github.com/formrelay/upload-relay/internal/relay/metrics"
)

const (
	projectIDField = "projectId"
	fileField      = "file"

	// maxErrorDetail caps how much of a failed remote response body is logged.
	maxErrorDetail = 512
)

// Forwarder relays an assembled payload to the remote endpoint.
type Forwarder interface {
	Forward(ctx context.Context, path string, payload domain.ForwardPayload) (domain.ForwardResult, error)
}

type ForwarderOptions struct {
	URL           string
	Timeout       time.Duration // zero: no timeout beyond the request context
	MaxConcurrent int           // zero: unbounded
	Client        *http.Client
	Metrics       *metrics.Metrics
}

// HTTPForwarder issues exactly one POST per payload. It never retries.
type HTTPForwarder struct {
	url     string
	client  *http.Client
	gate    *semaphore.Weighted
	metrics *metrics.Metrics
}

func NewHTTPForwarder(opts ForwarderOptions) *HTTPForwarder {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	f := &HTTPForwarder{
		url:     opts.URL,
		client:  client,
		metrics: opts.Metrics,
	}
	if opts.MaxConcurrent > 0 {
		f.gate = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return f
}

// Forward posts payload as multipart/form-data. Any transport error or
// non-2xx status yields a *domain.ForwardError and Success=false.
func (f *HTTPForwarder) Forward(ctx context.Context, path string, payload domain.ForwardPayload) (domain.ForwardResult, error) {
	logger := NewLogger(ctx)

	if f.gate != nil {
		if err := f.gate.Acquire(ctx, 1); err != nil {
			fwdErr := &domain.ForwardError{Detail: "waiting for forward slot", Err: err}
			logger.LogError("forward", fwdErr)
			return domain.ForwardResult{ErrorDetail: fwdErr.Error()}, fwdErr
		}
		defer f.gate.Release(1)
	}

	body, contentType, length, err := encodeMultipart(payload)
	if err != nil {
		fwdErr := &domain.ForwardError{Detail: "encode body", Err: err}
		logger.LogError("forward", fwdErr)
		return domain.ForwardResult{ErrorDetail: fwdErr.Error()}, fwdErr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, body)
	if err != nil {
		fwdErr := &domain.ForwardError{Detail: "create request", Err: err}
		logger.LogError("forward", fwdErr)
		return domain.ForwardResult{ErrorDetail: fwdErr.Error()}, fwdErr
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		f.metrics.ObserveForward(path, duration, false)
		fwdErr := &domain.ForwardError{Err: err}
		logger.LogError("forward", fwdErr)
		return domain.ForwardResult{ErrorDetail: fwdErr.Error()}, fwdErr
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status < 200 || status > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail))
		_, _ = io.Copy(io.Discard, resp.Body)
		f.metrics.ObserveForward(path, duration, false)

		fwdErr := &domain.ForwardError{Status: status, Detail: strings.TrimSpace(string(detail))}
		logger.LogWarnf("forward", "path=%s project_id=%s remote_status=%d detail=%q latency=%s",
			path, payload.ProjectID, status, fwdErr.Detail, duration)
		return domain.ForwardResult{RemoteStatus: &status, ErrorDetail: fwdErr.Error()}, fwdErr
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	f.metrics.ObserveForward(path, duration, true)
	logger.LogInfof("forward", "path=%s project_id=%s remote_status=%d bytes=%d latency=%s",
		path, payload.ProjectID, status, len(payload.FileField), duration)

	return domain.ForwardResult{Success: true, RemoteStatus: &status}, nil
}

// encodeMultipart frames payload as multipart/form-data without copying the
// file bytes: only the part headers and closing boundary are buffered.
// Raw payloads become a file part, base64 payloads a text field.
func encodeMultipart(payload domain.ForwardPayload) (io.Reader, string, int64, error) {
	var head bytes.Buffer
	w := multipart.NewWriter(&head)

	if err := w.WriteField(projectIDField, payload.ProjectID); err != nil {
		return nil, "", 0, err
	}

	var err error
	if payload.Encoding == domain.EncodingBase64 {
		_, err = w.CreateFormField(fileField)
	} else {
		name := payload.FileName
		if name == "" {
			name = fileField
		}
		_, err = w.CreateFormFile(fileField, name)
	}
	if err != nil {
		return nil, "", 0, err
	}

	prefix := append([]byte(nil), head.Bytes()...)
	head.Reset()
	if err := w.Close(); err != nil {
		return nil, "", 0, err
	}
	suffix := head.Bytes()

	length := int64(len(prefix) + len(payload.FileField) + len(suffix))
	body := io.MultiReader(bytes.NewReader(prefix), bytes.NewReader(payload.FileField), bytes.NewReader(suffix))
	return body, w.FormDataContentType(), length, nil
}
