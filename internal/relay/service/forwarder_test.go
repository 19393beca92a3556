package service

import (
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formrelay/upload-relay/internal/relay/domain"
)

type capturedForm struct {
	contentType string
	projectID   string
	file        []byte
	fileName    string
	length      int64
}

// newRemote starts a test remote that publishes every multipart body it receives.
func newRemote(t *testing.T, status int) (*httptest.Server, <-chan capturedForm, *int32) {
	t.Helper()
	var calls int32
	forms := make(chan capturedForm, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var got capturedForm
		got.contentType = r.Header.Get("Content-Type")
		got.length = r.ContentLength

		mediaType, params, err := mime.ParseMediaType(got.contentType)
		if err != nil || mediaType != "multipart/form-data" {
			t.Errorf("unexpected content type: %s", got.contentType)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("read part: %v", err)
				return
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "projectId":
				got.projectID = string(data)
			case "file":
				got.file = data
				got.fileName = part.FileName()
			}
		}

		forms <- got
		w.WriteHeader(status)
		w.Write([]byte(`{"ok": true}`))
	}))
	t.Cleanup(server.Close)
	return server, forms, &calls
}

func TestHTTPForwarder_RawPayload(t *testing.T) {
	server, forms, calls := newRemote(t, http.StatusOK)
	fwd := NewHTTPForwarder(ForwarderOptions{URL: server.URL})

	content := []byte{0x00, 0xff, 0x68, 0x65, 0x6c, 0x6c, 0x6f, '\r', '\n', '-'}
	result, err := fwd.Forward(context.Background(), domain.PathMemory, domain.ForwardPayload{
		ProjectID: "p1",
		FileName:  "hello.bin",
		FileField: content,
		Encoding:  domain.EncodingRaw,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.NotNil(t, result.RemoteStatus)
	assert.Equal(t, http.StatusOK, *result.RemoteStatus)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	got := <-forms
	assert.Equal(t, "p1", got.projectID)
	assert.Equal(t, content, got.file)
	assert.Equal(t, "hello.bin", got.fileName)
	assert.Greater(t, got.length, int64(len(content)), "content length is set, not chunked")
}

func TestHTTPForwarder_Base64PayloadIsTextField(t *testing.T) {
	server, forms, _ := newRemote(t, http.StatusCreated)
	fwd := NewHTTPForwarder(ForwarderOptions{URL: server.URL})

	encoded := []byte(base64.StdEncoding.EncodeToString([]byte("hello")))
	result, err := fwd.Forward(context.Background(), domain.PathDisk, domain.ForwardPayload{
		ProjectID: "p2",
		FileName:  "hello.txt",
		FileField: encoded,
		Encoding:  domain.EncodingBase64,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	got := <-forms
	assert.Equal(t, "p2", got.projectID)
	assert.Equal(t, encoded, got.file)
	assert.Empty(t, got.fileName)
}

func TestHTTPForwarder_NonSuccessStatus(t *testing.T) {
	server, _, calls := newRemote(t, http.StatusBadGateway)
	fwd := NewHTTPForwarder(ForwarderOptions{URL: server.URL})

	result, err := fwd.Forward(context.Background(), domain.PathMemory, domain.ForwardPayload{
		ProjectID: "p1",
		FileField: []byte("x"),
	})
	require.Error(t, err)

	var fwdErr *domain.ForwardError
	require.ErrorAs(t, err, &fwdErr)
	assert.Equal(t, http.StatusBadGateway, fwdErr.Status)
	assert.Contains(t, fwdErr.Detail, "ok")

	assert.False(t, result.Success)
	require.NotNil(t, result.RemoteStatus)
	assert.Equal(t, http.StatusBadGateway, *result.RemoteStatus)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "no retry")
}

func TestHTTPForwarder_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	fwd := NewHTTPForwarder(ForwarderOptions{URL: url})
	result, err := fwd.Forward(context.Background(), domain.PathDisk, domain.ForwardPayload{ProjectID: "p1"})

	require.Error(t, err)
	var fwdErr *domain.ForwardError
	require.ErrorAs(t, err, &fwdErr)
	assert.Zero(t, fwdErr.Status)
	assert.False(t, result.Success)
	assert.Nil(t, result.RemoteStatus)
	assert.NotEmpty(t, result.ErrorDetail)
}

func TestHTTPForwarder_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	fwd := NewHTTPForwarder(ForwarderOptions{URL: server.URL, Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := fwd.Forward(context.Background(), domain.PathMemory, domain.ForwardPayload{ProjectID: "p1"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPForwarder_GateHonoursContext(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fwd := NewHTTPForwarder(ForwarderOptions{URL: server.URL, MaxConcurrent: 1})

	done := make(chan error, 1)
	go func() {
		_, err := fwd.Forward(context.Background(), domain.PathMemory, domain.ForwardPayload{ProjectID: "first"})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := fwd.Forward(ctx, domain.PathMemory, domain.ForwardPayload{ProjectID: "second"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
}
