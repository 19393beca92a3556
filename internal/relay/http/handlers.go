package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/formrelay/upload-relay/internal/relay/domain"
	"github.com/formrelay/upload-relay/internal/relay/metrics"
	"github.com/formrelay/upload-relay/internal/relay/service"
)

const (
	msgSubmitted  = "Form submitted successfully!"
	msgNoFile     = "No file uploaded."
	msgSaveFailed = "Error saving form data."
	msgTooLarge   = "File too large."
	errorClassHdr = "X-Error-Class"
)

type ingestFunc func(ctx context.Context, req domain.UploadRequest) error

// Handler serves the two submit endpoints.
type Handler struct {
	acceptor *Acceptor
	memory   *service.MemoryPath
	disk     *service.DiskPath
	metrics  *metrics.Metrics
}

// New creates a new Handler
func New(acceptor *Acceptor, memory *service.MemoryPath, disk *service.DiskPath, m *metrics.Metrics) *Handler {
	return &Handler{
		acceptor: acceptor,
		memory:   memory,
		disk:     disk,
		metrics:  m,
	}
}

// SubmitMemory buffers the upload in memory and relays it as-is.
func (h *Handler) SubmitMemory(c *gin.Context) {
	h.submit(c, ModeMemory, domain.PathMemory, h.memory.Handle)
}

// SubmitDisk stages the upload on disk and relays it base64-encoded.
func (h *Handler) SubmitDisk(c *gin.Context) {
	h.submit(c, ModeDisk, domain.PathDisk, h.disk.Handle)
}

func (h *Handler) submit(c *gin.Context, mode Mode, path string, ingest ingestFunc) {
	ctx := c.Request.Context()
	logger := service.NewLogger(ctx)
	logger.LogInfof("submit", "route=%s", c.Request.URL.Path)

	req, err := h.acceptor.Accept(c.Writer, c.Request, mode)
	if err == nil {
		err = ingest(ctx, req)
	}

	class := domain.Classify(err)
	h.metrics.RecordUpload(path, class)

	switch class {
	case "":
		c.String(http.StatusOK, msgSubmitted)
		return
	case domain.ClassMissingFile:
		c.Header(errorClassHdr, class)
		c.String(http.StatusBadRequest, msgNoFile)
		return
	case domain.ClassTooLarge:
		logger.LogWarnf("submit", "path=%s rejected: %v", path, err)
		c.Header(errorClassHdr, class)
		c.String(http.StatusRequestEntityTooLarge, msgTooLarge)
		return
	}

	logger.LogErrorf("submit", "path=%s project_id=%s class=%s error=%v", path, req.ProjectID, class, err)
	c.Header(errorClassHdr, class)
	c.String(http.StatusInternalServerError, msgSaveFailed)
}
