package domain

// UploadRequest is what the upload acceptor hands to an ingestion path.
type UploadRequest struct {
	ProjectID string
	File      FileHandle // nil when the request carried no file part
}

// FileHandle is implemented by BufferedFile and StagedFile only.
type FileHandle interface {
	Name() string
	Size() int64
	isFileHandle()
}

// BufferedFile holds an upload entirely in request-local memory.
type BufferedFile struct {
	OriginalName string
	Bytes        []byte
	SizeBytes    int64
}

func (f *BufferedFile) Name() string { return f.OriginalName }
func (f *BufferedFile) Size() int64  { return f.SizeBytes }
func (*BufferedFile) isFileHandle()  {}

// StagedFile references an upload written to the staging directory.
// The request owns the file until Release is called; Release unlinks it
// at most once no matter how many exit paths call it.
type StagedFile struct {
	StoredPath   string
	OriginalName string
	SizeBytes    int64

	release func() error
}

// NewStagedFile binds a staged path to the function that unlinks it.
func NewStagedFile(storedPath, originalName string, size int64, release func() error) *StagedFile {
	return &StagedFile{
		StoredPath:   storedPath,
		OriginalName: originalName,
		SizeBytes:    size,
		release:      release,
	}
}

func (f *StagedFile) Name() string { return f.OriginalName }
func (f *StagedFile) Size() int64  { return f.SizeBytes }
func (*StagedFile) isFileHandle()  {}

// Release unlinks the staged file. Safe to call more than once.
func (f *StagedFile) Release() error {
	if f == nil || f.release == nil {
		return nil
	}
	return f.release()
}

// PayloadEncoding describes how ForwardPayload.FileField was produced.
type PayloadEncoding string

const (
	EncodingRaw    PayloadEncoding = "raw"
	EncodingBase64 PayloadEncoding = "base64"
)

// ForwardPayload is assembled per request and discarded once the call returns.
type ForwardPayload struct {
	ProjectID string
	FileName  string
	FileField []byte
	Encoding  PayloadEncoding
}

// ForwardResult is the outcome of a single outbound relay attempt.
type ForwardResult struct {
	Success      bool
	RemoteStatus *int
	ErrorDetail  string
}

// Ingestion path names, used in logs and metrics.
const (
	PathMemory = "memory"
	PathDisk   = "disk"
)
