package domain

// JobKind distinguishes synchronous image generation from long-running video jobs.
type JobKind string

const (
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
)

// InlinePayload is a provider-ready encoded asset (base64 body plus MIME type).
type InlinePayload struct {
	MimeType string
	Data     string
}

// GenerationRequest is the provider payload for one generation attempt.
// It is immutable once submitted for a given attempt.
type GenerationRequest struct {
	Kind        JobKind
	Prompt      string
	Reference   *InlinePayload
	AspectRatio string
	Resolution  string
}

// GenerationResult is the output of a synchronous generate call.
// Providers either return the artifact inline or a reference to it.
type GenerationResult struct {
	Model     string
	MimeType  string
	Data      []byte
	Reference ResultReference
}

// ResultReference is a resolvable pointer (URI/link) to binary output.
// Empty means no reference exists yet.
type ResultReference string

// OperationHandle is a provider-issued reference to an in-progress
// asynchronous job. It is refreshed by polling; callers treat it read-only.
type OperationHandle struct {
	Name         string
	Done         bool
	ErrorMessage string
	Result       *OperationResult
}

// OperationResult is the provider-defined payload attached to a handle once
// the job produced output. Providers differ in which field carries the link.
type OperationResult struct {
	VideoURI    string
	DownloadURI string
	FileURI     string
}

// Candidates returns the reference fields in resolution priority order.
// The first non-empty entry wins.
func (r *OperationResult) Candidates() []string {
	return []string{r.VideoURI, r.DownloadURI, r.FileURI}
}
