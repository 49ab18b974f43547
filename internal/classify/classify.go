// Package classify turns raw provider failures into a stable taxonomy.
//
// Classification works on a normalized {message, code, status} triple:
// numeric/symbolic codes take precedence, and case-insensitive substring
// matching on the message is only a fallback tier when no structured code is
// present. This keeps the mapping deterministic and independent of provider
// wording changes.
package classify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/genflow/internal/infra/provider"
)

// Category is the closed set of failure categories surfaced to callers.
type Category string

const (
	Overloaded        Category = "overloaded"
	Unauthorized      Category = "unauthorized"
	PermissionDenied  Category = "permission_denied"
	RateLimited       Category = "rate_limited"
	ServerError       Category = "server_error"
	Timeout           Category = "timeout"
	ContentRejected   Category = "content_rejected"
	BillingRequired   Category = "billing_required"
	MissingCredential Category = "missing_credential"
	DownloadFailed    Category = "download_failed"
	Unknown           Category = "unknown"
)

func (c Category) String() string { return string(c) }

// Retryable reports whether the dispatcher may retry the same model
// immediately. Only transient capacity failures qualify.
func (c Category) Retryable() bool { return c == Overloaded }

// Hint returns a short actionable remediation string for the category.
func (c Category) Hint() string {
	switch c {
	case Overloaded:
		return "the model is temporarily overloaded; it will be retried automatically"
	case Unauthorized:
		return "the API key is invalid or expired; replace the credential"
	case PermissionDenied:
		return "the credential lacks access to this model; enable the capability or switch model"
	case RateLimited:
		return "request quota exceeded; wait before retrying or switch to another credential"
	case ServerError:
		return "the provider reported an internal error; retry later or switch model"
	case Timeout:
		return "the job did not finish in time; try a faster model or a simpler input"
	case ContentRejected:
		return "the provider's safety filter rejected this input; change the prompt or asset"
	case BillingRequired:
		return "this model requires a billed account; enable billing for the project"
	case MissingCredential:
		return "no API key is configured for this provider; add one before running"
	case DownloadFailed:
		return "the result link resolved but the download failed; retry the download"
	default:
		return "unexpected failure; check the logs for details"
	}
}

// Classified is an error already carrying its category. Steps that know
// their own failure mode (poll timeout, missing key, download) return one of
// these so classification stays loss-free across package boundaries.
type Classified struct {
	Category Category
	Err      error
}

func (e *Classified) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return string(e.Category)
}

func (e *Classified) Unwrap() error { return e.Err }

// NewError wraps err with a known category.
func NewError(cat Category, err error) *Classified {
	return &Classified{Category: cat, Err: err}
}

// Classify maps any failure into a Category. It is total: it never panics
// and always returns a category, defaulting to Unknown.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}

	var classified *Classified
	if errors.As(err, &classified) {
		return classified.Category
	}

	var perr *provider.Error
	if errors.As(err, &perr) {
		if cat, ok := fromCode(perr.Code, perr.Status); ok {
			return cat
		}
		return fromMessage(perr.Message)
	}

	return fromMessage(err.Error())
}

// fromCode checks structured codes and symbolic statuses in priority order.
func fromCode(code int, status string) (Category, bool) {
	switch {
	case code == 503 || status == "UNAVAILABLE":
		return Overloaded, true
	case code == 401 || status == "UNAUTHENTICATED":
		return Unauthorized, true
	case code == 403 || status == "PERMISSION_DENIED":
		return PermissionDenied, true
	case code == 429 || status == "RESOURCE_EXHAUSTED":
		return RateLimited, true
	case status == "DEADLINE_EXCEEDED":
		return Timeout, true
	case status == "SAFETY" || status == "IMAGE_SAFETY" ||
		status == "PROHIBITED_CONTENT" || status == "BLOCKLIST":
		return ContentRejected, true
	case status == "FAILED_PRECONDITION":
		return BillingRequired, true
	case code >= 500 && code <= 599:
		return ServerError, true
	}
	return Unknown, false
}

// fromMessage is the substring fallback tier, applied only when no
// structured code matched. First match wins, in taxonomy priority order.
func fromMessage(message string) Category {
	msg := strings.ToLower(message)

	contains := func(patterns ...string) bool {
		for _, p := range patterns {
			if strings.Contains(msg, p) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("overloaded", "unavailable", "503"):
		return Overloaded
	case contains("api key not valid", "api_key_invalid", "unauthorized", "unauthenticated", "401"):
		return Unauthorized
	case contains("permission denied", "forbidden", "403"):
		return PermissionDenied
	case contains("quota", "rate limit", "too many requests", "resource exhausted", "429"):
		return RateLimited
	case contains("internal server error", "internal error", "500"):
		return ServerError
	case contains("deadline exceeded", "timed out", "timeout"):
		return Timeout
	case contains("safety", "blocked", "prohibited content", "content policy"):
		return ContentRejected
	case contains("billing", "billed users"):
		return BillingRequired
	default:
		return Unknown
	}
}
