// Package download fetches finished artifacts from provider result links.
package download

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vietddude/genflow/internal/classify"
	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/generate/metrics"
)

const defaultTimeout = 5 * time.Minute

// Downloader retrieves binary output referenced by a completed job. Provider
// links require the same API key used for generation, so the key is attached
// per request rather than held on the client.
type Downloader struct {
	client *resty.Client
}

func New(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	return &Downloader{client: client}
}

// Fetch downloads the artifact behind ref. Any failure is a download failure
// for classification purposes; the attempt that produced the reference has
// already succeeded.
func (d *Downloader) Fetch(ctx context.Context, ref domain.ResultReference, key string) ([]byte, error) {
	if ref == "" {
		return nil, classify.NewError(classify.DownloadFailed,
			fmt.Errorf("empty result reference"))
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", key).
		Get(string(ref))
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, classify.NewError(classify.DownloadFailed,
			fmt.Errorf("failed to download %s: %w", ref, err))
	}
	if resp.IsError() {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, classify.NewError(classify.DownloadFailed,
			fmt.Errorf("download %s returned status %d", ref, resp.StatusCode()))
	}

	body := resp.Body()
	if len(body) == 0 {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, classify.NewError(classify.DownloadFailed,
			fmt.Errorf("download %s returned empty body", ref))
	}

	metrics.DownloadsTotal.WithLabelValues("success").Inc()
	return body, nil
}
