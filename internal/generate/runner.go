// Package generate runs the per-item generation pipeline: resolve the
// credential, prepare the source asset, dispatch the call, wait for async
// jobs, download the artifact, and save it to the output directory.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vietddude/genflow/internal/assets"
	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/generate/dispatch"
	"github.com/vietddude/genflow/internal/generate/download"
	"github.com/vietddude/genflow/internal/generate/metrics"
	"github.com/vietddude/genflow/internal/generate/poll"
	"github.com/vietddude/genflow/internal/infra/credentials"
)

// StageObserver receives coarse pipeline stage changes for an item.
type StageObserver interface {
	OnStage(itemID, stage string)
}

// Config holds the static parameters of the pipeline.
type Config struct {
	Provider       string
	Kind           domain.JobKind
	FallbackModels []string
	RetryDelays    []time.Duration
	AspectRatio    string
	Resolution     string
	OutputDir      string
	AssetOptions   assets.Options
}

// Runner executes the pipeline for one item at a time. The credential and
// selected model are re-read per item, so key rotation or a model swap takes
// effect on the next item without a restart.
type Runner struct {
	cfg        Config
	creds      credentials.Resolver
	dispatcher *dispatch.Dispatcher
	poller     *poll.Poller
	downloader *download.Downloader
	stages     StageObserver
	log        *slog.Logger
}

func NewRunner(cfg Config, creds credentials.Resolver, dispatcher *dispatch.Dispatcher, poller *poll.Poller, downloader *download.Downloader, stages StageObserver, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg:        cfg,
		creds:      creds,
		dispatcher: dispatcher,
		poller:     poller,
		downloader: downloader,
		stages:     stages,
		log:        log,
	}
}

// RunItem executes the full pipeline for one batch item and returns the path
// of the saved artifact.
func (r *Runner) RunItem(ctx context.Context, item *domain.BatchItem) (domain.ResultReference, error) {
	key, err := r.creds.ActiveKey(r.cfg.Provider)
	if err != nil {
		return "", err
	}
	model := r.creds.SelectedModel(r.cfg.Provider)
	plan := dispatch.Plan{
		Primary:   model,
		Fallbacks: r.cfg.FallbackModels,
		Policy:    dispatch.RetryPolicy{Delays: r.cfg.RetryDelays},
	}

	req := &domain.GenerationRequest{
		Kind:        r.cfg.Kind,
		Prompt:      item.Prompt,
		AspectRatio: r.cfg.AspectRatio,
		Resolution:  r.cfg.Resolution,
	}
	if item.SourceAsset != "" {
		r.stage(item.ID, "preparing")
		payload, err := assets.Prepare(item.SourceAsset, r.cfg.AssetOptions)
		if err != nil {
			return "", fmt.Errorf("failed to prepare asset %s: %w", item.SourceAsset, err)
		}
		req.Reference = payload
	}

	started := time.Now()
	r.stage(item.ID, "generating")

	var (
		data []byte
		mime string
		ref  domain.ResultReference
	)
	switch r.cfg.Kind {
	case domain.JobKindVideo:
		handle, err := r.dispatcher.DispatchJob(ctx, key, plan, req)
		if err != nil {
			return "", err
		}
		r.log.Info("Job submitted", "item", item.ID, "operation", handle.Name)
		ref, err = r.poller.WaitForResult(ctx, key, handle)
		if err != nil {
			return "", err
		}
	default:
		res, err := r.dispatcher.Dispatch(ctx, key, plan, req)
		if err != nil {
			return "", err
		}
		if len(res.Data) > 0 {
			data = res.Data
			mime = res.MimeType
		} else {
			ref = res.Reference
		}
	}
	metrics.GenerationLatency.WithLabelValues(model, string(r.cfg.Kind)).Observe(time.Since(started).Seconds())

	if data == nil {
		r.stage(item.ID, "downloading")
		data, err = r.downloader.Fetch(ctx, ref, key)
		if err != nil {
			return "", err
		}
	}

	path, err := r.save(item.ID, data, mime)
	if err != nil {
		return "", err
	}
	return domain.ResultReference(path), nil
}

// save writes the artifact next to its siblings as <output>/<item-id>.<ext>.
func (r *Runner) save(itemID string, data []byte, mime string) (string, error) {
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(r.cfg.OutputDir, itemID+r.extension(mime))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

func (r *Runner) extension(mime string) string {
	if r.cfg.Kind == domain.JobKindVideo {
		return ".mp4"
	}
	switch mime {
	case "image/png":
		return ".png"
	default:
		return ".jpg"
	}
}

func (r *Runner) stage(itemID, stage string) {
	if r.stages != nil {
		r.stages.OnStage(itemID, stage)
	}
	r.log.Debug("Pipeline stage", "item", itemID, "stage", stage)
}
