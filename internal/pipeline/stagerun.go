package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"skimmer/internal/history"
	"skimmer/internal/logging"
	"skimmer/internal/media"
	"skimmer/internal/services"
	"skimmer/internal/stage"
)

func (p *Pipeline) runAcquire(ctx context.Context) {
	defer p.wg.Done()
	logger := logging.NewComponentLogger(p.logger, "acquire")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.maintenance.Load() {
			if !p.waitOrShutdown(ctx, p.pollInterval) {
				return
			}
			continue
		}

		item := p.acquireQ.pop()
		if item == nil {
			if !p.waitOrShutdown(ctx, p.pollInterval) {
				return
			}
			continue
		}

		p.runStageItem(ctx, logger, stage.Acquire, item)
	}
}

func (p *Pipeline) runTransform(ctx context.Context) {
	defer p.wg.Done()
	logger := logging.NewComponentLogger(p.logger, "transform")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.maintenance.Load() {
			if !p.waitOrShutdown(ctx, p.pollInterval) {
				return
			}
			continue
		}

		item := p.transformQ.pop()
		if item == nil {
			if !p.waitOrShutdown(ctx, p.pollInterval) {
				return
			}
			continue
		}

		p.runStageItem(ctx, logger, stage.Transform, item)
	}
}

// runStageItem drives one item through one attempt cycle at the acquire or
// transform stage, including the backoff sleeps of subsequent retries. The
// sleep happens on this worker, so a retrying item intentionally blocks the
// stage's throughput.
func (p *Pipeline) runStageItem(ctx context.Context, logger *slog.Logger, name stage.Name, item *media.Item) {
	ctx = services.WithStage(ctx, string(name))
	if item.Job != nil {
		ctx = services.WithJobID(ctx, item.Job.ID)
	}
	logger = logging.WithContext(ctx, logger)

	p.setCurrent(name, item)
	defer p.setCurrent(name, nil)

	for {
		err := p.attempt(ctx, name, item)
		if err == nil {
			p.advance(ctx, name, item)
			return
		}
		if ctx.Err() != nil {
			return
		}

		p.hooks.EmitError(name, item, err)

		if !services.Retryable(err) || !item.ShouldRetry() {
			item.RecordFailure(err)
			p.failTerminally(ctx, name, item, err)
			return
		}

		delay := item.Backoff()
		item.RecordFailure(err)
		logger.Warn("stage attempt failed; retrying",
			logging.Error(err),
			logging.String(logging.FieldSource, item.Source),
			logging.Int("retry", item.RetryCount),
			logging.Int("max_retries", item.MaxRetries),
			logging.Duration("backoff", delay),
		)
		if !p.waitOrShutdown(ctx, delay) {
			return
		}
	}
}

// attempt performs a single handler invocation with hooks around it.
func (p *Pipeline) attempt(ctx context.Context, name stage.Name, item *media.Item) error {
	p.hooks.EmitBefore(name, item)

	handler := p.chains[name].Resolve(item)
	if handler == nil {
		return services.Wrap(services.ErrDispatch, string(name), "resolve handler",
			fmt.Sprintf("no handler claims %s", item.Source), nil)
	}

	if err := safeProcess(ctx, handler, item); err != nil {
		return err
	}

	p.hooks.EmitAfter(name, item)
	return nil
}

// safeProcess contains handler panics so one bad item cannot kill the
// stage worker.
func safeProcess(ctx context.Context, handler stage.Handler, item *media.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Process(ctx, item)
}

// advance records the stage result with the history collaborator and moves
// the item to the next queue. Publish success is recorded by the batcher.
func (p *Pipeline) advance(ctx context.Context, name stage.Name, item *media.Item) {
	switch name {
	case stage.Acquire:
		if err := p.history.MarkAcquired(ctx, item.Source); err != nil {
			p.logger.Error("record acquisition", logging.Error(err),
				logging.String(logging.FieldSource, item.Source))
		}
		p.transformQ.push(item)
	case stage.Transform:
		if err := p.history.MarkTransformed(ctx, item.Source, artifactMetadata(item)); err != nil {
			p.logger.Error("record transform", logging.Error(err),
				logging.String(logging.FieldSource, item.Source))
		}
		p.publishQ.push(item)
	}
}

// failTerminally records the exhausted item and discards it.
func (p *Pipeline) failTerminally(ctx context.Context, name stage.Name, item *media.Item, err error) {
	reason := err.Error()
	if markErr := p.history.MarkFailed(ctx, item.Source, reason); markErr != nil {
		p.logger.Error("record failure", logging.Error(markErr),
			logging.String(logging.FieldSource, item.Source))
	}
	p.logger.Error("work item failed terminally",
		logging.Error(err),
		logging.String(logging.FieldStage, string(name)),
		logging.String(logging.FieldSource, item.Source),
		logging.Int("retries_used", item.RetryCount),
		logging.String(logging.FieldEventType, "item_failed"),
	)
}

// artifactMetadata inspects the transform output so the statistics record
// carries artifact sizes alongside the state transition.
func artifactMetadata(item *media.Item) history.ArtifactMetadata {
	meta := history.ArtifactMetadata{}
	for _, path := range item.TransformedPaths {
		if info, err := os.Stat(path); err == nil {
			meta.SizeBytes += info.Size()
		}
	}
	if len(item.TransformedPaths) > 0 {
		meta.ContentType = contentTypeFromPath(item.TransformedPaths[0])
	}
	return meta
}

func contentTypeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webm":
		return "video/webm"
	case ".mp4":
		return "video/mp4"
	default:
		return ""
	}
}
