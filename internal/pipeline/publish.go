package pipeline

import (
	"context"
	"log/slog"
	"time"

	"skimmer/internal/logging"
	"skimmer/internal/media"
	"skimmer/internal/services"
	"skimmer/internal/stage"
)

func (p *Pipeline) runPublish(ctx context.Context) {
	defer p.wg.Done()
	logger := logging.NewComponentLogger(p.logger, "publish")
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

		first := p.publishQ.pop()
		if first == nil {
			if !p.waitOrShutdown(ctx, p.pollInterval) {
				return
			}
			continue
		}

		batch := p.collectBatch(ctx, first)
		p.publishBatch(ctx, logger, batch)
	}
}

// collectBatch accumulates immediately available items behind the first
// one, up to the batch cap. While upstream stages still hold work, the
// batcher polls in short steps, but never waits longer than the idle
// window since the last item joined; an idle upstream flushes at once.
func (p *Pipeline) collectBatch(ctx context.Context, first *media.Item) []*media.Item {
	batch := []*media.Item{first}
	lastAdd := time.Now()

	for len(batch) < batchMaxItems {
		if next := p.publishQ.pop(); next != nil {
			batch = append(batch, next)
			lastAdd = time.Now()
			continue
		}
		if !p.upstreamBusy() {
			break
		}
		if time.Since(lastAdd) >= batchIdleWindow {
			break
		}
		if !p.waitOrShutdown(ctx, batchPollStep) {
			break
		}
	}
	return batch
}

// publishBatch resolves a sink handler for the batch target and applies
// the retry state machine to the batch as a unit.
func (p *Pipeline) publishBatch(ctx context.Context, logger *slog.Logger, batch []*media.Item) {
	if len(batch) == 0 {
		return
	}
	target := media.Merge(batch)
	ctx = services.WithStage(ctx, string(stage.Publish))
	if target.Job != nil {
		ctx = services.WithJobID(ctx, target.Job.ID)
	}
	logger = logging.WithContext(ctx, logger)

	p.setCurrent(stage.Publish, target)
	defer p.setCurrent(stage.Publish, nil)

	for {
		err := p.attempt(ctx, stage.Publish, target)
		if err == nil {
			p.completeBatch(ctx, logger, batch, target)
			return
		}
		if ctx.Err() != nil {
			return
		}

		p.hooks.EmitError(stage.Publish, target, err)

		if !services.Retryable(err) {
			for _, item := range batch {
				item.RecordFailure(err)
				p.failTerminally(ctx, stage.Publish, item, err)
			}
			return
		}

		// The batch retries as a unit: every member's counter moves
		// together, and exhausted members fail individually. The delay
		// comes from the lead item's counter before it advances.
		delay := batch[0].Backoff()
		retained := batch[:0]
		for _, item := range batch {
			if item.ShouldRetry() {
				item.RecordFailure(err)
				retained = append(retained, item)
				continue
			}
			item.RecordFailure(err)
			p.failTerminally(ctx, stage.Publish, item, err)
		}
		batch = retained
		if len(batch) == 0 {
			return
		}

		logger.Warn("publish attempt failed; retrying batch",
			logging.Error(err),
			logging.Int("batch_size", len(batch)),
			logging.Duration("backoff", delay),
		)
		if !p.waitOrShutdown(ctx, delay) {
			return
		}
		target = media.Merge(batch)
	}
}

// completeBatch records success for every original item and bumps the
// owning jobs' processed counters.
func (p *Pipeline) completeBatch(ctx context.Context, logger *slog.Logger, batch []*media.Item, target *media.Item) {
	for _, item := range batch {
		if err := p.history.MarkPublished(ctx, item.Source); err != nil {
			logger.Error("record publish", logging.Error(err),
				logging.String(logging.FieldSource, item.Source))
		}
		if err := p.history.MarkProcessed(ctx, item.Group, item.Source); err != nil {
			logger.Error("record processed", logging.Error(err),
				logging.String(logging.FieldSource, item.Source))
		}
		if item.Job != nil {
			item.Job.AddProcessed(1)
		}
	}
	logger.Info("batch published",
		logging.Int("batch_size", len(batch)),
		logging.Int("artifacts", len(target.TransformedPaths)),
		logging.String(logging.FieldEventType, "batch_published"),
	)
}
