package daemon

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"skimmer/internal/config"
	"skimmer/internal/jobqueue"
	"skimmer/internal/logging"
)

// scheduler submits configured jobs on cron schedules.
type scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func newScheduler(cfg *config.Config, queue *jobqueue.Queue, logger *slog.Logger) *scheduler {
	s := &scheduler{
		cron:   cron.New(),
		logger: logging.NewComponentLogger(logger, "scheduler"),
	}
	for _, entry := range cfg.Scheduled {
		entry := entry
		params := make(map[string]any, len(entry.Params))
		for k, v := range entry.Params {
			params[k] = v
		}
		_, err := s.cron.AddFunc(entry.Schedule, func() {
			job := jobqueue.NewJob(entry.Type, params)
			if err := queue.Submit(job); err != nil {
				s.logger.Error("submit scheduled job",
					logging.String(logging.FieldJobType, entry.Type),
					logging.Error(err))
				return
			}
			s.logger.Info("scheduled job submitted",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldJobType, entry.Type))
		})
		if err != nil {
			s.logger.Error("invalid schedule; entry skipped",
				logging.String("schedule", entry.Schedule),
				logging.String(logging.FieldJobType, entry.Type),
				logging.Error(err))
		}
	}
	return s
}

func (s *scheduler) start() { s.cron.Start() }

func (s *scheduler) stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
