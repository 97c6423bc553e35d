// Package publishdir provides the builtin publish module. It moves a batch's
// transformed artifacts into the library directory, grouped under the batch's
// group key, and emits a push notification when configured.
package publishdir

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"skimmer/internal/config"
	"skimmer/internal/logging"
	"skimmer/internal/media"
	"skimmer/internal/module"
	"skimmer/internal/notifications"
	"skimmer/internal/services"
	"skimmer/internal/stage"
	"skimmer/internal/textutil"
)

const ModuleName = "publishdir"

// Module files published artifacts into the library tree.
type Module struct {
	cfg      *config.Config
	logger   *slog.Logger
	notifier notifications.Service
}

func New(cfg *config.Config, logger *slog.Logger, notifier notifications.Service) *Module {
	return &Module{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, ModuleName),
		notifier: notifier,
	}
}

func (m *Module) Name() string { return ModuleName }

func (m *Module) Init(_ context.Context, reg *module.Registrar) error {
	reg.Handler(stage.Publish, &handler{module: m})
	return nil
}

func (m *Module) Shutdown(context.Context) error { return nil }

type handler struct {
	module *Module
}

// Supports accepts any item carrying transformed artifacts, making this the
// publish sink of last resort.
func (h *handler) Supports(item *media.Item) bool {
	return len(item.TransformedPaths) > 0
}

// HealthCheck verifies the library directory exists and accepts writes.
func (h *handler) HealthCheck(context.Context) stage.Health {
	dir := h.module.cfg.Paths.LibraryDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return stage.Unhealthy("publishdir library dir", err.Error())
	}
	marker := filepath.Join(dir, ".publishdir-write-check")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return stage.Unhealthy("publishdir library dir", err.Error())
	}
	os.Remove(marker)
	return stage.Healthy("publishdir library dir")
}

func (h *handler) Process(ctx context.Context, item *media.Item) error {
	m := h.module
	destDir := m.cfg.Paths.LibraryDir
	if group := textutil.Slug(item.Group); item.Group != "" && group != "unknown" {
		destDir = filepath.Join(destDir, group)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, string(stage.Publish), ModuleName,
			fmt.Sprintf("create %s", destDir), err)
	}

	for _, src := range item.TransformedPaths {
		dest := filepath.Join(destDir, filepath.Base(src))
		// A retried batch may have moved some members already; skip sources
		// whose artifact is gone but present at the destination.
		if _, err := os.Stat(src); os.IsNotExist(err) {
			if _, destErr := os.Stat(dest); destErr == nil {
				continue
			}
		}
		if err := moveFile(src, dest); err != nil {
			return services.Wrap(services.ErrTransient, string(stage.Publish), ModuleName,
				fmt.Sprintf("move %s", src), err)
		}
	}

	size := len(item.TransformedPaths)
	if n, err := strconv.Atoi(item.MetaValue(media.MetaBatchSize, "")); err == nil {
		size = n
	}
	logging.WithContext(ctx, m.logger).Info("published",
		logging.String(logging.FieldSource, item.Source),
		logging.String("dir", destDir),
		logging.Int("artifacts", len(item.TransformedPaths)),
	)
	if err := m.notifier.NotifyBatchPublished(ctx, size, item.Name); err != nil {
		m.logger.Warn("publish notification", logging.Error(err))
	}
	return nil
}

// moveFile renames when possible and falls back to copy+remove across
// filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
