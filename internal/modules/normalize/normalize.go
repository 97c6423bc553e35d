// Package normalize provides the builtin transform module. It rewrites an
// acquired file's name into a lowercase ascii-safe form so downstream publish
// handlers can rely on predictable paths.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"skimmer/internal/config"
	"skimmer/internal/logging"
	"skimmer/internal/media"
	"skimmer/internal/module"
	"skimmer/internal/services"
	"skimmer/internal/stage"
	"skimmer/internal/textutil"
)

const ModuleName = "normalize"

// Module renames acquired artifacts to normalized filenames.
type Module struct {
	cfg    *config.Config
	logger *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Module {
	return &Module{cfg: cfg, logger: logging.NewComponentLogger(logger, ModuleName)}
}

func (m *Module) Name() string { return ModuleName }

func (m *Module) Init(_ context.Context, reg *module.Registrar) error {
	reg.Handler(stage.Transform, &handler{module: m})
	return nil
}

func (m *Module) Shutdown(context.Context) error { return nil }

type handler struct {
	module *Module
}

func (h *handler) Supports(item *media.Item) bool {
	return item.AcquiredPath != ""
}

func (h *handler) Process(ctx context.Context, item *media.Item) error {
	src := item.AcquiredPath
	if _, err := os.Stat(src); err != nil {
		return services.Wrap(services.ErrValidation, string(stage.Transform), ModuleName,
			fmt.Sprintf("acquired file missing: %s", src), err)
	}

	dest := uniquePath(filepath.Join(filepath.Dir(src), normalizedName(item, src)), src)
	if dest != src {
		if err := os.Rename(src, dest); err != nil {
			return services.Wrap(services.ErrTransient, string(stage.Transform), ModuleName,
				fmt.Sprintf("rename %s", src), err)
		}
	}

	item.TransformedPaths = []string{dest}
	logging.WithContext(ctx, h.module.logger).Info("normalized",
		logging.String(logging.FieldSource, item.Source),
		logging.String("path", dest),
	)
	return nil
}

// normalizedName slugs the item's display name, falling back to the file's
// own base name, and keeps the original extension lowercased.
func normalizedName(item *media.Item, src string) string {
	base := filepath.Base(src)
	ext := strings.ToLower(filepath.Ext(base))

	name := item.Name
	if name == "" {
		name = strings.TrimSuffix(base, filepath.Ext(base))
	} else {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return textutil.Slug(name) + ext
}

// uniquePath appends a numeric suffix when the candidate already exists and
// is not the source file itself.
func uniquePath(candidate, src string) string {
	if candidate == src {
		return candidate
	}
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}
	ext := filepath.Ext(candidate)
	stem := strings.TrimSuffix(candidate, ext)
	for i := 1; ; i++ {
		next := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Stat(next); os.IsNotExist(err) {
			return next
		}
	}
}
