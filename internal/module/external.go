package module

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"skimmer/internal/logging"
	"skimmer/internal/media"
	"skimmer/internal/services"
	"skimmer/internal/stage"
)

// External module files are plain Go source interpreted at load time. Each
// file must define these package-level functions:
//
//	func ModuleName() string
//	func Stages() []string
//	func Supports(stage, source string, meta map[string]string) bool
//	func Process(stage, source, acquiredPath string, artifacts []string,
//		meta map[string]string) ([]string, error)
//
// The contract is deliberately stdlib-typed so interpreted code needs no
// symbols from this program.
type externalModule struct {
	name     string
	path     string
	stages   []stage.Name
	supports func(string, string, map[string]string) bool
	process  func(string, string, string, []string, map[string]string) ([]string, error)
}

type supportsFunc = func(string, string, map[string]string) bool
type processFunc = func(string, string, string, []string, map[string]string) ([]string, error)

// LoadExternal interprets every .go file in dir and returns the modules they
// declare. A missing directory is not an error; a broken file is reported
// and skipped so one bad plugin cannot block the rest.
func LoadExternal(dir string, logger *slog.Logger) ([]Module, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "modules", "load",
			fmt.Sprintf("read plugin dir %s", trimmed), err)
	}
	log := logging.NewComponentLogger(logger, "modules")
	var modules []Module
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".go" {
			continue
		}
		path := filepath.Join(trimmed, e.Name())
		m, err := loadExternalFile(path)
		if err != nil {
			log.Error("skipping external module",
				logging.String("path", path), logging.Error(err))
			continue
		}
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Name() < modules[j].Name() })
	return modules, nil
}

func loadExternalFile(path string) (Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(src))) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("interpreter setup: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("interpret %s: %w", path, err)
	}

	name, err := evalAs[func() string](i, "ModuleName")
	if err != nil {
		return nil, err
	}
	stagesFn, err := evalAs[func() []string](i, "Stages")
	if err != nil {
		return nil, err
	}
	supports, err := evalAs[supportsFunc](i, "Supports")
	if err != nil {
		return nil, err
	}
	process, err := evalAs[processFunc](i, "Process")
	if err != nil {
		return nil, err
	}

	m := &externalModule{
		name:     strings.TrimSpace(name()),
		path:     path,
		supports: supports,
		process:  process,
	}
	if m.name == "" {
		return nil, fmt.Errorf("%s: ModuleName() returned empty string", path)
	}
	for _, s := range stagesFn() {
		switch stage.Name(s) {
		case stage.Acquire, stage.Transform, stage.Publish:
			m.stages = append(m.stages, stage.Name(s))
		default:
			return nil, fmt.Errorf("%s: unknown stage %q", path, s)
		}
	}
	if len(m.stages) == 0 {
		return nil, fmt.Errorf("%s: Stages() returned no stages", path)
	}
	return m, nil
}

func evalAs[T any](i *interp.Interpreter, symbol string) (T, error) {
	var zero T
	v, err := i.Eval(symbol)
	if err != nil {
		return zero, fmt.Errorf("missing %s: %w", symbol, err)
	}
	fn, ok := v.Interface().(T)
	if !ok {
		return zero, fmt.Errorf("%s has wrong signature", symbol)
	}
	return fn, nil
}

func (m *externalModule) Name() string { return m.name }

func (m *externalModule) Init(_ context.Context, reg *Registrar) error {
	for _, s := range m.stages {
		reg.Handler(s, &externalHandler{module: m, stage: s})
	}
	return nil
}

func (m *externalModule) Shutdown(context.Context) error { return nil }

// externalHandler adapts one declared stage of an interpreted module to the
// handler interface.
type externalHandler struct {
	module *externalModule
	stage  stage.Name
}

func (h *externalHandler) Supports(item *media.Item) bool {
	return h.module.supports(string(h.stage), item.Source, item.Meta)
}

func (h *externalHandler) Process(_ context.Context, item *media.Item) error {
	paths, err := h.module.process(string(h.stage), item.Source,
		item.AcquiredPath, item.TransformedPaths, item.Meta)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, string(h.stage), "external",
			fmt.Sprintf("module %s", h.module.name), err)
	}
	switch h.stage {
	case stage.Acquire:
		if len(paths) > 0 {
			item.AcquiredPath = paths[0]
		}
	case stage.Transform:
		if len(paths) > 0 {
			item.TransformedPaths = paths
		}
	}
	return nil
}
