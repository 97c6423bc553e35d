// Package search provides the builtin SEARCH_BATCH job executor. A search
// job carries either an explicit list of source URLs or a query plus an
// amount to expand; the executor fans the resulting sources out as work
// items on the pipeline's acquire stage.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"

	"skimmer/internal/config"
	"skimmer/internal/jobqueue"
	"skimmer/internal/logging"
	"skimmer/internal/media"
	"skimmer/internal/module"
	"skimmer/internal/services"
	"skimmer/internal/textutil"
)

const (
	ModuleName = "search"

	// JobTypeSearchBatch expands a source list into pipeline work items.
	JobTypeSearchBatch = "SEARCH_BATCH"
)

// Module owns the SEARCH_BATCH executor.
type Module struct {
	cfg    *config.Config
	logger *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Module {
	return &Module{cfg: cfg, logger: logging.NewComponentLogger(logger, ModuleName)}
}

func (m *Module) Name() string { return ModuleName }

func (m *Module) Init(_ context.Context, reg *module.Registrar) error {
	reg.Executor(JobTypeSearchBatch, jobqueue.ExecutorFunc(func(ctx context.Context, job *jobqueue.Job) error {
		return m.execute(ctx, reg, job)
	}))
	return nil
}

func (m *Module) Shutdown(context.Context) error { return nil }

// execute expands the job's source list into work items. Jobs either carry
// explicit urls or a query plus an amount to expand; every admitted item
// counts toward the job's total so progress reads correctly even when the
// dedup gate later drops some of them.
func (m *Module) execute(ctx context.Context, reg *module.Registrar, job *jobqueue.Job) error {
	query := job.StringParam("query", "")
	group := job.StringParam("group", "")
	if group == "" {
		group = textutil.Slug(query)
	}

	sources := splitSources(job.StringParam("urls", ""))
	if raw, ok := job.Params["urls"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				sources = append(sources, strings.TrimSpace(s))
			}
		}
	}
	if len(sources) == 0 {
		sources = expandQuery(query, group,
			job.IntParam("amount", 1), job.StringParam("url_template", ""))
	}
	if len(sources) == 0 {
		return services.Wrap(services.ErrValidation, "jobqueue", JobTypeSearchBatch,
			"job has neither urls nor query parameters", nil)
	}

	priority := job.IntParam("priority", 0)
	maxRetries := job.IntParam("max_retries", m.defaultRetries())
	authHeader := job.StringParam("auth_header", "")

	job.AddTotal(len(sources))
	for _, source := range sources {
		item := media.NewItem(source, nameFromSource(source), job)
		item.Group = group
		item.Priority = priority
		item.MaxRetries = maxRetries
		if authHeader != "" {
			item.SetMeta(media.MetaAuthHeader, authHeader)
		}
		if err := reg.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("enqueue %s: %w", source, err)
		}
	}

	logging.WithContext(ctx, m.logger).Info("search batch expanded",
		logging.String("query", query),
		logging.Int("sources", len(sources)),
	)
	return nil
}

// defaultRetries resolves the item retry budget from configuration.
func (m *Module) defaultRetries() int {
	if m.cfg != nil && m.cfg.Pipeline.MaxRetries > 0 {
		return m.cfg.Pipeline.MaxRetries
	}
	return media.DefaultMaxRetries
}

// expandQuery synthesizes amount source locators for a query. A url_template
// has its {query} and {index} placeholders substituted per locator; without
// one the locators use the search scheme and are claimed by whichever
// acquire handler understands them.
func expandQuery(query, group string, amount int, template string) []string {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	if amount < 1 {
		amount = 1
	}
	sources := make([]string, 0, amount)
	for n := 1; n <= amount; n++ {
		if template != "" {
			s := strings.ReplaceAll(template, "{query}", url.QueryEscape(query))
			s = strings.ReplaceAll(s, "{index}", strconv.Itoa(n))
			sources = append(sources, s)
			continue
		}
		sources = append(sources, fmt.Sprintf("search://%s/%s-%d", group, group, n))
	}
	return sources
}

// splitSources accepts whitespace-, comma-, or newline-separated URL lists.
func splitSources(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == ' ' || r == '\t' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// nameFromSource derives a display name from the URL's last path segment.
func nameFromSource(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return source
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return u.Host
	}
	return base
}
