// Package webfetch provides the builtin HTTP acquisition module. It is the
// fallback acquire handler for any item whose source is an http or https URL,
// with per-host rate limiting and an optional authorization header carried in
// item metadata.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"skimmer/internal/config"
	"skimmer/internal/logging"
	"skimmer/internal/media"
	"skimmer/internal/module"
	"skimmer/internal/services"
	"skimmer/internal/stage"
	"skimmer/internal/textutil"
)

const ModuleName = "webfetch"

// Module downloads item sources over HTTP into the download directory.
type Module struct {
	cfg    *config.Config
	logger *slog.Logger
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg *config.Config, logger *slog.Logger) *Module {
	timeout := time.Duration(cfg.Fetch.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Module{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, ModuleName),
		client:   &http.Client{Timeout: timeout},
		limiters: make(map[string]*rate.Limiter),
	}
}

func (m *Module) Name() string { return ModuleName }

func (m *Module) Init(_ context.Context, reg *module.Registrar) error {
	reg.Handler(stage.Acquire, &handler{module: m})
	return nil
}

func (m *Module) Shutdown(context.Context) error { return nil }

// limiter returns the rate limiter for host, creating it on first use.
func (m *Module) limiter(host string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[host]; ok {
		return l
	}
	perHost := m.cfg.Fetch.RequestsPerHost
	if perHost <= 0 {
		perHost = 2
	}
	burst := m.cfg.Fetch.RequestBurst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(perHost), burst)
	m.limiters[host] = l
	return l
}

type handler struct {
	module *Module
}

func (h *handler) Supports(item *media.Item) bool {
	u, err := url.Parse(item.Source)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// HealthCheck verifies the download directory accepts writes.
func (h *handler) HealthCheck(context.Context) stage.Health {
	marker := filepath.Join(h.module.cfg.Paths.DownloadDir, ".webfetch-write-check")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return stage.Unhealthy("webfetch download dir", err.Error())
	}
	os.Remove(marker)
	return stage.Healthy("webfetch download dir")
}

func (h *handler) Process(ctx context.Context, item *media.Item) error {
	m := h.module
	u, err := url.Parse(item.Source)
	if err != nil {
		return services.Wrap(services.ErrValidation, string(stage.Acquire), ModuleName,
			fmt.Sprintf("parse source %q", item.Source), err)
	}

	if err := m.limiter(u.Host).Wait(ctx); err != nil {
		return services.Wrap(services.ErrTransient, string(stage.Acquire), ModuleName,
			"rate limit wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.Source, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, string(stage.Acquire), ModuleName,
			"build request", err)
	}
	if ua := strings.TrimSpace(m.cfg.Fetch.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if auth := item.MetaValue(media.MetaAuthHeader, ""); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, string(stage.Acquire), ModuleName,
			"request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransient, string(stage.Acquire), ModuleName,
			fmt.Sprintf("server returned %d", resp.StatusCode), nil)
	default:
		return services.Wrap(services.ErrValidation, string(stage.Acquire), ModuleName,
			fmt.Sprintf("server returned %d", resp.StatusCode), nil)
	}

	dest := m.destPath(u)
	written, err := m.writeBody(dest, resp.Body)
	if err != nil {
		return err
	}

	item.AcquiredPath = dest
	logging.WithContext(ctx, m.logger).Info("acquired",
		logging.String(logging.FieldSource, item.Source),
		logging.String("path", dest),
		logging.Int64("bytes", written),
	)
	return nil
}

// destPath builds a collision-free destination inside the download directory.
// URL path segments may decode to filesystem-unsafe characters.
func (m *Module) destPath(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		base = "download"
	}
	if base = textutil.SanitizeFileName(base); base == "" {
		base = "download"
	}
	return filepath.Join(m.cfg.Paths.DownloadDir,
		fmt.Sprintf("%s-%s", uuid.NewString()[:8], base))
}

// writeBody streams the response to disk, enforcing the configured size cap.
func (m *Module) writeBody(dest string, body io.Reader) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, string(stage.Acquire), ModuleName,
			fmt.Sprintf("create %s", dest), err)
	}
	defer f.Close()

	limit := m.cfg.Fetch.MaxDownloadBytes
	var reader io.Reader = body
	if limit > 0 {
		reader = io.LimitReader(body, limit+1)
	}
	written, err := io.Copy(f, reader)
	if err != nil {
		os.Remove(dest)
		return 0, services.Wrap(services.ErrTransient, string(stage.Acquire), ModuleName,
			"download body", err)
	}
	if limit > 0 && written > limit {
		os.Remove(dest)
		return 0, services.Wrap(services.ErrValidation, string(stage.Acquire), ModuleName,
			fmt.Sprintf("download exceeds %d byte cap", limit), nil)
	}
	return written, nil
}
