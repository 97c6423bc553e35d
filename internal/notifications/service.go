package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"skimmer/internal/config"
)

const userAgent = "Skimmer-Go/0.1.0"

// Service defines the notification surface exposed to the daemon and
// pipeline components.
type Service interface {
	NotifyJobStarted(ctx context.Context, jobType, jobID string) error
	NotifyJobCompleted(ctx context.Context, jobType, jobID string, processed int) error
	NotifyJobFailed(ctx context.Context, jobType, jobID, reason string) error
	NotifyBatchPublished(ctx context.Context, size int, name string) error
	NotifyItemFailed(ctx context.Context, source, stage string, err error) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		jobs:      cfg.Notifications.Jobs,
		publishes: cfg.Notifications.Publishes,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	jobs      bool
	publishes bool
	errors    bool
}

func (n *ntfyService) NotifyJobStarted(ctx context.Context, jobType, jobID string) error {
	if !n.jobs {
		return nil
	}
	data := payload{
		title:   "Skimmer - Job Started",
		message: fmt.Sprintf("Started %s job %s", strings.TrimSpace(jobType), shortID(jobID)),
		tags:    []string{"skimmer", "job", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, jobType, jobID string, processed int) error {
	if !n.jobs {
		return nil
	}
	data := payload{
		title:   "Skimmer - Job Complete",
		message: fmt.Sprintf("%s job %s finished: %d items processed", strings.TrimSpace(jobType), shortID(jobID), processed),
		tags:    []string{"skimmer", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobType, jobID, reason string) error {
	if !n.jobs {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Skimmer - Job Failed",
		message:  fmt.Sprintf("%s job %s failed: %s", strings.TrimSpace(jobType), shortID(jobID), reason),
		tags:     []string{"skimmer", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchPublished(ctx context.Context, size int, name string) error {
	if !n.publishes {
		return nil
	}
	name = strings.TrimSpace(name)
	message := fmt.Sprintf("Published batch of %d items", size)
	if name != "" {
		message = fmt.Sprintf("%s\nLead item: %s", message, name)
	}
	data := payload{
		title:   "Skimmer - Published",
		message: message,
		tags:    []string{"skimmer", "publish", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyItemFailed(ctx context.Context, source, stage string, err error) error {
	if !n.errors {
		return nil
	}
	reason := "unknown"
	if err != nil {
		reason = strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "Skimmer - Item Failed",
		message:  fmt.Sprintf("%s failed in %s: %s", strings.TrimSpace(source), stage, reason),
		tags:     []string{"skimmer", "item", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Skimmer - Error",
		message:  builder.String(),
		tags:     []string{"skimmer", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Skimmer - Test",
		message:  "Notification system test",
		tags:     []string{"skimmer", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) NotifyJobStarted(context.Context, string, string) error            { return nil }
func (noopService) NotifyJobCompleted(context.Context, string, string, int) error     { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error     { return nil }
func (noopService) NotifyBatchPublished(context.Context, int, string) error           { return nil }
func (noopService) NotifyItemFailed(context.Context, string, string, error) error     { return nil }
func (noopService) NotifyError(context.Context, error, string) error                  { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
