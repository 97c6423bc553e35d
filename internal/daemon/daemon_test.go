package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"skimmer/internal/api"
	"skimmer/internal/config"
	"skimmer/internal/jobqueue"
	"skimmer/internal/logging"
	"skimmer/internal/modules/search"
	"skimmer/internal/testsupport"
)

func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, *config.Config) {
	t.Helper()
	opts = append([]testsupport.ConfigOption{func(cfg *config.Config) {
		// Keep the environment out of the disk space check.
		cfg.Pipeline.MinFreeDiskGiB = 0
		cfg.Queue.PollInterval = 1
		cfg.Pipeline.PollInterval = 1
	}}, opts...)
	cfg := testsupport.NewConfig(t, opts...)

	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("close daemon: %v", err)
		}
	})
	return d, cfg
}

func TestDaemonStartLoadsBuiltinModules(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	names := d.Registry().Names()
	want := []string{"normalize", "publishdir", "search", "webfetch"}
	if len(names) != len(want) {
		t.Fatalf("modules = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("modules = %v, want %v", names, want)
		}
	}

	status := d.Status()
	if !status.Running {
		t.Fatal("status reports not running")
	}
	if len(status.Checks) == 0 {
		t.Fatal("status carries no preflight results")
	}
	for _, check := range status.Checks {
		if !check.Passed {
			t.Fatalf("preflight check %q failed: %s", check.Name, check.Detail)
		}
	}
	checkNames := make(map[string]bool, len(status.Checks))
	for _, check := range status.Checks {
		checkNames[check.Name] = true
	}
	for _, name := range []string{"webfetch download dir", "publishdir library dir"} {
		if !checkNames[name] {
			t.Fatalf("handler health check %q missing from %v", name, status.Checks)
		}
	}
}

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	first, cfg := newTestDaemon(t)
	ctx := context.Background()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("start first: %v", err)
	}
	defer first.Stop()

	second, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new second daemon: %v", err)
	}
	defer second.Close()
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the lock")
	}
}

func TestDaemonSubmitJobValidatesType(t *testing.T) {
	d, _ := newTestDaemon(t)

	if _, err := d.SubmitJob("   ", nil); err == nil {
		t.Fatal("blank job type accepted")
	}
	job, err := d.SubmitJob(search.JobTypeSearchBatch, map[string]any{"urls": "https://example.com/a.jpg"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID == "" {
		t.Fatal("job has no id")
	}
	if d.Queue().Len() != 1 {
		t.Fatalf("queue length = %d, want 1", d.Queue().Len())
	}
}

func TestDaemonMaintenancePausesQueueAndPipeline(t *testing.T) {
	d, _ := newTestDaemon(t)

	d.SetMaintenance(true)
	status := d.Status()
	if !status.Maintenance || !status.QueuePaused {
		t.Fatalf("status = %+v, want maintenance and paused", status)
	}
	d.SetMaintenance(false)
	status = d.Status()
	if status.Maintenance || status.QueuePaused {
		t.Fatalf("status = %+v, want resumed", status)
	}
}

func TestDaemonRunsSearchJobEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image bytes"))
	}))
	defer server.Close()

	d, cfg := newTestDaemon(t)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	job, err := d.SubmitJob(search.JobTypeSearchBatch, map[string]any{
		"query":        "demo",
		"amount":       2,
		"url_template": server.URL + "/gallery/{index}-cat.jpg?q={query}",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(20 * time.Second)
	for {
		view := job.View()
		if view.Status == jobqueue.StatusFailed {
			t.Fatalf("job failed: %s", view.ErrorMessage)
		}
		if view.Status == jobqueue.StatusDone && view.ProcessedItems == 2 {
			if view.TotalItems != 2 {
				t.Fatalf("job total = %d, want 2", view.TotalItems)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s with %d/%d items processed",
				view.Status, view.ProcessedItems, view.TotalItems)
		}
		time.Sleep(25 * time.Millisecond)
	}

	groupDir := filepath.Join(cfg.Paths.LibraryDir, "demo")
	entries, err := os.ReadDir(groupDir)
	if err != nil {
		t.Fatalf("read library group dir: %v", err)
	}
	if len(entries) != 2 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("library holds %v, want both published artifacts", names)
	}
}

func TestAPIServerRoundTrip(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.api.serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for d.api.addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("api server never bound")
		}
		time.Sleep(10 * time.Millisecond)
	}

	client, err := api.NewClient(d.api.addr())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running {
		t.Fatal("api status reports not running")
	}

	// Pause first so the submitted job stays visible in the queue listing.
	if err := client.SetMaintenance(ctx, true); err != nil {
		t.Fatalf("set maintenance: %v", err)
	}
	status, err = client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Maintenance {
		t.Fatal("maintenance flag not visible over the api")
	}

	submitted, err := client.SubmitJob(ctx, api.SubmitJobRequest{
		Type:   search.JobTypeSearchBatch,
		Params: map[string]any{"urls": "https://example.invalid/a.jpg"},
	})
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}
	if submitted.ID == "" {
		t.Fatal("submit response has no id")
	}

	queue, err := client.Queue(ctx)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue.Jobs) != 1 || queue.Jobs[0].ID != submitted.ID {
		t.Fatalf("queue listing = %+v, want the submitted job", queue.Jobs)
	}

	modules, err := client.Modules(ctx)
	if err != nil {
		t.Fatalf("modules: %v", err)
	}
	if len(modules.Modules) != 4 {
		t.Fatalf("module count = %d, want 4", len(modules.Modules))
	}

	if err := client.SetModuleEnabled(ctx, "normalize", false); err != nil {
		t.Fatalf("disable module: %v", err)
	}
	if err := client.SetModuleEnabled(ctx, "no-such-module", false); err == nil {
		t.Fatal("unknown module disable succeeded")
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("api server did not shut down")
	}
}

func TestSchedulerSubmitsConfiguredJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, func(cfg *config.Config) {
		cfg.Scheduled = []config.ScheduledJob{
			{Schedule: "@every 50ms", Type: search.JobTypeSearchBatch, Params: map[string]string{
				"urls": "https://example.com/feed",
			}},
			{Schedule: "not a schedule", Type: "IGNORED"},
		}
	})
	q, err := jobqueue.New(cfg.QueueSnapshotPath(), nil)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	s := newScheduler(cfg, q, logging.NewNop())
	s.start()
	defer s.stop()

	deadline := time.Now().Add(5 * time.Second)
	for q.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never submitted a job")
		}
		time.Sleep(10 * time.Millisecond)
	}
	jobs := q.Jobs()
	if jobs[0].Type != search.JobTypeSearchBatch {
		t.Fatalf("scheduled job type = %q", jobs[0].Type)
	}
	if jobs[0].Params["urls"] != "https://example.com/feed" {
		t.Fatalf("scheduled job params = %v", jobs[0].Params)
	}
}
