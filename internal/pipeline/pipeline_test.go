package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"skimmer/internal/history"
	"skimmer/internal/jobqueue"
	"skimmer/internal/logging"
	"skimmer/internal/media"
	"skimmer/internal/services"
	"skimmer/internal/stage"
	"skimmer/internal/testsupport"
)

type recordingHandler struct {
	supports func(*media.Item) bool
	process  func(context.Context, *media.Item) error

	mu      sync.Mutex
	sources []string
}

func (h *recordingHandler) Supports(item *media.Item) bool {
	if h.supports != nil {
		return h.supports(item)
	}
	return true
}

func (h *recordingHandler) Process(ctx context.Context, item *media.Item) error {
	h.mu.Lock()
	h.sources = append(h.sources, item.Source)
	h.mu.Unlock()
	if h.process != nil {
		return h.process(ctx, item)
	}
	return nil
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.sources...)
}

func newTestPipeline(t *testing.T) (*Pipeline, *history.Store) {
	t.Helper()
	store := testsupport.OpenStore(t)
	p := New(nil, store, nil, WithPollInterval(10*time.Millisecond))
	return p, store
}

func TestAcquireQueueOrdersByPriorityThenInsertion(t *testing.T) {
	q := newAcquireQueue()
	low := media.NewItem("low", "low", nil)
	first := media.NewItem("first", "first", nil)
	second := media.NewItem("second", "second", nil)
	high := media.NewItem("high", "high", nil)
	high.Priority = 10
	low.Priority = -1

	q.push(first)
	q.push(low)
	q.push(high)
	q.push(second)

	want := []string{"high", "first", "second", "low"}
	for i, expected := range want {
		item := q.pop()
		if item == nil || item.Source != expected {
			t.Fatalf("pop %d = %v, want %s", i, item, expected)
		}
	}
	if q.pop() != nil {
		t.Fatal("drained queue returned an item")
	}
}

func TestEnqueueDropsProcessedItems(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	if err := store.MarkProcessed(ctx, "cats", "https://example.com/a.jpg"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	dup := media.NewItem("https://example.com/a.jpg", "a", nil)
	dup.Group = "cats"
	if err := p.Enqueue(ctx, dup); err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	fresh := media.NewItem("https://example.com/b.jpg", "b", nil)
	fresh.Group = "cats"
	if err := p.Enqueue(ctx, fresh); err != nil {
		t.Fatalf("enqueue fresh: %v", err)
	}

	acquire, _, _ := p.QueueDepths()
	if acquire != 1 {
		t.Fatalf("acquire depth = %d, want only the fresh item", acquire)
	}
}

func TestEnqueueAdmitsWhenHistoryUnreadable(t *testing.T) {
	store := testsupport.OpenStore(t)
	p := New(nil, store, nil)
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	item := media.NewItem("https://example.com/a.jpg", "a", nil)
	if err := p.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	acquire, _, _ := p.QueueDepths()
	if acquire != 1 {
		t.Fatal("unreadable history must not drop new work")
	}
}

func TestPipelineRunsItemThroughAllStages(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	published := make(chan string, 1)
	acquire := &recordingHandler{process: func(ctx context.Context, item *media.Item) error {
		item.AcquiredPath = "/tmp/raw"
		return nil
	}}
	transform := &recordingHandler{process: func(ctx context.Context, item *media.Item) error {
		item.TransformedPaths = []string{"/tmp/out.jpg"}
		return nil
	}}
	publish := &recordingHandler{process: func(ctx context.Context, item *media.Item) error {
		published <- item.Source
		return nil
	}}
	p.RegisterHandler(stage.Acquire, acquire, "test")
	p.RegisterHandler(stage.Transform, transform, "test")
	p.RegisterHandler(stage.Publish, publish, "test")

	job := jobqueue.NewJob("FETCH", nil)
	job.AddTotal(1)
	item := media.NewItem("https://example.com/a.jpg", "a", job)
	item.Group = "cats"
	if err := p.Enqueue(ctx, item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start pipeline: %v", err)
	}
	defer p.Stop()

	select {
	case source := <-published:
		if source != item.Source {
			t.Fatalf("published %q, want %q", source, item.Source)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("item never reached the publish stage")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		state, _, err := store.ItemState(ctx, item.Source)
		if err != nil {
			t.Fatalf("item state: %v", err)
		}
		if state == history.StatePublished {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %q, want %q", state, history.StatePublished)
		}
		time.Sleep(10 * time.Millisecond)
	}

	processed, err := store.IsProcessed(ctx, "cats", item.Source)
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if !processed {
		t.Fatal("published item not recorded in the dedup ledger")
	}
	deadline = time.Now().Add(2 * time.Second)
	for {
		if done, _ := job.Progress(); done == 1 {
			break
		}
		if time.Now().After(deadline) {
			done, total := job.Progress()
			t.Fatalf("job progress = %d/%d, want 1/1", done, total)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMaintenancePausesStageWorkers(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	handler := &recordingHandler{}
	p.RegisterHandler(stage.Acquire, handler, "test")
	p.SetMaintenance(true)

	if err := p.Enqueue(ctx, media.NewItem("https://example.com/a.jpg", "a", nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start pipeline: %v", err)
	}
	defer p.Stop()

	time.Sleep(100 * time.Millisecond)
	if seen := handler.seen(); len(seen) != 0 {
		t.Fatalf("maintenance mode processed items: %v", seen)
	}

	p.SetMaintenance(false)
	deadline := time.Now().Add(2 * time.Second)
	for len(handler.seen()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("item not processed after maintenance ended")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCurrentItemsDetachedFromWorkerMutation(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	handler := &recordingHandler{process: func(ctx context.Context, item *media.Item) error {
		close(started)
		for {
			select {
			case <-release:
				return nil
			default:
				item.SetMeta("pass", "x")
				item.TransformedPaths = append(item.TransformedPaths, "/tmp/x")
				item.RecordFailure(nil)
			}
		}
	}}
	p.RegisterHandler(stage.Acquire, handler, "test")

	item := media.NewItem("https://example.com/a.jpg", "a", nil)
	item.SetMeta("origin", "queued")
	if err := p.Enqueue(ctx, item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start pipeline: %v", err)
	}
	defer p.Stop()

	<-started
	// Poll while the worker keeps mutating the live item. The returned
	// snapshot must be frozen at pickup, not a view of worker state.
	for i := 0; i < 200; i++ {
		items := p.CurrentItems()
		snap, ok := items[stage.Acquire]
		if !ok {
			t.Fatal("acquire stage reported no in-flight item")
		}
		if got := snap.MetaValue("origin", ""); got != "queued" {
			t.Fatalf("snapshot origin = %q, want %q", got, "queued")
		}
		if snap.MetaValue("pass", "") != "" || len(snap.TransformedPaths) != 0 {
			t.Fatal("snapshot reflects worker-side mutation")
		}
		snap.Meta["origin"] = "tampered"
	}
	close(release)
}

func TestStageItemFailsTerminallyOnValidationError(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	handler := &recordingHandler{process: func(ctx context.Context, item *media.Item) error {
		return services.Wrap(services.ErrValidation, "acquire", "parse", "unsupported scheme", nil)
	}}
	p.RegisterHandler(stage.Acquire, handler, "test")

	item := media.NewItem("tel:+1555", "bad", nil)
	p.runStageItem(ctx, logging.NewNop(), stage.Acquire, item)

	if calls := handler.seen(); len(calls) != 1 {
		t.Fatalf("validation failure retried: %d attempts", len(calls))
	}
	state, reason, err := store.ItemState(ctx, item.Source)
	if err != nil {
		t.Fatalf("item state: %v", err)
	}
	if state != history.StateFailed || reason == "" {
		t.Fatalf("state = %q reason = %q", state, reason)
	}
	_, transformDepth, _ := p.QueueDepths()
	if transformDepth != 0 {
		t.Fatal("failed item advanced to the next stage")
	}
}

func TestStageItemWithoutHandlerFailsWithoutRetry(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	item := media.NewItem("s3://bucket/key", "orphan", nil)
	p.runStageItem(ctx, logging.NewNop(), stage.Acquire, item)

	state, _, err := store.ItemState(ctx, item.Source)
	if err != nil {
		t.Fatalf("item state: %v", err)
	}
	if state != history.StateFailed {
		t.Fatalf("state = %q, want %q", state, history.StateFailed)
	}
	if item.RetryCount != 1 {
		t.Fatalf("retry count = %d, want a single recorded failure", item.RetryCount)
	}
}

func TestStageItemRetriesTransientFailure(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	var attempts int
	handler := &recordingHandler{process: func(ctx context.Context, item *media.Item) error {
		attempts++
		if attempts == 1 {
			return services.Wrap(services.ErrTransient, "acquire", "download", "timeout", nil)
		}
		return nil
	}}
	p.RegisterHandler(stage.Acquire, handler, "test")

	item := media.NewItem("https://example.com/a.jpg", "a", nil)
	start := time.Now()
	p.runStageItem(ctx, logging.NewNop(), stage.Acquire, item)
	elapsed := time.Since(start)

	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	// The first retry backs off one second.
	if elapsed < time.Second {
		t.Fatalf("retry happened after %v, want at least 1s backoff", elapsed)
	}
	_, transformDepth, _ := p.QueueDepths()
	if transformDepth != 1 {
		t.Fatal("recovered item did not advance")
	}
	state, _, err := store.ItemState(ctx, item.Source)
	if err != nil {
		t.Fatalf("item state: %v", err)
	}
	if state != history.StateAcquired {
		t.Fatalf("state = %q, want %q", state, history.StateAcquired)
	}
}

func TestStageItemContainsHandlerPanic(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	handler := &recordingHandler{process: func(ctx context.Context, item *media.Item) error {
		panic("handler bug")
	}}
	p.RegisterHandler(stage.Acquire, handler, "test")

	item := media.NewItem("https://example.com/a.jpg", "a", nil)
	item.MaxRetries = 0
	p.runStageItem(ctx, logging.NewNop(), stage.Acquire, item)

	state, reason, err := store.ItemState(ctx, item.Source)
	if err != nil {
		t.Fatalf("item state: %v", err)
	}
	if state != history.StateFailed {
		t.Fatalf("state = %q, want %q", state, history.StateFailed)
	}
	if reason == "" {
		t.Fatal("panic reason not recorded")
	}
}

func TestCollectBatchDrainsAvailableItems(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	for _, source := range []string{"a", "b", "c"} {
		item := media.NewItem(source, source, nil)
		item.TransformedPaths = []string{"/tmp/" + source + ".jpg"}
		p.publishQ.push(item)
	}

	first := p.publishQ.pop()
	batch := p.collectBatch(ctx, first)
	if len(batch) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch))
	}
	for i, source := range []string{"a", "b", "c"} {
		if batch[i].Source != source {
			t.Fatalf("batch[%d] = %q, want %q", i, batch[i].Source, source)
		}
	}
}

func TestCollectBatchRespectsCap(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	for i := 0; i < batchMaxItems+3; i++ {
		p.publishQ.push(media.NewItem("item", "item", nil))
	}
	first := p.publishQ.pop()
	batch := p.collectBatch(ctx, first)
	if len(batch) != batchMaxItems {
		t.Fatalf("batch size = %d, want cap %d", len(batch), batchMaxItems)
	}
	if leftover := p.publishQ.len(); leftover != 3 {
		t.Fatalf("leftover = %d, want 3", leftover)
	}
}

func TestPublishBatchMergesAndCompletesEveryMember(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	var mu sync.Mutex
	var artifactCount int
	var batchSizeMeta string
	handler := &recordingHandler{process: func(ctx context.Context, item *media.Item) error {
		mu.Lock()
		artifactCount = len(item.TransformedPaths)
		batchSizeMeta = item.MetaValue(media.MetaBatchSize, "")
		mu.Unlock()
		return nil
	}}
	p.RegisterHandler(stage.Publish, handler, "test")

	job := jobqueue.NewJob("FETCH", nil)
	var batch []*media.Item
	for _, source := range []string{"a", "b", "c"} {
		item := media.NewItem(source, source, job)
		item.Group = "cats"
		item.TransformedPaths = []string{"/tmp/" + source + ".jpg"}
		batch = append(batch, item)
	}

	p.publishBatch(ctx, logging.NewNop(), batch)

	if artifactCount != 3 || batchSizeMeta != "3" {
		t.Fatalf("merged target saw %d artifacts, batch size %q", artifactCount, batchSizeMeta)
	}
	for _, source := range []string{"a", "b", "c"} {
		processed, err := store.IsProcessed(ctx, "cats", source)
		if err != nil {
			t.Fatalf("is processed: %v", err)
		}
		if !processed {
			t.Fatalf("member %q not recorded as processed", source)
		}
	}
	if done, _ := job.Progress(); done != 3 {
		t.Fatalf("job processed = %d, want 3", done)
	}
}

func TestPublishBatchValidationErrorFailsAllMembers(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	handler := &recordingHandler{process: func(ctx context.Context, item *media.Item) error {
		return services.Wrap(services.ErrValidation, "publish", "write", "target missing", nil)
	}}
	p.RegisterHandler(stage.Publish, handler, "test")

	var batch []*media.Item
	for _, source := range []string{"a", "b"} {
		item := media.NewItem(source, source, nil)
		item.TransformedPaths = []string{"/tmp/" + source + ".jpg"}
		batch = append(batch, item)
	}
	p.publishBatch(ctx, logging.NewNop(), batch)

	if calls := handler.seen(); len(calls) != 1 {
		t.Fatalf("validation failure retried: %d attempts", len(calls))
	}
	for _, source := range []string{"a", "b"} {
		state, _, err := store.ItemState(ctx, source)
		if err != nil {
			t.Fatalf("item state: %v", err)
		}
		if state != history.StateFailed {
			t.Fatalf("member %q state = %q, want %q", source, state, history.StateFailed)
		}
	}
}

func TestPublishBatchFailsExhaustedMembersIndividually(t *testing.T) {
	p, store := newTestPipeline(t)

	handler := &recordingHandler{process: func(ctx context.Context, item *media.Item) error {
		return services.Wrap(services.ErrTransient, "publish", "write", "disk busy", nil)
	}}
	p.RegisterHandler(stage.Publish, handler, "test")

	exhausted := media.NewItem("exhausted", "exhausted", nil)
	exhausted.MaxRetries = 0
	exhausted.TransformedPaths = []string{"/tmp/exhausted.jpg"}
	fresh := media.NewItem("fresh", "fresh", nil)
	fresh.TransformedPaths = []string{"/tmp/fresh.jpg"}

	// Cancel during the first backoff so the retained member stays pending.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.publishBatch(ctx, logging.NewNop(), []*media.Item{exhausted, fresh})

	state, _, err := store.ItemState(context.Background(), "exhausted")
	if err != nil {
		t.Fatalf("item state: %v", err)
	}
	if state != history.StateFailed {
		t.Fatalf("exhausted member state = %q, want %q", state, history.StateFailed)
	}
	state, _, err = store.ItemState(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("item state: %v", err)
	}
	if state == history.StateFailed {
		t.Fatal("member with budget left was failed terminally")
	}
	if fresh.RetryCount != 1 {
		t.Fatalf("retained member retry count = %d, want 1", fresh.RetryCount)
	}
}
