package stage

import (
	"context"
	"strings"
	"testing"

	"skimmer/internal/media"
)

type stubHandler struct {
	name   string
	prefix string
}

func (h *stubHandler) Supports(item *media.Item) bool {
	return strings.HasPrefix(item.Source, h.prefix)
}

func (h *stubHandler) Process(ctx context.Context, item *media.Item) error { return nil }

func TestChainNewestRegistrationWins(t *testing.T) {
	chain := NewChain()
	old := &stubHandler{name: "old", prefix: "https://"}
	chain.Register(old, "core")
	replacement := &stubHandler{name: "new", prefix: "https://"}
	chain.Register(replacement, "plugin")

	item := media.NewItem("https://example.com/a.jpg", "a", nil)
	got := chain.Resolve(item)
	if got != Handler(replacement) {
		t.Fatal("resolution did not prefer the newest handler")
	}
	if chain.Len() != 2 {
		t.Fatalf("chain length = %d, want 2", chain.Len())
	}
}

func TestChainFallsThroughToSupportingHandler(t *testing.T) {
	chain := NewChain()
	web := &stubHandler{name: "web", prefix: "https://"}
	ftp := &stubHandler{name: "ftp", prefix: "ftp://"}
	chain.Register(web, "core")
	chain.Register(ftp, "plugin")

	item := media.NewItem("https://example.com/a.jpg", "a", nil)
	if got := chain.Resolve(item); got != Handler(web) {
		t.Fatal("resolution did not fall through to the supporting handler")
	}
	if got := chain.Resolve(media.NewItem("s3://bucket/key", "k", nil)); got != nil {
		t.Fatal("unsupported item resolved a handler")
	}
}

func TestChainUnregisterModuleRestoresShadowedHandler(t *testing.T) {
	chain := NewChain()
	original := &stubHandler{name: "original", prefix: "https://"}
	chain.Register(original, "core")
	chain.Register(&stubHandler{name: "override", prefix: "https://"}, "plugin")

	chain.UnregisterModule("plugin")

	item := media.NewItem("https://example.com/a.jpg", "a", nil)
	if got := chain.Resolve(item); got != Handler(original) {
		t.Fatal("unregister did not restore the shadowed handler")
	}
	if chain.Len() != 1 {
		t.Fatalf("chain length = %d, want 1", chain.Len())
	}
}

type checkedHandler struct {
	stubHandler
	health Health
}

func (h *checkedHandler) HealthCheck(context.Context) Health { return h.health }

func TestChainHealthChecksQueryCheckedHandlersOnly(t *testing.T) {
	chain := NewChain()
	chain.Register(&stubHandler{name: "plain", prefix: "https://"}, "core")
	chain.Register(&checkedHandler{health: Healthy("sink")}, "core")
	chain.Register(&checkedHandler{health: Unhealthy("store", "disk full")}, "plugin")

	got := chain.HealthChecks(context.Background())
	if len(got) != 2 {
		t.Fatalf("health results = %v, want the two checked handlers", got)
	}
	if got[0].Name != "store" || got[0].Ready || got[0].Detail != "disk full" {
		t.Fatalf("first result = %+v", got[0])
	}
	if got[1].Name != "sink" || !got[1].Ready {
		t.Fatalf("second result = %+v", got[1])
	}
}

func TestChainIgnoresNilHandler(t *testing.T) {
	chain := NewChain()
	chain.Register(nil, "core")
	if chain.Len() != 0 {
		t.Fatalf("chain length = %d, want 0", chain.Len())
	}
}
