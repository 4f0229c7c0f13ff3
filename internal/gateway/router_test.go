package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/aidalabs/aida/internal/contextmgr"
	"github.com/aidalabs/aida/internal/deepthink"
)

type fakeDeepFlow struct {
	result *deepthink.Result
	err    error
	calls  int
}

func (f *fakeDeepFlow) Run(ctx context.Context, prompt string, history []string) (*deepthink.Result, error) {
	f.calls++
	return f.result, f.err
}

func newRouterRig(t *testing.T, deep DeepFlow) (*EventRouter, *fakePlatform, *testRig) {
	t.Helper()
	rig := newRig(t, 100000, nil)
	contexts := contextmgr.NewManager(nil, fixedBudget(100000), slog.Default())
	router := NewEventRouter(rig.proc, deep, contexts, rig.platform, slog.Default())
	return router, rig.platform, rig
}

func TestDispatchDeepThink(t *testing.T) {
	deep := &fakeDeepFlow{result: &deepthink.Result{Parts: []string{"parte um", "parte dois"}}}
	router, platform, rig := newRouterRig(t, deep)

	ev := event("+think analisa a estratégia")
	ev.DeepThink = true
	router.Dispatch(context.Background(), ev)
	router.Drain()

	if deep.calls != 1 {
		t.Fatalf("deep flow calls = %d, want 1", deep.calls)
	}
	if rig.agent.calls != 0 {
		t.Error("deep-think events must not reach the regular agent")
	}
	// Placeholder post, then part two posted sequentially; part one
	// replaced the placeholder via update.
	if len(platform.posts) != 2 {
		t.Errorf("posts = %v", platform.posts)
	}
	if platform.posts[1] != "parte dois" {
		t.Errorf("second post = %q", platform.posts[1])
	}
	foundFirst := false
	for _, u := range platform.updates {
		if u == "parte um" {
			foundFirst = true
		}
	}
	if !foundFirst {
		t.Errorf("first part never replaced the placeholder: %v", platform.updates)
	}
}

func TestDispatchRegularEvent(t *testing.T) {
	deep := &fakeDeepFlow{}
	router, _, rig := newRouterRig(t, deep)

	router.Dispatch(context.Background(), event("pergunta normal"))
	router.Drain()

	if deep.calls != 0 {
		t.Error("regular events must not reach the deep flow")
	}
	if rig.agent.calls != 1 {
		t.Errorf("agent calls = %d, want 1", rig.agent.calls)
	}
}

func TestDeepThinkAccessDenied(t *testing.T) {
	deep := &fakeDeepFlow{result: &deepthink.Result{Parts: []string{"análise"}}}
	router, platform, rig := newRouterRig(t, deep)
	rig.proc.access = NewChannelPolicy([]string{"C999"})

	ev := event("+think analisa")
	ev.DeepThink = true
	router.Dispatch(context.Background(), ev)
	router.Drain()

	if deep.calls != 0 {
		t.Errorf("deep flow calls = %d, unlisted channel must be dropped", deep.calls)
	}
	if len(platform.posts) != 0 {
		t.Errorf("posts = %v, want none", platform.posts)
	}
}

func TestDeepThinkSelfLoopDropped(t *testing.T) {
	deep := &fakeDeepFlow{result: &deepthink.Result{Parts: []string{"análise"}}}
	router, platform, _ := newRouterRig(t, deep)

	ev := event("Encontrei o arquivo que você pediu!")
	ev.DeepThink = true
	router.Dispatch(context.Background(), ev)
	router.Drain()

	if deep.calls != 0 || len(platform.posts) != 0 {
		t.Error("bot-echo deep-think message must be dropped silently")
	}
}

func TestDeepThinkDuplicateSuppressed(t *testing.T) {
	deep := &fakeDeepFlow{result: &deepthink.Result{Parts: []string{"análise"}}}
	router, _, _ := newRouterRig(t, deep)

	ev := event("+think analisa")
	ev.DeepThink = true
	router.Dispatch(context.Background(), ev)
	router.Drain()
	router.Dispatch(context.Background(), ev)
	router.Drain()

	if deep.calls != 1 {
		t.Errorf("deep flow calls = %d, want 1 for duplicate delivery", deep.calls)
	}
}

func TestDeepThinkFailureDeliversFriendlyError(t *testing.T) {
	deep := &fakeDeepFlow{err: errors.New("model exploded")}
	router, platform, _ := newRouterRig(t, deep)

	ev := event("+think analisa")
	ev.DeepThink = true
	router.Dispatch(context.Background(), ev)
	router.Drain()

	final := platform.lastUpdate()
	if strings.Contains(final, "exploded") {
		t.Errorf("internal error leaked to user: %q", final)
	}
	if final == "" || final == analyzingPlaceholder {
		t.Errorf("no user-facing error delivered: %q", final)
	}
}
