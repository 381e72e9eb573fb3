package script

import (
	"context"
	"testing"
	"time"

	tinysse "github.com/tinysse/tinysse"
)

func newPipelineTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(false, nil)
	t.Cleanup(e.Close)
	return e
}

func TestPipelineFallsBackToDefaultForUndefinedHooks(t *testing.T) {
	e := newPipelineTestEngine(t)
	if err := e.LoadString(`-- no hooks defined`); err != nil {
		t.Fatalf("load: %v", err)
	}
	p := NewPipeline(e)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pub := &tinysse.PublishCtx{Msg: tinysse.Message{Data: "hello"}, Bag: map[string]tinysse.Value{}}
	if err := p.Publish(ctx, pub); err != nil {
		t.Fatalf("expected default-accept publish, got %v", err)
	}

	sub := &tinysse.SubscribeCtx{Bag: map[string]tinysse.Value{}}
	out, ok := p.Message(ctx, pub, sub)
	if !ok || out.Data != "hello" {
		t.Fatalf("expected default message passthrough, got %v ok=%v", out, ok)
	}
}

func TestPipelinePublishHookCanRejectAndMutate(t *testing.T) {
	e := newPipelineTestEngine(t)
	if err := e.LoadString(`
		function publish(pub)
			if pub.msg.data == "reject-me" then
				return nil
			end
			pub.msg.id = "server-assigned"
			return pub
		end
	`); err != nil {
		t.Fatalf("load: %v", err)
	}
	p := NewPipeline(e)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rejected := &tinysse.PublishCtx{Msg: tinysse.Message{Data: "reject-me"}, Bag: map[string]tinysse.Value{}}
	if err := p.Publish(ctx, rejected); err == nil {
		t.Fatalf("expected publish hook to reject")
	}

	accepted := &tinysse.PublishCtx{Msg: tinysse.Message{Data: "keep-me"}, Bag: map[string]tinysse.Value{}}
	if err := p.Publish(ctx, accepted); err != nil {
		t.Fatalf("expected publish hook to accept, got %v", err)
	}
	if accepted.Msg.Id != "server-assigned" {
		t.Fatalf("expected publish hook to assign an id, got %q", accepted.Msg.Id)
	}
}

func TestPipelineSubscribeHookRejectsOnNil(t *testing.T) {
	e := newPipelineTestEngine(t)
	if err := e.LoadString(`
		function subscribe(sub)
			if sub.req.path == "/banned" then
				return nil
			end
			return sub
		end
	`); err != nil {
		t.Fatalf("load: %v", err)
	}
	p := NewPipeline(e)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rejected := &tinysse.SubscribeCtx{Req: tinysse.Snapshot{Path: "/banned"}, Bag: map[string]tinysse.Value{}}
	if err := p.Subscribe(ctx, rejected); err == nil {
		t.Fatalf("expected a nil return to reject the subscribe")
	}

	accepted := &tinysse.SubscribeCtx{Req: tinysse.Snapshot{Path: "/ok"}, Bag: map[string]tinysse.Value{}}
	if err := p.Subscribe(ctx, accepted); err != nil {
		t.Fatalf("expected subscribe hook to accept, got %v", err)
	}
}

func TestPipelineCatchupReturnsScriptedMessages(t *testing.T) {
	e := newPipelineTestEngine(t)
	if err := e.LoadString(`
		function catchup(sub, last_event_id)
			return {
				{ id = "1", data = "first" },
				{ id = "2", data = "second" },
			}
		end
	`); err != nil {
		t.Fatalf("load: %v", err)
	}
	p := NewPipeline(e)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub := &tinysse.SubscribeCtx{Bag: map[string]tinysse.Value{}}
	msgs := p.Catchup(ctx, sub, "")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 catch-up messages, got %d", len(msgs))
	}
	if msgs[0].Data != "first" || msgs[1].Data != "second" {
		t.Fatalf("unexpected catch-up messages: %+v", msgs)
	}
}

func TestPipelineTimeoutHookSuppliesRetry(t *testing.T) {
	e := newPipelineTestEngine(t)
	if err := e.LoadString(`
		function timeout(sub, elapsed_ms)
			return 2500
		end
	`); err != nil {
		t.Fatalf("load: %v", err)
	}
	p := NewPipeline(e)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub := &tinysse.SubscribeCtx{Bag: map[string]tinysse.Value{}}
	retryMs, hasRetry := p.Timeout(ctx, sub, 300000)
	if !hasRetry || retryMs != 2500 {
		t.Fatalf("expected retry=2500, got %d hasRetry=%v", retryMs, hasRetry)
	}
}
