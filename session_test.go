package tinysse

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// bufFrameWriter adapts a bytes.Buffer to FrameWriter for tests.
type bufFrameWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *bufFrameWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
func (b *bufFrameWriter) Flush() {}
func (b *bufFrameWriter) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// countingPipeline records unsubscribe calls, for P7 (exactly once).
type countingPipeline struct {
	DefaultPipeline
	mu            sync.Mutex
	unsubscribes  int
	catchupResult []Message
}

func (p *countingPipeline) Unsubscribe(context.Context, *SubscribeCtx) {
	p.mu.Lock()
	p.unsubscribes++
	p.mu.Unlock()
}

func (p *countingPipeline) Catchup(_ context.Context, _ *SubscribeCtx, _ string) []Message {
	return p.catchupResult
}

func TestSessionHelloThenCatchupThenLive(t *testing.T) {
	q := NewBroadcastQueue[*PublishCtx](8)
	reader := q.Subscribe()

	pipeline := &countingPipeline{catchupResult: []Message{
		{Id: "a", Data: "first"},
		{Id: "b", Data: "second"},
	}}
	sub := &SubscribeCtx{}
	sess := NewSubscriberSession(1, sub, pipeline, reader, SessionConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	w := &bufFrameWriter{}

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx, w, "") }()

	// give the hello+catchup frames time to land, then publish a live message
	time.Sleep(20 * time.Millisecond)
	q.Publish(&PublishCtx{Msg: Message{Data: "live"}})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	out := w.String()
	if !strings.HasPrefix(out, ": ok\n\n") {
		t.Fatalf("expected hello frame first, got %q", out)
	}
	if !strings.Contains(out, "id: a\ndata: first\n\n") {
		t.Fatalf("missing catch-up frame a: %q", out)
	}
	if !strings.Contains(out, "id: b\ndata: second\n\n") {
		t.Fatalf("missing catch-up frame b: %q", out)
	}
	if !strings.Contains(out, "data: live\n\n") {
		t.Fatalf("missing live frame: %q", out)
	}
	// P8: no catch-up frame appears after the live frame.
	liveIdx := strings.Index(out, "data: live")
	bIdx := strings.Index(out, "id: b")
	if bIdx > liveIdx {
		t.Fatalf("catch-up frame b appeared after live frame")
	}

	if pipeline.unsubscribes != 1 {
		t.Fatalf("expected exactly one unsubscribe call, got %d", pipeline.unsubscribes)
	}
}

func TestSessionUnsubscribeExactlyOnceOnDisconnect(t *testing.T) {
	q := NewBroadcastQueue[*PublishCtx](8)
	reader := q.Subscribe()
	pipeline := &countingPipeline{}
	sess := NewSubscriberSession(1, &SubscribeCtx{}, pipeline, reader, SessionConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	w := &bufFrameWriter{}
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx, w, "") }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	if pipeline.unsubscribes != 1 {
		t.Fatalf("expected exactly one unsubscribe, got %d", pipeline.unsubscribes)
	}
}

// failingFrameWriter fails its very first Write, simulating a client that
// disconnects before the hello frame lands.
type failingFrameWriter struct{}

func (failingFrameWriter) Write(p []byte) (int, error) { return 0, errors.New("write: broken pipe") }
func (failingFrameWriter) Flush()                       {}

// TestSessionUnsubscribeCalledEvenIfHelloWriteFails is P7: Unsubscribe must
// fire for every accepted subscribe, even one that never gets past writing
// the hello frame.
func TestSessionUnsubscribeCalledEvenIfHelloWriteFails(t *testing.T) {
	q := NewBroadcastQueue[*PublishCtx](8)
	reader := q.Subscribe()
	pipeline := &countingPipeline{}
	sess := NewSubscriberSession(1, &SubscribeCtx{}, pipeline, reader, SessionConfig{})

	err := sess.Run(context.Background(), failingFrameWriter{}, "")
	if err == nil {
		t.Fatal("expected the hello write failure to propagate")
	}
	if pipeline.unsubscribes != 1 {
		t.Fatalf("expected exactly one unsubscribe even though hello failed, got %d", pipeline.unsubscribes)
	}
}

func TestSessionTimeoutEmitsRetryFrame(t *testing.T) {
	q := NewBroadcastQueue[*PublishCtx](8)
	reader := q.Subscribe()
	pipeline := &countingPipeline{}
	cfg := SessionConfig{Timeout: 20 * time.Millisecond, TimeoutRetry: 1500}
	sess := NewSubscriberSession(1, &SubscribeCtx{}, pipeline, reader, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w := &bufFrameWriter{}

	if err := sess.Run(ctx, w, ""); err != nil {
		t.Fatalf("expected graceful timeout close, got err: %v", err)
	}

	if !strings.Contains(w.String(), "retry: 1500\n\n") {
		t.Fatalf("expected retry frame, got %q", w.String())
	}
	if pipeline.unsubscribes != 1 {
		t.Fatalf("expected exactly one unsubscribe, got %d", pipeline.unsubscribes)
	}
}

func TestSessionMessageHookCanSkipDelivery(t *testing.T) {
	q := NewBroadcastQueue[*PublishCtx](8)
	reader := q.Subscribe()

	pipeline := &skippingPipeline{}
	sess := NewSubscriberSession(1, &SubscribeCtx{}, pipeline, reader, SessionConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	w := &bufFrameWriter{}
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx, w, "") }()

	time.Sleep(10 * time.Millisecond)
	q.Publish(&PublishCtx{Msg: Message{Data: "skip-me"}})
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	if strings.Contains(w.String(), "skip-me") {
		t.Fatalf("message hook returned ok=false, frame should not have been written: %q", w.String())
	}
}

type skippingPipeline struct {
	countingPipeline
}

func (p *skippingPipeline) Message(context.Context, *PublishCtx, *SubscribeCtx) (Message, bool) {
	return Message{}, false
}

// messageCallCounter records how many times Message is invoked, to prove
// P8: catch-up frames never go through it.
type messageCallCounter struct {
	countingPipeline
	mu    sync.Mutex
	calls int
}

func (p *messageCallCounter) Message(ctx context.Context, pub *PublishCtx, sub *SubscribeCtx) (Message, bool) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.countingPipeline.Message(ctx, pub, sub)
}

func TestSessionMessageHookNeverCalledForCatchup(t *testing.T) {
	q := NewBroadcastQueue[*PublishCtx](8)
	reader := q.Subscribe()

	pipeline := &messageCallCounter{}
	pipeline.catchupResult = []Message{{Id: "a", Data: "one"}, {Id: "b", Data: "two"}}

	sess := NewSubscriberSession(1, &SubscribeCtx{}, pipeline, reader, SessionConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	w := &bufFrameWriter{}
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx, w, "x") }()

	time.Sleep(10 * time.Millisecond)
	q.Publish(&PublishCtx{Msg: Message{Data: "live"}})
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	pipeline.mu.Lock()
	calls := pipeline.calls
	pipeline.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected Message to be called exactly once (for the live message only), got %d", calls)
	}
}
