package tinysse

import "context"

// HookPipeline is the set of named lifecycle hooks a script may implement.
// When no script is configured, DefaultPipeline supplies default-accept
// behavior for all of them.
//
// Every method call here is expected to be routed through a single
// scripting lane by the concrete implementation (see the script package);
// HookPipeline itself makes no concurrency promises beyond "safe to call
// concurrently from many subscriber goroutines".
type HookPipeline interface {
	// Startup runs once at process start. Its failure aborts the process.
	Startup(ctx context.Context, cli Value) error

	// Tick fires on the Ticker's schedule with a strictly increasing,
	// 1-based counter. Errors are logged and do not stop the ticker.
	Tick(ctx context.Context, count uint64)

	// Publish is called with a freshly decoded publish request. Returning
	// an error rejects the publish with 403 and prevents enqueue.
	Publish(ctx context.Context, pub *PublishCtx) error

	// Subscribe is called once per new connection. Returning an error
	// rejects the subscribe with 403 before any SSE bytes are written.
	Subscribe(ctx context.Context, sub *SubscribeCtx) error

	// Catchup is called on every subscribe, whether or not lastEventID is
	// present. Its returned messages are written directly to the stream
	// without going through Message. An error yields zero catch-up frames.
	Catchup(ctx context.Context, sub *SubscribeCtx, lastEventID string) []Message

	// Message is called once per (published message, live subscriber) pair.
	// ok=false means skip delivery to this subscriber for this message.
	Message(ctx context.Context, pub *PublishCtx, sub *SubscribeCtx) (out Message, ok bool)

	// Unsubscribe is called exactly once per accepted subscribe, on every
	// teardown path (disconnect, timeout, shutdown).
	Unsubscribe(ctx context.Context, sub *SubscribeCtx)

	// Timeout is called when a session's idle timer fires, before
	// Unsubscribe. hasRetry indicates the hook supplied an explicit retry
	// value in milliseconds; otherwise the configured --timeout-retry is used.
	Timeout(ctx context.Context, sub *SubscribeCtx, elapsedMs int64) (retryMs int64, hasRetry bool)
}

// DefaultPipeline implements the pipeline's default-accept behavior for a
// broker with no script configured: publish and subscribe pass their
// context through unchanged, message delivers the publish unchanged to
// every subscriber, and the remaining hooks are no-ops.
type DefaultPipeline struct{}

var _ HookPipeline = DefaultPipeline{}

func (DefaultPipeline) Startup(context.Context, Value) error { return nil }

func (DefaultPipeline) Tick(context.Context, uint64) {}

func (DefaultPipeline) Publish(context.Context, *PublishCtx) error { return nil }

func (DefaultPipeline) Subscribe(context.Context, *SubscribeCtx) error { return nil }

func (DefaultPipeline) Catchup(context.Context, *SubscribeCtx, string) []Message { return nil }

func (DefaultPipeline) Message(_ context.Context, pub *PublishCtx, _ *SubscribeCtx) (Message, bool) {
	return pub.Msg, true
}

func (DefaultPipeline) Unsubscribe(context.Context, *SubscribeCtx) {}

func (DefaultPipeline) Timeout(context.Context, *SubscribeCtx, int64) (int64, bool) {
	return 0, false
}
