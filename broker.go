package tinysse

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tinysse/tinysse/internal/bkerr"
)

// BrokerConfig carries the CLI-tunable knobs a Broker needs (everything
// except CORS/static/log-level, which are cmd/tinysse's job).
type BrokerConfig struct {
	PubPath       string
	SubPath       string
	QueueCapacity int
	MaxBodySize   int64
	Session       SessionConfig
}

func (c BrokerConfig) withDefaults() BrokerConfig {
	if c.PubPath == "" {
		c.PubPath = "/sse"
	}
	if c.SubPath == "" {
		c.SubPath = "/sse"
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 1 << 20 // 1MiB
	}
	c.Session = c.Session.withDefaults()
	return c
}

type sessionEntry struct {
	session *SubscriberSession
	cancel  context.CancelFunc
}

// Broker is the thin orchestrator gluing BroadcastQueue, SubscriberSession
// and HookPipeline together behind an HTTP interface.
type Broker struct {
	cfg    BrokerConfig
	hooks  HookPipeline
	queue  *BroadcastQueue[*PublishCtx]
	logger *slog.Logger

	startupTime time.Time
	nextID      atomic.Uint64

	mu       sync.Mutex
	sessions map[SubscriberID]sessionEntry

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewBroker constructs a Broker ready to be mounted via Router().
func NewBroker(hooks HookPipeline, cfg BrokerConfig, logger *slog.Logger) *Broker {
	if hooks == nil {
		hooks = DefaultPipeline{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	shutdownCtx, cancel := context.WithCancel(context.Background())
	return &Broker{
		cfg:            cfg,
		hooks:          hooks,
		queue:          NewBroadcastQueue[*PublishCtx](cfg.QueueCapacity),
		logger:         logger,
		startupTime:    time.Now(),
		sessions:       make(map[SubscriberID]sessionEntry),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: cancel,
	}
}

// Router builds the chi.Router that dispatches the publish and subscribe
// endpoints. When PubPath == SubPath, chi's per-method registration
// naturally discriminates by verb; any other method (including HEAD) falls
// through to chi's default 405 handler.
func (b *Broker) Router() chi.Router {
	r := chi.NewRouter()
	r.Get(b.cfg.SubPath, b.HandleSubscribe)
	r.Post(b.cfg.PubPath, b.HandlePublish)
	return r
}

// Shutdown cancels every live session's context, giving each a best-effort
// grace period to run its Unsubscribe hook before returning.
func (b *Broker) Shutdown(grace time.Duration) {
	b.shutdownCancel()
	b.queue.Close()

	deadline := time.After(grace)
	for {
		b.mu.Lock()
		n := len(b.sessions)
		b.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-deadline:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// HandlePublish implements the publish HTTP endpoint.
func (b *Broker) HandlePublish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, b.cfg.MaxBodySize)

	msg, err := DecodeMessage(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	if !msg.ValidateNonEmpty() {
		b.writeError(w, bkerr.New(bkerr.KindBadRequest, "message must set at least one of id, event, data, comment"))
		return
	}

	pub := &PublishCtx{
		Req: SnapshotRequest(r),
		Msg: msg,
		Bag: newBag(),
	}

	if err := b.hooks.Publish(r.Context(), pub); err != nil {
		b.logger.Debug("publish hook rejected", "error", err)
		b.writeError(w, bkerr.Wrap(bkerr.KindForbidden, err, "publish rejected"))
		return
	}

	b.queue.Publish(pub)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"queued":      b.queue.Backlog(),
		"subscribers": b.subscriberCount(),
	})
}

// HandleSubscribe implements the subscribe HTTP endpoint.
func (b *Broker) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := &SubscribeCtx{
		Req: SnapshotRequest(r),
		Bag: newBag(),
		ID:  SubscriberID(b.nextID.Add(1)),
	}

	if err := b.hooks.Subscribe(r.Context(), sub); err != nil {
		b.logger.Debug("subscribe hook rejected", "error", err)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	// The reader must be attached before catch-up runs, so that anything
	// published during catch-up lands in the live stream instead of being
	// missed.
	reader := b.queue.Subscribe()
	defer reader.Close()

	sessionCtx, cancel := mergeContext(r.Context(), b.shutdownCtx)
	defer cancel()

	session := NewSubscriberSession(sub.ID, sub, b.hooks, reader, b.cfg.Session)
	b.registerSession(sub.ID, session, cancel)
	defer b.unregisterSession(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("last_event_id")
	}

	fw := httpFrameWriter{w: w, f: flusher}
	if err := session.Run(sessionCtx, fw, lastEventID); err != nil {
		b.logger.Debug("session ended", "subscriber", sub.ID, "error", err)
	}
}

func (b *Broker) registerSession(id SubscriberID, s *SubscriberSession, cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[id] = sessionEntry{session: s, cancel: cancel}
}

func (b *Broker) unregisterSession(id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

func (b *Broker) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *Broker) writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), bkerr.StatusFor(err))
}

type httpFrameWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (h httpFrameWriter) Write(p []byte) (int, error) { return h.w.Write(p) }
func (h httpFrameWriter) Flush()                       { h.f.Flush() }

// mergeContext returns a context canceled as soon as either a or b is.
func mergeContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
