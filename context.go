package tinysse

import "net/http"

// ReqSnapshot is the frozen, immutable view of the originating HTTP request
// that PublishCtx and SubscribeCtx expose to scripts. Any script mutation of
// this sub-record is discarded before the owning context is used further.
type ReqSnapshot struct {
	Method     string
	Path       string
	Query      string
	Headers    map[string][]string
	ClientAddr string
}

// SnapshotRequest freezes the parts of r that hooks are allowed to observe.
func SnapshotRequest(r *http.Request) ReqSnapshot {
	headers := make(map[string][]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = append([]string(nil), v...)
	}
	return ReqSnapshot{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		Headers:    headers,
		ClientAddr: r.RemoteAddr,
	}
}

// PublishCtx is constructed once per publish request and threaded through
// the publish hook. Bag holds whatever extra script-visible fields the hook
// chooses to attach (e.g. pub.id); mutations to Req itself never survive
// past the hook call.
type PublishCtx struct {
	Req Snapshot
	Msg Message
	Bag map[string]Value
}

// Snapshot is an alias kept for readability at call sites; it is the same
// frozen shape used by both context types.
type Snapshot = ReqSnapshot

// SubscribeCtx is constructed once per new subscriber and held for the
// entire connection lifetime, passed by reference into every per-subscriber
// hook (message, catchup, unsubscribe, timeout).
type SubscribeCtx struct {
	Req Snapshot
	Bag map[string]Value
	ID  SubscriberID
}

// SubscriberID is opaque, process-unique, used in logs and script bookkeeping.
type SubscriberID uint64

func newBag() map[string]Value { return make(map[string]Value) }
