package tinysse

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestBroker(hooks HookPipeline) *Broker {
	if hooks == nil {
		hooks = DefaultPipeline{}
	}
	return NewBroker(hooks, BrokerConfig{QueueCapacity: 4}, nil)
}

// subscribeAndRead starts a subscribe request against the broker's handler
// and returns the recorder once the hello frame has been written.
func subscribeAndRead(t *testing.T, b *Broker, target string) (*httptest.ResponseRecorder, context.CancelFunc, chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.HandleSubscribe(rr, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(rr.Body.String(), ": ok\n\n") {
			break
		}
		time.Sleep(time.Millisecond)
	}
	return rr, cancel, done
}

// TestBasicFanOut is scenario 1: two subscribers both receive a published
// message, and the publish response reports queued/subscribers counts.
func TestBasicFanOut(t *testing.T) {
	b := newTestBroker(nil)

	rr1, cancel1, done1 := subscribeAndRead(t, b, "/sse")
	defer func() { cancel1(); <-done1 }()
	rr2, cancel2, done2 := subscribeAndRead(t, b, "/sse")
	defer func() { cancel2(); <-done2 }()

	pubReq := httptest.NewRequest(http.MethodPost, "/sse", strings.NewReader("data=Hello"))
	pubReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	pubRR := httptest.NewRecorder()
	b.HandlePublish(pubRR, pubReq)

	if pubRR.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", pubRR.Code, pubRR.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(pubRR.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["subscribers"].(float64) != 2 {
		t.Fatalf("expected subscribers=2, got %v", body["subscribers"])
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(rr1.Body.String(), "data: Hello\n\n") && strings.Contains(rr2.Body.String(), "data: Hello\n\n") {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("both subscribers should have received the message: r1=%q r2=%q", rr1.Body.String(), rr2.Body.String())
}

// TestMultilineData is scenario 2.
func TestMultilineData(t *testing.T) {
	b := newTestBroker(nil)
	rr, cancel, done := subscribeAndRead(t, b, "/sse")
	defer func() { cancel(); <-done }()

	form := url.Values{"data": {"a\nb"}}
	pubReq := httptest.NewRequest(http.MethodPost, "/sse", strings.NewReader(form.Encode()))
	pubReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	pubRR := httptest.NewRecorder()
	b.HandlePublish(pubRR, pubReq)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(rr.Body.String(), "data: a\ndata: b\n\n") {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected multiline data frame, got %q", rr.Body.String())
}

// TestPublishValidation is P4: an empty publish body is rejected with 400
// and never reaches the queue.
func TestPublishValidation(t *testing.T) {
	b := newTestBroker(nil)
	req := httptest.NewRequest(http.MethodPost, "/sse", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	b.HandlePublish(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if b.queue.SentMsgs() != 0 {
		t.Fatalf("expected no enqueue, got sentMsgs=%d", b.queue.SentMsgs())
	}
}

// TestPublishUnsupportedMediaType covers the 415 path.
func TestPublishUnsupportedMediaType(t *testing.T) {
	b := newTestBroker(nil)
	req := httptest.NewRequest(http.MethodPost, "/sse", bytes.NewReader([]byte("<x/>")))
	req.Header.Set("Content-Type", "application/xml")
	rr := httptest.NewRecorder()
	b.HandlePublish(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rr.Code)
	}
}

// rejectPublish rejects every publish, for P5/scenario 4.
type rejectPublishPipeline struct{ DefaultPipeline }

func (rejectPublishPipeline) Publish(context.Context, *PublishCtx) error {
	return errRejected
}

var errRejected = &rejectError{}

type rejectError struct{}

func (*rejectError) Error() string { return "rejected by script" }

// TestPublishHookRejection is P5 / scenario 4: a rejecting publish hook
// yields 403 and the message is never enqueued.
func TestPublishHookRejection(t *testing.T) {
	b := newTestBroker(rejectPublishPipeline{})
	req := httptest.NewRequest(http.MethodPost, "/sse", strings.NewReader("data=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	b.HandlePublish(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if b.queue.SentMsgs() != 0 {
		t.Fatalf("expected no enqueue on rejection, got sentMsgs=%d", b.queue.SentMsgs())
	}
}

// rejectSubscribePipeline rejects every subscribe, for P6.
type rejectSubscribePipeline struct {
	DefaultPipeline
	unsubscribed bool
}

func (p *rejectSubscribePipeline) Subscribe(context.Context, *SubscribeCtx) error {
	return errRejected
}

func (p *rejectSubscribePipeline) Unsubscribe(context.Context, *SubscribeCtx) {
	p.unsubscribed = true
}

// TestSubscribeHookRejection is P6: subscribe raising means unsubscribe is
// never called, and the client gets 403 with no SSE bytes.
func TestSubscribeHookRejection(t *testing.T) {
	pipeline := &rejectSubscribePipeline{}
	b := newTestBroker(pipeline)

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	rr := httptest.NewRecorder()
	b.HandleSubscribe(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected no SSE bytes written, got %q", rr.Body.String())
	}
	if pipeline.unsubscribed {
		t.Fatal("unsubscribe must not be called for a rejected subscribe")
	}
}

// TestPathCollisionMethodDiscrimination exercises pub_path == sub_path
// dispatch: GET subscribes, POST publishes, everything else is 405.
func TestPathCollisionMethodDiscrimination(t *testing.T) {
	b := newTestBroker(nil)
	router := b.Router()

	req := httptest.NewRequest(http.MethodHead, "/sse", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for HEAD on collided path, got %d", rr.Code)
	}
}
