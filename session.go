package tinysse

import (
	"context"
	"errors"
	"io"
	"time"
)

// State names one step of a SubscriberSession's lifecycle:
// Opening -> Hello -> [Catchup] -> Live <-> Idle -> Closing -> Closed.
type State int

const (
	StateOpening State = iota
	StateHello
	StateCatchup
	StateLive
	StateIdle
	StateClosing
	StateClosed
)

// DefaultKeepAlive, DefaultKeepAliveText, DefaultTimeout and
// DefaultTimeoutRetry are the defaults used when a CLI flag is left unset.
const (
	DefaultKeepAlive     = 60 * time.Second
	DefaultKeepAliveText = "keep-alive"
	DefaultTimeout       = 5 * time.Minute
	DefaultTimeoutRetry  = 0
)

// ErrClientDisconnected is returned by SubscriberSession.Run when the
// client-side context was canceled (write failure or request context done).
var ErrClientDisconnected = errors.New("tinysse: client disconnected")

// SessionConfig carries the tunables a SubscriberSession needs beyond its
// hooks and reader, sourced from CLI flags/environment.
type SessionConfig struct {
	KeepAlive     time.Duration
	KeepAliveText string
	Timeout       time.Duration
	TimeoutRetry  int64
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.KeepAliveText == "" {
		c.KeepAliveText = DefaultKeepAliveText
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// FrameWriter is the minimal contract a SubscriberSession needs from its
// HTTP response: write bytes and flush them out immediately, since SSE
// requires each frame reach the client without buffering delay.
type FrameWriter interface {
	io.Writer
	Flush()
}

// SubscriberSession drives one outbound SSE stream for the lifetime of a
// connection. It owns the queue Reader created for it at subscribe time (so
// that messages published during catch-up are queued, not missed) and calls
// Unsubscribe exactly once no matter which path leads to teardown.
type SubscriberSession struct {
	ID      SubscriberID
	Sub     *SubscribeCtx
	Hooks   HookPipeline
	Reader  *Reader[*PublishCtx]
	Config  SessionConfig
	Created time.Time

	state    State
	msgsSent uint64
}

// NewSubscriberSession constructs a session for an already-accepted
// subscriber. reader must have been obtained from the queue before any
// catch-up hook runs, so nothing published during catch-up is missed.
func NewSubscriberSession(id SubscriberID, sub *SubscribeCtx, hooks HookPipeline, reader *Reader[*PublishCtx], cfg SessionConfig) *SubscriberSession {
	return &SubscriberSession{
		ID:      id,
		Sub:     sub,
		Hooks:   hooks,
		Reader:  reader,
		Config:  cfg.withDefaults(),
		Created: time.Now(),
		state:   StateOpening,
	}
}

// State returns the session's current lifecycle state.
func (s *SubscriberSession) State() State { return s.state }

// MsgsSent returns how many live frames (excluding hello/catch-up/keep-alive)
// this session has written, for status reporting.
func (s *SubscriberSession) MsgsSent() uint64 { return s.msgsSent }

// Run drives the full session lifecycle against w until the client
// disconnects, the session idles out, or ctx is canceled (server shutdown).
// It always calls Hooks.Unsubscribe exactly once before returning, unless
// the session never reached Hello (that responsibility belongs to the
// caller, which must not construct a session for a rejected subscribe).
func (s *SubscriberSession) Run(ctx context.Context, w FrameWriter, lastEventID string) error {
	defer func() {
		s.state = StateClosing
		s.Hooks.Unsubscribe(context.WithoutCancel(ctx), s.Sub)
		s.state = StateClosed
	}()

	s.state = StateHello
	if err := s.write(w, CommentFrame("ok")); err != nil {
		return err
	}

	s.state = StateCatchup
	for _, msg := range s.Hooks.Catchup(ctx, s.Sub, lastEventID) {
		if err := s.write(w, RenderFrame(msg)); err != nil {
			return err
		}
	}

	return s.live(ctx, w)
}

func (s *SubscriberSession) live(ctx context.Context, w FrameWriter) error {
	s.state = StateLive

	events := make(chan RecvEvent[*PublishCtx])
	recvErr := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			ev, err := s.Reader.Recv(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Kind == RecvClosed {
				return
			}
		}
	}()

	keepAlive := time.NewTimer(s.Config.KeepAlive)
	defer keepAlive.Stop()

	remaining := s.Config.Timeout - time.Since(s.Created)
	if remaining <= 0 {
		remaining = time.Nanosecond
	}
	deadline := time.NewTimer(remaining)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-recvErr:
					return err
				default:
					return ErrClientDisconnected
				}
			}
			if err := s.handleEvent(ctx, w, ev); err != nil {
				return err
			}
			resetTimer(keepAlive, s.Config.KeepAlive)

		case <-keepAlive.C:
			if err := s.write(w, CommentFrame(s.Config.KeepAliveText)); err != nil {
				return err
			}
			keepAlive.Reset(s.Config.KeepAlive)

		case <-deadline.C:
			return s.timeoutOut(ctx, w)

		case <-ctx.Done():
			return ErrClientDisconnected
		}
	}
}

func (s *SubscriberSession) handleEvent(ctx context.Context, w FrameWriter, ev RecvEvent[*PublishCtx]) error {
	switch ev.Kind {
	case RecvClosed:
		return ErrClientDisconnected
	case RecvLagged:
		// Not an error: the session simply resumes from wherever the
		// reader landed. Nothing to write.
		return nil
	case RecvMessage:
		out, ok := s.Hooks.Message(ctx, ev.Val, s.Sub)
		if !ok {
			return nil
		}
		if err := s.write(w, RenderFrame(out)); err != nil {
			return err
		}
		s.msgsSent++
		return nil
	default:
		return nil
	}
}

func (s *SubscriberSession) timeoutOut(ctx context.Context, w FrameWriter) error {
	s.state = StateIdle
	elapsedMs := time.Since(s.Created).Milliseconds()
	retryMs, has := s.Hooks.Timeout(ctx, s.Sub, elapsedMs)
	if !has {
		retryMs = s.Config.TimeoutRetry
	}
	_ = s.write(w, RetryFrame(retryMs))
	return nil
}

func (s *SubscriberSession) write(w FrameWriter, frame SseFrame) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
