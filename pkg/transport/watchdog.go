package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

type firstByteKey struct{}

// withFirstByteHook attaches a callback fired on the first response body byte.
func withFirstByteHook(ctx context.Context, hook func()) context.Context {
	return context.WithValue(ctx, firstByteKey{}, hook)
}

func firstByteHook(ctx context.Context) func() {
	if hook, ok := ctx.Value(firstByteKey{}).(func()); ok {
		return hook
	}
	return nil
}

// firstByteRoundTripper reports the first body byte of every response back to
// the hook stored in the request context. The SDK clients and the raw HTTP
// transport all share it.
type firstByteRoundTripper struct {
	base http.RoundTripper
}

// NewHTTPClient returns the client used by all transports. It has no overall
// timeout: long streams are only bounded by the start-up watchdog.
func NewHTTPClient(base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{Transport: &firstByteRoundTripper{base: base}}
}

func (rt *firstByteRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if hook := firstByteHook(req.Context()); hook != nil && resp.Body != nil {
		resp.Body = &firstByteBody{ReadCloser: resp.Body, hook: hook}
	}
	return resp, nil
}

type firstByteBody struct {
	io.ReadCloser
	hook func()
	once sync.Once
}

func (b *firstByteBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.once.Do(b.hook)
	}
	return n, err
}

// attempt scopes one provider round: it derives a cancellable context and arms
// the start-up watchdog.
type attempt struct {
	parent context.Context
	ctx    context.Context
	cancel context.CancelCauseFunc
	timer  *time.Timer
}

func startAttempt(parent context.Context, budget time.Duration) *attempt {
	ctx, cancel := context.WithCancelCause(parent)
	a := &attempt{parent: parent, cancel: cancel}
	if budget > 0 {
		a.timer = time.AfterFunc(budget, func() { cancel(ErrStartupTimeout) })
	}
	a.ctx = withFirstByteHook(ctx, a.firstByte)
	return a
}

func (a *attempt) firstByte() {
	if a.timer != nil {
		a.timer.Stop()
	}
}

func (a *attempt) stop() {
	a.firstByte()
	a.cancel(nil)
}

// classify maps a raw failure onto the transport error taxonomy.
func (a *attempt) classify(err error) error {
	if err == nil {
		return nil
	}
	if a.parent.Err() != nil {
		return ErrCancelled
	}
	if errors.Is(context.Cause(a.ctx), ErrStartupTimeout) {
		return ErrStartupTimeout
	}
	return err
}

func (a *attempt) send(out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-a.ctx.Done():
		return false
	}
}

// fail delivers the final error event. Delivery is attempted even when the
// attempt context already ended so the consumer can tell a timeout apart.
func (a *attempt) fail(out chan<- Event, err error) {
	select {
	case out <- Event{Err: a.classify(err)}:
	case <-a.parent.Done():
	}
}
