package mock

import (
	"context"
	"sync"

	"github.com/voxa-ai/voxa/pkg/frames"
	"github.com/voxa-ai/voxa/pkg/transports"
)

// Transport is an in-memory transport for tests. Inbound frames are injected
// with PushFrame; outbound frames are recorded and inspectable.
type Transport struct {
	in chan frames.AudioFrame

	mu        sync.Mutex
	published []frames.AudioFrame
	pubErr    error
	startErr  error
	started   bool
	stopped   bool
}

func NewTransport() *Transport {
	return &Transport{in: make(chan frames.AudioFrame, 256)}
}

func (t *Transport) Name() string { return "mock_transport" }

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	t.started = true
	return nil
}

// Started reports whether Start has been called successfully.
func (t *Transport) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// SetStartErr makes subsequent Start calls fail.
func (t *Transport) SetStartErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startErr = err
}

func (t *Transport) Recv() <-chan frames.AudioFrame { return t.in }

func (t *Transport) Publish(frame frames.AudioFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubErr != nil {
		return t.pubErr
	}
	t.published = append(t.published, frame)
	return nil
}

// Stop closes the inbound channel. Idempotent.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.in)
	}
	return nil
}

// PushFrame injects one inbound frame. It must not be called after Stop.
func (t *Transport) PushFrame(frame frames.AudioFrame) {
	t.in <- frame
}

// Published returns a copy of all frames published so far.
func (t *Transport) Published() []frames.AudioFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]frames.AudioFrame, len(t.published))
	copy(out, t.published)
	return out
}

// SetPublishErr makes subsequent Publish calls fail.
func (t *Transport) SetPublishErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pubErr = err
}

var _ transports.Transport = (*Transport)(nil)
