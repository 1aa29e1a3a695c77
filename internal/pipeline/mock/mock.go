// Package mock provides a hand-rolled pipeline.Factory and pipeline.Handle
// for use in tests, mirroring the fakes the provider packages register under
// their own mock subpackages.
package mock

import (
	"context"
	"sync"

	"github.com/ringbridge/telephony/internal/pipeline"
)

// Factory is a test double that records every Start call and hands back a
// pre-configured or freshly constructed Handle.
type Factory struct {
	mu      sync.Mutex
	Calls   []StartCall
	NewStop error // error returned from every Handle.Stop, if set

	// StartErr, if set, is returned by Start instead of constructing a Handle.
	StartErr error
}

// StartCall records one invocation of Factory.Start.
type StartCall struct {
	CallID string
	Config pipeline.Config
	Hooks  pipeline.Hooks
}

var _ pipeline.Factory = (*Factory)(nil)

// Start records the call and returns a new Handle wired to hooks.
func (f *Factory) Start(_ context.Context, callID string, cfg pipeline.Config, hooks pipeline.Hooks) (pipeline.Handle, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, StartCall{CallID: callID, Config: cfg, Hooks: hooks})
	f.mu.Unlock()

	if f.StartErr != nil {
		return nil, f.StartErr
	}
	return &Handle{hooks: hooks, stopErr: f.NewStop}, nil
}

// StartCalls returns a snapshot of every Start invocation recorded so far.
func (f *Factory) StartCalls() []StartCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StartCall, len(f.Calls))
	copy(out, f.Calls)
	return out
}

// Handle is a test double implementing pipeline.Handle. Every chunk passed
// to SendAudio is appended to Received for assertions.
type Handle struct {
	mu       sync.Mutex
	hooks    pipeline.Hooks
	Received [][]byte
	Stopped  bool
	stopErr  error
}

var _ pipeline.Handle = (*Handle)(nil)

// SendAudio appends pcm to Received.
func (h *Handle) SendAudio(pcm []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	h.Received = append(h.Received, cp)
	return nil
}

// Stop marks the handle stopped and returns the configured error, if any.
func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Stopped = true
	return h.stopErr
}

// EmitTTSChunk invokes the OnTTSChunk hook directly, for tests driving the
// bridge's handling of outbound audio without a real pipeline.
func (h *Handle) EmitTTSChunk(pcm []byte, sampleRate int) {
	if h.hooks.OnTTSChunk != nil {
		h.hooks.OnTTSChunk(pcm, sampleRate)
	}
}

// EmitBargeIn invokes the OnBargeIn hook directly.
func (h *Handle) EmitBargeIn() {
	if h.hooks.OnBargeIn != nil {
		h.hooks.OnBargeIn()
	}
}

// EmitHangupRequest invokes the OnHangupRequest hook directly.
func (h *Handle) EmitHangupRequest() {
	if h.hooks.OnHangupRequest != nil {
		h.hooks.OnHangupRequest()
	}
}
