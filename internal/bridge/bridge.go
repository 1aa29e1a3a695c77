// Package bridge implements the Telephony Manager and Call Bridge: it
// subscribes to every configured adapter as a telephony.EventSink, starts a
// voice pipeline per call, buffers audio that arrives before the pipeline is
// ready, and routes pipeline events back out through the originating
// adapter.
package bridge

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ringbridge/telephony/internal/pipeline"
	"github.com/ringbridge/telephony/internal/telephony"
	"github.com/ringbridge/telephony/pkg/codec"
	"github.com/ringbridge/telephony/pkg/types"
)

// pendingAudioLimit bounds the per-call queue of packets that arrive before
// the pipeline is ready. Excess packets are dropped silently (drop-tail),
// per spec.
const pendingAudioLimit = 100

// AgentResolver resolves the dialed number to a pipeline configuration.
// Agent-configuration storage and lookup are out of scope for this repo;
// callers supply whatever directory lookup they have (e.g. a static map, a
// config-driven default). A false return means no agent is configured for
// that number and the call should be ended.
type AgentResolver func(to string) (pipeline.Config, bool)

// Journal records call lifecycle events for durable history. Writes are
// fire-and-forget from the manager's perspective: a journal error is logged,
// never propagated to the call.
type Journal interface {
	CallStarted(rec telephony.CallRecord)
	CallEnded(callID string, reason telephony.EndReason)
	Transcript(callID string, entry types.TranscriptEntry)
}

// Manager is the Telephony Manager: it implements telephony.EventSink,
// fanning events from any number of registered adapters into per-call
// Bridge instances.
type Manager struct {
	factory  pipeline.Factory
	resolver AgentResolver
	journal  Journal
	adapters map[string]telephony.Adapter

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the Call Bridge: a per-call record holding the adapter
// reference, the pipeline handle (once ready), and the pending-audio buffer
// used before the pipeline is ready.
type session struct {
	mu sync.Mutex

	adapter    telephony.Adapter
	callID     string
	handle     pipeline.Handle
	pending    [][]byte
	pipelineUp bool
}

// NewManager constructs a Manager. factory starts a pipeline per call;
// resolver maps a dialed number to per-call pipeline config; journal may be
// nil (no-op) if no durable history is wanted.
func NewManager(factory pipeline.Factory, resolver AgentResolver, journal Journal) *Manager {
	return &Manager{
		factory:  factory,
		resolver: resolver,
		journal:  journal,
		adapters: make(map[string]telephony.Adapter),
		sessions: make(map[string]*session),
	}
}

// RegisterAdapter binds an adapter under its own Name() so the manager can
// route pipeline events (sendAudio, clearAudio, endCall) back to it.
func (m *Manager) RegisterAdapter(a telephony.Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.Name()] = a
}

var _ telephony.EventSink = (*Manager)(nil)

// OnCallStarted resolves agent config for the dialed number, starts the
// pipeline asynchronously, and records the session. Until the pipeline is
// ready, inbound audio accumulates in PendingAudio.
func (m *Manager) OnCallStarted(rec telephony.CallRecord) {
	adapter, ok := m.adapterFor(rec.Provider)
	if !ok {
		slog.Error("bridge: callStarted for unknown adapter", "provider", rec.Provider, "call_id", rec.CallID)
		return
	}

	cfg, ok := m.resolver(rec.To)
	if !ok {
		slog.Warn("bridge: no agent configured for number, ending call", "to", rec.To, "call_id", rec.CallID)
		_ = adapter.EndCall(context.Background(), rec.CallID)
		return
	}

	sess := &session{adapter: adapter, callID: rec.CallID}
	m.mu.Lock()
	m.sessions[rec.CallID] = sess
	m.mu.Unlock()

	if m.journal != nil {
		m.journal.CallStarted(rec)
	}

	go m.startPipeline(rec.CallID, cfg, sess)
}

func (m *Manager) adapterFor(provider string) (telephony.Adapter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.adapters[provider]
	return a, ok
}

func (m *Manager) sessionFor(callID string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// startPipeline constructs the pipeline handle off the event-delivery path.
// Failure policy: if construction fails, immediately end the call.
func (m *Manager) startPipeline(callID string, cfg pipeline.Config, sess *session) {
	hooks := pipeline.Hooks{
		OnTTSChunk: func(pcm []byte, sampleRate int) {
			sess.adapter.SendAudio(callID, pcm, sampleRate)
		},
		OnBargeIn: func() {
			sess.adapter.ClearAudio(callID)
		},
		OnHangupRequest: func() {
			if err := sess.adapter.EndCall(context.Background(), callID); err != nil {
				slog.Error("bridge: endCall on hangup request failed", "call_id", callID, "error", err)
			}
		},
	}
	if m.journal != nil {
		hooks.OnTranscript = func(entry types.TranscriptEntry) {
			m.journal.Transcript(callID, entry)
		}
	}

	handle, err := m.factory.Start(context.Background(), callID, cfg, hooks)
	if err != nil {
		slog.Error("bridge: pipeline construction failed, ending call", "call_id", callID, "error", err)
		if endErr := sess.adapter.EndCall(context.Background(), callID); endErr != nil {
			slog.Error("bridge: endCall after pipeline failure also failed, dropping session", "call_id", callID, "error", endErr)
			m.mu.Lock()
			delete(m.sessions, callID)
			m.mu.Unlock()
		}
		return
	}

	sess.mu.Lock()
	sess.handle = handle
	sess.pipelineUp = true
	drain := sess.pending
	sess.pending = nil
	sess.mu.Unlock()

	for _, pcm := range drain {
		if err := handle.SendAudio(pcm); err != nil {
			slog.Warn("bridge: drained packet rejected by pipeline", "call_id", callID, "error", err)
		}
	}
}

// OnAudioReceived transcodes to pipeline rate and forwards to the pipeline,
// or buffers in PendingAudio (drop-tail) if the pipeline isn't ready yet.
func (m *Manager) OnAudioReceived(pkt telephony.AudioPacket) {
	sess, ok := m.sessionFor(pkt.CallID)
	if !ok {
		return
	}

	pcm := codec.TelephonyToPipeline(pkt.Payload, pkt.Encoding, pkt.SampleRate)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.pipelineUp {
		if err := sess.handle.SendAudio(pcm); err != nil {
			slog.Warn("bridge: pipeline rejected audio", "call_id", pkt.CallID, "error", err)
		}
		return
	}

	if len(sess.pending) >= pendingAudioLimit {
		return
	}
	sess.pending = append(sess.pending, pcm)
}

// OnCallEnded stops the pipeline, purges the session, and journals the end
// reason.
func (m *Manager) OnCallEnded(callID string, reason telephony.EndReason) {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	if ok {
		delete(m.sessions, callID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	handle := sess.handle
	sess.handle = nil
	sess.pipelineUp = false
	sess.pending = nil
	sess.mu.Unlock()

	if handle != nil {
		if err := handle.Stop(); err != nil {
			slog.Error("bridge: pipeline stop failed", "call_id", callID, "error", err)
		}
	}

	if m.journal != nil {
		m.journal.CallEnded(callID, reason)
	}
}

// OnDTMF is informational only; nothing in scope consumes DTMF today.
func (m *Manager) OnDTMF(callID string, digit string) {
	slog.Debug("bridge: dtmf received", "call_id", callID, "digit", digit)
}

// OnError logs with callId; it never tears a call down — a socket-origin
// error triggers its own OnCallEnded separately.
func (m *Manager) OnError(callID string, err error) {
	slog.Error("bridge: adapter error", "call_id", callID, "error", err)
}

// Shutdown ends every active session concurrently, then returns once all
// have completed (or the context expires).
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	calls := make([]string, 0, len(m.sessions))
	adapters := make([]telephony.Adapter, 0, len(m.sessions))
	for callID, sess := range m.sessions {
		calls = append(calls, callID)
		adapters = append(adapters, sess.adapter)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i := range calls {
		callID, adapter := calls[i], adapters[i]
		g.Go(func() error {
			return adapter.EndCall(gctx, callID)
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("bridge: shutdown encountered errors ending calls", "error", err)
	}

	m.mu.Lock()
	for name, a := range m.adapters {
		slog.Info("bridge: shutting down adapter", "provider", name)
		a.Shutdown(ctx)
	}
	m.mu.Unlock()
}
