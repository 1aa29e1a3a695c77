package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/ringbridge/telephony/internal/pipeline"
	pipelinemock "github.com/ringbridge/telephony/internal/pipeline/mock"
	"github.com/ringbridge/telephony/internal/telephony"
	telephonymock "github.com/ringbridge/telephony/internal/telephony/mock"
)

func alwaysResolve(cfg pipeline.Config) AgentResolver {
	return func(to string) (pipeline.Config, bool) { return cfg, true }
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestOnCallStarted_StartsPipelineAndMarksUp(t *testing.T) {
	factory := &pipelinemock.Factory{}
	adapter := &telephonymock.Adapter{NameValue: "plivo"}
	m := NewManager(factory, alwaysResolve(pipeline.Config{SystemPrompt: "hi"}), nil)
	m.RegisterAdapter(adapter)
	adapter.Sink = m

	rec := telephony.CallRecord{CallID: "call1", Provider: "plivo", To: "+1000"}
	adapter.EmitCallStarted(rec)

	// Audio arriving before the pipeline goroutine runs should buffer.
	adapter.EmitAudioReceived(telephony.AudioPacket{
		CallID:     "call1",
		Payload:    make([]byte, 160),
		Encoding:   "mulaw",
		SampleRate: 8000,
	})

	waitFor(t, func() bool { return len(factory.StartCalls()) == 1 })

	m.mu.Lock()
	sess := m.sessions["call1"]
	m.mu.Unlock()
	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.pipelineUp
	})

	calls := factory.StartCalls()
	if calls[0].CallID != "call1" {
		t.Fatalf("expected call1, got %s", calls[0].CallID)
	}
}

func TestOnCallStarted_NoAgentEndsCall(t *testing.T) {
	factory := &pipelinemock.Factory{}
	adapter := &telephonymock.Adapter{NameValue: "plivo"}
	m := NewManager(factory, func(string) (pipeline.Config, bool) { return pipeline.Config{}, false }, nil)
	m.RegisterAdapter(adapter)
	adapter.Sink = m

	adapter.EmitCallStarted(telephony.CallRecord{CallID: "call1", Provider: "plivo", To: "+1000"})

	waitFor(t, func() bool { return len(adapter.CallsEnded()) == 1 })
}

func TestOnCallStarted_PipelineConstructionFailureEndsCall(t *testing.T) {
	factory := &pipelinemock.Factory{StartErr: errors.New("boom")}
	adapter := &telephonymock.Adapter{NameValue: "plivo"}
	m := NewManager(factory, alwaysResolve(pipeline.Config{}), nil)
	m.RegisterAdapter(adapter)
	adapter.Sink = m

	adapter.EmitCallStarted(telephony.CallRecord{CallID: "call1", Provider: "plivo", To: "+1000"})

	waitFor(t, func() bool { return len(adapter.CallsEnded()) == 1 })
}

func TestOnCallEnded_StopsPipelineAndPurgesSession(t *testing.T) {
	factory := &pipelinemock.Factory{}
	adapter := &telephonymock.Adapter{NameValue: "plivo"}
	m := NewManager(factory, alwaysResolve(pipeline.Config{}), nil)
	m.RegisterAdapter(adapter)
	adapter.Sink = m

	adapter.EmitCallStarted(telephony.CallRecord{CallID: "call1", Provider: "plivo", To: "+1000"})
	waitFor(t, func() bool { return len(factory.StartCalls()) == 1 })

	adapter.EmitCallEnded("call1", telephony.ReasonStreamStopped)

	if _, ok := m.sessionFor("call1"); ok {
		t.Fatal("expected session purged after callEnded")
	}
}

func TestOnAudioReceived_DropsTailWhenPendingFull(t *testing.T) {
	factory := &pipelinemock.Factory{}
	adapter := &telephonymock.Adapter{NameValue: "plivo"}
	m := NewManager(factory, alwaysResolve(pipeline.Config{}), nil)
	m.RegisterAdapter(adapter)
	adapter.Sink = m

	sess := &session{adapter: adapter, callID: "call1"}
	m.mu.Lock()
	m.sessions["call1"] = sess
	m.mu.Unlock()

	for i := 0; i < pendingAudioLimit+10; i++ {
		m.OnAudioReceived(telephony.AudioPacket{
			CallID:     "call1",
			Payload:    make([]byte, 160),
			Encoding:   "mulaw",
			SampleRate: 8000,
		})
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.pending) != pendingAudioLimit {
		t.Fatalf("expected pending capped at %d, got %d", pendingAudioLimit, len(sess.pending))
	}
}

func TestPipelineHooks_RouteThroughAdapter(t *testing.T) {
	factory := &pipelinemock.Factory{}
	adapter := &telephonymock.Adapter{NameValue: "plivo"}
	m := NewManager(factory, alwaysResolve(pipeline.Config{}), nil)
	m.RegisterAdapter(adapter)
	adapter.Sink = m

	adapter.EmitCallStarted(telephony.CallRecord{CallID: "call1", Provider: "plivo", To: "+1000"})
	waitFor(t, func() bool { return len(factory.StartCalls()) == 1 })

	hooks := factory.StartCalls()[0].Hooks
	hooks.OnTTSChunk([]byte{1, 2, 3}, 8000)
	hooks.OnBargeIn()
	hooks.OnHangupRequest()

	waitFor(t, func() bool { return len(adapter.CallsEnded()) == 1 })

	if got := adapter.AudioSent(); len(got) != 1 {
		t.Fatalf("expected 1 sent audio chunk, got %d", len(got))
	}
	if got := adapter.ClearedCalls(); len(got) != 1 {
		t.Fatalf("expected 1 clear, got %d", len(got))
	}
}
