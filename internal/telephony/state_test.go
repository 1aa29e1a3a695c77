package telephony_test

import (
	"testing"

	"github.com/ringbridge/telephony/internal/telephony"
)

func TestStreamMachine_StartTransitionsOnce(t *testing.T) {
	m := telephony.NewStreamMachine()
	if m.State() != telephony.AwaitingStart {
		t.Fatalf("expected AwaitingStart, got %s", m.State())
	}
	if m.AcceptsMedia() {
		t.Fatal("AwaitingStart should not accept media")
	}

	m.Start()
	if m.State() != telephony.Active {
		t.Fatalf("expected Active, got %s", m.State())
	}
	if !m.AcceptsMedia() || !m.AcceptsOutbound() {
		t.Fatal("Active should accept media and outbound")
	}

	m.Start() // no-op past AwaitingStart
	if m.State() != telephony.Active {
		t.Fatalf("second Start should be a no-op, got %s", m.State())
	}
}

func TestStreamMachine_DrainFromActiveOrAwaitingStart(t *testing.T) {
	m := telephony.NewStreamMachine()
	m.Drain()
	if m.State() != telephony.Draining {
		t.Fatalf("expected Draining from AwaitingStart, got %s", m.State())
	}
	if m.AcceptsMedia() || m.AcceptsOutbound() {
		t.Fatal("Draining should not accept media or outbound")
	}
}

func TestStreamMachine_CloseEmitsEndedExactlyOnce(t *testing.T) {
	m := telephony.NewStreamMachine()
	m.Start()

	if !m.Close() {
		t.Fatal("first Close should report shouldEmitEnded=true")
	}
	if m.State() != telephony.Closed {
		t.Fatalf("expected Closed, got %s", m.State())
	}
	if m.Close() {
		t.Fatal("second Close should report shouldEmitEnded=false")
	}
	if m.Close() {
		t.Fatal("third Close should still report shouldEmitEnded=false")
	}
}

func TestStreamMachine_DuplicateStopAndSocketCloseBothSettle(t *testing.T) {
	// Simulates a remote "stop" immediately followed by the socket closing.
	m := telephony.NewStreamMachine()
	m.Start()
	m.Drain()

	first := m.Close()  // stop envelope
	second := m.Close() // socket read error

	if !first || second {
		t.Fatalf("expected exactly one emit, got first=%v second=%v", first, second)
	}
}
