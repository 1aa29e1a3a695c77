package tata

import (
	"bytes"
	"testing"

	"github.com/ringbridge/telephony/internal/telephony"
)

type recordingSink struct {
	started []telephony.CallRecord
	ended   []string
	audio   []telephony.AudioPacket
	dtmf    []string
}

func (s *recordingSink) OnCallStarted(rec telephony.CallRecord) { s.started = append(s.started, rec) }
func (s *recordingSink) OnCallEnded(callID string, reason telephony.EndReason) {
	s.ended = append(s.ended, callID)
}
func (s *recordingSink) OnAudioReceived(pkt telephony.AudioPacket) { s.audio = append(s.audio, pkt) }
func (s *recordingSink) OnDTMF(callID string, digit string)       { s.dtmf = append(s.dtmf, digit) }
func (s *recordingSink) OnError(callID string, err error)         {}

func TestSplitFrames_ExactMultiple(t *testing.T) {
	buf := bytes.Repeat([]byte{0x01}, frameSize*3)
	frames, rest := splitFrames(buf, frameSize)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if len(rest) != 0 {
		t.Fatalf("expected no remainder, got %d bytes", len(rest))
	}
	for i, f := range frames {
		if len(f) != frameSize {
			t.Fatalf("frame %d: expected %d bytes, got %d", i, frameSize, len(f))
		}
	}
}

func TestSplitFrames_WithRemainder(t *testing.T) {
	buf := bytes.Repeat([]byte{0x02}, frameSize*2+37)
	frames, rest := splitFrames(buf, frameSize)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if len(rest) != 37 {
		t.Fatalf("expected 37-byte remainder, got %d", len(rest))
	}
}

func TestSplitFrames_BelowOneFrame(t *testing.T) {
	buf := bytes.Repeat([]byte{0x03}, frameSize-1)
	frames, rest := splitFrames(buf, frameSize)
	if len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
	if len(rest) != frameSize-1 {
		t.Fatalf("expected %d-byte remainder, got %d", frameSize-1, len(rest))
	}
}

func TestPadFrame_PadsWithSilence(t *testing.T) {
	residual := bytes.Repeat([]byte{0x10}, 50)
	frame := padFrame(residual, frameSize)
	if len(frame) != frameSize {
		t.Fatalf("expected %d-byte frame, got %d", frameSize, len(frame))
	}
	for i := 0; i < 50; i++ {
		if frame[i] != 0x10 {
			t.Fatalf("byte %d: expected original data 0x10, got %#x", i, frame[i])
		}
	}
	for i := 50; i < frameSize; i++ {
		if frame[i] != 0xFF {
			t.Fatalf("byte %d: expected silence 0xFF, got %#x", i, frame[i])
		}
	}
}

func TestPadFrame_EmptyResidualReturnsNil(t *testing.T) {
	if frame := padFrame(nil, frameSize); frame != nil {
		t.Fatalf("expected nil for empty residual, got %d bytes", len(frame))
	}
}

func TestHandleStart_EmitsCallStartedAndRegistersStream(t *testing.T) {
	sink := &recordingSink{}
	a := New(Config{WebhookBaseURL: "https://example.com"})
	a.sink = sink

	cs := &callState{machine: telephony.NewStreamMachine()}
	env := inboundEnvelope{
		Event: "start",
		Start: &startPayload{StreamSID: "stream-1", CallSID: "call-1", From: "+1", To: "+2", Direction: "inbound"},
	}

	streamSID := a.handleStart(env, cs)
	if streamSID != "stream-1" {
		t.Fatalf("streamSID: got %q", streamSID)
	}
	if len(sink.started) != 1 || sink.started[0].CallID != "tata_call-1" {
		t.Fatalf("unexpected started events: %+v", sink.started)
	}
	if cs.machine.State() != telephony.Active {
		t.Fatalf("expected Active, got %s", cs.machine.State())
	}
}

func TestHandleMedia_DecodesMulawToLinear16(t *testing.T) {
	sink := &recordingSink{}
	a := New(Config{WebhookBaseURL: "https://example.com"})
	a.sink = sink

	cs := &callState{machine: telephony.NewStreamMachine(), callID: "tata_call-1"}
	cs.machine.Start()
	a.mu.Lock()
	a.streams["stream-1"] = cs
	a.mu.Unlock()

	a.handleMedia(inboundEnvelope{
		StreamSID: "stream-1",
		Media:     &mediaPayload{Payload: "AAAA"},
	})
	if len(sink.audio) != 1 {
		t.Fatalf("expected 1 audio packet, got %d", len(sink.audio))
	}
	if sink.audio[0].SampleRate != 8000 {
		t.Fatalf("expected 8000Hz, got %d", sink.audio[0].SampleRate)
	}
}

func TestHandleDTMF_Delivered(t *testing.T) {
	sink := &recordingSink{}
	a := New(Config{WebhookBaseURL: "https://example.com"})
	a.sink = sink

	cs := &callState{machine: telephony.NewStreamMachine(), callID: "tata_call-1"}
	a.mu.Lock()
	a.streams["stream-1"] = cs
	a.mu.Unlock()

	a.handleDTMF(inboundEnvelope{StreamSID: "stream-1", DTMF: &dtmfPayload{Digit: "9"}})
	if len(sink.dtmf) != 1 || sink.dtmf[0] != "9" {
		t.Fatalf("expected digit 9, got %v", sink.dtmf)
	}
}

func TestHandleClose_PurgesAndEmitsOnce(t *testing.T) {
	sink := &recordingSink{}
	a := New(Config{WebhookBaseURL: "https://example.com"})
	a.sink = sink

	cs := &callState{machine: telephony.NewStreamMachine(), callID: "tata_call-1"}
	cs.machine.Start()
	a.mu.Lock()
	a.streams["stream-1"] = cs
	a.mu.Unlock()

	a.handleClose("stream-1", telephony.ReasonStreamStopped)
	if len(sink.ended) != 1 {
		t.Fatalf("expected 1 ended event, got %d", len(sink.ended))
	}

	a.handleClose("stream-1", telephony.ReasonWebsocketClosed)
	if len(sink.ended) != 1 {
		t.Fatalf("expected no additional ended events after purge, got %d", len(sink.ended))
	}
}

func TestStreamIDForLocked(t *testing.T) {
	a := New(Config{WebhookBaseURL: "https://example.com"})
	cs := &callState{machine: telephony.NewStreamMachine(), callID: "tata_call-1"}
	a.mu.Lock()
	a.streams["stream-42"] = cs
	a.mu.Unlock()

	if got := a.streamIDForLocked(cs); got != "stream-42" {
		t.Fatalf("expected stream-42, got %q", got)
	}

	other := &callState{machine: telephony.NewStreamMachine()}
	if got := a.streamIDForLocked(other); got != "" {
		t.Fatalf("expected empty string for unregistered callState, got %q", got)
	}
}

func TestFindByCallID(t *testing.T) {
	a := New(Config{WebhookBaseURL: "https://example.com"})
	cs := &callState{machine: telephony.NewStreamMachine(), callID: "tata_call-1"}
	a.mu.Lock()
	a.streams["stream-1"] = cs
	a.mu.Unlock()

	if got := a.findByCallID("tata_call-1"); got != cs {
		t.Fatal("expected to find registered call")
	}
	if got := a.findByCallID("nonexistent"); got != nil {
		t.Fatal("expected nil for unknown call")
	}
}

func TestClearAudio_DropsResidualOnly(t *testing.T) {
	a := New(Config{WebhookBaseURL: "https://example.com"})
	cs := &callState{machine: telephony.NewStreamMachine(), callID: "tata_call-1", residual: []byte{1, 2, 3}}
	a.mu.Lock()
	a.streams["stream-1"] = cs
	a.mu.Unlock()

	a.ClearAudio("tata_call-1")
	if cs.residual != nil {
		t.Fatalf("expected residual cleared, got %d bytes", len(cs.residual))
	}
}
