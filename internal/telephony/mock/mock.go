// Package mock provides a hand-rolled telephony.Adapter test double,
// mirroring the fakes the provider and pipeline packages register under
// their own mock subpackages.
package mock

import (
	"context"
	"sync"

	"github.com/ringbridge/telephony/internal/telephony"
)

// Adapter is a test double recording every call made to it. Tests drive
// events into the sink directly via the embedded Sink field rather than
// through a real socket.
type Adapter struct {
	NameValue string
	Sink      telephony.EventSink

	mu          sync.Mutex
	SentAudio   []SendAudioCall
	Cleared     []string
	Ended       []string
	EndCallErr  error
	MakeCallErr error
	MakeCallRes telephony.MakeCallResult
}

// SendAudioCall records one SendAudio invocation.
type SendAudioCall struct {
	CallID     string
	PCM        []byte
	SampleRate int
}

var _ telephony.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return a.NameValue }

func (a *Adapter) Init(_ context.Context, sink telephony.EventSink) error {
	a.Sink = sink
	return nil
}

func (a *Adapter) MakeCall(_ context.Context, to, from string) (telephony.MakeCallResult, error) {
	return a.MakeCallRes, a.MakeCallErr
}

func (a *Adapter) EndCall(_ context.Context, callID string) error {
	a.mu.Lock()
	a.Ended = append(a.Ended, callID)
	a.mu.Unlock()
	return a.EndCallErr
}

func (a *Adapter) SendAudio(callID string, pcmBytes []byte, sampleRate int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(pcmBytes))
	copy(cp, pcmBytes)
	a.SentAudio = append(a.SentAudio, SendAudioCall{CallID: callID, PCM: cp, SampleRate: sampleRate})
}

func (a *Adapter) ClearAudio(callID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Cleared = append(a.Cleared, callID)
}

func (a *Adapter) GetAnswerXML(callID string, streamURL string) ([]byte, error) {
	return []byte("<Response/>"), nil
}

func (a *Adapter) HandleWebhook(req telephony.WebhookRequest) (telephony.WebhookResponse, error) {
	return telephony.WebhookResponse{ContentType: "application/json", Body: []byte(`{"success":true}`)}, nil
}

func (a *Adapter) GetSession(callID string) (telephony.SessionSnapshot, bool) {
	return telephony.SessionSnapshot{}, false
}

func (a *Adapter) GetAllSessions() []telephony.SessionSnapshot { return nil }

func (a *Adapter) Shutdown(_ context.Context) {}

// EmitCallStarted is a test helper that forwards to Sink.
func (a *Adapter) EmitCallStarted(rec telephony.CallRecord) {
	a.Sink.OnCallStarted(rec)
}

// EmitAudioReceived is a test helper that forwards to Sink.
func (a *Adapter) EmitAudioReceived(pkt telephony.AudioPacket) {
	a.Sink.OnAudioReceived(pkt)
}

// EmitCallEnded is a test helper that forwards to Sink.
func (a *Adapter) EmitCallEnded(callID string, reason telephony.EndReason) {
	a.Sink.OnCallEnded(callID, reason)
}

// CallsEnded returns a snapshot of every callID passed to EndCall.
func (a *Adapter) CallsEnded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.Ended))
	copy(out, a.Ended)
	return out
}

// AudioSent returns a snapshot of every SendAudio invocation.
func (a *Adapter) AudioSent() []SendAudioCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SendAudioCall, len(a.SentAudio))
	copy(out, a.SentAudio)
	return out
}

// ClearedCalls returns a snapshot of every callID passed to ClearAudio.
func (a *Adapter) ClearedCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.Cleared))
	copy(out, a.Cleared)
	return out
}
