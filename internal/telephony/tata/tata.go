// Package tata implements the TataLike [telephony.Adapter]: JSON media
// envelopes over one WebSocket per call, with strict 160-byte (20ms @ 8kHz)
// μ-law outbound frame alignment and no outbound origination support.
package tata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/ringbridge/telephony/internal/telephony"
	"github.com/ringbridge/telephony/pkg/codec"
)

const providerName = "tata"

// frameSize is the mandatory outbound μ-law frame length: 20ms @ 8kHz, 1
// byte/sample.
const frameSize = 160

// Config holds TataLike adapter settings. Tata offers no outbound
// origination or answer document, so there are no REST credentials here.
type Config struct {
	WebhookBaseURL string
}

var _ telephony.Adapter = (*Adapter)(nil)
var _ telephony.MediaServer = (*Adapter)(nil)

// Adapter implements the TataLike provider.
type Adapter struct {
	cfg  Config
	sink telephony.EventSink

	mu      sync.Mutex
	streams map[string]*callState
}

type callState struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	callID   string
	machine  *telephony.StreamMachine
	residual []byte
	chunk    int64
	seq      int64
	marks    []string
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, streams: make(map[string]*callState)}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) Init(ctx context.Context, sink telephony.EventSink) error {
	a.sink = sink
	return nil
}

// --- wire envelopes ---

type inboundEnvelope struct {
	Event          string        `json:"event"`
	SequenceNumber int64         `json:"sequenceNumber"`
	StreamSID      string        `json:"streamSid"`
	Start          *startPayload `json:"start,omitempty"`
	Media          *mediaPayload `json:"media,omitempty"`
	Stop           *stopPayload  `json:"stop,omitempty"`
	DTMF           *dtmfPayload  `json:"dtmf,omitempty"`
	Mark           *markPayload  `json:"mark,omitempty"`
}

type startPayload struct {
	StreamSID  string      `json:"streamSid"`
	AccountSID string      `json:"accountSid"`
	CallSID    string      `json:"callSid"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Direction  string      `json:"direction"`
	MediaFmt   mediaFormat `json:"mediaFormat"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	BitRate    int    `json:"bitRate"`
	BitDepth   int    `json:"bitDepth"`
}

type mediaPayload struct {
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type stopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
	Reason     string `json:"reason"`
}

type dtmfPayload struct {
	Digit string `json:"digit"`
}

type markPayload struct {
	Name string `json:"name"`
}

type outboundMediaEnvelope struct {
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid"`
	Media     outboundMedia   `json:"media"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
	Chunk   int64  `json:"chunk"`
}

type outboundMarkEnvelope struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Mark      outboundMark  `json:"mark"`
}

type outboundMark struct {
	Name string `json:"name"`
}

// ServeMediaStream accepts the carrier's bidirectional media WebSocket.
func (a *Adapter) ServeMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("tata: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	cs := &callState{conn: conn, machine: telephony.NewStreamMachine()}

	var streamSID string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if streamSID != "" {
				a.handleClose(streamSID, telephony.ReasonWebsocketClosed)
			}
			return
		}

		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("tata: malformed envelope", "error", err)
			continue
		}
		atomic.AddInt64(&cs.seq, 1)

		switch env.Event {
		case "connected":
			// No-op: preamble before start.
		case "start":
			streamSID = a.handleStart(env, cs)
		case "media":
			a.handleMedia(env)
		case "stop":
			a.handleClose(env.StreamSID, telephony.ReasonStreamStopped)
		case "dtmf":
			a.handleDTMF(env)
		case "mark":
			// Acknowledgement of a mark we sent; nothing to do.
		default:
			slog.Warn("tata: unknown event", "event", env.Event)
		}
	}
}

func (a *Adapter) handleStart(env inboundEnvelope, cs *callState) string {
	if env.Start == nil {
		slog.Warn("tata: start event missing start payload")
		return ""
	}
	callID := providerName + "_" + env.Start.CallSID
	cs.callID = callID
	cs.machine.Start()

	a.mu.Lock()
	a.streams[env.Start.StreamSID] = cs
	a.mu.Unlock()

	dir := telephony.DirectionInbound
	if env.Start.Direction == "outbound" {
		dir = telephony.DirectionOutbound
	}

	if a.sink != nil {
		a.sink.OnCallStarted(telephony.CallRecord{
			CallID:    callID,
			Provider:  providerName,
			From:      env.Start.From,
			To:        env.Start.To,
			Direction: dir,
			StartTime: time.Now(),
			StreamID:  env.Start.StreamSID,
		})
	}
	return env.Start.StreamSID
}

func (a *Adapter) handleMedia(env inboundEnvelope) {
	a.mu.Lock()
	cs, ok := a.streams[env.StreamSID]
	a.mu.Unlock()
	if !ok {
		slog.Warn("tata: media for unregistered stream", "streamSid", env.StreamSID)
		return
	}
	if !cs.machine.AcceptsMedia() {
		slog.Warn("tata: media before start, ignoring", "streamSid", env.StreamSID)
		return
	}
	if env.Media == nil {
		return
	}

	mulaw, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		slog.Warn("tata: bad base64 payload", "error", err)
		return
	}
	linear := codec.MulawToLinear(mulaw)

	if a.sink != nil {
		a.sink.OnAudioReceived(telephony.AudioPacket{
			CallID:         cs.callID,
			StreamID:       env.StreamSID,
			SequenceNumber: env.SequenceNumber,
			Timestamp:      time.Now(),
			Payload:        linear,
			Encoding:       codec.EncodingLinear16,
			SampleRate:     8000,
		})
	}
}

func (a *Adapter) handleDTMF(env inboundEnvelope) {
	a.mu.Lock()
	cs, ok := a.streams[env.StreamSID]
	a.mu.Unlock()
	if !ok || env.DTMF == nil || a.sink == nil {
		return
	}
	a.sink.OnDTMF(cs.callID, env.DTMF.Digit)
}

func (a *Adapter) handleClose(streamSID string, reason telephony.EndReason) {
	a.mu.Lock()
	cs, ok := a.streams[streamSID]
	if ok {
		delete(a.streams, streamSID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	if shouldEmit := cs.machine.Close(); shouldEmit && a.sink != nil {
		a.sink.OnCallEnded(cs.callID, reason)
	}
}

// SendAudio transcodes pcmBytes to 8kHz μ-law, appends it to the residual
// buffer, and emits as many complete 160-byte frames as the buffer holds.
// The remainder stays buffered for the next call.
func (a *Adapter) SendAudio(callID string, pcmBytes []byte, sampleRate int) {
	cs := a.findByCallID(callID)
	if cs == nil {
		slog.Warn("tata: sendAudio for unknown call", "callId", callID)
		return
	}
	if !cs.machine.AcceptsOutbound() {
		return
	}

	mulaw := codec.PipelineToTelephony(pcmBytes, sampleRate, codec.EncodingMulaw)

	cs.mu.Lock()
	buf := append(cs.residual, mulaw...)
	frames, rest := splitFrames(buf, frameSize)
	cs.residual = rest
	streamSID := a.streamIDForLocked(cs)
	cs.mu.Unlock()

	for _, frame := range frames {
		a.sendFrame(cs, streamSID, frame)
	}
}

// splitFrames slices buf into as many complete size-byte frames as it holds,
// returning the frames and whatever is left over (less than size bytes).
func splitFrames(buf []byte, size int) (frames [][]byte, rest []byte) {
	for len(buf) >= size {
		frames = append(frames, buf[:size])
		buf = buf[size:]
	}
	return frames, buf
}

// padFrame pads residual to exactly size bytes with silence (0xFF). Returns
// nil if residual is empty.
func padFrame(residual []byte, size int) []byte {
	if len(residual) == 0 {
		return nil
	}
	padded := make([]byte, size)
	copy(padded, residual)
	for i := len(residual); i < size; i++ {
		padded[i] = 0xFF
	}
	return padded
}

func (a *Adapter) sendFrame(cs *callState, streamSID string, frame []byte) {
	cs.mu.Lock()
	cs.chunk++
	chunk := cs.chunk
	cs.mu.Unlock()

	env := outboundMediaEnvelope{
		Event:     "media",
		StreamSID: streamSID,
		Media: outboundMedia{
			Payload: base64.StdEncoding.EncodeToString(frame),
			Chunk:   chunk,
		},
	}
	a.writeJSON(cs, env)
}

// Flush pads the residual buffer with silence (0xFF) to the next 160-byte
// boundary, sends the final frame(s), then emits a mark envelope recorded in
// pending marks.
func (a *Adapter) Flush(callID string) {
	cs := a.findByCallID(callID)
	if cs == nil {
		return
	}

	cs.mu.Lock()
	streamSID := a.streamIDForLocked(cs)
	frame := padFrame(cs.residual, frameSize)
	cs.residual = nil
	cs.mu.Unlock()

	if frame != nil {
		a.sendFrame(cs, streamSID, frame)
	}

	name := fmt.Sprintf("complete_%d", time.Now().UnixNano())
	cs.mu.Lock()
	cs.marks = append(cs.marks, name)
	cs.mu.Unlock()

	a.writeJSON(cs, outboundMarkEnvelope{
		Event:     "mark",
		StreamSID: streamSID,
		Mark:      outboundMark{Name: name},
	})
}

// streamIDForLocked finds the stream id this callState is registered under.
// Caller must hold cs.mu (read access to cs fields only; a.mu is taken
// internally).
func (a *Adapter) streamIDForLocked(cs *callState) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, s := range a.streams {
		if s == cs {
			return id
		}
	}
	return ""
}

// ClearAudio drops the residual buffer. TataLike's wire schema defines a
// clear envelope, but direction is vendor-to-endpoint only in this
// protocol — it is never sent (reserved for future use, per spec).
func (a *Adapter) ClearAudio(callID string) {
	cs := a.findByCallID(callID)
	if cs == nil {
		return
	}
	cs.mu.Lock()
	cs.residual = nil
	cs.mu.Unlock()
}

func (a *Adapter) writeJSON(cs *callState, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("tata: marshal envelope", "error", err)
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cs.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Warn("tata: write failed", "error", err)
	}
}

func (a *Adapter) findByCallID(callID string) *callState {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, cs := range a.streams {
		if cs.callID == callID {
			return cs
		}
	}
	return nil
}

// GetAnswerXML is unsupported: TataLike offers no answer document.
func (a *Adapter) GetAnswerXML(callID string, streamURL string) ([]byte, error) {
	return nil, telephony.ErrUnsupported
}

// MakeCall is unsupported: TataLike offers no outbound origination.
func (a *Adapter) MakeCall(ctx context.Context, to, from string) (telephony.MakeCallResult, error) {
	return telephony.MakeCallResult{}, telephony.ErrUnsupported
}

// HandleWebhook answers any path ending in /status with {"success":true};
// every other path returns the unknown-path envelope.
func (a *Adapter) HandleWebhook(req telephony.WebhookRequest) (telephony.WebhookResponse, error) {
	if strings.HasSuffix(req.Path, "/status") {
		return telephony.WebhookResponse{
			ContentType: "application/json",
			Body:        []byte(`{"success":true}`),
		}, nil
	}
	return telephony.WebhookResponse{
		ContentType: "application/json",
		Body:        []byte(`{"error":"Unknown webhook path"}`),
	}, nil
}

func (a *Adapter) EndCall(ctx context.Context, callID string) error {
	cs := a.findByCallID(callID)
	if cs == nil {
		slog.Warn("tata: endCall for unknown call", "callId", callID)
		return nil
	}
	cs.machine.Drain()
	_ = cs.conn.Close(websocket.StatusNormalClosure, "call ended")
	if shouldEmit := cs.machine.Close(); shouldEmit && a.sink != nil {
		a.sink.OnCallEnded(callID, telephony.ReasonSessionEndRequested)
	}
	a.mu.Lock()
	for id, s := range a.streams {
		if s == cs {
			delete(a.streams, id)
		}
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) GetSession(callID string) (telephony.SessionSnapshot, bool) {
	cs := a.findByCallID(callID)
	if cs == nil {
		return telephony.SessionSnapshot{}, false
	}
	return telephony.SessionSnapshot{State: cs.machine.State(), ChunkCount: cs.chunk}, true
}

func (a *Adapter) GetAllSessions() []telephony.SessionSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]telephony.SessionSnapshot, 0, len(a.streams))
	for _, cs := range a.streams {
		out = append(out, telephony.SessionSnapshot{State: cs.machine.State(), ChunkCount: cs.chunk})
	}
	return out
}

func (a *Adapter) Shutdown(ctx context.Context) {
	a.mu.Lock()
	calls := make([]string, 0, len(a.streams))
	for _, cs := range a.streams {
		calls = append(calls, cs.callID)
	}
	a.mu.Unlock()

	for _, callID := range calls {
		_ = a.EndCall(ctx, callID)
	}
}
