// Package plivo implements the PlivoLike [telephony.Adapter]: JSON media
// envelopes over one WebSocket per call, REST call origination over
// HTTP-Basic auth, and an XML answer document.
package plivo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ringbridge/telephony/internal/telephony"
	"github.com/ringbridge/telephony/pkg/codec"
)

const providerName = "plivo"

// Config holds PlivoLike adapter credentials and endpoints.
type Config struct {
	AuthID          string
	AuthToken       string
	WebhookBaseURL  string
	DefaultFrom     string
	APIBaseURL      string // defaults to https://api.plivo.com if empty
	HTTPTimeout     time.Duration
}

var _ telephony.Adapter = (*Adapter)(nil)
var _ telephony.MediaServer = (*Adapter)(nil)

// Adapter implements the PlivoLike provider.
type Adapter struct {
	cfg    Config
	client *http.Client
	sink   telephony.EventSink

	mu       sync.Mutex
	streams  map[string]*callState
}

type callState struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	callID  string
	machine *telephony.StreamMachine
	chunk   int64
}

// New constructs a PlivoLike adapter. Call Init before use.
func New(cfg Config) *Adapter {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.plivo.com"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &Adapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		streams: make(map[string]*callState),
	}
}

func (a *Adapter) Name() string { return providerName }

// Init validates credentials and stores the event sink. Idempotent.
func (a *Adapter) Init(ctx context.Context, sink telephony.EventSink) error {
	if a.cfg.WebhookBaseURL == "" {
		return &telephony.ConfigError{Provider: providerName, Reason: "webhook_base_url is required"}
	}
	if a.cfg.AuthID == "" || a.cfg.AuthToken == "" {
		return &telephony.ConfigError{Provider: providerName, Reason: "auth_id and auth_token are required"}
	}
	a.sink = sink
	return nil
}

// --- wire envelopes ---

type inboundEnvelope struct {
	Event          string          `json:"event"`
	SequenceNumber int64           `json:"sequenceNumber"`
	StreamID       string          `json:"streamId"`
	Start          *startPayload   `json:"start,omitempty"`
	Media          *mediaPayload   `json:"media,omitempty"`
	DTMF           *dtmfPayload    `json:"dtmf,omitempty"`
}

type startPayload struct {
	StreamID  string `json:"streamId"`
	CallID    string `json:"callId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Direction string `json:"direction,omitempty"`
}

type mediaPayload struct {
	Track       string `json:"track"`
	Chunk       string `json:"chunk"`
	Timestamp   string `json:"timestamp"`
	Payload     string `json:"payload"`
	ContentType string `json:"contentType,omitempty"`
}

type dtmfPayload struct {
	Digit    string `json:"digit"`
	Duration int    `json:"duration"`
}

type playAudioEnvelope struct {
	Event string        `json:"event"`
	Media playAudioData `json:"media"`
}

type playAudioData struct {
	ContentType string `json:"contentType"`
	SampleRate  int    `json:"sampleRate"`
	Payload     string `json:"payload"`
}

type clearAudioEnvelope struct {
	Event string `json:"event"`
}

// ServeMediaStream accepts the carrier's bidirectional media WebSocket and
// services it for the lifetime of the connection. One goroutine per
// connection; outbound sends are serialized on the same connection via
// conn.Write, which coder/websocket guarantees is safe to call from the
// reader's own goroutine only when synchronized — here we hold cs.mu around
// writes.
func (a *Adapter) ServeMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("plivo: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	cs := &callState{conn: conn, machine: telephony.NewStreamMachine()}

	var streamID string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if streamID != "" {
				a.handleClose(streamID, telephony.ReasonWebsocketClosed)
			}
			return
		}

		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("plivo: malformed envelope", "error", err)
			continue
		}

		switch env.Event {
		case "start":
			streamID = a.handleStart(env, cs)
		case "media":
			a.handleMedia(env)
		case "stop":
			a.handleClose(env.StreamID, telephony.ReasonStreamStopped)
		case "dtmf":
			a.handleDTMF(env)
		default:
			slog.Warn("plivo: unknown event", "event", env.Event)
		}
	}
}

func (a *Adapter) handleStart(env inboundEnvelope, cs *callState) string {
	if env.Start == nil {
		slog.Warn("plivo: start event missing start payload")
		return ""
	}
	callID := providerName + "_" + env.Start.CallID
	cs.callID = callID
	cs.machine.Start()

	a.mu.Lock()
	a.streams[env.Start.StreamID] = cs
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
			StreamID:  env.Start.StreamID,
		})
	}
	return env.Start.StreamID
}

func (a *Adapter) handleMedia(env inboundEnvelope) {
	a.mu.Lock()
	cs, ok := a.streams[env.StreamID]
	a.mu.Unlock()
	if !ok {
		slog.Warn("plivo: media for unregistered stream", "streamId", env.StreamID)
		return
	}
	if !cs.machine.AcceptsMedia() {
		slog.Warn("plivo: media before start, ignoring", "streamId", env.StreamID)
		return
	}
	if env.Media == nil {
		return
	}

	payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		slog.Warn("plivo: bad base64 payload", "error", err)
		return
	}

	enc, rate, ok := parseContentType(env.Media.ContentType)
	if !ok {
		if a.sink != nil {
			a.sink.OnError(cs.callID, &telephony.MediaFormatError{ContentType: env.Media.ContentType})
		}
		return
	}

	if a.sink != nil {
		a.sink.OnAudioReceived(telephony.AudioPacket{
			CallID:         cs.callID,
			StreamID:       env.StreamID,
			SequenceNumber: env.SequenceNumber,
			Timestamp:      time.Now(),
			Payload:        payload,
			Encoding:       enc,
			SampleRate:     rate,
		})
	}
}

// parseContentType inspects a Plivo content-type string such as
// "audio/x-l16;rate=16000" or "audio/x-mulaw". The rate is only sometimes
// present (source ambiguity, preserved per spec §9): default is 8000Hz.
// Rates other than 8000/16000 are reported as unsupported rather than
// mis-detected.
func parseContentType(ct string) (codec.Encoding, int, bool) {
	if ct == "" {
		return codec.EncodingLinear16, 8000, true
	}
	lower := strings.ToLower(ct)

	var enc codec.Encoding
	switch {
	case strings.Contains(lower, "mulaw"):
		enc = codec.EncodingMulaw
	case strings.Contains(lower, "l16"):
		enc = codec.EncodingLinear16
	default:
		return "", 0, false
	}

	rate := 8000
	if idx := strings.Index(lower, "rate="); idx >= 0 {
		rest := lower[idx+len("rate="):]
		end := strings.IndexAny(rest, ";, ")
		if end < 0 {
			end = len(rest)
		}
		if parsed, err := strconv.Atoi(rest[:end]); err == nil {
			rate = parsed
		}
	}
	if rate != 8000 && rate != 16000 {
		return "", 0, false
	}
	return enc, rate, true
}

func (a *Adapter) handleDTMF(env inboundEnvelope) {
	a.mu.Lock()
	cs, ok := a.streams[env.StreamID]
	a.mu.Unlock()
	if !ok || env.DTMF == nil || a.sink == nil {
		return
	}
	a.sink.OnDTMF(cs.callID, env.DTMF.Digit)
}

func (a *Adapter) handleClose(streamID string, reason telephony.EndReason) {
	a.mu.Lock()
	cs, ok := a.streams[streamID]
	if ok {
		delete(a.streams, streamID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	if shouldEmit := cs.machine.Close(); shouldEmit && a.sink != nil {
		a.sink.OnCallEnded(cs.callID, reason)
	}
}

// SendAudio transcodes pcmBytes to 8kHz linear16 and sends a playAudio
// envelope. Non-blocking: drops silently (with a log) if the stream is
// unknown or closed.
func (a *Adapter) SendAudio(callID string, pcmBytes []byte, sampleRate int) {
	cs := a.findByCallID(callID)
	if cs == nil {
		slog.Warn("plivo: sendAudio for unknown call", "callId", callID)
		return
	}
	if !cs.machine.AcceptsOutbound() {
		return
	}

	out := codec.PipelineToTelephony(pcmBytes, sampleRate, codec.EncodingLinear16)
	env := playAudioEnvelope{
		Event: "playAudio",
		Media: playAudioData{
			ContentType: "audio/x-l16",
			SampleRate:  codec.TelephonyOutRate,
			Payload:     base64.StdEncoding.EncodeToString(out),
		},
	}
	cs.mu.Lock()
	cs.chunk++
	cs.mu.Unlock()
	a.writeJSON(cs, env)
}

// ClearAudio sends a clearAudio envelope for barge-in.
func (a *Adapter) ClearAudio(callID string) {
	cs := a.findByCallID(callID)
	if cs == nil {
		return
	}
	a.writeJSON(cs, clearAudioEnvelope{Event: "clearAudio"})
}

func (a *Adapter) writeJSON(cs *callState, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("plivo: marshal envelope", "error", err)
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cs.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Warn("plivo: write failed", "error", err)
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

// GetAnswerXML returns the bidirectional stream XML document.
func (a *Adapter) GetAnswerXML(callID string, streamURL string) ([]byte, error) {
	doc := fmt.Sprintf(
		`<Response><Stream bidirectional="true" keepCallAlive="true" contentType="audio/x-l16;rate=8000" streamTimeout="3600">%s</Stream></Response>`,
		streamURL,
	)
	return []byte(doc), nil
}

// HandleWebhook answers the two PlivoLike HTTP paths: the answer document
// and the status callback.
func (a *Adapter) HandleWebhook(req telephony.WebhookRequest) (telephony.WebhookResponse, error) {
	switch {
	case strings.HasSuffix(req.Path, "/answer"):
		streamURL := toWSURL(a.cfg.WebhookBaseURL) + "/telephony/plivo/stream"
		body, _ := a.GetAnswerXML("", streamURL)
		return telephony.WebhookResponse{ContentType: "text/xml", Body: body}, nil
	case strings.HasSuffix(req.Path, "/status"):
		return telephony.WebhookResponse{
			ContentType: "application/json",
			Body:        []byte(`{"success":true}`),
		}, nil
	default:
		return telephony.WebhookResponse{
			ContentType: "application/json",
			Body:        []byte(`{"error":"Unknown webhook path"}`),
		}, nil
	}
}

func toWSURL(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	if strings.HasPrefix(base, "http://") {
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// MakeCall originates an outbound call via Plivo's REST API with one retry
// on network error (not on 4xx), after a 250ms sleep.
func (a *Adapter) MakeCall(ctx context.Context, to, from string) (telephony.MakeCallResult, error) {
	if from == "" {
		from = a.cfg.DefaultFrom
	}
	answerURL := a.cfg.WebhookBaseURL + "/telephony/plivo/answer"

	body := map[string]string{
		"from":          from,
		"to":            to,
		"answer_url":    answerURL,
		"answer_method": "POST",
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return telephony.MakeCallResult{}, err
	}

	url := fmt.Sprintf("%s/v1/Account/%s/Call/", a.cfg.APIBaseURL, a.cfg.AuthID)

	var resp *http.Response
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return telephony.MakeCallResult{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(a.cfg.AuthID, a.cfg.AuthToken)

		resp, err = a.client.Do(req)
		if err == nil {
			break
		}
		if attempt == 0 {
			time.Sleep(250 * time.Millisecond)
			continue
		}
		return telephony.MakeCallResult{}, &telephony.ProviderError{Op: "makeCall", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return telephony.MakeCallResult{}, &telephony.ProviderError{
			Op:  "makeCall",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(b)),
		}
	}

	var result struct {
		RequestUUID string `json:"request_uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return telephony.MakeCallResult{}, err
	}
	return telephony.MakeCallResult{ProviderRequestID: result.RequestUUID}, nil
}

// EndCall closes the call's media socket and drops its local state; it sends
// no REST hangup request to Plivo.
func (a *Adapter) EndCall(ctx context.Context, callID string) error {
	cs := a.findByCallID(callID)
	if cs == nil {
		slog.Warn("plivo: endCall for unknown call", "callId", callID)
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

// GetSession returns a read-only snapshot of one active call.
func (a *Adapter) GetSession(callID string) (telephony.SessionSnapshot, bool) {
	cs := a.findByCallID(callID)
	if cs == nil {
		return telephony.SessionSnapshot{}, false
	}
	return telephony.SessionSnapshot{
		State:      cs.machine.State(),
		ChunkCount: cs.chunk,
	}, true
}

// GetAllSessions returns read-only snapshots of every active call.
func (a *Adapter) GetAllSessions() []telephony.SessionSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]telephony.SessionSnapshot, 0, len(a.streams))
	for _, cs := range a.streams {
		out = append(out, telephony.SessionSnapshot{State: cs.machine.State(), ChunkCount: cs.chunk})
	}
	return out
}

// Shutdown terminates every active call and closes all sockets.
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
