// Package telephony defines the provider-agnostic contract every telephony
// adapter fulfills: normalized call/audio types, the Adapter interface, the
// event sink an adapter reports through, and the per-stream state machine
// shared by every concrete adapter (plivo, tata).
//
// Concrete adapters own their own WebSocket connections and wire-format
// parsing; this package only defines the shape they must present upward to
// the bridge.
package telephony

import (
	"context"
	"net/http"
	"time"

	"github.com/ringbridge/telephony/pkg/codec"
)

// Direction classifies which side originated a call.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallRecord describes one active call, created on the adapter's `start`
// event and destroyed on `stop` / socket close / explicit hangup.
type CallRecord struct {
	CallID    string
	Provider  string
	From      string
	To        string
	Direction Direction
	StartTime time.Time
	StreamID  string
}

// AudioPacket is a normalized inbound audio chunk handed from an adapter to
// the bridge. Ownership transfers with the packet: once delivered, the
// adapter must not read or mutate Payload again.
type AudioPacket struct {
	CallID         string
	StreamID       string
	SequenceNumber int64
	Timestamp      time.Time
	Payload        []byte
	Encoding       codec.Encoding
	SampleRate     int
}

// EndReason describes why a call ended, attached to the CallEnded event.
type EndReason string

const (
	ReasonStreamStopped       EndReason = "stream_stopped"
	ReasonWebsocketClosed     EndReason = "websocket_closed"
	ReasonProviderTimeout     EndReason = "provider_timeout"
	ReasonPipelineFailed      EndReason = "pipeline_failed"
	ReasonSessionEndRequested EndReason = "session_end_requested"
	ReasonShutdown            EndReason = "shutdown"
)

// EventSink receives normalized events from an Adapter. The bridge
// implements this interface and is injected into every adapter instance.
// Implementations must be safe for concurrent use and must not block —
// adapters call these methods synchronously from their reader goroutines.
type EventSink interface {
	// OnCallStarted fires exactly once per call, before any OnAudioReceived
	// for the same call.
	OnCallStarted(rec CallRecord)

	// OnCallEnded fires exactly once per call, as the terminal event.
	OnCallEnded(callID string, reason EndReason)

	// OnAudioReceived fires for every inbound audio chunk, in wire order.
	OnAudioReceived(pkt AudioPacket)

	// OnDTMF fires when a caller presses a touch-tone digit.
	OnDTMF(callID string, digit string)

	// OnError reports a non-fatal error associated with a call (callID may
	// be empty for adapter-level errors not tied to any call).
	OnError(callID string, err error)
}

// MakeCallResult is returned by Adapter.MakeCall on success.
type MakeCallResult struct {
	// ProviderRequestID is the opaque provider-side identifier for the
	// origination request (e.g. Plivo's request_uuid).
	ProviderRequestID string
}

// WebhookRequest carries the fields an HTTP webhook handler needs to pass
// down to an adapter's HandleWebhook.
type WebhookRequest struct {
	Path   string
	Method string
	Body   []byte
	Query  map[string][]string
}

// WebhookResponse is the structured answer an adapter produces for a webhook
// request: a content type and a raw body (XML or JSON depending on
// provider).
type WebhookResponse struct {
	ContentType string
	Body        []byte
}

// SessionSnapshot is a read-only view of one active call, returned by
// Adapter.GetSession / GetAllSessions.
type SessionSnapshot struct {
	CallRecord  CallRecord
	State       StreamState
	ChunkCount  int64
}

// Adapter is the contract every provider-specific telephony adapter
// fulfills. Implementations own one WebSocket per active call, parse
// incoming media envelopes, frame and pace outgoing media, and emit
// normalized events through the injected EventSink.
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Init prepares the adapter to accept inbound socket connections and
	// emit events. Idempotent; returns a *ConfigError on a bad provider tag
	// or missing credential.
	Init(ctx context.Context, sink EventSink) error

	// MakeCall causes the carrier to originate a call to `to` (from `from`,
	// or the adapter's configured default if empty). Returns
	// ErrUnsupported if the provider does not offer outbound origination.
	MakeCall(ctx context.Context, to, from string) (MakeCallResult, error)

	// EndCall is best-effort: invokes the provider REST hangup if
	// available, closes the socket, then removes local state. Safe to call
	// on an unknown callID (logged no-op).
	EndCall(ctx context.Context, callID string) error

	// SendAudio transcodes pcmBytes (pipeline-format PCM at sampleRate) to
	// the provider's wire format and enqueues framed envelopes on the
	// call's socket, in order. Never blocks or fails synchronously; an
	// absent or closed socket drops the audio and logs.
	SendAudio(callID string, pcmBytes []byte, sampleRate int)

	// ClearAudio flushes the residual send buffer for callID and, for
	// providers that support it, sends an explicit clear envelope. Used to
	// implement barge-in. Silent if callID is unknown.
	ClearAudio(callID string)

	// GetAnswerXML returns the provider-specific response document
	// instructing the carrier to open a bidirectional stream to streamURL.
	// Returns ErrUnsupported if the provider does not use an answer
	// document.
	GetAnswerXML(callID string, streamURL string) ([]byte, error)

	// HandleWebhook returns a structured answer for an inbound HTTP webhook
	// request. Unknown paths return a well-formed error envelope rather
	// than an error value.
	HandleWebhook(req WebhookRequest) (WebhookResponse, error)

	// GetSession returns a read-only snapshot of one active call.
	GetSession(callID string) (SessionSnapshot, bool)

	// GetAllSessions returns read-only snapshots of every active call.
	GetAllSessions() []SessionSnapshot

	// Shutdown terminates every active call, closes all sockets, and
	// clears listeners.
	Shutdown(ctx context.Context)

	// Name returns the provider tag this adapter implements (e.g. "plivo",
	// "tata"). Used to prefix internal call IDs.
	Name() string
}

// MediaServer is implemented by adapters that accept the carrier's
// bidirectional media WebSocket directly over HTTP (every adapter in this
// repo). The webhook surface mounts ServeMediaStream at the stream URL it
// advertised in the answer document.
type MediaServer interface {
	ServeMediaStream(w http.ResponseWriter, r *http.Request)
}
