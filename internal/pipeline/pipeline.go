// Package pipeline defines the boundary between the telephony core and the
// voice pipeline (STT → LLM → TTS, or an end-to-end speech-to-speech model).
//
// The pipeline is treated as a black box by the rest of the system: the
// bridge constructs a Handle through a Factory, feeds it caller audio in
// pipeline format (linear16 mono, see pkg/codec), and reacts to the three
// events a pipeline may raise — a chunk of synthesized speech ready to play
// back to the caller, a barge-in (the caller started talking over playback),
// or a request to end the call. Nothing downstream of Factory.Start is
// specific to any telephony provider.
package pipeline

import (
	"context"

	"github.com/ringbridge/telephony/pkg/provider/tts"
	"github.com/ringbridge/telephony/pkg/types"
)

// SampleRate is the fixed pipeline-side audio rate. The codec package
// converts telephony audio to and from this rate at the adapter boundary.
const SampleRate = 16000

// Hooks are the event callbacks a Handle invokes for the lifetime of a call.
// All three may be called concurrently from the handle's internal goroutines
// and must return quickly — they hand work off to the bridge, not perform it
// inline.
type Hooks struct {
	// OnTTSChunk delivers one chunk of synthesized speech, as linear16 mono
	// PCM at sampleRate Hz (normally pipeline.SampleRate).
	OnTTSChunk func(pcm []byte, sampleRate int)

	// OnBargeIn fires when the pipeline detects the caller has started
	// speaking while a response is still being synthesized or played back.
	// The bridge responds by clearing any buffered outbound audio.
	OnBargeIn func()

	// OnHangupRequest fires when the pipeline decides the call should end
	// (e.g., the conversation reached a natural close). The bridge responds
	// by tearing down the call.
	OnHangupRequest func()

	// OnTranscript, if set, receives one entry per recognized utterance and
	// per synthesized reply, for the call journal. Optional.
	OnTranscript func(entry types.TranscriptEntry)
}

// Config carries the per-call parameters a Factory needs to start a Handle.
type Config struct {
	// SystemPrompt seeds the model's persona and behavioural constraints.
	SystemPrompt string

	// Voice selects the synthesized voice.
	Voice tts.VoiceProfile

	// Language is the BCP-47 recognition language hint, empty for
	// provider auto-detect.
	Language string
}

// Handle is an opaque running voice pipeline for a single call. Callers
// interact with it only through SendAudio and Stop; everything else happens
// via the Hooks supplied at construction.
type Handle interface {
	// SendAudio delivers one chunk of caller audio, linear16 mono PCM at
	// pipeline.SampleRate Hz. Non-blocking on a best-effort basis; an
	// implementation that cannot keep up should drop rather than block.
	SendAudio(pcm []byte) error

	// Stop tears down the pipeline and releases its resources. Safe to call
	// more than once; calls after the first return nil.
	Stop() error
}

// Factory constructs a Handle for a new call. Implementations wrap whatever
// STT/LLM/TTS or speech-to-speech providers are configured.
type Factory interface {
	// Start begins a new pipeline session for callID and returns a Handle
	// as soon as the backing providers are ready to accept audio. hooks must
	// be non-nil; Start should treat a nil hook field as "do not call".
	Start(ctx context.Context, callID string, cfg Config, hooks Hooks) (Handle, error)
}
