// Package realtime implements the pipeline's speech-to-speech Factory: it
// forwards caller audio directly into a realtime S2S provider session
// (OpenAI Realtime, Gemini Live) and relays synthesized audio, interruption,
// and transcript events back out, bypassing the separate STT/LLM/TTS stages
// entirely.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/ringbridge/telephony/internal/pipeline"
	"github.com/ringbridge/telephony/pkg/provider/s2s"
)

// Factory constructs realtime Handles backed by a single S2S provider.
type Factory struct {
	Provider s2s.Provider
}

var _ pipeline.Factory = (*Factory)(nil)

// Start opens an S2S session and wires its channels to hooks.
func (f *Factory) Start(ctx context.Context, callID string, cfg pipeline.Config, hooks pipeline.Hooks) (pipeline.Handle, error) {
	sess, err := f.Provider.Connect(ctx, s2s.SessionConfig{
		Voice:        cfg.Voice,
		Instructions: cfg.SystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: connect S2S session: %w", err)
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &handle{callID: callID, sess: sess, hooks: hooks, ctx: hctx, cancel: cancel}

	h.done = make(chan struct{}, 2)
	go h.relayAudio()
	go h.relayTranscripts()

	return h, nil
}

type handle struct {
	callID string
	sess   s2s.SessionHandle
	hooks  pipeline.Hooks
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
}

var _ pipeline.Handle = (*handle)(nil)

// SendAudio forwards caller audio straight into the S2S session.
func (h *handle) SendAudio(pcm []byte) error {
	return h.sess.SendAudio(pcm)
}

// Stop interrupts and closes the S2S session. Calls after the first return nil.
func (h *handle) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		h.cancel()
		err = h.sess.Close()
	})
	return err
}

// relayAudio streams synthesized audio out via the TTS-chunk hook. It does not
// detect barge-in; relayTranscripts does, when a caller transcript arrives.
func (h *handle) relayAudio() {
	defer func() { h.done <- struct{}{} }()
	for {
		select {
		case <-h.ctx.Done():
			return
		case chunk, ok := <-h.sess.Audio():
			if !ok {
				return
			}
			if h.hooks.OnTTSChunk != nil {
				h.hooks.OnTTSChunk(chunk, pipeline.SampleRate)
			}
		}
	}
}

// relayTranscripts forwards the session's transcript stream to the journal
// hook and interprets a caller-side entry as a barge-in signal, since the
// realtime model is generating audio concurrently with caller speech.
func (h *handle) relayTranscripts() {
	defer func() { h.done <- struct{}{} }()
	for {
		select {
		case <-h.ctx.Done():
			return
		case entry, ok := <-h.sess.Transcripts():
			if !ok {
				return
			}
			if h.hooks.OnTranscript != nil {
				h.hooks.OnTranscript(entry)
			}
			if !entry.IsAgent && h.hooks.OnBargeIn != nil {
				_ = h.sess.Interrupt()
				h.hooks.OnBargeIn()
			}
		}
	}
}
