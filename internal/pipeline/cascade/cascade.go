// Package cascade implements the pipeline's default Factory: a two-stage
// sentence cascade across a fast and a strong LLM, bridging an STT session
// to a TTS stream for the duration of one call.
//
// The cascade trades a little coherence for latency: a fast model produces
// only the opening sentence of the reply so TTS can start playing almost
// immediately, while a stronger model generates the rest of the response in
// the background, using the fast model's opener as a forced continuation
// prefix so the two halves read as one utterance.
//
//  1. Caller audio accumulates until the STT session emits a final transcript.
//  2. The fast model replies with a single short sentence.
//  3. TTS starts on that sentence right away.
//  4. The strong model is given the same context plus the opener and
//     generates the continuation, forwarded to the same TTS stream sentence
//     by sentence.
//
// If the fast model's entire reply fits in one sentence, the strong model is
// skipped altogether.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ringbridge/telephony/internal/pipeline"
	"github.com/ringbridge/telephony/pkg/provider/llm"
	"github.com/ringbridge/telephony/pkg/provider/stt"
	"github.com/ringbridge/telephony/pkg/provider/tts"
	"github.com/ringbridge/telephony/pkg/types"
)

const (
	// defaultOpenerSuffix is appended to the fast model's system prompt to
	// constrain it to a brief opening line rather than a full answer.
	defaultOpenerSuffix = "Reply with only a brief opening sentence acknowledging the caller. Do not answer the question fully yet."

	// defaultTextBuf is the buffer depth of the text channel feeding TTS in
	// the dual-model path, sized to absorb the opener plus several
	// strong-model sentences without blocking the synthesis goroutine.
	defaultTextBuf = 16

	// hangupToolName is the tool name the strong model can invoke to signal
	// that the call should end. It is a plain LLM tool call, not an MCP tool.
	hangupToolName = "end_call"

	// maxHistoryMessages bounds the conversation history kept per call.
	maxHistoryMessages = 40
)

// Factory constructs cascade Handles backed by a fast/strong LLM pair, an
// STT provider, and a TTS provider. It implements pipeline.Factory.
type Factory struct {
	FastLLM   llm.Provider
	StrongLLM llm.Provider
	STT       stt.Provider
	TTS       tts.Provider

	// OpenerSuffix overrides the instruction appended to the fast model's
	// system prompt. Defaults to defaultOpenerSuffix when empty.
	OpenerSuffix string
}

var _ pipeline.Factory = (*Factory)(nil)

// Start opens an STT session for the call and returns a Handle that drives
// the fast/strong cascade on each final transcript.
func (f *Factory) Start(ctx context.Context, callID string, cfg pipeline.Config, hooks pipeline.Hooks) (pipeline.Handle, error) {
	sttCfg := stt.StreamConfig{
		SampleRate: pipeline.SampleRate,
		Channels:   1,
		Language:   cfg.Language,
	}
	sess, err := f.STT.StartStream(ctx, sttCfg)
	if err != nil {
		return nil, fmt.Errorf("cascade: start STT stream: %w", err)
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &handle{
		callID:    callID,
		f:         f,
		sess:      sess,
		cfg:       cfg,
		hooks:     hooks,
		ctx:       hctx,
		cancel:    cancel,
		messages:  []types.Message{},
		openerSfx: f.OpenerSuffix,
	}
	if h.openerSfx == "" {
		h.openerSfx = defaultOpenerSuffix
	}

	h.wg.Add(2)
	go h.watchFinals()
	go h.watchPartials()

	return h, nil
}

// handle is the running cascade session for one call.
type handle struct {
	callID string
	f      *Factory
	sess   stt.SessionHandle
	cfg    pipeline.Config
	hooks  pipeline.Hooks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	messages  []types.Message
	speaking  bool
	closeOnce sync.Once
	openerSfx string
}

var _ pipeline.Handle = (*handle)(nil)

// SendAudio forwards caller audio to the STT session.
func (h *handle) SendAudio(pcm []byte) error {
	return h.sess.SendAudio(pcm)
}

// Stop tears down the STT session and waits for background goroutines.
func (h *handle) Stop() error {
	h.closeOnce.Do(func() {
		h.cancel()
		_ = h.sess.Close()
	})
	h.wg.Wait()
	return nil
}

// watchPartials raises a barge-in once per in-flight response whenever an
// interim transcript arrives while synthesized audio is still being produced.
func (h *handle) watchPartials() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case p, ok := <-h.sess.Partials():
			if !ok {
				return
			}
			if strings.TrimSpace(p.Text) == "" {
				continue
			}
			h.mu.Lock()
			wasSpeaking := h.speaking
			h.speaking = false
			h.mu.Unlock()
			if wasSpeaking && h.hooks.OnBargeIn != nil {
				h.hooks.OnBargeIn()
			}
		}
	}
}

// watchFinals drives the cascade once per authoritative transcript.
func (h *handle) watchFinals() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case tr, ok := <-h.sess.Finals():
			if !ok {
				return
			}
			if strings.TrimSpace(tr.Text) == "" {
				continue
			}
			h.emitTranscript(tr.Text, false)
			h.appendMessage(types.Message{Role: "user", Content: tr.Text})
			h.respond()
		}
	}
}

// respond runs one fast/strong cascade turn and streams the result to TTS.
func (h *handle) respond() {
	h.mu.Lock()
	h.speaking = true
	history := make([]types.Message, len(h.messages))
	copy(history, h.messages)
	h.mu.Unlock()

	fastReq := h.buildFastPrompt(history)
	fastCh, err := h.f.FastLLM.StreamCompletion(h.ctx, fastReq)
	if err != nil {
		slog.Error("cascade: fast model stream failed", "call_id", h.callID, "error", err)
		h.mu.Lock()
		h.speaking = false
		h.mu.Unlock()
		return
	}

	opener, fastFull := collectFirstSentence(h.ctx, fastCh)
	if opener == "" {
		opener = "..."
	}

	textCh := make(chan string, defaultTextBuf)
	audioCh, err := h.f.TTS.SynthesizeStream(h.ctx, textCh, h.cfg.Voice)
	if err != nil {
		slog.Error("cascade: TTS start failed", "call_id", h.callID, "error", err)
		close(textCh)
		h.mu.Lock()
		h.speaking = false
		h.mu.Unlock()
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.forwardAudio(audioCh)
	}()

	if fastFull {
		textCh <- opener
		close(textCh)
		h.appendMessage(types.Message{Role: "assistant", Content: opener})
		h.emitTranscript(opener, true)
		return
	}

	strongReq := h.buildStrongPrompt(history, opener)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(textCh)

		select {
		case textCh <- opener:
		case <-h.ctx.Done():
			return
		}

		strongCh, err := h.f.StrongLLM.StreamCompletion(h.ctx, strongReq)
		if err != nil {
			slog.Error("cascade: strong model stream failed", "call_id", h.callID, "error", err)
			return
		}
		full := h.forwardSentences(strongCh, textCh)
		h.appendMessage(types.Message{Role: "assistant", Content: opener + full})
		h.emitTranscript(opener+full, true)
	}()
}

// forwardAudio relays synthesized PCM to the pipeline's TTS-chunk hook,
// clearing the speaking flag once playback has nothing left to send.
func (h *handle) forwardAudio(audioCh <-chan []byte) {
	for {
		select {
		case <-h.ctx.Done():
			return
		case chunk, ok := <-audioCh:
			if !ok {
				h.mu.Lock()
				h.speaking = false
				h.mu.Unlock()
				return
			}
			if h.hooks.OnTTSChunk != nil {
				h.hooks.OnTTSChunk(chunk, pipeline.SampleRate)
			}
		}
	}
}

func (h *handle) appendMessage(m types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
	if len(h.messages) > maxHistoryMessages {
		h.messages = h.messages[len(h.messages)-maxHistoryMessages:]
	}
}

func (h *handle) emitTranscript(text string, isAgent bool) {
	if h.hooks.OnTranscript == nil {
		return
	}
	speaker := "caller"
	if isAgent {
		speaker = "agent"
	}
	h.hooks.OnTranscript(types.TranscriptEntry{
		SpeakerID: speaker,
		Text:      text,
		IsAgent:   isAgent,
		Timestamp: time.Now(),
	})
}

// buildFastPrompt constructs the request for the fast, opener-only model.
func (h *handle) buildFastPrompt(history []types.Message) llm.CompletionRequest {
	var sb strings.Builder
	sb.WriteString(h.cfg.SystemPrompt)
	sb.WriteString("\n\n")
	sb.WriteString(h.openerSfx)
	return llm.CompletionRequest{
		SystemPrompt: sb.String(),
		Messages:     history,
	}
}

// buildStrongPrompt constructs the request for the strong, continuation
// model. opener is injected as a forced assistant-role prefix and the
// hangup tool is offered so the model can end the call.
func (h *handle) buildStrongPrompt(history []types.Message, opener string) llm.CompletionRequest {
	msgs := make([]types.Message, len(history)+1)
	copy(msgs, history)
	msgs[len(history)] = types.Message{Role: "assistant", Content: opener}
	return llm.CompletionRequest{
		SystemPrompt: h.cfg.SystemPrompt,
		Messages:     msgs,
		Tools: []types.ToolDefinition{{
			Name:        hangupToolName,
			Description: "End the current call once the conversation has reached a natural close.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Idempotent:  true,
		}},
	}
}

// collectFirstSentence reads chunks from ch and returns the first complete
// sentence. If the stream ends before a sentence boundary, the entire
// accumulated text is returned with full=true, meaning no strong-model stage
// is needed. When full is false, the remaining chunks are drained in the
// background so the provider's goroutine does not leak.
func collectFirstSentence(ctx context.Context, ch <-chan llm.Chunk) (sentence string, full bool) {
	var buf strings.Builder
	for {
		select {
		case <-ctx.Done():
			return buf.String(), true
		case chunk, ok := <-ch:
			if !ok {
				return buf.String(), true
			}
			buf.WriteString(chunk.Text)
			if chunk.FinishReason != "" {
				return buf.String(), true
			}
			if idx := firstSentenceBoundary(buf.String()); idx >= 0 {
				s := buf.String()[:idx+1]
				go drainChunks(ch)
				return s, false
			}
		}
	}
}

// forwardSentences reads chunks from ch, flushes complete sentences to
// textCh as they form, and returns the full text generated (including the
// final partial fragment, if any) for the call's conversation history.
func (h *handle) forwardSentences(ch <-chan llm.Chunk, textCh chan<- string) string {
	var buf, full strings.Builder
	for {
		select {
		case <-h.ctx.Done():
			return full.String()
		case chunk, ok := <-ch:
			if !ok {
				if buf.Len() > 0 {
					select {
					case textCh <- buf.String():
					case <-h.ctx.Done():
					}
				}
				return full.String()
			}
			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
				full.WriteString(chunk.Text)
			}
			for _, tc := range chunk.ToolCalls {
				if tc.Name == hangupToolName && h.hooks.OnHangupRequest != nil {
					h.hooks.OnHangupRequest()
				}
			}
			for {
				idx := firstSentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := buf.String()[idx+1:]
				buf.Reset()
				buf.WriteString(strings.TrimLeft(rest, " \t\n\r"))
				select {
				case textCh <- sentence:
				case <-h.ctx.Done():
					return full.String()
				}
			}
			if chunk.FinishReason != "" {
				if buf.Len() > 0 {
					select {
					case textCh <- buf.String():
					case <-h.ctx.Done():
					}
				}
				return full.String()
			}
		}
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// immediately followed by whitespace, or -1 if no such boundary exists.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// drainChunks discards remaining chunks so the provider's internal goroutine
// does not block once collectFirstSentence has already returned.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
