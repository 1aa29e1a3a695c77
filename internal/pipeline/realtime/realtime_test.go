package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ringbridge/telephony/internal/pipeline"
	s2smock "github.com/ringbridge/telephony/pkg/provider/s2s/mock"
	"github.com/ringbridge/telephony/pkg/types"
)

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

type flag struct {
	mu sync.Mutex
	v  bool
}

func (f *flag) set()      { f.mu.Lock(); f.v = true; f.mu.Unlock() }
func (f *flag) get() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.v }

func TestStart_ConnectsSessionWithVoiceAndInstructions(t *testing.T) {
	sess := &s2smock.Session{AudioCh: make(chan []byte, 4), TranscriptsCh: make(chan types.TranscriptEntry, 4)}
	provider := &s2smock.Provider{Session: sess}
	f := &Factory{Provider: provider}

	cfg := pipeline.Config{SystemPrompt: "be terse"}
	h, err := f.Start(context.Background(), "call-1", cfg, pipeline.Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	if len(provider.ConnectCalls) != 1 {
		t.Fatalf("Connect called %d times, want 1", len(provider.ConnectCalls))
	}
	got := provider.ConnectCalls[0].Cfg
	if got.Instructions != "be terse" {
		t.Fatalf("Instructions = %q, want %q", got.Instructions, "be terse")
	}
}

func TestSendAudio_ForwardsToSession(t *testing.T) {
	sess := &s2smock.Session{AudioCh: make(chan []byte, 4), TranscriptsCh: make(chan types.TranscriptEntry, 4)}
	f := &Factory{Provider: &s2smock.Provider{Session: sess}}

	h, err := f.Start(context.Background(), "call-1", pipeline.Config{}, pipeline.Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	if err := h.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if len(sess.SendAudioCalls) != 1 {
		t.Fatalf("SendAudio called %d times, want 1", len(sess.SendAudioCalls))
	}
}

func TestRelayAudio_ForwardsChunksToHook(t *testing.T) {
	sess := &s2smock.Session{AudioCh: make(chan []byte, 4), TranscriptsCh: make(chan types.TranscriptEntry, 4)}
	f := &Factory{Provider: &s2smock.Provider{Session: sess}}

	var mu sync.Mutex
	var chunks [][]byte
	h, err := f.Start(context.Background(), "call-1", pipeline.Config{}, pipeline.Hooks{
		OnTTSChunk: func(pcm []byte, sampleRate int) {
			mu.Lock()
			chunks = append(chunks, pcm)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	sess.AudioCh <- []byte("synth-audio")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 1
	})
}

func TestRelayTranscripts_AgentEntryDoesNotInterrupt(t *testing.T) {
	sess := &s2smock.Session{AudioCh: make(chan []byte, 4), TranscriptsCh: make(chan types.TranscriptEntry, 4)}
	f := &Factory{Provider: &s2smock.Provider{Session: sess}}

	var received flag
	var bargeIn flag
	h, err := f.Start(context.Background(), "call-1", pipeline.Config{}, pipeline.Hooks{
		OnTranscript: func(e types.TranscriptEntry) { received.set() },
		OnBargeIn:    func() { bargeIn.set() },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	sess.TranscriptsCh <- types.TranscriptEntry{Text: "hello", IsAgent: true}

	waitFor(t, received.get)
	time.Sleep(10 * time.Millisecond)
	if bargeIn.get() {
		t.Fatal("agent transcript triggered a barge-in")
	}
	if sess.InterruptCallCount != 0 {
		t.Fatalf("Interrupt called %d times, want 0", sess.InterruptCallCount)
	}
}

func TestRelayTranscripts_CallerEntryInterruptsAndSignalsBargeIn(t *testing.T) {
	sess := &s2smock.Session{AudioCh: make(chan []byte, 4), TranscriptsCh: make(chan types.TranscriptEntry, 4)}
	f := &Factory{Provider: &s2smock.Provider{Session: sess}}

	var bargeIn flag
	h, err := f.Start(context.Background(), "call-1", pipeline.Config{}, pipeline.Hooks{
		OnBargeIn: func() { bargeIn.set() },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	sess.TranscriptsCh <- types.TranscriptEntry{Text: "wait, stop", IsAgent: false}

	waitFor(t, bargeIn.get)
	waitFor(t, func() bool { return sess.InterruptCallCount == 1 })
}

func TestStop_ClosesSessionAndPropagatesError(t *testing.T) {
	closeErr := errors.New("close failed")
	sess := &s2smock.Session{
		AudioCh:       make(chan []byte, 4),
		TranscriptsCh: make(chan types.TranscriptEntry, 4),
		CloseErr:      closeErr,
	}
	f := &Factory{Provider: &s2smock.Provider{Session: sess}}

	h, err := f.Start(context.Background(), "call-1", pipeline.Config{}, pipeline.Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.Stop(); !errors.Is(err, closeErr) {
		t.Fatalf("Stop err = %v, want %v", err, closeErr)
	}
	if sess.CloseCallCount != 1 {
		t.Fatalf("Close called %d times, want 1", sess.CloseCallCount)
	}
}

func TestStart_ConnectFailurePropagatesError(t *testing.T) {
	connectErr := errors.New("connect refused")
	f := &Factory{Provider: &s2smock.Provider{ConnectErr: connectErr}}

	_, err := f.Start(context.Background(), "call-1", pipeline.Config{}, pipeline.Hooks{})
	if !errors.Is(err, connectErr) {
		t.Fatalf("err = %v, want wrapped %v", err, connectErr)
	}
}
