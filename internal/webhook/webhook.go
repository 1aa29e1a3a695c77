// Package webhook is the Webhook/Answer Surface: a minimal HTTP router
// mounting each configured adapter's answer/status webhook paths and its
// media-stream WebSocket endpoint, under a path prefix per provider.
package webhook

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/ringbridge/telephony/internal/telephony"
)

// Router dispatches inbound HTTP requests to the adapter named by the
// "provider" path segment: /telephony/{provider}/answer,
// /telephony/{provider}/status, /telephony/{provider}/stream.
type Router struct {
	adapters map[string]telephony.Adapter
}

// New builds a Router over the given provider-name -> adapter map.
func New(adapters map[string]telephony.Adapter) *Router {
	m := make(map[string]telephony.Adapter, len(adapters))
	for k, v := range adapters {
		m[k] = v
	}
	return &Router{adapters: m}
}

// Register mounts this router's routes on mux.
func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/telephony/{provider}/answer", rt.handleWebhook)
	mux.HandleFunc("/telephony/{provider}/status", rt.handleWebhook)
	mux.HandleFunc("/telephony/{provider}/stream", rt.handleStream)
}

func (rt *Router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	adapter, ok := rt.adapters[r.PathValue("provider")]
	if !ok {
		writeUnknown(w)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("webhook: read body failed", "error", err)
		writeUnknown(w)
		return
	}

	resp, err := adapter.HandleWebhook(telephony.WebhookRequest{
		Path:   r.URL.Path,
		Method: r.Method,
		Body:   body,
		Query:  r.URL.Query(),
	})
	if err != nil {
		slog.Error("webhook: adapter handler failed", "provider", adapter.Name(), "error", err)
		writeUnknown(w)
		return
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	_, _ = w.Write(resp.Body)
}

func (rt *Router) handleStream(w http.ResponseWriter, r *http.Request) {
	adapter, ok := rt.adapters[r.PathValue("provider")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	server, ok := adapter.(telephony.MediaServer)
	if !ok {
		http.Error(w, "provider does not accept media streams", http.StatusNotImplemented)
		return
	}
	server.ServeMediaStream(w, r)
}

func writeUnknown(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write([]byte(`{"error":"Unknown webhook path"}`))
}
