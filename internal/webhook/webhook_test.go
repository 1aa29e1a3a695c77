package webhook_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ringbridge/telephony/internal/telephony"
	"github.com/ringbridge/telephony/internal/telephony/mock"
	"github.com/ringbridge/telephony/internal/webhook"
)

func newMux(adapters map[string]telephony.Adapter) *http.ServeMux {
	mux := http.NewServeMux()
	webhook.New(adapters).Register(mux)
	return mux
}

func TestHandleWebhook_DispatchesToNamedAdapter(t *testing.T) {
	a := &mock.Adapter{NameValue: "plivo"}
	mux := newMux(map[string]telephony.Adapter{"plivo": a})

	req := httptest.NewRequest(http.MethodPost, "/telephony/plivo/answer", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "success") {
		t.Fatalf("expected mock success envelope, got %s", rec.Body.String())
	}
}

func TestHandleWebhook_UnknownProviderReturnsUnknownEnvelope(t *testing.T) {
	mux := newMux(map[string]telephony.Adapter{})

	req := httptest.NewRequest(http.MethodPost, "/telephony/nope/answer", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "Unknown webhook path") {
		t.Fatalf("expected unknown path envelope, got %s", rec.Body.String())
	}
}

func TestHandleStream_NonMediaServerReturns501(t *testing.T) {
	a := &mock.Adapter{NameValue: "plivo"}
	mux := newMux(map[string]telephony.Adapter{"plivo": a})

	req := httptest.NewRequest(http.MethodGet, "/telephony/plivo/stream", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestHandleStream_UnknownProviderReturns404(t *testing.T) {
	mux := newMux(map[string]telephony.Adapter{})

	req := httptest.NewRequest(http.MethodGet, "/telephony/nope/stream", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// mediaServerAdapter is a minimal MediaServer-capable adapter stub used only
// to exercise the dispatch-to-ServeMediaStream path.
type mediaServerAdapter struct {
	mock.Adapter
	served bool
}

func (m *mediaServerAdapter) ServeMediaStream(w http.ResponseWriter, r *http.Request) {
	m.served = true
	w.WriteHeader(http.StatusOK)
}

func TestHandleStream_MediaServerDispatched(t *testing.T) {
	a := &mediaServerAdapter{Adapter: mock.Adapter{NameValue: "tata"}}
	var _ telephony.MediaServer = a
	mux := newMux(map[string]telephony.Adapter{"tata": a})

	req := httptest.NewRequest(http.MethodGet, "/telephony/tata/stream", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if !a.served {
		t.Fatal("expected ServeMediaStream to be invoked")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
