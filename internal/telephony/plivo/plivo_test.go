package plivo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ringbridge/telephony/internal/telephony"
	"github.com/ringbridge/telephony/internal/telephony/plivo"
)

func TestGetAnswerXML_BidirectionalStream(t *testing.T) {
	a := plivo.New(plivo.Config{WebhookBaseURL: "https://example.com"})
	xml, err := a.GetAnswerXML("call-1", "wss://example.com/telephony/plivo/media")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(xml), `bidirectional="true"`) {
		t.Fatalf("expected bidirectional stream, got %s", xml)
	}
	if !strings.Contains(string(xml), "wss://example.com/telephony/plivo/media") {
		t.Fatalf("expected stream URL embedded, got %s", xml)
	}
}

func TestHandleWebhook_AnswerAndStatusAndUnknown(t *testing.T) {
	a := plivo.New(plivo.Config{WebhookBaseURL: "https://example.com"})

	resp, err := a.HandleWebhook(telephony.WebhookRequest{Path: "/telephony/plivo/answer", Method: http.MethodPost})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ContentType != "text/xml" {
		t.Fatalf("expected text/xml, got %s", resp.ContentType)
	}

	resp, err = a.HandleWebhook(telephony.WebhookRequest{Path: "/telephony/plivo/status", Method: http.MethodPost})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ContentType != "application/json" || !strings.Contains(string(resp.Body), "success") {
		t.Fatalf("unexpected status response: %+v", resp)
	}

	resp, err = a.HandleWebhook(telephony.WebhookRequest{Path: "/telephony/plivo/nonsense", Method: http.MethodPost})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(resp.Body), "Unknown webhook path") {
		t.Fatalf("expected unknown path response, got %s", resp.Body)
	}
}

func TestMakeCall_SuccessReturnsRequestUUID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "AUTHID" || pass != "TOKEN" {
			t.Errorf("expected basic auth credentials, got ok=%v user=%q", ok, user)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"request_uuid": "req-123"})
	}))
	defer srv.Close()

	a := plivo.New(plivo.Config{
		AuthID:         "AUTHID",
		AuthToken:      "TOKEN",
		WebhookBaseURL: "https://example.com",
		APIBaseURL:     srv.URL,
	})

	res, err := a.MakeCall(context.Background(), "+15551234567", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProviderRequestID != "req-123" {
		t.Fatalf("expected req-123, got %q", res.ProviderRequestID)
	}
}

func TestMakeCall_4xxDoesNotRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	a := plivo.New(plivo.Config{
		AuthID:         "AUTHID",
		AuthToken:      "TOKEN",
		WebhookBaseURL: "https://example.com",
		APIBaseURL:     srv.URL,
	})

	_, err := a.MakeCall(context.Background(), "+15551234567", "+15557654321")
	if err == nil {
		t.Fatal("expected error on 4xx response")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt on 4xx, got %d", attempts)
	}
}

func TestEndCall_UnknownCallIsNoop(t *testing.T) {
	a := plivo.New(plivo.Config{WebhookBaseURL: "https://example.com"})
	if err := a.EndCall(context.Background(), "nonexistent"); err != nil {
		t.Fatalf("expected nil error for unknown call, got %v", err)
	}
}

func TestGetSession_UnknownCallNotFound(t *testing.T) {
	a := plivo.New(plivo.Config{WebhookBaseURL: "https://example.com"})
	if _, ok := a.GetSession("nonexistent"); ok {
		t.Fatal("expected not found for unknown call")
	}
}

func TestGetAllSessions_EmptyInitially(t *testing.T) {
	a := plivo.New(plivo.Config{WebhookBaseURL: "https://example.com"})
	if got := a.GetAllSessions(); len(got) != 0 {
		t.Fatalf("expected empty sessions, got %d", len(got))
	}
}
