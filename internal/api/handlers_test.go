package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sentrycoin/internal/engine"
	"sentrycoin/internal/whale"
)

type fakeEngine struct {
	initialized bool
	running     bool
	lastPayload whale.WebhookPayload
}

func (f *fakeEngine) Initialized() bool     { return f.initialized }
func (f *fakeEngine) Running() bool         { return f.running }
func (f *fakeEngine) Symbol() string        { return "ETHUSDT" }
func (f *fakeEngine) Version() string       { return "1.0.0" }
func (f *fakeEngine) ComponentsOnline() int { return 2 }

func (f *fakeEngine) GetMetrics() engine.MetricsSnapshot {
	return engine.MetricsSnapshot{Symbol: "ETHUSDT", OrderBookTicks: 42}
}

func (f *fakeEngine) IngestWebhook(payload whale.WebhookPayload) (int, int) {
	f.lastPayload = payload
	return len(payload.MatchingTransactions), len(payload.MatchingReceipts)
}

func testHandlers(fe *fakeEngine) *Handlers {
	return NewHandlers(fe, "sekrit", slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.Level(100)})))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

const webhookBody = `{
	"matchingTransactions": [
		{"hash": "0xaaa", "from": "0xa11ce", "to": "0xb0b1", "value": "0x8ac7230489e80000"}
	],
	"matchingReceipts": [
		{"transactionHash": "0xbbb", "logs": [
			{"address": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
			 "topics": ["0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
			            "0x00000000000000000000000000000000000000000000000000000000000a11ce",
			            "0x000000000000000000000000000000000000000000000000000000000000b0b1"],
			 "data": "0x1d1a94a2000"}
		]}
	]
}`

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	h := testHandlers(&fakeEngine{initialized: true, running: true})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["service"] != "sentrycoin" {
		t.Errorf("body = %v", body)
	}
	if body["running"] != true {
		t.Error("running flag missing")
	}
}

func TestHandleStatusBeforeInitialize(t *testing.T) {
	t.Parallel()
	h := testHandlers(&fakeEngine{initialized: false})

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandlePerformance(rec, httptest.NewRequest(http.MethodGet, "/performance", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("performance status = %d, want 503", rec.Code)
	}
}

func TestHandleStatusServesSnapshot(t *testing.T) {
	t.Parallel()
	h := testHandlers(&fakeEngine{initialized: true})

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap engine.MetricsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Symbol != "ETHUSDT" || snap.OrderBookTicks != 42 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestWebhookRequiresBearerToken(t *testing.T) {
	t.Parallel()
	h := testHandlers(&fakeEngine{initialized: true})

	cases := []struct {
		name string
		auth string
	}{
		{"missing header", ""},
		{"wrong scheme", "Token sekrit"},
		{"wrong token", "Bearer wrong"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/whale-transactions", strings.NewReader(webhookBody))
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			h.HandleWhaleWebhook(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestWebhookProcessesPayload(t *testing.T) {
	t.Parallel()
	fe := &fakeEngine{initialized: true}
	h := testHandlers(fe)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whale-transactions", strings.NewReader(webhookBody))
	req.Header.Set("Authorization", "Bearer sekrit")
	rec := httptest.NewRecorder()
	h.HandleWhaleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var counts map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatal(err)
	}
	if counts["transactions"] != 1 || counts["receipts"] != 1 {
		t.Errorf("counts = %v, want 1/1", counts)
	}
	if len(fe.lastPayload.MatchingReceipts) != 1 || len(fe.lastPayload.MatchingReceipts[0].Logs) != 1 {
		t.Errorf("decoded payload = %+v", fe.lastPayload)
	}
}

func TestWebhookRejectsNonPostAndBadJSON(t *testing.T) {
	t.Parallel()
	h := testHandlers(&fakeEngine{initialized: true})

	rec := httptest.NewRecorder()
	h.HandleWhaleWebhook(rec, httptest.NewRequest(http.MethodGet, "/webhook/whale-transactions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook/whale-transactions", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	h.HandleWhaleWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", rec.Code)
	}
}
