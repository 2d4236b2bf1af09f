package ticketgatesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckInSendsAPIKey(t *testing.T) {
	var seenKey, seenPath string
	var seenBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = r.Header.Get("X-Api-Key")
		seenPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&seenBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"t1","event_id":"e1","tier":"regular","code":"ABC","status":"used","price":{"total":{"amount":5645000,"currency":"UGX"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "tg_secret"
	tk, err := c.CheckIn(context.Background(), "ABC")
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if seenKey != "tg_secret" {
		t.Fatalf("expected api key header, got %q", seenKey)
	}
	if seenPath != "/v0/checkins" {
		t.Fatalf("unexpected path %s", seenPath)
	}
	if seenBody["code"] != "ABC" {
		t.Fatalf("unexpected body %v", seenBody)
	}
	if tk.Status != "used" || tk.Price.Total.Amount != 5645000 {
		t.Fatalf("unexpected ticket %+v", tk)
	}
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"already_checked_in","message":"ticket already checked in","details":{"ticket_id":"t1"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.CheckIn(context.Background(), "ABC")
	if !IsCode(err, CodeAlreadyCheckedIn) {
		t.Fatalf("expected already_checked_in, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.StatusCode != http.StatusConflict || apiErr.Details["ticket_id"] != "t1" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestLookupEscapesCode(t *testing.T) {
	var seenPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"id":"t1","status":"valid"}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BasePath = "api/v0/"
	if _, err := c.LookupTicket(context.Background(), "A/B"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if seenPath != "/api/v0/tickets/by-code/A%2FB" {
		t.Fatalf("unexpected path %s", seenPath)
	}
}

func TestConsumeQuotaRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"quota_exceeded","message":"quota exceeded","details":{"remaining":0,"limit":1}}}`))
	}))
	defer srv.Close()

	d, err := New(srv.URL).ConsumeQuota(context.Background(), "poll.vote", "poll-1", 1)
	if !IsCode(err, CodeQuotaExceeded) {
		t.Fatalf("expected quota_exceeded, got %v", err)
	}
	if d.Allowed || d.Limit != 1 || d.Remaining != 0 || d.Quota != "poll.vote" {
		t.Fatalf("unexpected decision %+v", d)
	}
}
