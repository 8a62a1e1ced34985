package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostJSONDecodesReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k1" {
			t.Errorf("header not forwarded")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"transaction_id": "t-1"})
	}))
	defer srv.Close()

	client := NewClient("test", 5*time.Second)
	reply, err := client.PostJSON(context.Background(), srv.URL, map[string]string{"X-Api-Key": "k1"}, map[string]any{"amount": 100})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if reply.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", reply.StatusCode)
	}
	if reply.Body["transaction_id"] != "t-1" {
		t.Fatalf("unexpected body: %+v", reply.Body)
	}
}

func TestPostJSONReturnsGatewayErrorsAsReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"error": "amount too small"})
	}))
	defer srv.Close()

	client := NewClient("test", 5*time.Second)
	reply, err := client.PostJSON(context.Background(), srv.URL, nil, map[string]any{})
	if err != nil {
		t.Fatalf("non-2xx replies are classification input, not errors: %v", err)
	}
	if reply.StatusCode != http.StatusUnprocessableEntity || reply.Body["error"] != "amount too small" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestPostJSONBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// undecodable body counts as a transport failure
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient("test", 5*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := client.PostJSON(ctx, srv.URL, nil, map[string]any{}); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}

	_, err := client.PostJSON(ctx, srv.URL, nil, map[string]any{})
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
