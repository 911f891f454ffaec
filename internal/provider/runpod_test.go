package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateEndpointSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected Authorization header with the adapter's key, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ep_123", "url": "https://ep-123.runpod.net"})
	}))
	defer srv.Close()

	r := NewRunpodAdapter(srv.URL, "test-key", "tmpl_1")
	out, err := r.CreateEndpoint(context.Background(), CreateEndpointInput{Name: "dep-1", GPUTierID: "NVIDIA A10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.EndpointID != "ep_123" || out.EndpointURL != "https://ep-123.runpod.net" {
		t.Errorf("unexpected output: %+v", out)
	}
}

func TestCreateEndpointCapacityErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "NO_CAPACITY", "message": "no A10 workers available"},
		})
	}))
	defer srv.Close()

	r := NewRunpodAdapter(srv.URL, "test-key", "tmpl_1")
	_, err := r.CreateEndpoint(context.Background(), CreateEndpointInput{Name: "dep-1", GPUTierID: "NVIDIA A10"})
	if !IsCapacityError(err) {
		t.Fatalf("expected a capacity error, got %v", err)
	}
	var ce *CapacityError
	if ce, _ = err.(*CapacityError); ce.TierID != "NVIDIA A10" {
		t.Errorf("expected CapacityError.TierID to be NVIDIA A10, got %s", ce.TierID)
	}
}

func TestCreateEndpointGenericErrorNotCapacity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "INTERNAL", "message": "something broke"},
		})
	}))
	defer srv.Close()

	r := NewRunpodAdapter(srv.URL, "test-key", "tmpl_1")
	_, err := r.CreateEndpoint(context.Background(), CreateEndpointInput{Name: "dep-1", GPUTierID: "NVIDIA A10"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if IsCapacityError(err) {
		t.Error("expected a generic error, not a capacity error")
	}
}

func TestGetEndpointStatusDecodesWorkersReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"created": true, "workersReady": 2, "lastError": ""})
	}))
	defer srv.Close()

	r := NewRunpodAdapter(srv.URL, "test-key", "tmpl_1")
	status, err := r.GetEndpointStatus(context.Background(), "ep_123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.WorkersReady != 2 || !status.Created {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestDeleteEndpointPropagatesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "no such endpoint"}})
	}))
	defer srv.Close()

	r := NewRunpodAdapter(srv.URL, "test-key", "tmpl_1")
	if err := r.DeleteEndpoint(context.Background(), "ep_missing"); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}
