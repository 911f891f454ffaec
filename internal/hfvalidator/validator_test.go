package hfvalidator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/visgate-ai/visgate-deploy-api/internal/apperr"
)

func TestValidateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           "org/model",
			"pipeline_tag": "text-to-image",
			"gated":        false,
			"private":      false,
			"safetensors":  map[string]any{"parameters": map[string]int64{"BF16": 500_000_000}},
		})
	}))
	defer srv.Close()

	v := New(srv.URL)
	meta, err := v.Validate(context.Background(), "org/model", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.ModelID != "org/model" || meta.DtypeCounts["BF16"] != 500_000_000 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestValidateNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	v := New(srv.URL)
	_, err := v.Validate(context.Background(), "org/missing", "")
	if apperr.KindOf(err) != apperr.KindModelNotFound {
		t.Fatalf("expected KindModelNotFound, got %v (%v)", apperr.KindOf(err), err)
	}
}

func TestValidateGatedWithoutTokenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	v := New(srv.URL)
	_, err := v.Validate(context.Background(), "org/gated", "")
	if apperr.KindOf(err) != apperr.KindModelGated {
		t.Fatalf("expected KindModelGated, got %v (%v)", apperr.KindOf(err), err)
	}
}

func TestValidateGatedFlagWithoutTokenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "org/model", "gated": true,
			"safetensors": map[string]any{"parameters": map[string]int64{"BF16": 1}},
		})
	}))
	defer srv.Close()

	v := New(srv.URL)
	_, err := v.Validate(context.Background(), "org/model", "")
	if apperr.KindOf(err) != apperr.KindModelGated {
		t.Fatalf("expected KindModelGated, got %v (%v)", apperr.KindOf(err), err)
	}
}

func TestValidateSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "org/model", "gated": false,
			"safetensors": map[string]any{"parameters": map[string]int64{"BF16": 1}},
		})
	}))
	defer srv.Close()

	v := New(srv.URL)
	if _, err := v.Validate(context.Background(), "org/model", "hf_abc123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer hf_abc123" {
		t.Errorf("expected Bearer hf_abc123, got %q", gotAuth)
	}
}

func TestValidateUnreachableServer(t *testing.T) {
	v := New("http://127.0.0.1:1") // nothing listens here
	_, err := v.Validate(context.Background(), "org/model", "")
	if apperr.KindOf(err) != apperr.KindRegistryUnreachable {
		t.Fatalf("expected KindRegistryUnreachable, got %v (%v)", apperr.KindOf(err), err)
	}
}
