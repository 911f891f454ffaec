package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visgate-ai/visgate-deploy-api/internal/secret"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDeliverSucceedsOnFirstAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(testLogger())
	err := d.Deliver(context.Background(), srv.URL, Payload{DeploymentID: "dep_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestDeliverTerminalStatusDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := New(testLogger())
	err := d.Deliver(context.Background(), srv.URL, Payload{DeploymentID: "dep_1"})
	if err == nil {
		t.Fatal("expected an error for a terminal 400 response")
	}
	var terr *terminalError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *terminalError, got %T: %v", err, err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected no retry on terminal status, got %d calls", calls)
	}
}

func TestDeliverRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(testLogger())
	start := time.Now()
	err := d.Deliver(context.Background(), srv.URL, Payload{DeploymentID: "dep_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected exactly 2 calls, got %d", calls)
	}
	if time.Since(start) < 900*time.Millisecond {
		t.Error("expected the retry to wait roughly the 1s initial backoff")
	}
}

func TestDeliverNeverLeaksSecretInErrorLog(t *testing.T) {
	rawKey := "sk-super-secret-provider-key"
	err := errors.New("auth failed with key " + rawKey)

	masked := maskErr(err, []string{rawKey})
	if secret.Contains(masked, rawKey) {
		t.Errorf("masked error still contains the raw secret: %q", masked)
	}
	if !strings.Contains(masked, "redacted") {
		t.Errorf("expected masked error to show a redaction marker, got %q", masked)
	}
}

func TestDeliverContextCancellationStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(testLogger())
	err := d.Deliver(ctx, srv.URL, Payload{DeploymentID: "dep_1"})
	if err == nil {
		t.Fatal("expected an error when context is already cancelled")
	}
}
