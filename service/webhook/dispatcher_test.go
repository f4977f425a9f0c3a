package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func fastDispatcher() *Dispatcher {
	return NewDispatcherWithPolicy(
		[]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		2*time.Second,
	)
}

func TestDeliverSucceedsFirstAttempt(t *testing.T) {
	var gotBody []byte
	var gotEvent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotEvent = r.Header.Get(HeaderEvent)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := fastDispatcher().Deliver(context.Background(), server.URL, "", 7, EventSignal, map[string]string{"symbol": "EURUSD"})
	if !result.Success || result.Attempts != 1 {
		t.Fatalf("expected success on attempt 1, got %+v", result)
	}
	if gotEvent != EventSignal {
		t.Fatalf("expected event header %q, got %q", EventSignal, gotEvent)
	}

	var body envelope
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("webhook body is not valid JSON: %v", err)
	}
	if body.Event != EventSignal || body.SubscriberID != 7 || body.Timestamp == 0 {
		t.Fatalf("unexpected envelope %+v", body)
	}
}

func TestSignatureIsReproducible(t *testing.T) {
	secret := "whsec_test"
	var gotSignature string
	var gotTimestamp string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		gotTimestamp = r.Header.Get(HeaderTimestamp)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := fastDispatcher().Deliver(context.Background(), server.URL, secret, 3, EventSignal, map[string]string{"symbol": "GBPUSD"})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if gotSignature == "" {
		t.Fatal("expected a signature header when a secret is configured")
	}

	ts, err := strconv.ParseInt(gotTimestamp, 10, 64)
	if err != nil {
		t.Fatalf("timestamp header not numeric: %v", err)
	}
	if recomputed := Sign(secret, ts, gotBody); recomputed != gotSignature {
		t.Fatalf("recomputed signature %s does not match transmitted %s", recomputed, gotSignature)
	}
}

func TestNoSignatureWithoutSecret(t *testing.T) {
	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fastDispatcher().Deliver(context.Background(), server.URL, "", 3, EventSignal, nil)
	if gotSignature != "" {
		t.Fatalf("expected no signature header without a secret, got %q", gotSignature)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 4 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := fastDispatcher().Deliver(context.Background(), server.URL, "", 1, EventSignal, nil)
	if !result.Success {
		t.Fatalf("expected success on the 4th attempt, got %+v", result)
	}
	if result.Attempts != 4 {
		t.Fatalf("expected attempts=4, got %d", result.Attempts)
	}
}

func TestExhaustsRetryBudget(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result := fastDispatcher().Deliver(context.Background(), server.URL, "", 1, EventSignal, nil)
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Attempts != 4 || calls != 4 {
		t.Fatalf("expected 1 initial + 3 retries, got attempts=%d calls=%d", result.Attempts, calls)
	}
	if result.Error == "" {
		t.Fatal("expected the last error to be recorded")
	}
}

func TestAttemptTimeoutReportedAsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcherWithPolicy([]time.Duration{time.Millisecond}, 20*time.Millisecond)
	result := d.Deliver(context.Background(), server.URL, "", 1, EventSignal, nil)
	if result.Success {
		t.Fatalf("expected timeout failure, got %+v", result)
	}
	if result.Error != "timeout" {
		t.Fatalf("expected error %q, got %q", "timeout", result.Error)
	}
}

func TestTestProbeIsSingleShot(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result := fastDispatcher().Test(context.Background(), server.URL, "whsec_test", 9)
	if result.Success {
		t.Fatalf("expected probe failure, got %+v", result)
	}
	if calls != 1 || result.Attempts != 1 {
		t.Fatalf("test probe must not retry, got calls=%d attempts=%d", calls, result.Attempts)
	}
}
