package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Signature headers attached to every outbound webhook request.
const (
	HeaderSignature = "X-Signal-Signature"
	HeaderTimestamp = "X-Signal-Timestamp"
	HeaderEvent     = "X-Signal-Event"
)

const EventSignal = "signal.created"

// Result is the terminal outcome of a webhook delivery: either a 2xx within
// the retry budget or the last error after exhausting it.
type Result struct {
	Success    bool   `json:"success"`
	Attempts   int    `json:"attempts"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Dispatcher posts signed event payloads to subscriber-configured URLs with
// bounded retry. One initial attempt plus len(Backoff) retries; each attempt
// is cut off by AttemptTimeout and a timeout is reported distinctly from an
// HTTP error status.
type Dispatcher struct {
	client         *http.Client
	backoff        []time.Duration
	attemptTimeout time.Duration
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client:         &http.Client{},
		backoff:        []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
		attemptTimeout: 10 * time.Second,
	}
}

// NewDispatcherWithPolicy exists for callers that need a different retry
// shape, e.g. the single-probe test endpoint and the test suite.
func NewDispatcherWithPolicy(backoff []time.Duration, attemptTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		client:         &http.Client{},
		backoff:        backoff,
		attemptTimeout: attemptTimeout,
	}
}

// envelope is the webhook body: {event, data, timestamp, subscriber_id}.
type envelope struct {
	Event        string      `json:"event"`
	Data         interface{} `json:"data"`
	Timestamp    int64       `json:"timestamp"`
	SubscriberID uint        `json:"subscriber_id"`
}

// Sign computes the hex HMAC-SHA256 of "<timestamp>.<body>" under the
// subscriber secret. Receivers recompute it to verify both authenticity and
// freshness.
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Deliver posts the event to url, retrying on any non-2xx outcome until the
// budget runs out. The terminal outcome is always logged; logging is
// best-effort and never interferes with the result.
func (d *Dispatcher) Deliver(ctx context.Context, url, secret string, subscriberID uint, event string, data interface{}) Result {
	timestamp := time.Now().Unix()
	body, err := json.Marshal(envelope{
		Event:        event,
		Data:         data,
		Timestamp:    timestamp,
		SubscriberID: subscriberID,
	})
	if err != nil {
		return Result{Success: false, Attempts: 0, Error: fmt.Sprintf("encoding payload: %v", err)}
	}

	var signature string
	if secret != "" {
		signature = Sign(secret, timestamp, body)
	}

	result := Result{}
	maxAttempts := len(d.backoff) + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		status, err := d.attempt(ctx, url, event, timestamp, signature, body)
		if err == nil && status >= 200 && status < 300 {
			result.Success = true
			result.StatusCode = status
			result.Error = ""
			break
		}
		if err != nil {
			result.Error = err.Error()
			result.StatusCode = 0
		} else {
			result.StatusCode = status
			result.Error = fmt.Sprintf("unexpected status %d", status)
		}
		if attempt < maxAttempts {
			select {
			case <-time.After(d.backoff[attempt-1]):
			case <-ctx.Done():
				result.Error = "timeout"
				attempt = maxAttempts
			}
		}
	}

	d.logOutcome(subscriberID, event, result)
	return result
}

// Test fires a single signed probe with no retry and no persistence, for the
// dashboard "test webhook" button.
func (d *Dispatcher) Test(ctx context.Context, url, secret string, subscriberID uint) Result {
	probe := &Dispatcher{client: d.client, backoff: nil, attemptTimeout: d.attemptTimeout}
	return probe.Deliver(ctx, url, secret, subscriberID, "webhook.test", map[string]string{
		"message": "Webhook connectivity test",
	})
}

func (d *Dispatcher) attempt(ctx context.Context, url, event string, timestamp int64, signature string, body []byte) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", timestamp))
	req.Header.Set(HeaderEvent, event)
	if signature != "" {
		req.Header.Set(HeaderSignature, signature)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return 0, errors.New("timeout")
		}
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Dispatcher) logOutcome(subscriberID uint, event string, result Result) {
	defer func() {
		// Logging must never take the delivery down with it.
		_ = recover()
	}()
	if result.Success {
		log.Printf("webhook delivered: subscriber=%d event=%s attempts=%d status=%d",
			subscriberID, event, result.Attempts, result.StatusCode)
		return
	}
	log.Printf("webhook failed: subscriber=%d event=%s attempts=%d error=%s",
		subscriberID, event, result.Attempts, result.Error)
}
