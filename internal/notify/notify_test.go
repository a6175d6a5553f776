package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "formwatch/pkg/logx"
)

func TestSendSuccess(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{Timeout: 2 * time.Second, RatePerSec: 10}, logx.Nop())
	res := c.Send(context.Background(), srv.URL, "🚨 alert text")
	if !res.OK || res.StatusCode != http.StatusOK || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}

	if gotContentType != "application/json; charset=utf-8" {
		t.Fatalf("content type = %q", gotContentType)
	}
	var payload map[string]string
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("body not json: %v", err)
	}
	if payload["text"] != "🚨 alert text" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestSendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "channel_not_found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{Timeout: 2 * time.Second, RatePerSec: 10}, logx.Nop())
	res := c.Send(context.Background(), srv.URL, "text")
	if res.OK {
		t.Fatal("non-2xx must not be OK")
	}
	if res.StatusCode != http.StatusNotFound || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendTransportError(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{Timeout: time.Second, RatePerSec: 10}, logx.Nop())
	res := c.Send(context.Background(), url, "text")
	if res.OK || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.StatusCode != 0 {
		t.Fatalf("transport failure must not carry a status, got %d", res.StatusCode)
	}
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		srv.Close()
	}()

	c := New(Config{Timeout: 100 * time.Millisecond, RatePerSec: 10}, logx.Nop())
	start := time.Now()
	res := c.Send(context.Background(), srv.URL, "text")
	if res.OK || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("timeout did not bound the call: %v", took)
	}
}

func TestSendCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Config{RatePerSec: 1}, logx.Nop())
	res := c.Send(ctx, "https://hooks.slack.com/services/T/B/x", "text")
	if res.OK || res.Err == nil {
		t.Fatalf("cancelled context must fail, got %+v", res)
	}
}
