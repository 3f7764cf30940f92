package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestMultiLimiterBurstExhaustion(t *testing.T) {
	ml := newMultiLimiter(rate.Limit(2), 2, time.Minute)
	if !ml.allow("a") {
		t.Fatal("first call should pass")
	}
	if !ml.allow("a") {
		t.Fatal("second call should pass")
	}
	if ml.allow("a") {
		t.Fatal("third immediate call should be limited")
	}
	// Separate keys get separate buckets.
	if !ml.allow("b") {
		t.Fatal("fresh key should pass")
	}
}

func TestMultiLimiterEvictsStaleBuckets(t *testing.T) {
	ml := newMultiLimiter(rate.Limit(1), 1, time.Millisecond)
	ml.allow("stale")
	time.Sleep(5 * time.Millisecond)
	ml.allow("fresh")
	ml.mu.Lock()
	_, ok := ml.buckets["stale"]
	ml.mu.Unlock()
	if ok {
		t.Fatal("stale bucket survived eviction")
	}
}

func TestClientKeyIgnoresForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/unlock", nil)
	r.RemoteAddr = "127.0.0.1:9999"
	r.Header.Set("X-Forwarded-For", "10.1.2.3")
	if key := clientKey(r); key != "127.0.0.1" {
		t.Fatalf("got %q, want the socket address", key)
	}
}

func TestSpoofedForwardedForDoesNotResetBudget(t *testing.T) {
	ml := newMultiLimiter(rate.Limit(1), 1, time.Minute)
	denied := 0
	for i := 0; i < 50; i++ {
		r := httptest.NewRequest(http.MethodPost, "/api/unlock", nil)
		r.RemoteAddr = "127.0.0.1:53001"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		if !ml.allow(clientKey(r)) {
			denied++
		}
	}
	if denied == 0 {
		t.Fatal("rotating headers defeated the per-client throttle")
	}
}
