package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServiceWorker(t *testing.T) {
	rec := httptest.NewRecorder()
	ServiceWorker(rec, httptest.NewRequest(http.MethodGet, "/sw.js", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	headers := map[string]string{
		"Service-Worker-Allowed": "/",
		"Cache-Control":          "no-cache",
		"Content-Type":           "application/javascript; charset=utf-8",
	}
	for name, want := range headers {
		if got := rec.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	body := rec.Body.String()
	for _, want := range []string{"background-sync-bookings", "/static/", "/icons/", "/images/", "Idempotency-Key", "/offline.html"} {
		if !strings.Contains(body, want) {
			t.Errorf("service worker missing %q", want)
		}
	}
}

func TestOfflinePage(t *testing.T) {
	rec := httptest.NewRecorder()
	OfflinePage(rec, httptest.NewRequest(http.MethodGet, "/offline.html", nil))

	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "hors ligne") {
		t.Fatal("offline page body not served")
	}
}
