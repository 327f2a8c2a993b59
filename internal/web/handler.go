// Package web serves the static assets the API hosts for the browser app.
package web

import (
	_ "embed"
	"net/http"
)

//go:embed assets/sw.js
var serviceWorker []byte

//go:embed assets/offline.html
var offlinePage []byte

// ServiceWorker serves /sw.js. The script must never be cached by the browser
// HTTP cache or updates would not reach installed clients.
func ServiceWorker(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Service-Worker-Allowed", "/")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(serviceWorker)
}

// OfflinePage serves the fallback page precached by the service worker.
func OfflinePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(offlinePage)
}
