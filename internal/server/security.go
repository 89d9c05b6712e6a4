package server

import "net/http"

// setSecurityHeaders adds security-related headers to every response. The
// site itself is public; the headers protect the API surface and the pages
// alike.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}
