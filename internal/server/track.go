package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/maxmed/visitstat/internal/fingerprint"
	"github.com/maxmed/visitstat/internal/ingest"
	"github.com/maxmed/visitstat/internal/useragent"
)

const (
	visitorCookieName = "visitor_id"
	visitorCookieAge  = 30 * 24 * time.Hour
)

// trackVisits wraps the static site handler and records qualifying page
// requests. Recording is fire-and-forget: it can never fail or delay the
// page itself.
func (s *Server) trackVisits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if qualifiesForTracking(r) {
			visitorID, isNew := s.visitorID(r)
			if isNew {
				http.SetCookie(w, &http.Cookie{
					Name:     visitorCookieName,
					Value:    visitorID,
					Path:     "/",
					MaxAge:   int(visitorCookieAge.Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			now := s.now()
			ip := extractIP(r)
			fp := s.resolver.Resolve(fingerprint.RequestAttrs{
				IP:        ip,
				UserAgent: r.UserAgent(),
				VisitorID: visitorID,
			}, now)
			s.recorder.Record(fp, now, r.URL.Path, ip)
		}

		next.ServeHTTP(w, r)
	})
}

// qualifiesForTracking applies the counting rules: page loads only, no
// assets, no bots.
func qualifiesForTracking(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if !ingest.IsPagePath(r.URL.Path) {
		return false
	}
	return !useragent.Classify(r.UserAgent()).IsBot
}

// visitorID returns the first-party visitor cookie value, minting a new
// one when the client has none. The returned bool reports whether the ID
// is newly minted and needs to be set on the response.
func (s *Server) visitorID(r *http.Request) (string, bool) {
	if c, err := r.Cookie(visitorCookieName); err == nil && c.Value != "" {
		return c.Value, false
	}
	return uuid.NewString(), true
}
