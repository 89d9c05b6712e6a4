package ingest

import (
	"net"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

// geoCacheMax bounds the lookup cache; entries are discarded wholesale when
// the cap is reached, which is cheap and good enough for annotation.
const geoCacheMax = 4096

// GeoLookup annotates visits with a country code from a MaxMind database.
// It is optional; a nil *GeoLookup is safe to use.
type GeoLookup struct {
	db *maxminddb.Reader

	mu    sync.Mutex
	cache map[string]string
}

// NewGeo opens the MaxMind database at path. An empty path yields a nil
// lookup, disabling geo annotation.
func NewGeo(path string) (*GeoLookup, error) {
	if path == "" {
		return nil, nil
	}
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoLookup{db: db, cache: make(map[string]string)}, nil
}

// Country returns the ISO country code for the IP, or "" when unknown.
func (g *GeoLookup) Country(ip string) string {
	if g == nil || g.db == nil || ip == "" {
		return ""
	}

	g.mu.Lock()
	if c, ok := g.cache[ip]; ok {
		g.mu.Unlock()
		return c
	}
	g.mu.Unlock()

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	var record struct {
		Country struct {
			ISO string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := g.db.Lookup(parsed, &record); err != nil {
		return ""
	}

	g.mu.Lock()
	if len(g.cache) >= geoCacheMax {
		g.cache = make(map[string]string)
	}
	g.cache[ip] = record.Country.ISO
	g.mu.Unlock()
	return record.Country.ISO
}

// Close releases the MaxMind database.
func (g *GeoLookup) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}
